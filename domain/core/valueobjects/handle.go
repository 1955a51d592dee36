package valueobjects

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const handlePrefix = "local-"

// Handle identifies a pending optimistic mutation. It doubles as the provisional id of an
// optimistic insert, so it never collides with server-assigned ids.
type Handle struct {
	value string
}

// NewHandle creates a new random Handle
func NewHandle() Handle {
	return Handle{value: handlePrefix + uuid.New().String()}
}

// ParseHandle parses a handle previously rendered with String.
func ParseHandle(s string) (Handle, error) {
	if !strings.HasPrefix(s, handlePrefix) {
		return Handle{}, errors.New("handle must start with " + handlePrefix)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(s, handlePrefix)); err != nil {
		return Handle{}, errors.New("handle must carry a valid UUID")
	}
	return Handle{value: s}, nil
}

// IsProvisionalID reports whether an id was minted locally.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, handlePrefix)
}

func (h Handle) String() string {
	return h.value
}

// IsZero checks if the Handle is the zero value
func (h Handle) IsZero() bool {
	return h.value == ""
}
