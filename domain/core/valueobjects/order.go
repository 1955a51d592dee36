package valueobjects

import (
	"fmt"
	"strings"
	"time"
)

// OrderDirection is the display order of a list by creation time.
type OrderDirection int

const (
	// Ascending puts the oldest record first (chat threads).
	Ascending OrderDirection = iota
	// Descending puts the newest record first (feeds).
	Descending
)

func (d OrderDirection) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// ParseOrderDirection accepts "asc" and "desc".
func ParseOrderDirection(s string) (OrderDirection, error) {
	switch strings.ToLower(s) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("unknown order direction %q", s)
	}
}

// Before reports whether an entry keyed a must be displayed strictly before one keyed b.
// Equal keys are never "before" each other, which keeps arrival order for ties.
func (d OrderDirection) Before(a, b time.Time) bool {
	if d == Descending {
		return a.After(b)
	}
	return a.Before(b)
}

// InOrder reports whether a may be displayed before b.
func (d OrderDirection) InOrder(a, b time.Time) bool {
	return !d.Before(b, a)
}
