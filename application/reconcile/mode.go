package reconcile

import (
	"fmt"
	"time"

	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
)

// MergeMode selects how feed events reach the list.
type MergeMode int

const (
	// FineGrained patches the single changed row into the list.
	FineGrained MergeMode = iota
	// CoarseRefresh treats any relevant event as "something changed" and refetches everything.
	// For feeds whose events do not reliably carry full rows.
	CoarseRefresh
)

func (m MergeMode) String() string {
	if m == CoarseRefresh {
		return "coarse"
	}
	return "fine"
}

// ParseMergeMode accepts "fine" and "coarse".
func ParseMergeMode(s string) (MergeMode, error) {
	switch s {
	case "fine", "fine-grained", "":
		return FineGrained, nil
	case "coarse", "refresh":
		return CoarseRefresh, nil
	default:
		return FineGrained, fmt.Errorf("unknown merge mode %q", s)
	}
}

// Phase is the lifecycle phase of a store.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseLoading       Phase = "loading"
	PhaseReady         Phase = "ready"
	PhaseError         Phase = "error"
)

// Status is what a screen renders as feedback.
type Status struct {
	Phase Phase `json:"phase"`
	// Refreshing is set while a refresh of an already loaded list is in flight
	Refreshing bool `json:"refreshing"`
	// Err is the error of the last initialize or refresh; a failed refresh leaves Phase ready
	Err error `json:"-"`
}

// Message returns the user-visible error text, or "".
func (s Status) Message() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

func (s Status) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s(%s)", s.Phase, s.Err)
	}
	return string(s.Phase)
}

// OptimisticMatcher pairs an inbound inserted record with a pending optimistic one when no
// shared id exists yet.
type OptimisticMatcher func(pending, incoming entities.Record) bool

// BusinessKeyMatcher matches when all fields are equal and the creation times are within
// window of each other. Two identical messages sent in quick succession can pair with the
// wrong provisional entry, which is why handle confirmation stays the primary path.
func BusinessKeyMatcher(window time.Duration, fields ...string) OptimisticMatcher {
	return func(pending, incoming entities.Record) bool {
		for _, f := range fields {
			if pending.String(f) != incoming.String(f) {
				return false
			}
		}
		d := pending.CreatedAt.Sub(incoming.CreatedAt)
		if d < 0 {
			d = -d
		}
		return d <= window
	}
}
