package ports

import (
	"context"

	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/events"
)

// RemoteCollectionClient issues queries and mutations against named remote tables.
// This is a port in hexagonal architecture - the sync core doesn't know about the implementation
type RemoteCollectionClient interface {
	// Fetch runs a filtered, ordered, limited read
	Fetch(ctx context.Context, q Query) ([]entities.Record, error)

	// Insert writes a row and returns the authoritative record
	Insert(ctx context.Context, table string, rec entities.Record) (entities.Record, error)

	// Update patches every row matching the filters
	Update(ctx context.Context, table string, filters []Filter, patch map[string]any) error

	// Delete removes every row matching the filters
	Delete(ctx context.Context, table string, filters []Filter) error
}

// EventFilter narrows a subscription on the feed side.
type EventFilter struct {
	// Event is the change kind to receive; events.AnyChange or "" for all
	Event events.ChangeKind
	// Filter is a single column predicate, e.g. {Column: "receiver_id", Op: OpEq, Value: "u1"}
	Filter *Filter
}

// SubscriptionHandle is a live change feed subscription.
type SubscriptionHandle interface {
	// ID identifies the subscription within its feed
	ID() string

	// Done is closed when the subscription ends, either released or dropped
	Done() <-chan struct{}

	// Err is nil while live and after a clean release; a SubscriptionError after a drop
	Err() error
}

// ChangeFeed delivers discrete row change events for a table.
type ChangeFeed interface {
	// Subscribe registers onEvent for changes on table. onEvent may be called from any goroutine.
	Subscribe(ctx context.Context, table string, filter EventFilter, onEvent func(events.ChangeEvent)) (SubscriptionHandle, error)

	// Unsubscribe releases a subscription. No events are delivered after it returns.
	Unsubscribe(handle SubscriptionHandle) error
}

// UserIdentity is the signed-in user.
type UserIdentity struct {
	ID    string
	Email string
}

// IdentityProvider answers who is signed in.
type IdentityProvider interface {
	// CurrentUser returns nil without error when nobody is signed in
	CurrentUser(ctx context.Context) (*UserIdentity, error)
}
