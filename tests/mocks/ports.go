// Package mocks holds testify mocks of the application ports.
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/events"
)

// RemoteClient mocks ports.RemoteCollectionClient.
type RemoteClient struct {
	mock.Mock
}

func (m *RemoteClient) Fetch(ctx context.Context, q ports.Query) ([]entities.Record, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.Record), args.Error(1)
}

func (m *RemoteClient) Insert(ctx context.Context, table string, rec entities.Record) (entities.Record, error) {
	args := m.Called(ctx, table, rec)
	return args.Get(0).(entities.Record), args.Error(1)
}

func (m *RemoteClient) Update(ctx context.Context, table string, filters []ports.Filter, patch map[string]any) error {
	args := m.Called(ctx, table, filters, patch)
	return args.Error(0)
}

func (m *RemoteClient) Delete(ctx context.Context, table string, filters []ports.Filter) error {
	args := m.Called(ctx, table, filters)
	return args.Error(0)
}

// Subscription is a controllable ports.SubscriptionHandle.
type Subscription struct {
	id   string
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// NewSubscription creates a live subscription.
func NewSubscription(id string) *Subscription {
	return &Subscription{id: id, done: make(chan struct{})}
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Drop ends the subscription with err, as a feed does when the channel is lost.
func (s *Subscription) Drop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// ChangeFeed mocks ports.ChangeFeed and keeps the last registered callback so tests can push
// events through it.
type ChangeFeed struct {
	mock.Mock

	mu      sync.Mutex
	onEvent func(events.ChangeEvent)
}

func (m *ChangeFeed) Subscribe(ctx context.Context, table string, filter ports.EventFilter, onEvent func(events.ChangeEvent)) (ports.SubscriptionHandle, error) {
	args := m.Called(ctx, table, filter, mock.Anything)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	m.mu.Lock()
	m.onEvent = onEvent
	m.mu.Unlock()
	return args.Get(0).(ports.SubscriptionHandle), args.Error(1)
}

func (m *ChangeFeed) Unsubscribe(handle ports.SubscriptionHandle) error {
	args := m.Called(handle)
	if args.Error(0) == nil {
		m.mu.Lock()
		m.onEvent = nil
		m.mu.Unlock()
	}
	return args.Error(0)
}

// Push delivers an event to the current subscriber, if any.
func (m *ChangeFeed) Push(ev events.ChangeEvent) {
	m.mu.Lock()
	fn := m.onEvent
	m.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// IdentityProvider mocks ports.IdentityProvider.
type IdentityProvider struct {
	mock.Mock
}

func (m *IdentityProvider) CurrentUser(ctx context.Context) (*ports.UserIdentity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.UserIdentity), args.Error(1)
}
