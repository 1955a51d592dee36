package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/application/reconcile"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

// Screen owns one list store for as long as a view is mounted. The store never retries on
// its own; Focus is where a failed load is retried and a dropped feed is resubscribed.
type Screen struct {
	view     View
	store    *reconcile.ListStore
	feed     ports.ChangeFeed
	identity ports.IdentityProvider
	logger   *zap.Logger

	mu sync.Mutex
	// stale is set while blurred; events were missed and the list is refetched on focus
	stale   bool
	mounted bool
}

// NewScreen creates the store for view. feed and identity may be nil for read-only offline
// use; Send then fails with a validation error.
func NewScreen(view View, client ports.RemoteCollectionClient, feed ports.ChangeFeed, identity ports.IdentityProvider, logger *zap.Logger) (*Screen, error) {
	logger = logger.With(zap.String("view", view.Name()), zap.String("kind", string(view.Kind)))
	store, err := reconcile.NewStore(client, view.Store, logger)
	if err != nil {
		return nil, err
	}
	return &Screen{
		view:     view,
		store:    store,
		feed:     feed,
		identity: identity,
		logger:   logger,
	}, nil
}

// Name returns the view name.
func (s *Screen) Name() string { return s.view.Name() }

// Kind returns the view kind.
func (s *Screen) Kind() ViewKind { return s.view.Kind }

// Store exposes the underlying list store.
func (s *Screen) Store() *reconcile.ListStore { return s.store }

// Snapshot returns the current list.
func (s *Screen) Snapshot() reconcile.ListState { return s.store.Snapshot() }

// Status returns the feedback signal for the view.
func (s *Screen) Status() reconcile.Status { return s.store.Status() }

// Mount loads the list and subscribes to the feed. A failed load leaves the store in Error
// with an empty list and is returned; the subscription is still attempted so a later Focus
// only has to retry the load.
func (s *Screen) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.mounted {
		s.mu.Unlock()
		return nil
	}
	s.mounted = true
	s.mu.Unlock()

	// subscribe first; events delivered before or during the first fetch are buffered by the
	// store and replayed over its result
	subErr := s.attach(ctx)
	_, loadErr := s.store.Initialize(ctx)

	if loadErr != nil {
		s.logger.Warn("initial load failed", zap.Error(loadErr))
		return loadErr
	}
	if subErr != nil {
		s.logger.Warn("subscription failed, will retry on focus", zap.Error(subErr))
		return subErr
	}
	return nil
}

func (s *Screen) attach(ctx context.Context) error {
	if s.feed == nil {
		return nil
	}
	return s.store.Attach(ctx, s.feed, s.view.Feed)
}

// Focus is called when the view comes back to the foreground. It retries a failed load,
// resubscribes when the feed dropped or was released by Blur, and refetches when events
// may have been missed.
func (s *Screen) Focus(ctx context.Context) error {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return errors.NewValidationError("screen " + s.Name() + " is not mounted")
	}
	stale := s.stale
	s.stale = false
	s.mu.Unlock()

	var resubscribed bool
	if s.feed != nil && (!s.store.Attached() || s.store.SubscriptionErr() != nil) {
		if err := s.attach(ctx); err != nil {
			s.logger.Warn("resubscribe failed", zap.Error(err))
			return err
		}
		resubscribed = true
		s.logger.Info("resubscribed to change feed")
	}

	switch s.store.Status().Phase {
	case reconcile.PhaseError, reconcile.PhaseUninitialized:
		_, err := s.store.Initialize(ctx)
		return err
	case reconcile.PhaseReady:
		if stale || resubscribed {
			_, err := s.store.Refresh(ctx)
			return err
		}
	}
	return nil
}

// Blur releases the feed subscription while the view is in the background.
func (s *Screen) Blur() error {
	s.mu.Lock()
	if !s.mounted {
		s.mu.Unlock()
		return nil
	}
	s.stale = true
	s.mu.Unlock()
	return s.store.Detach()
}

// Refresh refetches the list (pull to refresh).
func (s *Screen) Refresh(ctx context.Context) (reconcile.ListState, error) {
	return s.store.Refresh(ctx)
}

// Unmount releases the subscription and closes the store. Results of in-flight calls that
// complete afterwards are dropped.
func (s *Screen) Unmount() error {
	s.mu.Lock()
	s.mounted = false
	s.mu.Unlock()
	return s.store.Close()
}

// Send submits a new row authored by the signed-in user.
func (s *Screen) Send(ctx context.Context, fields map[string]any) (entities.Record, error) {
	if s.identity == nil {
		return entities.Record{}, errors.NewValidationError("sending requires an identity provider")
	}
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return entities.Record{}, err
	}
	if user == nil {
		return entities.Record{}, errors.NewValidationError("sign in to post in " + s.Name())
	}

	row := make(map[string]any, len(fields)+len(s.view.Defaults)+1)
	for k, v := range s.view.Defaults {
		row[k] = v
	}
	for k, v := range fields {
		row[k] = v
	}
	if s.view.AuthorColumn != "" {
		row[s.view.AuthorColumn] = user.ID
	}

	return s.store.Submit(ctx, reconcile.Mutation{
		Kind:   reconcile.MutationInsert,
		Record: entities.NewRecord("", s.now(), row),
	})
}

// Edit patches a row of the list.
func (s *Screen) Edit(ctx context.Context, id string, patch map[string]any) (entities.Record, error) {
	return s.store.Submit(ctx, reconcile.Mutation{Kind: reconcile.MutationUpdate, ID: id, Patch: patch})
}

// Remove deletes a row of the list.
func (s *Screen) Remove(ctx context.Context, id string) error {
	_, err := s.store.Submit(ctx, reconcile.Mutation{Kind: reconcile.MutationDelete, ID: id})
	return err
}

func (s *Screen) now() time.Time {
	if s.view.Store.Now != nil {
		return s.view.Store.Now()
	}
	return time.Now()
}
