package services

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/application/queries"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

// MarketplaceService opens and closes the marketplace screens over one remote client and
// change feed.
type MarketplaceService struct {
	client   ports.RemoteCollectionClient
	feed     ports.ChangeFeed
	identity ports.IdentityProvider
	cache    *queries.LookupCache
	options  ViewOptions
	registry *Registry
	logger   *zap.Logger
}

// NewMarketplaceService creates a new marketplace service
func NewMarketplaceService(
	client ports.RemoteCollectionClient,
	feed ports.ChangeFeed,
	identity ports.IdentityProvider,
	cache *queries.LookupCache,
	options ViewOptions,
	registry *Registry,
	logger *zap.Logger,
) *MarketplaceService {
	return &MarketplaceService{
		client:   client,
		feed:     feed,
		identity: identity,
		cache:    cache,
		options:  options,
		registry: registry,
		logger:   logger,
	}
}

// Registry returns the mounted screens.
func (s *MarketplaceService) Registry() *Registry {
	return s.registry
}

func (s *MarketplaceService) currentUserID(ctx context.Context) (string, error) {
	if s.identity == nil {
		return "", errors.NewValidationError("no identity provider configured")
	}
	user, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", errors.NewValidationError("sign in required")
	}
	return user.ID, nil
}

// OpenFeed mounts the public item feed.
func (s *MarketplaceService) OpenFeed(ctx context.Context) (*Screen, error) {
	return s.open(ctx, FeedView(s.client, s.cache, s.options, s.logger))
}

// OpenChat mounts the conversation between the signed-in user and peer.
func (s *MarketplaceService) OpenChat(ctx context.Context, peer string) (*Screen, error) {
	if peer == "" {
		return nil, errors.NewValidationError("chat peer is required")
	}
	self, err := s.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	if self == peer {
		return nil, errors.NewValidationError("cannot open a chat with yourself")
	}
	return s.open(ctx, ChatView(self, peer, s.options))
}

// OpenComments mounts the comments of an item.
func (s *MarketplaceService) OpenComments(ctx context.Context, itemID string) (*Screen, error) {
	if itemID == "" {
		return nil, errors.NewValidationError("item id is required")
	}
	return s.open(ctx, CommentsView(context.WithoutCancel(ctx), s.client, s.cache, itemID, s.options, s.logger))
}

// OpenReactions mounts the reactions of an item.
func (s *MarketplaceService) OpenReactions(ctx context.Context, itemID string) (*Screen, error) {
	if itemID == "" {
		return nil, errors.NewValidationError("item id is required")
	}
	return s.open(ctx, ReactionsView(itemID, s.options))
}

// OpenCollections mounts the signed-in user's saved items.
func (s *MarketplaceService) OpenCollections(ctx context.Context) (*Screen, error) {
	self, err := s.currentUserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, CollectionsView(context.WithoutCancel(ctx), s.client, s.cache, self, s.options, s.logger))
}

// open mounts a screen and registers it. A screen whose initial load fails stays registered
// in Error so that Focus can retry it; the load error is returned alongside the screen.
func (s *MarketplaceService) open(ctx context.Context, view View) (*Screen, error) {
	if existing, err := s.registry.Get(view.Name()); err == nil {
		return existing, nil
	}

	screen, err := NewScreen(view, s.client, s.feed, s.identity, s.logger)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Register(screen); err != nil {
		return nil, err
	}

	if err := screen.Mount(ctx); err != nil {
		if errors.IsFetch(err) || errors.IsSubscription(err) {
			return screen, err
		}
		s.registry.Remove(screen.Name())
		_ = screen.Unmount()
		return nil, err
	}
	s.logger.Info("view mounted", zap.String("view", screen.Name()), zap.Int("rows", screen.Snapshot().Len()))
	return screen, nil
}

// Close unmounts a screen.
func (s *MarketplaceService) Close(name string) error {
	screen, ok := s.registry.Remove(name)
	if !ok {
		return errors.NewNotFoundError("view " + name)
	}
	return screen.Unmount()
}

// CloseAll unmounts every screen.
func (s *MarketplaceService) CloseAll() error {
	var errs []error
	for _, screen := range s.registry.List() {
		s.registry.Remove(screen.Name())
		if err := screen.Unmount(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
