// Package services composes list stores into the marketplace screens: chat, item feed,
// comments, reactions and saved collections.
package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/application/queries"
	"github.com/justineapere-tech/KabSulit-main-sub000/application/reconcile"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/observability"
)

// Remote tables of the marketplace
const (
	TableItems       = "items"
	TableProfiles    = "profiles"
	TableMessages    = "messages"
	TableComments    = "comments"
	TableReactions   = "reactions"
	TableCollections = "collections"
)

// ViewKind names a screen type.
type ViewKind string

const (
	KindChat        ViewKind = "chat"
	KindFeed        ViewKind = "feed"
	KindComments    ViewKind = "comments"
	KindReactions   ViewKind = "reactions"
	KindCollections ViewKind = "collections"
)

// ViewOptions are the store settings shared by every view.
type ViewOptions struct {
	Limit            int
	OperationTimeout time.Duration
	RefreshInterval  time.Duration
	MatchOptimistic  bool
	MatchWindow      time.Duration
	Metrics          *observability.Collector
}

// View is everything a Screen needs to run one list.
type View struct {
	Kind  ViewKind
	Store reconcile.Config
	// Feed narrows the feed subscription server side; relevance still applies locally
	Feed ports.EventFilter
	// AuthorColumn is stamped with the signed-in user id on submitted inserts
	AuthorColumn string
	// Defaults are copied into every submitted insert, e.g. the chat peer
	Defaults map[string]any
}

// Name is the store name, unique per mounted screen.
func (v View) Name() string {
	return v.Store.Name
}

func (o ViewOptions) apply(cfg reconcile.Config) reconcile.Config {
	cfg.Query.Limit = o.Limit
	cfg.OperationTimeout = o.OperationTimeout
	cfg.RefreshInterval = o.RefreshInterval
	cfg.Metrics = o.Metrics
	return cfg
}

// ChatView is the conversation between self and peer, oldest first.
func ChatView(self, peer string, opts ViewOptions) View {
	cfg := opts.apply(reconcile.Config{
		Name: fmt.Sprintf("chat:%s", peer),
		Query: ports.Query{
			Table: TableMessages,
			AnyOf: [][]ports.Filter{
				{ports.Eq("sender_id", self), ports.Eq("receiver_id", peer)},
				{ports.Eq("sender_id", peer), ports.Eq("receiver_id", self)},
			},
			Order: ports.Order{Column: "created_at", Ascending: true},
		},
		Mode:     reconcile.FineGrained,
		Relevant: reconcile.DirectMessage("sender_id", "receiver_id", self, peer),
	})
	if opts.MatchOptimistic {
		cfg.Matcher = reconcile.BusinessKeyMatcher(opts.MatchWindow, "sender_id", "receiver_id", "content")
	}
	return View{
		Kind:         KindChat,
		Store:        cfg,
		AuthorColumn: "sender_id",
		Defaults:     map[string]any{"receiver_id": peer},
	}
}

// FeedView is the public item feed, newest first, with seller profiles joined. Item events
// only signal that something changed and the whole feed is refetched.
func FeedView(client ports.RemoteCollectionClient, cache *queries.LookupCache, opts ViewOptions, logger *zap.Logger) View {
	joiner := queries.NewJoiner(client, cache, logger, queries.Join{
		ForeignKey: "seller_id",
		Table:      TableProfiles,
		As:         "seller",
		Columns:    "id,username,avatar_url",
	})
	cfg := opts.apply(reconcile.Config{
		Name: "feed",
		Query: ports.Query{
			Table: TableItems,
			Order: ports.Order{Column: "created_at"},
		},
		Mode:     reconcile.CoarseRefresh,
		Relevant: reconcile.Broadcast(),
		Load:     joiner.Load,
	})
	return View{Kind: KindFeed, Store: cfg, AuthorColumn: "seller_id"}
}

// CommentsView lists the comments of one item, oldest first, with author profiles joined
// both on load and on every inbound event.
func CommentsView(ctx context.Context, client ports.RemoteCollectionClient, cache *queries.LookupCache, itemID string, opts ViewOptions, logger *zap.Logger) View {
	joiner := queries.NewJoiner(client, cache, logger, queries.Join{
		ForeignKey: "user_id",
		Table:      TableProfiles,
		As:         "author",
		Columns:    "id,username,avatar_url",
	})
	filter := ports.Eq("item_id", itemID)
	cfg := opts.apply(reconcile.Config{
		Name: fmt.Sprintf("comments:%s", itemID),
		Query: ports.Query{
			Table:   TableComments,
			Filters: []ports.Filter{filter},
			Order:   ports.Order{Column: "created_at", Ascending: true},
		},
		Mode:             reconcile.FineGrained,
		Relevant:         reconcile.FieldEquals("item_id", itemID),
		Load:             joiner.Load,
		Transform:        joiner.EventTransform(ctx),
		ConfirmTransform: joiner.ConfirmTransform,
	})
	return View{
		Kind:         KindComments,
		Store:        cfg,
		Feed:         ports.EventFilter{Filter: &filter},
		AuthorColumn: "user_id",
		Defaults:     map[string]any{"item_id": itemID},
	}
}

// ReactionsView lists the reactions on one item.
func ReactionsView(itemID string, opts ViewOptions) View {
	filter := ports.Eq("item_id", itemID)
	cfg := opts.apply(reconcile.Config{
		Name: fmt.Sprintf("reactions:%s", itemID),
		Query: ports.Query{
			Table:   TableReactions,
			Filters: []ports.Filter{filter},
			Order:   ports.Order{Column: "created_at"},
		},
		Mode:     reconcile.FineGrained,
		Relevant: reconcile.FieldEquals("item_id", itemID),
	})
	return View{
		Kind:         KindReactions,
		Store:        cfg,
		Feed:         ports.EventFilter{Filter: &filter},
		AuthorColumn: "user_id",
		Defaults:     map[string]any{"item_id": itemID},
	}
}

// CollectionsView lists the items a user saved, newest first, with the item rows joined.
func CollectionsView(ctx context.Context, client ports.RemoteCollectionClient, cache *queries.LookupCache, userID string, opts ViewOptions, logger *zap.Logger) View {
	joiner := queries.NewJoiner(client, cache, logger, queries.Join{
		ForeignKey: "item_id",
		Table:      TableItems,
		As:         "item",
	})
	filter := ports.Eq("user_id", userID)
	cfg := opts.apply(reconcile.Config{
		Name: fmt.Sprintf("collections:%s", userID),
		Query: ports.Query{
			Table:   TableCollections,
			Filters: []ports.Filter{filter},
			Order:   ports.Order{Column: "created_at"},
		},
		Mode:             reconcile.FineGrained,
		Relevant:         reconcile.FieldEquals("user_id", userID),
		Load:             joiner.Load,
		Transform:        joiner.EventTransform(ctx),
		ConfirmTransform: joiner.ConfirmTransform,
	})
	return View{
		Kind:         KindCollections,
		Store:        cfg,
		Feed:         ports.EventFilter{Filter: &filter},
		AuthorColumn: "user_id",
	}
}
