package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/application/queries"
	"github.com/justineapere-tech/KabSulit-main-sub000/application/services"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/config"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/persistence/decorators"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/persistence/memory"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/persistence/supabase"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/realtime"
	"github.com/justineapere-tech/KabSulit-main-sub000/interfaces/http/rest"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/observability"
)

// Offline selects the in-memory backend instead of Supabase.
type Offline struct {
	Enabled bool
	// UserID is the signed-in user of the offline identity; memory.DemoUser when empty
	UserID string
}

// Backend is the remote store, its change feed and the session identity.
type Backend struct {
	Client   ports.RemoteCollectionClient
	Feed     ports.ChangeFeed
	Identity ports.IdentityProvider
	// Memory is set for the offline backend
	Memory *memory.Backend
}

// ProvideLevel creates the adjustable log level
func ProvideLevel(cfg *config.Config) zap.AtomicLevel {
	return zap.NewAtomicLevelAt(cfg.Level())
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config, level zap.AtomicLevel) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("environment", string(cfg.Environment))), nil
}

// ProvideMetrics creates the metrics collector, or nil when metrics are disabled
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return observability.NewCollector(cfg.Metrics.Namespace)
}

// ProvideTracing creates the tracer provider. Spans go nowhere unless tracing is enabled.
func ProvideTracing(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*observability.TracerProvider, func(), error) {
	if !cfg.Tracing.Enabled {
		return observability.NewNoopTracerProvider(), func() {}, nil
	}
	tp, err := observability.InitTracing(ctx, observability.TracingOptions{
		ServiceName: cfg.Tracing.ServiceName,
		Environment: string(cfg.Environment),
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	return tp, cleanup, nil
}

// ProvideBackend connects to Supabase, or builds the seeded in-memory backend when offline
func ProvideBackend(cfg *config.Config, offline Offline, metrics *observability.Collector, logger *zap.Logger) (*Backend, func(), error) {
	if offline.Enabled {
		user := offline.UserID
		if user == "" {
			user = memory.DemoUser
		}
		mem := memory.NewDemoBackend(time.Now())
		logger.Info("using offline backend", zap.String("user", user))
		return &Backend{Client: mem, Feed: mem, Identity: memory.NewIdentity(user), Memory: mem}, func() {}, nil
	}

	if cfg.Supabase.URL == "" || cfg.Supabase.AnonKey == "" {
		return nil, nil, fmt.Errorf("supabase url and anon key are required unless running offline")
	}
	client, err := supabase.NewSupabaseClient(supabase.Options{
		URL:         cfg.Supabase.URL,
		AnonKey:     cfg.Supabase.AnonKey,
		AccessToken: cfg.Supabase.AccessToken,
		Schema:      cfg.Supabase.Schema,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	feed := realtime.NewClient(realtime.Config{
		URL:          cfg.RealtimeEndpoint(),
		APIKey:       cfg.Supabase.AnonKey,
		AccessToken:  cfg.Supabase.AccessToken,
		Schema:       cfg.Supabase.Schema,
		Heartbeat:    cfg.Feed.Heartbeat,
		WriteTimeout: cfg.Feed.WriteTimeout,
		ReadLimit:    cfg.Feed.ReadLimit,
		DialTimeout:  cfg.Feed.DialTimeout,
	}, metrics, logger)

	identity := supabase.NewIdentity(client, cfg.Supabase.AccessToken, supabase.IdentityConfig{
		JWTSecret:    cfg.Supabase.JWTSecret,
		VerifyRemote: cfg.Supabase.VerifyRemote,
	}, logger)

	cleanup := func() {
		if err := feed.Close(); err != nil {
			logger.Warn("closing change feed failed", zap.Error(err))
		}
	}
	return &Backend{
		Client:   supabase.NewRemoteClient(client, logger),
		Feed:     feed,
		Identity: identity,
	}, cleanup, nil
}

// ProvideRemoteClient wraps the backend client with the circuit breaker, metrics, tracing
// and logging decorators
func ProvideRemoteClient(
	cfg *config.Config,
	backend *Backend,
	metrics *observability.Collector,
	tracing *observability.TracerProvider,
	logger *zap.Logger,
) ports.RemoteCollectionClient {
	opts := decorators.Options{Metrics: metrics}
	if cfg.IsDevelopment() {
		opts.Logger = logger
	}
	if cfg.Tracing.Enabled {
		opts.Tracer = tracing.Tracer()
	}
	if cfg.CircuitBreaker.Enabled {
		cb := decorators.DefaultCircuitBreakerConfig("remote-store")
		cb.MaxRequests = cfg.CircuitBreaker.MaxRequests
		cb.Interval = cfg.CircuitBreaker.Interval
		cb.Timeout = cfg.CircuitBreaker.Timeout
		cb.FailureThreshold = cfg.CircuitBreaker.FailureThreshold
		cb.MinRequests = cfg.CircuitBreaker.MinRequests
		opts.CircuitBreaker = &cb
	}
	return decorators.Chain(backend.Client, opts)
}

// ProvideChangeFeed returns the backend's change feed
func ProvideChangeFeed(backend *Backend) ports.ChangeFeed {
	return backend.Feed
}

// ProvideIdentity returns the backend's session identity
func ProvideIdentity(backend *Backend) ports.IdentityProvider {
	return backend.Identity
}

// ProvideLookupCache creates the profile and item lookup cache
func ProvideLookupCache(cfg *config.Config) *queries.LookupCache {
	return queries.NewLookupCache(cfg.Store.LookupCacheTTL)
}

// ProvideViewOptions maps the store settings onto every view
func ProvideViewOptions(cfg *config.Config, metrics *observability.Collector) services.ViewOptions {
	return services.ViewOptions{
		Limit:            cfg.Store.DefaultLimit,
		OperationTimeout: cfg.Store.OperationTimeout,
		RefreshInterval:  cfg.Store.RefreshInterval,
		MatchOptimistic:  cfg.Store.MatchOptimistic,
		MatchWindow:      cfg.Store.MatchWindow,
		Metrics:          metrics,
	}
}

// ProvideMarketplaceService creates the screen service. Cleanup unmounts every screen.
func ProvideMarketplaceService(
	client ports.RemoteCollectionClient,
	feed ports.ChangeFeed,
	identity ports.IdentityProvider,
	cache *queries.LookupCache,
	options services.ViewOptions,
	registry *services.Registry,
	logger *zap.Logger,
) (*services.MarketplaceService, func()) {
	svc := services.NewMarketplaceService(client, feed, identity, cache, options, registry, logger)
	return svc, func() {
		if err := svc.CloseAll(); err != nil {
			logger.Warn("closing views failed", zap.Error(err))
		}
	}
}

// ProvideHandler creates the inspector HTTP handler
func ProvideHandler(
	cfg *config.Config,
	service *services.MarketplaceService,
	metrics *observability.Collector,
	logger *zap.Logger,
) http.Handler {
	router := rest.NewRouter(service, metrics, rest.RouterOptions{
		AllowedOrigins: cfg.Inspector.AllowedOrigins,
		Debug:          cfg.IsDevelopment(),
	}, logger)
	return router.Setup()
}
