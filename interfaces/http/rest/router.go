// Package rest serves the local inspector API over the mounted views.
package rest

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/services"
	"github.com/justineapere-tech/KabSulit-main-sub000/interfaces/http/rest/handlers"
	"github.com/justineapere-tech/KabSulit-main-sub000/interfaces/http/rest/middleware"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/observability"
)

// RouterOptions configures the inspector router
type RouterOptions struct {
	AllowedOrigins []string
	// Debug adds error causes to JSON error responses
	Debug bool
}

// Router creates and configures the HTTP router
type Router struct {
	service *services.MarketplaceService
	metrics *observability.Collector
	options RouterOptions
	logger  *zap.Logger
	started time.Time
}

// NewRouter creates a new router instance
func NewRouter(
	service *services.MarketplaceService,
	metrics *observability.Collector,
	options RouterOptions,
	logger *zap.Logger,
) *Router {
	return &Router{
		service: service,
		metrics: metrics,
		options: options,
		logger:  logger,
		started: time.Now(),
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.Logger(rt.logger))

	origins := rt.options.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/health", rt.healthCheck)
	router.Method(http.MethodGet, "/metrics", rt.metrics.Handler())

	viewHandler := handlers.NewViewHandler(rt.service, errors.NewErrorHandler(rt.logger, rt.options.Debug), rt.logger)
	router.Route("/api/v1/views", func(r chi.Router) {
		r.Get("/", viewHandler.ListViews)
		r.Post("/", viewHandler.OpenView)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", viewHandler.GetView)
			r.Delete("/", viewHandler.CloseView)
			r.Post("/refresh", viewHandler.Refresh)
			r.Post("/focus", viewHandler.Focus)
			r.Post("/blur", viewHandler.Blur)
			r.Post("/submit", viewHandler.Submit)
		})
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"status":"healthy","views":%d,"uptime_seconds":%d}`,
		rt.service.Registry().Len(), int(time.Since(rt.started).Seconds()))
}
