// Package di wires the application together.
package di

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/application/services"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/config"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config   *config.Config
	Logger   *zap.Logger
	Level    zap.AtomicLevel
	Metrics  *observability.Collector
	Tracing  *observability.TracerProvider
	Backend  *Backend
	Client   ports.RemoteCollectionClient
	Feed     ports.ChangeFeed
	Identity ports.IdentityProvider
	Service  *services.MarketplaceService
	Handler  http.Handler
}
