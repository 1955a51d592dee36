//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/services"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLevel,
	ProvideLogger,
	ProvideMetrics,
	ProvideTracing,
	ProvideBackend,
	ProvideRemoteClient,
	ProvideChangeFeed,
	ProvideIdentity,
	ProvideLookupCache,
	ProvideViewOptions,
	services.NewRegistry,
	ProvideMarketplaceService,
	ProvideHandler,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container. The cleanup function unmounts every
// view, closes the change feed and flushes traces.
func InitializeContainer(ctx context.Context, cfg *config.Config, offline Offline) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
