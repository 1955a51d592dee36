package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/services"
	apperrors "github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("peer", "", "also mount the chat with this user")
	serveCmd.Flags().String("item", "", "also mount the comments and reactions of this item")
	serveCmd.Flags().String("addr", "", "inspector listen address (overrides the config)")
	serveCmd.Flags().Duration("simulate", 0, "with --offline, insert a peer message at this interval")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Mount views and serve the inspector API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		c := a.container
		logger := c.Logger
		peer, _ := cmd.Flags().GetString("peer")
		item, _ := cmd.Flags().GetString("item")
		addr, _ := cmd.Flags().GetString("addr")
		interval, _ := cmd.Flags().GetDuration("simulate")
		if addr == "" {
			addr = c.Config.Inspector.Address
		}

		if err := mountDefaults(ctx, c.Service, peer, item, logger); err != nil {
			return err
		}
		if interval > 0 {
			go simulate(ctx, a, peer, interval)
		}

		srv := &http.Server{
			Addr:         addr,
			Handler:      c.Handler,
			ReadTimeout:  c.Config.Inspector.ReadTimeout,
			WriteTimeout: c.Config.Inspector.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Starting inspector",
				zap.String("address", addr),
				zap.Int("views", c.Service.Registry().Len()),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return err
			}
		}

		logger.Info("Shutting down inspector...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", zap.Error(err))
		}
		return nil
	},
}

// mountDefaults opens the feed plus the optional chat and item views. A view whose first
// load failed stays mounted so it can be retried with focus.
func mountDefaults(ctx context.Context, svc *services.MarketplaceService, peer, item string, logger *zap.Logger) error {
	open := []func() (*services.Screen, error){
		func() (*services.Screen, error) { return svc.OpenFeed(ctx) },
	}
	if peer != "" {
		open = append(open, func() (*services.Screen, error) { return svc.OpenChat(ctx, peer) })
	}
	if item != "" {
		open = append(open,
			func() (*services.Screen, error) { return svc.OpenComments(ctx, item) },
			func() (*services.Screen, error) { return svc.OpenReactions(ctx, item) },
		)
	}

	for _, fn := range open {
		screen, err := fn()
		switch {
		case err == nil:
		case screen != nil:
			logger.Warn("view mounted in error state", zap.String("view", screen.Name()), zap.Error(err))
		case apperrors.IsValidation(err):
			return err
		default:
			logger.Error("failed to mount view", zap.Error(err))
		}
	}
	return nil
}
