package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/config"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/di"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kabsulit-sync",
	Short: "Live list synchronization for the KabSulit marketplace",
	Long: `kabsulit-sync mounts marketplace views (item feed, chats, comments, reactions,
saved collections) against Supabase, keeps them reconciled with the realtime change
feed and exposes them through a local inspector API.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file read before the process environment")
	rootCmd.PersistentFlags().Bool("offline", false, "use the in-memory backend with demo data")
	rootCmd.PersistentFlags().String("user", "", "signed-in user id for --offline")
	rootCmd.PersistentFlags().Bool("watch-config", false, "reload the log level when the config file changes")
}

// app is a wired container plus the config watcher, if any.
type app struct {
	container *di.Container
	watcher   *config.Watcher
	cleanup   func()
}

func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.cleanup()
	_ = a.container.Logger.Sync()
}

func bootstrap(ctx context.Context, cmd *cobra.Command) (*app, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	envFile, _ := flags.GetString("env-file")
	offline, _ := flags.GetBool("offline")
	user, _ := flags.GetString("user")
	watch, _ := flags.GetBool("watch-config")

	loader := config.NewLoader(path, envFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	container, cleanup, err := di.InitializeContainer(ctx, cfg, di.Offline{Enabled: offline, UserID: user})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize container: %w", err)
	}
	a := &app{container: container, cleanup: cleanup}
	container.Logger.Debug("configuration loaded", zap.Strings("sources", cfg.LoadedFrom))

	if watch {
		w, err := config.NewWatcher(loader, cfg, container.Logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		w.OnChange(config.LevelUpdater(container.Level))
		a.watcher = w
	}
	return a, nil
}
