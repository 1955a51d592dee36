package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/reconcile"
	"github.com/justineapere-tech/KabSulit-main-sub000/application/services"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().Bool("json", false, "print snapshots as JSON lines")
	watchCmd.Flags().Duration("simulate", 0, "with --offline, insert a peer message at this interval")
}

var watchCmd = &cobra.Command{
	Use:   "watch <view>",
	Short: "Mount one view and print it on every change",
	Long: `Mount one view and print it on every change. Views are named
  feed
  chat:<peer>
  comments:<item>
  reactions:<item>
  collections`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, arg, err := parseView(args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		asJSON, _ := cmd.Flags().GetBool("json")
		interval, _ := cmd.Flags().GetDuration("simulate")

		screen, err := openView(ctx, a.container.Service, kind, arg)
		if screen == nil {
			return err
		}
		out := cmd.OutOrStdout()
		if err != nil {
			fmt.Fprintf(out, "initial load failed: %v\n", err)
		}

		printer := snapshotPrinter(out, screen, asJSON)
		unsubscribe := screen.Store().OnChange(func(reconcile.ListState) { printer() })
		defer unsubscribe()
		printer()

		if interval > 0 {
			peer := ""
			if kind == services.KindChat {
				peer = arg
			}
			go simulate(ctx, a, peer, interval)
		}

		<-ctx.Done()
		return nil
	},
}

func parseView(spec string) (services.ViewKind, string, error) {
	kind, arg, _ := strings.Cut(spec, ":")
	switch services.ViewKind(kind) {
	case services.KindFeed, services.KindCollections:
		return services.ViewKind(kind), "", nil
	case services.KindChat, services.KindComments, services.KindReactions:
		if arg == "" {
			return "", "", errors.NewValidationError(fmt.Sprintf("view %s needs an argument, e.g. %s:<id>", kind, kind))
		}
		return services.ViewKind(kind), arg, nil
	}
	return "", "", errors.NewValidationError(fmt.Sprintf("unknown view %q", spec))
}

func openView(ctx context.Context, svc *services.MarketplaceService, kind services.ViewKind, arg string) (*services.Screen, error) {
	switch kind {
	case services.KindFeed:
		return svc.OpenFeed(ctx)
	case services.KindChat:
		return svc.OpenChat(ctx, arg)
	case services.KindComments:
		return svc.OpenComments(ctx, arg)
	case services.KindReactions:
		return svc.OpenReactions(ctx, arg)
	default:
		return svc.OpenCollections(ctx)
	}
}

// snapshotPrinter renders the screen's status and entries.
func snapshotPrinter(w io.Writer, screen *services.Screen, asJSON bool) func() {
	return func() {
		status := screen.Status()
		state := screen.Snapshot()
		if asJSON {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"view":    screen.Name(),
				"status":  status,
				"error":   status.Message(),
				"entries": state.Entries,
			})
			return
		}

		fmt.Fprintf(w, "[%s] %s %s, %d entries\n", time.Now().Format("15:04:05"), screen.Name(), status, state.Len())
		for _, e := range state.Entries {
			marker := " "
			if e.Pending {
				marker = "*"
			}
			fmt.Fprintf(w, " %s %-8s %s  %s\n", marker, e.Record.ID, e.Record.CreatedAt.Local().Format("Jan 02 15:04"), summary(e))
		}
	}
}

func summary(e reconcile.Entry) string {
	for _, field := range []string{"content", "body", "title", "kind"} {
		if v := e.Record.String(field); v != "" {
			return v
		}
	}
	return ""
}
