package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medrex/medsync/internal/config"
	"github.com/medrex/medsync/internal/connectivity"
	syncpkg "github.com/medrex/medsync/internal/sync"
)

var (
	flagWatch  bool
	flagEntity string
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize local records with the server",
		Long: `Run one push-then-pull sync cycle, or keep syncing continuously.

In watch mode the engine cycles on a periodic interval, after local
mutations, and when connectivity returns. Local work is never blocked by
the network: records mutated offline sync on the next successful cycle.`,
		RunE: runSync,
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "sync continuously until interrupted")
	cmd.Flags().StringVar(&flagEntity, "entity", "", "limit the cycle to one entity type")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	cfg := resolvedCfg
	if flagEntity != "" {
		if !slices.Contains(cfg.Sync.EntityOrder, flagEntity) {
			return fmt.Errorf("unknown entity type %q (configured: %v)", flagEntity, cfg.Sync.EntityOrder)
		}

		cfg.Sync.EntityOrder = []string{flagEntity}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if flagWatch {
		return runSyncWatch(ctx, a)
	}

	report, err := a.orchestrator.SyncNow(ctx)
	if err != nil {
		if errors.Is(err, syncpkg.ErrSyncDisabled) {
			return fmt.Errorf("not authenticated: place a credential at %s", cfg.Server.TokenPath)
		}

		return err
	}

	if !flagQuiet {
		fmt.Printf("Synced: %d pushed, %d pulled in %s\n",
			report.Pushed(), report.Pulled(), report.Duration.Round(timeRounding))

		if n := a.pusher.SuppressedCount(); n > 0 {
			fmt.Printf("Warning: %d record(s) suppressed after repeated failures; see 'medsync log --failed'\n", n)
		}
	}

	return nil
}

// runSyncWatch runs the continuous loop with the websocket connectivity
// monitor and live config reload.
func runSyncWatch(ctx context.Context, a *app) error {
	var monitor connectivity.Monitor

	if a.cfg.Server.NotifyURL != "" {
		ws := connectivity.NewWSMonitor(a.cfg.Server.NotifyURL, a.logger)
		defer ws.Close()

		monitor = ws
	}

	// Reload the config file live: a changed file nudges a cycle so new
	// intervals and entity order are picked up on the next engine build,
	// and operators see immediate feedback.
	cfgPath := flagConfigPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	if cfgPath != "" {
		go func() {
			err := config.Watch(ctx, cfgPath, a.logger, func(*config.Config) {
				a.orchestrator.Trigger()
			})
			if err != nil {
				a.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
			}
		}()
	}

	return a.orchestrator.RunWatch(ctx, monitor, syncpkg.WatchOpts{
		Interval:        a.cfg.SyncInterval(),
		TriggerDebounce: a.cfg.TriggerDebounce(),
	})
}
