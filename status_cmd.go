package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	syncpkg "github.com/medrex/medsync/internal/sync"
)

// failureWindow bounds how far back status looks for failed sync attempts.
const failureWindow = 24 * time.Hour

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending work and recent sync outcomes",
		Long: `Display per-entity record counts by sync state, stored pull
checkpoints, and recent failed sync attempts.`,
		RunE: runStatus,
	}
}

// entityStatus holds the status view for one entity type.
type entityStatus struct {
	EntityType    string                    `json:"entity_type"`
	Counts        map[syncpkg.SyncState]int `json:"counts"`
	HasCheckpoint bool                      `json:"has_checkpoint"`
}

// statusView is the full JSON status document.
type statusView struct {
	Entities []entityStatus      `json:"entities"`
	Failures []*syncpkg.LogEntry `json:"recent_failures,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	a, err := openApp(ctx, resolvedCfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	view, err := buildStatusView(ctx, a)
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(view)
	}

	printStatusText(view)

	return nil
}

// buildStatusView collects counts, checkpoints, and recent failures.
func buildStatusView(ctx context.Context, a *app) (*statusView, error) {
	view := &statusView{}

	for _, entityType := range a.cfg.Sync.EntityOrder {
		counts, err := a.store.CountByState(ctx, entityType)
		if err != nil {
			return nil, err
		}

		cursor, err := a.store.GetCheckpoint(ctx, entityType)
		if err != nil {
			return nil, err
		}

		view.Entities = append(view.Entities, entityStatus{
			EntityType:    entityType,
			Counts:        counts,
			HasCheckpoint: cursor != "",
		})
	}

	failures, err := a.logbook.Failures(ctx, failureWindow)
	if err != nil {
		return nil, err
	}

	view.Failures = failures

	return view, nil
}

// printStatusText renders the human-readable status table.
func printStatusText(view *statusView) {
	rows := make([][]string, 0, len(view.Entities))

	for _, e := range view.Entities {
		checkpoint := "none"
		if e.HasCheckpoint {
			checkpoint = "stored"
		}

		rows = append(rows, []string{
			e.EntityType,
			fmt.Sprint(e.Counts[syncpkg.StateSynced]),
			fmt.Sprint(e.Counts[syncpkg.StatePendingCreate]),
			fmt.Sprint(e.Counts[syncpkg.StatePendingUpdate]),
			fmt.Sprint(e.Counts[syncpkg.StatePendingDelete]),
			checkpoint,
		})
	}

	printTable(os.Stdout,
		[]string{"ENTITY", "SYNCED", "CREATE", "UPDATE", "DELETE", "CHECKPOINT"},
		rows,
	)

	if len(view.Failures) == 0 {
		fmt.Println("\nNo failed sync attempts in the last 24h.")

		return
	}

	fmt.Printf("\nFailed attempts in the last 24h: %d (run 'medsync log --failed' for details)\n",
		len(view.Failures))
}
