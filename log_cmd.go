package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	syncpkg "github.com/medrex/medsync/internal/sync"
)

var (
	flagLogFailed bool
	flagLogLimit  int
	flagLogSince  time.Duration
)

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the sync log",
		Long: `Show recent sync attempts from the append-only sync log: one
entry per record per attempt, with outcome and error detail.`,
		RunE: runLog,
	}

	cmd.Flags().BoolVar(&flagLogFailed, "failed", false, "show only failed attempts")
	cmd.Flags().IntVarP(&flagLogLimit, "limit", "n", 50, "maximum entries to show")
	cmd.Flags().DurationVar(&flagLogSince, "since", 24*time.Hour, "failure window for --failed")

	return cmd
}

func runLog(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), resolvedCfg, buildLogger())
	if err != nil {
		return err
	}
	defer a.close()

	var entries []*syncpkg.LogEntry

	if flagLogFailed {
		entries, err = a.logbook.Failures(cmd.Context(), flagLogSince)
	} else {
		entries, err = a.logbook.Recent(cmd.Context(), flagLogLimit)
	}

	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(entries)
	}

	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = []string{
			formatNano(e.CreatedAt),
			e.EntityType,
			e.EntityID,
			string(e.Action),
			string(e.Status),
			truncate(e.Error, 60),
		}
	}

	printTable(os.Stdout, []string{"TIME", "ENTITY", "RECORD", "ACTION", "STATUS", "ERROR"}, rows)

	return nil
}
