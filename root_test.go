package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medrex/medsync/internal/config"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{"sync", "status", "patient", "prescription", "log"}
	for _, name := range expected {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "subcommand %s", name)
		assert.NotEqual(t, cmd, sub, "subcommand %s should resolve", name)
	}
}

func TestNewRootCmd_PrescriptionAlias(t *testing.T) {
	cmd := newRootCmd()

	sub, _, err := cmd.Find([]string{"rx"})
	require.NoError(t, err)
	assert.Equal(t, "prescription", sub.Name())
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag --%s", name)
	}
}

func TestBuildLogger_LevelSelection(t *testing.T) {
	origCfg, origVerbose, origQuiet := resolvedCfg, flagVerbose, flagQuiet

	t.Cleanup(func() {
		resolvedCfg, flagVerbose, flagQuiet = origCfg, origVerbose, origQuiet
	})

	resolvedCfg = config.DefaultConfig()

	t.Run("default info", func(t *testing.T) {
		flagVerbose, flagQuiet = false, false

		logger := buildLogger()
		assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
		assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	})

	t.Run("verbose wins", func(t *testing.T) {
		flagVerbose, flagQuiet = true, false

		logger := buildLogger()
		assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	})

	t.Run("quiet wins", func(t *testing.T) {
		flagVerbose, flagQuiet = false, true

		logger := buildLogger()
		assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
	})

	t.Run("config debug level", func(t *testing.T) {
		flagVerbose, flagQuiet = false, false
		resolvedCfg.Logging.LogLevel = "debug"

		logger := buildLogger()
		assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	})
}
