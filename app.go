package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"

	"github.com/medrex/medsync/internal/api"
	"github.com/medrex/medsync/internal/config"
	"github.com/medrex/medsync/internal/records"
	syncpkg "github.com/medrex/medsync/internal/sync"
)

// Record database file name inside the data directory.
const dbFileName = "records.db"

// app bundles the wired engine components for one CLI invocation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store         *syncpkg.SQLiteStore
	client        *api.Client
	tracker       *syncpkg.Tracker
	logbook       *syncpkg.Logbook
	pusher        *syncpkg.Pusher
	orchestrator  *syncpkg.Orchestrator
	patients      *records.PatientService
	prescriptions *records.PrescriptionService
}

// openApp wires the full engine from the resolved config: store, API
// client, tracker, pipelines, orchestrator, and domain services.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	store, err := syncpkg.NewStore(filepath.Join(cfg.Storage.DataDir, dbFileName), logger)
	if err != nil {
		return nil, err
	}

	token, authGate := buildTokenSource(ctx, cfg, logger)

	client := api.NewClient(cfg.Server.URL, defaultHTTPClient(), token, logger)
	client.SetRateLimit(cfg.Server.RequestsPerSecond, cfg.Server.Burst)

	logbook := syncpkg.NewLogbook(store, logger)
	tracker := syncpkg.NewTracker(store, logger)

	pusher := syncpkg.NewPusher(store, client, logbook, logger)
	pusher.SetWorkers(cfg.Sync.PushWorkers)
	pusher.SetRewriter(records.EntityPrescriptions, records.NewPrescriptionRefRewriter(store))

	puller := syncpkg.NewPuller(store, client, logbook, logger)

	orchestrator := syncpkg.NewOrchestrator(store, pusher, puller, authGate, cfg.Sync.EntityOrder, logger)
	tracker.SetNotify(orchestrator.Trigger)

	return &app{
		cfg:           cfg,
		logger:        logger,
		store:         store,
		client:        client,
		tracker:       tracker,
		logbook:       logbook,
		pusher:        pusher,
		orchestrator:  orchestrator,
		patients:      records.NewPatientService(tracker, store, logger),
		prescriptions: records.NewPrescriptionService(tracker, store, logger),
	}, nil
}

// close releases the app's resources.
func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", slog.String("error", err.Error()))
	}
}

// buildTokenSource loads the persisted credential. When no token file
// exists yet the client still works offline: the static empty source fails
// only when a network call is attempted, and the nil auth gate result keeps
// the orchestrator in its disabled state until login.
func buildTokenSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (api.TokenSource, syncpkg.AuthGate) {
	oauthCfg := &oauth2.Config{
		Endpoint: oauth2.Endpoint{TokenURL: cfg.Server.URL + "/oauth/token"},
	}

	src, err := api.TokenSourceFromPath(ctx, cfg.Server.TokenPath, oauthCfg, logger)
	if err != nil {
		if !errors.Is(err, api.ErrNotAuthenticated) {
			logger.Warn("could not load credential",
				slog.String("path", cfg.Server.TokenPath),
				slog.String("error", err.Error()),
			)
		}

		return api.StaticTokenSource(""), notAuthenticatedGate{}
	}

	return src, src
}

// notAuthenticatedGate always reports missing credentials.
type notAuthenticatedGate struct{}

func (notAuthenticatedGate) Valid(context.Context) error {
	return api.ErrNotAuthenticated
}
