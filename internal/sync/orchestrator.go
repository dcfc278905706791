package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/medrex/medsync/internal/api"
	"github.com/medrex/medsync/internal/connectivity"
)

// Watch mode defaults.
const (
	defaultSyncInterval    = 5 * time.Minute
	defaultTriggerDebounce = 2 * time.Second
)

// Status is the orchestrator's coarse lifecycle state.
type Status string

// Orchestrator statuses.
const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusDisabled Status = "disabled"
)

// AuthGate reports whether credentials are available for remote calls.
// Satisfied by *api.FileTokenSource. The orchestrator checks it before each
// cycle and transitions to disabled when credentials are missing.
type AuthGate interface {
	Valid(ctx context.Context) error
}

// CycleReport summarizes one complete push-then-pull cycle.
type CycleReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Pushes    []*PushReport
	Pulls     []*PullReport
}

// Pushed returns the total records pushed across all entity types.
func (r *CycleReport) Pushed() int {
	n := 0
	for _, p := range r.Pushes {
		n += p.Total()
	}

	return n
}

// Pulled returns the total remote changes applied across all entity types.
func (r *CycleReport) Pulled() int {
	n := 0
	for _, p := range r.Pulls {
		n += p.Applied + p.Removed
	}

	return n
}

// Orchestrator coordinates push and pull passes into serialized sync
// cycles. At most one cycle runs at a time: a trigger arriving while a
// cycle is in flight is dropped, not queued, because the running cycle
// already drains all pending work.
type Orchestrator struct {
	store       Store
	pusher      *Pusher
	puller      *Puller
	authGate    AuthGate
	entityOrder []string
	logger      *slog.Logger

	// cycleMu serializes cycles. TryLock gives single-flight semantics.
	cycleMu gosync.Mutex

	// stateMu guards status and lastCycle.
	stateMu   gosync.Mutex
	status    Status
	lastCycle *CycleReport

	// trigger carries manual sync requests into the watch loop. Buffered
	// size 1 so a pending trigger coalesces with later ones.
	trigger chan struct{}
}

// NewOrchestrator creates an Orchestrator. entityOrder lists entity types
// in dependency order: parents before children, so a patient exists
// remotely before its prescriptions reference it.
func NewOrchestrator(store Store, pusher *Pusher, puller *Puller, authGate AuthGate, entityOrder []string, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:       store,
		pusher:      pusher,
		puller:      puller,
		authGate:    authGate,
		entityOrder: entityOrder,
		logger:      logger,
		trigger:     make(chan struct{}, 1),
	}
	o.status = StatusIdle

	return o
}

// Status returns the orchestrator's current lifecycle state.
func (o *Orchestrator) Status() Status {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	return o.status
}

func (o *Orchestrator) setStatus(s Status) {
	o.stateMu.Lock()
	o.status = s
	o.stateMu.Unlock()
}

// LastCycle returns the most recent completed cycle report, or nil if no
// cycle has run yet.
func (o *Orchestrator) LastCycle() *CycleReport {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()

	return o.lastCycle
}

func (o *Orchestrator) setLastCycle(r *CycleReport) {
	o.stateMu.Lock()
	o.lastCycle = r
	o.stateMu.Unlock()
}

// Trigger requests a sync cycle. Non-blocking: if a trigger is already
// pending or a cycle is running, the request coalesces and the method
// returns immediately. Safe to call from any goroutine, including the
// mutation tracker's notify hook.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// SyncNow runs one complete push-then-pull cycle. Returns
// ErrSyncInProgress without blocking when a cycle is already running, and
// ErrSyncDisabled when credentials are missing.
func (o *Orchestrator) SyncNow(ctx context.Context) (*CycleReport, error) {
	if !o.cycleMu.TryLock() {
		o.logger.Debug("sync trigger dropped, cycle already running")

		return nil, ErrSyncInProgress
	}
	defer o.cycleMu.Unlock()

	if o.authGate != nil {
		if err := o.authGate.Valid(ctx); err != nil {
			o.setStatus(StatusDisabled)
			o.logger.Warn("sync disabled, credentials unavailable", "error", err)

			return nil, fmt.Errorf("%w: %v", ErrSyncDisabled, err)
		}
	}

	o.setStatus(StatusRunning)
	defer o.setStatus(StatusIdle)

	report, err := o.runCycle(ctx)
	if err != nil {
		// Auth failures mid-cycle park the engine until credentials return.
		if errors.Is(err, api.ErrUnauthorized) || errors.Is(err, api.ErrNotAuthenticated) {
			o.setStatus(StatusDisabled)
		}

		return report, err
	}

	o.setLastCycle(report)

	return report, nil
}

// runCycle pushes all entity types in dependency order, then pulls them
// all. Push precedes pull so locally pending records are not shadowed by
// stale server versions within the same cycle.
func (o *Orchestrator) runCycle(ctx context.Context) (*CycleReport, error) {
	started := time.Now()
	report := &CycleReport{StartedAt: started}

	o.logger.Info("sync cycle starting", "entity_types", o.entityOrder)

	for _, entityType := range o.entityOrder {
		pushReport, err := o.pusher.Push(ctx, entityType)
		if pushReport != nil {
			report.Pushes = append(report.Pushes, pushReport)
		}

		if err != nil {
			report.Duration = time.Since(started)

			return report, fmt.Errorf("sync: push %s: %w", entityType, err)
		}
	}

	for _, entityType := range o.entityOrder {
		pullReport, err := o.puller.Pull(ctx, entityType)
		if pullReport != nil {
			report.Pulls = append(report.Pulls, pullReport)
		}

		if err != nil {
			report.Duration = time.Since(started)

			return report, fmt.Errorf("sync: pull %s: %w", entityType, err)
		}
	}

	report.Duration = time.Since(started)

	o.logger.Info("sync cycle complete",
		slog.Duration("duration", report.Duration),
		slog.Int("pushed", report.Pushed()),
		slog.Int("pulled", report.Pulled()),
	)

	return report, nil
}

// WatchOpts holds per-session options for RunWatch.
type WatchOpts struct {
	Interval        time.Duration // periodic cycle interval (0 → 5m)
	TriggerDebounce time.Duration // quiet window after a trigger (0 → 2s)
}

// RunWatch runs a continuous sync loop: an initial cycle, then cycles on a
// periodic interval, on mutation triggers, and on connectivity regains.
// Blocks until the context is canceled, returning nil on clean shutdown.
// monitor may be nil; the loop then relies on triggers and the interval.
func (o *Orchestrator) RunWatch(ctx context.Context, monitor connectivity.Monitor, opts WatchOpts) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}

	debounce := opts.TriggerDebounce
	if debounce <= 0 {
		debounce = defaultTriggerDebounce
	}

	o.logger.Info("watch mode starting",
		slog.Duration("interval", interval),
		slog.Duration("debounce", debounce),
	)

	online := true

	var events <-chan connectivity.Event
	if monitor != nil {
		events = monitor.Events()
	}

	// Initial cycle. Failure is logged, not fatal: the loop retries on the
	// next interval tick.
	o.cycleIfOnline(ctx, online)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("watch mode stopped")

			return nil

		case <-ticker.C:
			o.cycleIfOnline(ctx, online)

		case <-o.trigger:
			// Let rapid mutation bursts coalesce before syncing.
			if !sleepCtx(ctx, debounce) {
				return nil
			}

			o.cycleIfOnline(ctx, online)

		case ev, ok := <-events:
			if !ok {
				events = nil

				o.logger.Warn("connectivity monitor closed, falling back to interval polling")

				continue
			}

			wasOnline := online
			online = ev.Online

			// Repeated Online events are change hints from the server;
			// both those and offline-to-online transitions warrant a cycle.
			switch {
			case ev.Online:
				if !wasOnline {
					o.logger.Info("connectivity regained, syncing")
				}

				o.cycleIfOnline(ctx, online)

			case wasOnline:
				o.logger.Info("connectivity lost, pausing sync")
			}
		}
	}
}

// cycleIfOnline runs one cycle unless offline. Lost cycles are not queued;
// the next trigger or tick covers the same pending work.
func (o *Orchestrator) cycleIfOnline(ctx context.Context, online bool) {
	if !online {
		o.logger.Debug("skipping cycle while offline")

		return
	}

	_, err := o.SyncNow(ctx)
	if err != nil && !errors.Is(err, ErrSyncInProgress) {
		o.logger.Warn("sync cycle failed", "error", err)
	}
}

// sleepCtx sleeps for d or until the context is canceled. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
