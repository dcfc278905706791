package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	gosync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/medrex/medsync/internal/api"
)

// Default worker count for parallel pushes within one entity type.
const defaultPushWorkers = 4

// PushReport summarizes one push pass over a single entity type.
type PushReport struct {
	EntityType string
	Created    int
	Updated    int
	Deleted    int
	Failed     int
	Suppressed int
}

// Total returns the number of records that reached the server successfully.
func (r *PushReport) Total() int {
	return r.Created + r.Updated + r.Deleted
}

// FieldRewriter adjusts a record's domain fields immediately before they
// are sent to the server, e.g. replacing a local cross-record reference
// with the referenced record's server ID. The stored row is untouched; an
// error fails the push and leaves the record pending for a later cycle.
type FieldRewriter func(ctx context.Context, rec *Record) (json.RawMessage, error)

// Pusher drains pending local mutations to the remote service. Records
// within one entity type are pushed through a bounded worker pool; each
// record's outcome is independent, so one failure never blocks the rest.
type Pusher struct {
	store     Store
	client    RecordClient
	logbook   *Logbook
	failures  *failureTracker
	rewriters map[string]FieldRewriter
	workers   int
	logger    *slog.Logger
}

// NewPusher creates a Pusher. workers <= 0 selects the default pool size.
func NewPusher(store Store, client RecordClient, logbook *Logbook, logger *slog.Logger) *Pusher {
	return &Pusher{
		store:     store,
		client:    client,
		logbook:   logbook,
		failures:  newFailureTracker(logger),
		rewriters: make(map[string]FieldRewriter),
		workers:   defaultPushWorkers,
		logger:    logger,
	}
}

// SetWorkers overrides the worker pool size. Values <= 0 are ignored.
func (p *Pusher) SetWorkers(n int) {
	if n > 0 {
		p.workers = n
	}
}

// SetRewriter registers a push-time field rewriter for one entity type.
// Call before the first Push; rewriters are not guarded for concurrent
// registration.
func (p *Pusher) SetRewriter(entityType string, fn FieldRewriter) {
	p.rewriters[entityType] = fn
}

// Push drains all pending mutations for one entity type. It returns a
// report even when some records fail; the error is non-nil only for fatal
// conditions (context cancellation, store corruption) that abort the pass.
func (p *Pusher) Push(ctx context.Context, entityType string) (*PushReport, error) {
	pending, err := p.store.ListPending(ctx, entityType)
	if err != nil {
		return nil, err
	}

	report := &PushReport{EntityType: entityType}

	if len(pending) == 0 {
		return report, nil
	}

	p.logger.Info("pushing pending mutations",
		"entity_type", entityType, "count", len(pending), "workers", p.workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	var mu gosync.Mutex

	for _, rec := range pending {
		rec := rec
		g.Go(func() error {
			if p.failures.shouldSkip(rec.LocalID) {
				mu.Lock()
				report.Suppressed++
				mu.Unlock()

				return nil
			}

			outcome, err := p.pushOne(gctx, rec)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}

				mu.Lock()
				report.Failed++
				mu.Unlock()

				return nil // per-record independence: keep draining
			}

			mu.Lock()
			switch outcome {
			case LogActionCreate:
				report.Created++
			case LogActionUpdate:
				report.Updated++
			case LogActionDelete:
				report.Deleted++
			}
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	p.logger.Info("push pass complete",
		"entity_type", entityType,
		"created", report.Created,
		"updated", report.Updated,
		"deleted", report.Deleted,
		"failed", report.Failed,
		"suppressed", report.Suppressed,
	)

	return report, nil
}

// pushOne drives a single record through its pending operation. The record's
// sync_state, not a separate queue, decides the HTTP verb: no server_id plus
// pending_create means POST, pending_update means PUT, pending_delete means
// DELETE. On success the record transitions to synced (or is destroyed for
// deletes); on failure it keeps its pending state for the next cycle.
func (p *Pusher) pushOne(ctx context.Context, rec *Record) (LogAction, error) {
	switch rec.State {
	case StatePendingCreate:
		return LogActionCreate, p.pushCreate(ctx, rec)
	case StatePendingUpdate:
		return LogActionUpdate, p.pushUpdate(ctx, rec)
	case StatePendingDelete:
		return LogActionDelete, p.pushDelete(ctx, rec)
	default:
		// ListPending never returns synced rows; defensive no-op.
		return "", nil
	}
}

func (p *Pusher) pushCreate(ctx context.Context, rec *Record) error {
	payload, err := p.wireFields(ctx, rec)
	if err != nil {
		return p.recordPushFailure(ctx, rec, LogActionCreate, err)
	}

	remote, err := p.client.CreateRecord(ctx, rec.EntityType, payload)
	if err != nil {
		return p.recordPushFailure(ctx, rec, LogActionCreate, err)
	}

	rec.ServerID = remote.ServerID

	return p.markSynced(ctx, rec, LogActionCreate)
}

func (p *Pusher) pushUpdate(ctx context.Context, rec *Record) error {
	payload, err := p.wireFields(ctx, rec)
	if err != nil {
		return p.recordPushFailure(ctx, rec, LogActionUpdate, err)
	}

	_, err = p.client.UpdateRecord(ctx, rec.EntityType, rec.ServerID, payload)
	if err != nil {
		return p.recordPushFailure(ctx, rec, LogActionUpdate, err)
	}

	return p.markSynced(ctx, rec, LogActionUpdate)
}

// wireFields returns the payload to send for a record, applying the entity
// type's rewriter when one is registered.
func (p *Pusher) wireFields(ctx context.Context, rec *Record) (json.RawMessage, error) {
	rw := p.rewriters[rec.EntityType]
	if rw == nil {
		return rec.Fields, nil
	}

	return rw(ctx, rec)
}

func (p *Pusher) pushDelete(ctx context.Context, rec *Record) error {
	// A tombstone without a server ID means the create never succeeded;
	// nothing exists remotely, so destroy the row without a network call.
	if rec.ServerID == "" {
		if err := p.store.DeleteRecord(ctx, rec.LocalID); err != nil {
			return err
		}

		p.failures.recordSuccess(rec.LocalID)

		return p.logbook.Success(ctx, rec.EntityType, rec.LocalID, LogActionDelete)
	}

	err := p.client.DeleteRecord(ctx, rec.EntityType, rec.ServerID)

	// Already gone remotely counts as a successful delete.
	if err != nil && !errors.Is(err, api.ErrNotFound) {
		return p.recordPushFailure(ctx, rec, LogActionDelete, err)
	}

	if err := p.store.DeleteRecord(ctx, rec.LocalID); err != nil {
		return err
	}

	p.failures.recordSuccess(rec.LocalID)

	p.logger.Info("record deleted remotely",
		"entity_type", rec.EntityType, "local_id", rec.LocalID, "server_id", rec.ServerID)

	return p.logbook.Success(ctx, rec.EntityType, rec.LocalID, LogActionDelete)
}

// markSynced persists the synced transition after a confirmed push. The
// transition is guarded by the updated_at the push read: a local edit
// committed while the remote call was in flight keeps its pending state
// and only the server identity is recorded, so the edit goes out on the
// next cycle instead of being overwritten.
func (p *Pusher) markSynced(ctx context.Context, rec *Record, action LogAction) error {
	synced, err := p.store.ConfirmPush(ctx, rec.LocalID, rec.ServerID, NowNano(), rec.UpdatedAt)
	if err != nil {
		return err
	}

	p.failures.recordSuccess(rec.LocalID)

	if synced {
		p.logger.Info("record pushed",
			"entity_type", rec.EntityType,
			"local_id", rec.LocalID,
			"server_id", rec.ServerID,
			"action", string(action),
		)
	} else {
		p.logger.Info("record mutated during push, left pending",
			"entity_type", rec.EntityType,
			"local_id", rec.LocalID,
			"server_id", rec.ServerID,
			"action", string(action),
		)
	}

	return p.logbook.Success(ctx, rec.EntityType, rec.LocalID, action)
}

// recordPushFailure logs a failed push and feeds the dead-letter tracker.
// The record keeps its pending state so the next cycle retries it.
// Transient failures resolve on their own once connectivity returns; only
// rejections count toward dead-letter suppression.
func (p *Pusher) recordPushFailure(ctx context.Context, rec *Record, action LogAction, cause error) error {
	transient := api.IsTransient(cause)

	p.logger.Warn("record push failed",
		"entity_type", rec.EntityType,
		"local_id", rec.LocalID,
		"action", string(action),
		"transient", transient,
		"error", cause,
	)

	if !transient {
		p.failures.recordFailure(rec.LocalID, cause.Error())
	}

	if logErr := p.logbook.Failure(ctx, rec.EntityType, rec.LocalID, action, cause); logErr != nil {
		p.logger.Error("failed to record push failure", "error", logErr)
	}

	return cause
}

// SuppressedCount returns the number of records currently held back by the
// dead-letter tracker.
func (p *Pusher) SuppressedCount() int {
	return p.failures.suppressedCount()
}
