package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Tracker is the single entry point for local mutations. Every create,
// update, and delete flows through it so that each record's sync_state
// always reflects the work the push pipeline owes the server. Tracker
// methods never perform network I/O; they only adjust local state.
type Tracker struct {
	store  Store
	logger *slog.Logger

	// notify, when set, is called after every recorded mutation. The
	// orchestrator uses it to schedule a sync cycle. Must not block.
	notify func()
}

// NewTracker creates a Tracker over the given store.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// SetNotify installs a callback invoked after each recorded mutation.
func (t *Tracker) SetNotify(fn func()) {
	t.notify = fn
}

// Create records a brand-new local record. The record gets a fresh local ID,
// no server ID, and state pending_create.
func (t *Tracker) Create(ctx context.Context, entityType string, fields json.RawMessage) (*Record, error) {
	now := NowNano()

	rec := &Record{
		LocalID:    uuid.NewString(),
		EntityType: entityType,
		Fields:     fields,
		State:      StatePendingCreate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := t.store.UpsertRecord(ctx, rec); err != nil {
		return nil, err
	}

	t.logger.Info("recorded local create",
		"entity_type", entityType, "local_id", rec.LocalID)

	t.fireNotify()

	return rec, nil
}

// Update records a modification to an existing local record.
//
// State transitions:
//   - synced         -> pending_update
//   - pending_create -> pending_create (the eventual create carries the new fields)
//   - pending_update -> pending_update (edits coalesce into one push)
//   - pending_delete -> error (the record is already condemned)
func (t *Tracker) Update(ctx context.Context, localID string, fields json.RawMessage) (*Record, error) {
	rec, err := t.store.GetRecord(ctx, localID)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		return nil, fmt.Errorf("sync: updating record %s: %w", localID, ErrRecordNotFound)
	}

	if rec.State == StatePendingDelete {
		return nil, fmt.Errorf("sync: updating record %s: %w", localID, ErrRecordDeleted)
	}

	rec.Fields = fields
	rec.UpdatedAt = NowNano()

	// A record the server has never seen stays pending_create; its first
	// push will carry the latest fields.
	if rec.State == StateSynced {
		rec.State = StatePendingUpdate
	}

	if err := t.store.UpsertRecord(ctx, rec); err != nil {
		return nil, err
	}

	t.logger.Info("recorded local update",
		"entity_type", rec.EntityType, "local_id", localID, "state", string(rec.State))

	t.fireNotify()

	return rec, nil
}

// Delete records a deletion of a local record.
//
// State transitions:
//   - pending_create -> row destroyed immediately (the server never saw it,
//     so no deletion needs to be pushed)
//   - synced         -> pending_delete tombstone
//   - pending_update -> pending_delete tombstone (the pending edit is moot)
//   - pending_delete -> no-op (idempotent)
func (t *Tracker) Delete(ctx context.Context, localID string) error {
	rec, err := t.store.GetRecord(ctx, localID)
	if err != nil {
		return err
	}

	if rec == nil {
		return fmt.Errorf("sync: deleting record %s: %w", localID, ErrRecordNotFound)
	}

	switch rec.State {
	case StatePendingCreate:
		if err := t.store.DeleteRecord(ctx, localID); err != nil {
			return err
		}

		t.logger.Info("destroyed unsent record",
			"entity_type", rec.EntityType, "local_id", localID)

	case StatePendingDelete:
		// Already condemned, nothing to do.
		return nil

	default:
		rec.State = StatePendingDelete
		rec.UpdatedAt = NowNano()

		if err := t.store.UpsertRecord(ctx, rec); err != nil {
			return err
		}

		t.logger.Info("recorded local delete",
			"entity_type", rec.EntityType, "local_id", localID)
	}

	t.fireNotify()

	return nil
}

func (t *Tracker) fireNotify() {
	if t.notify != nil {
		t.notify()
	}
}
