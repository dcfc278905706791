package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/medrex/medsync/internal/api"
)

// errCheckpointExpired is a sentinel used internally to signal that the
// server reported the stored checkpoint as expired (HTTP 410) and a full
// re-enumeration is needed. The caller (Pull) retries with an empty cursor
// when it sees this error.
var errCheckpointExpired = errors.New("checkpoint expired")

// PullReport summarizes one pull pass over a single entity type.
type PullReport struct {
	EntityType string
	Pages      int
	Applied    int
	Skipped    int // incoming changes shadowed by pending local intent
	Removed    int // remote deletions applied locally
}

// Puller fetches remote changes page by page and applies them to the local
// store. Application is idempotent upsert-by-server-ID, so the at-least-once
// delivery that follows a crash between apply and checkpoint save converges
// to the same state. The checkpoint for a page is persisted only after every
// record on that page has been applied.
type Puller struct {
	store   Store
	fetcher ChangeFetcher
	logbook *Logbook
	logger  *slog.Logger
}

// NewPuller creates a Puller over the given store and change source.
func NewPuller(store Store, fetcher ChangeFetcher, logbook *Logbook, logger *slog.Logger) *Puller {
	return &Puller{
		store:   store,
		fetcher: fetcher,
		logbook: logbook,
		logger:  logger,
	}
}

// Pull fetches and applies all remote changes for one entity type since the
// stored checkpoint. On an expired checkpoint it resets the cursor and
// re-enumerates the full collection from scratch.
func (p *Puller) Pull(ctx context.Context, entityType string) (*PullReport, error) {
	cursor, err := p.store.GetCheckpoint(ctx, entityType)
	if err != nil {
		return nil, err
	}

	p.logger.Info("starting pull",
		slog.String("entity_type", entityType),
		slog.Bool("initial_sync", cursor == ""),
	)

	report := &PullReport{EntityType: entityType}

	err = p.pullPages(ctx, entityType, cursor, report)
	if errors.Is(err, errCheckpointExpired) {
		// Full re-enumeration with an empty cursor. Idempotent apply makes
		// re-seeing every record safe.
		err = p.pullPages(ctx, entityType, "", report)
	}

	if err != nil {
		return report, err
	}

	p.logger.Info("pull finished",
		slog.String("entity_type", entityType),
		slog.Int("pages", report.Pages),
		slog.Int("applied", report.Applied),
		slog.Int("skipped", report.Skipped),
		slog.Int("removed", report.Removed),
	)

	return report, nil
}

// pullPages loops through change pages until the server reports no more.
// Each page is applied fully before its checkpoint is saved; a failure
// mid-page leaves the previous checkpoint intact so the page is refetched
// next cycle.
func (p *Puller) pullPages(ctx context.Context, entityType, cursor string, report *PullReport) error {
	for {
		page, err := p.fetcher.Changes(ctx, entityType, cursor)
		if err != nil {
			return p.handleFetchError(ctx, entityType, err)
		}

		for i := range page.Records {
			if err := p.applyChange(ctx, entityType, &page.Records[i], report); err != nil {
				return fmt.Errorf("sync: applying change %s/%s: %w",
					entityType, page.Records[i].ServerID, err)
			}
		}

		// Checkpoint only after the whole page applied.
		if err := p.store.SaveCheckpoint(ctx, entityType, page.NextCheckpoint); err != nil {
			return err
		}

		report.Pages++
		cursor = page.NextCheckpoint

		if !page.HasMore {
			return nil
		}
	}
}

// handleFetchError distinguishes an expired checkpoint (HTTP 410) from other
// fetch errors. On expiry the stored checkpoint is deleted and
// errCheckpointExpired returned so the caller can re-enumerate. A malformed
// response aborts without touching the checkpoint.
func (p *Puller) handleFetchError(ctx context.Context, entityType string, err error) error {
	if !errors.Is(err, api.ErrGone) {
		return fmt.Errorf("sync: fetching changes for %s: %w", entityType, err)
	}

	p.logger.Warn("checkpoint expired, re-enumerating",
		slog.String("entity_type", entityType),
	)

	if delErr := p.store.DeleteCheckpoint(ctx, entityType); delErr != nil {
		return fmt.Errorf("sync: deleting expired checkpoint: %w", delErr)
	}

	return errCheckpointExpired
}

// applyChange implements the per-record decision tree: unknown server ID
// inserts a synced copy, a locally synced record takes the server's fields,
// and any record with pending local intent shadows the incoming change until
// its own push resolves. Remote deletions follow the same rule.
func (p *Puller) applyChange(ctx context.Context, entityType string, remote *api.RemoteRecord, report *PullReport) error {
	existing, err := p.store.GetRecordByServerID(ctx, entityType, remote.ServerID)
	if err != nil {
		return err
	}

	if remote.Deleted {
		return p.applyRemoteDeletion(ctx, entityType, existing, remote, report)
	}

	if existing == nil {
		return p.applyNewRecord(ctx, entityType, remote, report)
	}

	if existing.State.Pending() {
		// First local intent wins on this client; the shadowed server
		// version resurfaces on the pull after our push resolves.
		p.logger.Debug("skipping remote change shadowed by local intent",
			slog.String("entity_type", entityType),
			slog.String("server_id", remote.ServerID),
			slog.String("state", string(existing.State)),
		)

		report.Skipped++

		return nil
	}

	return p.applyRemoteUpdate(ctx, existing, remote, report)
}

// applyNewRecord inserts a record first seen from the server. It is born
// synced with a fresh local ID.
func (p *Puller) applyNewRecord(ctx context.Context, entityType string, remote *api.RemoteRecord, report *PullReport) error {
	now := NowNano()

	rec := &Record{
		LocalID:      uuid.NewString(),
		EntityType:   entityType,
		ServerID:     remote.ServerID,
		Fields:       remote.Fields,
		State:        StateSynced,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastSyncedAt: Int64Ptr(now),
	}

	if err := p.store.UpsertRecord(ctx, rec); err != nil {
		return err
	}

	p.logger.Info("inserted remote record",
		slog.String("entity_type", entityType),
		slog.String("server_id", remote.ServerID),
		slog.String("local_id", rec.LocalID),
	)

	report.Applied++

	return p.logbook.Success(ctx, entityType, rec.LocalID, LogActionPullApply)
}

// applyRemoteUpdate overwrites a locally synced record with the server's
// version. Losing the local copy is safe: synced means the server already
// has everything this client ever sent. The write is guarded by the
// updated_at the lookup read, so a local edit committed in the meantime
// shadows this change like any other pending intent.
func (p *Puller) applyRemoteUpdate(ctx context.Context, existing *Record, remote *api.RemoteRecord, report *PullReport) error {
	applied, err := p.store.ApplyRemoteFields(ctx, existing.LocalID, remote.Fields, NowNano(), existing.UpdatedAt)
	if err != nil {
		return err
	}

	if !applied {
		p.logger.Debug("skipping remote update, record mutated during apply",
			slog.String("entity_type", existing.EntityType),
			slog.String("server_id", remote.ServerID),
			slog.String("local_id", existing.LocalID),
		)

		report.Skipped++

		return nil
	}

	p.logger.Debug("applied remote update",
		slog.String("entity_type", existing.EntityType),
		slog.String("server_id", remote.ServerID),
		slog.String("local_id", existing.LocalID),
	)

	report.Applied++

	return p.logbook.Success(ctx, existing.EntityType, existing.LocalID, LogActionPullApply)
}

// applyRemoteDeletion removes the local copy of a record deleted on the
// server. Unknown records and records with pending local intent are left
// alone; a pending record's own push will surface the conflict.
func (p *Puller) applyRemoteDeletion(ctx context.Context, entityType string, existing *Record, remote *api.RemoteRecord, report *PullReport) error {
	if existing == nil {
		p.logger.Debug("skipping remote deletion for unknown record",
			slog.String("entity_type", entityType),
			slog.String("server_id", remote.ServerID),
		)

		return nil
	}

	if existing.State.Pending() {
		p.logger.Debug("skipping remote deletion shadowed by local intent",
			slog.String("entity_type", entityType),
			slog.String("server_id", remote.ServerID),
			slog.String("state", string(existing.State)),
		)

		report.Skipped++

		return nil
	}

	deleted, err := p.store.DeleteRecordIfUnchanged(ctx, existing.LocalID, existing.UpdatedAt)
	if err != nil {
		return err
	}

	if !deleted {
		p.logger.Debug("skipping remote deletion, record mutated during apply",
			slog.String("entity_type", entityType),
			slog.String("server_id", remote.ServerID),
			slog.String("local_id", existing.LocalID),
		)

		report.Skipped++

		return nil
	}

	p.logger.Info("removed remotely deleted record",
		slog.String("entity_type", entityType),
		slog.String("server_id", remote.ServerID),
		slog.String("local_id", existing.LocalID),
	)

	report.Removed++

	return p.logbook.Success(ctx, entityType, existing.LocalID, LogActionPullApply)
}
