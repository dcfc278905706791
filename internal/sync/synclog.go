package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Logbook records the per-record outcome of every synchronization attempt.
// Entries are append-only and carry enough detail to answer "what happened
// to this record and when" without consulting server-side logs.
type Logbook struct {
	store  Store
	logger *slog.Logger
}

// NewLogbook creates a Logbook writing through the given store.
func NewLogbook(store Store, logger *slog.Logger) *Logbook {
	return &Logbook{store: store, logger: logger}
}

// Append records one sync attempt outcome. errText is empty for successes.
func (l *Logbook) Append(ctx context.Context, entityType, entityID string, action LogAction, status LogStatus, errText string) error {
	entry := &LogEntry{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Status:     status,
		Error:      errText,
		CreatedAt:  NowNano(),
	}

	if err := l.store.AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("sync: recording %s %s for %s: %w", action, status, entityID, err)
	}

	return nil
}

// Success records a successful sync attempt.
func (l *Logbook) Success(ctx context.Context, entityType, entityID string, action LogAction) error {
	return l.Append(ctx, entityType, entityID, action, LogStatusSuccess, "")
}

// Failure records a failed sync attempt with the error message.
func (l *Logbook) Failure(ctx context.Context, entityType, entityID string, action LogAction, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	return l.Append(ctx, entityType, entityID, action, LogStatusFailed, msg)
}

// Recent returns the most recent entries, newest first.
func (l *Logbook) Recent(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	return l.store.ListLog(ctx, limit)
}

// Failures returns failed entries within the given window, newest first.
func (l *Logbook) Failures(ctx context.Context, window time.Duration) ([]*LogEntry, error) {
	since := time.Now().Add(-window).UnixNano()

	return l.store.ListLogFailures(ctx, since)
}
