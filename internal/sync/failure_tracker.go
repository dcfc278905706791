package sync

import (
	"log/slog"
	"sync"
	"time"
)

// Dead-letter suppression constants.
const (
	failureThreshold = 3                // skip after this many failures
	failureCooldown  = 30 * time.Minute // forget failures older than this
)

// failureRecord tracks push failures for a single local record.
type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// failureTracker suppresses records that fail to push repeatedly.
// Thread-safe. Records that fail >= failureThreshold times within
// failureCooldown are skipped with a Warn log until the cooldown expires.
// A successful push clears the record.
type failureTracker struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for testing
}

// newFailureTracker creates a failure tracker for the push pipeline.
func newFailureTracker(logger *slog.Logger) *failureTracker {
	return &failureTracker{
		records: make(map[string]*failureRecord),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// shouldSkip returns true if the record has failed enough times within the
// cooldown window that it should be suppressed this cycle.
func (ft *failureTracker) shouldSkip(localID string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[localID]
	if !ok {
		return false
	}

	// Forget stale failures.
	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		delete(ft.records, localID)
		return false
	}

	return rec.count >= failureThreshold
}

// recordFailure increments the failure counter for a record.
func (ft *failureTracker) recordFailure(localID, errMsg string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[localID]
	if !ok {
		rec = &failureRecord{}
		ft.records[localID] = rec
	}

	// Reset if the previous failure is older than the cooldown.
	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastErr = errMsg
	rec.lastAt = ft.nowFunc()

	if rec.count == failureThreshold {
		ft.logger.Warn("record suppressed after repeated push failures",
			slog.String("local_id", localID),
			slog.Int("failures", rec.count),
			slog.String("last_error", errMsg),
			slog.Duration("cooldown", failureCooldown),
		)
	}
}

// recordSuccess clears the failure record for a local record.
func (ft *failureTracker) recordSuccess(localID string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, localID)
}

// suppressedCount returns the number of currently suppressed records.
// Used by the status command.
func (ft *failureTracker) suppressedCount() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	n := 0
	now := ft.nowFunc()

	for _, rec := range ft.records {
		if rec.count >= failureThreshold && now.Sub(rec.lastAt) <= failureCooldown {
			n++
		}
	}

	return n
}
