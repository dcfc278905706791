package sync

import "errors"

// Sentinel errors for the sync engine. Callers match with errors.Is.
var (
	// ErrRecordNotFound indicates the local ID does not exist in the store.
	ErrRecordNotFound = errors.New("record not found")

	// ErrRecordDeleted indicates a mutation targeted a record already
	// marked for deletion.
	ErrRecordDeleted = errors.New("record is pending deletion")

	// ErrSyncInProgress indicates a sync cycle is already running; the
	// trigger was dropped rather than queued.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSyncDisabled indicates the engine is disabled (not authenticated)
	// and will not run cycles until credentials are restored.
	ErrSyncDisabled = errors.New("sync is disabled")
)
