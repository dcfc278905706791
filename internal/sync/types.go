// Package sync implements the offline-first synchronization engine for
// medsync. It provides the local record store, the mutation tracker, the
// push and pull pipelines, the append-only sync log, and the single-flight
// orchestrator that ties them together.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medrex/medsync/internal/api"
)

// SyncState is the per-record synchronization state. It is a closed
// enumeration: ParseSyncState rejects anything outside the four values,
// so an invalid state never round-trips through the database.
type SyncState string

// Sync states as stored in the records.sync_state column.
const (
	StatePendingCreate SyncState = "pending_create"
	StatePendingUpdate SyncState = "pending_update"
	StatePendingDelete SyncState = "pending_delete"
	StateSynced        SyncState = "synced"
)

// ParseSyncState converts a database TEXT value to a SyncState.
func ParseSyncState(s string) (SyncState, error) {
	switch SyncState(s) {
	case StatePendingCreate, StatePendingUpdate, StatePendingDelete, StateSynced:
		return SyncState(s), nil
	default:
		return "", fmt.Errorf("sync: unknown sync state %q", s)
	}
}

// Pending reports whether the state requires a push to the remote service.
func (s SyncState) Pending() bool {
	return s == StatePendingCreate || s == StatePendingUpdate || s == StatePendingDelete
}

// Record is a tracked domain record in the local store. LocalID is assigned
// at creation and stable for the lifetime of the row; ServerID is empty
// until the remote service has accepted the record.
type Record struct {
	LocalID    string
	EntityType string
	ServerID   string
	Fields     json.RawMessage // entity-specific domain fields
	State      SyncState

	CreatedAt    int64  // row creation (Unix nanoseconds)
	UpdatedAt    int64  // last local mutation (Unix nanoseconds)
	LastSyncedAt *int64 // last successful remote confirmation; nil if never synced
}

// LogAction is the operation recorded by a sync log entry.
type LogAction string

// Actions as stored in the sync_log.action column.
const (
	LogActionCreate    LogAction = "create"
	LogActionUpdate    LogAction = "update"
	LogActionDelete    LogAction = "delete"
	LogActionPullApply LogAction = "pull-apply"
)

// LogStatus is the outcome recorded by a sync log entry.
type LogStatus string

// Outcomes as stored in the sync_log.status column.
const (
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
)

// LogEntry is one row of the append-only sync log. The engine only ever
// inserts entries; retention and rotation are external policy.
type LogEntry struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"` // local_id of the affected record
	Action     LogAction `json:"action"`
	Status     LogStatus `json:"status"`
	Error      string    `json:"error,omitempty"` // empty on success
	CreatedAt  int64     `json:"created_at"`      // Unix nanoseconds
}

// --- Consumer-defined interfaces for the remote API client ---
// These decouple the sync package from api's concrete client, following
// the "accept interfaces, return structs" Go convention.

// RecordClient performs create/update/delete operations against the remote
// service. Satisfied by *api.Client.
type RecordClient interface {
	CreateRecord(ctx context.Context, entityType string, fields json.RawMessage) (*api.RemoteRecord, error)
	UpdateRecord(ctx context.Context, entityType, serverID string, fields json.RawMessage) (*api.RemoteRecord, error)
	DeleteRecord(ctx context.Context, entityType, serverID string) error
}

// ChangeFetcher retrieves remote changes since a checkpoint cursor.
// Satisfied by *api.Client.
type ChangeFetcher interface {
	// Changes returns one page of changes strictly after the cursor.
	// Pass an empty cursor for initial enumeration.
	Changes(ctx context.Context, entityType, cursor string) (*api.ChangePage, error)
}

// Store is the interface for the local record database. All engine
// components operate against this interface rather than the concrete
// SQLite implementation.
type Store interface {
	// Records
	GetRecord(ctx context.Context, localID string) (*Record, error)
	GetRecordByServerID(ctx context.Context, entityType, serverID string) (*Record, error)
	UpsertRecord(ctx context.Context, rec *Record) error
	DeleteRecord(ctx context.Context, localID string) error
	ListPending(ctx context.Context, entityType string) ([]*Record, error)
	ListAll(ctx context.Context, entityType string) ([]*Record, error)
	CountByState(ctx context.Context, entityType string) (map[SyncState]int, error)

	// Guarded writes for the pipelines. Each takes the updated_at value
	// the caller read and refuses to write over a newer local mutation.
	ConfirmPush(ctx context.Context, localID, serverID string, syncedAt, expectedUpdatedAt int64) (bool, error)
	ApplyRemoteFields(ctx context.Context, localID string, fields json.RawMessage, appliedAt, expectedUpdatedAt int64) (bool, error)
	DeleteRecordIfUnchanged(ctx context.Context, localID string, expectedUpdatedAt int64) (bool, error)

	// Checkpoints
	GetCheckpoint(ctx context.Context, entityType string) (string, error)
	SaveCheckpoint(ctx context.Context, entityType, cursor string) error
	DeleteCheckpoint(ctx context.Context, entityType string) error

	// Sync log (append-only)
	AppendLog(ctx context.Context, entry *LogEntry) error
	ListLog(ctx context.Context, limit int) ([]*LogEntry, error)
	ListLogFailures(ctx context.Context, since int64) ([]*LogEntry, error)

	// Maintenance
	Close() error
}

// --- Timestamp helpers ---
// All internal code uses int64 Unix nanoseconds exclusively. Conversion
// happens at system boundaries only.

// NowNano returns the current time as Unix nanoseconds.
func NowNano() int64 {
	return time.Now().UnixNano()
}

// Int64Ptr returns a pointer to the given int64 value.
// Used for nullable database columns.
func Int64Ptr(v int64) *int64 {
	return &v
}
