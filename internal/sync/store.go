package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// SQLiteStore implements the Store interface using an embedded SQLite
// database with WAL mode. All engine state (records, checkpoints, sync log)
// is persisted here and survives process restarts.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for repeated queries, grouped by domain.
	recordStmts     recordStatements
	checkpointStmts checkpointStatements
	logStmts        logStatements
}

// Statement groups to avoid a flat list of 15+ fields.
type recordStatements struct {
	get, getByServerID, upsert, delete, listPending, listAll, countByState *sql.Stmt

	// Guarded writes for the push and pull pipelines.
	confirmPush, recordServerIdentity, applyRemoteFields, deleteIfUnchanged *sql.Stmt
}

type checkpointStatements struct {
	get, save, delete *sql.Stmt
}

type logStatements struct {
	append, list, listFailures *sql.Stmt
}

// NewStore opens the database at dbPath, applies migrations, and prepares
// all repeated statements. Use ":memory:" for tests. The database runs in
// WAL mode with synchronous=FULL and a sole-writer connection pool.
func NewStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	logger.Info("opening record database", "path", dbPath)

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sync: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareAllStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync: preparing statements: %w", err)
	}

	logger.Info("record database ready", "path", dbPath)

	return s, nil
}

// --- SQL query constants ---

// Record queries.
const (
	sqlRecordColumns = `local_id, entity_type, server_id, fields, sync_state,
		created_at, updated_at, last_synced_at`

	sqlGetRecord = `SELECT ` + sqlRecordColumns +
		` FROM records WHERE local_id = ?`

	sqlGetRecordByServerID = `SELECT ` + sqlRecordColumns +
		` FROM records WHERE entity_type = ? AND server_id = ?`

	sqlUpsertRecord = `INSERT INTO records (` + sqlRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id      = excluded.server_id,
			fields         = excluded.fields,
			sync_state     = excluded.sync_state,
			updated_at     = excluded.updated_at,
			last_synced_at = excluded.last_synced_at`

	sqlDeleteRecord = `DELETE FROM records WHERE local_id = ?`

	sqlListPending = `SELECT ` + sqlRecordColumns +
		` FROM records
		WHERE entity_type = ? AND sync_state != 'synced'
		ORDER BY updated_at`

	sqlListAll = `SELECT ` + sqlRecordColumns +
		` FROM records WHERE entity_type = ? ORDER BY created_at`

	sqlCountByState = `SELECT sync_state, COUNT(*) FROM records
		WHERE entity_type = ? GROUP BY sync_state`
)

// Guarded write queries. updated_at acts as an optimistic version: a local
// mutation landing between a pipeline's read and its write bumps
// updated_at, so the guarded statement matches zero rows and the pipeline
// backs off instead of overwriting the newer local state.
const (
	sqlConfirmPush = `UPDATE records SET
			server_id      = ?,
			sync_state     = 'synced',
			last_synced_at = ?
		WHERE local_id = ? AND updated_at = ?`

	// Fallback when the guard misses: record the server identity so the
	// next push updates instead of creating a duplicate, and promote a
	// pending_create to pending_update now that the record exists remotely.
	sqlRecordServerIdentity = `UPDATE records SET
			server_id  = ?,
			sync_state = CASE sync_state
				WHEN 'pending_create' THEN 'pending_update'
				ELSE sync_state END
		WHERE local_id = ?`

	sqlApplyRemoteFields = `UPDATE records SET
			fields         = ?,
			updated_at     = ?,
			last_synced_at = ?
		WHERE local_id = ? AND updated_at = ?`

	sqlDeleteRecordIfUnchanged = `DELETE FROM records
		WHERE local_id = ? AND updated_at = ?`
)

// Checkpoint queries.
const (
	sqlGetCheckpoint = `SELECT cursor FROM checkpoints WHERE entity_type = ?`

	sqlSaveCheckpoint = `INSERT INTO checkpoints (entity_type, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_type) DO UPDATE SET
			cursor     = excluded.cursor,
			updated_at = excluded.updated_at`

	sqlDeleteCheckpoint = `DELETE FROM checkpoints WHERE entity_type = ?`
)

// Sync log queries. The log is append-only: no UPDATE or DELETE exists.
const (
	sqlAppendLog = `INSERT INTO sync_log
		(id, entity_type, entity_id, action, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	sqlListLog = `SELECT id, entity_type, entity_id, action, status, error, created_at
		FROM sync_log ORDER BY created_at DESC LIMIT ?`

	sqlListLogFailures = `SELECT id, entity_type, entity_id, action, status, error, created_at
		FROM sync_log WHERE status = 'failed' AND created_at >= ?
		ORDER BY created_at DESC`
)

// stmtDef maps a SQL string to the prepared statement pointer it should
// populate. Used by the generic prepare helper to eliminate repetitive
// error handling.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

// prepareAllStatements creates all prepared statements grouped by domain.
func (s *SQLiteStore) prepareAllStatements(ctx context.Context) error {
	if err := prepareAll(ctx, s.db, []stmtDef{
		{&s.recordStmts.get, sqlGetRecord, "getRecord"},
		{&s.recordStmts.getByServerID, sqlGetRecordByServerID, "getRecordByServerID"},
		{&s.recordStmts.upsert, sqlUpsertRecord, "upsertRecord"},
		{&s.recordStmts.delete, sqlDeleteRecord, "deleteRecord"},
		{&s.recordStmts.listPending, sqlListPending, "listPending"},
		{&s.recordStmts.listAll, sqlListAll, "listAll"},
		{&s.recordStmts.countByState, sqlCountByState, "countByState"},
		{&s.recordStmts.confirmPush, sqlConfirmPush, "confirmPush"},
		{&s.recordStmts.recordServerIdentity, sqlRecordServerIdentity, "recordServerIdentity"},
		{&s.recordStmts.applyRemoteFields, sqlApplyRemoteFields, "applyRemoteFields"},
		{&s.recordStmts.deleteIfUnchanged, sqlDeleteRecordIfUnchanged, "deleteRecordIfUnchanged"},
	}); err != nil {
		return err
	}

	if err := prepareAll(ctx, s.db, []stmtDef{
		{&s.checkpointStmts.get, sqlGetCheckpoint, "getCheckpoint"},
		{&s.checkpointStmts.save, sqlSaveCheckpoint, "saveCheckpoint"},
		{&s.checkpointStmts.delete, sqlDeleteCheckpoint, "deleteCheckpoint"},
	}); err != nil {
		return err
	}

	return prepareAll(ctx, s.db, []stmtDef{
		{&s.logStmts.append, sqlAppendLog, "appendLog"},
		{&s.logStmts.list, sqlListLog, "listLog"},
		{&s.logStmts.listFailures, sqlListLogFailures, "listLogFailures"},
	})
}

// --- Record scanning helpers ---

// scanRecord scans a full record row into a Record struct. Used by all
// record-returning queries to avoid duplicated column scanning.
func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	rec := &Record{}

	var (
		serverID     sql.NullString
		fieldsText   string
		state        string
		lastSyncedAt sql.NullInt64
	)

	// The fields column scans through a plain string: database/sql has no
	// conversion from a driver string into json.RawMessage.
	err := row.Scan(
		&rec.LocalID, &rec.EntityType, &serverID, &fieldsText, &state,
		&rec.CreatedAt, &rec.UpdatedAt, &lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseSyncState(state)
	if err != nil {
		return nil, err
	}

	rec.State = parsed
	rec.ServerID = serverID.String
	rec.Fields = json.RawMessage(fieldsText)

	if lastSyncedAt.Valid {
		rec.LastSyncedAt = Int64Ptr(lastSyncedAt.Int64)
	}

	return rec, nil
}

// scanRecordRows iterates over sql.Rows and collects Records.
func scanRecordRows(rows *sql.Rows) ([]*Record, error) {
	var records []*Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sync: scanning record row: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating record rows: %w", err)
	}

	return records, nil
}

// --- Record methods ---

// GetRecord retrieves a single record by local ID. Returns (nil, nil) if no
// record exists — callers (tracker, pull pipeline) use the nil record to
// distinguish "new record" from "existing record".
func (s *SQLiteStore) GetRecord(ctx context.Context, localID string) (*Record, error) {
	s.logger.Debug("getting record", "local_id", localID)

	rec, err := scanRecord(s.recordStmts.get.QueryRowContext(ctx, localID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sync: getting record %s: %w", localID, err)
	}

	return rec, nil
}

// GetRecordByServerID retrieves a record by its server-assigned identifier.
// Returns (nil, nil) if no local row carries this server ID — the pull
// pipeline uses the nil record to distinguish "new remote record" from
// "known record".
func (s *SQLiteStore) GetRecordByServerID(ctx context.Context, entityType, serverID string) (*Record, error) {
	s.logger.Debug("getting record by server id",
		"entity_type", entityType, "server_id", serverID)

	rec, err := scanRecord(s.recordStmts.getByServerID.QueryRowContext(ctx, entityType, serverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sync: getting record %s/%s: %w", entityType, serverID, err)
	}

	return rec, nil
}

// UpsertRecord inserts or updates a record.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *Record) error {
	s.logger.Debug("upserting record",
		"local_id", rec.LocalID, "entity_type", rec.EntityType, "state", string(rec.State))

	var lastSyncedAt sql.NullInt64
	if rec.LastSyncedAt != nil {
		lastSyncedAt = sql.NullInt64{Int64: *rec.LastSyncedAt, Valid: true}
	}

	_, err := s.recordStmts.upsert.ExecContext(ctx,
		rec.LocalID, rec.EntityType, nullString(rec.ServerID),
		string(rec.Fields), string(rec.State),
		rec.CreatedAt, rec.UpdatedAt, lastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("sync: upserting record %s: %w", rec.LocalID, err)
	}

	return nil
}

// DeleteRecord physically removes a record row. Only two paths reach this:
// a pending_delete row confirmed deleted remotely, and a pending_create row
// deleted locally before it ever reached the server.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, localID string) error {
	s.logger.Debug("deleting record", "local_id", localID)

	_, err := s.recordStmts.delete.ExecContext(ctx, localID)
	if err != nil {
		return fmt.Errorf("sync: deleting record %s: %w", localID, err)
	}

	return nil
}

// ListPending returns all records awaiting a push for one entity type,
// oldest mutation first.
func (s *SQLiteStore) ListPending(ctx context.Context, entityType string) ([]*Record, error) {
	s.logger.Debug("listing pending records", "entity_type", entityType)

	rows, err := s.recordStmts.listPending.QueryContext(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("sync: listing pending %s: %w", entityType, err)
	}
	defer rows.Close()

	return scanRecordRows(rows)
}

// ConfirmPush transitions a record to synced after a confirmed remote
// write, guarded by the updated_at value the push read. Returns false when
// a concurrent local mutation won the race: the record keeps its pending
// state and only the server identity is recorded, so the next cycle pushes
// the newer fields as an update instead of a duplicate create.
func (s *SQLiteStore) ConfirmPush(ctx context.Context, localID, serverID string, syncedAt, expectedUpdatedAt int64) (bool, error) {
	res, err := s.recordStmts.confirmPush.ExecContext(ctx,
		nullString(serverID), syncedAt, localID, expectedUpdatedAt)
	if err != nil {
		return false, fmt.Errorf("sync: confirming push for %s: %w", localID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sync: confirming push for %s: %w", localID, err)
	}

	if n > 0 {
		return true, nil
	}

	s.logger.Debug("record mutated during push, recording server identity only",
		"local_id", localID, "server_id", serverID)

	if _, err := s.recordStmts.recordServerIdentity.ExecContext(ctx, nullString(serverID), localID); err != nil {
		return false, fmt.Errorf("sync: recording server identity for %s: %w", localID, err)
	}

	return false, nil
}

// ApplyRemoteFields overwrites a record's domain fields with the server's
// version, guarded by the updated_at value the pull read. Returns false
// without writing when a concurrent local mutation won the race.
func (s *SQLiteStore) ApplyRemoteFields(ctx context.Context, localID string, fields json.RawMessage, appliedAt, expectedUpdatedAt int64) (bool, error) {
	res, err := s.recordStmts.applyRemoteFields.ExecContext(ctx,
		string(fields), appliedAt, appliedAt, localID, expectedUpdatedAt)
	if err != nil {
		return false, fmt.Errorf("sync: applying remote fields to %s: %w", localID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sync: applying remote fields to %s: %w", localID, err)
	}

	return n > 0, nil
}

// DeleteRecordIfUnchanged removes a record row only if no local mutation
// landed since the caller read it. Returns false when the guard missed.
func (s *SQLiteStore) DeleteRecordIfUnchanged(ctx context.Context, localID string, expectedUpdatedAt int64) (bool, error) {
	res, err := s.recordStmts.deleteIfUnchanged.ExecContext(ctx, localID, expectedUpdatedAt)
	if err != nil {
		return false, fmt.Errorf("sync: deleting record %s: %w", localID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sync: deleting record %s: %w", localID, err)
	}

	return n > 0, nil
}

// ListAll returns every record of one entity type, including tombstones.
func (s *SQLiteStore) ListAll(ctx context.Context, entityType string) ([]*Record, error) {
	rows, err := s.recordStmts.listAll.QueryContext(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("sync: listing all %s: %w", entityType, err)
	}
	defer rows.Close()

	return scanRecordRows(rows)
}

// CountByState returns the record count per sync state for one entity type.
// Used by the status command.
func (s *SQLiteStore) CountByState(ctx context.Context, entityType string) (map[SyncState]int, error) {
	rows, err := s.recordStmts.countByState.QueryContext(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("sync: counting %s by state: %w", entityType, err)
	}
	defer rows.Close()

	counts := make(map[SyncState]int)

	for rows.Next() {
		var (
			state string
			n     int
		)

		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("sync: scanning count row: %w", err)
		}

		parsed, err := ParseSyncState(state)
		if err != nil {
			return nil, err
		}

		counts[parsed] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating count rows: %w", err)
	}

	return counts, nil
}

// --- Checkpoint methods ---

// GetCheckpoint returns the stored pull cursor for an entity collection.
// Returns empty string if no checkpoint exists (initial enumeration).
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, entityType string) (string, error) {
	var cursor string

	err := s.checkpointStmts.get.QueryRowContext(ctx, entityType).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("sync: getting checkpoint %s: %w", entityType, err)
	}

	return cursor, nil
}

// SaveCheckpoint persists a pull cursor for an entity collection.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, entityType, cursor string) error {
	s.logger.Debug("saving checkpoint", "entity_type", entityType)

	_, err := s.checkpointStmts.save.ExecContext(ctx, entityType, cursor, NowNano())
	if err != nil {
		return fmt.Errorf("sync: saving checkpoint %s: %w", entityType, err)
	}

	return nil
}

// DeleteCheckpoint removes the pull cursor for an entity collection
// (e.g. when the server reports the cursor expired).
func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, entityType string) error {
	s.logger.Debug("deleting checkpoint", "entity_type", entityType)

	_, err := s.checkpointStmts.delete.ExecContext(ctx, entityType)
	if err != nil {
		return fmt.Errorf("sync: deleting checkpoint %s: %w", entityType, err)
	}

	return nil
}

// --- Sync log methods ---

// AppendLog inserts one sync log entry. The log is append-only; nothing in
// the engine updates or deletes entries.
func (s *SQLiteStore) AppendLog(ctx context.Context, entry *LogEntry) error {
	_, err := s.logStmts.append.ExecContext(ctx,
		entry.ID, entry.EntityType, entry.EntityID,
		string(entry.Action), string(entry.Status),
		nullString(entry.Error), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sync: appending log entry %s: %w", entry.ID, err)
	}

	return nil
}

// ListLog returns the most recent log entries, newest first.
func (s *SQLiteStore) ListLog(ctx context.Context, limit int) ([]*LogEntry, error) {
	rows, err := s.logStmts.list.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("sync: listing log: %w", err)
	}
	defer rows.Close()

	return scanLogRows(rows)
}

// ListLogFailures returns failed entries at or after the given timestamp,
// newest first. Used for retry inspection and the status command.
func (s *SQLiteStore) ListLogFailures(ctx context.Context, since int64) ([]*LogEntry, error) {
	rows, err := s.logStmts.listFailures.QueryContext(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("sync: listing log failures: %w", err)
	}
	defer rows.Close()

	return scanLogRows(rows)
}

// scanLogRows iterates over sql.Rows and collects LogEntries.
func scanLogRows(rows *sql.Rows) ([]*LogEntry, error) {
	var entries []*LogEntry

	for rows.Next() {
		e := &LogEntry{}

		var (
			action  string
			status  string
			errText sql.NullString
		)

		err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &action, &status, &errText, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("sync: scanning log row: %w", err)
		}

		e.Action = LogAction(action)
		e.Status = LogStatus(status)
		e.Error = errText.String

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sync: iterating log rows: %w", err)
	}

	return entries, nil
}

// --- Maintenance ---

// Close closes all prepared statements and the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing record database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sync: closing database: %w", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *SQLiteStore) closeStatements() error {
	stmts := []*sql.Stmt{
		s.recordStmts.get, s.recordStmts.getByServerID, s.recordStmts.upsert,
		s.recordStmts.delete, s.recordStmts.listPending,
		s.recordStmts.listAll, s.recordStmts.countByState,
		s.recordStmts.confirmPush, s.recordStmts.recordServerIdentity,
		s.recordStmts.applyRemoteFields, s.recordStmts.deleteIfUnchanged,
		s.checkpointStmts.get, s.checkpointStmts.save, s.checkpointStmts.delete,
		s.logStmts.append, s.logStmts.list, s.logStmts.listFailures,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}

// nullString maps empty string to NULL in SQLite.
func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: v, Valid: true}
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
