package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetRecord_NotFound(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.GetRecord(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec, "missing record should return (nil, nil)")
}

func TestStore_UpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := NowNano()
	rec := &Record{
		LocalID:    "local-1",
		EntityType: "patients",
		Fields:     fields(t, map[string]any{"name": "Ada"}),
		State:      StatePendingCreate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	require.NoError(t, store.UpsertRecord(ctx, rec))

	got, err := store.GetRecord(ctx, "local-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "local-1", got.LocalID)
	assert.Equal(t, "patients", got.EntityType)
	assert.Equal(t, StatePendingCreate, got.State)
	assert.Empty(t, got.ServerID)
	assert.Nil(t, got.LastSyncedAt)
	assert.JSONEq(t, `{"name":"Ada"}`, string(got.Fields))

	// Upsert with same local ID updates in place.
	rec.ServerID = "srv-1"
	rec.State = StateSynced
	rec.LastSyncedAt = Int64Ptr(NowNano())
	require.NoError(t, store.UpsertRecord(ctx, rec))

	got, err = store.GetRecord(ctx, "local-1")
	require.NoError(t, err)
	assert.Equal(t, StateSynced, got.State)
	assert.Equal(t, "srv-1", got.ServerID)
	require.NotNil(t, got.LastSyncedAt)
}

func TestStore_GetRecordByServerID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &Record{
		LocalID:    "local-1",
		EntityType: "patients",
		ServerID:   "srv-9",
		Fields:     fields(t, map[string]any{"name": "Ada"}),
		State:      StateSynced,
		CreatedAt:  NowNano(),
		UpdatedAt:  NowNano(),
	}
	require.NoError(t, store.UpsertRecord(ctx, rec))

	got, err := store.GetRecordByServerID(ctx, "patients", "srv-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "local-1", got.LocalID)

	// Same server ID under another entity type is a different record.
	got, err = store.GetRecordByServerID(ctx, "prescriptions", "srv-9")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_DeleteRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := &Record{
		LocalID:    "local-1",
		EntityType: "patients",
		Fields:     fields(t, map[string]any{"name": "Ada"}),
		State:      StatePendingCreate,
		CreatedAt:  NowNano(),
		UpdatedAt:  NowNano(),
	}
	require.NoError(t, store.UpsertRecord(ctx, rec))
	require.NoError(t, store.DeleteRecord(ctx, "local-1"))

	got, err := store.GetRecord(ctx, "local-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting again is a no-op.
	require.NoError(t, store.DeleteRecord(ctx, "local-1"))
}

func TestStore_ListPending_OrderAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := NowNano()

	for i, tc := range []struct {
		id    string
		state SyncState
	}{
		{"b-update", StatePendingUpdate},
		{"a-create", StatePendingCreate},
		{"c-synced", StateSynced},
		{"d-delete", StatePendingDelete},
	} {
		require.NoError(t, store.UpsertRecord(ctx, &Record{
			LocalID:    tc.id,
			EntityType: "patients",
			Fields:     fields(t, map[string]any{"n": tc.id}),
			State:      tc.state,
			CreatedAt:  base + int64(i),
			UpdatedAt:  base + int64(i),
		}))
	}

	pending, err := store.ListPending(ctx, "patients")
	require.NoError(t, err)
	require.Len(t, pending, 3, "synced records are not pending")

	// Oldest mutation first.
	assert.Equal(t, "b-update", pending[0].LocalID)
	assert.Equal(t, "a-create", pending[1].LocalID)
	assert.Equal(t, "d-delete", pending[2].LocalID)
}

func TestStore_CountByState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	states := []SyncState{StateSynced, StateSynced, StatePendingCreate, StatePendingDelete}
	for i, state := range states {
		require.NoError(t, store.UpsertRecord(ctx, &Record{
			LocalID:    string(rune('a' + i)),
			EntityType: "patients",
			Fields:     fields(t, map[string]any{}),
			State:      state,
			CreatedAt:  NowNano(),
			UpdatedAt:  NowNano(),
		}))
	}

	counts, err := store.CountByState(ctx, "patients")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StateSynced])
	assert.Equal(t, 1, counts[StatePendingCreate])
	assert.Equal(t, 0, counts[StatePendingUpdate])
	assert.Equal(t, 1, counts[StatePendingDelete])
}

func TestStore_Checkpoints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cursor, err := store.GetCheckpoint(ctx, "patients")
	require.NoError(t, err)
	assert.Empty(t, cursor, "no checkpoint means empty cursor")

	require.NoError(t, store.SaveCheckpoint(ctx, "patients", "ck-1"))
	require.NoError(t, store.SaveCheckpoint(ctx, "patients", "ck-2"))

	cursor, err = store.GetCheckpoint(ctx, "patients")
	require.NoError(t, err)
	assert.Equal(t, "ck-2", cursor, "save replaces the stored cursor")

	// Independent per entity type.
	cursor, err = store.GetCheckpoint(ctx, "prescriptions")
	require.NoError(t, err)
	assert.Empty(t, cursor)

	require.NoError(t, store.DeleteCheckpoint(ctx, "patients"))

	cursor, err = store.GetCheckpoint(ctx, "patients")
	require.NoError(t, err)
	assert.Empty(t, cursor)
}

func TestStore_SyncLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UnixNano()

	entries := []*LogEntry{
		{ID: "e1", EntityType: "patients", EntityID: "l1", Action: LogActionCreate, Status: LogStatusSuccess, CreatedAt: base},
		{ID: "e2", EntityType: "patients", EntityID: "l2", Action: LogActionUpdate, Status: LogStatusFailed, Error: "boom", CreatedAt: base + 1},
		{ID: "e3", EntityType: "prescriptions", EntityID: "l3", Action: LogActionDelete, Status: LogStatusSuccess, CreatedAt: base + 2},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendLog(ctx, e))
	}

	recent, err := store.ListLog(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "e3", recent[0].ID, "newest first")
	assert.Equal(t, "e2", recent[1].ID)

	failures, err := store.ListLogFailures(ctx, base)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "e2", failures[0].ID)
	assert.Equal(t, "boom", failures[0].Error)

	// Window excludes old failures.
	failures, err = store.ListLogFailures(ctx, base+10)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestStore_RejectsUnknownState(t *testing.T) {
	// The CHECK constraint refuses states outside the enum, so a buggy
	// writer cannot corrupt sync bookkeeping.
	store := newTestStore(t)

	err := store.UpsertRecord(context.Background(), &Record{
		LocalID:    "bad",
		EntityType: "patients",
		Fields:     fields(t, map[string]any{}),
		State:      SyncState("limbo"),
		CreatedAt:  NowNano(),
		UpdatedAt:  NowNano(),
	})
	require.Error(t, err)
}

func TestStore_ConfirmPush(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged record becomes synced", func(t *testing.T) {
		store := newTestStore(t)

		now := NowNano()
		require.NoError(t, store.UpsertRecord(ctx, &Record{
			LocalID: "l1", EntityType: "patients",
			Fields: fields(t, map[string]any{"name": "Ada"}), State: StatePendingCreate,
			CreatedAt: now, UpdatedAt: now,
		}))

		synced, err := store.ConfirmPush(ctx, "l1", "srv-1", NowNano(), now)
		require.NoError(t, err)
		assert.True(t, synced)

		got, err := store.GetRecord(ctx, "l1")
		require.NoError(t, err)
		assert.Equal(t, StateSynced, got.State)
		assert.Equal(t, "srv-1", got.ServerID)
		require.NotNil(t, got.LastSyncedAt)
	})

	t.Run("stale guard keeps the newer edit pending", func(t *testing.T) {
		store := newTestStore(t)

		old := NowNano()
		require.NoError(t, store.UpsertRecord(ctx, &Record{
			LocalID: "l1", EntityType: "patients",
			Fields: fields(t, map[string]any{"name": "Ada Lovelace"}), State: StatePendingCreate,
			CreatedAt: old, UpdatedAt: old + 50,
		}))

		// Confirm with the updated_at from before the local edit.
		synced, err := store.ConfirmPush(ctx, "l1", "srv-1", NowNano(), old)
		require.NoError(t, err)
		assert.False(t, synced)

		got, err := store.GetRecord(ctx, "l1")
		require.NoError(t, err)
		assert.Equal(t, "srv-1", got.ServerID, "the server identity is still recorded")
		assert.Equal(t, StatePendingUpdate, got.State, "the record now exists remotely, so the retry is an update")
		assert.JSONEq(t, `{"name":"Ada Lovelace"}`, string(got.Fields))
	})
}

func TestStore_ApplyRemoteFields(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged record takes the remote fields", func(t *testing.T) {
		store := newTestStore(t)

		now := NowNano()
		require.NoError(t, store.UpsertRecord(ctx, &Record{
			LocalID: "l1", EntityType: "patients", ServerID: "srv-1",
			Fields: fields(t, map[string]any{"name": "Ada"}), State: StateSynced,
			CreatedAt: now, UpdatedAt: now,
		}))

		applied, err := store.ApplyRemoteFields(ctx, "l1", fields(t, map[string]any{"name": "Ada L"}), NowNano(), now)
		require.NoError(t, err)
		assert.True(t, applied)

		got, err := store.GetRecord(ctx, "l1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"Ada L"}`, string(got.Fields))
	})

	t.Run("stale guard leaves the local edit alone", func(t *testing.T) {
		store := newTestStore(t)

		old := NowNano()
		require.NoError(t, store.UpsertRecord(ctx, &Record{
			LocalID: "l1", EntityType: "patients", ServerID: "srv-1",
			Fields: fields(t, map[string]any{"name": "Ada Lovelace"}), State: StatePendingUpdate,
			CreatedAt: old, UpdatedAt: old + 50,
		}))

		applied, err := store.ApplyRemoteFields(ctx, "l1", fields(t, map[string]any{"name": "Ada L"}), NowNano(), old)
		require.NoError(t, err)
		assert.False(t, applied)

		got, err := store.GetRecord(ctx, "l1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"Ada Lovelace"}`, string(got.Fields))
		assert.Equal(t, StatePendingUpdate, got.State)
	})
}

func TestStore_DeleteRecordIfUnchanged(t *testing.T) {
	ctx := context.Background()

	t.Run("unchanged record is destroyed", func(t *testing.T) {
		store := newTestStore(t)

		now := NowNano()
		require.NoError(t, store.UpsertRecord(ctx, &Record{
			LocalID: "l1", EntityType: "patients", ServerID: "srv-1",
			Fields: fields(t, map[string]any{}), State: StateSynced,
			CreatedAt: now, UpdatedAt: now,
		}))

		deleted, err := store.DeleteRecordIfUnchanged(ctx, "l1", now)
		require.NoError(t, err)
		assert.True(t, deleted)

		got, err := store.GetRecord(ctx, "l1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("stale guard keeps the edited record", func(t *testing.T) {
		store := newTestStore(t)

		old := NowNano()
		require.NoError(t, store.UpsertRecord(ctx, &Record{
			LocalID: "l1", EntityType: "patients", ServerID: "srv-1",
			Fields: fields(t, map[string]any{"name": "Ada"}), State: StatePendingUpdate,
			CreatedAt: old, UpdatedAt: old + 50,
		}))

		deleted, err := store.DeleteRecordIfUnchanged(ctx, "l1", old)
		require.NoError(t, err)
		assert.False(t, deleted)

		got, err := store.GetRecord(ctx, "l1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, StatePendingUpdate, got.State)
	})
}
