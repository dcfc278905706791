package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *SQLiteStore) {
	t.Helper()

	store := newTestStore(t)

	return NewTracker(store, testLogger(t)), store
}

func TestTracker_Create(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	rec, err := tracker.Create(ctx, "patients", fields(t, map[string]any{"name": "Ada"}))
	require.NoError(t, err)

	assert.NotEmpty(t, rec.LocalID)
	assert.Empty(t, rec.ServerID, "server ID is assigned by the server, never locally")
	assert.Equal(t, StatePendingCreate, rec.State)

	stored, err := store.GetRecord(ctx, rec.LocalID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, StatePendingCreate, stored.State)
}

func TestTracker_Update_Transitions(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	t.Run("synced becomes pending_update", func(t *testing.T) {
		rec := &Record{
			LocalID: "synced-1", EntityType: "patients", ServerID: "srv-1",
			Fields: fields(t, map[string]any{"name": "Ada"}), State: StateSynced,
			CreatedAt: NowNano(), UpdatedAt: NowNano(), LastSyncedAt: Int64Ptr(NowNano()),
		}
		require.NoError(t, store.UpsertRecord(ctx, rec))

		updated, err := tracker.Update(ctx, "synced-1", fields(t, map[string]any{"name": "Ada L"}))
		require.NoError(t, err)
		assert.Equal(t, StatePendingUpdate, updated.State)
		assert.JSONEq(t, `{"name":"Ada L"}`, string(updated.Fields))
	})

	t.Run("pending_create stays pending_create", func(t *testing.T) {
		rec, err := tracker.Create(ctx, "patients", fields(t, map[string]any{"name": "Grace"}))
		require.NoError(t, err)

		updated, err := tracker.Update(ctx, rec.LocalID, fields(t, map[string]any{"name": "Grace H"}))
		require.NoError(t, err)
		assert.Equal(t, StatePendingCreate, updated.State,
			"the eventual create carries the newest fields")
		assert.JSONEq(t, `{"name":"Grace H"}`, string(updated.Fields))
	})

	t.Run("pending_update coalesces", func(t *testing.T) {
		rec := &Record{
			LocalID: "upd-1", EntityType: "patients", ServerID: "srv-2",
			Fields: fields(t, map[string]any{"v": 1}), State: StatePendingUpdate,
			CreatedAt: NowNano(), UpdatedAt: NowNano(),
		}
		require.NoError(t, store.UpsertRecord(ctx, rec))

		updated, err := tracker.Update(ctx, "upd-1", fields(t, map[string]any{"v": 2}))
		require.NoError(t, err)
		assert.Equal(t, StatePendingUpdate, updated.State)
	})

	t.Run("pending_delete rejects updates", func(t *testing.T) {
		rec := &Record{
			LocalID: "del-1", EntityType: "patients", ServerID: "srv-3",
			Fields: fields(t, map[string]any{}), State: StatePendingDelete,
			CreatedAt: NowNano(), UpdatedAt: NowNano(),
		}
		require.NoError(t, store.UpsertRecord(ctx, rec))

		_, err := tracker.Update(ctx, "del-1", fields(t, map[string]any{"v": 3}))
		require.ErrorIs(t, err, ErrRecordDeleted)
	})

	t.Run("unknown record", func(t *testing.T) {
		_, err := tracker.Update(ctx, "nope", fields(t, map[string]any{}))
		require.ErrorIs(t, err, ErrRecordNotFound)
	})
}

func TestTracker_Delete_UnsentCreateIsLocalOnly(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	rec, err := tracker.Create(ctx, "patients", fields(t, map[string]any{"name": "Ada"}))
	require.NoError(t, err)

	require.NoError(t, tracker.Delete(ctx, rec.LocalID))

	// The row is destroyed immediately: the server never saw it, so there
	// is no tombstone and nothing to push.
	got, err := store.GetRecord(ctx, rec.LocalID)
	require.NoError(t, err)
	assert.Nil(t, got)

	pending, err := store.ListPending(ctx, "patients")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTracker_Delete_SyncedBecomesTombstone(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	for _, state := range []SyncState{StateSynced, StatePendingUpdate} {
		id := "rec-" + string(state)
		require.NoError(t, store.UpsertRecord(ctx, &Record{
			LocalID: id, EntityType: "patients", ServerID: "srv-" + id,
			Fields: fields(t, map[string]any{}), State: state,
			CreatedAt: NowNano(), UpdatedAt: NowNano(),
		}))

		require.NoError(t, tracker.Delete(ctx, id))

		got, err := store.GetRecord(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got, "tombstone survives until the delete is pushed")
		assert.Equal(t, StatePendingDelete, got.State)
	}
}

func TestTracker_Delete_Idempotent(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRecord(ctx, &Record{
		LocalID: "gone", EntityType: "patients", ServerID: "srv-1",
		Fields: fields(t, map[string]any{}), State: StatePendingDelete,
		CreatedAt: NowNano(), UpdatedAt: NowNano(),
	}))

	require.NoError(t, tracker.Delete(ctx, "gone"))

	got, err := store.GetRecord(ctx, "gone")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatePendingDelete, got.State)
}

func TestTracker_NotifyFiresOnMutations(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ctx := context.Background()

	notified := 0
	tracker.SetNotify(func() { notified++ })

	rec, err := tracker.Create(ctx, "patients", fields(t, map[string]any{"name": "Ada"}))
	require.NoError(t, err)

	_, err = tracker.Update(ctx, rec.LocalID, fields(t, map[string]any{"name": "Ada L"}))
	require.NoError(t, err)

	require.NoError(t, tracker.Delete(ctx, rec.LocalID))

	assert.Equal(t, 3, notified)

	// The no-op branch of Delete does not notify.
	require.ErrorIs(t, tracker.Delete(ctx, rec.LocalID), ErrRecordNotFound)
	assert.Equal(t, 3, notified)
}

func TestTracker_CreateRoundTripsThroughListPending(t *testing.T) {
	tracker, store := newTestTracker(t)
	ctx := context.Background()

	rec, err := tracker.Create(ctx, "patients", fields(t, map[string]any{"name": "Ada", "dob": "1815-12-10"}))
	require.NoError(t, err)

	// The push pipeline reads pending work through ListPending; the stored
	// JSON must come back intact.
	pending, err := store.ListPending(ctx, "patients")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.LocalID, pending[0].LocalID)
	assert.Equal(t, StatePendingCreate, pending[0].State)
	assert.JSONEq(t, `{"name":"Ada","dob":"1815-12-10"}`, string(pending[0].Fields))
}
