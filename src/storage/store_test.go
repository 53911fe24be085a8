package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bililive-go/bililive-monitor/src/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddTargetCreatesSubscription(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.AddTarget(ctx, 12345, 678, "测试主播", Target{
		ID: "group-1", Kind: types.TargetGroup,
		NotifyStart: true, NotifyEnd: true, Report: true,
	})
	require.NoError(t, err)

	sub, err := store.GetSubscription(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, types.RoomID(12345), sub.RoomID)
	assert.Equal(t, int64(678), sub.UID)
	assert.Equal(t, "测试主播", sub.Uname)
	require.Len(t, sub.Targets, 1)
	assert.Equal(t, "group-1", sub.Targets[0].ID)
	assert.True(t, sub.Targets[0].NotifyStart)
}

func TestAddTargetUpsertsFlags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	target := Target{ID: "g", Kind: types.TargetGroup, NotifyStart: true, NotifyEnd: true, Report: true}
	require.NoError(t, store.AddTarget(ctx, 1, 0, "", target))

	// 重复添加同一目标只更新开关，不产生重复行
	target.NotifyEnd = false
	require.NoError(t, store.AddTarget(ctx, 1, 0, "", target))

	sub, err := store.GetSubscription(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sub.Targets, 1)
	assert.False(t, sub.Targets[0].NotifyEnd)
	assert.True(t, sub.Targets[0].NotifyStart)
}

func TestAddTargetRejectsInvalidKind(t *testing.T) {
	store := newTestStore(t)
	err := store.AddTarget(context.Background(), 1, 0, "", Target{ID: "x", Kind: "broadcast"})
	assert.Error(t, err)
}

func TestRemoveTargetPrunesEmptyRoom(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddTarget(ctx, 1, 0, "", Target{ID: "a", Kind: types.TargetGroup}))
	require.NoError(t, store.AddTarget(ctx, 1, 0, "", Target{ID: "b", Kind: types.TargetDirect}))

	pruned, err := store.RemoveTarget(ctx, 1, "a")
	require.NoError(t, err)
	assert.False(t, pruned)

	pruned, err = store.RemoveTarget(ctx, 1, "b")
	require.NoError(t, err)
	assert.True(t, pruned)

	_, err = store.GetSubscription(ctx, 1)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRemoveTargetNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddTarget(ctx, 1, 0, "", Target{ID: "a", Kind: types.TargetGroup}))
	_, err := store.RemoveTarget(ctx, 1, "nope")
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestRemoveRoom(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddTarget(ctx, 1, 0, "", Target{ID: "a", Kind: types.TargetGroup}))
	require.NoError(t, store.RemoveRoom(ctx, 1))

	_, err := store.GetSubscription(ctx, 1)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	assert.ErrorIs(t, store.RemoveRoom(ctx, 1), ErrRoomNotFound)
}

func TestLoadSubscriptions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddTarget(ctx, 2, 0, "", Target{ID: "a", Kind: types.TargetGroup}))
	require.NoError(t, store.AddTarget(ctx, 1, 0, "", Target{ID: "b", Kind: types.TargetDirect}))
	require.NoError(t, store.AddTarget(ctx, 1, 0, "", Target{ID: "c", Kind: types.TargetGroup}))

	subs, err := store.LoadSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, types.RoomID(1), subs[0].RoomID)
	assert.Len(t, subs[0].Targets, 2)
	assert.Equal(t, types.RoomID(2), subs[1].RoomID)
}

func TestCheckpointRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	cp := &Checkpoint{RoomID: 1, SessionStart: start, Payload: []byte(`{"danmu":1}`)}
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	// 覆盖写入
	cp.Payload = []byte(`{"danmu":2}`)
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	got, err := store.GetCheckpoint(ctx, 1, start)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"danmu":2}`), got.Payload)
	assert.True(t, got.SessionStart.Equal(start))
}

func TestLatestCheckpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := time.Unix(1700000000, 0)
	newer := time.Unix(1700003600, 0)
	require.NoError(t, store.SaveCheckpoint(ctx, &Checkpoint{RoomID: 1, SessionStart: older, Payload: []byte("old")}))
	require.NoError(t, store.SaveCheckpoint(ctx, &Checkpoint{RoomID: 1, SessionStart: newer, Payload: []byte("new")}))

	got, err := store.LatestCheckpoint(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got.Payload)

	_, err = store.LatestCheckpoint(ctx, 42)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestDeleteCheckpoints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Unix(1700000000, 0)
	require.NoError(t, store.SaveCheckpoint(ctx, &Checkpoint{RoomID: 1, SessionStart: start, Payload: []byte("x")}))
	require.NoError(t, store.DeleteCheckpoints(ctx, 1))

	_, err := store.GetCheckpoint(ctx, 1, start)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}
