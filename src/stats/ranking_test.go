package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankingOrderAndCap(t *testing.T) {
	r := newRanking(3)
	r.add(1, "a", 10, 1)
	r.add(2, "b", 30, 2)
	r.add(3, "c", 20, 3)
	r.add(4, "d", 5, 4)
	r.add(5, "e", 25, 5)

	top := r.snapshot()
	require.Len(t, top, 3)
	assert.Equal(t, int64(2), top[0].UID)
	assert.Equal(t, int64(5), top[1].UID)
	assert.Equal(t, int64(3), top[2].UID)
	assert.Equal(t, 5, r.size())
}

func TestRankingAccumulates(t *testing.T) {
	r := newRanking(2)
	r.add(1, "a", 1, 1)
	r.add(2, "b", 2, 2)
	r.add(1, "a", 3, 1) // 1 累计到 4，应升到榜首

	top := r.snapshot()
	require.Len(t, top, 2)
	assert.Equal(t, int64(1), top[0].UID)
	assert.InDelta(t, 4.0, top[0].Value, 1e-9)
}

func TestRankingTiesEarliestFirst(t *testing.T) {
	r := newRanking(3)
	r.add(2, "late", 10, 5)
	r.add(1, "early", 10, 1)

	top := r.snapshot()
	require.Len(t, top, 2)
	// 同值时先到者在前
	assert.Equal(t, int64(1), top[0].UID)
	assert.Equal(t, int64(2), top[1].UID)
}

func TestRankingOutsiderOvertakesTail(t *testing.T) {
	r := newRanking(2)
	r.add(1, "a", 10, 1)
	r.add(2, "b", 8, 2)
	r.add(3, "c", 1, 3) // 榜外
	r.add(3, "c", 8, 3) // 累计 9，换掉榜尾

	top := r.snapshot()
	require.Len(t, top, 2)
	assert.Equal(t, int64(1), top[0].UID)
	assert.Equal(t, int64(3), top[1].UID)
}

func TestRestoreRankingRebuildsTop(t *testing.T) {
	r := newRanking(2)
	r.add(1, "a", 3, 1)
	r.add(2, "b", 7, 2)
	r.add(3, "c", 5, 3)

	restored := restoreRanking(2, r.dump())
	assert.Equal(t, r.snapshot(), restored.snapshot())
	assert.Equal(t, r.size(), restored.size())
}
