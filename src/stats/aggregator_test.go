package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bililive-go/bililive-monitor/src/configs"
	"github.com/bililive-go/bililive-monitor/src/danmaku"
)

func testMonitorConfig() configs.Monitor {
	cfg := configs.NewConfig().Monitor
	cfg.TopN = 3
	return cfg
}

func TestAggregatorCountsAndRankings(t *testing.T) {
	m := NewManager(testMonitorConfig())
	start := time.Unix(1700000000, 0)
	m.StartSession(1, start)

	// 三个观众共 5 条弹幕
	for _, ev := range []danmaku.Event{
		{Kind: danmaku.EventDanmu, UID: 10, Uname: "甲", Text: "1"},
		{Kind: danmaku.EventDanmu, UID: 11, Uname: "乙", Text: "2"},
		{Kind: danmaku.EventDanmu, UID: 10, Uname: "甲", Text: "3"},
		{Kind: danmaku.EventDanmu, UID: 12, Uname: "丙", Text: "4"},
		{Kind: danmaku.EventDanmu, UID: 10, Uname: "甲", Text: "5"},
	} {
		m.Record(1, ev, start.Add(time.Second))
	}
	m.Record(1, danmaku.Event{Kind: danmaku.EventGift, UID: 20, Uname: "金主", GiftName: "火箭", Num: 2, Value: 100}, start.Add(2*time.Second))
	m.Record(1, danmaku.Event{Kind: danmaku.EventSuperChat, UID: 21, Uname: "老板", Value: 30}, start.Add(3*time.Second))
	m.Record(1, danmaku.Event{Kind: danmaku.EventGuardPurchase, UID: 22, Uname: "舰长", GuardLevel: 3, Num: 1}, start.Add(4*time.Second))
	m.Record(1, danmaku.Event{Kind: danmaku.EventPopularity, Count: 9999}, start.Add(5*time.Second))
	m.Record(1, danmaku.Event{Kind: danmaku.EventWatchedCount, Count: 800}, start.Add(6*time.Second))
	m.Record(1, danmaku.Event{Kind: danmaku.EventFanCount, Count: 54321}, start.Add(7*time.Second))

	end := start.Add(time.Hour)
	snap, err := m.Finalize(1, end)
	require.NoError(t, err)

	assert.Equal(t, int64(5), snap.DanmuCount)
	assert.Equal(t, int64(3), snap.DanmuSenders)
	assert.Equal(t, int64(2), snap.GiftCount)
	assert.InDelta(t, 100.0, snap.GiftValue, 1e-9)
	assert.Equal(t, int64(1), snap.SuperChatCount)
	assert.InDelta(t, 30.0, snap.SuperChatValue, 1e-9)
	assert.Equal(t, int64(1), snap.GuardCount)
	assert.Equal(t, int64(1), snap.Guards.Captain)
	assert.Equal(t, int64(9999), snap.MaxPopularity)
	assert.Equal(t, int64(800), snap.MaxWatched)
	assert.Equal(t, int64(54321), snap.LastFans)
	assert.Equal(t, time.Hour, snap.Duration())

	require.NotEmpty(t, snap.TopDanmu)
	assert.Equal(t, int64(10), snap.TopDanmu[0].UID)
	assert.InDelta(t, 3.0, snap.TopDanmu[0].Value, 1e-9)

	require.Len(t, snap.TopGift, 1)
	assert.Equal(t, int64(20), snap.TopGift[0].UID)
	require.Len(t, snap.TopSuperChat, 1)
	assert.Equal(t, int64(21), snap.TopSuperChat[0].UID)

	assert.Len(t, snap.DanmuTexts, 5)

	// 会话已销毁
	_, err = m.Finalize(1, end)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAggregatorBucketsSparse(t *testing.T) {
	m := NewManager(testMonitorConfig())
	start := time.Unix(1700000000, 0)
	m.StartSession(1, start)

	m.Record(1, danmaku.Event{Kind: danmaku.EventDanmu, UID: 1}, start.Add(10*time.Second))
	m.Record(1, danmaku.Event{Kind: danmaku.EventDanmu, UID: 1}, start.Add(30*time.Second))
	// 跳过第 1 分钟，直接落在第 5 分钟
	m.Record(1, danmaku.Event{Kind: danmaku.EventGift, UID: 2, Num: 1, Value: 1}, start.Add(5*time.Minute+time.Second))

	snap, err := m.Finalize(1, start.Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, snap.Buckets, 2)
	assert.Equal(t, 0, snap.Buckets[0].Index)
	assert.Equal(t, int64(2), snap.Buckets[0].Danmu)
	assert.Equal(t, 5, snap.Buckets[1].Index)
	assert.Equal(t, int64(1), snap.Buckets[1].Gift)
}

func TestAggregatorFreeGiftNotRanked(t *testing.T) {
	m := NewManager(testMonitorConfig())
	start := time.Unix(1700000000, 0)
	m.StartSession(1, start)

	m.Record(1, danmaku.Event{Kind: danmaku.EventGift, UID: 1, Uname: "白嫖", Num: 10, Value: 0}, start)

	snap, err := m.Finalize(1, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.GiftCount)
	assert.Zero(t, snap.GiftValue)
	assert.Empty(t, snap.TopGift)
}

func TestSuperChatRankedSeparately(t *testing.T) {
	m := NewManager(testMonitorConfig())
	start := time.Unix(1700000000, 0)
	m.StartSession(1, start)

	// 醒目留言金额更高，也不得挤进礼物榜
	m.Record(1, danmaku.Event{Kind: danmaku.EventGift, UID: 1, Uname: "甲", Num: 1, Value: 10}, start)
	m.Record(1, danmaku.Event{Kind: danmaku.EventSuperChat, UID: 2, Uname: "乙", Value: 30}, start)

	snap, err := m.Finalize(1, start.Add(time.Minute))
	require.NoError(t, err)

	require.Len(t, snap.TopGift, 1)
	assert.Equal(t, int64(1), snap.TopGift[0].UID)
	assert.InDelta(t, 10.0, snap.TopGift[0].Value, 1e-9)

	require.Len(t, snap.TopSuperChat, 1)
	assert.Equal(t, int64(2), snap.TopSuperChat[0].UID)
	assert.InDelta(t, 30.0, snap.TopSuperChat[0].Value, 1e-9)
}

func TestAggregatorBlindBoxCounted(t *testing.T) {
	m := NewManager(testMonitorConfig())
	start := time.Unix(1700000000, 0)
	m.StartSession(1, start)

	m.Record(1, danmaku.Event{Kind: danmaku.EventGift, UID: 1, Uname: "甲", Num: 2, Value: 3, Blind: true, BoxProfit: 1.0}, start)
	m.Record(1, danmaku.Event{Kind: danmaku.EventGift, UID: 1, Uname: "甲", Num: 1, Value: 0.5, Blind: true, BoxProfit: -1.5}, start)

	snap, err := m.Finalize(1, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.BoxCount)
	assert.InDelta(t, -0.5, snap.BoxProfit, 1e-9)
}

func TestCheckpointRestoreRoundTrip(t *testing.T) {
	m := NewManager(testMonitorConfig())
	start := time.Unix(1700000000, 0)
	m.StartSession(1, start)
	m.SetGaugesBefore(1, 1000, 200, 30)

	m.Record(1, danmaku.Event{Kind: danmaku.EventDanmu, UID: 10, Uname: "甲", Text: "hi"}, start.Add(time.Second))
	m.Record(1, danmaku.Event{Kind: danmaku.EventGift, UID: 20, Uname: "金主", Num: 1, Value: 52}, start.Add(2*time.Second))
	m.Record(1, danmaku.Event{Kind: danmaku.EventSuperChat, UID: 30, Uname: "老板", Value: 30}, start.Add(3*time.Second))

	payload, sessionStart, err := m.Checkpoint(1)
	require.NoError(t, err)
	assert.True(t, sessionStart.Equal(start))

	// 模拟断流后恢复到另一个 Manager
	m2 := NewManager(testMonitorConfig())
	require.NoError(t, m2.Restore(1, payload))

	gotStart, err := m2.SessionStart(1)
	require.NoError(t, err)
	assert.True(t, gotStart.Equal(start))

	// 恢复后继续累计
	m2.Record(1, danmaku.Event{Kind: danmaku.EventDanmu, UID: 10, Uname: "甲", Text: "again"}, start.Add(4*time.Second))

	snap, err := m2.Finalize(1, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.DanmuCount)
	assert.InDelta(t, 52.0, snap.GiftValue, 1e-9)
	assert.Equal(t, int64(1000), snap.Fans.Before)
	require.NotEmpty(t, snap.TopDanmu)
	assert.InDelta(t, 2.0, snap.TopDanmu[0].Value, 1e-9)
	require.Len(t, snap.TopSuperChat, 1)
	assert.Equal(t, int64(30), snap.TopSuperChat[0].UID)
	assert.Len(t, snap.DanmuTexts, 2)
}

func TestRestoreBadPayload(t *testing.T) {
	m := NewManager(testMonitorConfig())
	assert.Error(t, m.Restore(1, []byte("not json")))
}

func TestRecordWithoutSessionIsNoop(t *testing.T) {
	m := NewManager(testMonitorConfig())
	m.Record(1, danmaku.Event{Kind: danmaku.EventDanmu, UID: 1}, time.Now())
	_, _, err := m.Checkpoint(1)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestDiscardAndActiveRooms(t *testing.T) {
	m := NewManager(testMonitorConfig())
	m.StartSession(1, time.Now())
	m.StartSession(2, time.Now())
	assert.Len(t, m.ActiveRooms(), 2)

	m.Discard(1)
	assert.False(t, m.HasSession(1))
	assert.True(t, m.HasSession(2))
}
