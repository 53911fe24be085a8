package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bililive-go/bililive-monitor/src/configs"
	"github.com/bililive-go/bililive-monitor/src/danmaku"
	"github.com/bililive-go/bililive-monitor/src/types"
)

// ErrNoSession 直播间当前没有进行中的会话
var ErrNoSession = errors.New("no active session")

// session 一次直播会话的可变统计状态，由 Manager 的锁保护
type session struct {
	start       time.Time
	bucketWidth time.Duration

	seq int64

	danmuCount     int64
	giftCount      int64
	giftValue      float64
	superChatCount int64
	superChatValue float64
	guardCount     int64
	boxCount       int64
	boxProfit      float64

	danmuRank *ranking // 按弹幕条数
	giftRank  *ranking // 按付费礼物金额
	scRank    *ranking // 按醒目留言金额

	buckets []Bucket
	guards  GuardCounts

	fans, medals, guardsTotal Gauge

	maxPopularity int64
	maxWatched    int64
	lastFans      int64

	keepTexts  bool
	maxTexts   int
	danmuTexts []string
}

// checkpointPayload 落盘格式，含恢复所需的全量状态
type checkpointPayload struct {
	SessionStart    int64             `json:"session_start"`
	Seq             int64             `json:"seq"`
	DanmuCount      int64             `json:"danmu_count"`
	GiftCount       int64             `json:"gift_count"`
	GiftValue       float64           `json:"gift_value"`
	SuperChatCount  int64             `json:"super_chat_count"`
	SuperChatValue  float64           `json:"super_chat_value"`
	GuardCount      int64             `json:"guard_count"`
	BoxCount        int64             `json:"box_count"`
	BoxProfit       float64           `json:"box_profit"`
	DanmuTotals     []ContributorStat `json:"danmu_totals"`
	GiftTotals      []ContributorStat `json:"gift_totals"`
	SuperChatTotals []ContributorStat `json:"super_chat_totals"`
	Buckets         []Bucket          `json:"buckets"`
	Guards          GuardCounts       `json:"guards"`
	Fans            Gauge             `json:"fans"`
	Medals          Gauge             `json:"medals"`
	GuardsTotal     Gauge             `json:"guards_total"`
	MaxPopularity   int64             `json:"max_popularity"`
	MaxWatched      int64             `json:"max_watched"`
	LastFans        int64             `json:"last_fans"`
	DanmuTexts      []string          `json:"danmu_texts,omitempty"`
}

// Manager 管理所有直播间的会话统计
type Manager struct {
	mu       sync.Mutex
	cfg      configs.Monitor
	sessions map[types.RoomID]*session
}

func NewManager(cfg configs.Monitor) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[types.RoomID]*session),
	}
}

// StartSession 为直播间开启新会话，已有会话时直接覆盖
func (m *Manager) StartSession(roomID types.RoomID, start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[roomID] = m.newSession(start)
}

func (m *Manager) newSession(start time.Time) *session {
	return &session{
		start:       start,
		bucketWidth: m.cfg.BucketWidth(),
		danmuRank:   newRanking(m.cfg.TopN),
		giftRank:    newRanking(m.cfg.TopN),
		scRank:      newRanking(m.cfg.TopN),
		guards:      GuardCounts{},
		fans:        Gauge{Before: -1, After: -1},
		medals:      Gauge{Before: -1, After: -1},
		guardsTotal: Gauge{Before: -1, After: -1},
		keepTexts:   m.cfg.KeepDanmuTexts,
		maxTexts:    m.cfg.MaxDanmuTexts,
	}
}

// HasSession 直播间是否有进行中的会话
func (m *Manager) HasSession(roomID types.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[roomID]
	return ok
}

// SessionStart 当前会话的开始时刻
func (m *Manager) SessionStart(roomID types.RoomID) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return time.Time{}, ErrNoSession
	}
	return s.start, nil
}

// Record 记录一条事件，now 为到达时刻（用于分桶）
func (m *Manager) Record(roomID types.RoomID, ev danmaku.Event, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return
	}
	s.record(ev, now)
}

func (s *session) record(ev danmaku.Event, now time.Time) {
	switch ev.Kind {
	case danmaku.EventDanmu:
		s.seq++
		s.danmuCount++
		s.danmuRank.add(ev.UID, ev.Uname, 1, s.seq)
		s.bucket(now).Danmu++
		if s.keepTexts && ev.Text != "" && len(s.danmuTexts) < s.maxTexts {
			s.danmuTexts = append(s.danmuTexts, ev.Text)
		}
	case danmaku.EventGift:
		s.seq++
		s.giftCount += ev.Num
		s.bucket(now).Gift++
		if ev.Value > 0 {
			s.giftValue += ev.Value
			s.giftRank.add(ev.UID, ev.Uname, ev.Value, s.seq)
		}
		if ev.Blind {
			s.boxCount += ev.Num
			s.boxProfit += ev.BoxProfit
		}
	case danmaku.EventSuperChat:
		s.seq++
		s.superChatCount++
		s.superChatValue += ev.Value
		s.scRank.add(ev.UID, ev.Uname, ev.Value, s.seq)
		s.bucket(now).SuperChat++
	case danmaku.EventGuardPurchase:
		s.seq++
		s.guardCount += ev.Num
		s.bucket(now).Guard++
		switch ev.GuardLevel {
		case 1:
			s.guards.Governor += ev.Num
		case 2:
			s.guards.Commander += ev.Num
		case 3:
			s.guards.Captain += ev.Num
		}
	case danmaku.EventPopularity:
		if ev.Count > s.maxPopularity {
			s.maxPopularity = ev.Count
		}
	case danmaku.EventWatchedCount:
		if ev.Count > s.maxWatched {
			s.maxWatched = ev.Count
		}
	case danmaku.EventFanCount:
		s.lastFans = ev.Count
	}
}

// bucket 取 now 所在的时间桶，空桶懒创建，只会追加
func (s *session) bucket(now time.Time) *Bucket {
	idx := 0
	if now.After(s.start) {
		idx = int(now.Sub(s.start) / s.bucketWidth)
	}
	if n := len(s.buckets); n > 0 && s.buckets[n-1].Index >= idx {
		return &s.buckets[n-1]
	}
	s.buckets = append(s.buckets, Bucket{Index: idx})
	return &s.buckets[len(s.buckets)-1]
}

// SetGaugesBefore 会话开始时的外部计量
func (m *Manager) SetGaugesBefore(roomID types.RoomID, fans, medals, guards int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[roomID]; ok {
		s.fans.Before, s.medals.Before, s.guardsTotal.Before = fans, medals, guards
	}
}

// SetGaugesAfter 会话结束时的外部计量
func (m *Manager) SetGaugesAfter(roomID types.RoomID, fans, medals, guards int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[roomID]; ok {
		s.fans.After, s.medals.After, s.guardsTotal.After = fans, medals, guards
	}
}

// Checkpoint 导出当前会话的落盘快照
func (m *Manager) Checkpoint(roomID types.RoomID) (payload []byte, sessionStart time.Time, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return nil, time.Time{}, ErrNoSession
	}
	data, err := json.Marshal(s.toPayload())
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, s.start, nil
}

// ActiveRooms 有进行中会话的直播间列表
func (m *Manager) ActiveRooms() []types.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]types.RoomID, 0, len(m.sessions))
	for id := range m.sessions {
		rooms = append(rooms, id)
	}
	return rooms
}

func (s *session) toPayload() *checkpointPayload {
	return &checkpointPayload{
		SessionStart:    s.start.Unix(),
		Seq:             s.seq,
		DanmuCount:      s.danmuCount,
		GiftCount:       s.giftCount,
		GiftValue:       s.giftValue,
		SuperChatCount:  s.superChatCount,
		SuperChatValue:  s.superChatValue,
		GuardCount:      s.guardCount,
		BoxCount:        s.boxCount,
		BoxProfit:       s.boxProfit,
		DanmuTotals:     s.danmuRank.dump(),
		GiftTotals:      s.giftRank.dump(),
		SuperChatTotals: s.scRank.dump(),
		Buckets:         append([]Bucket(nil), s.buckets...),
		Guards:          s.guards,
		Fans:            s.fans,
		Medals:          s.medals,
		GuardsTotal:     s.guardsTotal,
		MaxPopularity:   s.maxPopularity,
		MaxWatched:      s.maxWatched,
		LastFans:        s.lastFans,
		DanmuTexts:      append([]string(nil), s.danmuTexts...),
	}
}

// Restore 从落盘快照恢复会话（同一进程内断流重连时使用）
func (m *Manager) Restore(roomID types.RoomID, payload []byte) error {
	var cp checkpointPayload
	if err := json.Unmarshal(payload, &cp); err != nil {
		return fmt.Errorf("解析统计快照失败: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.newSession(time.Unix(cp.SessionStart, 0))
	s.seq = cp.Seq
	s.danmuCount = cp.DanmuCount
	s.giftCount = cp.GiftCount
	s.giftValue = cp.GiftValue
	s.superChatCount = cp.SuperChatCount
	s.superChatValue = cp.SuperChatValue
	s.guardCount = cp.GuardCount
	s.boxCount = cp.BoxCount
	s.boxProfit = cp.BoxProfit
	s.danmuRank = restoreRanking(m.cfg.TopN, cp.DanmuTotals)
	s.giftRank = restoreRanking(m.cfg.TopN, cp.GiftTotals)
	s.scRank = restoreRanking(m.cfg.TopN, cp.SuperChatTotals)
	s.buckets = cp.Buckets
	s.guards = cp.Guards
	s.fans = cp.Fans
	s.medals = cp.Medals
	s.guardsTotal = cp.GuardsTotal
	s.maxPopularity = cp.MaxPopularity
	s.maxWatched = cp.MaxWatched
	s.lastFans = cp.LastFans
	s.danmuTexts = cp.DanmuTexts

	m.sessions[roomID] = s
	return nil
}

// Finalize 结束会话并返回只读快照，会话随之销毁
func (m *Manager) Finalize(roomID types.RoomID, end time.Time) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	if !ok {
		return nil, ErrNoSession
	}
	delete(m.sessions, roomID)

	return &Snapshot{
		RoomID:         roomID,
		SessionStart:   s.start,
		SessionEnd:     end,
		DanmuCount:     s.danmuCount,
		DanmuSenders:   int64(s.danmuRank.size()),
		GiftCount:      s.giftCount,
		GiftValue:      s.giftValue,
		SuperChatCount: s.superChatCount,
		SuperChatValue: s.superChatValue,
		GuardCount:     s.guardCount,
		BoxCount:       s.boxCount,
		BoxProfit:      s.boxProfit,
		TopDanmu:       s.danmuRank.snapshot(),
		TopGift:        s.giftRank.snapshot(),
		TopSuperChat:   s.scRank.snapshot(),
		Buckets:        s.buckets,
		Guards:         s.guards,
		Fans:           s.fans,
		Medals:         s.medals,
		GuardsTotal:    s.guardsTotal,
		MaxPopularity:  s.maxPopularity,
		MaxWatched:     s.maxWatched,
		LastFans:       s.lastFans,
		DanmuTexts:     s.danmuTexts,
	}, nil
}

// Discard 丢弃会话（直播间被移除时调用）
func (m *Manager) Discard(roomID types.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, roomID)
}
