package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bililive-go/bililive-monitor/src/configs"
	"github.com/bililive-go/bililive-monitor/src/consts"
	"github.com/bililive-go/bililive-monitor/src/danmaku"
	"github.com/bililive-go/bililive-monitor/src/metrics"
	"github.com/bililive-go/bililive-monitor/src/notify"
	"github.com/bililive-go/bililive-monitor/src/pkg/sentry"
	"github.com/bililive-go/bililive-monitor/src/roomapi"
	"github.com/bililive-go/bililive-monitor/src/stats"
	"github.com/bililive-go/bililive-monitor/src/storage"
	"github.com/bililive-go/bililive-monitor/src/types"
)

// 房间监控状态
const (
	StateIdle uint32 = iota
	StateConnecting
	StateOffline
	StateLive
	StateStopped
)

func stateName(s uint32) string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOffline:
		return "offline"
	case StateLive:
		return "live"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Source 弹幕事件来源，生产实现为 danmaku.Client
type Source interface {
	Run(ctx context.Context)
	Events() <-chan danmaku.Event
	Reconnects() int64
}

// SourceFactory 按房间号创建事件来源
type SourceFactory func(roomID types.RoomID) Source

// Monitor 单个直播间的状态机。
// 事件循环是唯一写入会话状态的 goroutine。
type Monitor struct {
	roomID     types.RoomID
	cfg        configs.Monitor
	api        roomapi.API
	store      storage.Store
	stats      *stats.Manager
	dispatcher notify.Dispatcher
	flags      *liveFlags
	source     Source
	logger     *logrus.Entry

	state     atomic.Uint32
	startedAt time.Time
	// 以下字段只在事件循环内读写
	lastEnd     time.Time
	initialized bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newMonitor(
	roomID types.RoomID,
	cfg configs.Monitor,
	api roomapi.API,
	store storage.Store,
	statsMgr *stats.Manager,
	dispatcher notify.Dispatcher,
	flags *liveFlags,
	source Source,
) *Monitor {
	return &Monitor{
		roomID:     roomID,
		cfg:        cfg,
		api:        api,
		store:      store,
		stats:      statsMgr,
		dispatcher: dispatcher,
		flags:      flags,
		source:     source,
		logger:     logrus.WithField("room", roomID),
		done:       make(chan struct{}),
	}
}

// Start 启动事件来源与事件循环
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.startedAt = time.Now()
	m.state.Store(StateConnecting)

	sentry.GoWithContext(ctx, m.source.Run)
	sentry.GoWithContext(ctx, m.run)
}

// Stop 停止并等待事件循环退出
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

func (m *Monitor) State() uint32        { return m.state.Load() }
func (m *Monitor) StartedAt() time.Time { return m.startedAt }

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	defer m.state.Store(StateStopped)

	ticker := time.NewTicker(m.cfg.CheckpointInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkpoint(ctx)
		case ev, ok := <-m.source.Events():
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Monitor) handleEvent(ctx context.Context, ev danmaku.Event) {
	metrics.EventsDecoded.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case danmaku.EventAuthAck:
		m.reconcile(ctx)
	case danmaku.EventRoomStarted:
		m.handleLiveStart(ctx, time.Now())
	case danmaku.EventRoomEnded:
		m.handleLiveEnd(ctx)
	default:
		// 统计事件只在直播中转发
		if m.state.Load() == StateLive {
			m.stats.Record(m.roomID, ev, time.Now())
		}
	}
}

// reconcile 连接建立后核对带外直播状态，补上断线期间漏掉的开播/下播
func (m *Monitor) reconcile(ctx context.Context) {
	info, err := m.api.GetRoomPlayInfo(ctx, m.roomID)
	if err != nil {
		m.logger.WithError(err).Warn("核对直播状态失败")
		if m.state.Load() == StateConnecting {
			m.state.Store(StateOffline)
		}
		return
	}

	firstCheck := !m.initialized
	m.initialized = true

	if info.LiveStatus == consts.RoomStatusLive {
		if m.flags.IsLive(m.roomID) {
			m.state.Store(StateLive)
			return
		}
		start := time.Now()
		if info.LiveTime > 0 {
			start = time.Unix(info.LiveTime, 0)
		}
		if firstCheck {
			// 启动时已在直播：开播发生在监控之前，只记录状态不推送
			m.logger.Info("启动时直播间已在直播，本场统计不完整")
			m.flags.TrySetLive(m.roomID)
			m.state.Store(StateLive)
			m.stats.StartSession(m.roomID, start)
			m.captureGauges(ctx, true)
			return
		}
		m.logger.Warn("断线期间直播间已开播")
		m.handleLiveStart(ctx, start)
		return
	}

	if m.flags.IsLive(m.roomID) {
		m.logger.Warn("断线期间直播间已下播")
		m.handleLiveEnd(ctx)
		return
	}
	m.state.Store(StateOffline)
}

// handleLiveStart 开播处理。标志位保证通知只推一次；
// 下播后短时间内再次开播视为断流，恢复统计且不重复推送。
func (m *Monitor) handleLiveStart(ctx context.Context, start time.Time) {
	if !m.flags.TrySetLive(m.roomID) {
		m.state.Store(StateLive)
		return
	}
	m.state.Store(StateLive)

	if !m.lastEnd.IsZero() && time.Since(m.lastEnd) <= m.cfg.ReconnectGap() {
		if m.resumeFromCheckpoint(ctx) {
			m.logger.Info("判定为断流重连，恢复会话统计")
			return
		}
		// 快照不可用也不重复推送，只能按新会话统计
		m.logger.Warn("断流重连但快照不可用，按新会话统计")
		m.stats.StartSession(m.roomID, start)
		return
	}

	m.logger.WithField("start", start).Info("[开播]")
	metrics.SessionsStarted.Inc()
	m.stats.StartSession(m.roomID, start)

	meta := m.roomMeta(ctx)
	m.captureGauges(ctx, true)

	sub, err := m.store.GetSubscription(ctx, m.roomID)
	if err != nil {
		m.logger.WithError(err).Error("读取订阅失败，跳过开播推送")
		return
	}
	if meta.Uname != "" || sub.UID != 0 {
		// 回填主播信息，供重启后使用
		if err := m.store.UpdateRoomInfo(ctx, m.roomID, sub.UID, meta.Uname); err != nil {
			m.logger.WithError(err).Debug("回填主播信息失败")
		}
	}
	m.dispatcher.OnRoomStarted(ctx, sub, meta)
}

// handleLiveEnd 下播处理，finalize 之前先落一次快照供断流恢复
func (m *Monitor) handleLiveEnd(ctx context.Context) {
	if !m.flags.ClearLive(m.roomID) {
		m.state.Store(StateOffline)
		return
	}
	m.state.Store(StateOffline)
	m.lastEnd = time.Now()
	m.logger.Info("[下播]")

	m.captureGauges(ctx, false)
	m.checkpointLocked(ctx)

	snap, err := m.stats.Finalize(m.roomID, m.lastEnd)
	if err != nil {
		m.logger.WithError(err).Warn("结算会话统计失败")
	}

	meta := m.roomMeta(ctx)
	sub, err := m.store.GetSubscription(ctx, m.roomID)
	if err != nil {
		m.logger.WithError(err).Error("读取订阅失败，跳过下播推送")
		return
	}
	m.dispatcher.OnRoomEnded(ctx, sub, meta)
	if snap != nil {
		snap.Uname = meta.Uname
		snap.Title = meta.Title
		m.dispatcher.OnReportReady(ctx, sub, meta, snap)
	}
}

// resumeFromCheckpoint 从最近的落盘快照恢复会话
func (m *Monitor) resumeFromCheckpoint(ctx context.Context) bool {
	cp, err := m.store.LatestCheckpoint(ctx, m.roomID)
	if err != nil {
		return false
	}
	if err := m.stats.Restore(m.roomID, cp.Payload); err != nil {
		m.logger.WithError(err).Warn("恢复统计快照失败")
		return false
	}
	return true
}

// checkpoint 周期性落盘，只在直播中执行
func (m *Monitor) checkpoint(ctx context.Context) {
	if m.state.Load() != StateLive {
		return
	}
	m.checkpointLocked(ctx)
}

func (m *Monitor) checkpointLocked(ctx context.Context) {
	payload, sessionStart, err := m.stats.Checkpoint(m.roomID)
	if err != nil {
		return
	}
	err = m.store.SaveCheckpoint(ctx, &storage.Checkpoint{
		RoomID:       m.roomID,
		SessionStart: sessionStart,
		Payload:      payload,
	})
	if err != nil {
		metrics.CheckpointFailures.Inc()
		m.logger.WithError(err).Error("统计快照落盘失败")
	}
}

// roomMeta 拉取推送用的直播间展示信息，失败时降级为房间号
func (m *Monitor) roomMeta(ctx context.Context) notify.RoomMeta {
	meta := notify.RoomMeta{RoomID: m.roomID}
	info, err := m.api.GetRoomInfo(ctx, m.roomID)
	if err != nil {
		m.logger.WithError(err).Warn("获取直播间信息失败")
		return meta
	}
	meta.Uname = info.Uname
	meta.Title = info.Title
	return meta
}

// captureGauges 采集粉丝/勋章/舰队计量，before 区分会话首尾
func (m *Monitor) captureGauges(ctx context.Context, before bool) {
	fans, medals, guards := int64(-1), int64(-1), int64(-1)

	if info, err := m.api.GetRoomInfo(ctx, m.roomID); err == nil {
		fans = info.Attention
	}
	if sub, err := m.store.GetSubscription(ctx, m.roomID); err == nil && sub.UID != 0 {
		medals = m.api.GetFansMedalCount(ctx, sub.UID)
		guards = m.api.GetGuardNum(ctx, m.roomID, sub.UID)
	}

	if before {
		m.stats.SetGaugesBefore(m.roomID, fans, medals, guards)
	} else {
		m.stats.SetGaugesAfter(m.roomID, fans, medals, guards)
	}
}
