package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bililive-go/bililive-monitor/src/configs"
	"github.com/bililive-go/bililive-monitor/src/danmaku"
	"github.com/bililive-go/bililive-monitor/src/metrics"
	"github.com/bililive-go/bililive-monitor/src/notify"
	"github.com/bililive-go/bililive-monitor/src/roomapi"
	"github.com/bililive-go/bililive-monitor/src/stats"
	"github.com/bililive-go/bililive-monitor/src/storage"
	"github.com/bililive-go/bililive-monitor/src/types"
)

// RoomStatus 状态接口返回的单房间信息
type RoomStatus struct {
	RoomID     types.RoomID `json:"room_id"`
	Uname      string       `json:"uname"`
	State      string       `json:"state"`
	Reconnects int64        `json:"reconnects"`
	UptimeSec  int64        `json:"uptime_sec"`
	Targets    int          `json:"targets"`
}

// Manager 管理全部房间监控的生命周期，提供增删查入口
type Manager struct {
	mu sync.Mutex

	cfg        *configs.Config
	api        roomapi.API
	store      storage.Store
	stats      *stats.Manager
	dispatcher notify.Dispatcher
	flags      *liveFlags
	newSource  SourceFactory

	monitors map[types.RoomID]*Monitor
	ctx      context.Context
}

func NewManager(cfg *configs.Config, api roomapi.API, store storage.Store, dispatcher notify.Dispatcher) *Manager {
	m := &Manager{
		cfg:        cfg,
		api:        api,
		store:      store,
		stats:      stats.NewManager(cfg.Monitor),
		dispatcher: dispatcher,
		flags:      newLiveFlags(),
		monitors:   make(map[types.RoomID]*Monitor),
	}
	m.newSource = func(roomID types.RoomID) Source {
		return danmaku.NewClient(roomID, cfg.Credential.UID, cfg.Credential.Buvid3, api, cfg.Monitor)
	}
	return m
}

// SetSourceFactory 覆盖事件来源构造方式（测试用）
func (m *Manager) SetSourceFactory(f SourceFactory) {
	m.newSource = f
}

// Start 加载全部订阅并逐个启动监控
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx

	subs, err := m.store.LoadSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("加载订阅失败: %w", err)
	}
	for _, sub := range subs {
		m.startLocked(sub.RoomID)
	}
	logrus.WithField("rooms", len(subs)).Info("房间监控已启动")
	return nil
}

// startLocked 调用方需持有 m.mu
func (m *Manager) startLocked(roomID types.RoomID) {
	if _, ok := m.monitors[roomID]; ok {
		return
	}
	mon := newMonitor(roomID, m.cfg.Monitor, m.api, m.store, m.stats, m.dispatcher, m.flags, m.newSource(roomID))
	mon.Start(m.ctx)
	m.monitors[roomID] = mon
	metrics.RoomsWatched.Set(float64(len(m.monitors)))
}

// AddRoom 添加或更新订阅目标，必要时启动监控
func (m *Manager) AddRoom(ctx context.Context, roomID types.RoomID, target storage.Target) error {
	var uid int64
	var uname string
	// 主播信息尽力而为，拿不到不阻塞订阅
	if info, err := m.api.GetRoomPlayInfo(ctx, roomID); err == nil {
		uid = info.UID
		if ri, err := m.api.GetRoomInfo(ctx, roomID); err == nil {
			uname = ri.Uname
		}
	} else {
		logrus.WithError(err).WithField("room", roomID).Warn("获取直播间信息失败")
	}

	if err := m.store.AddTarget(ctx, roomID, uid, uname, target); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.startLocked(roomID)
	return nil
}

// RemoveTarget 删除订阅目标，最后一个目标删除后停止监控并清理数据
func (m *Manager) RemoveTarget(ctx context.Context, roomID types.RoomID, targetID string) (bool, error) {
	pruned, err := m.store.RemoveTarget(ctx, roomID, targetID)
	if err != nil {
		return false, err
	}
	if pruned {
		m.teardown(ctx, roomID)
	}
	return pruned, nil
}

// RemoveRoom 删除整个订阅
func (m *Manager) RemoveRoom(ctx context.Context, roomID types.RoomID) error {
	if err := m.store.RemoveRoom(ctx, roomID); err != nil {
		return err
	}
	m.teardown(ctx, roomID)
	return nil
}

func (m *Manager) teardown(ctx context.Context, roomID types.RoomID) {
	m.mu.Lock()
	mon, ok := m.monitors[roomID]
	if ok {
		delete(m.monitors, roomID)
	}
	metrics.RoomsWatched.Set(float64(len(m.monitors)))
	m.mu.Unlock()

	if ok {
		mon.Stop()
	}
	m.stats.Discard(roomID)
	m.flags.Remove(roomID)
	if err := m.store.DeleteCheckpoints(ctx, roomID); err != nil {
		logrus.WithError(err).WithField("room", roomID).Warn("清理统计快照失败")
	}
}

// ListRooms 全部订阅
func (m *Manager) ListRooms(ctx context.Context) ([]*storage.Subscription, error) {
	return m.store.LoadSubscriptions(ctx)
}

// Status 各房间的运行状态
func (m *Manager) Status(ctx context.Context) []RoomStatus {
	m.mu.Lock()
	monitors := make(map[types.RoomID]*Monitor, len(m.monitors))
	for id, mon := range m.monitors {
		monitors[id] = mon
	}
	m.mu.Unlock()

	statuses := make([]RoomStatus, 0, len(monitors))
	for id, mon := range monitors {
		st := RoomStatus{
			RoomID:     id,
			State:      stateName(mon.State()),
			Reconnects: mon.source.Reconnects(),
			UptimeSec:  int64(time.Since(mon.StartedAt()).Seconds()),
		}
		if sub, err := m.store.GetSubscription(ctx, id); err == nil {
			st.Uname = sub.Uname
			st.Targets = len(sub.Targets)
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// CheckpointAll 给所有直播中的房间落一次快照（退出前调用）
func (m *Manager) CheckpointAll(ctx context.Context) {
	for _, roomID := range m.stats.ActiveRooms() {
		payload, sessionStart, err := m.stats.Checkpoint(roomID)
		if err != nil {
			continue
		}
		err = m.store.SaveCheckpoint(ctx, &storage.Checkpoint{
			RoomID:       roomID,
			SessionStart: sessionStart,
			Payload:      payload,
		})
		if err != nil {
			metrics.CheckpointFailures.Inc()
			logrus.WithError(err).WithField("room", roomID).Error("退出前落盘失败")
		}
	}
}

// Close 停止全部监控并做最后一次落盘
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	monitors := make([]*Monitor, 0, len(m.monitors))
	for _, mon := range m.monitors {
		monitors = append(monitors, mon)
	}
	m.monitors = make(map[types.RoomID]*Monitor)
	m.mu.Unlock()

	for _, mon := range monitors {
		mon.Stop()
	}
	m.CheckpointAll(ctx)
	logrus.Info("房间监控已停止")
}
