package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/bililive-go/bililive-monitor/src/consts"
	"github.com/bililive-go/bililive-monitor/src/types"
)

var (
	// ErrRoomNotFound 直播间未被订阅
	ErrRoomNotFound = errors.New("room not found")
	// ErrTargetNotFound 推送目标不存在
	ErrTargetNotFound = errors.New("target not found")
	// ErrCheckpointNotFound 无可用的统计快照
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

// Store 订阅与统计快照的持久化接口
type Store interface {
	// 订阅
	LoadSubscriptions(ctx context.Context) ([]*Subscription, error)
	GetSubscription(ctx context.Context, roomID types.RoomID) (*Subscription, error)
	AddTarget(ctx context.Context, roomID types.RoomID, uid int64, uname string, target Target) error
	// RemoveTarget 删除目标，若直播间已无任何目标则整行删除并返回 pruned=true
	RemoveTarget(ctx context.Context, roomID types.RoomID, targetID string) (pruned bool, err error)
	RemoveRoom(ctx context.Context, roomID types.RoomID) error
	UpdateRoomInfo(ctx context.Context, roomID types.RoomID, uid int64, uname string) error

	// 统计快照
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	GetCheckpoint(ctx context.Context, roomID types.RoomID, sessionStart time.Time) (*Checkpoint, error)
	LatestCheckpoint(ctx context.Context, roomID types.RoomID) (*Checkpoint, error)
	DeleteCheckpoints(ctx context.Context, roomID types.RoomID) error

	Close() error
}

// SQLiteStore SQLite存储实现
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewSQLiteStore 创建SQLite存储
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	store := &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库结构失败: %w", err)
	}
	if err := store.updateVersionInfo(); err != nil {
		db.Close()
		return nil, fmt.Errorf("更新版本信息失败: %w", err)
	}

	return store, nil
}

// updateVersionInfo 更新版本信息到 system_meta 表
func (s *SQLiteStore) updateVersionInfo() error {
	appVersion := consts.AppVersion

	var oldVersion string
	err := s.db.QueryRow("SELECT value FROM system_meta WHERE key = 'app_version'").Scan(&oldVersion)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec(`INSERT INTO system_meta (key, value) VALUES ('app_version', ?)`, appVersion)
		return err
	}
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE system_meta SET value = ?, updated_at = CURRENT_TIMESTAMP
		WHERE key = 'app_version'
	`, appVersion)

	if oldVersion != appVersion {
		logrus.WithFields(logrus.Fields{
			"old_version": oldVersion,
			"new_version": appVersion,
		}).Info("更新了订阅数据库版本信息")
	}

	return err
}

// LoadSubscriptions 加载全部订阅（启动时调用）
func (s *SQLiteStore) LoadSubscriptions(ctx context.Context) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, uid, uname FROM subscriptions ORDER BY room_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub := &Subscription{}
		if err := rows.Scan(&sub.RoomID, &sub.UID, &sub.Uname); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, sub := range subs {
		targets, err := s.loadTargets(ctx, sub.RoomID)
		if err != nil {
			return nil, err
		}
		sub.Targets = targets
	}
	return subs, nil
}

// GetSubscription 获取单个直播间的订阅信息
func (s *SQLiteStore) GetSubscription(ctx context.Context, roomID types.RoomID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub := &Subscription{}
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, uid, uname FROM subscriptions WHERE room_id = ?
	`, roomID).Scan(&sub.RoomID, &sub.UID, &sub.Uname)
	if err == sql.ErrNoRows {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}

	targets, err := s.loadTargets(ctx, roomID)
	if err != nil {
		return nil, err
	}
	sub.Targets = targets
	return sub, nil
}

func (s *SQLiteStore) loadTargets(ctx context.Context, roomID types.RoomID) ([]Target, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id, kind, notify_start, notify_end, report
		FROM targets WHERE room_id = ? ORDER BY created_at ASC
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		var t Target
		var notifyStart, notifyEnd, report int
		if err := rows.Scan(&t.ID, &t.Kind, &notifyStart, &notifyEnd, &report); err != nil {
			return nil, err
		}
		t.NotifyStart = notifyStart == 1
		t.NotifyEnd = notifyEnd == 1
		t.Report = report == 1
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// AddTarget 为直播间添加或更新一个推送目标，直播间不存在时一并创建
func (s *SQLiteStore) AddTarget(ctx context.Context, roomID types.RoomID, uid int64, uname string, target Target) error {
	if !target.Kind.Valid() {
		return fmt.Errorf("invalid target kind: %q", target.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (room_id, uid, uname) VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			uid = CASE WHEN excluded.uid != 0 THEN excluded.uid ELSE subscriptions.uid END,
			uname = CASE WHEN excluded.uname != '' THEN excluded.uname ELSE subscriptions.uname END,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, uid, uname)
	if err != nil {
		return err
	}

	notifyStart, notifyEnd, report := boolToInt(target.NotifyStart), boolToInt(target.NotifyEnd), boolToInt(target.Report)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO targets (room_id, target_id, kind, notify_start, notify_end, report)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, target_id) DO UPDATE SET
			kind = excluded.kind,
			notify_start = excluded.notify_start,
			notify_end = excluded.notify_end,
			report = excluded.report
	`, roomID, target.ID, target.Kind, notifyStart, notifyEnd, report)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RemoveTarget 删除推送目标，最后一个目标删除后整个订阅随之删除
func (s *SQLiteStore) RemoveTarget(ctx context.Context, roomID types.RoomID, targetID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM targets WHERE room_id = ? AND target_id = ?
	`, roomID, targetID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, ErrTargetNotFound
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM targets WHERE room_id = ?
	`, roomID).Scan(&remaining); err != nil {
		return false, err
	}

	pruned := false
	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE room_id = ?`, roomID); err != nil {
			return false, err
		}
		pruned = true
	}

	return pruned, tx.Commit()
}

// RemoveRoom 删除直播间订阅及其全部目标
func (s *SQLiteStore) RemoveRoom(ctx context.Context, roomID types.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM targets WHERE room_id = ?`, roomID); err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE room_id = ?`, roomID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRoomNotFound
	}

	return tx.Commit()
}

// UpdateRoomInfo 回填主播 uid 与昵称（首次拉取元信息后调用）
func (s *SQLiteStore) UpdateRoomInfo(ctx context.Context, roomID types.RoomID, uid int64, uname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			uid = CASE WHEN ? != 0 THEN ? ELSE uid END,
			uname = CASE WHEN ? != '' THEN ? ELSE uname END,
			updated_at = CURRENT_TIMESTAMP
		WHERE room_id = ?
	`, uid, uid, uname, uname, roomID)
	return err
}

// SaveCheckpoint 保存或覆盖一次会话的统计快照
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (room_id, session_start, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id, session_start) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, cp.RoomID, cp.SessionStart.Unix(), cp.Payload, time.Now().Unix())
	return err
}

// GetCheckpoint 按会话开始时间取快照
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, roomID types.RoomID, sessionStart time.Time) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanCheckpoint(s.db.QueryRowContext(ctx, `
		SELECT room_id, session_start, payload, updated_at
		FROM checkpoints WHERE room_id = ? AND session_start = ?
	`, roomID, sessionStart.Unix()))
}

// LatestCheckpoint 取直播间最近一次会话的快照
func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, roomID types.RoomID) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.scanCheckpoint(s.db.QueryRowContext(ctx, `
		SELECT room_id, session_start, payload, updated_at
		FROM checkpoints WHERE room_id = ?
		ORDER BY session_start DESC LIMIT 1
	`, roomID))
}

func (s *SQLiteStore) scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	cp := &Checkpoint{}
	var sessionStart, updatedAt int64
	err := row.Scan(&cp.RoomID, &sessionStart, &cp.Payload, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	cp.SessionStart = time.Unix(sessionStart, 0)
	cp.UpdatedAt = time.Unix(updatedAt, 0)
	return cp, nil
}

// DeleteCheckpoints 删除直播间全部快照（随订阅删除一并清理）
func (s *SQLiteStore) DeleteCheckpoints(ctx context.Context, roomID types.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE room_id = ?`, roomID)
	return err
}

// Close 关闭存储
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
