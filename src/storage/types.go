package storage

import (
	"time"

	"github.com/bililive-go/bililive-monitor/src/types"
)

// Target 一个推送目标及其订阅开关
type Target struct {
	ID          string           `json:"id"`
	Kind        types.TargetKind `json:"kind"`
	NotifyStart bool             `json:"notify_start"`
	NotifyEnd   bool             `json:"notify_end"`
	Report      bool             `json:"report"`
}

// Subscription 一个被监控直播间的全部订阅信息
type Subscription struct {
	RoomID  types.RoomID `json:"room_id"`
	UID     int64        `json:"uid"`
	Uname   string       `json:"uname"`
	Targets []Target     `json:"targets"`
}

// Checkpoint 一次直播会话统计的落盘快照
// Payload 为 JSON 序列化后的统计数据，按 (room_id, session_start) 唯一
type Checkpoint struct {
	RoomID       types.RoomID
	SessionStart time.Time
	Payload      []byte
	UpdatedAt    time.Time
}
