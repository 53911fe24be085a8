package types

// RoomID 直播间房间号
type RoomID int64

// TargetKind 推送目标类型
type TargetKind string

const (
	TargetGroup  TargetKind = "group"
	TargetDirect TargetKind = "direct"
)

func (k TargetKind) Valid() bool {
	return k == TargetGroup || k == TargetDirect
}
