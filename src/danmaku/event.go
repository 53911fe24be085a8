package danmaku

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// EventKind 解码后的事件类型
type EventKind int

const (
	EventUnknown EventKind = iota
	EventAuthAck
	EventPopularity
	EventRoomStarted
	EventRoomEnded
	EventDanmu
	EventGift
	EventSuperChat
	EventGuardPurchase
	EventFanCount
	EventWatchedCount
)

func (k EventKind) String() string {
	switch k {
	case EventAuthAck:
		return "auth_ack"
	case EventPopularity:
		return "popularity"
	case EventRoomStarted:
		return "room_started"
	case EventRoomEnded:
		return "room_ended"
	case EventDanmu:
		return "danmu"
	case EventGift:
		return "gift"
	case EventSuperChat:
		return "super_chat"
	case EventGuardPurchase:
		return "guard_purchase"
	case EventFanCount:
		return "fan_count"
	case EventWatchedCount:
		return "watched_count"
	default:
		return "unknown"
	}
}

// Event 解码后的平台事件，字段按 Kind 选用
type Event struct {
	Kind  EventKind
	Cmd   string // 原始 cmd，便于调试
	UID   int64
	Uname string
	Text  string // 弹幕内容 / 醒目留言内容
	// Gift: 礼物名与数量，Value 为换算后的金瓜子价值（元）
	GiftName string
	Num      int64
	Value    float64
	// Blind: 盲盒礼物，BoxProfit 为开盒价值减去盒价（可为负）
	Blind     bool
	BoxProfit float64
	// GuardPurchase: 舰队等级 1总督 2提督 3舰长，Num 为月数
	GuardLevel int
	// FanCount / WatchedCount / Popularity 的绝对值
	Count int64
	// 事件自带的时间戳，缺省为零值
	Timestamp time.Time
}

// DecodePacket 把逻辑包解码为事件。
// 返回 false 表示该包不产生事件（心跳包、无法识别或损坏的消息），按丢弃处理。
func DecodePacket(p Packet) (Event, bool) {
	switch p.Op {
	case OpAuthAck:
		return Event{Kind: EventAuthAck}, true
	case OpHeartbeatReply:
		if len(p.Body) < 4 {
			return Event{}, false
		}
		return Event{
			Kind:  EventPopularity,
			Count: int64(binary.BigEndian.Uint32(p.Body[:4])),
		}, true
	case OpMessage:
		return decodeMessage(p.Body)
	default:
		return Event{}, false
	}
}

func decodeMessage(body []byte) (Event, bool) {
	if !gjson.ValidBytes(body) {
		return Event{}, false
	}
	root := gjson.ParseBytes(body)
	cmd := root.Get("cmd").String()
	// 部分命令带后缀，如 DANMU_MSG:4:0:2:2:2:0
	if idx := strings.Index(cmd, ":"); idx >= 0 {
		cmd = cmd[:idx]
	}

	ev := Event{Cmd: cmd}
	switch cmd {
	case "LIVE":
		ev.Kind = EventRoomStarted
	case "PREPARING":
		ev.Kind = EventRoomEnded
	case "DANMU_MSG":
		info := root.Get("info")
		if !info.Exists() {
			return Event{}, false
		}
		ev.Kind = EventDanmu
		ev.Text = info.Get("1").String()
		ev.UID = info.Get("2.0").Int()
		ev.Uname = info.Get("2.1").String()
		if ms := info.Get("0.4").Int(); ms > 0 {
			ev.Timestamp = time.UnixMilli(ms)
		}
	case "SEND_GIFT":
		data := root.Get("data")
		ev.Kind = EventGift
		ev.UID = data.Get("uid").Int()
		ev.Uname = data.Get("uname").String()
		ev.GiftName = data.Get("giftName").String()
		ev.Num = data.Get("num").Int()
		// 只统计付费礼物，免费礼物 total_coin 或单价为 0
		totalCoin := data.Get("total_coin").Int()
		price := data.Get("discount_price").Int()
		if totalCoin != 0 && price != 0 {
			ev.Value = float64(price) / 1000 * float64(ev.Num)
			// 幸运之钥实际收益为面值的 1%
			if data.Get("giftId").Int() == 31709 {
				ev.Value *= 0.01
			}
		}
		// 非盲盒时 blind_gift 为 null
		if bg := data.Get("blind_gift"); bg.Exists() && bg.Type != gjson.Null {
			ev.Blind = true
			ev.BoxProfit = float64(price)/1000*float64(ev.Num) - float64(totalCoin)/1000
		}
	case "SUPER_CHAT_MESSAGE":
		data := root.Get("data")
		ev.Kind = EventSuperChat
		ev.UID = data.Get("uid").Int()
		ev.Uname = data.Get("user_info.uname").String()
		ev.Text = data.Get("message").String()
		ev.Value = data.Get("price").Float()
	case "GUARD_BUY":
		data := root.Get("data")
		ev.Kind = EventGuardPurchase
		ev.UID = data.Get("uid").Int()
		ev.Uname = data.Get("username").String()
		ev.GuardLevel = int(data.Get("guard_level").Int())
		ev.Num = data.Get("num").Int()
	case "ROOM_REAL_TIME_MESSAGE_UPDATE":
		ev.Kind = EventFanCount
		ev.Count = root.Get("data.fans").Int()
	case "WATCHED_CHANGE":
		ev.Kind = EventWatchedCount
		ev.Count = root.Get("data.num").Int()
	default:
		ev.Kind = EventUnknown
	}
	return ev, true
}
