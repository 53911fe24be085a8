package danmaku

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeMsg(t *testing.T, body string) Event {
	t.Helper()
	ev, ok := DecodePacket(Packet{Op: OpMessage, Body: []byte(body)})
	require.True(t, ok)
	return ev
}

func TestDecodeLiveAndPreparing(t *testing.T) {
	assert.Equal(t, EventRoomStarted, decodeMsg(t, `{"cmd":"LIVE","roomid":1}`).Kind)
	assert.Equal(t, EventRoomEnded, decodeMsg(t, `{"cmd":"PREPARING","roomid":1}`).Kind)
}

func TestDecodeCmdSuffixStripped(t *testing.T) {
	ev := decodeMsg(t, `{"cmd":"DANMU_MSG:4:0:2:2:2:0","info":[[0,1,25,16777215,1700000000000],"hello",[42,"alice"]]}`)
	assert.Equal(t, EventDanmu, ev.Kind)
	assert.Equal(t, "DANMU_MSG", ev.Cmd)
}

func TestDecodeDanmu(t *testing.T) {
	ev := decodeMsg(t, `{"cmd":"DANMU_MSG","info":[[0,1,25,16777215,1700000000000],"晚上好",[42,"观众甲"]]}`)
	assert.Equal(t, EventDanmu, ev.Kind)
	assert.Equal(t, "晚上好", ev.Text)
	assert.Equal(t, int64(42), ev.UID)
	assert.Equal(t, "观众甲", ev.Uname)
	assert.Equal(t, time.UnixMilli(1700000000000), ev.Timestamp)
}

func TestDecodeGiftPaid(t *testing.T) {
	ev := decodeMsg(t, `{"cmd":"SEND_GIFT","data":{"uid":7,"uname":"金主","giftName":"小花花","num":10,"discount_price":100,"total_coin":1000}}`)
	assert.Equal(t, EventGift, ev.Kind)
	assert.Equal(t, "小花花", ev.GiftName)
	assert.Equal(t, int64(10), ev.Num)
	assert.InDelta(t, 1.0, ev.Value, 1e-9)
}

func TestDecodeGiftFree(t *testing.T) {
	ev := decodeMsg(t, `{"cmd":"SEND_GIFT","data":{"uid":7,"uname":"白嫖","giftName":"辣条","num":5,"discount_price":0,"total_coin":0}}`)
	assert.Equal(t, EventGift, ev.Kind)
	assert.Zero(t, ev.Value)
	assert.Equal(t, int64(5), ev.Num)
}

func TestDecodeGiftLuckyKey(t *testing.T) {
	// 幸运之钥（giftId 31709）按面值的 1% 计收益
	ev := decodeMsg(t, `{"cmd":"SEND_GIFT","data":{"uid":7,"uname":"金主","giftName":"幸运之钥","giftId":31709,"num":1,"discount_price":2000,"total_coin":2000}}`)
	assert.Equal(t, EventGift, ev.Kind)
	assert.InDelta(t, 0.02, ev.Value, 1e-9)
}

func TestDecodeGiftBlindBox(t *testing.T) {
	// 盲盒：开盒价值减盒价，可为负
	ev := decodeMsg(t, `{"cmd":"SEND_GIFT","data":{"uid":7,"uname":"金主","giftName":"荧光棒","num":2,"discount_price":1500,"total_coin":2000,"blind_gift":{"original_gift_name":"心动盲盒"}}}`)
	assert.Equal(t, EventGift, ev.Kind)
	assert.True(t, ev.Blind)
	assert.InDelta(t, 1.0, ev.BoxProfit, 1e-9)
	assert.InDelta(t, 3.0, ev.Value, 1e-9)

	// blind_gift 为 null 时不是盲盒
	ev = decodeMsg(t, `{"cmd":"SEND_GIFT","data":{"uid":7,"num":1,"discount_price":100,"total_coin":100,"blind_gift":null}}`)
	assert.False(t, ev.Blind)
}

func TestDecodeSuperChat(t *testing.T) {
	ev := decodeMsg(t, `{"cmd":"SUPER_CHAT_MESSAGE","data":{"uid":9,"price":30,"message":"加油","user_info":{"uname":"老板"}}}`)
	assert.Equal(t, EventSuperChat, ev.Kind)
	assert.Equal(t, "老板", ev.Uname)
	assert.Equal(t, "加油", ev.Text)
	assert.InDelta(t, 30.0, ev.Value, 1e-9)
}

func TestDecodeGuardBuy(t *testing.T) {
	ev := decodeMsg(t, `{"cmd":"GUARD_BUY","data":{"uid":11,"username":"舰长甲","guard_level":3,"num":1}}`)
	assert.Equal(t, EventGuardPurchase, ev.Kind)
	assert.Equal(t, 3, ev.GuardLevel)
	assert.Equal(t, int64(1), ev.Num)
	assert.Equal(t, "舰长甲", ev.Uname)
}

func TestDecodeCounters(t *testing.T) {
	fans := decodeMsg(t, `{"cmd":"ROOM_REAL_TIME_MESSAGE_UPDATE","data":{"fans":12345}}`)
	assert.Equal(t, EventFanCount, fans.Kind)
	assert.Equal(t, int64(12345), fans.Count)

	watched := decodeMsg(t, `{"cmd":"WATCHED_CHANGE","data":{"num":678}}`)
	assert.Equal(t, EventWatchedCount, watched.Kind)
	assert.Equal(t, int64(678), watched.Count)
}

func TestDecodeHeartbeatReply(t *testing.T) {
	ev, ok := DecodePacket(Packet{Op: OpHeartbeatReply, Body: []byte{0, 0, 1, 0, 0, 0}})
	require.True(t, ok)
	assert.Equal(t, EventPopularity, ev.Kind)
	assert.Equal(t, int64(256), ev.Count)

	_, ok = DecodePacket(Packet{Op: OpHeartbeatReply, Body: []byte{1}})
	assert.False(t, ok)
}

func TestDecodeUnknownCmd(t *testing.T) {
	ev := decodeMsg(t, `{"cmd":"INTERACT_WORD","data":{}}`)
	assert.Equal(t, EventUnknown, ev.Kind)
	assert.Equal(t, "INTERACT_WORD", ev.Cmd)
}

func TestDecodeGarbageDiscarded(t *testing.T) {
	_, ok := DecodePacket(Packet{Op: OpMessage, Body: []byte("not json")})
	assert.False(t, ok)

	_, ok = DecodePacket(Packet{Op: OpHeartbeat})
	assert.False(t, ok)
}
