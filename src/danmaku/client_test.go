package danmaku

import (
	"testing"
	"time"

	"github.com/jpillora/backoff"
	"github.com/stretchr/testify/assert"

	"github.com/bililive-go/bililive-monitor/src/configs"
)

func testBackoffConfig() configs.Backoff {
	return configs.Backoff{MinMillis: 1000, MaxMillis: 60000, Factor: 2}
}

func TestBackoffPolicyGrowthAndCap(t *testing.T) {
	// 无抖动版本验证单调倍增与封顶
	cfg := testBackoffConfig()
	b := &backoff.Backoff{Min: cfg.Min(), Max: cfg.Max(), Factor: cfg.Factor}

	assert.Equal(t, time.Second, b.Duration())
	assert.Equal(t, 2*time.Second, b.Duration())
	assert.Equal(t, 4*time.Second, b.Duration())
	for i := 0; i < 10; i++ {
		b.Duration()
	}
	assert.Equal(t, time.Minute, b.Duration())

	b.Reset()
	assert.Equal(t, time.Second, b.Duration())
}

func TestReconnectBackoffJitterBounds(t *testing.T) {
	b := newReconnectBackoff(testBackoffConfig())
	for i := 0; i < 100; i++ {
		d := b.Duration()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, time.Minute)
	}
}

func TestSplitAuthReplyKeepsLeftoverPackets(t *testing.T) {
	// 首个应答帧可能在 ack 之外夹带逻辑包，不能丢
	acked, leftover := splitAuthReply([]Packet{
		{Op: OpAuthAck, Body: []byte(`{"code":0}`)},
		{Op: OpMessage, Body: []byte(`{"cmd":"LIVE","roomid":1}`)},
		{Op: OpHeartbeatReply, Body: []byte{0, 0, 0, 1}},
	})
	assert.True(t, acked)
	assert.Len(t, leftover, 2)
	assert.Equal(t, OpMessage, leftover[0].Op)
	assert.Equal(t, OpHeartbeatReply, leftover[1].Op)

	acked, leftover = splitAuthReply([]Packet{{Op: OpMessage, Body: []byte(`{}`)}})
	assert.False(t, acked)
	assert.Len(t, leftover, 1)
}

func TestClientInitialState(t *testing.T) {
	c := NewClient(1, 0, "", nil, configs.NewConfig().Monitor)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Zero(t, c.Reconnects())
	assert.True(t, c.LastFrame().IsZero())
}
