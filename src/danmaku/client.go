package danmaku

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/bililive-go/bililive-monitor/src/configs"
	"github.com/bililive-go/bililive-monitor/src/metrics"
	"github.com/bililive-go/bililive-monitor/src/pkg/sentry"
	"github.com/bililive-go/bililive-monitor/src/types"
)

var (
	// ErrAuthTimeout 认证超时，服务器未在期限内回 auth-ack
	ErrAuthTimeout = errors.New("danmaku auth timeout")
	// ErrAuthRejected 认证被拒绝
	ErrAuthRejected = errors.New("danmaku auth rejected")
)

// ChatHost 一个可用的弹幕服务器
type ChatHost struct {
	Host    string
	WssPort int
}

// ChatConf 弹幕服务器接入配置
type ChatConf struct {
	Token string
	Hosts []ChatHost
}

// ConfProvider 提供弹幕服务器接入配置（由元信息客户端实现）
type ConfProvider interface {
	GetChatConf(ctx context.Context, roomID types.RoomID) (*ChatConf, error)
}

// 连接状态
const (
	StateDisconnected uint32 = iota
	StateConnecting
	StateConnected
)

// Client 单个直播间的弹幕长连接。
// Run 内部负责无限重连，调用方只消费 Events。
type Client struct {
	roomID   types.RoomID
	uid      int64
	buvid    string
	provider ConfProvider
	monitor  configs.Monitor

	events chan Event
	logger *logrus.Entry

	state      atomic.Uint32
	reconnects atomic.Int64
	lastFrame  atomic.Int64 // unix 秒
}

func NewClient(roomID types.RoomID, uid int64, buvid string, provider ConfProvider, monitor configs.Monitor) *Client {
	return &Client{
		roomID:   roomID,
		uid:      uid,
		buvid:    buvid,
		provider: provider,
		monitor:  monitor,
		events:   make(chan Event, 64),
		logger:   logrus.WithField("room", roomID),
	}
}

// Events 解码后的事件流，Run 退出时关闭
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) State() uint32     { return c.state.Load() }
func (c *Client) Reconnects() int64 { return c.reconnects.Load() }

func (c *Client) LastFrame() time.Time {
	sec := c.lastFrame.Load()
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// newReconnectBackoff 带抖动的指数退避，认证成功后 Reset
func newReconnectBackoff(cfg configs.Backoff) *backoff.Backoff {
	return &backoff.Backoff{
		Min:    cfg.Min(),
		Max:    cfg.Max(),
		Factor: cfg.Factor,
		Jitter: true,
	}
}

// Run 维持长连接直到 ctx 取消。断线按指数退避重连，上不封顶。
func (c *Client) Run(ctx context.Context) {
	defer close(c.events)
	defer c.state.Store(StateDisconnected)

	b := newReconnectBackoff(c.monitor.Backoff)
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !first {
			c.reconnects.Add(1)
			metrics.Reconnects.Inc()
		}
		first = false

		err := c.session(ctx, b)
		if ctx.Err() != nil {
			return
		}

		wait := b.Duration()
		c.logger.WithError(err).WithField("retry_in", wait).Warn("弹幕连接断开，准备重连")
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session 一次完整的连接生命周期：拿配置、拨号、认证、收包
func (c *Client) session(ctx context.Context, b *backoff.Backoff) error {
	c.state.Store(StateConnecting)
	defer c.state.Store(StateDisconnected)

	conf, err := c.provider.GetChatConf(ctx, c.roomID)
	if err != nil {
		return fmt.Errorf("获取弹幕服务器配置失败: %w", err)
	}
	if len(conf.Hosts) == 0 {
		return errors.New("弹幕服务器列表为空")
	}
	host := conf.Hosts[rand.Intn(len(conf.Hosts))]
	addr := fmt.Sprintf("wss://%s:%d/sub", host.Host, host.WssPort)

	dialer := websocket.Dialer{HandshakeTimeout: c.monitor.AuthTimeout()}
	conn, _, err := dialer.DialContext(ctx, addr, http.Header{
		"Origin": []string{"https://live.bilibili.com"},
	})
	if err != nil {
		return fmt.Errorf("连接弹幕服务器 %s 失败: %w", addr, err)
	}
	defer conn.Close()

	leftover, err := c.auth(conn, conf.Token)
	if err != nil {
		return err
	}
	c.state.Store(StateConnected)
	c.lastFrame.Store(time.Now().Unix())
	b.Reset()
	c.logger.WithField("host", host.Host).Debug("弹幕连接认证成功")

	// 认证包之后只有心跳 goroutine 写连接
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	sentry.Go(func() {
		c.heartbeatLoop(conn, heartbeatDone)
	})

	// auth-ack 也作为事件上抛，监控端用它触发断线后的状态核对
	if !c.emit(ctx, Event{Kind: EventAuthAck}) {
		return ctx.Err()
	}
	// 首帧可能夹带 ack 之外的逻辑包，一并上抛
	for _, p := range leftover {
		if ev, ok := DecodePacket(p); ok && ev.Kind != EventAuthAck {
			if !c.emit(ctx, ev) {
				return ctx.Err()
			}
		}
	}

	return c.readLoop(ctx, conn)
}

// auth 发送认证包并等待 auth-ack，返回同帧夹带的其他逻辑包
func (c *Client) auth(conn *websocket.Conn, token string) ([]Packet, error) {
	body, err := json.Marshal(map[string]interface{}{
		"uid":      c.uid,
		"roomid":   int64(c.roomID),
		"protover": 3,
		"platform": "web",
		"type":     2,
		"key":      token,
		"buvid":    c.buvid,
	})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, NewAuthPacket(body).Encode()); err != nil {
		return nil, fmt.Errorf("发送认证包失败: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.monitor.AuthTimeout())); err != nil {
		return nil, err
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthTimeout, err)
	}
	packets, err := Split(frame)
	if err != nil {
		return nil, err
	}
	acked, leftover := splitAuthReply(packets)
	if !acked {
		return nil, ErrAuthRejected
	}
	return leftover, nil
}

// splitAuthReply 从首个应答帧里找出 auth-ack，剩余逻辑包交还调用方
func splitAuthReply(packets []Packet) (acked bool, leftover []Packet) {
	for _, p := range packets {
		if p.Op == OpAuthAck {
			acked = true
			continue
		}
		leftover = append(leftover, p)
	}
	return acked, leftover
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.monitor.HeartbeatInterval())
	defer ticker.Stop()

	frame := NewHeartbeatPacket().Encode()
	// 先发一个，再按周期发
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// 超过 StaleAfter 没有任何帧（包括心跳回复）视为失活
		if err := conn.SetReadDeadline(time.Now().Add(c.monitor.StaleAfter())); err != nil {
			return err
		}
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("读取弹幕帧失败: %w", err)
		}
		c.lastFrame.Store(time.Now().Unix())

		packets, err := Split(frame)
		if err != nil {
			// 坏帧只丢弃本帧，不断开连接
			metrics.PacketsDiscarded.Inc()
			c.logger.WithError(err).Debug("丢弃无法解析的弹幕帧")
			continue
		}
		for _, p := range packets {
			ev, ok := DecodePacket(p)
			if !ok {
				if p.Op == OpMessage {
					metrics.PacketsDiscarded.Inc()
				}
				continue
			}
			if ev.Kind == EventAuthAck {
				// 会话内的重复 ack 不再上抛
				continue
			}
			if !c.emit(ctx, ev) {
				return ctx.Err()
			}
		}
	}
}

func (c *Client) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
