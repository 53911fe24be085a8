package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsDecoded 按类型统计解码出的事件数
	EventsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bililive",
		Name:      "events_decoded_total",
		Help:      "Number of decoded danmaku events by kind.",
	}, []string{"kind"})

	// PacketsDiscarded 无法解析而丢弃的包数
	PacketsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bililive",
		Name:      "packets_discarded_total",
		Help:      "Number of packets discarded due to decode failures.",
	})

	// Reconnects 弹幕连接重连次数
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bililive",
		Name:      "reconnects_total",
		Help:      "Number of danmaku connection reconnects.",
	})

	// CheckpointFailures 统计快照落盘失败次数
	CheckpointFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bililive",
		Name:      "checkpoint_failures_total",
		Help:      "Number of failed stats checkpoint writes.",
	})

	// NotifySent / NotifyFailures 通知投递结果
	NotifySent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bililive",
		Name:      "notifications_sent_total",
		Help:      "Number of notifications delivered.",
	})
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bililive",
		Name:      "notification_failures_total",
		Help:      "Number of notification delivery failures.",
	})

	// RoomsWatched 当前监控中的直播间数
	RoomsWatched = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bililive",
		Name:      "rooms_watched",
		Help:      "Number of rooms currently monitored.",
	})

	// SessionsStarted 观测到的直播会话数
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bililive",
		Name:      "sessions_started_total",
		Help:      "Number of live sessions observed.",
	})
)

// Handler /metrics 的 HTTP 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
