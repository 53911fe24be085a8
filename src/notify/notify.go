package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/bililive-go/bililive-monitor/src/configs"
	blog "github.com/bililive-go/bililive-monitor/src/log"
	"github.com/bililive-go/bililive-monitor/src/metrics"
	"github.com/bililive-go/bililive-monitor/src/notify/email"
	"github.com/bililive-go/bililive-monitor/src/notify/telegram"
	"github.com/bililive-go/bililive-monitor/src/stats"
	"github.com/bililive-go/bililive-monitor/src/storage"
	"github.com/bililive-go/bililive-monitor/src/types"
)

// RoomMeta 推送时携带的直播间展示信息
type RoomMeta struct {
	RoomID types.RoomID
	Uname  string
	Title  string
}

func (m RoomMeta) URL() string {
	return fmt.Sprintf("https://live.bilibili.com/%d", m.RoomID)
}

// Dispatcher 通知出口，开播/下播/战报各一个入口
// 按订阅目标上的开关决定投递与否
type Dispatcher interface {
	OnRoomStarted(ctx context.Context, sub *storage.Subscription, meta RoomMeta)
	OnRoomEnded(ctx context.Context, sub *storage.Subscription, meta RoomMeta)
	OnReportReady(ctx context.Context, sub *storage.Subscription, meta RoomMeta, snap *stats.Snapshot)
}

// LiveDispatcher 默认实现，经 telegram / email 投递
type LiveDispatcher struct{}

func NewDispatcher() *LiveDispatcher {
	return &LiveDispatcher{}
}

// render 替换模板占位符 {uname} {title} {url} {room_id}
func render(template string, meta RoomMeta) string {
	r := strings.NewReplacer(
		"{uname}", meta.Uname,
		"{title}", meta.Title,
		"{url}", meta.URL(),
		"{room_id}", fmt.Sprintf("%d", meta.RoomID),
	)
	return r.Replace(template)
}

func (d *LiveDispatcher) OnRoomStarted(ctx context.Context, sub *storage.Subscription, meta RoomMeta) {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		return
	}
	message := render(cfg.Notify.LiveOnTemplate, meta)
	subject := fmt.Sprintf("%s 开播了", meta.Uname)
	for _, target := range sub.Targets {
		if !target.NotifyStart {
			continue
		}
		d.deliver(target, subject, message)
	}
}

func (d *LiveDispatcher) OnRoomEnded(ctx context.Context, sub *storage.Subscription, meta RoomMeta) {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		return
	}
	message := render(cfg.Notify.LiveOffTemplate, meta)
	subject := fmt.Sprintf("%s 下播了", meta.Uname)
	for _, target := range sub.Targets {
		if !target.NotifyEnd {
			continue
		}
		d.deliver(target, subject, message)
	}
}

func (d *LiveDispatcher) OnReportReady(ctx context.Context, sub *storage.Subscription, meta RoomMeta, snap *stats.Snapshot) {
	message := RenderReport(meta, snap)
	subject := fmt.Sprintf("%s 直播战报", meta.Uname)
	for _, target := range sub.Targets {
		if !target.Report {
			continue
		}
		d.deliver(target, subject, message)
	}
}

// deliver 按目标类型选择通道，群组走 telegram，私发走邮件
func (d *LiveDispatcher) deliver(target storage.Target, subject, message string) {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		return
	}
	var err error
	switch target.Kind {
	case types.TargetGroup:
		if !cfg.Notify.Telegram.Enable {
			return
		}
		chatID := target.ID
		if chatID == "" {
			chatID = cfg.Notify.Telegram.ChatID
		}
		err = telegram.SendMessage(cfg.Notify.Telegram.BotToken, chatID, message, cfg.Notify.Telegram.WithNotification)
	case types.TargetDirect:
		if !cfg.Notify.Email.Enable {
			return
		}
		if target.ID != "" {
			err = email.SendEmail(subject, message, target.ID)
		} else {
			err = email.SendEmail(subject, message)
		}
	default:
		return
	}
	if err != nil {
		metrics.NotifyFailures.Inc()
		blog.GetLogger().WithError(err).WithField("target", target.ID).Error("推送通知失败")
		return
	}
	metrics.NotifySent.Inc()
}
