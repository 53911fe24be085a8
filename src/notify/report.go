package notify

import (
	"fmt"
	"strings"

	"github.com/bililive-go/bililive-monitor/src/stats"
)

// RenderReport 把会话快照渲染为一段文本战报
func RenderReport(meta RoomMeta, snap *stats.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s 的直播战报\n", meta.Uname)
	if meta.Title != "" {
		fmt.Fprintf(&b, "标题：%s\n", meta.Title)
	}
	fmt.Fprintf(&b, "时长：%s\n", formatDuration(snap))
	fmt.Fprintf(&b, "弹幕：%d 条（%d 人参与）\n", snap.DanmuCount, snap.DanmuSenders)
	if snap.GiftValue > 0 || snap.GiftCount > 0 {
		fmt.Fprintf(&b, "礼物：%d 个，合计 %.1f 元\n", snap.GiftCount, snap.GiftValue)
	}
	if snap.SuperChatCount > 0 {
		fmt.Fprintf(&b, "醒目留言：%d 条，合计 %.1f 元\n", snap.SuperChatCount, snap.SuperChatValue)
	}
	if snap.BoxCount > 0 {
		fmt.Fprintf(&b, "盲盒：%d 个，盈亏 %+.1f 元\n", snap.BoxCount, snap.BoxProfit)
	}
	if snap.GuardCount > 0 {
		fmt.Fprintf(&b, "上舰：%d 人（总督 %d / 提督 %d / 舰长 %d）\n",
			snap.GuardCount, snap.Guards.Governor, snap.Guards.Commander, snap.Guards.Captain)
	}
	if snap.MaxPopularity > 0 {
		fmt.Fprintf(&b, "人气峰值：%d\n", snap.MaxPopularity)
	}
	if snap.MaxWatched > 0 {
		fmt.Fprintf(&b, "看过：%d\n", snap.MaxWatched)
	}
	if delta, ok := gaugeDelta(snap.Fans); ok {
		fmt.Fprintf(&b, "粉丝：%+d（现 %d）\n", delta, snap.Fans.After)
	}

	if len(snap.TopDanmu) > 0 {
		b.WriteString("弹幕榜：\n")
		for i, s := range snap.TopDanmu {
			fmt.Fprintf(&b, "  %d. %s（%d 条）\n", i+1, s.Uname, int64(s.Value))
		}
	}
	if len(snap.TopGift) > 0 {
		b.WriteString("礼物榜：\n")
		for i, s := range snap.TopGift {
			fmt.Fprintf(&b, "  %d. %s（%.1f 元）\n", i+1, s.Uname, s.Value)
		}
	}
	if len(snap.TopSuperChat) > 0 {
		b.WriteString("醒目留言榜：\n")
		for i, s := range snap.TopSuperChat {
			fmt.Fprintf(&b, "  %d. %s（%.1f 元）\n", i+1, s.Uname, s.Value)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func formatDuration(snap *stats.Snapshot) string {
	d := snap.Duration()
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%d 小时 %d 分钟", h, m)
	}
	return fmt.Sprintf("%d 分钟", m)
}

// gaugeDelta 前后都已知才有增量
func gaugeDelta(g stats.Gauge) (int64, bool) {
	if g.Before < 0 || g.After < 0 {
		return 0, false
	}
	return g.After - g.Before, true
}
