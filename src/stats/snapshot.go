package stats

import (
	"time"

	"github.com/bililive-go/bililive-monitor/src/types"
)

// ContributorStat 单个观众在一次会话内的累计贡献。
// First 为首次出现的到达序号，数值相同时先到者排前。
type ContributorStat struct {
	UID   int64   `json:"uid"`
	Uname string  `json:"uname"`
	Value float64 `json:"value"`
	First int64   `json:"first"`
}

// Bucket 会话内的一个互动时间桶。
// Index 以会话开始时刻为原点，按桶宽递增，空桶不落盘。
type Bucket struct {
	Index     int   `json:"index"`
	Danmu     int64 `json:"danmu"`
	Gift      int64 `json:"gift"`
	SuperChat int64 `json:"super_chat"`
	Guard     int64 `json:"guard"`
}

func (b Bucket) Total() int64 {
	return b.Danmu + b.Gift + b.SuperChat + b.Guard
}

// GuardCounts 按舰队等级统计的上舰数
type GuardCounts struct {
	Governor  int64 `json:"governor"`  // 总督
	Commander int64 `json:"commander"` // 提督
	Captain   int64 `json:"captain"`   // 舰长
}

// Gauge 会话前后各取一次的外部计量，-1 表示未知
type Gauge struct {
	Before int64 `json:"before"`
	After  int64 `json:"after"`
}

// Snapshot 一次直播会话结束后的只读统计结果
type Snapshot struct {
	RoomID       types.RoomID `json:"room_id"`
	Uname        string       `json:"uname"`
	Title        string       `json:"title"`
	SessionStart time.Time    `json:"session_start"`
	SessionEnd   time.Time    `json:"session_end"`

	DanmuCount     int64   `json:"danmu_count"`
	DanmuSenders   int64   `json:"danmu_senders"`
	GiftCount      int64   `json:"gift_count"`
	GiftValue      float64 `json:"gift_value"`
	SuperChatCount int64   `json:"super_chat_count"`
	SuperChatValue float64 `json:"super_chat_value"`
	GuardCount     int64   `json:"guard_count"`
	BoxCount       int64   `json:"box_count"`
	BoxProfit      float64 `json:"box_profit"`

	TopDanmu     []ContributorStat `json:"top_danmu"`
	TopGift      []ContributorStat `json:"top_gift"`
	TopSuperChat []ContributorStat `json:"top_super_chat"`
	Buckets      []Bucket          `json:"buckets"`
	Guards       GuardCounts       `json:"guards"`

	Fans        Gauge `json:"fans"`
	Medals      Gauge `json:"medals"`
	GuardsTotal Gauge `json:"guards_total"`

	MaxPopularity int64 `json:"max_popularity"`
	MaxWatched    int64 `json:"max_watched"`
	LastFans      int64 `json:"last_fans"`

	DanmuTexts []string `json:"danmu_texts,omitempty"`
}

func (s *Snapshot) Duration() time.Duration {
	return s.SessionEnd.Sub(s.SessionStart)
}
