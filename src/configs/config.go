package configs

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// RPC info.
type RPC struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Bind   string `yaml:"bind" json:"bind"`
}

var defaultRPC = RPC{
	Enable: true,
	Bind:   ":8080",
}

func (r *RPC) verify() error {
	if r == nil || !r.Enable {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", r.Bind); err != nil {
		return fmt.Errorf("无效的RPC绑定地址: %w", err)
	}
	return nil
}

type Log struct {
	OutPutFolder string `yaml:"out_put_folder" json:"out_put_folder"`
	SaveEveryLog bool   `yaml:"save_every_log" json:"save_every_log"`
}

// Credential B站账号凭据，弹幕服务器认证与部分接口需要
type Credential struct {
	UID      int64  `yaml:"uid" json:"uid"`
	SessData string `yaml:"sessdata" json:"-"`
	BiliJct  string `yaml:"bili_jct" json:"-"`
	Buvid3   string `yaml:"buvid3" json:"-"`
}

func (c Credential) IsValid() bool {
	return c.SessData != "" && c.BiliJct != ""
}

// Backoff 重连退避参数
type Backoff struct {
	MinMillis int     `yaml:"min_millis" json:"min_millis"`
	MaxMillis int     `yaml:"max_millis" json:"max_millis"`
	Factor    float64 `yaml:"factor" json:"factor"`
}

func (b Backoff) Min() time.Duration { return time.Duration(b.MinMillis) * time.Millisecond }
func (b Backoff) Max() time.Duration { return time.Duration(b.MaxMillis) * time.Millisecond }

// Monitor 房间监控相关配置
type Monitor struct {
	HeartbeatSec     int     `yaml:"heartbeat_sec" json:"heartbeat_sec"`
	StaleMultiplier  int     `yaml:"stale_multiplier" json:"stale_multiplier"`
	AuthTimeoutSec   int     `yaml:"auth_timeout_sec" json:"auth_timeout_sec"`
	CheckpointSec    int     `yaml:"checkpoint_sec" json:"checkpoint_sec"`
	ReconnectGapSec  int     `yaml:"reconnect_gap_sec" json:"reconnect_gap_sec"`
	TopN             int     `yaml:"top_n" json:"top_n"`
	BucketSec        int     `yaml:"bucket_sec" json:"bucket_sec"`
	Backoff          Backoff `yaml:"backoff" json:"backoff"`
	KeepDanmuTexts   bool    `yaml:"keep_danmu_texts" json:"keep_danmu_texts"`
	MaxDanmuTexts    int     `yaml:"max_danmu_texts" json:"max_danmu_texts"`
}

func (m Monitor) HeartbeatInterval() time.Duration {
	return time.Duration(m.HeartbeatSec) * time.Second
}

func (m Monitor) AuthTimeout() time.Duration {
	return time.Duration(m.AuthTimeoutSec) * time.Second
}

func (m Monitor) CheckpointInterval() time.Duration {
	return time.Duration(m.CheckpointSec) * time.Second
}

// ReconnectGap 下播后短时间内再次开播视为断流，不再重复推送
func (m Monitor) ReconnectGap() time.Duration {
	return time.Duration(m.ReconnectGapSec) * time.Second
}

func (m Monitor) BucketWidth() time.Duration {
	return time.Duration(m.BucketSec) * time.Second
}

// StaleAfter 超过该时长未收到任何帧则判定连接失活
func (m Monitor) StaleAfter() time.Duration {
	return time.Duration(m.StaleMultiplier) * m.HeartbeatInterval()
}

type Telegram struct {
	Enable           bool   `yaml:"enable" json:"enable"`
	BotToken         string `yaml:"bot_token" json:"-"`
	ChatID           string `yaml:"chat_id" json:"-"`
	WithNotification bool   `yaml:"with_notification" json:"with_notification"`
}

type Email struct {
	Enable   bool     `yaml:"enable" json:"enable"`
	SMTPHost string   `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port" json:"smtp_port"`
	Username string   `yaml:"username" json:"-"`
	Password string   `yaml:"password" json:"-"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
}

// 通知服务所需配置
type Notify struct {
	Telegram Telegram `yaml:"telegram" json:"telegram"`
	Email    Email    `yaml:"email" json:"email"`

	// 推送内容模板，占位符：{uname} {title} {url} {room_id}
	LiveOnTemplate  string `yaml:"live_on_template" json:"live_on_template"`
	LiveOffTemplate string `yaml:"live_off_template" json:"live_off_template"`
}

type Sentry struct {
	DSN         string `yaml:"dsn" json:"-"`
	Environment string `yaml:"environment" json:"environment"`
}

type Config struct {
	File string `yaml:"-" json:"-"`

	Debug      bool       `yaml:"debug" json:"debug"`
	Database   string     `yaml:"database" json:"database"`
	RPC        RPC        `yaml:"rpc" json:"rpc"`
	Log        Log        `yaml:"log" json:"log"`
	Credential Credential `yaml:"credential" json:"-"`
	Monitor    Monitor    `yaml:"monitor" json:"monitor"`
	Notify     Notify     `yaml:"notify" json:"notify"`
	Sentry     Sentry     `yaml:"sentry" json:"sentry"`
}

func NewConfig() *Config {
	return &Config{
		Database: "data/bililive-monitor.db",
		RPC:      defaultRPC,
		Log: Log{
			OutPutFolder: "./",
		},
		Monitor: Monitor{
			HeartbeatSec:    30,
			StaleMultiplier: 3,
			AuthTimeoutSec:  10,
			CheckpointSec:   60,
			ReconnectGapSec: 60,
			TopN:            10,
			BucketSec:       60,
			Backoff: Backoff{
				MinMillis: 1000,
				MaxMillis: 60000,
				Factor:    2,
			},
			KeepDanmuTexts: true,
			MaxDanmuTexts:  10000,
		},
		Notify: Notify{
			LiveOnTemplate:  "{uname} 正在直播 {title}\n{url}",
			LiveOffTemplate: "{uname} 直播结束了",
		},
	}
}

func NewConfigWithFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %s, err: %w", path, err)
	}
	config := NewConfig()
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	config.File = path
	return config, nil
}

func (c *Config) Verify() error {
	if c == nil {
		return fmt.Errorf("config is null")
	}
	if err := c.RPC.verify(); err != nil {
		return err
	}
	if c.Database == "" {
		return fmt.Errorf("database path is empty")
	}
	m := c.Monitor
	if m.HeartbeatSec <= 0 || m.StaleMultiplier < 2 || m.CheckpointSec <= 0 || m.BucketSec <= 0 {
		return fmt.Errorf("invalid monitor config")
	}
	if m.TopN <= 0 || m.TopN > 50 {
		return fmt.Errorf("top_n must be in (0, 50], got %d", m.TopN)
	}
	if m.Backoff.MinMillis <= 0 || m.Backoff.MaxMillis < m.Backoff.MinMillis || m.Backoff.Factor < 1 {
		return fmt.Errorf("invalid backoff config")
	}
	return nil
}

func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

var currentConfig atomic.Pointer[Config]

// SetCurrentConfig 设置全局配置，启动时调用一次
func SetCurrentConfig(cfg *Config) {
	currentConfig.Store(cfg)
}

// GetCurrentConfig 获取全局配置，未初始化时返回 nil
func GetCurrentConfig() *Config {
	return currentConfig.Load()
}

func IsDebug() bool {
	cfg := GetCurrentConfig()
	return cfg != nil && cfg.Debug
}
