package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin"
	"github.com/joho/godotenv"

	"github.com/bililive-go/bililive-monitor/src/configs"
	"github.com/bililive-go/bililive-monitor/src/consts"
	"github.com/bililive-go/bililive-monitor/src/instance"
	"github.com/bililive-go/bililive-monitor/src/log"
	"github.com/bililive-go/bililive-monitor/src/monitor"
	"github.com/bililive-go/bililive-monitor/src/notify"
	"github.com/bililive-go/bililive-monitor/src/pkg/sentry"
	"github.com/bililive-go/bililive-monitor/src/roomapi"
	"github.com/bililive-go/bililive-monitor/src/servers"
	"github.com/bililive-go/bililive-monitor/src/storage"
)

var (
	app = kingpin.New(consts.AppName, "A bilibili live room monitor.").Version(consts.AppVersion)

	conf     = app.Flag("config", "Path to the config file (yaml).").Short('c').String()
	debug    = app.Flag("debug", "Enable debug mode.").Bool()
	rpcBind  = app.Flag("rpc-bind", "RPC bind address.").String()
	database = app.Flag("database", "Path to the sqlite database.").String()
)

func getConfig() (*configs.Config, error) {
	var config *configs.Config
	if *conf != "" {
		c, err := configs.NewConfigWithFile(*conf)
		if err != nil {
			return nil, err
		}
		config = c
	} else {
		config = configs.NewConfig()
	}
	if *debug {
		config.Debug = true
	}
	if *rpcBind != "" {
		config.RPC.Bind = *rpcBind
	}
	if *database != "" {
		config.Database = *database
	}
	applyEnvCredential(config)
	return config, config.Verify()
}

// applyEnvCredential 允许用 .env / 环境变量覆盖账号凭据，避免写进配置文件
func applyEnvCredential(config *configs.Config) {
	_ = godotenv.Load()
	if v := os.Getenv("BILI_SESSDATA"); v != "" {
		config.Credential.SessData = v
	}
	if v := os.Getenv("BILI_JCT"); v != "" {
		config.Credential.BiliJct = v
	}
	if v := os.Getenv("BILI_BUVID3"); v != "" {
		config.Credential.Buvid3 = v
	}
	if v := os.Getenv("BILI_UID"); v != "" {
		if uid, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Credential.UID = uid
		}
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		config.Sentry.DSN = v
	}
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	config, err := getConfig()
	if err != nil {
		kingpin.Fatalf("failed to load config: %s", err)
	}
	configs.SetCurrentConfig(config)

	logger := log.New()
	logger.Infof("%s start", consts.AppName)
	logger.WithField("info", consts.AppInfo(os.Getpid())).Debug("app info")

	if err := sentry.Init(config.Sentry.DSN, config.Sentry.Environment, consts.AppVersion); err != nil {
		logger.WithError(err).Warn("初始化 Sentry 失败")
	}
	defer sentry.Flush(2 * time.Second)

	store, err := storage.NewSQLiteStore(config.Database)
	if err != nil {
		logger.WithError(err).Fatal("打开订阅数据库失败")
	}
	defer store.Close()

	api := roomapi.NewClient(config.Credential)
	dispatcher := notify.NewDispatcher()
	manager := monitor.NewManager(config, api, store, dispatcher)

	inst := &instance.Instance{
		Config:         config,
		Store:          store,
		API:            api,
		Dispatcher:     dispatcher,
		MonitorManager: manager,
	}
	ctx, cancel := context.WithCancel(instance.WithInstance(context.Background(), inst))
	defer cancel()

	if config.RPC.Enable {
		srv := servers.NewServer(ctx)
		if err := srv.Start(ctx); err != nil {
			logger.WithError(err).Fatal("启动 HTTP 服务失败")
		}
		inst.Server = srv
	}

	if err := manager.Start(ctx); err != nil {
		logger.WithError(err).Fatal("启动房间监控失败")
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info("Received shutdown signal, closing...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if inst.Server != nil {
		inst.Server.Close(shutdownCtx)
	}
	// 停监控前会给直播中的房间补一次快照落盘
	manager.Close(shutdownCtx)

	logger.Info("Shutdown complete")
}
