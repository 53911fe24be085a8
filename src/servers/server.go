package servers

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bililive-go/bililive-monitor/src/instance"
	applog "github.com/bililive-go/bililive-monitor/src/log"
	"github.com/bililive-go/bililive-monitor/src/metrics"
	"github.com/bililive-go/bililive-monitor/src/pkg/sentry"
)

type Server struct {
	server *http.Server
}

func NewServer(ctx context.Context) *Server {
	inst := instance.GetInstance(ctx)
	router := mux.NewRouter()
	router.Use(log)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/info", getInfo).Methods(http.MethodGet)
	api.HandleFunc("/rooms", getRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms", addRoom).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{id}", removeRoom).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{id}/targets/{tid}", removeTarget).Methods(http.MethodDelete)
	api.HandleFunc("/status", getStatus).Methods(http.MethodGet)

	router.Handle("/metrics", metrics.Handler())

	return &Server{
		server: &http.Server{
			Addr:    inst.Config.RPC.Bind,
			Handler: router,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	sentry.GoWithContext(ctx, func(ctx context.Context) {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			applog.GetLogger().WithError(err).Error("HTTP 服务异常退出")
		}
	})
	applog.GetLogger().WithField("bind", s.server.Addr).Info("HTTP 服务已启动")
	return nil
}

func (s *Server) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		applog.GetLogger().WithError(err).Error("HTTP 服务关闭失败")
	}
}
