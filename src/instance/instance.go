package instance

import (
	"context"

	"github.com/bililive-go/bililive-monitor/src/configs"
	"github.com/bililive-go/bililive-monitor/src/interfaces"
	"github.com/bililive-go/bililive-monitor/src/monitor"
	"github.com/bililive-go/bililive-monitor/src/notify"
	"github.com/bililive-go/bililive-monitor/src/roomapi"
	"github.com/bililive-go/bililive-monitor/src/storage"
)

// Instance 程序级依赖的汇总，经 context 传递
type Instance struct {
	Config         *configs.Config
	Store          storage.Store
	API            roomapi.API
	Dispatcher     notify.Dispatcher
	MonitorManager *monitor.Manager
	Server         interfaces.Module
}

type instanceKey struct{}

func WithInstance(ctx context.Context, inst *Instance) context.Context {
	return context.WithValue(ctx, instanceKey{}, inst)
}

func GetInstance(ctx context.Context) *Instance {
	inst, _ := ctx.Value(instanceKey{}).(*Instance)
	return inst
}
