package interfaces

import "context"

// Module 可启动/关闭的顶层组件（HTTP 服务等）
type Module interface {
	Start(ctx context.Context) error
	Close(ctx context.Context)
}
