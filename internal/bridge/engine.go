package bridge

import (
	"context"

	"webclip/pkg/model"
	"webclip/pkg/traffic"
)

// Engine 浏览器引擎能力集合，Bridge 之外的组件不持有它
type Engine interface {
	// Configure 应用站点级设置（脚本、内联媒体、UA）
	Configure(ctx context.Context, s model.EngineSettings) error
	// SetRequestPolicy 引擎在跟随导航请求前调用的策略
	SetRequestPolicy(p traffic.PolicyFunc)
	// Subscribe 注册状态变化通知，回调可能在任意 goroutine 上触发
	Subscribe(onChange func()) (cancel func())

	Load(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error
	StopLoading(ctx context.Context) error

	IsLoading() bool
	CanGoBack() bool
	CanGoForward() bool
	CurrentURL() string
}

// Opener 交给系统处理外部 scheme
type Opener interface {
	Open(ctx context.Context, url string) error
}

// CommandSink UI 控件只持有该接口下发指令
type CommandSink interface {
	Dispatch(cmd model.Command) bool
}

// StateSource UI 观察者只持有该接口读取状态
type StateSource interface {
	State() model.NavigationState
	Observe(fn func(model.NavigationState)) (cancel func())
}

// snapshot 在通知发生时读取引擎状态
func snapshot(e Engine) model.NavigationState {
	return model.NavigationState{
		CanGoBack:    e.CanGoBack(),
		CanGoForward: e.CanGoForward(),
		IsLoading:    e.IsLoading(),
		CurrentURL:   e.CurrentURL(),
	}
}
