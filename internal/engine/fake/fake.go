// Package fake 提供确定性的内存浏览器引擎，供测试驱动状态变化通知。
package fake

import (
	"context"
	"sync"

	"webclip/pkg/model"
	"webclip/pkg/traffic"
)

// Engine 维护一个简单的前进/后退历史栈
type Engine struct {
	mu       sync.Mutex
	history  []string
	index    int
	loading  bool
	settings *model.EngineSettings
	policy   traffic.PolicyFunc
	subs     map[int]func()
	nextSub  int
	calls    []string

	// LoadErr 非空时 Load 返回该错误且不改变历史
	LoadErr error
}

// New 创建空引擎
func New() *Engine {
	return &Engine{index: -1, subs: make(map[int]func())}
}

func (e *Engine) Configure(_ context.Context, s model.EngineSettings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = &s
	e.calls = append(e.calls, "configure")
	return nil
}

func (e *Engine) SetRequestPolicy(p traffic.PolicyFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policy = p
}

func (e *Engine) Subscribe(onChange func()) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = onChange
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) Load(_ context.Context, url string) error {
	e.mu.Lock()
	e.calls = append(e.calls, "load:"+url)
	if e.LoadErr != nil {
		err := e.LoadErr
		e.loading = false
		e.mu.Unlock()
		e.Emit()
		return err
	}
	e.history = append(e.history[:e.index+1], url)
	e.index = len(e.history) - 1
	e.mu.Unlock()
	e.Emit()
	return nil
}

func (e *Engine) GoBack(context.Context) error {
	e.mu.Lock()
	e.calls = append(e.calls, "go_back")
	if e.index > 0 {
		e.index--
	}
	e.mu.Unlock()
	e.Emit()
	return nil
}

func (e *Engine) GoForward(context.Context) error {
	e.mu.Lock()
	e.calls = append(e.calls, "go_forward")
	if e.index < len(e.history)-1 {
		e.index++
	}
	e.mu.Unlock()
	e.Emit()
	return nil
}

func (e *Engine) Reload(context.Context) error {
	e.mu.Lock()
	e.calls = append(e.calls, "reload")
	e.mu.Unlock()
	return nil
}

func (e *Engine) StopLoading(context.Context) error {
	e.mu.Lock()
	e.calls = append(e.calls, "stop_loading")
	e.mu.Unlock()
	return nil
}

func (e *Engine) IsLoading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

func (e *Engine) CanGoBack() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index > 0
}

func (e *Engine) CanGoForward() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index >= 0 && e.index < len(e.history)-1
}

func (e *Engine) CurrentURL() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index < 0 {
		return ""
	}
	return e.history[e.index]
}

// Close 记录关闭调用
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "close")
	return nil
}

// SetLoading 修改加载状态并通知订阅者
func (e *Engine) SetLoading(v bool) {
	e.SetLoadingSilently(v)
	e.Emit()
}

// SetLoadingSilently 修改加载状态但不通知，模拟通知尚未送达
func (e *Engine) SetLoadingSilently(v bool) {
	e.mu.Lock()
	e.loading = v
	e.mu.Unlock()
}

// Emit 同步调用所有订阅者
func (e *Engine) Emit() {
	e.mu.Lock()
	fns := make([]func(), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Request 模拟引擎在跟随导航前询问策略
func (e *Engine) Request(url string) model.Decision {
	e.mu.Lock()
	p := e.policy
	e.mu.Unlock()
	if p == nil {
		return model.DecisionAllow
	}
	return p(traffic.NewRequest(url))
}

// Calls 已执行的引擎调用
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Settings 最近一次 Configure 的参数
func (e *Engine) Settings() (model.EngineSettings, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settings == nil {
		return model.EngineSettings{}, false
	}
	return *e.settings, true
}

// Subscribers 当前订阅数
func (e *Engine) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// HasPolicy 是否设置了策略
func (e *Engine) HasPolicy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy != nil
}
