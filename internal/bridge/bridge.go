// Package bridge 连接单个浏览器引擎实例与 UI：
// 向 UI 发布只读导航状态，接收 UI 指令，并对出站请求做策略判定。
package bridge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"webclip/internal/logger"
	"webclip/internal/mainloop"
	"webclip/pkg/model"
	"webclip/pkg/traffic"
)

// DefaultToolScheme 协作工具保留 scheme
const DefaultToolScheme = "stikjit"

const defaultCommandBuffer = 64

var (
	ErrAlreadyAttached = errors.New("bridge: already attached")
	ErrDetached        = errors.New("bridge: detached")
)

// Config 配置选项
type Config struct {
	Loop          *mainloop.Loop
	Opener        Opener
	ToolScheme    string
	CommandBuffer int
	Logger        logger.Logger
}

// Bridge 一个打开站点对应一个 Bridge，状态不跨站点共享
type Bridge struct {
	loop       *mainloop.Loop
	opener     Opener
	toolScheme string
	log        logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	engine      Engine
	site        model.Site
	unsubscribe func()
	observers   map[int]func(model.NavigationState)
	nextObs     int

	stateMu sync.RWMutex
	state   model.NavigationState

	detached atomic.Bool
	commands chan model.Command
	stopCmd  chan struct{}
	cmdDone  chan struct{}
}

// New 创建 Bridge，Loop 为空时自建一个
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Loop == nil {
		cfg.Loop = mainloop.New(cfg.Logger)
	}
	if cfg.ToolScheme == "" {
		cfg.ToolScheme = DefaultToolScheme
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = defaultCommandBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		loop:       cfg.Loop,
		opener:     cfg.Opener,
		toolScheme: strings.ToLower(cfg.ToolScheme),
		log:        cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		observers:  make(map[int]func(model.NavigationState)),
		commands:   make(chan model.Command, cfg.CommandBuffer),
		stopCmd:    make(chan struct{}),
		cmdDone:    make(chan struct{}),
	}
}

// Attach 配置引擎、建立订阅并加载站点地址
func (b *Bridge) Attach(ctx context.Context, engine Engine, site model.Site) error {
	b.mu.Lock()
	if b.detached.Load() {
		b.mu.Unlock()
		return ErrDetached
	}
	if b.engine != nil {
		b.mu.Unlock()
		return ErrAlreadyAttached
	}
	b.engine = engine
	b.site = site
	b.mu.Unlock()

	go b.commandLoop()

	if err := engine.Configure(ctx, site.Settings()); err != nil {
		b.log.Warn("引擎配置失败，继续使用默认设置", "site", site.ID.String(), "error", err)
	}
	engine.SetRequestPolicy(b.policy)

	cancel := engine.Subscribe(func() { b.onEngineChange(engine) })
	b.mu.Lock()
	if b.detached.Load() {
		b.mu.Unlock()
		cancel()
		engine.SetRequestPolicy(nil)
		return ErrDetached
	}
	b.unsubscribe = cancel
	b.mu.Unlock()

	b.onEngineChange(engine)

	if site.ParsedURL() == nil {
		b.log.Warn("站点地址无效，跳过初始加载", "site", site.ID.String(), "url", site.URL)
		return nil
	}
	target := strings.TrimSpace(site.URL)
	b.log.Info("加载站点", "site", site.ID.String(), "url", target)
	if err := engine.Load(ctx, target); err != nil {
		b.log.Err(err, "站点加载失败", "site", site.ID.String(), "url", target)
		b.publishLoadFailure()
	}
	return nil
}

// Site 当前绑定的站点
func (b *Bridge) Site() model.Site {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.site
}

// State 最近一次发布的状态快照
func (b *Bridge) State() model.NavigationState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

// Observe 订阅状态变化，回调在 UI Loop 上执行
func (b *Bridge) Observe(fn func(model.NavigationState)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached.Load() {
		return func() {}
	}
	id := b.nextObs
	b.nextObs++
	b.observers[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.observers, id)
		b.mu.Unlock()
	}
}

// Dispatch 投递指令，不等待执行结果；未附加、已分离或队列已满时返回 false
func (b *Bridge) Dispatch(cmd model.Command) bool {
	b.mu.Lock()
	attached := b.engine != nil
	b.mu.Unlock()
	if !attached || b.detached.Load() {
		return false
	}
	select {
	case b.commands <- cmd:
		return true
	case <-b.stopCmd:
		return false
	default:
		b.log.Warn("指令队列已满，丢弃指令", "command", cmd.String())
		return false
	}
}

// Intercept 对出站请求做出放行或取消的决定，不会阻塞调用方
func (b *Bridge) Intercept(rawURL string) model.Decision {
	b.mu.Lock()
	enabled := b.site.EnableToolScheme
	b.mu.Unlock()

	if !enabled {
		return model.DecisionAllow
	}
	if traffic.NewRequest(rawURL).Scheme() != b.toolScheme {
		return model.DecisionAllow
	}

	b.log.Info("拦截协作工具请求，交由系统打开", "url", rawURL)
	if b.opener == nil {
		b.log.Warn("未配置外部打开器，请求被丢弃", "url", rawURL)
		return model.DecisionCancel
	}
	go func() {
		if err := b.opener.Open(b.ctx, rawURL); err != nil {
			b.log.Err(err, "外部打开失败", "url", rawURL)
		}
	}()
	return model.DecisionCancel
}

// Detach 解除引擎订阅并释放回调，可重复调用。
// 在 UI Loop 上调用时返回后不会再有观察者回调；在其他 goroutine 上调用时
// 至多等待正在执行的那一次回调结束。
func (b *Bridge) Detach() {
	b.mu.Lock()
	if b.detached.Swap(true) {
		b.mu.Unlock()
		return
	}
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	engine := b.engine
	b.engine = nil
	b.observers = make(map[int]func(model.NavigationState))
	close(b.stopCmd)
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	b.cancel()
	if engine != nil {
		engine.SetRequestPolicy(nil)
		<-b.cmdDone
	}
	b.log.Info("已分离引擎", "site", b.Site().ID.String())
}

// Detached 是否已分离
func (b *Bridge) Detached() bool { return b.detached.Load() }

func (b *Bridge) policy(req *traffic.Request) model.Decision {
	return b.Intercept(req.URL)
}

// onEngineChange 在通知发生的 goroutine 上取快照，再切到 UI Loop 发布
func (b *Bridge) onEngineChange(engine Engine) {
	if b.detached.Load() {
		return
	}
	st := snapshot(engine)
	b.loop.Post(func() { b.publish(st) })
}

func (b *Bridge) publishLoadFailure() {
	b.loop.Post(func() {
		st := b.State()
		st.IsLoading = false
		b.publish(st)
	})
}

// publish 仅在 UI Loop 上执行
func (b *Bridge) publish(st model.NavigationState) {
	if b.detached.Load() {
		return
	}
	b.stateMu.Lock()
	b.state = st
	b.stateMu.Unlock()

	b.mu.Lock()
	fns := make([]func(model.NavigationState), 0, len(b.observers))
	for _, fn := range b.observers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		if b.detached.Load() {
			return
		}
		fn(st)
	}
}

func (b *Bridge) commandLoop() {
	defer close(b.cmdDone)
	for {
		select {
		case <-b.stopCmd:
			return
		case cmd := <-b.commands:
			b.apply(cmd)
		}
	}
}

// apply 在后台执行指令，ReloadOrStop 以执行时刻引擎的加载状态为准
func (b *Bridge) apply(cmd model.Command) {
	b.mu.Lock()
	engine := b.engine
	b.mu.Unlock()
	if engine == nil {
		return
	}

	var err error
	switch cmd {
	case model.CommandGoBack:
		if !engine.CanGoBack() {
			return
		}
		err = engine.GoBack(b.ctx)
	case model.CommandGoForward:
		if !engine.CanGoForward() {
			return
		}
		err = engine.GoForward(b.ctx)
	case model.CommandReloadOrStop:
		if engine.IsLoading() {
			err = engine.StopLoading(b.ctx)
		} else {
			err = engine.Reload(b.ctx)
		}
	default:
		b.log.Warn("未知指令", "command", int(cmd))
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		b.log.Err(err, "指令执行失败", "command", cmd.String())
	}
}
