// Package cdp 基于 Chrome DevTools 协议的浏览器引擎实现
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/emulation"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/rpcc"

	adapter "webclip/internal/adapter/cdp"
	"webclip/internal/logger"
	"webclip/pkg/model"
	"webclip/pkg/traffic"
)

var (
	ErrNotConnected   = errors.New("cdp: not connected")
	ErrTargetNotFound = errors.New("cdp: target not found")
	ErrNavigation     = errors.New("cdp: navigation failed")
)

// Config 配置选项
type Config struct {
	DevToolsURL string
	// 为空时新建独占的 page 目标，Close 时一并关闭
	TargetID    string
	CallTimeout time.Duration
	Logger      logger.Logger
}

// Engine 绑定单个 page 目标
type Engine struct {
	devtoolsURL string
	targetID    string
	callTimeout time.Duration
	log         logger.Logger

	dt      *devtool.DevTools
	target  *devtool.Target
	created bool

	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	mainFrame page.FrameID
	loading   bool
	canBack   bool
	canFwd    bool
	current   string

	policyMu sync.RWMutex
	policy   traffic.PolicyFunc

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// New 创建引擎，需调用 Connect 后才能使用
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.DevToolsURL == "" {
		cfg.DevToolsURL = "http://127.0.0.1:9222"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Engine{
		devtoolsURL: cfg.DevToolsURL,
		targetID:    cfg.TargetID,
		callTimeout: cfg.CallTimeout,
		log:         cfg.Logger,
		subs:        make(map[int]func()),
	}
}

// Connect 附加到目标页面并开启事件流
func (e *Engine) Connect(ctx context.Context) error {
	e.dt = devtool.New(e.devtoolsURL)
	target, err := e.selectTarget(ctx, e.dt)
	if err != nil {
		return err
	}
	conn, err := rpcc.DialContext(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		if cerr := e.closeTarget(); cerr != nil {
			e.log.Warn("关闭页面失败", "error", cerr)
		}
		return fmt.Errorf("连接目标 %s: %w", target.ID, err)
	}
	client := cdp.NewClient(conn)

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.conn = conn
	e.client = client

	if err := e.enable(ctx); err != nil {
		_ = e.Close()
		return err
	}
	e.log.Info("已附加到浏览器页面", "target", target.ID, "url", target.URL)
	e.refreshHistory(ctx)
	return nil
}

func (e *Engine) selectTarget(ctx context.Context, dt *devtool.DevTools) (*devtool.Target, error) {
	if e.targetID != "" {
		targets, err := dt.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("获取目标列表: %w", err)
		}
		for _, t := range targets {
			if t.ID == e.targetID {
				e.target = t
				return t, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, e.targetID)
	}
	t, err := dt.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("创建页面: %w", err)
	}
	e.target = t
	e.created = true
	return t, nil
}

// closeTarget 关闭由本引擎创建的页面，指定 TargetID 附加的页面保持不动
func (e *Engine) closeTarget() error {
	if !e.created || e.target == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()
	t := e.target
	e.target = nil
	e.created = false
	if err := e.dt.Close(ctx, t); err != nil {
		return fmt.Errorf("关闭页面 %s: %w", t.ID, err)
	}
	return nil
}

func (e *Engine) enable(ctx context.Context) error {
	c := e.client
	if err := c.Page.Enable(ctx); err != nil {
		return fmt.Errorf("启用 Page 域: %w", err)
	}
	if err := c.Network.Enable(ctx, nil); err != nil {
		return fmt.Errorf("启用 Network 域: %w", err)
	}
	p := "*"
	rt := network.ResourceTypeDocument
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, ResourceType: &rt, RequestStage: fetch.RequestStageRequest},
	}
	if err := c.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		return fmt.Errorf("启用 Fetch 域: %w", err)
	}
	tree, err := c.Page.GetFrameTree(ctx)
	if err != nil {
		return fmt.Errorf("获取框架树: %w", err)
	}
	e.mu.Lock()
	e.mainFrame = tree.FrameTree.Frame.ID
	e.mu.Unlock()

	started, err := c.Page.FrameStartedLoading(e.ctx)
	if err != nil {
		return err
	}
	stopped, err := c.Page.FrameStoppedLoading(e.ctx)
	if err != nil {
		started.Close()
		return err
	}
	navigated, err := c.Page.FrameNavigated(e.ctx)
	if err != nil {
		started.Close()
		stopped.Close()
		return err
	}
	within, err := c.Page.NavigatedWithinDocument(e.ctx)
	if err != nil {
		started.Close()
		stopped.Close()
		navigated.Close()
		return err
	}
	requested, err := c.Page.FrameRequestedNavigation(e.ctx)
	if err != nil {
		started.Close()
		stopped.Close()
		navigated.Close()
		within.Close()
		return err
	}
	paused, err := c.Fetch.RequestPaused(e.ctx)
	if err != nil {
		started.Close()
		stopped.Close()
		navigated.Close()
		within.Close()
		requested.Close()
		return err
	}

	e.wg.Add(6)
	go e.consumeStarted(started)
	go e.consumeStopped(stopped)
	go e.consumeNavigated(navigated)
	go e.consumeWithin(within)
	go e.consumeRequested(requested)
	go e.consumePaused(paused)
	return nil
}

// Close 停止事件流并断开连接，可重复调用
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	var err error
	if e.conn != nil {
		err = e.conn.Close()
		e.conn = nil
	}
	if cerr := e.closeTarget(); cerr != nil {
		e.log.Warn("关闭页面失败", "error", cerr)
		if err == nil {
			err = cerr
		}
	}
	return err
}

func (e *Engine) Configure(ctx context.Context, s model.EngineSettings) error {
	if e.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := e.callCtx(ctx)
	defer cancel()

	disabled := emulation.NewSetScriptExecutionDisabledArgs(!s.JavaScriptEnabled)
	if err := e.client.Emulation.SetScriptExecutionDisabled(ctx, disabled); err != nil {
		return fmt.Errorf("设置脚本开关: %w", err)
	}
	if s.UserAgent != "" {
		if err := e.client.Emulation.SetUserAgentOverride(ctx, emulation.NewSetUserAgentOverrideArgs(s.UserAgent)); err != nil {
			return fmt.Errorf("设置 UA: %w", err)
		}
	}
	if !s.AllowInlineMedia {
		// DevTools 协议没有内联播放开关
		e.log.Debug("忽略内联媒体设置")
	}
	return nil
}

func (e *Engine) SetRequestPolicy(p traffic.PolicyFunc) {
	e.policyMu.Lock()
	e.policy = p
	e.policyMu.Unlock()
}

func (e *Engine) Subscribe(onChange func()) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = onChange
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) Load(ctx context.Context, url string) error {
	if e.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := e.callCtx(ctx)
	defer cancel()
	reply, err := e.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		e.setLoading(false)
		return err
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		e.setLoading(false)
		return fmt.Errorf("%w: %s", ErrNavigation, *reply.ErrorText)
	}
	return nil
}

func (e *Engine) GoBack(ctx context.Context) error {
	return e.goToOffset(ctx, -1)
}

func (e *Engine) GoForward(ctx context.Context) error {
	return e.goToOffset(ctx, 1)
}

func (e *Engine) goToOffset(ctx context.Context, delta int) error {
	if e.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := e.callCtx(ctx)
	defer cancel()
	h, err := e.client.Page.GetNavigationHistory(ctx)
	if err != nil {
		return err
	}
	i := h.CurrentIndex + delta
	if i < 0 || i >= len(h.Entries) {
		return nil
	}
	return e.client.Page.NavigateToHistoryEntry(ctx, page.NewNavigateToHistoryEntryArgs(h.Entries[i].ID))
}

func (e *Engine) Reload(ctx context.Context) error {
	if e.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := e.callCtx(ctx)
	defer cancel()
	return e.client.Page.Reload(ctx, page.NewReloadArgs())
}

func (e *Engine) StopLoading(ctx context.Context) error {
	if e.client == nil {
		return ErrNotConnected
	}
	ctx, cancel := e.callCtx(ctx)
	defer cancel()
	if err := e.client.Page.StopLoading(ctx); err != nil {
		return err
	}
	e.setLoading(false)
	return nil
}

func (e *Engine) IsLoading() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loading
}

func (e *Engine) CanGoBack() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.canBack
}

func (e *Engine) CanGoForward() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.canFwd
}

func (e *Engine) CurrentURL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout)
}

func (e *Engine) isMainFrame(id page.FrameID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mainFrame == "" || id == e.mainFrame
}

func (e *Engine) setLoading(v bool) {
	e.mu.Lock()
	changed := e.loading != v
	e.loading = v
	e.mu.Unlock()
	if changed {
		e.notify()
	}
}

// applyHistory 用导航历史更新前进/后退能力和当前地址
func (e *Engine) applyHistory(h *page.GetNavigationHistoryReply) {
	e.mu.Lock()
	e.canBack = h.CurrentIndex > 0
	e.canFwd = h.CurrentIndex >= 0 && h.CurrentIndex < len(h.Entries)-1
	if h.CurrentIndex >= 0 && h.CurrentIndex < len(h.Entries) {
		e.current = h.Entries[h.CurrentIndex].URL
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) refreshHistory(ctx context.Context) {
	if e.client == nil {
		return
	}
	ctx, cancel := e.callCtx(ctx)
	defer cancel()
	h, err := e.client.Page.GetNavigationHistory(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.log.Debug("获取导航历史失败", "error", err)
		}
		return
	}
	e.applyHistory(h)
}

func (e *Engine) notify() {
	e.subMu.Lock()
	fns := make([]func(), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (e *Engine) decide(req *traffic.Request) model.Decision {
	e.policyMu.RLock()
	p := e.policy
	e.policyMu.RUnlock()
	if p == nil {
		return model.DecisionAllow
	}
	return p(req)
}

func (e *Engine) consumeStarted(s page.FrameStartedLoadingClient) {
	defer e.wg.Done()
	defer s.Close()
	for {
		ev, err := s.Recv()
		if err != nil {
			return
		}
		if e.isMainFrame(ev.FrameID) {
			e.setLoading(true)
		}
	}
}

func (e *Engine) consumeStopped(s page.FrameStoppedLoadingClient) {
	defer e.wg.Done()
	defer s.Close()
	for {
		ev, err := s.Recv()
		if err != nil {
			return
		}
		if e.isMainFrame(ev.FrameID) {
			e.setLoading(false)
			e.refreshHistory(e.ctx)
		}
	}
}

func (e *Engine) consumeNavigated(s page.FrameNavigatedClient) {
	defer e.wg.Done()
	defer s.Close()
	for {
		ev, err := s.Recv()
		if err != nil {
			return
		}
		if ev.Frame.ParentID != nil {
			continue
		}
		e.mu.Lock()
		e.mainFrame = ev.Frame.ID
		e.mu.Unlock()
		e.refreshHistory(e.ctx)
	}
}

func (e *Engine) consumeWithin(s page.NavigatedWithinDocumentClient) {
	defer e.wg.Done()
	defer s.Close()
	for {
		ev, err := s.Recv()
		if err != nil {
			return
		}
		if e.isMainFrame(ev.FrameID) {
			e.refreshHistory(e.ctx)
		}
	}
}

// consumeRequested 非 http(s) 导航不会进入 Fetch 域，在这里交给策略
func (e *Engine) consumeRequested(s page.FrameRequestedNavigationClient) {
	defer e.wg.Done()
	defer s.Close()
	for {
		ev, err := s.Recv()
		if err != nil {
			return
		}
		req := traffic.NewRequest(ev.URL)
		req.IsMainFrame = e.isMainFrame(ev.FrameID)
		switch req.Scheme() {
		case "http", "https", "about", "data", "blob", "javascript", "":
			continue
		}
		d := e.decide(req)
		e.log.Debug("外部 scheme 导航", "url", ev.URL, "decision", d.String())
	}
}

func (e *Engine) consumePaused(s fetch.RequestPausedClient) {
	defer e.wg.Done()
	defer s.Close()
	for {
		ev, err := s.Recv()
		if err != nil {
			return
		}
		e.handle(ev)
	}
}

// handle 对文档请求执行策略：放行或以 Aborted 失败
func (e *Engine) handle(ev *fetch.RequestPausedReply) {
	ctx, cancel := e.callCtx(e.ctx)
	defer cancel()

	e.mu.RLock()
	main := e.mainFrame
	e.mu.RUnlock()

	d := model.DecisionAllow
	if adapter.IsNavigation(ev) {
		d = e.decide(adapter.ToRequest(ev, main))
	}
	var err error
	if d == model.DecisionCancel {
		err = e.client.Fetch.FailRequest(ctx, fetch.NewFailRequestArgs(ev.RequestID, network.ErrorReasonAborted))
		e.log.Info("导航请求已取消", "url", ev.Request.URL)
	} else {
		err = e.client.Fetch.ContinueRequest(ctx, fetch.NewContinueRequestArgs(ev.RequestID))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Err(err, "处理拦截请求失败", "url", ev.Request.URL)
	}
}
