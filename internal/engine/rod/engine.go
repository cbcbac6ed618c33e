// Package rod 基于 go-rod 的浏览器引擎实现
package rod

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"webclip/internal/logger"
	"webclip/pkg/model"
	"webclip/pkg/traffic"
)

var ErrNotConnected = errors.New("rod: not connected")

// Config 配置选项
type Config struct {
	// 调试地址(http 或 ws)，为空时通过 launcher 启动本地浏览器
	ControlURL  string
	Headless    bool
	CallTimeout time.Duration
	Logger      logger.Logger
}

// Engine 持有一个独立页面
type Engine struct {
	cfg Config
	log logger.Logger

	browser  *rod.Browser
	launched bool
	page     *rod.Page
	router   *rod.HijackRouter
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.RWMutex
	loading bool
	canBack bool
	canFwd  bool
	current string

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
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Engine{cfg: cfg, log: cfg.Logger, subs: make(map[int]func())}
}

// Connect 连接或启动浏览器并打开新页面
func (e *Engine) Connect(ctx context.Context) error {
	controlURL := e.cfg.ControlURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = launcher.New().Headless(e.cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("启动浏览器: %w", err)
		}
		controlURL = u
	} else {
		u, err := launcher.ResolveURL(controlURL)
		if err != nil {
			return fmt.Errorf("解析调试地址 %s: %w", controlURL, err)
		}
		controlURL = u
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return fmt.Errorf("连接浏览器: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		e.abort(browser, l)
		return fmt.Errorf("创建页面: %w", err)
	}
	e.launched = l != nil

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.browser = browser
	e.page = page

	wait := page.Context(e.ctx).EachEvent(
		func(ev *proto.PageFrameStartedLoading) {
			if ev.FrameID == page.FrameID {
				e.setLoading(true)
			}
		},
		func(ev *proto.PageFrameStoppedLoading) {
			if ev.FrameID == page.FrameID {
				e.setLoading(false)
				e.refreshHistory()
			}
		},
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame != nil && ev.Frame.ParentID == "" {
				e.refreshHistory()
			}
		},
		func(ev *proto.PageNavigatedWithinDocument) {
			if ev.FrameID == page.FrameID {
				e.refreshHistory()
			}
		},
		func(ev *proto.PageFrameRequestedNavigation) {
			req := traffic.NewRequest(ev.URL)
			req.IsMainFrame = ev.FrameID == page.FrameID
			switch req.Scheme() {
			case "http", "https", "about", "data", "blob", "javascript", "":
				return
			}
			e.log.Debug("外部 scheme 导航", "url", ev.URL, "decision", e.decide(req).String())
		},
	)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		wait()
	}()

	router := page.HijackRequests()
	if err := router.Add("*", proto.NetworkResourceTypeDocument, e.hijack); err != nil {
		_ = e.Close()
		return fmt.Errorf("注册请求拦截: %w", err)
	}
	e.router = router
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		router.Run()
	}()

	e.log.Info("已连接浏览器", "controlURL", controlURL)
	return nil
}

// Close 关闭页面与事件循环，可重复调用
func (e *Engine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}
	var err error
	if e.router != nil {
		err = e.router.Stop()
		e.router = nil
	}
	if e.page != nil {
		if cerr := e.page.Close(); cerr != nil && err == nil {
			err = cerr
		}
		e.page = nil
	}
	e.wg.Wait()
	if e.launched && e.browser != nil {
		// 自行启动的浏览器随引擎一起退出
		if cerr := e.browser.Close(); cerr != nil && err == nil {
			err = cerr
		}
		e.browser = nil
	}
	return err
}

// abort 清理 Connect 中途失败时自行启动的浏览器，远程浏览器保持运行
func (e *Engine) abort(browser *rod.Browser, l *launcher.Launcher) {
	if l == nil {
		return
	}
	if err := browser.Close(); err != nil {
		e.log.Warn("关闭浏览器失败，强制结束进程", "error", err)
		l.Kill()
	}
}

// hijack 对文档请求执行策略
func (e *Engine) hijack(h *rod.Hijack) {
	req := traffic.NewRequest(h.Request.URL().String())
	req.Method = h.Request.Method()
	req.ResourceType = string(h.Request.Type())
	req.IsMainFrame = true
	for k, v := range h.Request.Headers() {
		req.Headers.Set(k, v.String())
	}
	if e.decide(req) == model.DecisionCancel {
		e.log.Info("导航请求已取消", "url", req.URL)
		h.Response.Fail(proto.NetworkErrorReasonAborted)
		return
	}
	h.ContinueRequest(&proto.FetchContinueRequest{})
}

func (e *Engine) Configure(ctx context.Context, s model.EngineSettings) error {
	p, err := e.pageCtx(ctx)
	if err != nil {
		return err
	}
	if err := (proto.EmulationSetScriptExecutionDisabled{Value: !s.JavaScriptEnabled}).Call(p); err != nil {
		return fmt.Errorf("设置脚本开关: %w", err)
	}
	if s.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.UserAgent}); err != nil {
			return fmt.Errorf("设置 UA: %w", err)
		}
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
	p, err := e.pageCtx(ctx)
	if err != nil {
		return err
	}
	if err := p.Navigate(url); err != nil {
		e.setLoading(false)
		return err
	}
	return nil
}

func (e *Engine) GoBack(ctx context.Context) error {
	p, err := e.pageCtx(ctx)
	if err != nil {
		return err
	}
	return p.NavigateBack()
}

func (e *Engine) GoForward(ctx context.Context) error {
	p, err := e.pageCtx(ctx)
	if err != nil {
		return err
	}
	return p.NavigateForward()
}

func (e *Engine) Reload(ctx context.Context) error {
	p, err := e.pageCtx(ctx)
	if err != nil {
		return err
	}
	return p.Reload()
}

func (e *Engine) StopLoading(ctx context.Context) error {
	p, err := e.pageCtx(ctx)
	if err != nil {
		return err
	}
	if err := p.StopLoading(); err != nil {
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

func (e *Engine) pageCtx(ctx context.Context) (*rod.Page, error) {
	if e.page == nil {
		return nil, ErrNotConnected
	}
	return e.page.Context(ctx).Timeout(e.cfg.CallTimeout), nil
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

func (e *Engine) refreshHistory() {
	p, err := e.pageCtx(e.ctx)
	if err != nil {
		return
	}
	h, err := proto.PageGetNavigationHistory{}.Call(p)
	if err != nil {
		e.log.Debug("获取导航历史失败", "error", err)
		return
	}
	e.applyHistory(h.CurrentIndex, h.Entries)
}

func (e *Engine) applyHistory(index int, entries []*proto.PageNavigationEntry) {
	e.mu.Lock()
	e.canBack = index > 0
	e.canFwd = index >= 0 && index < len(entries)-1
	if index >= 0 && index < len(entries) && entries[index] != nil {
		e.current = entries[index].URL
	}
	e.mu.Unlock()
	e.notify()
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
