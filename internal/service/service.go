// Package service 组合站点存储、快捷方式、深链与打开站点的业务逻辑
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"webclip/internal/bridge"
	"webclip/internal/deeplink"
	"webclip/internal/logger"
	"webclip/internal/mainloop"
	"webclip/internal/responder"
	"webclip/internal/session"
	"webclip/internal/shortcut"
	"webclip/internal/storage/repo"
	"webclip/pkg/model"
)

var (
	// ErrShortcutUnavailable 无法启动本地服务，快捷方式创建失败
	ErrShortcutUnavailable = errors.New("couldn't create shortcut")
	ErrClosed              = errors.New("service: closed")
)

// Engine 可关闭的浏览器引擎
type Engine interface {
	bridge.Engine
	Close() error
}

// EngineFactory 为每次打开站点创建独立引擎
type EngineFactory func(ctx context.Context) (Engine, error)

// IconFetcher 图标抓取
type IconFetcher interface {
	Fetch(ctx context.Context, host string) ([]byte, bool)
}

// Deps 依赖项
type Deps struct {
	Sites      *repo.SiteRepo
	Responder  *responder.Responder
	Router     *deeplink.Router
	Loop       *mainloop.Loop
	Sessions   *session.Manager
	Engines    EngineFactory
	Opener     bridge.Opener
	Icons      IconFetcher
	ToolScheme string
	Logger     logger.Logger
}

// Service 业务服务实现
type Service struct {
	sites      *repo.SiteRepo
	responder  *responder.Responder
	router     *deeplink.Router
	loop       *mainloop.Loop
	sessions   *session.Manager
	engines    EngineFactory
	opener     bridge.Opener
	icons      IconFetcher
	toolScheme string
	log        logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup
	once   sync.Once
}

// New 创建服务
func New(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	if d.Loop == nil {
		d.Loop = mainloop.New(d.Logger)
	}
	if d.Sessions == nil {
		d.Sessions = session.NewManager(d.Logger)
	}
	if d.Responder == nil {
		d.Responder = responder.New(responder.Config{Logger: d.Logger})
	}
	if d.Router == nil {
		d.Router = deeplink.NewRouter("", "", d.Sites, d.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		sites:      d.Sites,
		responder:  d.Responder,
		router:     d.Router,
		loop:       d.Loop,
		sessions:   d.Sessions,
		engines:    d.Engines,
		opener:     d.Opener,
		icons:      d.Icons,
		toolScheme: d.ToolScheme,
		log:        d.Logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Loop UI 串行执行上下文
func (s *Service) Loop() *mainloop.Loop { return s.loop }

func (s *Service) ListSites(ctx context.Context) ([]model.Site, error) {
	return s.sites.List(ctx)
}

func (s *Service) GetSite(ctx context.Context, id model.SiteID) (model.Site, error) {
	return s.sites.Get(ctx, id)
}

// AddSite 保存站点并在后台抓取图标
func (s *Service) AddSite(ctx context.Context, site model.Site) (model.Site, error) {
	if err := s.sites.Add(ctx, site); err != nil {
		return model.Site{}, err
	}
	s.log.Info("新增站点", "site", site.ID.String(), "name", site.Name)
	if s.icons != nil && len(site.Icon) == 0 {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			if _, err := s.RefreshIcon(s.ctx, site.ID); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Err(err, "后台抓取图标失败", "site", site.ID.String())
			}
		}()
	}
	return site, nil
}

func (s *Service) UpdateSite(ctx context.Context, site model.Site) error {
	if err := s.sites.Update(ctx, site); err != nil {
		return err
	}
	if _, open := s.sessions.Get(site.ID); open {
		s.log.Info("站点已打开，新设置在下次打开时生效", "site", site.ID.String())
	}
	return nil
}

// RemoveSite 删除站点并关闭其打开的会话
func (s *Service) RemoveSite(ctx context.Context, id model.SiteID) error {
	if err := s.sites.Remove(ctx, id); err != nil {
		return err
	}
	s.sessions.Close(id)
	s.log.Info("删除站点", "site", id.String())
	return nil
}

func (s *Service) MoveSite(ctx context.Context, id model.SiteID, index int) error {
	return s.sites.Move(ctx, id, index)
}

// RefreshIcon 重新抓取站点图标，返回是否更新
func (s *Service) RefreshIcon(ctx context.Context, id model.SiteID) (bool, error) {
	if s.icons == nil {
		return false, nil
	}
	site, err := s.sites.Get(ctx, id)
	if err != nil {
		return false, err
	}
	host := site.Host()
	if host == "" {
		return false, nil
	}
	icon, ok := s.icons.Fetch(ctx, host)
	if !ok {
		return false, ctx.Err()
	}
	if err := s.sites.SetIcon(ctx, id, icon); err != nil {
		return false, err
	}
	return true, nil
}

// CreateShortcut 生成快捷方式页面并通过本地服务提供，返回页面地址
func (s *Service) CreateShortcut(ctx context.Context, id model.SiteID) (string, error) {
	site, err := s.sites.Get(ctx, id)
	if err != nil {
		return "", err
	}
	page, err := shortcut.Render(site, s.router.Link(site.ID))
	if err != nil {
		return "", fmt.Errorf("生成快捷方式页面: %w", err)
	}
	port, err := s.responder.Start(page)
	if err != nil {
		if errors.Is(err, responder.ErrBindFailed) {
			return "", fmt.Errorf("%w: %v", ErrShortcutUnavailable, err)
		}
		return "", err
	}
	u := responder.URL(port)
	s.log.Info("快捷方式页面已就绪", "site", site.ID.String(), "url", u)
	return u, nil
}

// ShortcutsAppURL 快捷指令 app 链接
func (s *Service) ShortcutsAppURL(ctx context.Context, id model.SiteID) (string, error) {
	site, err := s.sites.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return shortcut.ShortcutsAppURL(site, s.router.Link(site.ID)), nil
}

func (s *Service) StopShortcut() {
	s.responder.Stop()
}

// HandleDeepLink 深链解析，失败时静默返回 false
func (s *Service) HandleDeepLink(ctx context.Context, uri string) (model.Site, bool) {
	return s.router.Route(ctx, uri)
}

// DeepLink 站点深链
func (s *Service) DeepLink(id model.SiteID) string {
	return s.router.Link(id)
}

// OpenSite 为站点创建引擎与 Bridge 并注册为打开状态
func (s *Service) OpenSite(ctx context.Context, id model.SiteID) (*bridge.Bridge, error) {
	if s.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if s.engines == nil {
		return nil, errors.New("service: no engine configured")
	}
	site, err := s.sites.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	engine, err := s.engines(ctx)
	if err != nil {
		return nil, fmt.Errorf("创建浏览器引擎: %w", err)
	}
	b := bridge.New(bridge.Config{
		Loop:       s.loop,
		Opener:     s.opener,
		ToolScheme: s.toolScheme,
		Logger:     s.log,
	})
	if err := b.Attach(ctx, engine, site); err != nil {
		b.Detach()
		_ = engine.Close()
		return nil, err
	}
	s.sessions.Open(session.New(site, b, engine))
	return b, nil
}

func (s *Service) CloseSite(id model.SiteID) bool {
	return s.sessions.Close(id)
}

// OpenSites 当前打开的站点
func (s *Service) OpenSites() []model.Site {
	list := s.sessions.List()
	out := make([]model.Site, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.Site)
	}
	return out
}

func (s *Service) ImportJSON(ctx context.Context, data []byte) (int, error) {
	return s.sites.ImportJSON(ctx, data)
}

func (s *Service) ExportJSON(ctx context.Context) ([]byte, error) {
	return s.sites.ExportJSON(ctx)
}

// Close 停止本地服务、关闭全部站点并等待后台任务
func (s *Service) Close() {
	s.once.Do(func() {
		s.cancel()
		s.responder.Stop()
		s.sessions.CloseAll()
		s.bg.Wait()
		s.loop.Close()
	})
}
