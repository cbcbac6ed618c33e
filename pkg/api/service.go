package api

import (
	"context"
	"fmt"

	"webclip/internal/bridge"
	"webclip/internal/config"
	"webclip/internal/deeplink"
	cdpengine "webclip/internal/engine/cdp"
	rodengine "webclip/internal/engine/rod"
	"webclip/internal/favicon"
	"webclip/internal/logger"
	"webclip/internal/mainloop"
	"webclip/internal/opener"
	"webclip/internal/responder"
	"webclip/internal/service"
	"webclip/internal/session"
	"webclip/internal/storage"
	"webclip/internal/storage/repo"
	"webclip/pkg/model"
)

// ErrShortcutUnavailable 快捷方式创建失败
var ErrShortcutUnavailable = service.ErrShortcutUnavailable

// Service 服务接口
type Service interface {
	// ListSites 按列表顺序返回全部站点
	ListSites(ctx context.Context) ([]model.Site, error)

	// GetSite 获取站点
	GetSite(ctx context.Context, id model.SiteID) (model.Site, error)

	// AddSite 新增站点
	AddSite(ctx context.Context, site model.Site) (model.Site, error)

	// UpdateSite 更新站点
	UpdateSite(ctx context.Context, site model.Site) error

	// RemoveSite 删除站点
	RemoveSite(ctx context.Context, id model.SiteID) error

	// MoveSite 调整站点顺序
	MoveSite(ctx context.Context, id model.SiteID, index int) error

	// RefreshIcon 重新抓取图标
	RefreshIcon(ctx context.Context, id model.SiteID) (bool, error)

	// CreateShortcut 启动本地服务提供快捷方式页面，返回页面地址
	CreateShortcut(ctx context.Context, id model.SiteID) (string, error)

	// ShortcutsAppURL 快捷指令 app 链接
	ShortcutsAppURL(ctx context.Context, id model.SiteID) (string, error)

	// StopShortcut 停止本地服务
	StopShortcut()

	// HandleDeepLink 解析深链
	HandleDeepLink(ctx context.Context, uri string) (model.Site, bool)

	// DeepLink 站点深链
	DeepLink(id model.SiteID) string

	// OpenSite 打开站点
	OpenSite(ctx context.Context, id model.SiteID) (*bridge.Bridge, error)

	// CloseSite 关闭站点
	CloseSite(id model.SiteID) bool

	// OpenSites 当前打开的站点
	OpenSites() []model.Site

	// ImportJSON 导入旧版站点列表
	ImportJSON(ctx context.Context, data []byte) (int, error)

	// ExportJSON 导出站点列表
	ExportJSON(ctx context.Context) ([]byte, error)

	// Loop UI 串行执行上下文
	Loop() *mainloop.Loop

	// Close 释放全部资源
	Close()
}

type closer struct {
	*service.Service
	close func() error
}

func (c *closer) Close() {
	c.Service.Close()
	_ = c.close()
}

// NewService 按配置组装服务
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
	if err != nil {
		return nil, err
	}
	sites := repo.NewSiteRepo(db, l)

	svc := service.New(service.Deps{
		Sites: sites,
		Responder: responder.New(responder.Config{
			Host:   cfg.Responder.Host,
			Expiry: cfg.Responder.ExpiryDuration(),
			Logger: l,
		}),
		Router:   deeplink.NewRouter(cfg.DeepLink.Scheme, cfg.DeepLink.Host, sites, l),
		Loop:     mainloop.New(l),
		Sessions: session.NewManager(l),
		Engines:  EngineFactory(cfg.Engine, l),
		Opener:   opener.NewSystem(l),
		Icons: favicon.New(favicon.Config{
			Candidates: cfg.Favicon.Candidates,
			Timeout:    cfg.Favicon.TimeoutDuration(),
			Logger:     l,
		}),
		ToolScheme: cfg.DeepLink.ToolScheme,
		Logger:     l,
	})
	return &closer{Service: svc, close: func() error { return storage.Close(db) }}, nil
}

// EngineFactory 按驱动创建并连接浏览器引擎
func EngineFactory(cfg config.EngineConfig, l logger.Logger) service.EngineFactory {
	return func(ctx context.Context) (service.Engine, error) {
		switch cfg.Driver {
		case "rod":
			e := rodengine.New(rodengine.Config{
				ControlURL:  cfg.Endpoint(),
				Headless:    cfg.Headless,
				CallTimeout: cfg.CallTimeoutDuration(),
				Logger:      l,
			})
			if err := e.Connect(ctx); err != nil {
				return nil, err
			}
			return e, nil
		case "cdp", "":
			e := cdpengine.New(cdpengine.Config{
				DevToolsURL: cfg.Endpoint(),
				CallTimeout: cfg.CallTimeoutDuration(),
				Logger:      l,
			})
			if err := e.Connect(ctx); err != nil {
				return nil, err
			}
			return e, nil
		}
		return nil, fmt.Errorf("unknown engine driver %q", cfg.Driver)
	}
}
