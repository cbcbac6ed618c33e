// Package deeplink 解析 <scheme>://open?id=<uuid> 形式的深链并还原站点记录。
package deeplink

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"webclip/internal/logger"
	"webclip/pkg/model"
)

const (
	DefaultScheme = "webclip"
	DefaultHost   = "open"
	idParam       = "id"
)

// SiteLookup 按 ID 查找站点
type SiteLookup interface {
	Lookup(ctx context.Context, id model.SiteID) (model.Site, bool)
}

// Router 深链路由
type Router struct {
	scheme string
	host   string
	sites  SiteLookup
	log    logger.Logger
}

// NewRouter 创建路由，scheme/host 为空时使用默认值
func NewRouter(scheme, host string, sites SiteLookup, l logger.Logger) *Router {
	if scheme == "" {
		scheme = DefaultScheme
	}
	if host == "" {
		host = DefaultHost
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Router{scheme: strings.ToLower(scheme), host: strings.ToLower(host), sites: sites, log: l}
}

// Route 解析深链；任何校验或查找失败都静默返回 false
func (r *Router) Route(ctx context.Context, uri string) (model.Site, bool) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		r.log.Debug("忽略无法解析的深链", "uri", uri, "error", err)
		return model.Site{}, false
	}
	if u.Scheme != r.scheme || strings.ToLower(u.Host) != r.host {
		r.log.Debug("忽略非本应用深链", "uri", uri)
		return model.Site{}, false
	}
	raw := u.Query().Get(idParam)
	if raw == "" {
		r.log.Debug("深链缺少 id 参数", "uri", uri)
		return model.Site{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		r.log.Debug("深链 id 非法", "id", raw)
		return model.Site{}, false
	}
	site, ok := r.sites.Lookup(ctx, id)
	if !ok {
		r.log.Debug("深链指向的站点不存在", "id", id.String())
		return model.Site{}, false
	}
	return site, true
}

// Link 生成站点深链
func (r *Router) Link(id model.SiteID) string {
	u := url.URL{Scheme: r.scheme, Host: r.host, RawQuery: url.Values{idParam: {id.String()}}.Encode()}
	return u.String()
}
