// Package favicon 按候选地址依次抓取站点图标
package favicon

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"

	"webclip/internal/logger"
)

const maxIconSize = 1 << 20

// Config 抓取配置
type Config struct {
	// 候选地址模板，%s 替换为主机名
	Candidates []string
	Timeout    time.Duration
	UserAgent  string
	Logger     logger.Logger
}

// Fetcher 图标抓取器
type Fetcher struct {
	client     *resty.Client
	candidates []string
	log        logger.Logger
}

// New 创建抓取器，不做重试
func New(cfg Config) *Fetcher {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "webclip/1.0"
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "image/*,*/*;q=0.8")
	return &Fetcher{client: client, candidates: cfg.Candidates, log: cfg.Logger}
}

// Fetch 依次尝试候选地址，返回第一个状态为 200 且内容为图片的响应体
func (f *Fetcher) Fetch(ctx context.Context, host string) ([]byte, bool) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, false
	}
	for _, tmpl := range f.candidates {
		if ctx.Err() != nil {
			return nil, false
		}
		target := candidateURL(tmpl, host)
		icon, err := f.try(ctx, target)
		if err != nil {
			f.log.Debug("图标候选不可用", "url", target, "error", err)
			continue
		}
		f.log.Info("获取图标成功", "url", target, "size", len(icon))
		return icon, true
	}
	f.log.Warn("未找到可用图标", "host", host)
	return nil, false
}

func (f *Fetcher) try(ctx context.Context, target string) ([]byte, error) {
	resp, err := f.client.R().SetContext(ctx).Get(target)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if len(body) > maxIconSize {
		return nil, fmt.Errorf("icon too large: %d bytes", len(body))
	}
	if mt := mimetype.Detect(body); !isImage(mt) {
		return nil, fmt.Errorf("not an image: %s", mt.String())
	}
	return body, nil
}

func isImage(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return true
		}
	}
	return false
}

func candidateURL(tmpl, host string) string {
	if strings.Contains(tmpl, "%s") {
		return strings.ReplaceAll(tmpl, "%s", host)
	}
	return tmpl
}
