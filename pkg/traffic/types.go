package traffic

import (
	"strings"

	"webclip/pkg/model"
)

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Request 引擎即将发起的导航请求（与具体引擎无关）
type Request struct {
	ID           string
	URL          string
	Method       string
	Headers      Header
	ResourceType string // Document, XHR ...
	IsMainFrame  bool
}

// NewRequest 创建初始化请求对象
func NewRequest(rawURL string) *Request {
	return &Request{URL: rawURL, Method: "GET", Headers: make(Header)}
}

// Scheme 取第一个 ':' 之前的小写 scheme，不解析其余部分；不合法时返回空串
func (r *Request) Scheme() string {
	raw := strings.TrimSpace(r.URL)
	i := strings.IndexByte(raw, ':')
	if i <= 0 {
		return ""
	}
	for j := 0; j < i; j++ {
		c := raw[j]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case j > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return ""
		}
	}
	return strings.ToLower(raw[:i])
}

// PolicyFunc 引擎在跟随请求前调用的策略钩子
type PolicyFunc func(req *Request) model.Decision

// AllowAll 默认策略
func AllowAll(*Request) model.Decision { return model.DecisionAllow }
