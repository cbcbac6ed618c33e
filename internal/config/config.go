package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Responder ResponderConfig `yaml:"responder"`
	DeepLink  DeepLinkConfig  `yaml:"deeplink"`
	Engine    EngineConfig    `yaml:"engine"`
	Favicon   FaviconConfig   `yaml:"favicon"`
}

// ResponderConfig 本地临时 HTTP 服务
type ResponderConfig struct {
	Host string `yaml:"host"`
	// 会话自动过期时长，如 "300s"
	Expiry string `yaml:"expiry"`
}

// DeepLinkConfig 深链 scheme 配置
type DeepLinkConfig struct {
	Scheme string `yaml:"scheme"`
	Host   string `yaml:"host"`
	// 协作工具 scheme，站点开启后由系统打开而不在引擎内加载
	ToolScheme string `yaml:"tool_scheme"`
}

// EngineConfig 浏览器引擎
type EngineConfig struct {
	Driver string `yaml:"driver"` // cdp | rod
	// 调试地址；cdp 为空时使用本机 9222，rod 为空时自行启动浏览器
	DevToolsURL string `yaml:"devtools_url"`
	// 单次 DevTools 调用超时，如 "5s"
	CallTimeout string `yaml:"call_timeout"`
	// rod 驱动且未配置调试地址时启动的浏览器是否无头
	Headless bool `yaml:"headless"`
}

// FaviconConfig 图标抓取
type FaviconConfig struct {
	Timeout    string   `yaml:"timeout"`
	Candidates []string `yaml:"candidates"`
}

// DefaultFaviconCandidates 按质量排序的图标候选，%s 为主机名
var DefaultFaviconCandidates = []string{
	"https://%s/apple-touch-icon.png",
	"https://%s/apple-touch-icon-precomposed.png",
	"https://%s/favicon-192x192.png",
	"https://%s/favicon-128x128.png",
	"https://%s/favicon.ico",
	"https://www.google.com/s2/favicons?domain=%s&sz=128",
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "webclip.sqlite3"
	c.Sqlite.Prefix = "webclip_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "logs/webclip.log"
	c.Responder = ResponderConfig{Host: "127.0.0.1", Expiry: "300s"}
	c.DeepLink = DeepLinkConfig{Scheme: "webclip", Host: "open", ToolScheme: "stikjit"}
	c.Engine = EngineConfig{Driver: "cdp", CallTimeout: "5s"}
	c.Favicon = FaviconConfig{Timeout: "10s", Candidates: append([]string(nil), DefaultFaviconCandidates...)}
	return c
}

// Load 读取 YAML 并覆盖默认值，path 为空时直接返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("读取配置文件 %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return cfg, fmt.Errorf("解析配置文件 %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if c.Sqlite.Dsn == "" {
		return errors.New("sqlite.dsn is required")
	}
	if c.DeepLink.Scheme == "" || c.DeepLink.Host == "" {
		return errors.New("deeplink.scheme and deeplink.host are required")
	}
	switch c.Engine.Driver {
	case "cdp", "rod":
	default:
		return fmt.Errorf("engine.driver %q not supported", c.Engine.Driver)
	}
	if _, err := time.ParseDuration(c.Responder.Expiry); c.Responder.Expiry != "" && err != nil {
		return fmt.Errorf("responder.expiry: %w", err)
	}
	return nil
}

// ExpiryDuration 解析过期时长，非法或为空时回退 300s
func (r ResponderConfig) ExpiryDuration() time.Duration {
	return parseDuration(r.Expiry, 300*time.Second)
}

// CallTimeoutDuration 单次调用超时
func (e EngineConfig) CallTimeoutDuration() time.Duration {
	return parseDuration(e.CallTimeout, 5*time.Second)
}

// DefaultDevToolsURL cdp 驱动的默认调试地址
const DefaultDevToolsURL = "http://127.0.0.1:9222"

// Endpoint 按驱动解析调试地址
func (e EngineConfig) Endpoint() string {
	if e.DevToolsURL != "" || e.Driver == "rod" {
		return e.DevToolsURL
	}
	return DefaultDevToolsURL
}

// TimeoutDuration 图标抓取单次请求超时
func (f FaviconConfig) TimeoutDuration() time.Duration {
	return parseDuration(f.Timeout, 10*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
