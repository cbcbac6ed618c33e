package model

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

type SiteID = uuid.UUID

// OrientationLock 容器方向锁定
type OrientationLock string

const (
	OrientationAutomatic OrientationLock = "automatic"
	OrientationPortrait  OrientationLock = "portrait"
	OrientationLandscape OrientationLock = "landscape"
)

// Valid 是否为已知取值
func (o OrientationLock) Valid() bool {
	switch o {
	case OrientationAutomatic, OrientationPortrait, OrientationLandscape:
		return true
	}
	return false
}

// Site 一个被包装为 app 的网站
type Site struct {
	ID               SiteID          `json:"id"`
	Name             string          `json:"name"`
	URL              string          `json:"urlString"`
	OrientationLock  OrientationLock `json:"orientationLock"`
	EnableJavaScript bool            `json:"enableJavaScript"`
	// 协作工具(外部 scheme)拦截开关
	EnableToolScheme bool   `json:"enableStikJIT"`
	AllowInlineMedia bool   `json:"allowInlineMedia"`
	EnableFullScreen bool   `json:"enableFullScreen"`
	UserAgent        string `json:"userAgent"`
	IconColorHex     string `json:"iconColorHex"`
	Icon             []byte `json:"-"`
}

// NewSite 以默认配置创建站点
func NewSite(name, rawURL string) Site {
	return Site{
		ID:               uuid.New(),
		Name:             name,
		URL:              rawURL,
		OrientationLock:  OrientationAutomatic,
		EnableJavaScript: true,
		AllowInlineMedia: true,
		IconColorHex:     "007AFF",
	}
}

// ParsedURL 解析目标地址，非法时返回 nil
func (s Site) ParsedURL() *url.URL {
	u, err := url.Parse(strings.TrimSpace(s.URL))
	if err != nil || u.Scheme == "" {
		return nil
	}
	return u
}

// Host 目标地址主机名
func (s Site) Host() string {
	if u := s.ParsedURL(); u != nil {
		return u.Hostname()
	}
	return ""
}

// EngineSettings 下发给浏览器引擎的配置
type EngineSettings struct {
	JavaScriptEnabled bool
	AllowInlineMedia  bool
	UserAgent         string
}

// Settings 由站点配置生成引擎配置
func (s Site) Settings() EngineSettings {
	return EngineSettings{
		JavaScriptEnabled: s.EnableJavaScript,
		AllowInlineMedia:  s.AllowInlineMedia,
		UserAgent:         strings.TrimSpace(s.UserAgent),
	}
}

// NavigationState 单个打开站点的导航状态快照
type NavigationState struct {
	CanGoBack    bool   `json:"canGoBack"`
	CanGoForward bool   `json:"canGoForward"`
	IsLoading    bool   `json:"isLoading"`
	CurrentURL   string `json:"currentURL"`
}

// Command UI 发出的导航指令
type Command int

const (
	CommandGoBack Command = iota + 1
	CommandGoForward
	CommandReloadOrStop
)

func (c Command) String() string {
	switch c {
	case CommandGoBack:
		return "go_back"
	case CommandGoForward:
		return "go_forward"
	case CommandReloadOrStop:
		return "reload_or_stop"
	}
	return "unknown"
}

// ParseCommand 解析文本指令
func ParseCommand(s string) (Command, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "back", "go_back", "b":
		return CommandGoBack, true
	case "forward", "go_forward", "f":
		return CommandGoForward, true
	case "reload", "stop", "reload_or_stop", "r":
		return CommandReloadOrStop, true
	}
	return 0, false
}

// Decision 出站请求策略结果
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionCancel
)

func (d Decision) String() string {
	if d == DecisionCancel {
		return "cancel"
	}
	return "allow"
}
