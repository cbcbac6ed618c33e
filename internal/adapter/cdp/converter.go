package cdp

import (
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/tidwall/gjson"

	"webclip/pkg/traffic"
)

// ToRequest 将 CDP 拦截事件转换为中立 Request 模型
func ToRequest(ev *fetch.RequestPausedReply, mainFrame page.FrameID) *traffic.Request {
	req := traffic.NewRequest(ev.Request.URL)
	req.ID = string(ev.RequestID)
	if ev.Request.Method != "" {
		req.Method = ev.Request.Method
	}
	req.ResourceType = string(ev.ResourceType)
	req.IsMainFrame = mainFrame != "" && ev.FrameID == mainFrame

	// 处理 Header
	if len(ev.Request.Headers) > 0 {
		gjson.ParseBytes(ev.Request.Headers).ForEach(func(k, v gjson.Result) bool {
			req.Headers.Set(k.String(), v.String())
			return true
		})
	}
	return req
}

// IsNavigation 是否为文档导航请求
func IsNavigation(ev *fetch.RequestPausedReply) bool {
	return ev.ResourceType == network.ResourceTypeDocument
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
	}
	return entries
}
