package cdp

import (
	"testing"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/stretchr/testify/assert"

	"webclip/pkg/traffic"
)

func TestToRequest(t *testing.T) {
	ev := &fetch.RequestPausedReply{
		RequestID:    "interception-1",
		FrameID:      page.FrameID("main"),
		ResourceType: network.ResourceTypeDocument,
		Request: network.Request{
			URL:     "https://example.com/path?q=1",
			Method:  "POST",
			Headers: network.Headers(`{"User-Agent":"ua","Cookie":"a=1"}`),
		},
	}

	req := ToRequest(ev, "main")
	assert.Equal(t, "interception-1", req.ID)
	assert.Equal(t, "https://example.com/path?q=1", req.URL)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "Document", req.ResourceType)
	assert.True(t, req.IsMainFrame)
	assert.Equal(t, "ua", req.Headers.Get("user-agent"))
	assert.Equal(t, "a=1", req.Headers.Get("COOKIE"))
	assert.True(t, IsNavigation(ev))

	sub := ToRequest(ev, "other")
	assert.False(t, sub.IsMainFrame)
}

func TestToHeaderEntries(t *testing.T) {
	h := traffic.Header{}
	h.Set("X-Test", "1")
	entries := ToHeaderEntries(h)
	assert.Equal(t, []fetch.HeaderEntry{{Name: "x-test", Value: "1"}}, entries)
}
