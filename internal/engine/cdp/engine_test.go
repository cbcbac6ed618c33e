package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mafredri/cdp/protocol/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webclip/internal/bridge"
	"webclip/pkg/model"
	"webclip/pkg/traffic"
)

var _ bridge.Engine = (*Engine)(nil)

func TestNotConnected(t *testing.T) {
	e := New(Config{})
	ctx := context.Background()

	assert.ErrorIs(t, e.Configure(ctx, model.EngineSettings{}), ErrNotConnected)
	assert.ErrorIs(t, e.Load(ctx, "https://example.com"), ErrNotConnected)
	assert.ErrorIs(t, e.GoBack(ctx), ErrNotConnected)
	assert.ErrorIs(t, e.Reload(ctx), ErrNotConnected)
	assert.ErrorIs(t, e.StopLoading(ctx), ErrNotConnected)
	assert.NoError(t, e.Close())
}

func TestApplyHistoryNotifies(t *testing.T) {
	e := New(Config{})
	notified := 0
	cancel := e.Subscribe(func() { notified++ })

	e.applyHistory(&page.GetNavigationHistoryReply{
		CurrentIndex: 1,
		Entries: []page.NavigationEntry{
			{ID: 1, URL: "https://example.com/"},
			{ID: 2, URL: "https://example.com/a"},
			{ID: 3, URL: "https://example.com/b"},
		},
	})
	assert.Equal(t, 1, notified)
	assert.True(t, e.CanGoBack())
	assert.True(t, e.CanGoForward())
	assert.Equal(t, "https://example.com/a", e.CurrentURL())

	e.setLoading(true)
	e.setLoading(true)
	assert.Equal(t, 2, notified)
	assert.True(t, e.IsLoading())

	cancel()
	e.setLoading(false)
	assert.Equal(t, 2, notified)
}

func TestDecideUsesPolicy(t *testing.T) {
	e := New(Config{})
	req := traffic.NewRequest("stikjit://x")
	assert.Equal(t, model.DecisionAllow, e.decide(req))

	e.SetRequestPolicy(func(r *traffic.Request) model.Decision {
		if r.Scheme() == "stikjit" {
			return model.DecisionCancel
		}
		return model.DecisionAllow
	})
	assert.Equal(t, model.DecisionCancel, e.decide(req))
	e.SetRequestPolicy(nil)
	assert.Equal(t, model.DecisionAllow, e.decide(req))
}

// devtoolsStub 模拟 DevTools HTTP 端点，记录新建与关闭的页面
type devtoolsStub struct {
	mu      sync.Mutex
	created []string
	closed  []string
	listed  int
}

func (d *devtoolsStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		switch {
		case strings.HasPrefix(r.URL.Path, "/json/new"):
			id := fmt.Sprintf("page-%d", len(d.created)+1)
			d.created = append(d.created, id)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id":                   id,
				"type":                 "page",
				"url":                  "about:blank",
				"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/page/" + id,
			})
		case strings.HasPrefix(r.URL.Path, "/json/close/"):
			d.closed = append(d.closed, strings.TrimPrefix(r.URL.Path, "/json/close/"))
			_, _ = w.Write([]byte("Target is closing"))
		case r.URL.Path == "/json" || r.URL.Path == "/json/list":
			d.listed++
			_, _ = w.Write([]byte("[]"))
		default:
			http.NotFound(w, r)
		}
	})
}

func (d *devtoolsStub) snapshot() (created, closed []string, listed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.created...), append([]string(nil), d.closed...), d.listed
}

func TestConnectCreatesOwnTarget(t *testing.T) {
	stub := &devtoolsStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 调试端点不接受 websocket，连接失败后必须关闭刚创建的页面
	a := New(Config{DevToolsURL: srv.URL, CallTimeout: time.Second})
	b := New(Config{DevToolsURL: srv.URL, CallTimeout: time.Second})
	require.Error(t, a.Connect(ctx))
	require.Error(t, b.Connect(ctx))

	created, closed, listed := stub.snapshot()
	assert.Equal(t, []string{"page-1", "page-2"}, created)
	assert.Equal(t, []string{"page-1", "page-2"}, closed)
	assert.Zero(t, listed)

	assert.NoError(t, a.Close())
	_, closed, _ = stub.snapshot()
	assert.Len(t, closed, 2)
}

func TestConnectUnknownTargetID(t *testing.T) {
	stub := &devtoolsStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	e := New(Config{DevToolsURL: srv.URL, TargetID: "missing", CallTimeout: time.Second})
	err := e.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTargetNotFound)

	created, closed, _ := stub.snapshot()
	assert.Empty(t, created)
	assert.Empty(t, closed)
}

// 需要本地 Chrome：chrome --remote-debugging-port=9222
func TestLiveChrome(t *testing.T) {
	url := os.Getenv("WEBCLIP_DEVTOOLS_URL")
	if url == "" {
		t.Skip("WEBCLIP_DEVTOOLS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	e := New(Config{DevToolsURL: url})
	require.NoError(t, e.Connect(ctx))
	defer e.Close()

	require.NoError(t, e.Configure(ctx, model.EngineSettings{JavaScriptEnabled: true}))
	require.NoError(t, e.Load(ctx, "data:text/html,<p>one</p>"))
	require.Eventually(t, func() bool { return !e.IsLoading() }, 10*time.Second, 50*time.Millisecond)
	require.NoError(t, e.Load(ctx, "data:text/html,<p>two</p>"))
	require.Eventually(t, e.CanGoBack, 10*time.Second, 50*time.Millisecond)
}
