package rod

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webclip/internal/bridge"
	"webclip/pkg/model"
)

var _ bridge.Engine = (*Engine)(nil)

func TestNotConnected(t *testing.T) {
	e := New(Config{})
	ctx := context.Background()
	assert.ErrorIs(t, e.Load(ctx, "https://example.com"), ErrNotConnected)
	assert.ErrorIs(t, e.GoForward(ctx), ErrNotConnected)
	assert.ErrorIs(t, e.Configure(ctx, model.EngineSettings{}), ErrNotConnected)
	assert.NoError(t, e.Close())
}

func TestConnectFailureLeavesEngineClosed(t *testing.T) {
	// /json/version 可用但不接受 websocket
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/json/version" {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/stub",
			})
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e := New(Config{ControlURL: srv.URL, CallTimeout: time.Second})
	require.Error(t, e.Connect(context.Background()))

	assert.False(t, e.launched)
	assert.Nil(t, e.browser)
	assert.ErrorIs(t, e.Load(context.Background(), "https://example.com"), ErrNotConnected)
	assert.NoError(t, e.Close())
}

func TestApplyHistory(t *testing.T) {
	e := New(Config{})
	calls := 0
	e.Subscribe(func() { calls++ })

	e.applyHistory(0, []*proto.PageNavigationEntry{{ID: 1, URL: "https://example.com/"}})
	assert.False(t, e.CanGoBack())
	assert.False(t, e.CanGoForward())
	assert.Equal(t, "https://example.com/", e.CurrentURL())

	e.applyHistory(1, []*proto.PageNavigationEntry{
		{ID: 1, URL: "https://example.com/"},
		{ID: 2, URL: "https://example.com/next"},
	})
	assert.True(t, e.CanGoBack())
	assert.Equal(t, "https://example.com/next", e.CurrentURL())
	assert.Equal(t, 2, calls)
}

func TestLiveBrowser(t *testing.T) {
	if os.Getenv("WEBCLIP_ROD_LIVE") == "" {
		t.Skip("WEBCLIP_ROD_LIVE not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	e := New(Config{Headless: true, CallTimeout: 10 * time.Second})
	require.NoError(t, e.Connect(ctx))
	defer e.Close()

	require.NoError(t, e.Load(ctx, "data:text/html,<p>one</p>"))
	require.NoError(t, e.Load(ctx, "data:text/html,<p>two</p>"))
	require.Eventually(t, e.CanGoBack, 10*time.Second, 50*time.Millisecond)
}
