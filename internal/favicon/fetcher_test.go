package favicon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngIcon = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
}

type iconServer struct {
	mu   sync.Mutex
	hits []string
	*httptest.Server
}

func newIconServer(t *testing.T, routes map[string]func(w http.ResponseWriter)) *iconServer {
	t.Helper()
	s := &iconServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits = append(s.hits, r.URL.Path)
		s.mu.Unlock()
		if h, ok := routes[r.URL.Path]; ok {
			h(w)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *iconServer) Hits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hits...)
}

func (s *iconServer) host() string { return strings.TrimPrefix(s.URL, "http://") }

func candidates() []string {
	return []string{
		"http://%s/apple-touch-icon.png",
		"http://%s/not-an-image.png",
		"http://%s/favicon.png",
		"http://%s/never-reached.png",
	}
}

func TestFetchFirstImageWins(t *testing.T) {
	srv := newIconServer(t, map[string]func(http.ResponseWriter){
		"/not-an-image.png":  func(w http.ResponseWriter) { _, _ = w.Write([]byte("<html>nope</html>")) },
		"/favicon.png":       func(w http.ResponseWriter) { _, _ = w.Write(pngIcon) },
		"/never-reached.png": func(w http.ResponseWriter) { _, _ = w.Write(pngIcon) },
	})
	f := New(Config{Candidates: candidates(), Timeout: time.Second})

	icon, ok := f.Fetch(context.Background(), srv.host())
	require.True(t, ok)
	assert.Equal(t, pngIcon, icon)
	assert.Equal(t, []string{"/apple-touch-icon.png", "/not-an-image.png", "/favicon.png"}, srv.Hits())
}

func TestFetchNoCandidateSucceeds(t *testing.T) {
	srv := newIconServer(t, map[string]func(http.ResponseWriter){
		"/favicon.png": func(w http.ResponseWriter) { w.WriteHeader(http.StatusInternalServerError) },
	})
	f := New(Config{Candidates: candidates(), Timeout: time.Second})

	_, ok := f.Fetch(context.Background(), srv.host())
	assert.False(t, ok)
	// 每个候选只请求一次
	assert.Len(t, srv.Hits(), 4)
}

func TestFetchEmptyHost(t *testing.T) {
	f := New(Config{Candidates: candidates()})
	_, ok := f.Fetch(context.Background(), " ")
	assert.False(t, ok)
}

func TestFetchCanceled(t *testing.T) {
	srv := newIconServer(t, nil)
	f := New(Config{Candidates: candidates(), Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := f.Fetch(ctx, srv.host())
	assert.False(t, ok)
	assert.Empty(t, srv.Hits())
}

func TestCandidateURL(t *testing.T) {
	assert.Equal(t, "https://example.com/favicon.ico", candidateURL("https://%s/favicon.ico", "example.com"))
	assert.Equal(t, "https://static.example.net/icon.png", candidateURL("https://static.example.net/icon.png", "example.com"))
}
