package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webclip/internal/engine/fake"
	"webclip/internal/mainloop"
	"webclip/pkg/model"
)

type recordingOpener struct {
	mu     sync.Mutex
	opened []string
	block  chan struct{}
}

func (o *recordingOpener) Open(_ context.Context, url string) error {
	if o.block != nil {
		<-o.block
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, url)
	return nil
}

func (o *recordingOpener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.opened...)
}

func newTestBridge(t *testing.T, opener Opener) (*Bridge, *mainloop.Loop) {
	t.Helper()
	loop := mainloop.New(nil)
	t.Cleanup(loop.Close)
	b := New(Config{Loop: loop, Opener: opener})
	t.Cleanup(b.Detach)
	return b, loop
}

func flush(t *testing.T, loop *mainloop.Loop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, loop.Sync(ctx))
}

func testSite() model.Site {
	s := model.NewSite("Example", "https://example.com/")
	s.UserAgent = "  custom-agent  "
	s.EnableJavaScript = false
	return s
}

func TestAttachConfiguresAndLoads(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	eng := fake.New()

	require.NoError(t, b.Attach(context.Background(), eng, testSite()))
	flush(t, loop)

	settings, ok := eng.Settings()
	require.True(t, ok)
	assert.False(t, settings.JavaScriptEnabled)
	assert.True(t, settings.AllowInlineMedia)
	assert.Equal(t, "custom-agent", settings.UserAgent)

	assert.Equal(t, []string{"configure", "load:https://example.com/"}, eng.Calls())
	assert.Equal(t, "https://example.com/", b.State().CurrentURL)
	assert.True(t, eng.HasPolicy())
	assert.Equal(t, 1, eng.Subscribers())

	assert.ErrorIs(t, b.Attach(context.Background(), fake.New(), testSite()), ErrAlreadyAttached)
}

func TestStateFollowsEngineNotificationsInOrder(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	eng := fake.New()
	require.NoError(t, b.Attach(context.Background(), eng, testSite()))
	flush(t, loop)

	var mu sync.Mutex
	var seen []bool
	b.Observe(func(st model.NavigationState) {
		mu.Lock()
		seen = append(seen, st.IsLoading)
		mu.Unlock()
	})

	eng.SetLoading(true)
	eng.SetLoading(false)
	eng.SetLoading(true)
	flush(t, loop)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, seen)
	assert.True(t, b.State().IsLoading)
}

func TestObserversRunOnLoop(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	eng := fake.New()
	require.NoError(t, b.Attach(context.Background(), eng, testSite()))
	flush(t, loop)

	// a task parked on the loop holds back publication from a background notification
	release := make(chan struct{})
	loop.Post(func() { <-release })

	delivered := make(chan model.NavigationState, 8)
	b.Observe(func(st model.NavigationState) { delivered <- st })

	go eng.SetLoading(true)
	select {
	case <-delivered:
		t.Fatal("observer ran outside the UI loop")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	flush(t, loop)

	var last model.NavigationState
	for len(delivered) > 0 {
		last = <-delivered
	}
	assert.True(t, last.IsLoading)
}

func TestReloadOrStopTogglesOnLoadingState(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	eng := fake.New()
	require.NoError(t, b.Attach(context.Background(), eng, testSite()))

	eng.SetLoading(true)
	flush(t, loop)
	require.True(t, b.Dispatch(model.CommandReloadOrStop))
	require.Eventually(t, func() bool { return contains(eng.Calls(), "stop_loading") }, time.Second, 5*time.Millisecond)

	eng.SetLoading(false)
	flush(t, loop)
	require.True(t, b.Dispatch(model.CommandReloadOrStop))
	require.Eventually(t, func() bool { return contains(eng.Calls(), "reload") }, time.Second, 5*time.Millisecond)
}

func TestReloadOrStopReadsLatestState(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	eng := fake.New()
	require.NoError(t, b.Attach(context.Background(), eng, testSite()))
	flush(t, loop)
	require.False(t, b.State().IsLoading)

	// engine started loading but the notification has not been published yet
	eng.SetLoadingSilently(true)
	require.True(t, b.Dispatch(model.CommandReloadOrStop))

	require.Eventually(t, func() bool { return contains(eng.Calls(), "stop_loading") }, time.Second, 5*time.Millisecond)
	assert.False(t, contains(eng.Calls(), "reload"))
}

func TestBackForwardAreNoOpsWithoutHistory(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	eng := fake.New()
	require.NoError(t, b.Attach(context.Background(), eng, testSite()))
	flush(t, loop)

	require.True(t, b.Dispatch(model.CommandGoBack))
	require.True(t, b.Dispatch(model.CommandGoForward))
	// a trailing command acts as a barrier for the two above
	require.True(t, b.Dispatch(model.CommandReloadOrStop))
	require.Eventually(t, func() bool { return contains(eng.Calls(), "reload") }, time.Second, 5*time.Millisecond)

	assert.False(t, contains(eng.Calls(), "go_back"))
	assert.False(t, contains(eng.Calls(), "go_forward"))
}

func TestBackForwardWithHistory(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	eng := fake.New()
	require.NoError(t, b.Attach(context.Background(), eng, testSite()))
	require.NoError(t, eng.Load(context.Background(), "https://example.com/next"))
	flush(t, loop)
	assert.True(t, b.State().CanGoBack)

	require.True(t, b.Dispatch(model.CommandGoBack))
	require.Eventually(t, func() bool { return contains(eng.Calls(), "go_back") }, time.Second, 5*time.Millisecond)
	flush(t, loop)
	st := b.State()
	assert.Equal(t, "https://example.com/", st.CurrentURL)
	assert.False(t, st.CanGoBack)
	assert.True(t, st.CanGoForward)

	require.True(t, b.Dispatch(model.CommandGoForward))
	require.Eventually(t, func() bool { return contains(eng.Calls(), "go_forward") }, time.Second, 5*time.Millisecond)
	flush(t, loop)
	assert.Equal(t, "https://example.com/next", b.State().CurrentURL)
}

func TestInterceptToolScheme(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		url     string
		want    model.Decision
		opened  bool
	}{
		{"tool scheme with flag", true, "stikjit://enable-jit?bundle-id=x", model.DecisionCancel, true},
		{"tool scheme upper case", true, "STIKJIT://x", model.DecisionCancel, true},
		{"tool scheme bad escape in path", true, "stikjit://x/%zz", model.DecisionCancel, true},
		{"tool scheme bad escape in query", true, "stikjit://enable-jit?bundle=%zz", model.DecisionCancel, true},
		{"tool scheme with space", true, "stikjit://enable jit", model.DecisionCancel, true},
		{"tool scheme without flag", false, "stikjit://enable-jit", model.DecisionAllow, false},
		{"https with flag", true, "https://example.com/", model.DecisionAllow, false},
		{"https without flag", false, "https://example.com/", model.DecisionAllow, false},
		{"other custom scheme", true, "mailto:someone@example.com", model.DecisionAllow, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := &recordingOpener{}
			b, _ := newTestBridge(t, opener)
			eng := fake.New()
			site := testSite()
			site.EnableToolScheme = tt.enabled
			require.NoError(t, b.Attach(context.Background(), eng, site))

			assert.Equal(t, tt.want, eng.Request(tt.url))
			if tt.opened {
				require.Eventually(t, func() bool { return len(opener.Opened()) == 1 }, time.Second, 5*time.Millisecond)
				assert.Equal(t, tt.url, opener.Opened()[0])
			} else {
				time.Sleep(20 * time.Millisecond)
				assert.Empty(t, opener.Opened())
			}
		})
	}
}

func TestInterceptDoesNotBlockOnOpener(t *testing.T) {
	opener := &recordingOpener{block: make(chan struct{})}
	defer close(opener.block)
	b, _ := newTestBridge(t, opener)
	site := testSite()
	site.EnableToolScheme = true
	require.NoError(t, b.Attach(context.Background(), fake.New(), site))

	done := make(chan model.Decision, 1)
	go func() { done <- b.Intercept("stikjit://launch") }()
	select {
	case d := <-done:
		assert.Equal(t, model.DecisionCancel, d)
	case <-time.After(time.Second):
		t.Fatal("intercept blocked on the external opener")
	}
}

func TestDetachReleasesSubscription(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	eng := fake.New()
	require.NoError(t, b.Attach(context.Background(), eng, testSite()))

	calls := 0
	b.Observe(func(model.NavigationState) { calls++ })
	flush(t, loop)
	before := b.State()
	observed := calls

	b.Detach()
	b.Detach()

	assert.Equal(t, 0, eng.Subscribers())
	assert.False(t, eng.HasPolicy())
	assert.True(t, b.Detached())

	eng.SetLoading(true)
	require.NoError(t, eng.Load(context.Background(), "https://example.com/after"))
	flush(t, loop)

	assert.Equal(t, before, b.State())
	assert.Equal(t, observed, calls)
	assert.False(t, b.Dispatch(model.CommandReloadOrStop))
	assert.ErrorIs(t, b.Attach(context.Background(), eng, testSite()), ErrDetached)
}

func TestDetachDropsQueuedNotifications(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	eng := fake.New()
	require.NoError(t, b.Attach(context.Background(), eng, testSite()))
	flush(t, loop)
	before := b.State()

	release := make(chan struct{})
	loop.Post(func() { <-release })
	eng.SetLoading(true) // queued behind the parked task
	b.Detach()
	close(release)
	flush(t, loop)

	assert.Equal(t, before, b.State())
}

func TestLoadFailurePublishesNotLoading(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	eng := fake.New()
	eng.SetLoadingSilently(true)
	eng.LoadErr = errors.New("net::ERR_NAME_NOT_RESOLVED")

	require.NoError(t, b.Attach(context.Background(), eng, testSite()))
	flush(t, loop)

	st := b.State()
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.CurrentURL)
}

func TestDispatchBeforeAttachIsIgnored(t *testing.T) {
	b, loop := newTestBridge(t, nil)
	assert.False(t, b.Dispatch(model.CommandReloadOrStop))
	assert.False(t, b.Dispatch(model.CommandGoBack))

	eng := fake.New()
	require.NoError(t, b.Attach(context.Background(), eng, testSite()))
	require.NoError(t, eng.Load(context.Background(), "https://example.com/next"))
	flush(t, loop)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []string{"configure", "load:https://example.com/", "load:https://example.com/next"}, eng.Calls())
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type blockingEngine struct {
	*fake.Engine
	release chan struct{}
}

func (e *blockingEngine) Reload(ctx context.Context) error {
	<-e.release
	return e.Engine.Reload(ctx)
}

func TestDispatchRejectsWhenQueueFull(t *testing.T) {
	loop := mainloop.New(nil)
	t.Cleanup(loop.Close)
	b := New(Config{Loop: loop, CommandBuffer: 1})
	eng := &blockingEngine{Engine: fake.New(), release: make(chan struct{})}
	require.NoError(t, b.Attach(context.Background(), eng, testSite()))
	t.Cleanup(b.Detach)

	// 第一条被 worker 取走并阻塞，第二条占满队列
	require.True(t, b.Dispatch(model.CommandReloadOrStop))
	require.Eventually(t, func() bool { return len(b.commands) == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, b.Dispatch(model.CommandReloadOrStop))
	assert.False(t, b.Dispatch(model.CommandReloadOrStop))

	close(eng.release)
	require.Eventually(t, func() bool { return count(eng.Calls(), "reload") == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, count(eng.Calls(), "reload"))
}

func count(list []string, v string) int {
	n := 0
	for _, s := range list {
		if s == v {
			n++
		}
	}
	return n
}
