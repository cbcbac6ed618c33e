package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func lines(buf *bytes.Buffer) []gjson.Result {
	var out []gjson.Result
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l != "" {
			out = append(out, gjson.Parse(l))
		}
	}
	return out
}

func TestZeroLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info")

	l.Debug("hidden")
	l.Info("打开站点", "site", "abc", "count", 2)
	l.With("component", "responder").Err(errors.New("boom"), "绑定失败", "port", 0)

	got := lines(&buf)
	require.Len(t, got, 2)
	assert.Equal(t, "info", got[0].Get("level").String())
	assert.Equal(t, "打开站点", got[0].Get("message").String())
	assert.Equal(t, "abc", got[0].Get("site").String())
	assert.Equal(t, int64(2), got[0].Get("count").Int())

	assert.Equal(t, "error", got[1].Get("level").String())
	assert.Equal(t, "boom", got[1].Get("error").String())
	assert.Equal(t, "responder", got[1].Get("component").String())
}

func TestNewDefaultsToConsole(t *testing.T) {
	l := New(Options{Level: "bogus"})
	require.NotNil(t, l)
	assert.NotPanics(t, func() { l.Info("ok") })
}

func TestNop(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.With("a", 1).Err(errors.New("x"), "y")
	})
}
