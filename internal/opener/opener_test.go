package opener

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewSystem(nil).Open(ctx, "stikjit://enable-jit")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFuncAdapter(t *testing.T) {
	var got string
	f := Func(func(_ context.Context, url string) error {
		got = url
		return nil
	})
	assert.NoError(t, f.Open(context.Background(), "https://example.com"))
	assert.Equal(t, "https://example.com", got)
}
