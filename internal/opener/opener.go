// Package opener 将 URL 交给操作系统的默认处理程序
package opener

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/browser"

	"webclip/internal/logger"
)

// System 通过系统默认程序打开 URL
type System struct {
	log logger.Logger
}

// NewSystem 创建系统打开器，并屏蔽子进程的标准输出
func NewSystem(l logger.Logger) *System {
	if l == nil {
		l = logger.NewNop()
	}
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard
	return &System{log: l}
}

// Open 打开 URL，ctx 已取消时不再执行
func (s *System) Open(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Debug("交由系统打开", "url", url)
	if err := browser.OpenURL(url); err != nil {
		return fmt.Errorf("打开 %s: %w", url, err)
	}
	return nil
}

// Func 适配普通函数
type Func func(ctx context.Context, url string) error

func (f Func) Open(ctx context.Context, url string) error { return f(ctx, url) }
