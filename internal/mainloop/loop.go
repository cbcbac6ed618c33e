// Package mainloop 提供单一的 UI 串行执行上下文。
// 后台 goroutine 不直接改动 UI 可见状态，而是 Post 到 Loop 上按提交顺序执行。
package mainloop

import (
	"context"
	"errors"
	"sync"

	"webclip/internal/logger"
)

// ErrClosed Loop 已关闭
var ErrClosed = errors.New("mainloop: closed")

// Loop 无界 FIFO 任务队列 + 单个执行 goroutine
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
	done   chan struct{}
	log    logger.Logger
}

// New 创建并启动 Loop
func New(l logger.Logger) *Loop {
	if l == nil {
		l = logger.NewNop()
	}
	lp := &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		log:  l,
	}
	go lp.run()
	return lp
}

// Post 提交任务，永不阻塞；Loop 关闭后返回 false
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync 等待此前提交的任务全部执行完毕
func (l *Loop) Sync(ctx context.Context) error {
	reached := make(chan struct{})
	if !l.Post(func() { close(reached) }) {
		return ErrClosed
	}
	select {
	case <-reached:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收任务，已排队任务执行完后退出
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			l.exec(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

// exec 单个任务 panic 不影响后续任务
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("UI 任务执行 panic", "panic", r)
		}
	}()
	fn()
}
