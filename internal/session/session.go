package session

import (
	"io"
	"time"

	"webclip/internal/bridge"
	"webclip/pkg/model"
)

// Session 一个打开的站点：Bridge 与其引擎
type Session struct {
	Site     model.Site
	Bridge   *bridge.Bridge
	OpenedAt time.Time
	engine   io.Closer
}

// New 创建会话，engine 可为空
func New(site model.Site, b *bridge.Bridge, engine io.Closer) *Session {
	return &Session{Site: site, Bridge: b, OpenedAt: time.Now(), engine: engine}
}

// Close 先分离 Bridge 再关闭引擎
func (s *Session) Close() error {
	s.Bridge.Detach()
	if s.engine != nil {
		return s.engine.Close()
	}
	return nil
}
