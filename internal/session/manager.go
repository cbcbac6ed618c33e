// Package session 管理当前打开的站点
package session

import (
	"sort"
	"sync"

	"webclip/internal/logger"
	"webclip/pkg/model"
)

// Manager 打开站点注册表，同一站点至多一个会话
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.SiteID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.SiteID]*Session),
		log:      l,
	}
}

// Open 注册会话，同一站点已打开时先关闭旧会话
func (m *Manager) Open(s *Session) {
	m.mu.Lock()
	prev := m.sessions[s.Site.ID]
	m.sessions[s.Site.ID] = s
	m.mu.Unlock()

	if prev != nil && prev != s {
		m.closeSession(prev)
	}
	m.log.Info("打开站点", "site", s.Site.ID.String(), "name", s.Site.Name)
}

// Get 获取会话
func (m *Manager) Get(id model.SiteID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close 关闭并移除会话，不存在时返回 false
func (m *Manager) Close(id model.SiteID) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.closeSession(s)
	return true
}

// List 按打开时间返回所有会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].OpenedAt.Before(list[j].OpenedAt) })
	return list
}

// CloseAll 关闭全部会话
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[model.SiteID]*Session)
	m.mu.Unlock()
	for _, s := range all {
		m.closeSession(s)
	}
}

func (m *Manager) closeSession(s *Session) {
	if err := s.Close(); err != nil {
		m.log.Err(err, "关闭引擎失败", "site", s.Site.ID.String())
	}
	m.log.Info("关闭站点", "site", s.Site.ID.String())
}
