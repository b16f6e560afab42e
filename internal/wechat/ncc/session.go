package ncc

import (
	"sync"
	"time"
)

// defaultSessionTTL 会话闲置超时：超过后下次访问时直接作废
const defaultSessionTTL = 30 * time.Minute

// Session 一个操作员的进行中会话。
// 每个操作员同一时刻至多一个会话；重新发送入口指令会整体替换。
type Session struct {
	Operator string             // 操作员 wxid
	State    State              // 当前状态
	Messages []CollectedMessage // 已收集的消息（仅收集态追加）

	TargetDesc     string   // 选中的转发目标描述（汇报用）
	WelcomeChoices []string // 迎新流程：编号到群 wxid 的映射
	WelcomeGroup   string   // 迎新流程：选中的群 wxid

	UpdatedAt time.Time // 最后一次活动时间
}

// SessionStore 按操作员 wxid 保存会话。
// create/get/destroy 是唯一的修改入口，没有任何环境全局量。
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewSessionStore 创建会话存储
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      defaultSessionTTL,
	}
}

// Get 返回操作员的会话。闲置超时的会话在这里作废。
func (s *SessionStore) Get(operator string) (*Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[operator]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if s.ttl > 0 && time.Since(sess.UpdatedAt) > s.ttl {
		s.Delete(operator)
		return nil, false
	}
	return sess, true
}

// Put 创建或整体替换操作员的会话
func (s *SessionStore) Put(sess *Session) {
	sess.UpdatedAt = time.Now()
	s.mu.Lock()
	s.sessions[sess.Operator] = sess
	s.mu.Unlock()
}

// Delete 销毁操作员的会话
func (s *SessionStore) Delete(operator string) {
	s.mu.Lock()
	delete(s.sessions, operator)
	s.mu.Unlock()
}

// Active 操作员当前是否有会话（不刷新活跃时间）
func (s *SessionStore) Active(operator string) bool {
	_, ok := s.Get(operator)
	return ok
}

// Touch 刷新会话活跃时间
func (s *SessionStore) Touch(operator string) {
	s.mu.Lock()
	if sess, ok := s.sessions[operator]; ok {
		sess.UpdatedAt = time.Now()
	}
	s.mu.Unlock()
}
