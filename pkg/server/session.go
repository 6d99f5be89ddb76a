package server

import (
	"io"
	"sync"
	"sync/atomic"

	"postbox/pkg/store"
)

// Session is the per-connection authentication state. Each connection owns
// exactly one Session; sessions are never shared or migrated across
// connections. At most one identity is authenticated at a time: username and
// role are always both set or both empty.
type Session struct {
	ID         uint64
	RemoteAddr string

	mu       sync.RWMutex
	username string
	role     store.Role

	closer io.Closer // Underlying connection, closed on server shutdown
}

// LoggedIn reports whether the session has an authenticated identity.
func (s *Session) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username != ""
}

// User returns the authenticated username, or false if logged out.
func (s *Session) User() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username, s.username != ""
}

// Role returns the authenticated role, or false if logged out.
func (s *Session) Role() (store.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role, s.username != ""
}

// Login records the authenticated identity.
func (s *Session) Login(username string, role store.Role) {
	s.mu.Lock()
	s.username = username
	s.role = role
	s.mu.Unlock()
}

// Logout clears the authenticated identity and returns the username that
// was logged in, or false if the session was already logged out.
func (s *Session) Logout() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username := s.username
	s.username = ""
	s.role = ""
	return username, username != ""
}

// SessionManager tracks all live sessions so the server can count and close
// them on shutdown. Authentication state lives in the Session itself.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64
	metrics  *Metrics
}

// NewSessionManager creates an empty session registry.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[uint64]*Session),
		nextID:   1,
	}
}

// SetMetrics attaches metrics to the session manager.
func (sm *SessionManager) SetMetrics(metrics *Metrics) {
	sm.metrics = metrics
}

// CreateSession registers a new logged-out session for a connection.
func (sm *SessionManager) CreateSession(remoteAddr string, closer io.Closer) *Session {
	sessionID := atomic.AddUint64(&sm.nextID, 1) - 1

	sess := &Session{
		ID:         sessionID,
		RemoteAddr: remoteAddr,
		closer:     closer,
	}

	sm.mu.Lock()
	sm.sessions[sessionID] = sess
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
	}

	return sess
}

// RemoveSession drops a session from the registry.
func (sm *SessionManager) RemoveSession(sessionID uint64) {
	sm.mu.Lock()
	_, ok := sm.sessions[sessionID]
	if ok {
		delete(sm.sessions, sessionID)
	}
	sessionCount := len(sm.sessions)
	sm.mu.Unlock()

	if ok && sm.metrics != nil {
		sm.metrics.RecordActiveSessions(sessionCount)
	}
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll closes every live connection and empties the registry.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, sess := range sm.sessions {
		if sess.closer != nil {
			sess.closer.Close()
		}
	}
	sm.sessions = make(map[uint64]*Session)

	if sm.metrics != nil {
		sm.metrics.RecordActiveSessions(0)
	}
}
