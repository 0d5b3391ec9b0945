package domain

import (
	"sync"
	"time"
)

// Session holds who a connection speaks for. A connection starts anonymous,
// may be claimed by an unverified user id, and is verified by a token.
type Session struct {
	ConnectionID string

	mu       sync.RWMutex
	userID   string
	username string
	verified bool
	lastSeen time.Time
}

func NewSession(connectionID string) *Session {
	return &Session{ConnectionID: connectionID, lastSeen: time.Now()}
}

// Authenticate binds a verified identity, replacing any claim.
func (s *Session) Authenticate(userID, username string) {
	s.mu.Lock()
	s.userID, s.username, s.verified = userID, username, true
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// Claim binds userID when the connection has no identity yet and reports the
// identity the connection holds afterwards.
func (s *Session) Claim(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID == "" {
		s.userID = userID
	}
	return s.userID
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verified
}

// GetUserID is empty for an anonymous connection.
func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Touch records inbound traffic on the connection.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// IdleFor returns how long the connection has been silent.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastSeen)
}
