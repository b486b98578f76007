// Package session provides in-memory cookie sessions for the browser
// surface.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

type Session struct {
	ID        string
	AccountID string
	Username  string
	Staff     bool
	Superuser bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	done     chan struct{}
}

func NewStore(ttl time.Duration) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	go s.cleanup()
	return s
}

func (s *Store) Create(accountID, username string, staff, superuser bool) (*Session, error) {
	return s.CreateWithTTL(accountID, username, staff, superuser, s.ttl)
}

// CreateWithTTL creates a session with a custom lifetime, for
// remember-me style logins.
func (s *Store) CreateWithTTL(accountID, username string, staff, superuser bool, ttl time.Duration) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:        id,
		AccountID: accountID,
		Username:  username,
		Staff:     staff,
		Superuser: superuser,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	return session, nil
}

func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || time.Now().After(session.ExpiresAt) {
		return nil, false
	}
	return session, true
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// DeleteForAccount drops every session held by the account.
func (s *Store) DeleteForAccount(accountID string) {
	s.mu.Lock()
	for id, session := range s.sessions {
		if session.AccountID == accountID {
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
}

// Close stops the cleanup loop.
func (s *Store) Close() {
	close(s.done)
}

func (s *Store) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			for id, session := range s.sessions {
				if time.Now().After(session.ExpiresAt) {
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
