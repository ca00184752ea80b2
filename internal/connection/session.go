package connection

import (
	"sync"
	"time"

	"example.com/fitsync/internal/domain"
)

// Session holds one user's connection states and cached link data between
// login and logout.
type Session struct {
	userID  string
	onClose func(*Session)

	mu         sync.Mutex
	states     map[domain.Provider]domain.ConnectionState
	profile    *domain.UserProfile
	credential *domain.StoredCredential
	closed     bool
	lastUsed   time.Time
}

func newSession(userID string, onClose func(*Session), now time.Time) *Session {
	return &Session{
		userID:   userID,
		onClose:  onClose,
		states:   make(map[domain.Provider]domain.ConnectionState),
		lastUsed: now,
	}
}

// UserID returns the session owner.
func (s *Session) UserID() string {
	return s.userID
}

// State returns the current state for provider.
func (s *Session) State(provider domain.Provider) domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(provider)
}

func (s *Session) stateLocked(provider domain.Provider) domain.ConnectionState {
	if state, ok := s.states[provider]; ok {
		return state
	}
	return domain.StateDisconnected
}

// transition moves provider to next when the move is allowed and returns
// the state it left.
func (s *Session) transition(provider domain.Provider, next domain.ConnectionState) (domain.ConnectionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.stateLocked(provider)
	if _, err := prev.Transition(next); err != nil {
		return prev, err
	}
	s.states[provider] = next
	return prev, nil
}

// set forces provider into state. It is used to restore a state after a
// failed action and when loading from storage.
func (s *Session) set(provider domain.Provider, state domain.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[provider] = state
}

// Profile returns a copy of the cached profile, if any.
func (s *Session) Profile() *domain.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return nil
	}
	cp := *s.profile
	return &cp
}

func (s *Session) setProfile(profile *domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if profile == nil {
		s.profile = nil
		return
	}
	cp := *profile
	s.profile = &cp
}

func (s *Session) setTokens(tokens domain.TokenTriple) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile != nil {
		s.profile.Tokens = tokens
	}
}

// Credential returns a copy of the cached Garmin credential, if any.
func (s *Session) Credential() *domain.StoredCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credential == nil {
		return nil
	}
	cp := *s.credential
	return &cp
}

func (s *Session) setCredential(credential *domain.StoredCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if credential == nil {
		s.credential = nil
		return
	}
	cp := *credential
	s.credential = &cp
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = now
}

// idleSince reports whether the session has gone unused for ttl as of now.
func (s *Session) idleSince(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ttl > 0 && now.Sub(s.lastUsed) >= ttl
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close drops cached tokens and credentials and detaches the session from
// its manager. Stored data is not touched.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.profile = nil
	s.credential = nil
	s.states = make(map[domain.Provider]domain.ConnectionState)
	s.mu.Unlock()

	if s.onClose != nil {
		s.onClose(s)
	}
}
