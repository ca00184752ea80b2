package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/observability"
)

// Authorizer is implemented by providers whose connect starts with a
// browser redirect.
type Authorizer interface {
	AuthorizeURL(s *Session) (string, error)
}

// ErrUnknownProvider is returned for a provider the manager was not built with.
var ErrUnknownProvider = errors.New("unknown provider")

// DefaultSessionTTL is how long an unused session stays cached.
const DefaultSessionTTL = 30 * time.Minute

// Manager owns the open sessions and applies the connection state machine
// around provider actions.
type Manager struct {
	providers map[domain.Provider]Provider
	order     []domain.Provider
	logger    zerolog.Logger
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSessionTTL bounds how long an idle session stays cached. Zero keeps
// sessions until Close.
func WithSessionTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

// WithClock overrides the clock used for session expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager builds a Manager over providers.
func NewManager(providers []Provider, opts ...Option) *Manager {
	m := &Manager{
		providers: make(map[domain.Provider]Provider, len(providers)),
		logger:    zerolog.Nop(),
		ttl:       DefaultSessionTTL,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
	for _, p := range providers {
		m.providers[p.Name()] = p
		m.order = append(m.order, p.Name())
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Providers lists the configured providers in registration order.
func (m *Manager) Providers() []domain.Provider {
	out := make([]domain.Provider, len(m.order))
	copy(out, m.order)
	return out
}

// Open returns the user's live session, loading provider states from
// storage when none is open or the cached one sat idle past the TTL.
func (m *Manager) Open(ctx context.Context, userID string) (*Session, error) {
	if userID == "" {
		return nil, domain.ErrAuthentication
	}

	now := m.now()
	if s := m.live(userID, now); s != nil {
		return s, nil
	}

	s := newSession(userID, m.forget, now)
	for _, name := range m.order {
		linked, err := m.providers[name].Linked(ctx, s)
		if err != nil {
			return nil, err
		}
		if linked {
			s.set(name, domain.StateConnected)
		} else {
			s.set(name, domain.StateDisconnected)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[userID]; ok && !existing.Closed() && !existing.idleSince(now, m.ttl) {
		return existing, nil
	}
	m.sessions[userID] = s
	return s, nil
}

// live returns the cached session for userID, closing every session that
// has sat idle past the TTL on the way.
func (m *Manager) live(userID string, now time.Time) *Session {
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince(now, m.ttl) {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	s, ok := m.sessions[userID]
	if ok && !s.Closed() {
		s.touch(now)
	} else {
		s = nil
	}
	m.mu.Unlock()

	// Close calls forget, which takes m.mu.
	for _, e := range expired {
		m.logger.Debug().Str("user_id", e.UserID()).Msg("session expired")
		e.Close()
	}
	return s
}

// Close ends the user's session if one is open.
func (m *Manager) Close(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.sessions[s.UserID()]; ok && current == s {
		delete(m.sessions, s.UserID())
	}
}

func (m *Manager) provider(name domain.Provider) (Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Authorize returns the provider redirect URL. The state is left alone;
// Connecting is only held while Connect runs.
func (m *Manager) Authorize(_ context.Context, s *Session, name domain.Provider) (string, error) {
	p, err := m.provider(name)
	if err != nil {
		return "", err
	}
	authorizer, ok := p.(Authorizer)
	if !ok {
		return "", fmt.Errorf("%w: %s has no authorize step", domain.ErrInvalidTransition, name)
	}
	return authorizer.AuthorizeURL(s)
}

// Connect completes a link. On any failure nothing is stored and the state
// returns to where the attempt started.
func (m *Manager) Connect(ctx context.Context, s *Session, name domain.Provider, req ConnectRequest) (Notice, error) {
	p, err := m.provider(name)
	if err != nil {
		return connectFailedNotice(name, err), err
	}

	prev, err := s.transition(name, domain.StateConnecting)
	if err != nil {
		return connectFailedNotice(name, err), err
	}

	if err := p.Connect(ctx, s, req); err != nil {
		s.set(name, prev)
		observability.RecordConnection(string(name), "connect", "failed")
		m.logger.Warn().Err(err).Str("user_id", s.UserID()).Str("provider", string(name)).Msg("connect failed")
		return connectFailedNotice(name, err), err
	}

	if _, err := s.transition(name, domain.StateConnected); err != nil {
		return connectFailedNotice(name, err), err
	}
	observability.RecordConnection(string(name), "connect", "succeeded")
	return connectedNotice(name), nil
}

// Sync runs the provider sync from Connected through Syncing and back.
func (m *Manager) Sync(ctx context.Context, s *Session, name domain.Provider, req SyncRequest) (SyncResult, Notice, error) {
	p, err := m.provider(name)
	if err != nil {
		return SyncResult{}, syncFailedNotice(name, err), err
	}

	// The stored link is authoritative.
	if s.State(name) == domain.StateDisconnected {
		linked, err := p.Linked(ctx, s)
		if err != nil {
			return SyncResult{}, syncFailedNotice(name, err), err
		}
		if !linked {
			return SyncResult{}, syncFailedNotice(name, domain.ErrNotConnected), domain.ErrNotConnected
		}
		s.set(name, domain.StateConnected)
	}
	if s.State(name) == domain.StateConnecting {
		return SyncResult{}, syncFailedNotice(name, domain.ErrNotConnected), domain.ErrNotConnected
	}
	if _, err := s.transition(name, domain.StateSyncing); err != nil {
		return SyncResult{}, syncFailedNotice(name, err), err
	}
	defer s.set(name, domain.StateConnected)

	result, err := p.Sync(ctx, s, req)
	if err != nil {
		observability.RecordSync(string(name), "failed")
		m.logger.Warn().Err(err).Str("user_id", s.UserID()).Str("provider", string(name)).Msg("sync failed")
		return SyncResult{}, syncFailedNotice(name, err), err
	}

	outcome := "succeeded"
	switch {
	case result.Degraded:
		outcome = "degraded"
	case result.FetchErr != nil:
		outcome = "partial"
	}
	observability.RecordSync(string(name), outcome)
	return result, syncNotice(name, result), nil
}

// Disconnect removes the stored link. Activities are retained.
func (m *Manager) Disconnect(ctx context.Context, s *Session, name domain.Provider) (Notice, error) {
	p, err := m.provider(name)
	if err != nil {
		return disconnectFailedNotice(name, err), err
	}

	prev := s.State(name)
	if prev == domain.StateSyncing {
		err := fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, prev, domain.StateDisconnected)
		return disconnectFailedNotice(name, err), err
	}

	if err := p.Disconnect(ctx, s); err != nil {
		observability.RecordConnection(string(name), "disconnect", "failed")
		return disconnectFailedNotice(name, err), err
	}

	s.set(name, domain.StateDisconnected)
	observability.RecordConnection(string(name), "disconnect", "succeeded")
	return disconnectedNotice(name), nil
}
