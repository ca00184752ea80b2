package auth

import (
	"errors"
	"fmt"
	"time"

	authlib "example.com/fitsync/pkg/auth"
)

// ErrInvalidState is returned when an OAuth state value cannot be verified.
var ErrInvalidState = errors.New("invalid oauth state")

// StateSigner mints and verifies the OAuth state parameter. The state is a
// short-lived HS256 token whose subject is the user that started the flow.
type StateSigner struct {
	cfg Config
	ttl time.Duration
	now func() time.Time
}

// NewStateSigner builds a StateSigner. States are issued under a distinct
// issuer so they never validate as bearer tokens.
func NewStateSigner(cfg Config, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateSigner{
		cfg: Config{Secret: cfg.Secret, Issuer: cfg.Issuer + "#oauth-state"},
		ttl: ttl,
		now: time.Now,
	}
}

// Issue returns a state value bound to userID.
func (s *StateSigner) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidState)
	}
	return authlib.Sign(Claims{
		Subject:   userID,
		Scopes:    map[string]struct{}{ScopeOAuthState: {}},
		ExpiresAt: s.now().Add(s.ttl),
	}, s.cfg)
}

// Verify returns the user ID carried by state.
func (s *StateSigner) Verify(state string) (string, error) {
	claims, err := authlib.Parse(state, s.cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !claims.HasScope(ScopeOAuthState) {
		return "", ErrInvalidState
	}
	return claims.Subject, nil
}
