// Package token decides token staleness and runs the refresh grant.
package token

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/observability"
)

// IsTokenExpired reports whether expiryEpochSeconds, in milliseconds, lies
// strictly before now. An absent expiry (0) is always expired.
func IsTokenExpired(expiryEpochSeconds int64, now time.Time) bool {
	return expiryEpochSeconds*1000 < now.UnixMilli()
}

// Granter exchanges a refresh token for a new token triple.
type Granter interface {
	Refresh(ctx context.Context, refreshToken string) (domain.TokenTriple, error)
}

// Refresher refreshes and persists a user's token triple.
type Refresher struct {
	granter Granter
	store   domain.ProfileStore
	logger  zerolog.Logger
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithLogger overrides the default no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// NewRefresher constructs a Refresher.
func NewRefresher(granter Granter, store domain.ProfileStore, opts ...Option) *Refresher {
	r := &Refresher{granter: granter, store: store, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh runs the refresh grant for userID. The store is written only when
// the grant succeeds, and the new triple replaces the old one in full. When
// the provider does not rotate the refresh token the previous one is kept.
//
// A failed grant returns an error matching domain.ErrTokenRefreshFailed. A
// failed write after a successful grant returns the new triple together with
// an error matching domain.ErrPersistence.
func (r *Refresher) Refresh(ctx context.Context, userID, refreshToken string) (domain.TokenTriple, error) {
	if strings.TrimSpace(refreshToken) == "" {
		observability.RecordTokenRefresh("rejected")
		return domain.TokenTriple{}, domain.RefreshFailed(domain.NewValidationError("refresh_token", "refresh token is required"))
	}

	triple, err := r.granter.Refresh(ctx, refreshToken)
	if err != nil {
		observability.RecordTokenRefresh("rejected")
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("token refresh rejected")
		return domain.TokenTriple{}, domain.RefreshFailed(err)
	}
	if triple.AccessToken == "" {
		observability.RecordTokenRefresh("rejected")
		return domain.TokenTriple{}, domain.RefreshFailed(domain.NewValidationError("access_token", "Invalid token response"))
	}
	if triple.RefreshToken == "" {
		triple.RefreshToken = refreshToken
	}

	if err := r.store.UpdateTokens(ctx, userID, triple); err != nil {
		observability.RecordTokenRefresh("persist_failed")
		r.logger.Error().Err(err).Str("user_id", userID).Msg("refreshed token could not be persisted")
		return triple, domain.Persistence("update tokens", err)
	}

	observability.RecordTokenRefresh("refreshed")
	r.logger.Debug().Str("user_id", userID).Int64("expires_at", triple.ExpiresAt).Msg("token refreshed")
	return triple, nil
}
