// Package domain defines the entities, error taxonomy and storage contracts
// shared by the sync pipeline.
package domain

import (
	"context"
	"time"
)

// TokenTriple is the (access token, refresh token, expiry) set issued by the
// OAuth provider. ExpiresAt is in epoch seconds.
type TokenTriple struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

// Athlete is the provider identity returned with the initial token exchange.
type Athlete struct {
	ID        int64
	FirstName string
	LastName  string
	AvatarURL string
}

// UserProfile is the per-user row holding the Strava link.
type UserProfile struct {
	UserID          string
	StravaAthleteID *int64
	Tokens          TokenTriple
	FirstName       string
	LastName        string
	AvatarURL       string
	UpdatedAt       time.Time
}

// StravaConnected reports whether the profile currently holds a Strava link.
func (p *UserProfile) StravaConnected() bool {
	return p != nil && p.StravaAthleteID != nil && p.Tokens.AccessToken != ""
}

// ProfileStore persists user profiles and their token triple.
type ProfileStore interface {
	// GetProfile returns nil, nil when the user has no profile row.
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
	// SaveStravaConnection writes identity and tokens in a single statement,
	// creating the profile when absent.
	SaveStravaConnection(ctx context.Context, userID string, athlete Athlete, tokens TokenTriple) error
	// UpdateTokens overwrites the stored triple in full.
	UpdateTokens(ctx context.Context, userID string, tokens TokenTriple) error
	// ClearStravaConnection nulls the athlete ID and token triple.
	ClearStravaConnection(ctx context.Context, userID string) error
}
