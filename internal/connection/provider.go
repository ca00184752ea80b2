// Package connection drives the per-user link lifecycle of each provider:
// connecting, syncing and disconnecting, tracked on an explicit Session.
package connection

import (
	"context"
	"time"

	"example.com/fitsync/internal/domain"
)

// ConnectRequest carries the provider specific connect input. Strava uses
// Code; Garmin uses Email and Password.
type ConnectRequest struct {
	Code     string
	Email    string
	Password string
}

// SyncRequest carries the provider specific sync input. Strava uses the page
// window; Garmin uses NormalizedEmail.
type SyncRequest struct {
	Page            int
	PerPage         int
	Pages           int
	NormalizedEmail string
}

// SyncResult is what a sync produced.
type SyncResult struct {
	Activities []domain.Activity
	// Degraded is set when Activities could not be confirmed against storage.
	Degraded bool
	// PagesFetched counts successful remote page calls.
	PagesFetched int
	// FetchErr is a page failure that happened after earlier pages were
	// already reconciled.
	FetchErr error
	LastSync *time.Time
}

// Provider is one linkable account type.
type Provider interface {
	Name() domain.Provider
	// Linked reports whether the user currently holds a stored link and
	// primes the session cache.
	Linked(ctx context.Context, s *Session) (bool, error)
	Connect(ctx context.Context, s *Session, req ConnectRequest) error
	Sync(ctx context.Context, s *Session, req SyncRequest) (SyncResult, error)
	Disconnect(ctx context.Context, s *Session) error
}
