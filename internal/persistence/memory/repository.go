// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/fitsync/internal/domain"
)

type activityKey struct {
	userID     string
	externalID int64
}

// Repository implements the profile, credential and activity stores in memory.
type Repository struct {
	mu          sync.RWMutex
	now         func() time.Time
	profiles    map[string]domain.UserProfile
	credentials map[string]domain.StoredCredential
	activities  map[activityKey]domain.Activity
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		now:         func() time.Time { return time.Now().UTC() },
		profiles:    make(map[string]domain.UserProfile),
		credentials: make(map[string]domain.StoredCredential),
		activities:  make(map[activityKey]domain.Activity),
	}
}

// GetProfile implements domain.ProfileStore.
func (r *Repository) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[userID]
	if !ok {
		return nil, nil
	}
	if profile.StravaAthleteID != nil {
		id := *profile.StravaAthleteID
		profile.StravaAthleteID = &id
	}
	return &profile, nil
}

// SaveStravaConnection implements domain.ProfileStore.
func (r *Repository) SaveStravaConnection(_ context.Context, userID string, athlete domain.Athlete, tokens domain.TokenTriple) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	athleteID := athlete.ID
	profile := r.profiles[userID]
	profile.UserID = userID
	profile.StravaAthleteID = &athleteID
	profile.Tokens = tokens
	profile.FirstName = athlete.FirstName
	profile.LastName = athlete.LastName
	profile.AvatarURL = athlete.AvatarURL
	profile.UpdatedAt = r.now()
	r.profiles[userID] = profile
	return nil
}

// UpdateTokens implements domain.ProfileStore.
func (r *Repository) UpdateTokens(_ context.Context, userID string, tokens domain.TokenTriple) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[userID]
	if !ok {
		return domain.ErrNotConnected
	}
	profile.Tokens = tokens
	profile.UpdatedAt = r.now()
	r.profiles[userID] = profile
	return nil
}

// ClearStravaConnection implements domain.ProfileStore.
func (r *Repository) ClearStravaConnection(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[userID]
	if !ok {
		return nil
	}
	profile.StravaAthleteID = nil
	profile.Tokens = domain.TokenTriple{}
	profile.UpdatedAt = r.now()
	r.profiles[userID] = profile
	return nil
}

// GetCredential implements domain.CredentialStore.
func (r *Repository) GetCredential(_ context.Context, userID string) (*domain.StoredCredential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	credential, ok := r.credentials[userID]
	if !ok {
		return nil, nil
	}
	return &credential, nil
}

// UpsertCredential implements domain.CredentialStore.
func (r *Repository) UpsertCredential(_ context.Context, credential domain.StoredCredential) (*domain.StoredCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.credentials[credential.UserID]; ok {
		credential.ID = existing.ID
		credential.CreatedAt = existing.CreatedAt
		credential.LastSync = existing.LastSync
	}
	if strings.TrimSpace(credential.ID) == "" {
		credential.ID = uuid.NewString()
	}
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}
	credential.UpdatedAt = now
	r.credentials[credential.UserID] = credential
	return &credential, nil
}

// TouchLastSync implements domain.CredentialStore.
func (r *Repository) TouchLastSync(_ context.Context, userID, normalizedEmail string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	credential, ok := r.credentials[userID]
	if !ok || credential.NormalizedEmail != normalizedEmail {
		return false, nil
	}
	at = at.UTC()
	credential.LastSync = &at
	credential.UpdatedAt = at
	r.credentials[userID] = credential
	return true, nil
}

// DeleteCredential implements domain.CredentialStore.
func (r *Repository) DeleteCredential(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.credentials, userID)
	return nil
}

// UpsertActivities implements domain.ActivityStore.
func (r *Repository) UpsertActivities(_ context.Context, userID string, activities []domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, activity := range activities {
		activity.UserID = userID
		activity.UpdatedAt = now
		r.activities[activityKey{userID: userID, externalID: activity.ExternalID}] = activity
	}
	return nil
}

// ListActivities implements domain.ActivityStore.
func (r *Repository) ListActivities(_ context.Context, userID string) ([]domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Activity, 0)
	for key, activity := range r.activities {
		if key.userID == userID {
			out = append(out, activity)
		}
	}
	domain.SortByStartDesc(out)
	return out, nil
}
