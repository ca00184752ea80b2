package domain

import (
	"context"
	"strings"
	"time"
)

// StoredCredential holds the Garmin login of a user. PasswordSealed is the
// AES-GCM sealed password, never the plaintext.
type StoredCredential struct {
	ID              string
	UserID          string
	Email           string
	PasswordSealed  string
	NormalizedEmail string
	LastSync        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizeEmail derives the correlation key used by the Garmin endpoints:
// the address lowercased with every "@" and "." removed.
func NormalizeEmail(email string) string {
	replacer := strings.NewReplacer("@", "", ".", "")
	return strings.ToLower(replacer.Replace(strings.TrimSpace(email)))
}

// CredentialStore persists Garmin credentials, one row per user.
type CredentialStore interface {
	// GetCredential returns nil, nil when the user has no credential.
	GetCredential(ctx context.Context, userID string) (*StoredCredential, error)
	// UpsertCredential inserts or replaces the credential keyed by user ID.
	UpsertCredential(ctx context.Context, credential StoredCredential) (*StoredCredential, error)
	// TouchLastSync stamps last-sync for the row matching both keys and
	// reports whether a row matched.
	TouchLastSync(ctx context.Context, userID, normalizedEmail string, at time.Time) (bool, error)
	DeleteCredential(ctx context.Context, userID string) error
}

// ActivityStore persists activities keyed by (user, external ID).
type ActivityStore interface {
	// UpsertActivities inserts or overwrites every field of the given rows.
	UpsertActivities(ctx context.Context, userID string, activities []Activity) error
	// ListActivities returns the user's activities newest first.
	ListActivities(ctx context.Context, userID string) ([]Activity, error)
}
