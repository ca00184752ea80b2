// Package events defines the payloads published through the outbox.
package events

import "time"

// ActivitiesReconciled is emitted after a sync batch was upserted for a user.
type ActivitiesReconciled struct {
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	ExternalIDs []int64   `json:"external_ids"`
	Count       int       `json:"count"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ConnectionChanged tracks provider link transitions (connected, disconnected).
type ConnectionChanged struct {
	UserID     string    `json:"user_id"`
	Provider   string    `json:"provider"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
}
