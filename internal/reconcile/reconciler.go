// Package reconcile turns provider pages into the canonical stored activity list.
package reconcile

import (
	"context"

	"github.com/rs/zerolog"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/observability"
)

// Result is the activity list returned to the caller. Degraded is set when
// the list could not be confirmed against storage and only reflects the
// input batch.
type Result struct {
	Activities []domain.Activity
	Degraded   bool
}

// Reconciler normalizes, upserts and reads back activities.
type Reconciler struct {
	store  domain.ActivityStore
	logger zerolog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the reconciler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// New constructs a Reconciler over store.
func New(store domain.ActivityStore, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile upserts raw for userID and returns the stored set ordered newest
// first. Storage failures during the write or read-back degrade to the
// normalized input instead of failing. Empty input skips the write and
// returns whatever is already stored.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, raw []domain.RawActivity) (Result, error) {
	if len(raw) == 0 {
		stored, err := r.store.ListActivities(ctx, userID)
		if err != nil {
			observability.RecordReconcile("failed")
			return Result{}, domain.Persistence("list activities", err)
		}
		observability.RecordReconcile("noop")
		return Result{Activities: stored}, nil
	}

	normalized := domain.NormalizeAll(userID, raw)

	if err := r.store.UpsertActivities(ctx, userID, normalized); err != nil {
		r.logger.Error().Err(err).Str("user_id", userID).Int("count", len(normalized)).Msg("activity upsert failed, returning unsaved batch")
		return r.degraded(normalized), nil
	}

	stored, err := r.store.ListActivities(ctx, userID)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", userID).Msg("activity read-back failed, returning unsaved batch")
		return r.degraded(normalized), nil
	}

	observability.RecordReconcile("persisted")
	r.logger.Info().Str("user_id", userID).Int("upserted", len(normalized)).Int("total", len(stored)).Msg("activities reconciled")
	return Result{Activities: stored}, nil
}

func (r *Reconciler) degraded(normalized []domain.Activity) Result {
	observability.RecordReconcile("degraded")
	out := make([]domain.Activity, len(normalized))
	copy(out, normalized)
	domain.SortByStartDesc(out)
	return Result{Activities: out, Degraded: true}
}
