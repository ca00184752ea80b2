package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/observability"
	"example.com/fitsync/pkg/events"
)

// Repository provides Postgres-backed persistence for profiles, credentials,
// activities and outbox events.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// GetProfile returns the profile row for userID or nil when absent.
func (r *Repository) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	const query = `SELECT user_id, strava_athlete_id, COALESCE(access_token, ''), COALESCE(refresh_token, ''), COALESCE(token_expires_at, 0),
        first_name, last_name, avatar_url, updated_at
        FROM profiles WHERE user_id=$1`

	var profile domain.UserProfile
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.StravaAthleteID,
		&profile.Tokens.AccessToken,
		&profile.Tokens.RefreshToken,
		&profile.Tokens.ExpiresAt,
		&profile.FirstName,
		&profile.LastName,
		&profile.AvatarURL,
		&profile.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

// SaveStravaConnection upserts identity and tokens in one statement and
// records a connection.changed event in the same transaction.
func (r *Repository) SaveStravaConnection(ctx context.Context, userID string, athlete domain.Athlete, tokens domain.TokenTriple) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	now := r.now()
	const stmt = `INSERT INTO profiles (user_id, strava_athlete_id, access_token, refresh_token, token_expires_at, first_name, last_name, avatar_url, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
        ON CONFLICT (user_id) DO UPDATE SET
            strava_athlete_id = EXCLUDED.strava_athlete_id,
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            token_expires_at = EXCLUDED.token_expires_at,
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            avatar_url = EXCLUDED.avatar_url,
            updated_at = EXCLUDED.updated_at`

	if _, err = tx.Exec(ctx, stmt, userID, athlete.ID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt,
		athlete.FirstName, athlete.LastName, athlete.AvatarURL, now); err != nil {
		return err
	}

	if err = r.insertConnectionChanged(ctx, tx, userID, domain.ProviderStrava, domain.StateConnected, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateTokens overwrites the stored token triple.
func (r *Repository) UpdateTokens(ctx context.Context, userID string, tokens domain.TokenTriple) error {
	const stmt = `UPDATE profiles SET access_token=$2, refresh_token=$3, token_expires_at=$4, updated_at=$5 WHERE user_id=$1`

	tag, err := r.pool.Exec(ctx, stmt, userID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt, r.now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotConnected
	}
	return nil
}

// ClearStravaConnection nulls the athlete ID and token triple.
func (r *Repository) ClearStravaConnection(ctx context.Context, userID string) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	now := r.now()
	const stmt = `UPDATE profiles SET strava_athlete_id=NULL, access_token=NULL, refresh_token=NULL, token_expires_at=NULL, updated_at=$2
        WHERE user_id=$1`
	tag, err := tx.Exec(ctx, stmt, userID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		if err = r.insertConnectionChanged(ctx, tx, userID, domain.ProviderStrava, domain.StateDisconnected, now); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

const credentialColumns = `credential_id, user_id, email, password_sealed, normalized_email, last_sync, created_at, updated_at`

func scanCredential(row pgx.Row) (*domain.StoredCredential, error) {
	var credential domain.StoredCredential
	if err := row.Scan(
		&credential.ID,
		&credential.UserID,
		&credential.Email,
		&credential.PasswordSealed,
		&credential.NormalizedEmail,
		&credential.LastSync,
		&credential.CreatedAt,
		&credential.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &credential, nil
}

// GetCredential returns the Garmin credential for userID or nil when absent.
func (r *Repository) GetCredential(ctx context.Context, userID string) (*domain.StoredCredential, error) {
	query := `SELECT credential_id::text, user_id, email, password_sealed, normalized_email, last_sync, created_at, updated_at
        FROM garmin_credentials WHERE user_id=$1`

	credential, err := scanCredential(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return credential, nil
}

// UpsertCredential inserts or replaces the credential keyed by user ID.
func (r *Repository) UpsertCredential(ctx context.Context, credential domain.StoredCredential) (stored *domain.StoredCredential, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if credential.ID == "" {
		credential.ID = uuid.NewString()
	}
	now := r.now()

	stmt := `INSERT INTO garmin_credentials (` + credentialColumns + `)
        VALUES ($1,$2,$3,$4,$5,NULL,$6,$6)
        ON CONFLICT (user_id) DO UPDATE SET
            email = EXCLUDED.email,
            password_sealed = EXCLUDED.password_sealed,
            normalized_email = EXCLUDED.normalized_email,
            updated_at = EXCLUDED.updated_at
        RETURNING credential_id::text, user_id, email, password_sealed, normalized_email, last_sync, created_at, updated_at`

	stored, err = scanCredential(tx.QueryRow(ctx, stmt, credential.ID, credential.UserID, credential.Email,
		credential.PasswordSealed, credential.NormalizedEmail, now))
	if err != nil {
		return nil, err
	}

	if err = r.insertConnectionChanged(ctx, tx, credential.UserID, domain.ProviderGarmin, domain.StateConnected, now); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

// TouchLastSync stamps last_sync on the row matching both keys.
func (r *Repository) TouchLastSync(ctx context.Context, userID, normalizedEmail string, at time.Time) (bool, error) {
	const stmt = `UPDATE garmin_credentials SET last_sync=$3, updated_at=$3 WHERE user_id=$1 AND normalized_email=$2`

	tag, err := r.pool.Exec(ctx, stmt, userID, normalizedEmail, at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteCredential removes the Garmin credential row.
func (r *Repository) DeleteCredential(ctx context.Context, userID string) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `DELETE FROM garmin_credentials WHERE user_id=$1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		if err = r.insertConnectionChanged(ctx, tx, userID, domain.ProviderGarmin, domain.StateDisconnected, r.now()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpsertActivities writes the batch keyed on (user_id, external_id) and
// records an activities.reconciled event inside a single transaction.
func (r *Repository) UpsertActivities(ctx context.Context, userID string, activities []domain.Activity) (err error) {
	if len(activities) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO activities (user_id, external_id, name, activity_type, distance_m, moving_time_s, elapsed_time_s, elevation_gain_m,
            started_at, average_speed, max_speed, average_heartrate, max_heartrate, summary_polyline, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
        ON CONFLICT (user_id, external_id) DO UPDATE SET
            name = EXCLUDED.name,
            activity_type = EXCLUDED.activity_type,
            distance_m = EXCLUDED.distance_m,
            moving_time_s = EXCLUDED.moving_time_s,
            elapsed_time_s = EXCLUDED.elapsed_time_s,
            elevation_gain_m = EXCLUDED.elevation_gain_m,
            started_at = EXCLUDED.started_at,
            average_speed = EXCLUDED.average_speed,
            max_speed = EXCLUDED.max_speed,
            average_heartrate = EXCLUDED.average_heartrate,
            max_heartrate = EXCLUDED.max_heartrate,
            summary_polyline = EXCLUDED.summary_polyline,
            updated_at = EXCLUDED.updated_at`

	now := r.now()
	batch := &pgx.Batch{}
	ids := make([]int64, 0, len(activities))
	for _, a := range activities {
		batch.Queue(stmt, userID, a.ExternalID, a.Name, a.Type, a.DistanceMeters, a.MovingTimeSec, a.ElapsedTimeSec,
			a.ElevationGainM, nullTime(a.StartDate), a.AverageSpeed, a.MaxSpeed, a.AverageHeartrate, a.MaxHeartrate,
			a.SummaryPolyline, now)
		ids = append(ids, a.ExternalID)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	event := events.ActivitiesReconciled{
		UserID:      userID,
		Provider:    string(domain.ProviderStrava),
		ExternalIDs: ids,
		Count:       len(ids),
		OccurredAt:  now,
	}
	if err = r.insertOutbox(ctx, tx, userID, userID, events.TypeActivitiesReconciled, event); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordActivitiesPersisted(len(activities), now)
	return nil
}

// ListActivities returns activities for a user ordered newest first.
func (r *Repository) ListActivities(ctx context.Context, userID string) ([]domain.Activity, error) {
	const query = `SELECT external_id, user_id, name, activity_type, distance_m, moving_time_s, elapsed_time_s, elevation_gain_m,
            started_at, average_speed, max_speed, average_heartrate, max_heartrate, summary_polyline, updated_at
        FROM activities WHERE user_id=$1
        ORDER BY started_at DESC NULLS LAST, external_id DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0)
	for rows.Next() {
		var a domain.Activity
		var startedAt *time.Time
		if err := rows.Scan(&a.ExternalID, &a.UserID, &a.Name, &a.Type, &a.DistanceMeters, &a.MovingTimeSec, &a.ElapsedTimeSec,
			&a.ElevationGainM, &startedAt, &a.AverageSpeed, &a.MaxSpeed, &a.AverageHeartrate, &a.MaxHeartrate,
			&a.SummaryPolyline, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if startedAt != nil {
			a.StartDate = startedAt.UTC()
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) insertConnectionChanged(ctx context.Context, tx pgx.Tx, userID string, provider domain.Provider, state domain.ConnectionState, at time.Time) error {
	return r.insertOutbox(ctx, tx, userID, userID+":"+string(provider), events.TypeConnectionChanged, events.ConnectionChanged{
		UserID:     userID,
		Provider:   string(provider),
		State:      string(state),
		OccurredAt: at,
	})
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, userID, aggregateID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := events.Lookup(eventType)
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", eventType, uuid.NewString())

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		userID,
		meta.AggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		userID,
		body,
		dedupeKey,
	)
	return err
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
