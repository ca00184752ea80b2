//go:build integration

package outbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/persistence/postgres"
)

func TestDispatcherPublishesRepositoryEvents(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	repo := postgres.NewRepository(pool)
	userID := uuid.NewString()

	require.NoError(t, repo.SaveStravaConnection(ctx, userID, domain.Athlete{ID: 9}, domain.TokenTriple{AccessToken: "a", RefreshToken: "r", ExpiresAt: 1}))
	require.NoError(t, repo.UpsertActivities(ctx, userID, []domain.Activity{{ExternalID: 1, Name: "Run"}}))

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, zerolog.Nop(), 10*time.Millisecond, 10)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 2)
	require.Equal(t, "connection_changed", producer.writes[0].topic)
	require.Equal(t, "activities_reconciled", producer.writes[1].topic)
	require.Equal(t, userID, string(producer.writes[1].messages[0].Key))

	require.InDelta(t, beforeDelivered+2, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending))
	require.Zero(t, pending)

	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 2)
}

func TestDispatcherRoutesFailedBatchToDLQ(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	repo := postgres.NewRepository(pool)
	userID := uuid.NewString()

	require.NoError(t, repo.SaveStravaConnection(ctx, userID, domain.Athlete{ID: 9}, domain.TokenTriple{AccessToken: "a", RefreshToken: "r", ExpiresAt: 1}))

	producer := &stubProducer{err: errors.New("kafka write failed")}
	dispatcher := NewDispatcher(pool, producer, zerolog.Nop(), 10*time.Millisecond, 10)

	beforeFailed := testutil.ToFloat64(failedCounter)
	require.NoError(t, dispatcher.processBatch(ctx))
	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter), 0.0001)

	var count int
	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*), MAX(reason) FROM outbox_dlq WHERE user_id = $1`, userID).Scan(&count, &reason))
	require.Equal(t, 1, count)
	require.Contains(t, reason, "kafka write failed")

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("fitsync"),
		postgrescontainer.WithUsername("fitsync"),
		postgrescontainer.WithPassword("fitsync"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	files, err := filepath.Glob(filepath.Join(resolvePath(t, "../../db/postgres/migrations"), "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, file := range files {
		contents, err := os.ReadFile(file)
		require.NoErrorf(t, err, "read migration %s", file)
		_, err = pool.Exec(ctx, string(contents))
		require.NoErrorf(t, err, "execute migration %s", file)
	}
	return pool
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
