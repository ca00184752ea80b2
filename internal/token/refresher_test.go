package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/persistence/memory"
)

type stubGranter struct {
	triple domain.TokenTriple
	err    error
	calls  []string
}

func (g *stubGranter) Refresh(_ context.Context, refreshToken string) (domain.TokenTriple, error) {
	g.calls = append(g.calls, refreshToken)
	return g.triple, g.err
}

type failingStore struct {
	*memory.Repository
}

func (failingStore) UpdateTokens(context.Context, string, domain.TokenTriple) error {
	return errors.New("disk full")
}

func seededStore(t *testing.T) *memory.Repository {
	t.Helper()
	repo := memory.NewRepository()
	require.NoError(t, repo.SaveStravaConnection(context.Background(), "user-1", domain.Athlete{ID: 7},
		domain.TokenTriple{AccessToken: "old-access", RefreshToken: "old-refresh", ExpiresAt: 100}))
	return repo
}

func TestIsTokenExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	require.True(t, IsTokenExpired(0, now))
	require.True(t, IsTokenExpired(now.Unix()-1, now))
	require.False(t, IsTokenExpired(now.Unix(), now))
	require.False(t, IsTokenExpired(now.Unix()+3600, now))
}

func TestIsTokenExpiredComparesMilliseconds(t *testing.T) {
	expiry := int64(1_700_000_000)
	justAfter := time.Unix(expiry, int64(time.Millisecond))

	require.True(t, IsTokenExpired(expiry, justAfter))
	require.False(t, IsTokenExpired(expiry, time.Unix(expiry, 999_000)))
}

func TestRefreshPersistsNewTriple(t *testing.T) {
	store := seededStore(t)
	granter := &stubGranter{triple: domain.TokenTriple{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: 5000}}
	refresher := NewRefresher(granter, store)

	triple, err := refresher.Refresh(context.Background(), "user-1", "old-refresh")
	require.NoError(t, err)
	require.Equal(t, "new-access", triple.AccessToken)
	require.Equal(t, []string{"old-refresh"}, granter.calls)

	profile, err := store.GetProfile(context.Background(), "user-1")
	require.NoError(t, err)
	require.Equal(t, triple, profile.Tokens)
}

func TestRefreshKeepsRefreshTokenWhenNotRotated(t *testing.T) {
	store := seededStore(t)
	granter := &stubGranter{triple: domain.TokenTriple{AccessToken: "new-access", ExpiresAt: 5000}}

	triple, err := NewRefresher(granter, store).Refresh(context.Background(), "user-1", "old-refresh")
	require.NoError(t, err)
	require.Equal(t, "old-refresh", triple.RefreshToken)
}

func TestRefreshFailureLeavesStoreUntouched(t *testing.T) {
	cases := map[string]*stubGranter{
		"grant rejected": {err: &domain.UpstreamError{Status: 400, Message: "Bad Request"}},
		"empty access":   {triple: domain.TokenTriple{RefreshToken: "r", ExpiresAt: 1}},
	}

	for name, granter := range cases {
		t.Run(name, func(t *testing.T) {
			store := seededStore(t)
			_, err := NewRefresher(granter, store).Refresh(context.Background(), "user-1", "old-refresh")
			require.ErrorIs(t, err, domain.ErrTokenRefreshFailed)

			profile, err := store.GetProfile(context.Background(), "user-1")
			require.NoError(t, err)
			require.Equal(t, "old-access", profile.Tokens.AccessToken)
			require.Equal(t, "old-refresh", profile.Tokens.RefreshToken)
		})
	}
}

func TestRefreshWithoutRefreshTokenSkipsGrant(t *testing.T) {
	granter := &stubGranter{}
	_, err := NewRefresher(granter, seededStore(t)).Refresh(context.Background(), "user-1", " ")
	require.ErrorIs(t, err, domain.ErrTokenRefreshFailed)
	require.Empty(t, granter.calls)
}

func TestRefreshReturnsTripleWhenPersistFails(t *testing.T) {
	granter := &stubGranter{triple: domain.TokenTriple{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresAt: 5000}}
	store := failingStore{Repository: seededStore(t)}

	triple, err := NewRefresher(granter, store).Refresh(context.Background(), "user-1", "old-refresh")
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.NotErrorIs(t, err, domain.ErrTokenRefreshFailed)
	require.Equal(t, "new-access", triple.AccessToken)
}
