package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/connection"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/persistence/memory"
	"example.com/fitsync/internal/reconcile"
	"example.com/fitsync/internal/secrets"
	"example.com/fitsync/internal/strava"
	"example.com/fitsync/internal/token"
	httptransport "example.com/fitsync/internal/transport/http"
	authlib "example.com/fitsync/pkg/auth"
)

var testAuth = auth.Config{Secret: "test-secret", Issuer: "https://auth.example.com"}

type fakeGrants struct {
	grant strava.Grant
	err   error
	codes []string
}

func (f *fakeGrants) AuthCodeURL(state string) string {
	return "https://strava.example.com/oauth/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeGrants) Exchange(_ context.Context, code string) (strava.Grant, error) {
	f.codes = append(f.codes, code)
	return f.grant, f.err
}

func (f *fakeGrants) RefreshGrant(context.Context, string) (strava.Grant, error) {
	return f.grant, f.err
}

func (f *fakeGrants) Refresh(context.Context, string) (domain.TokenTriple, error) {
	return f.grant.Tokens, f.err
}

type fakeFetcher struct {
	page strava.Page
	err  error
}

func (f *fakeFetcher) FetchPage(context.Context, string, int, int) (strava.Page, error) {
	return f.page, f.err
}

type apiFixture struct {
	repo    *memory.Repository
	grants  *fakeGrants
	fetcher *fakeFetcher
	states  *auth.StateSigner
	router  http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	repo := memory.NewRepository()
	grants := &fakeGrants{grant: strava.Grant{
		TokenType: "Bearer",
		Tokens:    domain.TokenTriple{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresAt: time.Now().Add(6 * time.Hour).Unix()},
		ExpiresIn: 21600,
		Athlete:   &domain.Athlete{ID: 42, FirstName: "Ada", LastName: "Lovelace"},
	}}
	fetcher := &fakeFetcher{}
	states := auth.NewStateSigner(testAuth, time.Minute)
	sealer, err := secrets.NewSealer("test-key")
	require.NoError(t, err)

	manager := connection.NewManager([]connection.Provider{
		connection.NewStravaProvider(connection.StravaDeps{
			OAuth:      grants,
			States:     states,
			Fetcher:    fetcher,
			Refresher:  token.NewRefresher(grants, repo),
			Reconciler: reconcile.New(repo),
			Profiles:   repo,
		}),
		connection.NewGarminProvider(repo, sealer, zerolog.Nop()),
	})

	handler := NewHandler(Deps{
		Manager:      manager,
		Grants:       grants,
		Fetcher:      fetcher,
		Activities:   repo,
		States:       states,
		DashboardURL: "http://app.example.com/dashboard",
		LandingURL:   "http://app.example.com/",
		Logger:       zerolog.Nop(),
	})
	router := httptransport.NewRouter(httptransport.RouterConfig{
		AllowedOrigins: []string{"*"},
		Auth:           auth.NewMiddleware(testAuth),
		Logger:         zerolog.Nop(),
	}, func(r chi.Router) { handler.RegisterRoutes(r) })

	return &apiFixture{repo: repo, grants: grants, fetcher: fetcher, states: states, router: router}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	signed, err := authlib.Sign(authlib.Claims{Subject: userID, ExpiresAt: time.Now().Add(time.Hour)}, testAuth)
	require.NoError(t, err)
	return "Bearer " + signed
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestV1RequiresBearer(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/activities", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.JSONEq(t, `{"error":"Authentication error"}`, rec.Body.String())
}

func TestHealthzIsPublic(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestExchangeProxiesGrant(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/strava/exchange", map[string]string{"code": "abc"})
	require.Equal(t, http.StatusOK, rec.Code)

	var view GrantView
	decodeBody(t, rec, &view)
	require.Equal(t, "access-1", view.AccessToken)
	require.Equal(t, "refresh-1", view.RefreshToken)
	require.NotNil(t, view.Athlete)
	require.Equal(t, int64(42), view.Athlete.ID)
	require.Equal(t, []string{"abc"}, f.grants.codes)
}

func TestExchangeMissingCode(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/strava/exchange", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Authorization code is required"}`, rec.Body.String())
}

func TestExchangeProviderRejection(t *testing.T) {
	f := newAPIFixture(t)
	f.grants.err = &domain.UpstreamError{Status: http.StatusBadRequest, Message: "Bad Request"}
	rec := f.do(t, http.MethodPost, "/v1/strava/exchange", map[string]string{"code": "abc"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Bad Request"}`, rec.Body.String())
}

func TestActivitiesProxyRequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/strava/activities", map[string]int{"page": 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Access token is required"}`, rec.Body.String())
}

func TestActivitiesProxyPassesBodyAndStatus(t *testing.T) {
	f := newAPIFixture(t)
	f.fetcher.page = strava.Page{Raw: json.RawMessage(`[{"id":1}]`)}
	rec := f.do(t, http.MethodPost, "/v1/strava/activities", map[string]string{"access_token": "tok"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `[{"id":1}]`, rec.Body.String())

	f.fetcher.err = &domain.UpstreamError{Status: http.StatusTooManyRequests, Message: "Strava API error: 429"}
	rec = f.do(t, http.MethodPost, "/v1/strava/activities", map[string]string{"access_token": "tok"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.JSONEq(t, `{"error":"Strava API error: 429"}`, rec.Body.String())
}

func TestAuthorizeThenCallbackConnects(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/strava/authorize", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var authorize AuthorizeResponse
	decodeBody(t, rec, &authorize)
	parsed, err := url.Parse(authorize.AuthorizeURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.NotEmpty(t, state)

	req := httptest.NewRequest(http.MethodGet, "/strava/callback?code=abc&state="+url.QueryEscape(state), nil)
	cb := httptest.NewRecorder()
	f.router.ServeHTTP(cb, req)
	require.Equal(t, http.StatusOK, cb.Code)
	require.Contains(t, cb.Body.String(), `content="2;url=http://app.example.com/dashboard"`)

	profile, err := f.repo.GetProfile(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, profile.StravaConnected())

	rec = f.do(t, http.MethodGet, "/v1/connections", nil)
	var connections ConnectionsResponse
	decodeBody(t, rec, &connections)
	require.Len(t, connections.Connections, 2)
	require.Equal(t, "strava", connections.Connections[0].Provider)
	require.Equal(t, string(domain.StateConnected), connections.Connections[0].State)
	require.Equal(t, "Ada", connections.Connections[0].FirstName)
}

func TestCallbackProviderErrorRedirectsToLanding(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/strava/callback?error=access_denied", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `content="3;url=http://app.example.com/"`)
	require.Empty(t, f.grants.codes)
}

func TestCallbackRejectsForgedState(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/strava/callback?code=abc&state=forged", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, f.grants.codes)
}

func TestSyncRequiresConnection(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/strava/sync", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	require.Equal(t, "Provider not connected", resp.Error)
	require.NotNil(t, resp.Notice)
	require.Equal(t, "Failed to fetch activities", resp.Notice.Description)
	require.Equal(t, connection.VariantDestructive, resp.Notice.Variant)
}

func TestGarminSyncFailureCarriesNotice(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/garmin/sync", map[string]string{"normalized_email": "nobody"})
	require.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	decodeBody(t, rec, &resp)
	require.NotNil(t, resp.Notice)
	require.Equal(t, "Sync Failed", resp.Notice.Title)
	require.Equal(t, connection.VariantDestructive, resp.Notice.Variant)
}

func TestSyncReturnsStoredActivities(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.repo.SaveStravaConnection(context.Background(), "user-1", domain.Athlete{ID: 42}, f.grants.grant.Tokens))
	f.fetcher.page = strava.Page{Activities: []domain.RawActivity{
		{ID: 1, Name: "Morning Run", Type: "Run", Distance: 5000, MovingTime: 1500, StartDate: "2024-03-01T07:00:00Z"},
		{ID: 2, Name: "Evening Ride", Type: "Ride", Distance: 20000, MovingTime: 3600, StartDate: "2024-03-02T18:00:00Z"},
	}}

	rec := f.do(t, http.MethodPost, "/v1/strava/sync", map[string]int{"per_page": 30})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncResponse
	decodeBody(t, rec, &resp)
	require.False(t, resp.Degraded)
	require.Equal(t, 1, resp.PagesFetched)
	require.Len(t, resp.Activities, 2)
	require.Equal(t, int64(2), resp.Activities[0].ID)
	require.NotEmpty(t, resp.Notice.Title)

	rec = f.do(t, http.MethodGet, "/v1/activities/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	decodeBody(t, rec, &stats)
	require.Equal(t, 2, stats.TotalActivities)
	require.InDelta(t, 25000, stats.TotalDistanceMeters, 0.001)
	require.Len(t, stats.Monthly, 1)
	require.Equal(t, "2024-03", stats.Monthly[0].Month)
}

func TestSyncRejectsOversizedWindow(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/strava/sync", map[string]int{"pages": 500})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStravaDisconnectKeepsActivities(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.SaveStravaConnection(ctx, "user-1", domain.Athlete{ID: 42}, f.grants.grant.Tokens))
	require.NoError(t, f.repo.UpsertActivities(ctx, "user-1", []domain.Activity{{ExternalID: 7, UserID: "user-1", Name: "Swim"}}))

	rec := f.do(t, http.MethodDelete, "/v1/strava/connection", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	profile, err := f.repo.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, profile.StravaConnected())

	rec = f.do(t, http.MethodGet, "/v1/activities", nil)
	var list ActivitiesResponse
	decodeBody(t, rec, &list)
	require.Len(t, list.Activities, 1)
}

func TestGarminSetupValidation(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/garmin/setup", map[string]string{"email": "not-an-email", "password": "secret1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Please enter a valid email address"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/garmin/setup", map[string]string{"email": "a@b.co", "password": "123"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Password must be at least 6 characters"}`, rec.Body.String())
}

func TestGarminSetupSyncDisconnect(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/garmin/setup", map[string]string{"email": "Ada.L@Example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)

	credential, err := f.repo.GetCredential(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, credential)
	require.NotEqual(t, "secret1", credential.PasswordSealed)
	require.Equal(t, "adalexamplecom", credential.NormalizedEmail)

	rec = f.do(t, http.MethodPost, "/v1/garmin/sync", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Missing normalized_email parameter"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/garmin/sync", map[string]string{"normalized_email": "adalexamplecom"})
	require.Equal(t, http.StatusOK, rec.Code)
	var syncResp GarminSyncResponse
	decodeBody(t, rec, &syncResp)
	require.True(t, syncResp.Success)
	require.NotNil(t, syncResp.LastSync)

	rec = f.do(t, http.MethodDelete, "/v1/garmin/connection", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	credential, err = f.repo.GetCredential(context.Background(), "user-1")
	require.NoError(t, err)
	require.Nil(t, credential)
}

func TestInvalidBodyIsBadRequest(t *testing.T) {
	f := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/strava/exchange", strings.NewReader("{"))
	req.Header.Set("Authorization", bearer(t, "user-1"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Invalid request body"}`, rec.Body.String())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"refresh failed", domain.RefreshFailed(&domain.UpstreamError{Status: 401}), http.StatusBadGateway},
		{"not connected", domain.ErrNotConnected, http.StatusConflict},
		{"transition", domain.ErrInvalidTransition, http.StatusConflict},
		{"persistence", domain.Persistence("op", context.DeadlineExceeded), http.StatusInternalServerError},
		{"upstream", &domain.UpstreamError{Status: http.StatusGatewayTimeout}, http.StatusGatewayTimeout},
		{"unknown provider", connection.ErrUnknownProvider, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, _ := classify(tc.err)
			require.Equal(t, tc.status, status)
		})
	}
}
