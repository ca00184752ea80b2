// Package api exposes HTTP handlers for the sync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/connection"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/strava"
)

// TokenGranter runs the raw OAuth grants for the token proxy endpoints.
type TokenGranter interface {
	Exchange(ctx context.Context, code string) (strava.Grant, error)
	RefreshGrant(ctx context.Context, refreshToken string) (strava.Grant, error)
}

// StateVerifier resolves an OAuth state parameter to its user.
type StateVerifier interface {
	Verify(state string) (string, error)
}

// ActivityLister reads the stored activity list.
type ActivityLister interface {
	ListActivities(ctx context.Context, userID string) ([]domain.Activity, error)
}

// Deps groups the Handler collaborators.
type Deps struct {
	Manager      *connection.Manager
	Grants       TokenGranter
	Fetcher      connection.ActivityFetcher
	Activities   ActivityLister
	States       StateVerifier
	DashboardURL string
	LandingURL   string
	Logger       zerolog.Logger
}

// Handler coordinates HTTP requests with the connection manager.
type Handler struct {
	manager      *connection.Manager
	grants       TokenGranter
	fetcher      connection.ActivityFetcher
	activities   ActivityLister
	states       StateVerifier
	dashboardURL string
	landingURL   string
	logger       zerolog.Logger
}

// NewHandler builds a Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		manager:      deps.Manager,
		grants:       deps.Grants,
		fetcher:      deps.Fetcher,
		activities:   deps.Activities,
		states:       deps.States,
		dashboardURL: deps.DashboardURL,
		landingURL:   deps.LandingURL,
		logger:       deps.Logger,
	}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/strava/callback", h.stravaCallback)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/strava/exchange", h.stravaExchange)
		r.Post("/strava/refresh", h.stravaRefresh)
		r.Post("/strava/activities", h.stravaActivities)
		r.Get("/strava/authorize", h.stravaAuthorize)
		r.Post("/strava/sync", h.stravaSync)
		r.Delete("/strava/connection", h.disconnect(domain.ProviderStrava))

		r.Post("/garmin/setup", h.garminSetup)
		r.Post("/garmin/sync", h.garminSync)
		r.Delete("/garmin/connection", h.disconnect(domain.ProviderGarmin))

		r.Get("/connections", h.connections)
		r.Get("/activities", h.listActivities)
		r.Get("/activities/stats", h.activityStats)
		r.Delete("/session", h.closeSession)
	})
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) stravaExchange(w http.ResponseWriter, r *http.Request) {
	var req ExchangeRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	grant, err := h.grants.Exchange(r.Context(), req.Code)
	if err != nil {
		h.logger.Warn().Err(err).Msg("strava exchange failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantView(grant))
}

func (h *Handler) stravaRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	grant, err := h.grants.RefreshGrant(r.Context(), req.RefreshToken)
	if err != nil {
		h.logger.Warn().Err(err).Msg("strava refresh failed")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantView(grant))
}

func (h *Handler) stravaActivities(w http.ResponseWriter, r *http.Request) {
	var req FetchActivitiesRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	page, err := h.fetcher.FetchPage(r.Context(), req.AccessToken, req.Page, req.PerPage)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page.Raw)
}

func (h *Handler) stravaAuthorize(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	url, err := h.manager.Authorize(r.Context(), session, domain.ProviderStrava)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthorizeResponse{AuthorizeURL: url})
}

func (h *Handler) stravaSync(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req SyncRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	// A client disconnect must not abort a sync half way through a write.
	ctx := context.WithoutCancel(r.Context())
	result, notice, err := h.manager.Sync(ctx, session, domain.ProviderStrava, connection.SyncRequest{
		Page:    req.Page,
		PerPage: req.PerPage,
		Pages:   req.Pages,
	})
	if err != nil {
		writeNoticeError(w, err, notice)
		return
	}

	resp := SyncResponse{
		Activities:   toActivityViews(result.Activities),
		Degraded:     result.Degraded,
		PagesFetched: result.PagesFetched,
		Notice:       notice,
	}
	if result.FetchErr != nil {
		_, resp.Warning = classify(result.FetchErr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) garminSetup(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req GarminSetupRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	notice, err := h.manager.Connect(r.Context(), session, domain.ProviderGarmin, connection.ConnectRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeNoticeError(w, err, notice)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Success: true, Notice: notice})
}

func (h *Handler) garminSync(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req GarminSyncRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, notice, err := h.manager.Sync(r.Context(), session, domain.ProviderGarmin, connection.SyncRequest{
		NormalizedEmail: req.NormalizedEmail,
	})
	if err != nil {
		writeNoticeError(w, err, notice)
		return
	}
	writeJSON(w, http.StatusOK, GarminSyncResponse{
		Success:  true,
		Message:  "Sync process initiated. This will run in the background.",
		LastSync: result.LastSync,
		Notice:   notice,
	})
}

func (h *Handler) disconnect(provider domain.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := h.session(w, r)
		if !ok {
			return
		}
		notice, err := h.manager.Disconnect(r.Context(), session, provider)
		if err != nil {
			writeNoticeError(w, err, notice)
			return
		}
		writeJSON(w, http.StatusOK, ActionResponse{Success: true, Notice: notice})
	}
}

func (h *Handler) connections(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	providers := h.manager.Providers()
	resp := ConnectionsResponse{Connections: make([]ConnectionView, 0, len(providers))}
	for _, provider := range providers {
		resp.Connections = append(resp.Connections, toConnectionView(session, provider))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}
	activities, err := h.activities.ListActivities(r.Context(), userID)
	if err != nil {
		writeDomainError(w, domain.Persistence("list activities", err))
		return
	}
	writeJSON(w, http.StatusOK, ActivitiesResponse{Activities: toActivityViews(activities)})
}

func (h *Handler) activityStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}
	activities, err := h.activities.ListActivities(r.Context(), userID)
	if err != nil {
		writeDomainError(w, domain.Persistence("list activities", err))
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(domain.Summarize(activities)))
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}
	h.manager.Close(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*connection.Session, bool) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return nil, false
	}
	session, err := h.manager.Open(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return session, true
}

func userFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok || claims.Subject == "" {
		writeError(w, http.StatusUnauthorized, "Authentication error")
		return "", false
	}
	return claims.Subject, true
}

// decodeRequest reads an optional JSON body into req and validates it.
func decodeRequest(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return false
		}
	}
	if err := validateRequest(req); err != nil {
		writeDomainError(w, err)
		return false
	}
	return true
}
