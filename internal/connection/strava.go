package connection

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/reconcile"
	"example.com/fitsync/internal/strava"
	"example.com/fitsync/internal/token"
)

// MaxSyncPages bounds the page window of a single sync.
const MaxSyncPages = 50

// OAuthClient is the Strava authorization surface.
type OAuthClient interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (strava.Grant, error)
}

// ActivityFetcher fetches one page of provider activities.
type ActivityFetcher interface {
	FetchPage(ctx context.Context, accessToken string, page, perPage int) (strava.Page, error)
}

// TokenRefresher refreshes and persists a stale token triple.
type TokenRefresher interface {
	Refresh(ctx context.Context, userID, refreshToken string) (domain.TokenTriple, error)
}

// ActivityReconciler upserts a fetched batch and returns the canonical list.
type ActivityReconciler interface {
	Reconcile(ctx context.Context, userID string, raw []domain.RawActivity) (reconcile.Result, error)
}

// StateIssuer mints the OAuth state parameter for a user.
type StateIssuer interface {
	Issue(userID string) (string, error)
}

// StravaProvider links Strava over OAuth and syncs its activities.
type StravaProvider struct {
	oauth      OAuthClient
	states     StateIssuer
	fetcher    ActivityFetcher
	refresher  TokenRefresher
	reconciler ActivityReconciler
	profiles   domain.ProfileStore
	logger     zerolog.Logger
	now        func() time.Time
}

// StravaDeps groups the collaborators of a StravaProvider.
type StravaDeps struct {
	OAuth      OAuthClient
	States     StateIssuer
	Fetcher    ActivityFetcher
	Refresher  TokenRefresher
	Reconciler ActivityReconciler
	Profiles   domain.ProfileStore
	Logger     *zerolog.Logger
}

// NewStravaProvider constructs a StravaProvider.
func NewStravaProvider(deps StravaDeps) *StravaProvider {
	logger := zerolog.Nop()
	if deps.Logger != nil {
		logger = *deps.Logger
	}
	return &StravaProvider{
		oauth:      deps.OAuth,
		states:     deps.States,
		fetcher:    deps.Fetcher,
		refresher:  deps.Refresher,
		reconciler: deps.Reconciler,
		profiles:   deps.Profiles,
		logger:     logger,
		now:        time.Now,
	}
}

// Name implements Provider.
func (p *StravaProvider) Name() domain.Provider {
	return domain.ProviderStrava
}

// AuthorizeURL builds the authorize redirect for the session owner.
func (p *StravaProvider) AuthorizeURL(s *Session) (string, error) {
	state, err := p.states.Issue(s.UserID())
	if err != nil {
		return "", err
	}
	return p.oauth.AuthCodeURL(state), nil
}

// Linked implements Provider.
func (p *StravaProvider) Linked(ctx context.Context, s *Session) (bool, error) {
	profile, err := p.profiles.GetProfile(ctx, s.UserID())
	if err != nil {
		return false, domain.Persistence("get profile", err)
	}
	s.setProfile(profile)
	return profile.StravaConnected(), nil
}

// Connect exchanges the authorization code and stores identity and tokens
// in one write. Nothing is written unless the exchange fully succeeded.
func (p *StravaProvider) Connect(ctx context.Context, s *Session, req ConnectRequest) error {
	grant, err := p.oauth.Exchange(ctx, req.Code)
	if err != nil {
		return err
	}
	if grant.Tokens.AccessToken == "" || grant.Tokens.RefreshToken == "" || grant.Athlete == nil {
		return &domain.UpstreamError{Status: http.StatusBadGateway, Message: "Invalid token response"}
	}

	if err := p.profiles.SaveStravaConnection(ctx, s.UserID(), *grant.Athlete, grant.Tokens); err != nil {
		return domain.Persistence("save strava connection", err)
	}

	athleteID := grant.Athlete.ID
	s.setProfile(&domain.UserProfile{
		UserID:          s.UserID(),
		StravaAthleteID: &athleteID,
		Tokens:          grant.Tokens,
		FirstName:       grant.Athlete.FirstName,
		LastName:        grant.Athlete.LastName,
		AvatarURL:       grant.Athlete.AvatarURL,
		UpdatedAt:       p.now().UTC(),
	})
	p.logger.Info().Str("user_id", s.UserID()).Int64("athlete_id", athleteID).Msg("strava connected")
	return nil
}

// Sync reloads the stored token triple, refreshes it when stale, fetches
// the requested page window and reconciles what was fetched. A rejected
// refresh stops before any fetch.
func (p *StravaProvider) Sync(ctx context.Context, s *Session, req SyncRequest) (SyncResult, error) {
	linked, err := p.Linked(ctx, s)
	if err != nil {
		return SyncResult{}, err
	}
	if !linked {
		return SyncResult{}, domain.ErrNotConnected
	}

	tokens := s.Profile().Tokens
	if token.IsTokenExpired(tokens.ExpiresAt, p.now()) {
		refreshed, err := p.refresher.Refresh(ctx, s.UserID(), tokens.RefreshToken)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrPersistence) && refreshed.AccessToken != "":
			p.logger.Warn().Err(err).Str("user_id", s.UserID()).Msg("continuing sync with unsaved refreshed token")
		default:
			return SyncResult{}, err
		}
		tokens = refreshed
		s.setTokens(tokens)
	}

	page, perPage, pages := pageWindow(req)
	var (
		raw      []domain.RawActivity
		fetched  int
		fetchErr error
	)
	for i := 0; i < pages; i++ {
		result, err := p.fetcher.FetchPage(ctx, tokens.AccessToken, page+i, perPage)
		if err != nil {
			if fetched == 0 {
				return SyncResult{}, err
			}
			fetchErr = err
			p.logger.Warn().Err(err).Str("user_id", s.UserID()).Int("page", page+i).Msg("page fetch failed, reconciling earlier pages")
			break
		}
		fetched++
		raw = append(raw, result.Activities...)
		if len(result.Activities) < perPage {
			break
		}
	}

	reconciled, err := p.reconciler.Reconcile(ctx, s.UserID(), raw)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{
		Activities:   reconciled.Activities,
		Degraded:     reconciled.Degraded,
		PagesFetched: fetched,
		FetchErr:     fetchErr,
	}, nil
}

// Disconnect purges the athlete ID and token triple. Activities stay.
func (p *StravaProvider) Disconnect(ctx context.Context, s *Session) error {
	if err := p.profiles.ClearStravaConnection(ctx, s.UserID()); err != nil {
		return domain.Persistence("clear strava connection", err)
	}
	s.setProfile(nil)
	return nil
}

func pageWindow(req SyncRequest) (page, perPage, pages int) {
	page, perPage, pages = req.Page, req.PerPage, req.Pages
	if page <= 0 {
		page = strava.DefaultPage
	}
	if perPage <= 0 {
		perPage = strava.DefaultPerPage
	}
	if pages <= 0 {
		pages = 1
	}
	if pages > MaxSyncPages {
		pages = MaxSyncPages
	}
	return page, perPage, pages
}
