package api

import (
	"time"

	"example.com/fitsync/internal/connection"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/strava"
)

// ExchangeRequest is the payload for POST /v1/strava/exchange.
type ExchangeRequest struct {
	Code string `json:"code" validate:"required"`
}

// RefreshRequest is the payload for POST /v1/strava/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// FetchActivitiesRequest is the payload for POST /v1/strava/activities.
type FetchActivitiesRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
	Page        int    `json:"page" validate:"gte=0"`
	PerPage     int    `json:"per_page" validate:"gte=0,lte=200"`
}

// SyncRequest is the payload for POST /v1/strava/sync.
type SyncRequest struct {
	Page    int `json:"page" validate:"gte=0"`
	PerPage int `json:"per_page" validate:"gte=0,lte=200"`
	Pages   int `json:"pages" validate:"gte=0,lte=50"`
}

// GarminSetupRequest is the payload for POST /v1/garmin/setup.
// NormalizedEmail is accepted for compatibility and recomputed server side.
type GarminSetupRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	NormalizedEmail string `json:"normalized_email,omitempty"`
}

// GarminSyncRequest is the payload for POST /v1/garmin/sync.
type GarminSyncRequest struct {
	NormalizedEmail string `json:"normalized_email" validate:"required"`
}

// AthleteView is the athlete block of a token response.
type AthleteView struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Profile   string `json:"profile,omitempty"`
}

// GrantView mirrors the Strava token endpoint response.
type GrantView struct {
	TokenType    string       `json:"token_type,omitempty"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    int64        `json:"expires_at"`
	ExpiresIn    int64        `json:"expires_in,omitempty"`
	Athlete      *AthleteView `json:"athlete,omitempty"`
}

func toGrantView(grant strava.Grant) GrantView {
	view := GrantView{
		TokenType:    grant.TokenType,
		AccessToken:  grant.Tokens.AccessToken,
		RefreshToken: grant.Tokens.RefreshToken,
		ExpiresAt:    grant.Tokens.ExpiresAt,
		ExpiresIn:    grant.ExpiresIn,
	}
	if grant.Athlete != nil {
		view.Athlete = &AthleteView{
			ID:        grant.Athlete.ID,
			FirstName: grant.Athlete.FirstName,
			LastName:  grant.Athlete.LastName,
			Profile:   grant.Athlete.AvatarURL,
		}
	}
	return view
}

// ActivityView is one stored activity in Strava field naming.
type ActivityView struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	Distance           float64    `json:"distance"`
	MovingTime         int        `json:"moving_time"`
	ElapsedTime        int        `json:"elapsed_time"`
	TotalElevationGain float64    `json:"total_elevation_gain"`
	StartDate          *time.Time `json:"start_date"`
	AverageSpeed       float64    `json:"average_speed"`
	MaxSpeed           float64    `json:"max_speed"`
	AverageHeartrate   *float64   `json:"average_heartrate,omitempty"`
	MaxHeartrate       *float64   `json:"max_heartrate,omitempty"`
	SummaryPolyline    string     `json:"summary_polyline,omitempty"`
}

func toActivityViews(activities []domain.Activity) []ActivityView {
	out := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		view := ActivityView{
			ID:                 a.ExternalID,
			Name:               a.Name,
			Type:               a.Type,
			Distance:           a.DistanceMeters,
			MovingTime:         a.MovingTimeSec,
			ElapsedTime:        a.ElapsedTimeSec,
			TotalElevationGain: a.ElevationGainM,
			AverageSpeed:       a.AverageSpeed,
			MaxSpeed:           a.MaxSpeed,
			AverageHeartrate:   a.AverageHeartrate,
			MaxHeartrate:       a.MaxHeartrate,
			SummaryPolyline:    a.SummaryPolyline,
		}
		if !a.StartDate.IsZero() {
			start := a.StartDate
			view.StartDate = &start
		}
		out = append(out, view)
	}
	return out
}

// ActivitiesResponse lists stored activities.
type ActivitiesResponse struct {
	Activities []ActivityView `json:"activities"`
}

// SyncResponse is returned by POST /v1/strava/sync.
type SyncResponse struct {
	Activities   []ActivityView    `json:"activities"`
	Degraded     bool              `json:"degraded"`
	PagesFetched int               `json:"pages_fetched"`
	Warning      string            `json:"warning,omitempty"`
	Notice       connection.Notice `json:"notice"`
}

// GarminSyncResponse is returned by POST /v1/garmin/sync.
type GarminSyncResponse struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
	LastSync *time.Time        `json:"last_sync,omitempty"`
	Notice   connection.Notice `json:"notice"`
}

// ActionResponse is returned by connect and disconnect actions.
type ActionResponse struct {
	Success bool              `json:"success"`
	Notice  connection.Notice `json:"notice"`
}

// ErrorResponse is the body of a failed request. Notice is set for
// connection actions.
type ErrorResponse struct {
	Error  string             `json:"error"`
	Notice *connection.Notice `json:"notice,omitempty"`
}

// AuthorizeResponse carries the provider redirect.
type AuthorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// ConnectionView is one provider's state for the caller.
type ConnectionView struct {
	Provider  string     `json:"provider"`
	State     string     `json:"state"`
	AthleteID *int64     `json:"athlete_id,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	AvatarURL string     `json:"avatar_url,omitempty"`
	Email     string     `json:"email,omitempty"`
	LastSync  *time.Time `json:"last_sync,omitempty"`
}

// ConnectionsResponse lists every provider for the caller.
type ConnectionsResponse struct {
	Connections []ConnectionView `json:"connections"`
}

func toConnectionView(s *connection.Session, provider domain.Provider) ConnectionView {
	view := ConnectionView{Provider: string(provider), State: string(s.State(provider))}
	switch provider {
	case domain.ProviderStrava:
		if profile := s.Profile(); profile.StravaConnected() {
			view.AthleteID = profile.StravaAthleteID
			view.FirstName = profile.FirstName
			view.LastName = profile.LastName
			view.AvatarURL = profile.AvatarURL
		}
	case domain.ProviderGarmin:
		if credential := s.Credential(); credential != nil {
			view.Email = credential.Email
			view.LastSync = credential.LastSync
		}
	}
	return view
}

// MonthlyView is one bar of the monthly distance chart.
type MonthlyView struct {
	Month      string  `json:"month"`
	DistanceKm float64 `json:"distance_km"`
	Count      int     `json:"count"`
}

// StatsResponse carries the dashboard aggregates.
type StatsResponse struct {
	TotalActivities     int           `json:"total_activities"`
	TotalDistanceMeters float64       `json:"total_distance_m"`
	TotalMovingTimeSec  int           `json:"total_moving_time_s"`
	TotalElevationGainM float64       `json:"total_elevation_gain_m"`
	AverageSpeedKmh     float64       `json:"average_speed_kmh"`
	Monthly             []MonthlyView `json:"monthly"`
}

func toStatsResponse(stats domain.Stats) StatsResponse {
	resp := StatsResponse{
		TotalActivities:     stats.TotalActivities,
		TotalDistanceMeters: stats.TotalDistanceMeters,
		TotalMovingTimeSec:  stats.TotalMovingTimeSec,
		TotalElevationGainM: stats.TotalElevationGainM,
		AverageSpeedKmh:     stats.AverageSpeedKmh,
		Monthly:             make([]MonthlyView, 0, len(stats.Monthly)),
	}
	for _, m := range stats.Monthly {
		resp.Monthly = append(resp.Monthly, MonthlyView{Month: m.Month, DistanceKm: m.DistanceKm, Count: m.Count})
	}
	return resp
}
