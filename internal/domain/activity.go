package domain

import (
	"sort"
	"strings"
	"time"
)

// Activity is the canonical workout record stored per user and keyed by the
// provider-assigned external ID.
type Activity struct {
	ExternalID       int64
	UserID           string
	Name             string
	Type             string
	DistanceMeters   float64
	MovingTimeSec    int
	ElapsedTimeSec   int
	ElevationGainM   float64
	StartDate        time.Time
	AverageSpeed     float64
	MaxSpeed         float64
	AverageHeartrate *float64
	MaxHeartrate     *float64
	SummaryPolyline  string
	UpdatedAt        time.Time
}

// RawActivity is a provider activity record as returned by the Strava
// /athlete/activities endpoint.
type RawActivity struct {
	ID                 int64    `json:"id"`
	Name               string   `json:"name"`
	Type               string   `json:"type"`
	SportType          string   `json:"sport_type,omitempty"`
	Distance           float64  `json:"distance"`
	MovingTime         int      `json:"moving_time"`
	ElapsedTime        int      `json:"elapsed_time"`
	TotalElevationGain float64  `json:"total_elevation_gain"`
	StartDate          string   `json:"start_date"`
	AverageSpeed       float64  `json:"average_speed"`
	MaxSpeed           float64  `json:"max_speed"`
	AverageHeartrate   *float64 `json:"average_heartrate,omitempty"`
	MaxHeartrate       *float64 `json:"max_heartrate,omitempty"`
	Map                *RawMap  `json:"map,omitempty"`
}

// RawMap carries the route summary of a RawActivity.
type RawMap struct {
	SummaryPolyline string `json:"summary_polyline"`
}

// Normalize maps the provider record onto the local schema for userID.
// An unparsable start date yields the zero time.
func (r RawActivity) Normalize(userID string) Activity {
	activityType := strings.TrimSpace(r.Type)
	if activityType == "" {
		activityType = strings.TrimSpace(r.SportType)
	}

	var polyline string
	if r.Map != nil {
		polyline = r.Map.SummaryPolyline
	}

	return Activity{
		ExternalID:       r.ID,
		UserID:           userID,
		Name:             r.Name,
		Type:             activityType,
		DistanceMeters:   r.Distance,
		MovingTimeSec:    r.MovingTime,
		ElapsedTimeSec:   r.ElapsedTime,
		ElevationGainM:   r.TotalElevationGain,
		StartDate:        parseStartDate(r.StartDate),
		AverageSpeed:     r.AverageSpeed,
		MaxSpeed:         r.MaxSpeed,
		AverageHeartrate: r.AverageHeartrate,
		MaxHeartrate:     r.MaxHeartrate,
		SummaryPolyline:  polyline,
	}
}

func parseStartDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// NormalizeAll normalizes a provider page. Duplicate external IDs collapse to
// the last occurrence, matching last-write-wins upsert semantics.
func NormalizeAll(userID string, raw []RawActivity) []Activity {
	index := make(map[int64]int, len(raw))
	out := make([]Activity, 0, len(raw))
	for _, r := range raw {
		activity := r.Normalize(userID)
		if pos, ok := index[activity.ExternalID]; ok {
			out[pos] = activity
			continue
		}
		index[activity.ExternalID] = len(out)
		out = append(out, activity)
	}
	return out
}

// SortByStartDesc orders activities newest first, breaking ties on the
// external ID so the order is stable across stores.
func SortByStartDesc(activities []Activity) {
	sort.SliceStable(activities, func(i, j int) bool {
		if !activities[i].StartDate.Equal(activities[j].StartDate) {
			return activities[i].StartDate.After(activities[j].StartDate)
		}
		return activities[i].ExternalID > activities[j].ExternalID
	})
}
