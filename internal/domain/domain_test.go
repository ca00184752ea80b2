package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMapsProviderFields(t *testing.T) {
	body := []byte(`{
		"id": 12345,
		"name": "Morning Run",
		"type": "Run",
		"distance": 10012.5,
		"moving_time": 3000,
		"elapsed_time": 3100,
		"total_elevation_gain": 54.2,
		"start_date": "2024-05-01T06:30:00Z",
		"average_speed": 3.3,
		"max_speed": 5.1,
		"average_heartrate": 151.2,
		"map": {"summary_polyline": "abc~def"}
	}`)
	var raw RawActivity
	require.NoError(t, json.Unmarshal(body, &raw))

	activity := raw.Normalize("user-1")
	require.Equal(t, int64(12345), activity.ExternalID)
	require.Equal(t, "user-1", activity.UserID)
	require.Equal(t, "Morning Run", activity.Name)
	require.Equal(t, "Run", activity.Type)
	require.Equal(t, 3000, activity.MovingTimeSec)
	require.Equal(t, 3100, activity.ElapsedTimeSec)
	require.InDelta(t, 54.2, activity.ElevationGainM, 0.001)
	require.Equal(t, time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC), activity.StartDate)
	require.NotNil(t, activity.AverageHeartrate)
	require.InDelta(t, 151.2, *activity.AverageHeartrate, 0.001)
	require.Nil(t, activity.MaxHeartrate)
	require.Equal(t, "abc~def", activity.SummaryPolyline)
}

func TestNormalizeDefaults(t *testing.T) {
	activity := RawActivity{ID: 7, SportType: "TrailRun", StartDate: "yesterday"}.Normalize("u")
	require.Equal(t, "TrailRun", activity.Type)
	require.True(t, activity.StartDate.IsZero())
	require.Empty(t, activity.SummaryPolyline)
}

func TestNormalizeAllKeepsLastDuplicate(t *testing.T) {
	out := NormalizeAll("u", []RawActivity{
		{ID: 1, Name: "first"},
		{ID: 2, Name: "other"},
		{ID: 1, Name: "second"},
	})
	require.Len(t, out, 2)
	require.Equal(t, "second", out[0].Name)
	require.Equal(t, "other", out[1].Name)
}

func TestSortByStartDesc(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	activities := []Activity{
		{ExternalID: 1, StartDate: base},
		{ExternalID: 3, StartDate: base.Add(time.Hour)},
		{ExternalID: 2, StartDate: base},
	}
	SortByStartDesc(activities)
	require.Equal(t, []int64{3, 2, 1}, []int64{activities[0].ExternalID, activities[1].ExternalID, activities[2].ExternalID})
}

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "janedoeexamplecom", NormalizeEmail(" Jane.Doe@Example.com "))
}

func TestConnectionStateTransitions(t *testing.T) {
	cases := []struct {
		from, to ConnectionState
		ok       bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateSyncing, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnected, StateSyncing, true},
		{StateConnected, StateDisconnected, true},
		{StateSyncing, StateConnected, true},
		{StateSyncing, StateDisconnected, false},
	}
	for _, tc := range cases {
		next, err := tc.from.Transition(tc.to)
		if tc.ok {
			require.NoError(t, err, "%s -> %s", tc.from, tc.to)
			require.Equal(t, tc.to, next)
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
			require.Equal(t, tc.from, next)
		}
	}
}

func TestErrorHelpers(t *testing.T) {
	cause := errors.New("connection reset")
	err := Persistence("upsert activities", cause)
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, cause)
	require.Nil(t, Persistence("noop", nil))

	upstream := &UpstreamError{Status: 401, Message: "Authorization Error"}
	refresh := RefreshFailed(upstream)
	require.ErrorIs(t, refresh, ErrTokenRefreshFailed)
	var target *UpstreamError
	require.ErrorAs(t, refresh, &target)
	require.Equal(t, 401, target.HTTPStatus())
	require.Equal(t, 502, (&UpstreamError{}).HTTPStatus())

	var verr *ValidationError
	require.ErrorAs(t, NewValidationError("code", "code is required"), &verr)
	require.Equal(t, "code", verr.Field)
}

func TestSummarize(t *testing.T) {
	activities := []Activity{
		{DistanceMeters: 10000, MovingTimeSec: 3600, ElevationGainM: 100, StartDate: time.Date(2024, 2, 3, 8, 0, 0, 0, time.UTC)},
		{DistanceMeters: 5060, MovingTimeSec: 1800, ElevationGainM: 20, StartDate: time.Date(2024, 2, 20, 8, 0, 0, 0, time.UTC)},
		{DistanceMeters: 20000, MovingTimeSec: 3600, ElevationGainM: 0, StartDate: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)},
	}
	stats := Summarize(activities)
	require.Equal(t, 3, stats.TotalActivities)
	require.InDelta(t, 35060, stats.TotalDistanceMeters, 0.001)
	require.Equal(t, 9000, stats.TotalMovingTimeSec)
	require.InDelta(t, 120, stats.TotalElevationGainM, 0.001)
	require.InDelta(t, 35060.0/9000.0*3.6, stats.AverageSpeedKmh, 0.0001)
	require.Equal(t, []MonthlyBucket{
		{Month: "2024-01", DistanceKm: 20, Count: 1},
		{Month: "2024-02", DistanceKm: 15.1, Count: 2},
	}, stats.Monthly)

	empty := Summarize(nil)
	require.Zero(t, empty.TotalActivities)
	require.Zero(t, empty.AverageSpeedKmh)
}
