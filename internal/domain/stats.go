package domain

import (
	"math"
	"sort"
)

// Stats aggregates an activity list for the dashboard cards and the monthly chart.
type Stats struct {
	TotalActivities     int
	TotalDistanceMeters float64
	TotalMovingTimeSec  int
	TotalElevationGainM float64
	// AverageSpeedKmh is total distance over total moving time, in km/h.
	AverageSpeedKmh float64
	Monthly         []MonthlyBucket
}

// MonthlyBucket is one bar of the monthly distance chart.
type MonthlyBucket struct {
	Month      string
	DistanceKm float64
	Count      int
}

// Summarize computes Stats. Activities with a zero start date are counted in
// the totals but left out of the monthly buckets.
func Summarize(activities []Activity) Stats {
	var stats Stats
	if len(activities) == 0 {
		return stats
	}

	type bucket struct {
		distance float64
		count    int
	}
	months := make(map[string]*bucket)

	for _, a := range activities {
		stats.TotalActivities++
		stats.TotalDistanceMeters += a.DistanceMeters
		stats.TotalMovingTimeSec += a.MovingTimeSec
		stats.TotalElevationGainM += a.ElevationGainM

		if a.StartDate.IsZero() {
			continue
		}
		key := a.StartDate.UTC().Format("2006-01")
		b, ok := months[key]
		if !ok {
			b = &bucket{}
			months[key] = b
		}
		b.distance += a.DistanceMeters / 1000
		b.count++
	}

	if stats.TotalMovingTimeSec > 0 {
		stats.AverageSpeedKmh = stats.TotalDistanceMeters / float64(stats.TotalMovingTimeSec) * 3.6
	}

	stats.Monthly = make([]MonthlyBucket, 0, len(months))
	for key, b := range months {
		stats.Monthly = append(stats.Monthly, MonthlyBucket{
			Month:      key,
			DistanceKm: math.Round(b.distance*10) / 10,
			Count:      b.count,
		})
	}
	sort.Slice(stats.Monthly, func(i, j int) bool {
		return stats.Monthly[i].Month < stats.Monthly[j].Month
	})
	return stats
}
