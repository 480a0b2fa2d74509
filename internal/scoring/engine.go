// Package scoring implements the six-factor weighted safety score of spec
// §4.2. The Engine is a pure function of its inputs plus read-only views
// injected by the caller (internal/ingest); it never mutates persistent
// state, mirroring the teacher's separation of computation from I/O in
// services.TrackingService.ProcessBatchLocations.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/safehorizon/pipeline/internal/geofence"
	"github.com/safehorizon/pipeline/internal/models"
)

// Risk levels (spec §4.2).
const (
	RiskCritical = "critical"
	RiskHigh     = "high"
	RiskMedium   = "medium"
	RiskLow      = "low"
)

// Weights exactly as spec §4.2's table.
const (
	weightNearbyAlerts  = 0.30
	weightZoneRisk      = 0.25
	weightTimeOfDay     = 0.15
	weightCrowdDensity  = 0.10
	weightSpeedAnomaly  = 0.10
	weightHistorical    = 0.10
)

// Input bundles the read-only views the Engine needs. All slices are
// expected to be pre-filtered by the caller's repository queries (e.g.
// NearbyAlerts already restricted to the 6 h / 2 km window of spec §4.2).
type Input struct {
	TouristID    string
	Lat, Lon     float64
	Speed        *float64 // meters/second, nil if unknown
	ClientTime   time.Time
	ServerTime   time.Time
	Timezone     *time.Location

	NearbyAlerts      []models.Alert // created_at >= now-6h, within 2km
	HistoricalAlerts1km int          // count of all alerts ever within 1km
	NearbyTouristCount  int          // distinct tourists last_seen>=now-15m within 1km
	RecentSpeeds        []float64    // last up to 10 samples for this tourist, m/s

	GeofenceIdx *geofence.Index
}

// FactorBreakdown reports each factor's 0..100 sub-score for observability
// and the recommendations payload (spec §4.2 "factor_breakdown").
type FactorBreakdown struct {
	NearbyAlerts float64
	ZoneRisk     float64
	TimeOfDay    float64
	CrowdDensity float64
	SpeedAnomaly float64
	Historical   float64
}

type Result struct {
	Score           float64
	RiskLevel       string
	Factors         FactorBreakdown
	Recommendations []string
}

// Score implements spec §4.2's `score(...)` contract.
func Score(in Input) Result {
	f := FactorBreakdown{
		NearbyAlerts: nearbyAlertsFactor(in.NearbyAlerts),
		ZoneRisk:     zoneRiskFactor(in),
		TimeOfDay:    timeOfDayFactor(in),
		CrowdDensity: crowdDensityFactor(in.NearbyTouristCount),
		SpeedAnomaly: speedAnomalyFactor(in.Speed, in.RecentSpeeds),
		Historical:   historicalRiskFactor(in.HistoricalAlerts1km),
	}

	weighted := weightNearbyAlerts*f.NearbyAlerts +
		weightZoneRisk*f.ZoneRisk +
		weightTimeOfDay*f.TimeOfDay +
		weightCrowdDensity*f.CrowdDensity +
		weightSpeedAnomaly*f.SpeedAnomaly +
		weightHistorical*f.Historical

	score := math.Round(weighted)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Result{
		Score:           score,
		RiskLevel:       riskLevel(score),
		Factors:         f,
		Recommendations: recommendations(f),
	}
}

// riskLevel applies spec §4.2's bands with a strict "<" upper bound per
// band, so each boundary value belongs to the higher band (a score of
// exactly 40.0 is high, not critical).
func riskLevel(score float64) string {
	switch {
	case score < 40:
		return RiskCritical
	case score < 60:
		return RiskHigh
	case score < 80:
		return RiskMedium
	default:
		return RiskLow
	}
}

func nearbyAlertsFactor(alerts []models.Alert) float64 {
	weighted := 0
	for _, a := range alerts {
		weighted += models.SeverityWeight(a.Severity)
	}
	score := 100 - 15*float64(weighted)
	if score < 0 {
		score = 0
	}
	return score
}

// zoneRiskFactor uses the Geofence Index: inside restricted=0, risky=40,
// safe=100; outside, interpolate by distance to nearest restricted/risky
// zone, saturating to 90 at >=500m (spec §4.2).
func zoneRiskFactor(in Input) float64 {
	if in.GeofenceIdx == nil {
		return 90
	}
	matches := in.GeofenceIdx.Contains(in.Lat, in.Lon)
	worst := -1.0
	for _, m := range matches {
		var v float64
		switch m.Zone.Type {
		case models.ZoneRestricted:
			v = 0
		case models.ZoneRisky:
			v = 40
		case models.ZoneSafe:
			v = 100
		}
		if worst < 0 || v < worst {
			worst = v
		}
	}
	if worst >= 0 {
		return worst
	}
	// outside every zone: interpolate by distance to nearest risky/restricted zone.
	dist, found := in.GeofenceIdx.NearestRiskDistanceM(in.Lat, in.Lon)
	if !found {
		return 90
	}
	if dist >= 500 {
		return 90
	}
	// linear interpolation from 40 (at the boundary) up to 90 (at 500m).
	return 40 + (dist/500)*50
}

// timeOfDayFactor uses the tourist's local hour; falls back to server time
// when the client clock has skewed more than 5 minutes (spec §4.2 "Clock skew").
func timeOfDayFactor(in Input) float64 {
	t := in.ClientTime
	delta := in.ServerTime.Sub(in.ClientTime)
	if delta < 0 {
		delta = -delta
	}
	if delta > 5*time.Minute {
		t = in.ServerTime
	}
	loc := in.Timezone
	if loc == nil {
		loc = time.UTC
	}
	hour := t.In(loc).Hour()
	switch {
	case hour >= 22 || hour < 6:
		return 50
	case hour >= 6 && hour < 9, hour >= 18 && hour < 22:
		return 75
	default:
		return 95
	}
}

func crowdDensityFactor(count int) float64 {
	switch {
	case count == 0:
		return 50
	case count <= 3:
		return 70
	case count <= 10:
		return 85
	default:
		return 95
	}
}

// speedAnomalyFactor compares the current speed to the median of the last
// up-to-10 samples via a z-score-like deviation (spec §4.2). Missing speed
// or no prior samples is neutral (90), per §4.2's tie-break rules. When the
// prior samples have no spread, matching the median scores 95 and any other
// speed counts as the largest deviation (40).
func speedAnomalyFactor(speed *float64, recent []float64) float64 {
	if speed == nil || len(recent) == 0 {
		return 90
	}
	median := medianOf(recent)
	stddev := stddevOf(recent, median)
	if stddev == 0 {
		if *speed == median {
			return 95
		}
		return 40
	}
	z := math.Abs(*speed-median) / stddev
	switch {
	case z > 3:
		return 40
	case z > 2:
		return 60
	case z > 1:
		return 80
	default:
		return 95
	}
}

func medianOf(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

func historicalRiskFactor(count int) float64 {
	if count > 30 {
		count = 30
	}
	score := 100 - 2*float64(count)
	if score < 40 {
		score = 40
	}
	return score
}

// recommendations emits canonical strings for factors scoring below 70, in
// deterministic (factor-table) order (spec §4.2).
func recommendations(f FactorBreakdown) []string {
	var out []string
	if f.NearbyAlerts < 70 {
		out = append(out, "avoid_area_recent_alerts")
	}
	if f.ZoneRisk < 70 {
		out = append(out, "leave_risky_zone")
	}
	if f.TimeOfDay < 70 {
		out = append(out, "exercise_caution_at_night")
	}
	if f.CrowdDensity < 70 {
		out = append(out, "travel_with_companions")
	}
	if f.SpeedAnomaly < 70 {
		out = append(out, "unusual_movement_detected")
	}
	if f.Historical < 70 {
		out = append(out, "historically_risky_area")
	}
	return out
}
