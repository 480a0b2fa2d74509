package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/safehorizon/pipeline/internal/models"
)

func baseInput() Input {
	now := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	return Input{
		TouristID:  "t1",
		Lat:        12.97,
		Lon:        77.59,
		ClientTime: now,
		ServerTime: now,
	}
}

func TestScoreWithNoSignalsIsNearPerfect(t *testing.T) {
	result := Score(baseInput())
	assert.Equal(t, RiskLow, result.RiskLevel)
	assert.GreaterOrEqual(t, result.Score, 80.0)
	// zero nearby tourists scores crowd density 50, the only factor below 70.
	assert.Equal(t, []string{"travel_with_companions"}, result.Recommendations)
}

func TestScoreClampsToZeroAndOneHundred(t *testing.T) {
	in := baseInput()
	in.NearbyAlerts = []models.Alert{
		{Severity: models.SeverityCritical}, {Severity: models.SeverityCritical},
		{Severity: models.SeverityCritical}, {Severity: models.SeverityCritical},
		{Severity: models.SeverityCritical},
	}
	in.HistoricalAlerts1km = 100
	result := Score(in)
	assert.GreaterOrEqual(t, result.Score, 0.0)
	assert.LessOrEqual(t, result.Score, 100.0)
}

func TestRiskLevelBandBoundaries(t *testing.T) {
	assert.Equal(t, RiskCritical, riskLevel(0))
	assert.Equal(t, RiskCritical, riskLevel(39.9))
	assert.Equal(t, RiskHigh, riskLevel(40))
	assert.Equal(t, RiskHigh, riskLevel(59.9))
	assert.Equal(t, RiskMedium, riskLevel(60))
	assert.Equal(t, RiskMedium, riskLevel(79.9))
	assert.Equal(t, RiskLow, riskLevel(80))
	assert.Equal(t, RiskLow, riskLevel(100))
}

func TestNearbyAlertsFactorDecaysWithSeverity(t *testing.T) {
	none := nearbyAlertsFactor(nil)
	assert.Equal(t, 100.0, none)

	oneCritical := nearbyAlertsFactor([]models.Alert{{Severity: models.SeverityCritical}})
	assert.Equal(t, 40.0, oneCritical)

	manyCritical := nearbyAlertsFactor([]models.Alert{
		{Severity: models.SeverityCritical}, {Severity: models.SeverityCritical},
		{Severity: models.SeverityCritical}, {Severity: models.SeverityCritical},
		{Severity: models.SeverityCritical}, {Severity: models.SeverityCritical},
		{Severity: models.SeverityCritical},
	})
	assert.Equal(t, 0.0, manyCritical)
}

func TestZoneRiskFactorWithNoIndexIsNeutral(t *testing.T) {
	in := baseInput()
	in.GeofenceIdx = nil
	assert.Equal(t, 90.0, zoneRiskFactor(in))
}

func TestTimeOfDayFactorBands(t *testing.T) {
	in := baseInput()

	in.ClientTime = time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	in.ServerTime = in.ClientTime
	assert.Equal(t, 50.0, timeOfDayFactor(in))

	in.ClientTime = time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC)
	in.ServerTime = in.ClientTime
	assert.Equal(t, 75.0, timeOfDayFactor(in))

	in.ClientTime = time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	in.ServerTime = in.ClientTime
	assert.Equal(t, 95.0, timeOfDayFactor(in))
}

func TestTimeOfDayFactorFallsBackToServerTimeOnSkew(t *testing.T) {
	in := baseInput()
	in.ClientTime = time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC) // would be 95 on its own
	in.ServerTime = time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)  // 9h skew, way past tolerance
	assert.Equal(t, 50.0, timeOfDayFactor(in))
}

func TestCrowdDensityFactorBands(t *testing.T) {
	assert.Equal(t, 50.0, crowdDensityFactor(0))
	assert.Equal(t, 70.0, crowdDensityFactor(2))
	assert.Equal(t, 85.0, crowdDensityFactor(7))
	assert.Equal(t, 95.0, crowdDensityFactor(20))
}

func TestSpeedAnomalyFactorNeutralWithoutData(t *testing.T) {
	assert.Equal(t, 90.0, speedAnomalyFactor(nil, []float64{1, 2, 3}))
	speed := 5.0
	assert.Equal(t, 90.0, speedAnomalyFactor(&speed, nil))
}

func TestSpeedAnomalyFactorFlagsOutliers(t *testing.T) {
	recent := []float64{1, 1, 1, 1, 1}
	normal := 1.0
	assert.Equal(t, 95.0, speedAnomalyFactor(&normal, recent))

	spike := 50.0
	assert.Equal(t, 40.0, speedAnomalyFactor(&spike, recent))
}

func TestHistoricalRiskFactorFloorsAtForty(t *testing.T) {
	assert.Equal(t, 100.0, historicalRiskFactor(0))
	assert.Equal(t, 40.0, historicalRiskFactor(30))
	assert.Equal(t, 40.0, historicalRiskFactor(1000))
}

func TestRecommendationsOrderMatchesFactorTable(t *testing.T) {
	f := FactorBreakdown{
		NearbyAlerts: 10,
		ZoneRisk:     10,
		TimeOfDay:    10,
		CrowdDensity: 10,
		SpeedAnomaly: 10,
		Historical:   10,
	}
	got := recommendations(f)
	assert.Equal(t, []string{
		"avoid_area_recent_alerts",
		"leave_risky_zone",
		"exercise_caution_at_night",
		"travel_with_companions",
		"unusual_movement_detected",
		"historically_risky_area",
	}, got)
}

func TestRecommendationsEmptyWhenAllFactorsHealthy(t *testing.T) {
	f := FactorBreakdown{
		NearbyAlerts: 100, ZoneRisk: 100, TimeOfDay: 95,
		CrowdDensity: 95, SpeedAnomaly: 95, Historical: 100,
	}
	assert.Empty(t, recommendations(f))
}
