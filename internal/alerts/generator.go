// Package alerts implements the Alert Generator of spec §4.3: an ordered
// set of decision rules, database-enforced deduplication, and Hub
// publication inside the same logical transaction as creation.
//
// Grounded conceptually on the rule-evaluation-with-cooldown shape of
// _examples/other_examples/ac646d33_..._security-monitoring.go.go, adapted
// to the spec's explicit ordered rule list and database-level dedup index
// (internal/repository's alerts_dedup_idx, resolved Open Question #2).
package alerts

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/geofence"
	"github.com/safehorizon/pipeline/internal/hub"
	"github.com/safehorizon/pipeline/internal/models"
	"github.com/safehorizon/pipeline/internal/scoring"
)

// DedupWindow is the 30-minute bucket of spec §4.3's dedup key.
const DedupWindow = 30 * time.Minute

// Store is the subset of internal/repository the Generator depends on.
type Store interface {
	OpenAlertExists(ctx context.Context, touristID, kind string, zoneID *string, bucket time.Time) (bool, error)
	CreateAlert(ctx context.Context, a *models.Alert, zoneID *string, bucket time.Time) (int64, error)
	RecentScores(ctx context.Context, touristID string, n int) ([]float64, error)
	RecentScoredSamples(ctx context.Context, touristID string, n int) ([]ScoredSample, error)
}

type Generator struct {
	store  Store
	hub    *hub.Hub
	logger *zap.Logger
}

func New(store Store, h *hub.Hub, logger *zap.Logger) *Generator {
	return &Generator{store: store, hub: h, logger: logger}
}

// bucket rounds t down to a 30-minute boundary for the dedup key.
func bucket(t time.Time) time.Time {
	return t.Truncate(DedupWindow)
}

// EvaluateAndCreate runs the spec §4.3 rules in order (Panic/SOS is handled
// separately by TriggerPanic; scoring-triggered rules run here) and creates
// at most one alert per call. Returns the created alert's id, or 0 if no
// rule matched.
func (g *Generator) EvaluateAndCreate(ctx context.Context, loc models.Location, result scoring.Result, zoneMatches []geofence.Match) (int64, error) {
	now := loc.ServerIngestTime
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Rule 2/3: geofence / risky-zone entry.
	for _, m := range zoneMatches {
		if m.Zone.Type != models.ZoneRestricted && m.Zone.Type != models.ZoneRisky {
			continue
		}
		severity := models.SeverityHigh
		if m.Zone.Type == models.ZoneRestricted {
			severity = models.SeverityCritical
		}
		zoneID := m.Zone.ID
		b := bucket(now)
		exists, err := g.store.OpenAlertExists(ctx, loc.TouristID, models.AlertKindGeofence, &zoneID, b)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		alert := &models.Alert{
			TouristID:   loc.TouristID,
			LocationID:  &loc.ID,
			Kind:        models.AlertKindGeofence,
			Severity:    severity,
			Title:       "Zone entry detected",
			Description: "Tourist entered a " + m.Zone.Type + " zone: " + m.Zone.Name,
			Metadata:    map[string]any{"zone_id": m.Zone.ID, "zone_type": m.Zone.Type},
			CreatedAt:   now,
		}
		return g.createAndPublish(ctx, alert, &zoneID, b)
	}

	// Rule 4: score collapse. The ingestor stores the current sample's score
	// before calling here, so the latest stored score is normally this
	// sample's own (<= 40 whenever the rule can fire); three are read so the
	// two samples before it are covered.
	recent, err := g.store.RecentScores(ctx, loc.TouristID, 3)
	if err != nil {
		return 0, err
	}
	prevHigh := false
	for _, s := range recent {
		if s > 60 {
			prevHigh = true
		}
	}
	if result.Score <= 40 && prevHigh {
		b := bucket(now)
		exists, err := g.store.OpenAlertExists(ctx, loc.TouristID, models.AlertKindAnomaly, nil, b)
		if err != nil {
			return 0, err
		}
		if !exists {
			alert := &models.Alert{
				TouristID:   loc.TouristID,
				LocationID:  &loc.ID,
				Kind:        models.AlertKindAnomaly,
				Severity:    severityForScore(result.Score),
				Title:       "Safety score collapse",
				Description: "Safety score dropped sharply between consecutive samples",
				Metadata:    map[string]any{"score": result.Score},
				CreatedAt:   now,
			}
			return g.createAndPublish(ctx, alert, nil, b)
		}
	}

	// Rule 5: sequence. Evaluated last among the scoring-triggered rules, per
	// spec §4.3's ordered rule list ("first matching rule wins").
	samples, err := g.store.RecentScoredSamples(ctx, loc.TouristID, 5)
	if err != nil {
		return 0, err
	}
	return g.evaluateSequence(ctx, loc.TouristID, loc.ID, samples)
}

// evaluateSequence implements rule 5: 5 consecutive samples scoring <= 50
// within a 20-minute span, with the usual 30-minute dedup window (spec
// §4.3). samples must be in chronological order (oldest first).
func (g *Generator) evaluateSequence(ctx context.Context, touristID string, locationID int64, samples []ScoredSample) (int64, error) {
	if len(samples) < 5 {
		return 0, nil
	}
	last5 := samples[len(samples)-5:]
	for _, s := range last5 {
		if s.Score > 50 {
			return 0, nil
		}
	}
	span := last5[len(last5)-1].At.Sub(last5[0].At)
	if span > 20*time.Minute {
		return 0, nil
	}
	now := last5[len(last5)-1].At
	b := bucket(now)
	exists, err := g.store.OpenAlertExists(ctx, touristID, models.AlertKindSequence, nil, b)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}
	alert := &models.Alert{
		TouristID:   touristID,
		LocationID:  &locationID,
		Kind:        models.AlertKindSequence,
		Severity:    models.SeverityHigh,
		Title:       "Sustained low safety score",
		Description: "Five consecutive samples scored at or below 50",
		CreatedAt:   now,
	}
	return g.createAndPublish(ctx, alert, nil, b)
}

// ScoredSample is a (score, timestamp) pair for sequence-rule evaluation.
type ScoredSample struct {
	Score float64
	At    time.Time
}

// TriggerPanic implements rule 1: panic/SOS alerts are only created by
// explicit tourist action, never by scoring (spec §4.3).
func (g *Generator) TriggerPanic(ctx context.Context, touristID string, lat, lon float64) (int64, error) {
	now := time.Now().UTC()
	alert := &models.Alert{
		TouristID:   touristID,
		Kind:        models.AlertKindPanic,
		Severity:    models.SeverityCritical,
		Title:       "SOS triggered",
		Description: "Tourist triggered an SOS",
		Metadata:    map[string]any{"lat": lat, "lon": lon},
		CreatedAt:   now,
	}
	return g.createAndPublish(ctx, alert, nil, bucket(now))
}

func (g *Generator) createAndPublish(ctx context.Context, alert *models.Alert, zoneID *string, b time.Time) (int64, error) {
	id, err := g.store.CreateAlert(ctx, alert, zoneID, b)
	if err != nil {
		if _, ok := err.(models.ErrConflict); ok {
			g.logger.Info("alert suppressed by dedup window", zap.String("tourist_id", alert.TouristID), zap.String("kind", alert.Kind))
			return 0, nil
		}
		return 0, err
	}
	alert.ID = id
	g.hub.Publish(hub.ChannelAlertsAuthority, "alert_created", map[string]any{"alert": alert})
	g.hub.Publish(hub.ChannelAlertsTourist(alert.TouristID), "alert_created", map[string]any{"alert": alert})
	return id, nil
}

func severityForScore(score float64) string {
	switch {
	case score < 40:
		return models.SeverityCritical
	case score < 60:
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}
