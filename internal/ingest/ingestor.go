// Package ingest implements the Location Ingestor of spec §4.4: the single
// public ingest() operation that persists a sample, invokes the Scoring
// Engine, blends the tourist's rolling score, and invokes the Alert
// Generator.
//
// Grounded on the teacher's internal/services/tracking.go
// (ProcessBatchLocations's goroutine-parallel validation shape), restructured
// from a batch operation to the spec's per-sample call with an in-memory
// collapse window replacing the teacher's batching.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/alerts"
	"github.com/safehorizon/pipeline/internal/geofence"
	"github.com/safehorizon/pipeline/internal/models"
	"github.com/safehorizon/pipeline/internal/scoring"
)

// Store is the subset of internal/repository the Ingestor depends on.
type Store interface {
	SaveLocation(ctx context.Context, loc *models.Location) (id int64, inserted bool, err error)
	SetLocationScore(ctx context.Context, locationID int64, score float64) error
	GetTourist(ctx context.Context, id string) (*models.Tourist, error)
	UpdateTouristRollingState(ctx context.Context, touristID string, newScore, lat, lon float64, seenAt time.Time) (float64, error)
	RecentSpeeds(ctx context.Context, touristID string) ([]float64, error)
	NearbyTouristCount(ctx context.Context, lat, lon float64, excludeTouristID string) (int, error)
	NearbyAlerts(ctx context.Context, lat, lon float64, since time.Time, radiusKM float64) ([]models.Alert, error)
	HistoricalAlertCount1km(ctx context.Context, lat, lon float64) (int, error)
	RecentScores(ctx context.Context, touristID string, n int) ([]float64, error)
}

// Result is the spec §4.4 ingest_result.
type Result struct {
	LocationID     int64
	SafetyScore    float64
	RiskLevel      string
	AlertTriggered bool
	AlertID        int64
}

type Ingestor struct {
	store       Store
	geofenceIdx *geofence.Index
	generator   *alerts.Generator
	logger      *zap.Logger

	// collapse implements the 2s idempotence window of spec §4.4 "Rate
	// control" in memory, ahead of the database's own unique-index-backed
	// collapse (SaveLocation's ON CONFLICT), so a rapid re-post doesn't even
	// re-run the scoring/alert pipeline.
	collapseMu sync.Mutex
	lastPost   map[string]collapseEntry
}

type collapseEntry struct {
	clientTS time.Time
	postedAt time.Time
	result   Result
}

func New(store Store, idx *geofence.Index, generator *alerts.Generator, logger *zap.Logger) *Ingestor {
	return &Ingestor{store: store, geofenceIdx: idx, generator: generator, logger: logger, lastPost: make(map[string]collapseEntry)}
}

// Ingest implements the spec §4.4 contract. Pre-condition: the tourist
// exists and is active; callers (HTTP handlers) are expected to have
// resolved the tourist from an authenticated token before calling this.
func (ig *Ingestor) Ingest(ctx context.Context, touristID string, sample models.Location) (Result, error) {
	sample.TouristID = touristID
	if err := sample.Validate(); err != nil {
		return Result{}, err
	}
	if sample.ServerIngestTime.IsZero() {
		sample.ServerIngestTime = time.Now().UTC()
	}

	if cached, ok := ig.checkCollapse(touristID, sample.ClientTimestamp); ok {
		return cached, nil
	}

	tourist, err := ig.store.GetTourist(ctx, touristID)
	if err != nil {
		return Result{}, err
	}
	if !tourist.IsActive {
		return Result{}, models.ErrConflict("tourist is deactivated")
	}

	locID, _, err := ig.store.SaveLocation(ctx, &sample)
	if err != nil {
		return Result{}, err
	}
	sample.ID = locID

	result := ig.computeScore(ctx, tourist, sample)

	// Scoring failure is non-fatal in spirit (spec §4.4 "Failures"); here
	// computeScore cannot itself fail (pure function), but persisting the
	// score or running the alert generator can — those errors are logged,
	// not propagated, so the row stands with whatever score was computed.
	if err := ig.store.SetLocationScore(ctx, locID, result.Score); err != nil {
		ig.logger.Error("failed to persist computed safety score", zap.Error(err), zap.Int64("location_id", locID))
	}

	blended, err := ig.store.UpdateTouristRollingState(ctx, touristID, result.Score, sample.Latitude, sample.Longitude, sample.ServerIngestTime)
	if err != nil {
		ig.logger.Error("failed to update tourist rolling state", zap.Error(err), zap.String("tourist_id", touristID))
		blended = result.Score
	}

	out := Result{LocationID: locID, SafetyScore: blended, RiskLevel: result.RiskLevel}

	zoneMatches := ig.geofenceIdx.Contains(sample.Latitude, sample.Longitude)
	alertID, err := ig.generator.EvaluateAndCreate(ctx, sample, result, zoneMatches)
	if err != nil {
		ig.logger.Error("alert generator failed", zap.Error(err), zap.String("tourist_id", touristID))
	} else if alertID != 0 {
		out.AlertTriggered = true
		out.AlertID = alertID
	}

	ig.storeCollapse(touristID, sample.ClientTimestamp, out)
	return out, nil
}

// computeScore assembles the Scoring Engine's Input from repository reads
// and invokes the pure Score function (spec §4.2).
func (ig *Ingestor) computeScore(ctx context.Context, tourist *models.Tourist, sample models.Location) scoring.Result {
	nearbyAlerts, err := ig.store.NearbyAlerts(ctx, sample.Latitude, sample.Longitude, sample.ServerIngestTime.Add(-6*time.Hour), 2)
	if err != nil {
		ig.logger.Warn("nearby alerts query failed, treating as zero", zap.Error(err))
	}
	historical, err := ig.store.HistoricalAlertCount1km(ctx, sample.Latitude, sample.Longitude)
	if err != nil {
		ig.logger.Warn("historical alert count query failed, treating as zero", zap.Error(err))
	}
	crowd, err := ig.store.NearbyTouristCount(ctx, sample.Latitude, sample.Longitude, tourist.ID)
	if err != nil {
		ig.logger.Warn("nearby tourist count query failed, treating as zero", zap.Error(err))
	}
	recentSpeeds, err := ig.store.RecentSpeeds(ctx, tourist.ID)
	if err != nil {
		ig.logger.Warn("recent speeds query failed, treating as no history", zap.Error(err))
	}

	return scoring.Score(scoring.Input{
		TouristID:           tourist.ID,
		Lat:                 sample.Latitude,
		Lon:                 sample.Longitude,
		Speed:               sample.Speed,
		ClientTime:          sample.ClientTimestamp,
		ServerTime:          sample.ServerIngestTime,
		Timezone:            touristTimezone(tourist.Timezone, ig.logger),
		NearbyAlerts:        nearbyAlerts,
		HistoricalAlerts1km: historical,
		NearbyTouristCount:  crowd,
		RecentSpeeds:        recentSpeeds,
		GeofenceIdx:         ig.geofenceIdx,
	})
}

// touristTimezone resolves the tourist's stored IANA zone name to a
// *time.Location for the Scoring Engine's time-of-day factor (spec §4.2).
// An empty or unrecognized zone falls back to UTC rather than failing the
// ingest.
func touristTimezone(name string, logger *zap.Logger) *time.Location {
	if name == "" || name == "UTC" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("unknown tourist timezone, falling back to UTC", zap.String("timezone", name), zap.Error(err))
		return time.UTC
	}
	return loc
}

func (ig *Ingestor) checkCollapse(touristID string, clientTS time.Time) (Result, bool) {
	ig.collapseMu.Lock()
	defer ig.collapseMu.Unlock()
	entry, ok := ig.lastPost[touristID]
	if !ok {
		return Result{}, false
	}
	if entry.clientTS.Equal(clientTS) && time.Since(entry.postedAt) < 2*time.Second {
		return entry.result, true
	}
	return Result{}, false
}

func (ig *Ingestor) storeCollapse(touristID string, clientTS time.Time, result Result) {
	ig.collapseMu.Lock()
	defer ig.collapseMu.Unlock()
	ig.lastPost[touristID] = collapseEntry{clientTS: clientTS, postedAt: time.Now(), result: result}
}
