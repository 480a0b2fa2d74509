package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/geofence"
	"github.com/safehorizon/pipeline/internal/hub"
	"github.com/safehorizon/pipeline/internal/models"
	"github.com/safehorizon/pipeline/internal/scoring"
)

// fakeStore is a minimal in-memory stand-in for internal/repository,
// grounded on the same testing shape used across this package (no live
// database needed for decision-rule coverage).
type fakeStore struct {
	open    map[string]bool
	created []*models.Alert
	samples []ScoredSample
}

func newFakeStore() *fakeStore {
	return &fakeStore{open: make(map[string]bool)}
}

func dedupKey(touristID, kind string, zoneID *string, b time.Time) string {
	z := ""
	if zoneID != nil {
		z = *zoneID
	}
	return touristID + "|" + kind + "|" + z + "|" + b.String()
}

func (s *fakeStore) OpenAlertExists(ctx context.Context, touristID, kind string, zoneID *string, b time.Time) (bool, error) {
	return s.open[dedupKey(touristID, kind, zoneID, b)], nil
}

func (s *fakeStore) CreateAlert(ctx context.Context, a *models.Alert, zoneID *string, b time.Time) (int64, error) {
	key := dedupKey(a.TouristID, a.Kind, zoneID, b)
	if s.open[key] {
		return 0, models.ErrConflict("duplicate alert")
	}
	s.open[key] = true
	a.ID = int64(len(s.created) + 1)
	s.created = append(s.created, a)
	return a.ID, nil
}

func (s *fakeStore) RecentScores(ctx context.Context, touristID string, n int) ([]float64, error) {
	return nil, nil
}

func (s *fakeStore) RecentScoredSamples(ctx context.Context, touristID string, n int) ([]ScoredSample, error) {
	return s.samples, nil
}

func newGenerator(store Store) *Generator {
	return New(store, hub.New(zap.NewNop()), zap.NewNop())
}

func TestRestrictedZoneEntryCreatesCriticalAlert(t *testing.T) {
	store := newFakeStore()
	g := newGenerator(store)

	loc := models.Location{ID: 1, TouristID: "t1", ServerIngestTime: time.Now().UTC()}
	zoneMatches := []geofence.Match{{Zone: models.Zone{ID: "z1", Type: models.ZoneRestricted, Name: "old town"}}}

	id, err := g.EvaluateAndCreate(context.Background(), loc, scoring.Result{Score: 90}, zoneMatches)
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Len(t, store.created, 1)
	assert.Equal(t, models.AlertKindGeofence, store.created[0].Kind)
	assert.Equal(t, models.SeverityCritical, store.created[0].Severity)
}

func TestRestrictedZoneEntryDedupsWithinWindow(t *testing.T) {
	store := newFakeStore()
	g := newGenerator(store)
	now := time.Now().UTC()
	zoneMatches := []geofence.Match{{Zone: models.Zone{ID: "z1", Type: models.ZoneRestricted, Name: "old town"}}}

	loc1 := models.Location{ID: 1, TouristID: "t2", ServerIngestTime: now}
	id1, err := g.EvaluateAndCreate(context.Background(), loc1, scoring.Result{Score: 90}, zoneMatches)
	require.NoError(t, err)
	require.NotZero(t, id1)

	loc2 := models.Location{ID: 2, TouristID: "t2", ServerIngestTime: now.Add(10 * time.Second)}
	id2, err := g.EvaluateAndCreate(context.Background(), loc2, scoring.Result{Score: 90}, zoneMatches)
	require.NoError(t, err)
	assert.Zero(t, id2, "second entry within the dedup window must not create a new alert")
	assert.Len(t, store.created, 1)

	loc3 := models.Location{ID: 3, TouristID: "t2", ServerIngestTime: now.Add(31 * time.Minute)}
	id3, err := g.EvaluateAndCreate(context.Background(), loc3, scoring.Result{Score: 90}, zoneMatches)
	require.NoError(t, err)
	assert.NotZero(t, id3, "a new bucket after the dedup window must create a second alert")
	assert.Len(t, store.created, 2)
}

func TestRiskyZoneEntryCreatesHighSeverityAlert(t *testing.T) {
	store := newFakeStore()
	g := newGenerator(store)
	loc := models.Location{ID: 1, TouristID: "t3", ServerIngestTime: time.Now().UTC()}
	zoneMatches := []geofence.Match{{Zone: models.Zone{ID: "z2", Type: models.ZoneRisky, Name: "market"}}}

	id, err := g.EvaluateAndCreate(context.Background(), loc, scoring.Result{Score: 90}, zoneMatches)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, models.SeverityHigh, store.created[0].Severity)
}

func TestScoreCollapseWithoutPriorHighScoreCreatesNoAlert(t *testing.T) {
	store := newFakeStore()
	store.samples = []ScoredSample{} // no sequence match
	g := newGenerator(store)
	loc := models.Location{ID: 1, TouristID: "t4", ServerIngestTime: time.Now().UTC()}

	id, err := g.EvaluateAndCreate(context.Background(), loc, scoring.Result{Score: 35}, nil)
	require.NoError(t, err)
	assert.Zero(t, id, "score collapse needs RecentScores > 60 within the last 2 samples")
}

func TestSequenceRuleFiresOnFiveLowScores(t *testing.T) {
	store := newFakeStore()
	base := time.Now().UTC().Add(-15 * time.Minute)
	store.samples = []ScoredSample{
		{Score: 45, At: base},
		{Score: 40, At: base.Add(3 * time.Minute)},
		{Score: 50, At: base.Add(6 * time.Minute)},
		{Score: 38, At: base.Add(9 * time.Minute)},
		{Score: 41, At: base.Add(12 * time.Minute)},
	}
	g := newGenerator(store)
	loc := models.Location{ID: 1, TouristID: "t5", ServerIngestTime: base.Add(12 * time.Minute)}

	id, err := g.EvaluateAndCreate(context.Background(), loc, scoring.Result{Score: 41}, nil)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, models.AlertKindSequence, store.created[0].Kind)
	assert.Equal(t, models.SeverityHigh, store.created[0].Severity)
}

func TestSequenceRuleDoesNotFireWhenSpanTooLong(t *testing.T) {
	store := newFakeStore()
	base := time.Now().UTC().Add(-40 * time.Minute)
	store.samples = []ScoredSample{
		{Score: 45, At: base},
		{Score: 40, At: base.Add(10 * time.Minute)},
		{Score: 50, At: base.Add(20 * time.Minute)},
		{Score: 38, At: base.Add(30 * time.Minute)},
		{Score: 41, At: base.Add(39 * time.Minute)},
	}
	g := newGenerator(store)
	loc := models.Location{ID: 1, TouristID: "t6", ServerIngestTime: base.Add(39 * time.Minute)}

	id, err := g.EvaluateAndCreate(context.Background(), loc, scoring.Result{Score: 41}, nil)
	require.NoError(t, err)
	assert.Zero(t, id)
}

func TestPanicAlertAlwaysCritical(t *testing.T) {
	store := newFakeStore()
	g := newGenerator(store)
	id, err := g.TriggerPanic(context.Background(), "t7", 1.0, 2.0)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, models.AlertKindPanic, store.created[0].Kind)
	assert.Equal(t, models.SeverityCritical, store.created[0].Severity)
}
