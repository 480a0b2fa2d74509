package geofence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/models"
)

type fakeZoneStore struct {
	zones []models.Zone
	err   error
}

func (f *fakeZoneStore) ListActiveZones(ctx context.Context) ([]models.Zone, error) {
	return f.zones, f.err
}

func radiusZone(id string, lat, lon, radiusM float64, typ string) models.Zone {
	return models.Zone{ID: id, Name: id, Type: typ, CenterLat: lat, CenterLon: lon, RadiusM: &radiusM, IsActive: true}
}

func TestIndexContainsDiskZone(t *testing.T) {
	store := &fakeZoneStore{zones: []models.Zone{radiusZone("z1", 12.97, 77.59, 500, models.ZoneRisky)}}
	idx := New(store, zap.NewNop(), 0)
	require.NoError(t, idx.Refresh(context.Background()))

	matches := idx.Contains(12.97, 77.59)
	require.Len(t, matches, 1)
	assert.Equal(t, "z1", matches[0].Zone.ID)

	assert.Empty(t, idx.Contains(0, 0))
}

func TestIndexContainsPolygonZone(t *testing.T) {
	poly := models.Zone{
		ID: "p1", Name: "p1", Type: models.ZoneRestricted, IsActive: true,
		PolygonVertices: [][2]float64{{0, 0}, {0, 1}, {1, 1}, {1, 0}},
	}
	store := &fakeZoneStore{zones: []models.Zone{poly}}
	idx := New(store, zap.NewNop(), 0)
	require.NoError(t, idx.Refresh(context.Background()))

	matches := idx.Contains(0.5, 0.5)
	require.Len(t, matches, 1)
	assert.Equal(t, "p1", matches[0].Zone.ID)
}

func TestIndexRefreshExcludesMalformedPolygon(t *testing.T) {
	bad := models.Zone{ID: "bad", Type: models.ZoneSafe, IsActive: true, PolygonVertices: [][2]float64{{0, 0}, {1, 1}}}
	store := &fakeZoneStore{zones: []models.Zone{bad}}
	idx := New(store, zap.NewNop(), 0)
	require.NoError(t, idx.Refresh(context.Background()))
	assert.Empty(t, idx.Contains(0, 0))
}

func TestIndexContainsIgnoresInactiveZones(t *testing.T) {
	z := radiusZone("z1", 12.97, 77.59, 500, models.ZoneRisky)
	z.IsActive = false
	store := &fakeZoneStore{zones: []models.Zone{z}}
	idx := New(store, zap.NewNop(), 0)
	require.NoError(t, idx.Refresh(context.Background()))
	assert.Empty(t, idx.Contains(12.97, 77.59))
}

func TestIndexNearby(t *testing.T) {
	store := &fakeZoneStore{zones: []models.Zone{radiusZone("z1", 0, 0, 500, models.ZoneRisky)}}
	idx := New(store, zap.NewNop(), 0)
	require.NoError(t, idx.Refresh(context.Background()))

	matches := idx.Nearby(0, 0.01, 5000)
	require.Len(t, matches, 1)

	assert.Empty(t, idx.Nearby(50, 50, 1000))
}

func TestIndexNearestRiskDistanceM(t *testing.T) {
	store := &fakeZoneStore{zones: []models.Zone{
		radiusZone("safe", 0, 0, 500, models.ZoneSafe),
		radiusZone("risky", 1, 1, 500, models.ZoneRisky),
	}}
	idx := New(store, zap.NewNop(), 0)
	require.NoError(t, idx.Refresh(context.Background()))

	// Safe zones never count toward "risk" distance.
	_, found := idx.NearestRiskDistanceM(0, 0)
	assert.True(t, found)
}

func TestIndexRefreshPropagatesStoreError(t *testing.T) {
	store := &fakeZoneStore{err: assert.AnError}
	idx := New(store, zap.NewNop(), 0)
	assert.Error(t, idx.Refresh(context.Background()))
}

func TestValidateZoneParameters(t *testing.T) {
	radius := 100.0

	t.Run("valid disk zone", func(t *testing.T) {
		assert.NoError(t, ValidateZoneParameters("Market", models.ZoneRisky, 12.9, 77.5, &radius))
	})

	t.Run("empty name rejected", func(t *testing.T) {
		assert.Error(t, ValidateZoneParameters("", models.ZoneRisky, 12.9, 77.5, &radius))
	})

	t.Run("invalid type rejected", func(t *testing.T) {
		assert.Error(t, ValidateZoneParameters("Market", "dangerous", 12.9, 77.5, &radius))
	})

	t.Run("out of range latitude rejected", func(t *testing.T) {
		assert.Error(t, ValidateZoneParameters("Market", models.ZoneRisky, 200, 77.5, &radius))
	})

	t.Run("radius below minimum rejected", func(t *testing.T) {
		tiny := 1.0
		assert.Error(t, ValidateZoneParameters("Market", models.ZoneRisky, 12.9, 77.5, &tiny))
	})

	t.Run("radius above maximum rejected", func(t *testing.T) {
		huge := 1_000_000.0
		assert.Error(t, ValidateZoneParameters("Market", models.ZoneRisky, 12.9, 77.5, &huge))
	})

	t.Run("nil radius (polygon zone) is valid", func(t *testing.T) {
		assert.NoError(t, ValidateZoneParameters("Market", models.ZoneRisky, 12.9, 77.5, nil))
	})
}
