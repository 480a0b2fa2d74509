// Package geofence implements the spatial lookup component of spec §4.1: an
// in-memory snapshot of active zones, refreshed from the database on a
// bounded interval, queried lock-free by readers via an atomic pointer swap
// (spec §5 "The Geofence Index's snapshot is read-shared, copy-on-publish").
//
// Grounded on the teacher's internal/services/geofence.go (Geofence,
// ContainsPoint, ValidateGeofenceParameters), generalized from one mutable
// geofence to an indexed, atomically-swapped collection of many zones.
package geofence

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/safehorizon/pipeline/internal/geoutil"
	"github.com/safehorizon/pipeline/internal/models"
)

// Default/min/max radii carried over from the teacher's geofence constants,
// expressed in meters (the teacher used kilometers for a dog-walk radius;
// SafeHorizon zones are defined in meters per spec §3).
const (
	DefaultRadiusM = 500.0
	MaxRadiusM     = 50_000.0
	MinRadiusM     = 10.0
)

// Match is one zone containing (or nearby) a queried point, with its
// boundary distance (spec §4.1 "distance from boundary").
type Match struct {
	Zone             models.Zone
	DistanceToCenterM float64
	DistanceToBoundaryM float64
}

// ZoneStore loads the full active-zone set from durable storage; implemented
// by internal/repository.
type ZoneStore interface {
	ListActiveZones(ctx context.Context) ([]models.Zone, error)
}

type snapshot struct {
	zones     []models.Zone
	polygons  map[string][]geoutil.Point // zone id -> vertices, precomputed
	refreshed time.Time
}

// Index is the lock-free-for-readers geofence evaluator.
type Index struct {
	store    ZoneStore
	logger   *zap.Logger
	interval time.Duration

	current atomic.Pointer[snapshot]

	stopCh chan struct{}
}

// New constructs an Index with an empty snapshot; call Start to begin the
// refresh loop, or Refresh once for synchronous initial population.
func New(store ZoneStore, logger *zap.Logger, interval time.Duration) *Index {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	idx := &Index{store: store, logger: logger, interval: interval, stopCh: make(chan struct{})}
	idx.current.Store(&snapshot{refreshed: time.Time{}})
	return idx
}

// Start launches the bounded-interval refresh loop (spec §4.1 "≤ 30 s").
// Refresh failures are logged; the stale snapshot continues to serve.
func (idx *Index) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(idx.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-idx.stopCh:
				return
			case <-ticker.C:
				if err := idx.Refresh(ctx); err != nil {
					idx.logger.Warn("geofence snapshot refresh failed, serving stale snapshot", zap.Error(err))
				}
			}
		}
	}()
}

// Stop terminates the refresh loop.
func (idx *Index) Stop() { close(idx.stopCh) }

// Refresh reloads zones from the store and atomically swaps the snapshot.
// Malformed polygons are excluded with a warning (spec §4.1 "Failure semantics").
func (idx *Index) Refresh(ctx context.Context) error {
	zones, err := idx.store.ListActiveZones(ctx)
	if err != nil {
		return err
	}
	next := &snapshot{
		zones:     make([]models.Zone, 0, len(zones)),
		polygons:  make(map[string][]geoutil.Point),
		refreshed: time.Now().UTC(),
	}
	for _, z := range zones {
		if z.IsDisk() {
			next.zones = append(next.zones, z)
			continue
		}
		if len(z.PolygonVertices) < 3 {
			idx.logger.Warn("excluding zone with malformed polygon", zap.String("zone_id", z.ID))
			continue
		}
		pts := make([]geoutil.Point, 0, len(z.PolygonVertices))
		for _, v := range z.PolygonVertices {
			pts = append(pts, geoutil.Point{Lat: v[0], Lon: v[1]})
		}
		next.polygons[z.ID] = pts
		next.zones = append(next.zones, z)
	}
	idx.current.Store(next)
	return nil
}

// Contains returns every active zone containing (lat, lon), with distances.
func (idx *Index) Contains(lat, lon float64) []Match {
	snap := idx.current.Load()
	var matches []Match
	for _, z := range snap.zones {
		if !z.IsActive {
			continue
		}
		if z.IsDisk() {
			d := geoutil.HaversineKM(lat, lon, z.CenterLat, z.CenterLon) * 1000
			if d <= *z.RadiusM {
				matches = append(matches, Match{Zone: z, DistanceToCenterM: d, DistanceToBoundaryM: *z.RadiusM - d})
			}
			continue
		}
		pts, ok := snap.polygons[z.ID]
		if !ok {
			continue
		}
		if geoutil.PointInPolygon(geoutil.Point{Lat: lat, Lon: lon}, pts) {
			boundaryDist := geoutil.DistanceToPolygonEdgesKM(geoutil.Point{Lat: lat, Lon: lon}, pts) * 1000
			centerDist := geoutil.HaversineKM(lat, lon, z.CenterLat, z.CenterLon) * 1000
			matches = append(matches, Match{Zone: z, DistanceToCenterM: centerDist, DistanceToBoundaryM: boundaryDist})
		}
	}
	return matches
}

// Nearby returns zones whose center lies within radiusM of (lat, lon),
// regardless of containment (spec §4.1 second contract clause).
func (idx *Index) Nearby(lat, lon, radiusM float64) []Match {
	snap := idx.current.Load()
	var matches []Match
	for _, z := range snap.zones {
		if !z.IsActive {
			continue
		}
		centerDist := geoutil.HaversineKM(lat, lon, z.CenterLat, z.CenterLon) * 1000
		if centerDist > radiusM {
			continue
		}
		boundaryDist := centerDist
		if z.IsDisk() {
			boundaryDist = centerDist - *z.RadiusM
		} else if pts, ok := snap.polygons[z.ID]; ok {
			boundaryDist = geoutil.DistanceToPolygonEdgesKM(geoutil.Point{Lat: lat, Lon: lon}, pts) * 1000
		}
		matches = append(matches, Match{Zone: z, DistanceToCenterM: centerDist, DistanceToBoundaryM: boundaryDist})
	}
	return matches
}

// NearestRiskDistanceM returns the distance in meters to the nearest
// restricted-or-risky zone boundary, used by the Scoring Engine's zone-risk
// factor interpolation when a point is outside every zone (spec §4.2).
func (idx *Index) NearestRiskDistanceM(lat, lon float64) (float64, bool) {
	snap := idx.current.Load()
	best := -1.0
	found := false
	for _, z := range snap.zones {
		if !z.IsActive || z.Type == models.ZoneSafe {
			continue
		}
		var d float64
		if z.IsDisk() {
			d = geoutil.HaversineKM(lat, lon, z.CenterLat, z.CenterLon)*1000 - *z.RadiusM
		} else if pts, ok := snap.polygons[z.ID]; ok {
			if geoutil.PointInPolygon(geoutil.Point{Lat: lat, Lon: lon}, pts) {
				d = 0
			} else {
				d = geoutil.DistanceToPolygonEdgesKM(geoutil.Point{Lat: lat, Lon: lon}, pts) * 1000
			}
		} else {
			continue
		}
		if d < 0 {
			d = 0
		}
		if !found || d < best {
			best, found = d, true
		}
	}
	return best, found
}

// ValidateZoneParameters mirrors the teacher's ValidateGeofenceParameters,
// generalized to SafeHorizon zone types and meter-scale radii.
func ValidateZoneParameters(name, zoneType string, lat, lon float64, radiusM *float64) error {
	if name == "" {
		return models.ErrValidation("zone name is required")
	}
	if !models.ValidZoneType(zoneType) {
		return models.ErrValidation("invalid zone type")
	}
	if lat < models.MinLatitude || lat > models.MaxLatitude {
		return models.ErrValidation("center latitude out of range")
	}
	if lon < models.MinLongitude || lon > models.MaxLongitude {
		return models.ErrValidation("center longitude out of range")
	}
	if radiusM != nil && (*radiusM < MinRadiusM || *radiusM > MaxRadiusM) {
		return models.ErrValidation("radius_m out of range")
	}
	return nil
}
