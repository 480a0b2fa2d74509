package geoutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKM(t *testing.T) {
	t.Run("same point is zero distance", func(t *testing.T) {
		assert.InDelta(t, 0.0, HaversineKM(12.97, 77.59, 12.97, 77.59), 1e-9)
	})

	t.Run("one degree of latitude is roughly 111km", func(t *testing.T) {
		d := HaversineKM(0, 0, 1, 0)
		assert.InDelta(t, 111.19, d, 0.5)
	})

	t.Run("antipodal points are half the earth's circumference", func(t *testing.T) {
		d := HaversineKM(0, 0, 0, 180)
		assert.InDelta(t, math.Pi*EarthRadiusKM, d, 1.0)
	})
}

func square() []Point {
	return []Point{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 1},
		{Lat: 1, Lon: 1},
		{Lat: 1, Lon: 0},
	}
}

func TestPointInPolygon(t *testing.T) {
	poly := square()

	t.Run("center point is inside", func(t *testing.T) {
		assert.True(t, PointInPolygon(Point{Lat: 0.5, Lon: 0.5}, poly))
	})

	t.Run("far point is outside", func(t *testing.T) {
		assert.False(t, PointInPolygon(Point{Lat: 10, Lon: 10}, poly))
	})

	t.Run("vertex counts as inside", func(t *testing.T) {
		assert.True(t, PointInPolygon(Point{Lat: 0, Lon: 0}, poly))
	})

	t.Run("point on an edge counts as inside", func(t *testing.T) {
		assert.True(t, PointInPolygon(Point{Lat: 0, Lon: 0.5}, poly))
	})

	t.Run("fewer than 3 vertices is never inside", func(t *testing.T) {
		assert.False(t, PointInPolygon(Point{Lat: 0, Lon: 0}, []Point{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}}))
	})
}

func TestDistanceToPolygonEdgesKM(t *testing.T) {
	poly := square()

	t.Run("point on the boundary is ~zero distance", func(t *testing.T) {
		d := DistanceToPolygonEdgesKM(Point{Lat: 0, Lon: 0.5}, poly)
		assert.InDelta(t, 0.0, d, 0.1)
	})

	t.Run("empty polygon is infinite distance", func(t *testing.T) {
		d := DistanceToPolygonEdgesKM(Point{Lat: 0, Lon: 0}, nil)
		assert.True(t, math.IsInf(d, 1))
	})

	t.Run("point outside the square is farther than zero", func(t *testing.T) {
		d := DistanceToPolygonEdgesKM(Point{Lat: 5, Lon: 5}, poly)
		assert.Greater(t, d, 100.0)
	})
}
