package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZoneValidateShape(t *testing.T) {
	radius := 500.0

	t.Run("disk zone with radius only is valid", func(t *testing.T) {
		z := &Zone{RadiusM: &radius}
		assert.NoError(t, z.ValidateShape())
		assert.True(t, z.IsDisk())
	})

	t.Run("polygon zone with enough vertices is valid", func(t *testing.T) {
		z := &Zone{PolygonVertices: [][2]float64{{1, 1}, {2, 2}, {3, 1}}}
		assert.NoError(t, z.ValidateShape())
		assert.False(t, z.IsDisk())
	})

	t.Run("neither shape is invalid", func(t *testing.T) {
		z := &Zone{}
		assert.Error(t, z.ValidateShape())
	})

	t.Run("both shapes at once is invalid", func(t *testing.T) {
		z := &Zone{RadiusM: &radius, PolygonVertices: [][2]float64{{1, 1}, {2, 2}, {3, 1}}}
		assert.Error(t, z.ValidateShape())
	})

	t.Run("polygon with fewer than 3 vertices is treated as no polygon", func(t *testing.T) {
		z := &Zone{PolygonVertices: [][2]float64{{1, 1}, {2, 2}}}
		assert.Error(t, z.ValidateShape())
	})
}

func TestNewPolygonZone(t *testing.T) {
	t.Run("rejects fewer than 3 vertices", func(t *testing.T) {
		_, err := NewPolygonZone([][2]float64{{1, 1}, {2, 2}})
		assert.Error(t, err)
	})

	t.Run("closes an open ring and builds a polygon", func(t *testing.T) {
		poly, err := NewPolygonZone([][2]float64{{1, 1}, {2, 2}, {3, 1}})
		require.NoError(t, err)
		require.NotNil(t, poly)
		// 3 input vertices plus the implicit closing point, 2 floats each.
		assert.Equal(t, 8, len(poly.FlatCoords()))
	})

	t.Run("does not duplicate an already-closed ring", func(t *testing.T) {
		poly, err := NewPolygonZone([][2]float64{{1, 1}, {2, 2}, {3, 1}, {1, 1}})
		require.NoError(t, err)
		assert.Equal(t, 8, len(poly.FlatCoords()))
	})
}

func TestValidZoneType(t *testing.T) {
	assert.True(t, ValidZoneType(ZoneSafe))
	assert.True(t, ValidZoneType(ZoneRisky))
	assert.True(t, ValidZoneType(ZoneRestricted))
	assert.False(t, ValidZoneType("unknown"))
}
