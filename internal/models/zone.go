package models

import (
	"time"

	"github.com/twpayne/go-geom"
)

// Zone classifications (spec §3 "Zone").
const (
	ZoneSafe       = "safe"
	ZoneRisky      = "risky"
	ZoneRestricted = "restricted"
)

// Zone is either a disk (CenterLat/CenterLon/RadiusM) or a polygon
// (PolygonVertices with >= 3 vertices). Exactly one shape is populated,
// validated by ValidateShape.
type Zone struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	CenterLat  float64     `json:"center_lat"`
	CenterLon  float64     `json:"center_lon"`
	RadiusM    *float64    `json:"radius_m,omitempty"`
	Polygon    *geom.Polygon `json:"-"`
	// PolygonVertices is the wire-friendly [lat,lon] pair list; it is the
	// field shape validation and the Geofence Index read. Polygon is not
	// filled from it automatically.
	PolygonVertices [][2]float64 `json:"polygon,omitempty"`
	IsActive   bool        `json:"is_active"`
	CreatorID  string      `json:"creator_id"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func ValidZoneType(t string) bool {
	switch t {
	case ZoneSafe, ZoneRisky, ZoneRestricted:
		return true
	}
	return false
}

// IsDisk reports whether this zone is defined by a center+radius rather than
// a polygon boundary.
func (z *Zone) IsDisk() bool {
	return z.RadiusM != nil
}

// ValidateShape enforces "exactly one of disk or polygon" (spec §3 "Zone").
func (z *Zone) ValidateShape() error {
	hasDisk := z.RadiusM != nil
	hasPolygon := len(z.PolygonVertices) >= 3
	if hasDisk == hasPolygon {
		return ErrValidation("zone must have exactly one of radius_m or a polygon with >= 3 vertices")
	}
	return nil
}

// NewPolygonZone builds a closed go-geom Polygon from [lat,lon] vertices.
// The Geofence Index does not use it; its containment check ray-casts
// PolygonVertices through internal/geoutil.
func NewPolygonZone(vertices [][2]float64) (*geom.Polygon, error) {
	if len(vertices) < 3 {
		return nil, ErrValidation("polygon requires at least 3 vertices")
	}
	flat := make([]float64, 0, (len(vertices)+1)*2)
	for _, v := range vertices {
		// go-geom layout is (x=lon, y=lat) by convention.
		flat = append(flat, v[1], v[0])
	}
	// close the ring if the caller didn't repeat the first vertex.
	if vertices[0] != vertices[len(vertices)-1] {
		flat = append(flat, vertices[0][1], vertices[0][0])
	}
	ends := []int{len(flat)}
	poly := geom.NewPolygonFlat(geom.XY, flat, ends)
	return poly, nil
}
