package repository

import (
	"context"
	"encoding/json"

	"github.com/safehorizon/pipeline/internal/models"
)

// ListActiveZones implements geofence.ZoneStore for the Index's refresh loop
// (spec §4.1).
func (r *Repository) ListActiveZones(ctx context.Context) ([]models.Zone, error) {
	ctx, cancel := r.analyticsCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]models.Zone, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT id, name, type, center_lat, center_lon, radius_m, polygon_vertices, is_active, creator_id, updated_at
			FROM zones WHERE is_active = TRUE
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []models.Zone
		for rows.Next() {
			var z models.Zone
			var polyJSON []byte
			if err := rows.Scan(&z.ID, &z.Name, &z.Type, &z.CenterLat, &z.CenterLon, &z.RadiusM, &polyJSON, &z.IsActive, &z.CreatorID, &z.UpdatedAt); err != nil {
				return nil, err
			}
			if len(polyJSON) > 0 {
				_ = json.Unmarshal(polyJSON, &z.PolygonVertices)
			}
			out = append(out, z)
		}
		return out, rows.Err()
	})
}

// CreateZone persists a new zone after validating its shape.
func (r *Repository) CreateZone(ctx context.Context, z *models.Zone) error {
	if err := z.ValidateShape(); err != nil {
		return err
	}
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	polyJSON, err := json.Marshal(z.PolygonVertices)
	if err != nil {
		return err
	}
	_, err = withBreaker(r, ctx, func(ctx context.Context) (struct{}, error) {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO zones (id, name, type, center_lat, center_lon, radius_m, polygon_vertices, is_active, creator_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, now())
		`, z.ID, z.Name, z.Type, z.CenterLat, z.CenterLon, z.RadiusM, polyJSON, z.CreatorID)
		return struct{}{}, err
	})
	return err
}

// GetZone fetches a single zone by id (used by the Broadcast Dispatcher's
// zone-targeting resolution, spec §4.7).
func (r *Repository) GetZone(ctx context.Context, id string) (*models.Zone, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	type zoneRow struct {
		z        models.Zone
		polyJSON []byte
	}
	res, err := withBreaker(r, ctx, func(ctx context.Context) (zoneRow, error) {
		var row zoneRow
		err := r.pool.QueryRow(ctx, `
			SELECT id, name, type, center_lat, center_lon, radius_m, polygon_vertices, is_active, creator_id, updated_at
			FROM zones WHERE id = $1
		`, id).Scan(&row.z.ID, &row.z.Name, &row.z.Type, &row.z.CenterLat, &row.z.CenterLon, &row.z.RadiusM,
			&row.polyJSON, &row.z.IsActive, &row.z.CreatorID, &row.z.UpdatedAt)
		return row, err
	})
	if isNoRows(err) {
		return nil, models.ErrNotFound("zone not found")
	}
	if err != nil {
		return nil, err
	}
	if len(res.polyJSON) > 0 {
		_ = json.Unmarshal(res.polyJSON, &res.z.PolygonVertices)
	}
	return &res.z, nil
}
