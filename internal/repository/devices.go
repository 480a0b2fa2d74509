package repository

import (
	"context"

	"github.com/safehorizon/pipeline/internal/models"
)

// ActiveDevices returns a tourist's active push-token registrations, used
// by the Broadcast Dispatcher's push delivery leg (spec §4.7/§6.4).
func (r *Repository) ActiveDevices(ctx context.Context, touristID string) ([]models.DeviceRegistration, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]models.DeviceRegistration, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT id, tourist_id, push_token, platform, is_active, created_at
			FROM device_registrations WHERE tourist_id = $1 AND is_active = TRUE
		`, touristID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []models.DeviceRegistration
		for rows.Next() {
			var d models.DeviceRegistration
			if err := rows.Scan(&d.ID, &d.TouristID, &d.PushToken, &d.Platform, &d.IsActive, &d.CreatedAt); err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, rows.Err()
	})
}

// RegisterDevice upserts a push-token registration.
func (r *Repository) RegisterDevice(ctx context.Context, d *models.DeviceRegistration) error {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	_, err := withBreaker(r, ctx, func(ctx context.Context) (struct{}, error) {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO device_registrations (tourist_id, push_token, platform, is_active, created_at)
			VALUES ($1,$2,$3,TRUE, now())
			ON CONFLICT (push_token) DO UPDATE SET is_active = TRUE, tourist_id = EXCLUDED.tourist_id
		`, d.TouristID, d.PushToken, d.Platform)
		return struct{}{}, err
	})
	return err
}
