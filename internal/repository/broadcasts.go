package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/safehorizon/pipeline/internal/models"
)

// NextBroadcastID allocates BCAST-YYYYMMDD-NNNN (spec §3 "Broadcast").
func (r *Repository) NextBroadcastID(ctx context.Context, day time.Time) (string, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) (string, error) {
		var seq int64
		if err := r.pool.QueryRow(ctx, `SELECT nextval('broadcast_daily_seq')`).Scan(&seq); err != nil {
			return "", err
		}
		return fmt.Sprintf("BCAST-%s-%04d", day.Format("20060102"), seq), nil
	})
}

// ResolveRadiusTargets returns tourists within radiusKM of (lat, lon) seen
// in the last 24h (spec §4.7 "radius" targeting).
func (r *Repository) ResolveRadiusTargets(ctx context.Context, lat, lon, radiusKM float64) ([]models.Tourist, error) {
	ctx, cancel := r.analyticsCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]models.Tourist, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT id, name, phone, email, last_seen, last_latitude, last_longitude, safety_score, is_active
			FROM tourists
			WHERE is_active AND last_seen >= now() - interval '24 hours'
			  AND last_latitude IS NOT NULL AND last_longitude IS NOT NULL
			  AND (
				6371 * acos(
					LEAST(1.0, GREATEST(-1.0,
					cos(radians($1)) * cos(radians(last_latitude)) *
					cos(radians(last_longitude) - radians($2)) +
					sin(radians($1)) * sin(radians(last_latitude))))
				)
			  ) <= $3
		`, lat, lon, radiusKM)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanTourists(rows)
	})
}

// ResolveRegionTargets returns tourists whose last location lies within a
// bounding box (spec §4.7 "region" targeting).
func (r *Repository) ResolveRegionTargets(ctx context.Context, north, south, east, west float64) ([]models.Tourist, error) {
	ctx, cancel := r.analyticsCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]models.Tourist, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT id, name, phone, email, last_seen, last_latitude, last_longitude, safety_score, is_active
			FROM tourists
			WHERE is_active
			  AND last_latitude BETWEEN $2 AND $1
			  AND last_longitude BETWEEN $4 AND $3
		`, north, south, east, west)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanTourists(rows)
	})
}

// ResolveAllTargets returns active tourists seen within the last 7 days
// (spec §4.7 "all" targeting).
func (r *Repository) ResolveAllTargets(ctx context.Context) ([]models.Tourist, error) {
	ctx, cancel := r.analyticsCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]models.Tourist, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT id, name, phone, email, last_seen, last_latitude, last_longitude, safety_score, is_active
			FROM tourists WHERE is_active AND last_seen >= now() - interval '7 days'
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanTourists(rows)
	})
}

func scanTourists(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]models.Tourist, error) {
	var out []models.Tourist
	for rows.Next() {
		var t models.Tourist
		if err := rows.Scan(&t.ID, &t.Name, &t.Phone, &t.Email, &t.LastSeen, &t.LastLatitude, &t.LastLongitude, &t.SafetyScore, &t.IsActive); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateBroadcast persists the resolved broadcast record (spec §4.7).
// tourists_notified/devices_notified are inserted as 0: IncrementDeliveryCounters
// is the sole writer of those columns, incrementing once the delivery pipeline
// actually submits each leg (spec §8 property #5 analog — no double counting).
func (r *Repository) CreateBroadcast(ctx context.Context, b *models.Broadcast) error {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	_, err := withBreaker(r, ctx, func(ctx context.Context) (struct{}, error) {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO broadcasts (id, type, center_lat, center_lon, radius_km, zone_id,
				bounds_north, bounds_south, bounds_east, bounds_west, title, message, severity,
				sender_id, sent_at, expires_at, tourists_notified, devices_notified, acknowledgment_count)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14, now(), $15, 0, 0, 0)
		`, b.ID, b.Type, b.CenterLat, b.CenterLon, b.RadiusKM, b.ZoneID,
			b.BoundsNorth, b.BoundsSouth, b.BoundsEast, b.BoundsWest, b.Title, b.Message, b.Severity,
			b.SenderID, b.ExpiresAt)
		return struct{}{}, err
	})
	return err
}

// AcknowledgeBroadcast inserts a broadcast-acknowledgment row and bumps the
// broadcast's counter in the same transaction; idempotent on re-acknowledge
// by the same tourist (spec §4.7 "Acknowledgment", §8 property #8).
func (r *Repository) AcknowledgeBroadcast(ctx context.Context, ack *models.BroadcastAck) (created bool, err error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) (bool, error) {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return false, err
		}
		defer tx.Rollback(ctx)

		tag, err := tx.Exec(ctx, `
			INSERT INTO broadcast_acks (broadcast_id, tourist_id, status, latitude, longitude, notes, acknowledged_at)
			VALUES ($1,$2,$3,$4,$5,$6, now())
			ON CONFLICT (broadcast_id, tourist_id) DO NOTHING
		`, ack.BroadcastID, ack.TouristID, ack.Status, ack.Latitude, ack.Longitude, ack.Notes)
		if err != nil {
			return false, err
		}
		if tag.RowsAffected() == 1 {
			if _, err := tx.Exec(ctx, `
				UPDATE broadcasts SET acknowledgment_count = acknowledgment_count + 1 WHERE id = $1
			`, ack.BroadcastID); err != nil {
				return false, err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	})
}

// IncrementDeliveryCounters bumps tourists_notified/devices_notified after
// the delivery pipeline submits legs for a broadcast (spec §4.7 "Delivery
// pipeline" — counters reflect submission, not acknowledgment).
func (r *Repository) IncrementDeliveryCounters(ctx context.Context, broadcastID string, tourists, devices int) error {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	_, err := withBreaker(r, ctx, func(ctx context.Context) (struct{}, error) {
		_, err := r.pool.Exec(ctx, `
			UPDATE broadcasts SET tourists_notified = tourists_notified + $2, devices_notified = devices_notified + $3
			WHERE id = $1
		`, broadcastID, tourists, devices)
		return struct{}{}, err
	})
	return err
}
