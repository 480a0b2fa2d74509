package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/safehorizon/pipeline/internal/models"
)

// SaveLocation persists a sample and idempotently collapses re-posts of the
// same (tourist, client_timestamp) into the existing row (spec §4.4 "Rate
// control", testable property #7). Returns the row id and whether it was a
// fresh insert.
func (r *Repository) SaveLocation(ctx context.Context, loc *models.Location) (id int64, inserted bool, err error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()

	pair, err := withBreaker(r, ctx, func(ctx context.Context) ([2]any, error) {
		var rowID int64
		var wasInserted bool
		err := r.pool.QueryRow(ctx, `
			INSERT INTO locations (tourist_id, trip_id, latitude, longitude, altitude, speed, accuracy, client_timestamp, server_ingest_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
			ON CONFLICT (tourist_id, client_timestamp) DO UPDATE SET tourist_id = EXCLUDED.tourist_id
			RETURNING id, (xmax = 0) AS inserted
		`, loc.TouristID, loc.TripID, loc.Latitude, loc.Longitude, loc.Altitude, loc.Speed, loc.Accuracy, loc.ClientTimestamp).
			Scan(&rowID, &wasInserted)
		return [2]any{rowID, wasInserted}, err
	})
	if err != nil {
		return 0, false, err
	}
	return pair[0].(int64), pair[1].(bool), nil
}

// RecentIdempotenceWindow is the collapse window of spec §4.4 ("Rate control").
const RecentIdempotenceWindow = 2 * time.Second

// SetLocationScore fills in the safety score on a previously persisted row
// (spec §4.4 "Failures": scoring failure is not fatal, a follow-up fills it).
func (r *Repository) SetLocationScore(ctx context.Context, locationID int64, score float64) error {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	_, err := withBreaker(r, ctx, func(ctx context.Context) (struct{}, error) {
		_, err := r.pool.Exec(ctx, `
			UPDATE locations SET safety_score = $1, safety_score_updated_at = now() WHERE id = $2
		`, score, locationID)
		return struct{}{}, err
	})
	return err
}

// RecentSpeeds returns up to the last 10 speed samples (m/s, non-null) for a
// tourist, most-recent first, used by the Scoring Engine's speed-anomaly
// factor (spec §4.2).
func (r *Repository) RecentSpeeds(ctx context.Context, touristID string) ([]float64, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]float64, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT speed FROM locations
			WHERE tourist_id = $1 AND speed IS NOT NULL
			ORDER BY server_ingest_time DESC LIMIT 10
		`, touristID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []float64
		for rows.Next() {
			var v float64
			if err := rows.Scan(&v); err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, rows.Err()
	})
}

// NearbyTouristCount counts distinct tourists seen within the last 15 min
// within 1 km of (lat, lon) (spec §4.2 "Crowd density").
func (r *Repository) NearbyTouristCount(ctx context.Context, lat, lon float64, excludeTouristID string) (int, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) (int, error) {
		var count int
		err := r.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM tourists
			WHERE id != $3
			  AND last_seen >= now() - interval '15 minutes'
			  AND last_latitude IS NOT NULL AND last_longitude IS NOT NULL
			  AND (
				6371000 * acos(
					LEAST(1.0, GREATEST(-1.0,
					cos(radians($1)) * cos(radians(last_latitude)) *
					cos(radians(last_longitude) - radians($2)) +
					sin(radians($1)) * sin(radians(last_latitude))))
				)
			  ) <= 1000
		`, lat, lon, excludeTouristID).Scan(&count)
		return count, err
	})
}

// LocationHistory returns a tourist's samples in descending server-ingest
// order, bounded by limit.
func (r *Repository) LocationHistory(ctx context.Context, touristID string, limit int) ([]models.Location, error) {
	ctx, cancel := r.analyticsCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]models.Location, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT id, tourist_id, trip_id, latitude, longitude, altitude, speed, accuracy,
			       client_timestamp, server_ingest_time, safety_score, safety_score_updated_at
			FROM locations WHERE tourist_id = $1
			ORDER BY server_ingest_time DESC LIMIT $2
		`, touristID, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []models.Location
		for rows.Next() {
			var l models.Location
			if err := rows.Scan(&l.ID, &l.TouristID, &l.TripID, &l.Latitude, &l.Longitude, &l.Altitude,
				&l.Speed, &l.Accuracy, &l.ClientTimestamp, &l.ServerIngestTime, &l.SafetyScore, &l.SafetyScoreUpdatedAt); err != nil {
				return nil, err
			}
			out = append(out, l)
		}
		return out, rows.Err()
	})
}

var errNoRows = pgx.ErrNoRows

func isNoRows(err error) bool { return errors.Is(err, errNoRows) }
