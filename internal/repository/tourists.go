package repository

import (
	"context"
	"time"

	"github.com/safehorizon/pipeline/internal/models"
)

// GetTourist fetches a tourist by id, models.ErrNotFound if missing (spec §7
// "Not-found"). Inactive tourists are returned as-is; callers check IsActive.
func (r *Repository) GetTourist(ctx context.Context, id string) (*models.Tourist, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	t, err := withBreaker(r, ctx, func(ctx context.Context) (models.Tourist, error) {
		var t models.Tourist
		err := r.pool.QueryRow(ctx, `
			SELECT id, name, phone, email, emergency_contact, emergency_phone, timezone,
			       safety_score, last_seen, last_latitude, last_longitude, is_active, created_at
			FROM tourists WHERE id = $1
		`, id).Scan(&t.ID, &t.Name, &t.Phone, &t.Email, &t.EmergencyContact, &t.EmergencyPhone, &t.Timezone,
			&t.SafetyScore, &t.LastSeen, &t.LastLatitude, &t.LastLongitude, &t.IsActive, &t.CreatedAt)
		return t, err
	})
	if isNoRows(err) {
		return nil, models.ErrNotFound("tourist not found")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTouristRollingState blends the prior score with the newly computed
// one (30%/70%, spec §4.4) and updates last_seen/last_location atomically
// with respect to readers of the new location row (spec §4.4 "Consistency"
// — callers invoke this in the same transaction as SaveLocation when strict
// atomicity is required; the single UPDATE here is itself atomic).
func (r *Repository) UpdateTouristRollingState(ctx context.Context, touristID string, newScore, lat, lon float64, seenAt time.Time) (blended float64, err error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) (float64, error) {
		var blended float64
		// GREATEST guards spec §8 invariant #2 (last_seen monotonically
		// non-decreasing): a late-arriving or retried sample with an older
		// server timestamp than what's already stored must not regress it.
		err := r.pool.QueryRow(ctx, `
			UPDATE tourists
			SET safety_score = round((0.3 * safety_score + 0.7 * $2)::numeric, 0),
			    last_seen = GREATEST(last_seen, $3),
			    last_latitude = $4,
			    last_longitude = $5
			WHERE id = $1
			RETURNING safety_score
		`, touristID, newScore, seenAt, lat, lon).Scan(&blended)
		return blended, err
	})
}

// CreateTourist registers a new tourist with a default neutral safety score.
// Timezone defaults to "UTC" when the caller leaves it blank.
func (r *Repository) CreateTourist(ctx context.Context, t *models.Tourist) error {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	tz := t.Timezone
	if tz == "" {
		tz = "UTC"
	}
	_, err := withBreaker(r, ctx, func(ctx context.Context) (struct{}, error) {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO tourists (id, name, phone, email, emergency_contact, emergency_phone, timezone, safety_score, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 100, TRUE, now())
		`, t.ID, t.Name, t.Phone, t.Email, t.EmergencyContact, t.EmergencyPhone, tz)
		return struct{}{}, err
	})
	return err
}
