package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/safehorizon/pipeline/internal/alerts"
	"github.com/safehorizon/pipeline/internal/models"
)

// NearbyAlerts returns alerts created within the last `since` window and
// within radiusKM great-circle distance of (lat, lon), for the Scoring
// Engine's nearby-alerts factor (spec §4.2: 6h / 2km).
func (r *Repository) NearbyAlerts(ctx context.Context, lat, lon float64, since time.Time, radiusKM float64) ([]models.Alert, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]models.Alert, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT a.id, a.tourist_id, a.location_id, a.kind, a.severity, a.title, a.description,
			       a.acknowledged_at, a.acknowledged_by, a.resolved_at, a.created_at
			FROM alerts a
			JOIN locations l ON l.id = a.location_id
			WHERE a.created_at >= $3
			  AND (
				6371 * acos(
					LEAST(1.0, GREATEST(-1.0,
					cos(radians($1)) * cos(radians(l.latitude)) *
					cos(radians(l.longitude) - radians($2)) +
					sin(radians($1)) * sin(radians(l.latitude))))
				)
			  ) <= $4
		`, lat, lon, since, radiusKM)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanAlerts(rows)
	})
}

// HistoricalAlertCount1km counts all alerts ever created within 1km of
// (lat, lon), for the Scoring Engine's historical-risk factor (spec §4.2).
func (r *Repository) HistoricalAlertCount1km(ctx context.Context, lat, lon float64) (int, error) {
	ctx, cancel := r.analyticsCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) (int, error) {
		var count int
		err := r.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM alerts a
			JOIN locations l ON l.id = a.location_id
			WHERE (
				6371 * acos(
					LEAST(1.0, GREATEST(-1.0,
					cos(radians($1)) * cos(radians(l.latitude)) *
					cos(radians(l.longitude) - radians($2)) +
					sin(radians($1)) * sin(radians(l.latitude))))
				)
			) <= 1
		`, lat, lon).Scan(&count)
		return count, err
	})
}

// RecentScores returns the tourist's last n safety scores, most recent
// first, used by the Alert Generator's score-collapse rule (spec §4.3).
func (r *Repository) RecentScores(ctx context.Context, touristID string, n int) ([]float64, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]float64, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT safety_score FROM locations
			WHERE tourist_id = $1 AND safety_score IS NOT NULL
			ORDER BY server_ingest_time DESC LIMIT $2
		`, touristID, n)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []float64
		for rows.Next() {
			var s float64
			if err := rows.Scan(&s); err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, rows.Err()
	})
}

// RecentScoredSamples returns the tourist's last n (score, ingest-time)
// pairs in chronological order (oldest first), used by the Alert
// Generator's sequence rule (spec §4.3 rule 5: 5 consecutive samples
// scoring <= 50 within a 20-minute span).
func (r *Repository) RecentScoredSamples(ctx context.Context, touristID string, n int) ([]alerts.ScoredSample, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]alerts.ScoredSample, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT safety_score, server_ingest_time FROM locations
			WHERE tourist_id = $1 AND safety_score IS NOT NULL
			ORDER BY server_ingest_time DESC LIMIT $2
		`, touristID, n)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []alerts.ScoredSample
		for rows.Next() {
			var s alerts.ScoredSample
			if err := rows.Scan(&s.Score, &s.At); err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return out, nil
	})
}

// OpenAlertExists checks the dedup window for (tourist, kind, zone) per
// spec §4.3's dedup key; used as a pre-check before the unique-index-backed
// insert for a friendlier Conflict response.
func (r *Repository) OpenAlertExists(ctx context.Context, touristID, kind string, zoneID *string, bucket time.Time) (bool, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) (bool, error) {
		var exists bool
		err := r.pool.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM alerts
				WHERE tourist_id = $1 AND kind = $2 AND COALESCE(zone_id, '') = COALESCE($3, '')
				  AND bucket_30min = $4 AND resolved_at IS NULL
			)
		`, touristID, kind, zoneID, bucket).Scan(&exists)
		return exists, err
	})
}

// CreateAlert inserts a new alert row, relying on the alerts_dedup_idx
// unique index as the authoritative concurrency guard across instances
// (spec §4.3 "database-level uniqueness is the safer choice"). A unique
// violation is surfaced as models.ErrConflict so callers treat "someone
// else already created this alert" as a success path, not a failure.
func (r *Repository) CreateAlert(ctx context.Context, a *models.Alert, zoneID *string, bucket time.Time) (int64, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	metaJSON, err := json.Marshal(a.Metadata)
	if err != nil {
		return 0, err
	}
	id, err := withBreaker(r, ctx, func(ctx context.Context) (int64, error) {
		var id int64
		err := r.pool.QueryRow(ctx, `
			INSERT INTO alerts (tourist_id, location_id, kind, severity, title, description, metadata, zone_id, bucket_30min, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			RETURNING id
		`, a.TouristID, a.LocationID, a.Kind, a.Severity, a.Title, a.Description, metaJSON, zoneID, bucket).Scan(&id)
		return id, err
	})
	if isUniqueViolation(err) {
		return 0, models.ErrConflict("duplicate alert suppressed by dedup window")
	}
	return id, err
}

// PublicPanicAlertRow is the anonymized projection GET /api/public/panic-alerts
// returns (spec §6.1; SPEC_FULL.md Open Question #4: coordinates coarsened
// to a 100m grid, tourist identity omitted entirely).
type PublicPanicAlertRow struct {
	Kind      string
	Severity  string
	Latitude  float64
	Longitude float64
	CreatedAt time.Time
	Resolved  bool
}

// PublicPanicAlerts returns panic/SOS alerts for the unauthenticated public
// feed. Coordinates are coarsened to ~100m (0.001 degree) server-side so no
// caller, including this query's own output, ever carries precise tourist
// location (spec §6.1 "no tourist identity, coarsened coordinates allowed").
func (r *Repository) PublicPanicAlerts(ctx context.Context, limit, hoursBack int, showResolved bool) ([]PublicPanicAlertRow, error) {
	ctx, cancel := r.analyticsCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]PublicPanicAlertRow, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT a.kind, a.severity,
			       round(l.latitude::numeric, 3)::float8, round(l.longitude::numeric, 3)::float8,
			       a.created_at, (a.resolved_at IS NOT NULL)
			FROM alerts a
			LEFT JOIN locations l ON l.id = a.location_id
			WHERE a.kind IN ('panic','sos')
			  AND a.created_at >= now() - ($2 || ' hours')::interval
			  AND ($3 OR a.resolved_at IS NULL)
			ORDER BY a.created_at DESC
			LIMIT $1
		`, limit, hoursBack, showResolved)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []PublicPanicAlertRow
		for rows.Next() {
			var row PublicPanicAlertRow
			if err := rows.Scan(&row.Kind, &row.Severity, &row.Latitude, &row.Longitude, &row.CreatedAt, &row.Resolved); err != nil {
				return nil, err
			}
			out = append(out, row)
		}
		return out, rows.Err()
	})
}

// AlertsSinceForAuthority returns alerts created after `since`, for the
// Subscription Gateway's authority-channel reconnection replay (spec §4.6
// "Recovery").
func (r *Repository) AlertsSinceForAuthority(ctx context.Context, since time.Time) ([]models.Alert, error) {
	ctx, cancel := r.analyticsCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]models.Alert, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT id, tourist_id, location_id, kind, severity, title, description,
			       acknowledged_at, acknowledged_by, resolved_at, created_at
			FROM alerts WHERE created_at > $1 ORDER BY created_at ASC
		`, since)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanAlerts(rows)
	})
}

// AlertsSinceForTourist is the tourist-channel equivalent of
// AlertsSinceForAuthority, scoped to one tourist (spec §4.6 "Recovery").
func (r *Repository) AlertsSinceForTourist(ctx context.Context, touristID string, since time.Time) ([]models.Alert, error) {
	ctx, cancel := r.analyticsCtx(ctx)
	defer cancel()
	return withBreaker(r, ctx, func(ctx context.Context) ([]models.Alert, error) {
		rows, err := r.pool.Query(ctx, `
			SELECT id, tourist_id, location_id, kind, severity, title, description,
			       acknowledged_at, acknowledged_by, resolved_at, created_at
			FROM alerts WHERE tourist_id = $1 AND created_at > $2 ORDER BY created_at ASC
		`, touristID, since)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanAlerts(rows)
	})
}

func scanAlerts(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]models.Alert, error) {
	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.TouristID, &a.LocationID, &a.Kind, &a.Severity, &a.Title, &a.Description,
			&a.AcknowledgedAt, &a.AcknowledgedBy, &a.ResolvedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
