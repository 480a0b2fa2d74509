// Package repository is the durable storage layer for every spec §3 entity,
// backed by TimescaleDB/Postgres via pgx. Grounded on the teacher's
// internal/repository/timescale.go (RepositoryConfig, initSchema pattern,
// hypertable-oriented location table), reconciled to pgx/v5 throughout (the
// teacher's go.mod declared v5 but its code imported v4 inconsistently) and
// wrapped in a gobreaker circuit breaker exactly as the teacher's
// timescaleDBConn wrapper, so Transient failures (spec §7) trip instead of
// repeatedly hammering a down database.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Config mirrors the teacher's RepositoryConfig shape.
type Config struct {
	DatabaseURL        string
	MaxConns           int32
	ConnectTimeout     time.Duration
	QueryTimeoutOLTP   time.Duration // default 2s, spec §5 "Cancellation & timeouts"
	QueryTimeoutAnalytics time.Duration // default 15s
}

func DefaultConfig(databaseURL string) Config {
	return Config{
		DatabaseURL:           databaseURL,
		MaxConns:              20,
		ConnectTimeout:        5 * time.Second,
		QueryTimeoutOLTP:      2 * time.Second,
		QueryTimeoutAnalytics: 15 * time.Second,
	}
}

// Repository wraps a pgx pool with a circuit breaker. Every exported method
// across locations.go/tourists.go/zones.go/alerts.go/efir.go/broadcasts.go/
// incidents.go/devices.go/authorities.go goes through withBreaker so a
// database outage degrades to a fast 503 (spec §7 "Transient") instead of
// hammering a down connection on every ingest.
type Repository struct {
	pool    *pgxpool.Pool
	cfg     Config
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker
}

// New opens the pool and initializes the breaker. Schema setup is a
// separate, explicit step (EnsureSchema) so migrations stay out of the hot
// path per spec §1's "database migration tooling" out-of-scope note — this
// method only prepares connections.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Repository, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}

	breakerSettings := gobreaker.Settings{
		Name:        "postgres",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &Repository{
		pool:    pool,
		cfg:     cfg,
		logger:  logger,
		breaker: gobreaker.NewCircuitBreaker(breakerSettings),
	}, nil
}

func (r *Repository) Close() { r.pool.Close() }

// withBreaker executes fn through r's circuit breaker, logging breaker-open
// rejections distinctly from underlying query errors. It is a package-level
// generic function rather than a method because Go methods cannot carry
// their own type parameters; every repository method that touches r.pool or
// begins a transaction calls through this so a database outage fails fast
// with gobreaker.ErrOpenState (mapped to 503 by httpx.WriteError) instead of
// piling up blocked queries against a down connection.
func withBreaker[T any](r *Repository, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	result, err := r.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			r.logger.Warn("postgres circuit breaker open, failing fast")
		}
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// oltpCtx derives a context bounded by the OLTP query deadline (spec §5).
func (r *Repository) oltpCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.QueryTimeoutOLTP)
}

func (r *Repository) analyticsCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.QueryTimeoutAnalytics)
}

// EnsureSchema creates the tables/hypertable/indexes this repository needs,
// mirroring the teacher's initSchema helper, extended to every spec §3
// entity. Safe to call repeatedly (CREATE ... IF NOT EXISTS throughout).
func (r *Repository) EnsureSchema(ctx context.Context) error {
	ctx, cancel := r.analyticsCtx(ctx)
	defer cancel()

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS timescaledb`,
		`CREATE TABLE IF NOT EXISTS tourists (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT,
			email TEXT,
			emergency_contact TEXT,
			emergency_phone TEXT,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			safety_score DOUBLE PRECISION NOT NULL DEFAULT 100,
			last_seen TIMESTAMPTZ,
			last_latitude DOUBLE PRECISION,
			last_longitude DOUBLE PRECISION,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS authorities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			badge_number TEXT UNIQUE NOT NULL,
			department TEXT NOT NULL,
			rank TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS trips (
			id BIGSERIAL PRIMARY KEY,
			tourist_id TEXT NOT NULL REFERENCES tourists(id),
			destination TEXT NOT NULL,
			planned_start TIMESTAMPTZ NOT NULL,
			planned_end TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS one_active_trip_per_tourist
			ON trips(tourist_id) WHERE status = 'active'`,
		`CREATE TABLE IF NOT EXISTS zones (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			center_lat DOUBLE PRECISION NOT NULL,
			center_lon DOUBLE PRECISION NOT NULL,
			radius_m DOUBLE PRECISION,
			polygon_vertices JSONB,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			creator_id TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS locations (
			id BIGSERIAL,
			tourist_id TEXT NOT NULL REFERENCES tourists(id),
			trip_id BIGINT,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			altitude DOUBLE PRECISION,
			speed DOUBLE PRECISION,
			accuracy DOUBLE PRECISION NOT NULL,
			client_timestamp TIMESTAMPTZ NOT NULL,
			server_ingest_time TIMESTAMPTZ NOT NULL DEFAULT now(),
			safety_score DOUBLE PRECISION,
			safety_score_updated_at TIMESTAMPTZ,
			PRIMARY KEY (id, server_ingest_time)
		)`,
		`SELECT create_hypertable('locations', 'server_ingest_time', if_not_exists => TRUE)`,
		`CREATE INDEX IF NOT EXISTS locations_tourist_time_idx ON locations(tourist_id, server_ingest_time DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS locations_idempotence_idx ON locations(tourist_id, client_timestamp)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			tourist_id TEXT NOT NULL REFERENCES tourists(id),
			location_id BIGINT,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			metadata JSONB,
			zone_id TEXT,
			bucket_30min TIMESTAMPTZ,
			acknowledged_at TIMESTAMPTZ,
			acknowledged_by TEXT,
			resolved_at TIMESTAMPTZ,
			resolved_by TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		// SPEC_FULL.md Open Question #2: database-level dedup uniqueness.
		`CREATE UNIQUE INDEX IF NOT EXISTS alerts_dedup_idx
			ON alerts(tourist_id, kind, COALESCE(zone_id, ''), bucket_30min)
			WHERE resolved_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id BIGSERIAL PRIMARY KEY,
			alert_id BIGINT UNIQUE NOT NULL REFERENCES alerts(id),
			incident_number TEXT UNIQUE NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			assignee_id TEXT,
			resolution_notes TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS efirs (
			id BIGSERIAL PRIMARY KEY,
			efir_number TEXT UNIQUE NOT NULL,
			alert_id BIGINT NOT NULL REFERENCES alerts(id),
			tourist_id TEXT NOT NULL REFERENCES tourists(id),
			tx_id TEXT UNIQUE NOT NULL,
			nonce TEXT NOT NULL,
			block_hash TEXT UNIQUE NOT NULL,
			tourist_snapshot JSONB NOT NULL,
			officer_snapshot JSONB,
			source TEXT NOT NULL,
			witnesses JSONB,
			evidence JSONB,
			description TEXT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			incident_timestamp TIMESTAMPTZ NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE SEQUENCE IF NOT EXISTS efir_daily_seq`,
		`CREATE SEQUENCE IF NOT EXISTS incident_daily_seq`,
		`CREATE TABLE IF NOT EXISTS broadcasts (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			center_lat DOUBLE PRECISION,
			center_lon DOUBLE PRECISION,
			radius_km DOUBLE PRECISION,
			zone_id TEXT,
			bounds_north DOUBLE PRECISION,
			bounds_south DOUBLE PRECISION,
			bounds_east DOUBLE PRECISION,
			bounds_west DOUBLE PRECISION,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			expires_at TIMESTAMPTZ,
			tourists_notified INT NOT NULL DEFAULT 0,
			devices_notified INT NOT NULL DEFAULT 0,
			acknowledgment_count INT NOT NULL DEFAULT 0
		)`,
		`CREATE SEQUENCE IF NOT EXISTS broadcast_daily_seq`,
		`CREATE TABLE IF NOT EXISTS broadcast_acks (
			broadcast_id TEXT NOT NULL REFERENCES broadcasts(id),
			tourist_id TEXT NOT NULL REFERENCES tourists(id),
			status TEXT NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			notes TEXT,
			acknowledged_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (broadcast_id, tourist_id)
		)`,
		`CREATE TABLE IF NOT EXISTS device_registrations (
			id BIGSERIAL PRIMARY KEY,
			tourist_id TEXT NOT NULL REFERENCES tourists(id),
			push_token TEXT UNIQUE NOT NULL,
			platform TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema setup failed on %.40q: %w", stmt, err)
		}
	}
	return nil
}
