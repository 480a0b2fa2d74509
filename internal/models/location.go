package models

import (
	"time"
)

// Latitude/longitude bounds shared by every coordinate-bearing entity.
const (
	MinLatitude  float64 = -90.0
	MaxLatitude  float64 = 90.0
	MinLongitude float64 = -180.0
	MaxLongitude float64 = 180.0

	// DefaultAccuracy is assumed when a client omits GPS accuracy.
	DefaultAccuracy float64 = 10.0
	// MaxAccuracy rejects samples whose reported error radius is absurd.
	MaxAccuracy float64 = 1000.0
)

// Location is an append-only GPS sample tied to a tourist and, optionally, a
// trip. Rows are never deleted, and their sample fields never change after
// insert; only the computed safety score columns are filled in afterwards
// (repository SetLocationScore).
type Location struct {
	ID                   int64      `json:"id"`
	TouristID            string     `json:"tourist_id"`
	TripID               *int64     `json:"trip_id,omitempty"`
	Latitude             float64    `json:"latitude"`
	Longitude            float64    `json:"longitude"`
	Altitude             *float64   `json:"altitude,omitempty"`
	Speed                *float64   `json:"speed,omitempty"` // meters/second; see SPEC_FULL.md Open Question #1
	Accuracy             float64    `json:"accuracy"`
	ClientTimestamp      time.Time  `json:"client_timestamp"`
	ServerIngestTime     time.Time  `json:"server_ingest_time"`
	SafetyScore          *float64   `json:"safety_score,omitempty"`
	SafetyScoreUpdatedAt *time.Time `json:"safety_score_updated_at,omitempty"`
}

// Validate checks coordinate and accuracy bounds. Timestamp skew handling
// (server time wins for factors that need "now") is the Scoring Engine's
// concern, not a validation rejection — see internal/scoring.
func (l *Location) Validate() error {
	if l.TouristID == "" {
		return ErrValidation("tourist_id is required")
	}
	if l.Latitude < MinLatitude || l.Latitude > MaxLatitude {
		return ErrValidation("latitude out of range")
	}
	if l.Longitude < MinLongitude || l.Longitude > MaxLongitude {
		return ErrValidation("longitude out of range")
	}
	if l.Accuracy < 0 || l.Accuracy > MaxAccuracy {
		return ErrValidation("accuracy out of range")
	}
	if l.Speed != nil && *l.Speed < 0 {
		return ErrValidation("speed cannot be negative")
	}
	if l.ClientTimestamp.IsZero() {
		return ErrValidation("timestamp is required")
	}
	return nil
}

// ClockSkew reports whether the client timestamp diverges from server ingest
// time by more than the tolerance the Scoring Engine's time-of-day factor
// uses to decide which clock to trust (spec §4.2 "Clock skew").
func (l *Location) ClockSkew(tolerance time.Duration) bool {
	delta := l.ServerIngestTime.Sub(l.ClientTimestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta > tolerance
}
