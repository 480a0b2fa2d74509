package models

import "time"

// Trip status values (spec §3 "Trip"). At most one Active trip per tourist,
// enforced by the one_active_trip_per_tourist unique index in
// internal/repository's schema.
const (
	TripPlanned   = "planned"
	TripActive    = "active"
	TripCompleted = "completed"
	TripCancelled = "cancelled"
)

type Trip struct {
	ID              int64      `json:"id"`
	TouristID       string     `json:"tourist_id"`
	Destination     string     `json:"destination"`
	PlannedStart    time.Time  `json:"planned_start"`
	PlannedEnd      time.Time  `json:"planned_end"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
}

func ValidTripStatus(s string) bool {
	switch s {
	case TripPlanned, TripActive, TripCompleted, TripCancelled:
		return true
	}
	return false
}
