package models

import "time"

const (
	BroadcastRadius = "radius"
	BroadcastZone   = "zone"
	BroadcastRegion = "region"
	BroadcastAll    = "all"

	AckSafe       = "safe"
	AckNeedHelp   = "need_help"
	AckEvacuating = "evacuating"
)

// Broadcast is an operator-initiated area-targeted notification (spec §3/§4.7).
type Broadcast struct {
	ID                  string     `json:"id"` // BCAST-YYYYMMDD-NNNN
	Type                string     `json:"type"`
	CenterLat           *float64   `json:"center_lat,omitempty"`
	CenterLon           *float64   `json:"center_lon,omitempty"`
	RadiusKM            *float64   `json:"radius_km,omitempty"`
	ZoneID              *string    `json:"zone_id,omitempty"`
	BoundsNorth         *float64   `json:"bounds_north,omitempty"`
	BoundsSouth         *float64   `json:"bounds_south,omitempty"`
	BoundsEast          *float64   `json:"bounds_east,omitempty"`
	BoundsWest          *float64   `json:"bounds_west,omitempty"`
	Title               string     `json:"title"`
	Message             string     `json:"message"`
	Severity            string     `json:"severity"`
	SenderID            string     `json:"sender_id"`
	SentAt              time.Time  `json:"sent_at"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	TouristsNotified    int        `json:"tourists_notified"`
	DevicesNotified     int        `json:"devices_notified"`
	AcknowledgmentCount int        `json:"acknowledgment_count"`
}

// Expired reports whether the broadcast should be hidden from tourist-side
// listing endpoints (spec §4.7 "Expiry"). History views ignore this.
func (b *Broadcast) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

// BroadcastAck is a tourist's response to a Broadcast, unique per
// (broadcast, tourist) (spec §3 "Broadcast-acknowledgment").
type BroadcastAck struct {
	BroadcastID    string     `json:"broadcast_id"`
	TouristID      string     `json:"tourist_id"`
	Status         string     `json:"status"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	AcknowledgedAt time.Time  `json:"acknowledged_at"`
}

func ValidAckStatus(s string) bool {
	switch s {
	case AckSafe, AckNeedHelp, AckEvacuating:
		return true
	}
	return false
}
