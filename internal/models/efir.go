package models

import "time"

const (
	EFIRSourceTourist   = "tourist"
	EFIRSourceAuthority = "authority"
)

// EFIR is the fully immutable hash-chained incident report of spec §3/§4.8.
// No field is ever mutated after insert.
type EFIR struct {
	ID                int64     `json:"id"`
	EFIRNumber        string    `json:"efir_number"` // EFIR-YYYYMMDD-NNNN
	AlertID           int64     `json:"alert_id"`
	TouristID         string    `json:"tourist_id"`
	TxID              string    `json:"tx_id"`     // hex digest
	Nonce             string    `json:"-"`          // hex, not exposed: re-derives tx_id on verify
	BlockHash         string    `json:"block_hash"` // hex digest
	TouristSnapshot   string    `json:"tourist_snapshot"` // canonical JSON snapshot
	OfficerSnapshot   *string   `json:"officer_snapshot,omitempty"`
	Source            string    `json:"source"`
	Witnesses         []string  `json:"witnesses,omitempty"`
	Evidence          []string  `json:"evidence,omitempty"`
	Description       string    `json:"description"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	IncidentTimestamp time.Time `json:"incident_timestamp"`
	GeneratedAt       time.Time `json:"generated_at"`
}
