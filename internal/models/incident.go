package models

import "time"

const (
	IncidentOpen          = "open"
	IncidentInvestigating = "investigating"
	IncidentResolved      = "resolved"
)

// Incident is the 1:1 authority-side case record tied to an Alert (spec §3
// "Incident"). Created by authority action only.
type Incident struct {
	ID             int64      `json:"id"`
	AlertID        int64      `json:"alert_id"`
	IncidentNumber string     `json:"incident_number"` // INC-YYYYMMDD-NNNN
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	AssigneeID     *string    `json:"assignee_id,omitempty"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
