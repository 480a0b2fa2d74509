package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/safehorizon/pipeline/internal/models"
)

// CreateIncident mints an authority-filed incident (spec §3 "Incident"),
// allocating INC-YYYYMMDD-NNNN from a per-day counter.
func (r *Repository) CreateIncident(ctx context.Context, inc *models.Incident) error {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	_, err := withBreaker(r, ctx, func(ctx context.Context) (struct{}, error) {
		var seq int64
		if err := r.pool.QueryRow(ctx, `SELECT nextval('incident_daily_seq')`).Scan(&seq); err != nil {
			return struct{}{}, err
		}
		inc.IncidentNumber = fmt.Sprintf("INC-%s-%04d", time.Now().UTC().Format("20060102"), seq)
		_, err := r.pool.Exec(ctx, `
			INSERT INTO incidents (alert_id, incident_number, status, priority, assignee_id, resolution_notes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6, now())
		`, inc.AlertID, inc.IncidentNumber, inc.Status, inc.Priority, inc.AssigneeID, inc.ResolutionNotes)
		return struct{}{}, err
	})
	return err
}
