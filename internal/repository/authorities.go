package repository

import (
	"context"

	"github.com/safehorizon/pipeline/internal/models"
)

// GetAuthority fetches an authority identity by id, used to build the
// officer snapshot embedded in an authority-filed E-FIR (spec §4.8).
func (r *Repository) GetAuthority(ctx context.Context, id string) (*models.Authority, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	a, err := withBreaker(r, ctx, func(ctx context.Context) (models.Authority, error) {
		var a models.Authority
		err := r.pool.QueryRow(ctx, `
			SELECT id, name, badge_number, department, rank, created_at
			FROM authorities WHERE id = $1
		`, id).Scan(&a.ID, &a.Name, &a.BadgeNumber, &a.Department, &a.Rank, &a.CreatedAt)
		return a, err
	})
	if isNoRows(err) {
		return nil, models.ErrNotFound("authority not found")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAuthority persists a new authority identity. Credential issuance
// itself is out of scope (spec §1 "credential registration/login flows");
// this supports operator tooling that provisions authority rows directly.
func (r *Repository) CreateAuthority(ctx context.Context, a *models.Authority) error {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	_, err := withBreaker(r, ctx, func(ctx context.Context) (struct{}, error) {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO authorities (id, name, badge_number, department, rank, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
		`, a.ID, a.Name, a.BadgeNumber, a.Department, a.Rank)
		return struct{}{}, err
	})
	return err
}
