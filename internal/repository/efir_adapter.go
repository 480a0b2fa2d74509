package repository

import (
	"context"

	"github.com/safehorizon/pipeline/internal/efir"
)

// BeginTxEFIR adapts BeginTx to the internal/efir.Store interface so the
// Issuer never needs to know about pgx directly.
func (r *Repository) BeginTxEFIR(ctx context.Context) (efir.Tx, error) {
	return r.BeginTx(ctx)
}
