package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/safehorizon/pipeline/internal/models"
)

// Tx wraps a pgx transaction with the handful of operations the E-FIR
// issuer needs inside its advisory-locked critical section (spec §4.8
// "Concurrency"). Using the concrete pgx type directly (rather than a
// hand-rolled narrow interface) keeps this a thin, correctly-typed wrapper.
type Tx struct {
	tx pgx.Tx
}

// BeginTx starts a transaction for the E-FIR issuer's multi-step write.
func (r *Repository) BeginTx(ctx context.Context) (Tx, error) {
	return withBreaker(r, ctx, func(ctx context.Context) (Tx, error) {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return Tx{}, err
		}
		return Tx{tx: tx}, nil
	})
}

func (t Tx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// LockChain takes the advisory transaction lock serializing E-FIR issuance
// across concurrent requests (spec §4.8 "Concurrency").
func (t Tx) LockChain(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('safehorizon-efir-chain'))`)
	return err
}

// LatestBlockHash returns the block_hash of the most recently issued E-FIR,
// or ("", false) if none exist yet (spec §4.8's genesis case), locked for
// update within the caller's transaction.
func (t Tx) LatestBlockHash(ctx context.Context) (string, bool, error) {
	var hash string
	err := t.tx.QueryRow(ctx, `
		SELECT block_hash FROM efirs ORDER BY generated_at DESC LIMIT 1 FOR UPDATE
	`).Scan(&hash)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return hash, true, nil
}

// NextEFIRNumber allocates the next EFIR-YYYYMMDD-NNNN number for today
// using an atomic sequence increment (spec §4.8 step 1).
func (t Tx) NextEFIRNumber(ctx context.Context, day time.Time) (string, error) {
	var seq int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('efir_daily_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("EFIR-%s-%04d", day.Format("20060102"), seq), nil
}

// InsertEFIR persists the immutable E-FIR row (spec §4.8 step 5).
func (t Tx) InsertEFIR(ctx context.Context, e *models.EFIR) error {
	witnessJSON, _ := json.Marshal(e.Witnesses)
	evidenceJSON, _ := json.Marshal(e.Evidence)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO efirs (efir_number, alert_id, tourist_id, tx_id, nonce, block_hash, tourist_snapshot,
			officer_snapshot, source, witnesses, evidence, description, latitude, longitude,
			incident_timestamp, generated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15, now())
	`, e.EFIRNumber, e.AlertID, e.TouristID, e.TxID, e.Nonce, e.BlockHash, e.TouristSnapshot,
		e.OfficerSnapshot, e.Source, witnessJSON, evidenceJSON, e.Description, e.Latitude, e.Longitude,
		e.IncidentTimestamp)
	return err
}

// GetEFIRByTxID fetches an E-FIR for verification (spec §4.8 "Verification
// endpoint").
func (r *Repository) GetEFIRByTxID(ctx context.Context, txID string) (*models.EFIR, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	type efirRow struct {
		e                        models.EFIR
		witnessJSON, evidenceJSON []byte
	}
	res, err := withBreaker(r, ctx, func(ctx context.Context) (efirRow, error) {
		var row efirRow
		err := r.pool.QueryRow(ctx, `
			SELECT id, efir_number, alert_id, tourist_id, tx_id, nonce, block_hash, tourist_snapshot,
			       officer_snapshot, source, witnesses, evidence, description, latitude, longitude,
			       incident_timestamp, generated_at
			FROM efirs WHERE tx_id = $1
		`, txID).Scan(&row.e.ID, &row.e.EFIRNumber, &row.e.AlertID, &row.e.TouristID, &row.e.TxID, &row.e.Nonce, &row.e.BlockHash, &row.e.TouristSnapshot,
			&row.e.OfficerSnapshot, &row.e.Source, &row.witnessJSON, &row.evidenceJSON, &row.e.Description, &row.e.Latitude, &row.e.Longitude,
			&row.e.IncidentTimestamp, &row.e.GeneratedAt)
		return row, err
	})
	if isNoRows(err) {
		return nil, models.ErrNotFound("efir not found")
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(res.witnessJSON, &res.e.Witnesses)
	_ = json.Unmarshal(res.evidenceJSON, &res.e.Evidence)
	return &res.e, nil
}

// PreviousEFIR returns the E-FIR immediately preceding e by generated_at,
// used by the verification endpoint to recompute block_hash (spec §8
// property #4).
func (r *Repository) PreviousEFIR(ctx context.Context, e *models.EFIR) (*models.EFIR, bool, error) {
	ctx, cancel := r.oltpCtx(ctx)
	defer cancel()
	prev, err := withBreaker(r, ctx, func(ctx context.Context) (models.EFIR, error) {
		var prev models.EFIR
		err := r.pool.QueryRow(ctx, `
			SELECT tx_id, block_hash FROM efirs
			WHERE generated_at < $1 ORDER BY generated_at DESC LIMIT 1
		`, e.GeneratedAt).Scan(&prev.TxID, &prev.BlockHash)
		return prev, err
	})
	if isNoRows(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &prev, true, nil
}
