// Package efir implements the E-FIR Issuer of spec §4.8: a hash-chained,
// fully immutable incident-report log. No teacher or pack example
// implements a hash chain; this package is built directly on stdlib
// crypto/sha256 + crypto/rand (see DESIGN.md for why no third-party
// ledger/blockchain library in the example pack fit this role).
package efir

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/safehorizon/pipeline/internal/models"
)

// GenesisBlockHash is the fixed constant used as previous_block_hash for the
// first E-FIR ever issued (spec §4.8 step 4; SPEC_FULL.md Open Question #3).
var GenesisBlockHash = sha256Hex([]byte("SAFEHORIZON-GENESIS-BLOCK"))

// Tx is the subset of repository.Tx the issuer drives inside the advisory
// lock.
type Tx interface {
	LockChain(ctx context.Context) error
	LatestBlockHash(ctx context.Context) (string, bool, error)
	NextEFIRNumber(ctx context.Context, day time.Time) (string, error)
	InsertEFIR(ctx context.Context, e *models.EFIR) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store begins the transaction the issuer runs its critical section in, and
// serves lookups for verification.
type Store interface {
	BeginTxEFIR(ctx context.Context) (Tx, error)
	GetEFIRByTxID(ctx context.Context, txID string) (*models.EFIR, error)
	PreviousEFIR(ctx context.Context, e *models.EFIR) (*models.EFIR, bool, error)
}

type Issuer struct {
	store Store
}

func New(store Store) *Issuer {
	return &Issuer{store: store}
}

// Payload is the caller-supplied incident content for issuance (spec §4.8).
type Payload struct {
	AlertID           int64
	TouristSnapshot   models.Tourist
	OfficerSnapshot   *models.Authority
	Source            string
	Description       string
	Latitude          float64
	Longitude         float64
	Witnesses         []string
	Evidence          []string
	IncidentTimestamp time.Time
}

// Issue implements the spec §4.8 `issue()` contract: allocate a number,
// build a canonical representation, compute tx_id and block_hash, and
// persist — all inside a single advisory-locked transaction so concurrent
// issuances produce distinct, correctly chained records (spec §4.8
// "Concurrency").
func (iss *Issuer) Issue(ctx context.Context, p Payload) (*models.EFIR, error) {
	tx, err := iss.store.BeginTxEFIR(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := tx.LockChain(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	number, err := tx.NextEFIRNumber(ctx, now)
	if err != nil {
		return nil, err
	}

	touristSnapshotJSON, err := json.Marshal(p.TouristSnapshot)
	if err != nil {
		return nil, err
	}
	var officerSnapshotPtr *string
	if p.OfficerSnapshot != nil {
		b, err := json.Marshal(p.OfficerSnapshot)
		if err != nil {
			return nil, err
		}
		s := string(b)
		officerSnapshotPtr = &s
	}

	canonical := canonicalBytes(p.AlertID, touristSnapshotJSON, officerSnapshotPtr, p.Description, p.Witnesses, p.Evidence, p.IncidentTimestamp, now)

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate efir nonce: %w", err)
	}
	nonceHex := hex.EncodeToString(nonce)
	txID := sha256Hex(append(canonical, nonce...))

	prevHash, hasPrev, err := tx.LatestBlockHash(ctx)
	if err != nil {
		return nil, err
	}
	if !hasPrev {
		prevHash = GenesisBlockHash
	}

	blockHash := computeBlockHash(txID, prevHash, now)

	e := &models.EFIR{
		EFIRNumber:        number,
		AlertID:           p.AlertID,
		TouristID:         p.TouristSnapshot.ID,
		TxID:              txID,
		Nonce:             nonceHex,
		BlockHash:         blockHash,
		TouristSnapshot:   string(touristSnapshotJSON),
		OfficerSnapshot:   officerSnapshotPtr,
		Source:            p.Source,
		Witnesses:         p.Witnesses,
		Evidence:          p.Evidence,
		Description:       p.Description,
		Latitude:          p.Latitude,
		Longitude:         p.Longitude,
		IncidentTimestamp: p.IncidentTimestamp,
		GeneratedAt:       now,
	}

	if err := tx.InsertEFIR(ctx, e); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	return e, nil
}

// VerifyResult is the spec §6.1 `GET /api/efir/verify/{tx_id}` payload.
type VerifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Verify recomputes block_hash from the stored canonical content + tx_id +
// prior record's block_hash and compares (spec §4.8 "Immutability").
func (iss *Issuer) Verify(ctx context.Context, txID string) (VerifyResult, error) {
	e, err := iss.store.GetEFIRByTxID(ctx, txID)
	if err != nil {
		return VerifyResult{}, err
	}

	canonical := canonicalBytes(e.AlertID, []byte(e.TouristSnapshot), e.OfficerSnapshot, e.Description, e.Witnesses, e.Evidence, e.IncidentTimestamp, e.GeneratedAt)
	nonce, err := hex.DecodeString(e.Nonce)
	if err != nil {
		return VerifyResult{Valid: false, Reason: "content_hash_mismatch"}, nil
	}
	recomputedTxID := sha256Hex(append(canonical, nonce...))
	if recomputedTxID != e.TxID {
		return VerifyResult{Valid: false, Reason: "content_hash_mismatch"}, nil
	}

	prev, hasPrev, err := iss.store.PreviousEFIR(ctx, e)
	if err != nil {
		return VerifyResult{}, err
	}
	prevHash := GenesisBlockHash
	if hasPrev {
		prevHash = prev.BlockHash
	}

	recomputed := computeBlockHash(e.TxID, prevHash, e.GeneratedAt)
	if recomputed != e.BlockHash {
		return VerifyResult{Valid: false, Reason: "content_hash_mismatch"}, nil
	}
	return VerifyResult{Valid: true}, nil
}

func computeBlockHash(txID, prevBlockHash string, canonicalTS time.Time) string {
	buf := []byte(txID + "|" + prevBlockHash + "|" + canonicalTS.UTC().Format(time.RFC3339Nano))
	return sha256Hex(buf)
}

func canonicalBytes(alertID int64, touristSnapshot []byte, officerSnapshot *string, description string, witnesses, evidence []string, incidentTS, generatedAt time.Time) []byte {
	officer := ""
	if officerSnapshot != nil {
		officer = *officerSnapshot
	}
	payload := struct {
		AlertID         int64    `json:"alert_id"`
		TouristSnapshot string   `json:"tourist_snapshot"`
		OfficerSnapshot string   `json:"officer_snapshot"`
		Description     string   `json:"description"`
		Witnesses       []string `json:"witnesses"`
		Evidence        []string `json:"evidence"`
		IncidentTS      string   `json:"incident_timestamp"`
		GeneratedAt     string   `json:"generated_at"`
	}{
		AlertID:         alertID,
		TouristSnapshot: string(touristSnapshot),
		OfficerSnapshot: officer,
		Description:     description,
		Witnesses:       witnesses,
		Evidence:        evidence,
		IncidentTS:      incidentTS.UTC().Format(time.RFC3339Nano),
		GeneratedAt:     generatedAt.UTC().Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(payload)
	return b
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
