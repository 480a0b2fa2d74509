package efir

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safehorizon/pipeline/internal/models"
)

// fakeStore is an in-memory stand-in for the repository, grounded on the
// pack's convention of testing business-logic packages against a small
// hand-rolled fake rather than a live database.
type fakeStore struct {
	mu     sync.Mutex
	chain  sync.Mutex // emulates pg_advisory_xact_lock serializing issuance
	rows   []*models.EFIR
	seqs   map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{seqs: make(map[string]int)}
}

type fakeTx struct {
	s   *fakeStore
	day time.Time
}

func (s *fakeStore) BeginTxEFIR(ctx context.Context) (Tx, error) {
	return &fakeTx{s: s}, nil
}

func (s *fakeStore) GetEFIRByTxID(ctx context.Context, txID string) (*models.EFIR, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.rows {
		if e.TxID == txID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound("efir not found")
}

func (s *fakeStore) PreviousEFIR(ctx context.Context, e *models.EFIR) (*models.EFIR, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prev *models.EFIR
	for _, row := range s.rows {
		if row.GeneratedAt.Before(e.GeneratedAt) {
			if prev == nil || row.GeneratedAt.After(prev.GeneratedAt) {
				cp := *row
				prev = &cp
			}
		}
	}
	return prev, prev != nil, nil
}

func (t *fakeTx) LockChain(ctx context.Context) error {
	t.s.chain.Lock()
	return nil
}

func (t *fakeTx) LatestBlockHash(ctx context.Context) (string, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if len(t.s.rows) == 0 {
		return "", false, nil
	}
	return t.s.rows[len(t.s.rows)-1].BlockHash, true, nil
}

func (t *fakeTx) NextEFIRNumber(ctx context.Context, day time.Time) (string, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	key := day.Format("20060102")
	t.s.seqs[key]++
	return fmt.Sprintf("EFIR-%s-%04d", key, t.s.seqs[key]), nil
}

func (t *fakeTx) InsertEFIR(ctx context.Context, e *models.EFIR) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	cp := *e
	t.s.rows = append(t.s.rows, &cp)
	return nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.s.chain.Unlock()
	return nil
}
func (t *fakeTx) Rollback(ctx context.Context) error {
	t.s.chain.Unlock()
	return nil
}

func TestIssueThenVerifyIsValid(t *testing.T) {
	store := newFakeStore()
	iss := New(store)

	e, err := iss.Issue(context.Background(), Payload{
		AlertID:           1,
		TouristSnapshot:   models.Tourist{ID: "t1"},
		Source:            models.EFIRSourceTourist,
		Description:       "lost in the market district",
		IncidentTimestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.TxID)
	assert.NotEmpty(t, e.BlockHash)
	assert.Equal(t, GenesisBlockHash, GenesisBlockHash) // sanity: constant computed once

	result, err := iss.Verify(context.Background(), e.TxID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestHashChainLinksSequentialEFIRs(t *testing.T) {
	store := newFakeStore()
	iss := New(store)
	ctx := context.Background()

	e1, err := iss.Issue(ctx, Payload{AlertID: 1, TouristSnapshot: models.Tourist{ID: "t1"}, IncidentTimestamp: time.Now().UTC()})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	e2, err := iss.Issue(ctx, Payload{AlertID: 2, TouristSnapshot: models.Tourist{ID: "t2"}, IncidentTimestamp: time.Now().UTC()})
	require.NoError(t, err)

	assert.NotEqual(t, e1.TxID, e2.TxID)
	assert.NotEqual(t, e1.BlockHash, e2.BlockHash)
	assert.Equal(t, computeBlockHash(e1.TxID, GenesisBlockHash, e1.GeneratedAt), e1.BlockHash)
	assert.Equal(t, computeBlockHash(e2.TxID, e1.BlockHash, e2.GeneratedAt), e2.BlockHash)
}

// TestVerifyDetectsContentTamper mirrors spec §8 scenario E: corrupting a
// stored E-FIR's description must flip its own verification to invalid
// while leaving its neighbors' verification untouched.
func TestVerifyDetectsContentTamper(t *testing.T) {
	store := newFakeStore()
	iss := New(store)
	ctx := context.Background()

	e1, err := iss.Issue(ctx, Payload{AlertID: 1, TouristSnapshot: models.Tourist{ID: "t1"}, Description: "d1", IncidentTimestamp: time.Now().UTC()})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	e2, err := iss.Issue(ctx, Payload{AlertID: 2, TouristSnapshot: models.Tourist{ID: "t2"}, Description: "d2", IncidentTimestamp: time.Now().UTC()})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	e3, err := iss.Issue(ctx, Payload{AlertID: 3, TouristSnapshot: models.Tourist{ID: "t3"}, Description: "d3", IncidentTimestamp: time.Now().UTC()})
	require.NoError(t, err)

	store.mu.Lock()
	for _, row := range store.rows {
		if row.TxID == e2.TxID {
			row.Description = "corrupted by an attacker"
		}
	}
	store.mu.Unlock()

	result1, err := iss.Verify(ctx, e1.TxID)
	require.NoError(t, err)
	assert.True(t, result1.Valid)

	result2, err := iss.Verify(ctx, e2.TxID)
	require.NoError(t, err)
	assert.False(t, result2.Valid)
	assert.Equal(t, "content_hash_mismatch", result2.Reason)

	result3, err := iss.Verify(ctx, e3.TxID)
	require.NoError(t, err)
	assert.True(t, result3.Valid)
}

func TestConcurrentIssuanceProducesDistinctChainedRecords(t *testing.T) {
	store := newFakeStore()
	iss := New(store)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	results := make([]*models.EFIR, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := iss.Issue(ctx, Payload{
				AlertID:           int64(i),
				TouristSnapshot:   models.Tourist{ID: fmt.Sprintf("t%d", i)},
				IncidentTimestamp: time.Now().UTC(),
			})
			require.NoError(t, err)
			results[i] = e
		}(i)
	}
	wg.Wait()

	seenTx := make(map[string]bool, n)
	seenNum := make(map[string]bool, n)
	for _, e := range results {
		require.NotNil(t, e)
		assert.False(t, seenTx[e.TxID], "duplicate tx_id")
		assert.False(t, seenNum[e.EFIRNumber], "duplicate efir_number")
		seenTx[e.TxID] = true
		seenNum[e.EFIRNumber] = true
	}

	for _, e := range results {
		v, err := iss.Verify(ctx, e.TxID)
		require.NoError(t, err)
		assert.True(t, v.Valid)
	}
}
