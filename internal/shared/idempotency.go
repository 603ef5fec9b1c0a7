package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Idempotency modules.
const (
	IdempotencyDiscrepancyAlert = "wakala_discrepancy_alert"
)

// IdempotencyStore persists processed keys so repeated job runs act once per key.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

var errIdempotencyNotReady = errors.New("idempotency store not initialised")

// Claim records key under module. It reports false when the key was already claimed.
func (s *IdempotencyStore) Claim(ctx context.Context, module, key string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, errIdempotencyNotReady
	}
	if key == "" || module == "" {
		return false, errors.New("idempotency key and module required")
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)
ON CONFLICT (module, key) DO NOTHING`, key, module, s.now())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release forgets a claim, typically after the claimed work failed.
func (s *IdempotencyStore) Release(ctx context.Context, module, key string) error {
	if s == nil || s.pool == nil {
		return errIdempotencyNotReady
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE module = $1 AND key = $2`, module, key)
	return err
}

// Purge removes claims older than retention and returns how many were dropped.
func (s *IdempotencyStore) Purge(ctx context.Context, module string, retention time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-retention)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE module = $1 AND created_at < $2`, module, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
