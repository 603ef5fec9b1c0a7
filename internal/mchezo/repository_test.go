package mchezo

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/annacash/annacash/internal/shared"
)

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func TestLockedRowScansClassifyConcurrentUpdates(t *testing.T) {
	serialization := &pgconn.PgError{Code: "40001"}

	_, err := scanCycle(errRow{serialization})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.True(t, shared.IsRetryable(err))

	_, err = scanGroup(errRow{&pgconn.PgError{Code: "40P01"}})
	require.True(t, shared.IsRetryable(err))

	_, err = scanMembership(errRow{serialization})
	require.True(t, shared.IsRetryable(err))

	_, err = scanCycle(errRow{pgx.ErrNoRows})
	require.ErrorIs(t, err, ErrCycleNotFound)
}
