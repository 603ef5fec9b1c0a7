package shared

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedOracle struct {
	allowed bool
	err     error
	calls   int
}

func (o *fixedOracle) HasRole(context.Context, int64, Scope, ...Role) (bool, error) {
	o.calls++
	return o.allowed, o.err
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	scope := Scope{Kind: ScopeWakala, ID: 10}

	t.Run("superuser bypasses oracle", func(t *testing.T) {
		oracle := &fixedOracle{}
		require.NoError(t, Authorize(ctx, oracle, Actor{ID: 5, Superuser: true}, scope, RoleOwner))
		require.Zero(t, oracle.calls)
	})

	t.Run("anonymous actor is forbidden", func(t *testing.T) {
		err := Authorize(ctx, &fixedOracle{allowed: true}, Actor{}, scope, RoleOwner)
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("missing oracle is forbidden", func(t *testing.T) {
		err := Authorize(ctx, nil, Actor{ID: 5}, scope, RoleOwner)
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("denied role", func(t *testing.T) {
		err := Authorize(ctx, &fixedOracle{}, Actor{ID: 5}, scope, RoleOwner, RoleManager)
		require.ErrorIs(t, err, ErrForbidden)
		require.Contains(t, err.Error(), "user 5")
	})

	t.Run("granted role", func(t *testing.T) {
		require.NoError(t, Authorize(ctx, &fixedOracle{allowed: true}, Actor{ID: 5}, scope, RoleAgent))
	})

	t.Run("oracle failure is returned as is", func(t *testing.T) {
		boom := errors.New("boom")
		err := Authorize(ctx, &fixedOracle{err: boom}, Actor{ID: 5}, scope, RoleAgent)
		require.ErrorIs(t, err, boom)
		require.NotErrorIs(t, err, ErrForbidden)
	})
}
