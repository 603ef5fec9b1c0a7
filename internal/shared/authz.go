package shared

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ScopeKind names the entity a role is scoped to.
type ScopeKind string

const (
	ScopeWakala ScopeKind = "wakala"
	ScopeMchezo ScopeKind = "mchezo"
)

// Scope is the minimal entity reference an authorization check needs.
type Scope struct {
	Kind ScopeKind
	ID   int64
}

// Role is a scoped role name.
type Role string

// Wakala roles.
const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleAgent   Role = "agent"
)

// Mchezo roles.
const (
	RoleAdmin     Role = "admin"
	RoleTreasurer Role = "treasurer"
	RoleMember    Role = "member"
)

// Authorizer is the external authorization oracle.
type Authorizer interface {
	HasRole(ctx context.Context, userID int64, scope Scope, roles ...Role) (bool, error)
}

// Authorize checks the actor against the oracle. Superusers bypass the lookup.
func Authorize(ctx context.Context, authz Authorizer, actor Actor, scope Scope, roles ...Role) error {
	if actor.Superuser {
		return nil
	}
	if actor.ID == 0 {
		return Forbidden("actor required")
	}
	if authz == nil {
		return Forbidden("authorization oracle not configured")
	}
	ok, err := authz.HasRole(ctx, actor.ID, scope, roles...)
	if err != nil {
		return err
	}
	if !ok {
		return Forbidden(fmt.Sprintf("user %d lacks %v on %s %d", actor.ID, roles, scope.Kind, scope.ID))
	}
	return nil
}

// RoleStore answers HasRole from the wakala_roles and mchezo_roles tables.
type RoleStore struct {
	pool *pgxpool.Pool
}

// NewRoleStore constructs a RoleStore.
func NewRoleStore(pool *pgxpool.Pool) *RoleStore {
	return &RoleStore{pool: pool}
}

// HasRole reports whether the user holds any of roles on the scope.
func (s *RoleStore) HasRole(ctx context.Context, userID int64, scope Scope, roles ...Role) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("role store not initialised")
	}
	if len(roles) == 0 {
		return false, nil
	}
	var query string
	switch scope.Kind {
	case ScopeWakala:
		query = `SELECT EXISTS (SELECT 1 FROM wakala_roles WHERE user_id = $1 AND wakala_id = $2 AND role = ANY($3) AND is_active)`
	case ScopeMchezo:
		query = `SELECT EXISTS (SELECT 1 FROM mchezo_roles WHERE user_id = $1 AND group_id = $2 AND role = ANY($3) AND is_active)`
	default:
		return false, fmt.Errorf("unknown scope kind %q", scope.Kind)
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	var ok bool
	if err := s.pool.QueryRow(ctx, query, userID, scope.ID, names).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
