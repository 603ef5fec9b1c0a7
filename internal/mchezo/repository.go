package mchezo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/annacash/annacash/internal/platform/db"
	"github.com/annacash/annacash/internal/shared"
)

// Repository defines mchezo data access outside a transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetGroup(ctx context.Context, id int64) (Group, error)
	GetCycle(ctx context.Context, id int64) (Cycle, error)
	GetMembership(ctx context.Context, id int64) (Membership, error)
	ListActiveMemberships(ctx context.Context, groupID int64) ([]Membership, error)
	CycleTotals(ctx context.Context, cycleID int64) (CycleTotals, error)
	// ListContributors returns memberships with at least one completed contribution in the cycle.
	ListContributors(ctx context.Context, cycleID int64) ([]int64, error)
	ListPayouts(ctx context.Context, cycleID int64) ([]Payout, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	InsertGroup(ctx context.Context, group Group) (Group, error)
	LockGroup(ctx context.Context, id int64) (Group, error)

	ListActiveMemberships(ctx context.Context, groupID int64) ([]Membership, error)
	InsertMembership(ctx context.Context, m Membership) (Membership, error)
	LockMembership(ctx context.Context, id int64) (Membership, error)
	UpdateMembershipStatus(ctx context.Context, m Membership) error
	GrantRole(ctx context.Context, groupID, userID int64, role shared.Role, grantedBy int64, at time.Time) error
	RevokeRoles(ctx context.Context, groupID, userID int64) error

	FindActiveCycle(ctx context.Context, groupID int64) (Cycle, error)
	MaxCycleNumber(ctx context.Context, groupID int64) (int, error)
	InsertCycle(ctx context.Context, c Cycle) (Cycle, error)
	LockCycle(ctx context.Context, id int64) (Cycle, error)
	SaveCycle(ctx context.Context, c Cycle) error

	InsertContribution(ctx context.Context, c Contribution) (Contribution, error)
	HasPayout(ctx context.Context, cycleID, membershipID int64) (bool, error)
	CountPayouts(ctx context.Context, cycleID int64) (int, error)
	InsertPayout(ctx context.Context, p Payout) (Payout, error)

	// Log appends an audit event inside the transaction.
	Log(ctx context.Context, event shared.AuditEvent) error
}

var _ Repository = (*pgRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)

type pgRepository struct {
	pool *pgxpool.Pool
}

type pgTxRepository struct {
	tx    pgx.Tx
	audit *shared.AuditLogger
}

// NewRepository constructs a Postgres backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, audit: shared.NewAuditLogger(tx)})
	})
}

const groupColumns = `id, name, description, contribution_amount, currency, contribution_frequency, max_members,
	payout_order_method, is_active, is_open, created_by, updated_by, original_recorder, created_at, updated_at`

const membershipColumns = `id, group_id, user_id, status, join_date, exit_date, payout_order, phone_number,
	created_by, updated_by, original_recorder, created_at, updated_at`

const cycleColumns = `id, group_id, cycle_number, status, start_date, end_date, payouts_made, total_payouts, notes,
	created_by, updated_by, original_recorder, created_at, updated_at`

const payoutColumns = `id, cycle_id, membership_id, amount, currency, payout_order, payment_method, reference_number,
	status, scheduled_date, completed_date, notes, created_by, updated_by, original_recorder, created_at, updated_at`

func scanGroup(row pgx.Row) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.ContributionAmount, &g.Currency, &g.Frequency, &g.MaxMembers,
		&g.PayoutOrderMethod, &g.Active, &g.OpenForEnrollment,
		&g.CreatedBy, &g.UpdatedBy, &g.OriginalRecorder, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Group{}, ErrGroupNotFound
	}
	return g, db.ClassifyConcurrency(err, "mchezo group")
}

func scanMembership(row pgx.Row) (Membership, error) {
	var m Membership
	err := row.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Status, &m.JoinDate, &m.ExitDate, &m.PayoutOrder, &m.Phone,
		&m.CreatedBy, &m.UpdatedBy, &m.OriginalRecorder, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Membership{}, ErrMembershipNotFound
	}
	return m, db.ClassifyConcurrency(err, "mchezo membership")
}

func scanCycle(row pgx.Row) (Cycle, error) {
	var c Cycle
	err := row.Scan(&c.ID, &c.GroupID, &c.Number, &c.Status, &c.StartDate, &c.EndDate, &c.PayoutsMade, &c.TotalPayouts, &c.Notes,
		&c.CreatedBy, &c.UpdatedBy, &c.OriginalRecorder, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cycle{}, ErrCycleNotFound
	}
	return c, db.ClassifyConcurrency(err, "mchezo cycle")
}

func scanPayout(row pgx.Row) (Payout, error) {
	var p Payout
	err := row.Scan(&p.ID, &p.CycleID, &p.MembershipID, &p.Amount, &p.Currency, &p.PayoutOrder, &p.PaymentMethod, &p.Reference,
		&p.Status, &p.ScheduledDate, &p.CompletedDate, &p.Notes,
		&p.CreatedBy, &p.UpdatedBy, &p.OriginalRecorder, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func listMemberships(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}, groupID int64) ([]Membership, error) {
	rows, err := q.Query(ctx, `SELECT `+membershipColumns+` FROM mchezo_memberships
WHERE group_id = $1 AND status = 'active'
ORDER BY payout_order, id`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *pgRepository) GetGroup(ctx context.Context, id int64) (Group, error) {
	return scanGroup(r.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM mchezo_groups WHERE id = $1`, id))
}

func (r *pgRepository) GetCycle(ctx context.Context, id int64) (Cycle, error) {
	return scanCycle(r.pool.QueryRow(ctx, `SELECT `+cycleColumns+` FROM mchezo_cycles WHERE id = $1`, id))
}

func (r *pgRepository) GetMembership(ctx context.Context, id int64) (Membership, error) {
	return scanMembership(r.pool.QueryRow(ctx, `SELECT `+membershipColumns+` FROM mchezo_memberships WHERE id = $1`, id))
}

func (r *pgRepository) ListActiveMemberships(ctx context.Context, groupID int64) ([]Membership, error) {
	return listMemberships(ctx, r.pool, groupID)
}

func (r *pgRepository) CycleTotals(ctx context.Context, cycleID int64) (CycleTotals, error) {
	var totals CycleTotals
	err := r.pool.QueryRow(ctx, `SELECT
	COALESCE((SELECT SUM(amount) FROM mchezo_contributions WHERE cycle_id = $1 AND status = 'completed'), 0),
	(SELECT COUNT(*) FROM mchezo_payouts WHERE cycle_id = $1 AND status = 'completed'),
	COALESCE((SELECT SUM(amount) FROM mchezo_payouts WHERE cycle_id = $1 AND status = 'completed'), 0)`,
		cycleID).Scan(&totals.ContributionsTotal, &totals.PayoutsCompleted, &totals.PayoutsTotal)
	return totals, err
}

func (r *pgRepository) ListContributors(ctx context.Context, cycleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT membership_id FROM mchezo_contributions
WHERE cycle_id = $1 AND status = 'completed'`, cycleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *pgRepository) ListPayouts(ctx context.Context, cycleID int64) ([]Payout, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+payoutColumns+` FROM mchezo_payouts WHERE cycle_id = $1 ORDER BY payout_order`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTxRepository) InsertGroup(ctx context.Context, g Group) (Group, error) {
	inserted, err := scanGroup(t.tx.QueryRow(ctx, `INSERT INTO mchezo_groups (
	name, description, contribution_amount, currency, contribution_frequency, max_members,
	payout_order_method, is_active, is_open, created_by, updated_by, original_recorder, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $10, $11, $11)
RETURNING `+groupColumns,
		g.Name, g.Description, g.ContributionAmount, g.Currency, g.Frequency, g.MaxMembers,
		g.PayoutOrderMethod, g.Active, g.OpenForEnrollment, g.OriginalRecorder, g.CreatedAt))
	if err != nil {
		return Group{}, db.Classify(err, "mchezo group")
	}
	return inserted, nil
}

func (t *pgTxRepository) LockGroup(ctx context.Context, id int64) (Group, error) {
	return scanGroup(t.tx.QueryRow(ctx, `SELECT `+groupColumns+` FROM mchezo_groups WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTxRepository) ListActiveMemberships(ctx context.Context, groupID int64) ([]Membership, error) {
	return listMemberships(ctx, t.tx, groupID)
}

func (t *pgTxRepository) InsertMembership(ctx context.Context, m Membership) (Membership, error) {
	inserted, err := scanMembership(t.tx.QueryRow(ctx, `INSERT INTO mchezo_memberships (
	group_id, user_id, status, join_date, payout_order, phone_number,
	created_by, updated_by, original_recorder, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $7, $8, $8)
RETURNING `+membershipColumns,
		m.GroupID, m.UserID, m.Status, m.JoinDate, m.PayoutOrder, m.Phone, m.OriginalRecorder, m.CreatedAt))
	switch db.ViolatedConstraint(err) {
	case "":
	case "mchezo_memberships_group_user_key":
		return Membership{}, ErrDuplicateMember
	case "mchezo_memberships_active_order_idx":
		return Membership{}, ErrPayoutOrderInUse
	}
	if err != nil {
		return Membership{}, db.Classify(err, "mchezo membership")
	}
	return inserted, nil
}

func (t *pgTxRepository) LockMembership(ctx context.Context, id int64) (Membership, error) {
	return scanMembership(t.tx.QueryRow(ctx, `SELECT `+membershipColumns+` FROM mchezo_memberships WHERE id = $1 FOR UPDATE`, id))
}

// UpdateMembershipStatus never writes original_recorder or created_by.
func (t *pgTxRepository) UpdateMembershipStatus(ctx context.Context, m Membership) error {
	tag, err := t.tx.Exec(ctx, `UPDATE mchezo_memberships SET status = $2, exit_date = $3, updated_by = $4, updated_at = $5
WHERE id = $1`, m.ID, m.Status, m.ExitDate, m.UpdatedBy, m.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (t *pgTxRepository) GrantRole(ctx context.Context, groupID, userID int64, role shared.Role, grantedBy int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO mchezo_roles (group_id, user_id, role, is_active, granted_by, granted_at)
VALUES ($1, $2, $3, true, $4, $5)
ON CONFLICT (group_id, user_id, role) DO UPDATE SET is_active = true, granted_by = EXCLUDED.granted_by, granted_at = EXCLUDED.granted_at`,
		groupID, userID, string(role), grantedBy, at)
	return err
}

func (t *pgTxRepository) RevokeRoles(ctx context.Context, groupID, userID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE mchezo_roles SET is_active = false WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return err
}

func (t *pgTxRepository) FindActiveCycle(ctx context.Context, groupID int64) (Cycle, error) {
	c, err := scanCycle(t.tx.QueryRow(ctx, `SELECT `+cycleColumns+` FROM mchezo_cycles
WHERE group_id = $1 AND status = 'active' FOR UPDATE`, groupID))
	if errors.Is(err, ErrCycleNotFound) {
		return Cycle{}, ErrNoActiveCycle
	}
	return c, err
}

func (t *pgTxRepository) MaxCycleNumber(ctx context.Context, groupID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(cycle_number), 0) FROM mchezo_cycles WHERE group_id = $1`, groupID).Scan(&n)
	return n, err
}

func (t *pgTxRepository) InsertCycle(ctx context.Context, c Cycle) (Cycle, error) {
	inserted, err := scanCycle(t.tx.QueryRow(ctx, `INSERT INTO mchezo_cycles (
	group_id, cycle_number, status, start_date, payouts_made, total_payouts, notes,
	created_by, updated_by, original_recorder, created_at, updated_at
) VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $6, $6, $7, $7)
RETURNING `+cycleColumns,
		c.GroupID, c.Number, c.Status, c.StartDate, c.Notes, c.OriginalRecorder, c.CreatedAt))
	if err != nil {
		return Cycle{}, db.Classify(err, "mchezo cycle")
	}
	return inserted, nil
}

func (t *pgTxRepository) LockCycle(ctx context.Context, id int64) (Cycle, error) {
	return scanCycle(t.tx.QueryRow(ctx, `SELECT `+cycleColumns+` FROM mchezo_cycles WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTxRepository) SaveCycle(ctx context.Context, c Cycle) error {
	tag, err := t.tx.Exec(ctx, `UPDATE mchezo_cycles SET
	status = $2, end_date = $3, payouts_made = $4, total_payouts = $5, notes = $6, updated_by = $7, updated_at = $8
WHERE id = $1`, c.ID, c.Status, c.EndDate, c.PayoutsMade, c.TotalPayouts, c.Notes, c.UpdatedBy, c.UpdatedAt)
	if err != nil {
		return db.Classify(err, "mchezo cycle")
	}
	if tag.RowsAffected() == 0 {
		return ErrCycleNotFound
	}
	return nil
}

func (t *pgTxRepository) InsertContribution(ctx context.Context, c Contribution) (Contribution, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO mchezo_contributions (
	cycle_id, membership_id, amount, currency, contribution_week, payment_method, reference_number,
	status, contributed_at, notes, created_by, updated_by, original_recorder, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $11, $12, $12)
RETURNING id`,
		c.CycleID, c.MembershipID, c.Amount, c.Currency, c.Week, c.PaymentMethod, c.Reference,
		c.Status, c.Timestamp, c.Notes, c.OriginalRecorder, c.CreatedAt).Scan(&c.ID)
	if err != nil {
		return Contribution{}, db.Classify(err, "mchezo contribution")
	}
	return c, nil
}

func (t *pgTxRepository) HasPayout(ctx context.Context, cycleID, membershipID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM mchezo_payouts WHERE cycle_id = $1 AND membership_id = $2)`,
		cycleID, membershipID).Scan(&exists)
	return exists, err
}

func (t *pgTxRepository) CountPayouts(ctx context.Context, cycleID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM mchezo_payouts WHERE cycle_id = $1`, cycleID).Scan(&n)
	return n, err
}

func (t *pgTxRepository) InsertPayout(ctx context.Context, p Payout) (Payout, error) {
	inserted, err := scanPayout(t.tx.QueryRow(ctx, `INSERT INTO mchezo_payouts (
	cycle_id, membership_id, amount, currency, payout_order, payment_method, reference_number,
	status, scheduled_date, completed_date, notes, created_by, updated_by, original_recorder, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $12, $13, $13)
RETURNING `+payoutColumns,
		p.CycleID, p.MembershipID, p.Amount, p.Currency, p.PayoutOrder, p.PaymentMethod, p.Reference,
		p.Status, p.ScheduledDate, p.CompletedDate, p.Notes, p.OriginalRecorder, p.CreatedAt))
	if db.ViolatedConstraint(err) == "mchezo_payouts_cycle_membership_key" {
		return Payout{}, fmt.Errorf("%w (membership %d)", ErrDuplicatePayout, p.MembershipID)
	}
	if err != nil {
		return Payout{}, db.Classify(err, "mchezo payout")
	}
	return inserted, nil
}

func (t *pgTxRepository) Log(ctx context.Context, event shared.AuditEvent) error {
	return t.audit.Log(ctx, event)
}
