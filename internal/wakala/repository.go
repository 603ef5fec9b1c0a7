package wakala

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

// Repository defines wakala data access outside a transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetDay(ctx context.Context, id int64) (FinancialDay, error)
	GetDayByDate(ctx context.Context, businessID int64, date time.Time) (FinancialDay, error)
	ListTransactions(ctx context.Context, dayID int64) ([]Transaction, error)
	ListDiscrepancyDays(ctx context.Context, businessID int64, since time.Time) ([]FinancialDay, error)
	ListActiveBusinesses(ctx context.Context) ([]int64, error)
}

// TxRepository defines operations within a transaction. Lookups that precede a
// write lock the row they return.
type TxRepository interface {
	FindOpenDay(ctx context.Context, businessID int64) (FinancialDay, error)
	DayExistsForDate(ctx context.Context, businessID int64, date time.Time) (bool, error)
	InsertDay(ctx context.Context, day FinancialDay) (FinancialDay, error)
	LockDay(ctx context.Context, id int64) (FinancialDay, error)
	SaveClosedDay(ctx context.Context, day FinancialDay) error
	UpdateDiscrepancyNote(ctx context.Context, dayID int64, note string, actorID int64, at time.Time) error

	ListTransactions(ctx context.Context, dayID int64) ([]Transaction, error)
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	LockTransaction(ctx context.Context, id int64) (Transaction, error)
	UpdateTransaction(ctx context.Context, txn Transaction) error
	SoftDeleteTransaction(ctx context.Context, id, actorID int64, at time.Time) error

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

const dayColumns = `id, wakala_id, date, status, opening_balance, opening_balance_note,
	computed_closing_balance, closing_balance, closing_balance_note, discrepancy, discrepancy_note,
	opened_at, opened_by, closed_at, closed_by,
	created_by, updated_by, original_recorder, created_at, updated_at`

const txnColumns = `id, wakala_id, financial_day_id, transaction_code, transaction_type, amount, currency,
	payment_method, customer_name, customer_phone, customer_reference, network_id, bank_id,
	reference_number, status, transaction_timestamp, description, notes, is_deleted,
	created_by, updated_by, original_recorder, created_at, updated_at`

func scanDay(row pgx.Row) (FinancialDay, error) {
	var d FinancialDay
	err := row.Scan(
		&d.ID, &d.BusinessID, &d.Date, &d.Status, &d.OpeningBalance, &d.OpeningBalanceNote,
		&d.ComputedClosingBalance, &d.ClosingBalance, &d.ClosingBalanceNote, &d.Discrepancy, &d.DiscrepancyNote,
		&d.OpenedAt, &d.OpenedBy, &d.ClosedAt, &d.ClosedBy,
		&d.CreatedBy, &d.UpdatedBy, &d.OriginalRecorder, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID, &t.BusinessID, &t.DayID, &t.Code, &t.Type, &t.Amount, &t.Currency,
		&t.PaymentMethod, &t.Counterparty.Name, &t.Counterparty.Phone, &t.Counterparty.Reference, &t.NetworkID, &t.BankID,
		&t.ReferenceNumber, &t.Status, &t.Timestamp, &t.Description, &t.Notes, &t.Deleted,
		&t.CreatedBy, &t.UpdatedBy, &t.OriginalRecorder, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func collectDays(rows pgx.Rows) ([]FinancialDay, error) {
	defer rows.Close()
	var days []FinancialDay
	for rows.Next() {
		d, err := scanDay(rows)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	var txns []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func dayErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDayNotFound
	}
	return db.ClassifyConcurrency(err, "financial day")
}

func (r *pgRepository) GetDay(ctx context.Context, id int64) (FinancialDay, error) {
	d, err := scanDay(r.pool.QueryRow(ctx, `SELECT `+dayColumns+` FROM financial_days WHERE id = $1`, id))
	return d, dayErr(err)
}

func (r *pgRepository) GetDayByDate(ctx context.Context, businessID int64, date time.Time) (FinancialDay, error) {
	d, err := scanDay(r.pool.QueryRow(ctx, `SELECT `+dayColumns+` FROM financial_days WHERE wakala_id = $1 AND date = $2`, businessID, DateOnly(date)))
	return d, dayErr(err)
}

// ListTransactions applies the default predicate: soft-deleted rows are excluded.
func (r *pgRepository) ListTransactions(ctx context.Context, dayID int64) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+txnColumns+` FROM transactions
WHERE financial_day_id = $1 AND NOT is_deleted
ORDER BY transaction_timestamp DESC, id DESC`, dayID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (r *pgRepository) ListDiscrepancyDays(ctx context.Context, businessID int64, since time.Time) ([]FinancialDay, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+dayColumns+` FROM financial_days
WHERE wakala_id = $1 AND status = 'closed' AND discrepancy > 0 AND date >= $2
ORDER BY date DESC`, businessID, DateOnly(since))
	if err != nil {
		return nil, err
	}
	return collectDays(rows)
}

func (r *pgRepository) ListActiveBusinesses(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM wakalas WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *pgTxRepository) FindOpenDay(ctx context.Context, businessID int64) (FinancialDay, error) {
	d, err := scanDay(t.tx.QueryRow(ctx, `SELECT `+dayColumns+` FROM financial_days
WHERE wakala_id = $1 AND status = 'open' FOR UPDATE`, businessID))
	if errors.Is(err, pgx.ErrNoRows) {
		return FinancialDay{}, ErrNoOpenDay
	}
	return d, err
}

func (t *pgTxRepository) DayExistsForDate(ctx context.Context, businessID int64, date time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM financial_days WHERE wakala_id = $1 AND date = $2)`,
		businessID, DateOnly(date)).Scan(&exists)
	return exists, err
}

func (t *pgTxRepository) InsertDay(ctx context.Context, d FinancialDay) (FinancialDay, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO financial_days (
	wakala_id, date, status, opening_balance, opening_balance_note, computed_closing_balance, discrepancy,
	opened_at, opened_by, created_by, updated_by, original_recorder, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9, $9, $10, $10)
RETURNING `+dayColumns,
		d.BusinessID, DateOnly(d.Date), d.Status, d.OpeningBalance, d.OpeningBalanceNote, d.OpeningBalance,
		d.OpenedAt, d.OpenedBy, d.CreatedBy, d.CreatedAt)
	inserted, err := scanDay(row)
	if err != nil {
		return FinancialDay{}, db.Classify(err, "financial day")
	}
	return inserted, nil
}

func (t *pgTxRepository) LockDay(ctx context.Context, id int64) (FinancialDay, error) {
	d, err := scanDay(t.tx.QueryRow(ctx, `SELECT `+dayColumns+` FROM financial_days WHERE id = $1 FOR UPDATE`, id))
	return d, dayErr(err)
}

func (t *pgTxRepository) SaveClosedDay(ctx context.Context, d FinancialDay) error {
	tag, err := t.tx.Exec(ctx, `UPDATE financial_days SET
	status = $2, computed_closing_balance = $3, closing_balance = $4, closing_balance_note = $5,
	discrepancy = $6, closed_at = $7, closed_by = $8, updated_by = $9, updated_at = $10
WHERE id = $1 AND status = 'open'`,
		d.ID, d.Status, d.ComputedClosingBalance, d.ClosingBalance, d.ClosingBalanceNote,
		d.Discrepancy, d.ClosedAt, d.ClosedBy, d.UpdatedBy, d.UpdatedAt)
	if err != nil {
		return db.Classify(err, "financial day")
	}
	if tag.RowsAffected() == 0 {
		return shared.Conflict(fmt.Sprintf("wakala: financial day %d changed concurrently", d.ID))
	}
	return nil
}

func (t *pgTxRepository) UpdateDiscrepancyNote(ctx context.Context, dayID int64, note string, actorID int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE financial_days SET discrepancy_note = $2, updated_by = $3, updated_at = $4 WHERE id = $1`,
		dayID, note, actorID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDayNotFound
	}
	return nil
}

func (t *pgTxRepository) ListTransactions(ctx context.Context, dayID int64) ([]Transaction, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+txnColumns+` FROM transactions
WHERE financial_day_id = $1 AND NOT is_deleted
ORDER BY transaction_timestamp DESC, id DESC`, dayID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (t *pgTxRepository) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	row := t.tx.QueryRow(ctx, `INSERT INTO transactions (
	wakala_id, financial_day_id, transaction_code, transaction_type, amount, currency,
	payment_method, customer_name, customer_phone, customer_reference, network_id, bank_id,
	reference_number, status, transaction_timestamp, description, notes, is_deleted,
	created_by, updated_by, original_recorder, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, false, $18, $18, $18, $19, $19)
RETURNING `+txnColumns,
		txn.BusinessID, txn.DayID, txn.Code, txn.Type, txn.Amount, txn.Currency,
		txn.PaymentMethod, txn.Counterparty.Name, txn.Counterparty.Phone, txn.Counterparty.Reference, txn.NetworkID, txn.BankID,
		txn.ReferenceNumber, txn.Status, txn.Timestamp, txn.Description, txn.Notes,
		txn.OriginalRecorder, txn.CreatedAt)
	inserted, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, db.Classify(err, "transaction")
	}
	return inserted, nil
}

func (t *pgTxRepository) LockTransaction(ctx context.Context, id int64) (Transaction, error) {
	txn, err := scanTransaction(t.tx.QueryRow(ctx, `SELECT `+txnColumns+` FROM transactions
WHERE id = $1 AND NOT is_deleted FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return txn, db.ClassifyConcurrency(err, "transaction")
}

// UpdateTransaction never writes original_recorder or created_by.
func (t *pgTxRepository) UpdateTransaction(ctx context.Context, txn Transaction) error {
	_, err := t.tx.Exec(ctx, `UPDATE transactions SET
	amount = $2, payment_method = $3, customer_name = $4, customer_phone = $5, customer_reference = $6,
	reference_number = $7, description = $8, notes = $9, status = $10, updated_by = $11, updated_at = $12
WHERE id = $1 AND NOT is_deleted`,
		txn.ID, txn.Amount, txn.PaymentMethod, txn.Counterparty.Name, txn.Counterparty.Phone, txn.Counterparty.Reference,
		txn.ReferenceNumber, txn.Description, txn.Notes, txn.Status, txn.UpdatedBy, txn.UpdatedAt)
	return err
}

func (t *pgTxRepository) SoftDeleteTransaction(ctx context.Context, id, actorID int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE transactions SET is_deleted = true, updated_by = $2, updated_at = $3
WHERE id = $1 AND NOT is_deleted`, id, actorID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (t *pgTxRepository) Log(ctx context.Context, event shared.AuditEvent) error {
	return t.audit.Log(ctx, event)
}
