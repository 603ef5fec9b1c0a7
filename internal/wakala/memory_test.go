package wakala

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/annacash/annacash/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	nextDay    int64
	nextTxn    int64
	days       map[int64]FinancialDay
	txns       map[int64]Transaction
	events     []shared.AuditEvent
	businesses []int64
	failAudit  bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		days: make(map[int64]FinancialDay),
		txns: make(map[int64]Transaction),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	days := make(map[int64]FinancialDay, len(m.days))
	for k, v := range m.days {
		days[k] = v
	}
	txns := make(map[int64]Transaction, len(m.txns))
	for k, v := range m.txns {
		txns[k] = v
	}
	events := len(m.events)
	nextDay, nextTxn := m.nextDay, m.nextTxn
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.days, m.txns, m.events = days, txns, m.events[:events]
		m.nextDay, m.nextTxn = nextDay, nextTxn
		return err
	}
	return nil
}

func (m *memoryRepo) GetDay(_ context.Context, id int64) (FinancialDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.days[id]
	if !ok {
		return FinancialDay{}, ErrDayNotFound
	}
	return d, nil
}

func (m *memoryRepo) GetDayByDate(_ context.Context, businessID int64, date time.Time) (FinancialDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.days {
		if d.BusinessID == businessID && d.Date.Equal(DateOnly(date)) {
			return d, nil
		}
	}
	return FinancialDay{}, ErrDayNotFound
}

func (m *memoryRepo) ListTransactions(_ context.Context, dayID int64) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listTransactions(dayID), nil
}

func (m *memoryRepo) listTransactions(dayID int64) []Transaction {
	var out []Transaction
	for _, t := range m.txns {
		if t.DayID == dayID && !t.Deleted {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *memoryRepo) ListDiscrepancyDays(_ context.Context, businessID int64, since time.Time) ([]FinancialDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FinancialDay
	for _, d := range m.days {
		if d.BusinessID == businessID && d.Status == DayStatusClosed && d.Discrepancy.IsPositive() && !d.Date.Before(DateOnly(since)) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (m *memoryRepo) ListActiveBusinesses(context.Context) ([]int64, error) {
	return append([]int64(nil), m.businesses...), nil
}

func (m *memoryRepo) allTransactions() []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, 0, len(m.txns))
	for _, t := range m.txns {
		out = append(out, t)
	}
	return out
}

func (m *memoryRepo) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Action
	}
	return out
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) FindOpenDay(_ context.Context, businessID int64) (FinancialDay, error) {
	for _, d := range t.repo.days {
		if d.BusinessID == businessID && d.Status == DayStatusOpen {
			return d, nil
		}
	}
	return FinancialDay{}, ErrNoOpenDay
}

func (t *memoryTx) DayExistsForDate(_ context.Context, businessID int64, date time.Time) (bool, error) {
	for _, d := range t.repo.days {
		if d.BusinessID == businessID && d.Date.Equal(DateOnly(date)) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertDay(_ context.Context, d FinancialDay) (FinancialDay, error) {
	t.repo.nextDay++
	d.ID = t.repo.nextDay
	d.Date = DateOnly(d.Date)
	d.ComputedClosingBalance = d.OpeningBalance
	t.repo.days[d.ID] = d
	return d, nil
}

func (t *memoryTx) LockDay(_ context.Context, id int64) (FinancialDay, error) {
	d, ok := t.repo.days[id]
	if !ok {
		return FinancialDay{}, ErrDayNotFound
	}
	return d, nil
}

func (t *memoryTx) SaveClosedDay(_ context.Context, d FinancialDay) error {
	current, ok := t.repo.days[d.ID]
	if !ok || current.Status != DayStatusOpen {
		return shared.Conflict(fmt.Sprintf("day %d changed concurrently", d.ID))
	}
	t.repo.days[d.ID] = d
	return nil
}

func (t *memoryTx) UpdateDiscrepancyNote(_ context.Context, dayID int64, note string, actorID int64, at time.Time) error {
	d, ok := t.repo.days[dayID]
	if !ok {
		return ErrDayNotFound
	}
	d.DiscrepancyNote = note
	d.UpdatedBy = actorID
	d.UpdatedAt = at
	t.repo.days[dayID] = d
	return nil
}

func (t *memoryTx) ListTransactions(_ context.Context, dayID int64) ([]Transaction, error) {
	return t.repo.listTransactions(dayID), nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, txn Transaction) (Transaction, error) {
	for _, existing := range t.repo.txns {
		if existing.Code == txn.Code {
			return Transaction{}, shared.Conflict("transaction code already exists")
		}
	}
	t.repo.nextTxn++
	txn.ID = t.repo.nextTxn
	t.repo.txns[txn.ID] = txn
	return txn, nil
}

func (t *memoryTx) LockTransaction(_ context.Context, id int64) (Transaction, error) {
	txn, ok := t.repo.txns[id]
	if !ok || txn.Deleted {
		return Transaction{}, ErrTransactionNotFound
	}
	return txn, nil
}

func (t *memoryTx) UpdateTransaction(_ context.Context, txn Transaction) error {
	current, ok := t.repo.txns[txn.ID]
	if !ok || current.Deleted {
		return ErrTransactionNotFound
	}
	txn.OriginalRecorder = current.OriginalRecorder
	txn.CreatedBy = current.CreatedBy
	t.repo.txns[txn.ID] = txn
	return nil
}

func (t *memoryTx) SoftDeleteTransaction(_ context.Context, id, actorID int64, at time.Time) error {
	txn, ok := t.repo.txns[id]
	if !ok || txn.Deleted {
		return ErrTransactionNotFound
	}
	txn.Deleted = true
	txn.UpdatedBy = actorID
	txn.UpdatedAt = at
	t.repo.txns[id] = txn
	return nil
}

func (t *memoryTx) Log(_ context.Context, event shared.AuditEvent) error {
	if t.repo.failAudit {
		return fmt.Errorf("audit store unavailable")
	}
	t.repo.events = append(t.repo.events, event)
	return nil
}

type stubAuthorizer struct {
	grants map[int64][]shared.Role
}

func (s stubAuthorizer) HasRole(_ context.Context, userID int64, _ shared.Scope, roles ...shared.Role) (bool, error) {
	for _, held := range s.grants[userID] {
		for _, want := range roles {
			if held == want {
				return true, nil
			}
		}
	}
	return false, nil
}

const (
	ownerID   int64 = 1
	agentID   int64 = 2
	managerID int64 = 3
	outsideID int64 = 99
	bizID     int64 = 10
)

var (
	owner   = shared.Actor{ID: ownerID}
	agent   = shared.Actor{ID: agentID}
	manager = shared.Actor{ID: managerID}
)

func testAuthorizer() stubAuthorizer {
	return stubAuthorizer{grants: map[int64][]shared.Role{
		ownerID:   {shared.RoleOwner},
		agentID:   {shared.RoleAgent},
		managerID: {shared.RoleManager},
	}}
}

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return testNow }
}
