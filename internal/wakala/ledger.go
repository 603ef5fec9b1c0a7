package wakala

import (
	"time"

	"github.com/shopspring/decimal"
)

// ComputeClosingBalance derives the expected drawer balance of a day:
// opening + deposits - withdrawals over non-deleted transactions.
// Transfers, fees, commissions and adjustments are tracked in the totals
// but do not move the reconciled cash balance.
func ComputeClosingBalance(opening decimal.Decimal, txns []Transaction) decimal.Decimal {
	balance := opening
	for _, t := range txns {
		if t.Deleted {
			continue
		}
		switch t.Type {
		case TypeDeposit:
			balance = balance.Add(t.Amount)
		case TypeWithdrawal:
			balance = balance.Sub(t.Amount)
		}
	}
	return balance
}

// Discrepancy is computed minus counted. Positive means cash is missing, negative a surplus.
func Discrepancy(computed, counted decimal.Decimal) decimal.Decimal {
	return computed.Sub(counted)
}

// SummarizeTotals sums non-deleted transactions per type and counts them.
func SummarizeTotals(txns []Transaction) (TypeTotals, int) {
	totals := make(TypeTotals, len(TransactionTypes))
	for _, typ := range TransactionTypes {
		totals[typ] = decimal.Zero
	}
	count := 0
	for _, t := range txns {
		if t.Deleted {
			continue
		}
		totals[t.Type] = totals[t.Type].Add(t.Amount)
		count++
	}
	return totals, count
}

// ValidateAmount rejects zero and negative amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// CanPost reports whether new transactions may be recorded against the day.
func (d FinancialDay) CanPost() error {
	if d.Status != DayStatusOpen {
		return ErrDayNotOpen
	}
	return nil
}

// Editable reports whether transactions under the day may still be edited.
func (d FinancialDay) Editable() bool {
	return d.Status == DayStatusDraft || d.Status == DayStatusOpen
}

// Deletable reports whether transactions under the day may be soft deleted.
func (d FinancialDay) Deletable() bool {
	return d.Status == DayStatusOpen
}

// IsBalanced is true for any non-closed day and for closed days without discrepancy.
func (d FinancialDay) IsBalanced() bool {
	if d.Status != DayStatusClosed {
		return true
	}
	return d.Discrepancy.IsZero()
}

// Close applies the reconciliation to the in-memory day.
func (d FinancialDay) Close(txns []Transaction, counted decimal.Decimal, note string, actorID int64, at time.Time) (FinancialDay, error) {
	if d.Status != DayStatusOpen {
		return d, ErrDayNotOpen
	}
	if counted.IsNegative() {
		return d, ErrNegativeBalance
	}
	computed := ComputeClosingBalance(d.OpeningBalance, txns)
	d.ComputedClosingBalance = computed
	d.ClosingBalance = decimal.NewNullDecimal(counted)
	d.ClosingBalanceNote = note
	d.Discrepancy = Discrepancy(computed, counted)
	d.Status = DayStatusClosed
	closedAt := at
	closedBy := actorID
	d.ClosedAt = &closedAt
	d.ClosedBy = &closedBy
	d.AuditFields = d.AuditFields.Touch(actorID, at)
	return d, nil
}

// InferPaymentMethod picks the payment method from the settlement rails present.
func InferPaymentMethod(networkID, bankID *int64) string {
	switch {
	case bankID != nil:
		return MethodBankTransfer
	case networkID != nil:
		return MethodMobileMoney
	default:
		return MethodCash
	}
}

// Snapshot builds the GetDayStatus view of a day and its transactions.
func Snapshot(d FinancialDay, txns []Transaction) DayStatusSnapshot {
	totals, count := SummarizeTotals(txns)
	snap := DayStatusSnapshot{
		Exists:                 true,
		DayID:                  d.ID,
		Date:                   d.Date,
		Status:                 string(d.Status),
		OpeningBalance:         d.OpeningBalance,
		ComputedClosingBalance: d.ComputedClosingBalance,
		ActualClosingBalance:   d.ClosingBalance,
		Discrepancy:            d.Discrepancy,
		Totals:                 totals,
		DepositsTotal:          totals[TypeDeposit],
		WithdrawalsTotal:       totals[TypeWithdrawal],
		TransactionCount:       count,
	}
	if d.Status == DayStatusClosed {
		balanced := d.IsBalanced()
		snap.IsBalanced = &balanced
	} else {
		snap.ComputedClosingBalance = ComputeClosingBalance(d.OpeningBalance, txns)
	}
	return snap
}

// DateOnly keeps the calendar date of t in its own location, normalised to UTC midnight.
func DateOnly(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}
