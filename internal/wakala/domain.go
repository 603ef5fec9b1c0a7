package wakala

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/annacash/annacash/internal/shared"
)

// DayStatus enumerates financial day lifecycle stages.
type DayStatus string

const (
	DayStatusDraft DayStatus = "draft"
	DayStatusOpen  DayStatus = "open"
	// DayStatusClosing is reserved for a multi-step close workflow; CloseDay is atomic and never sets it.
	DayStatusClosing DayStatus = "closing"
	DayStatusClosed  DayStatus = "closed"
)

// TransactionType enumerates postable transaction kinds.
type TransactionType string

const (
	TypeDeposit     TransactionType = "deposit"
	TypeWithdrawal  TransactionType = "withdrawal"
	TypeTransferIn  TransactionType = "transfer_in"
	TypeTransferOut TransactionType = "transfer_out"
	TypeFee         TransactionType = "fee"
	TypeCommission  TransactionType = "commission"
	TypeAdjustment  TransactionType = "adjustment"
)

// TransactionTypes lists every postable type in display order.
var TransactionTypes = []TransactionType{
	TypeDeposit, TypeWithdrawal, TypeTransferIn, TypeTransferOut, TypeFee, TypeCommission, TypeAdjustment,
}

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	for _, known := range TransactionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TransactionStatus captures settlement state of a transaction.
type TransactionStatus string

const (
	TxnStatusPending   TransactionStatus = "pending"
	TxnStatusCompleted TransactionStatus = "completed"
	TxnStatusFailed    TransactionStatus = "failed"
	TxnStatusCancelled TransactionStatus = "cancelled"
)

// Valid reports whether s is a known settlement state.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TxnStatusPending, TxnStatusCompleted, TxnStatusFailed, TxnStatusCancelled:
		return true
	}
	return false
}

// Payment methods inferred by the typed helpers.
const (
	MethodCash         = "Cash"
	MethodMobileMoney  = "Mobile Money"
	MethodBankTransfer = "Bank Transfer"
	MethodTransfer     = "Transfer"
)

// FinancialDay is the accounting period of a business. One row per (business, date).
type FinancialDay struct {
	ID                     int64
	BusinessID             int64
	Date                   time.Time
	Status                 DayStatus
	OpeningBalance         decimal.Decimal
	OpeningBalanceNote     string
	ComputedClosingBalance decimal.Decimal
	ClosingBalance         decimal.NullDecimal
	ClosingBalanceNote     string
	Discrepancy            decimal.Decimal
	DiscrepancyNote        string
	OpenedAt               *time.Time
	OpenedBy               *int64
	ClosedAt               *time.Time
	ClosedBy               *int64
	shared.AuditFields
}

// Counterparty identifies the customer on the other side of a transaction.
type Counterparty struct {
	Name      string
	Phone     string
	Reference string
}

// Transaction is a single posting against a financial day.
type Transaction struct {
	ID              int64
	BusinessID      int64
	DayID           int64
	Code            string
	Type            TransactionType
	Amount          decimal.Decimal
	Currency        string
	PaymentMethod   string
	Counterparty    Counterparty
	NetworkID       *int64
	BankID          *int64
	ReferenceNumber string
	Status          TransactionStatus
	Timestamp       time.Time
	Description     string
	Notes           string
	Deleted         bool
	shared.AuditFields
}

// Details carries the optional descriptive fields of a posting.
type Details struct {
	Counterparty    Counterparty
	NetworkID       *int64
	BankID          *int64
	ReferenceNumber string
	Currency        string
	Description     string
	Notes           string
	Status          TransactionStatus
	Timestamp       time.Time
}

// OpenDayInput opens the accounting day for a business.
type OpenDayInput struct {
	BusinessID     int64 `validate:"required,gt=0"`
	Date           time.Time
	OpeningBalance decimal.Decimal
	Note           string `validate:"max=2000"`
}

// CloseDayInput closes the currently open day with a physically counted balance.
type CloseDayInput struct {
	BusinessID     int64 `validate:"required,gt=0"`
	ClosingBalance decimal.Decimal
	Note           string `validate:"max=2000"`
}

// PostInput is the generic posting request.
type PostInput struct {
	BusinessID    int64 `validate:"required,gt=0"`
	DayID         int64 `validate:"required,gt=0"`
	Type          TransactionType
	Amount        decimal.Decimal
	PaymentMethod string `validate:"max=50"`
	Details       Details
}

// UpdateInput edits an existing transaction. Nil fields are left unchanged.
type UpdateInput struct {
	Amount          *decimal.Decimal
	PaymentMethod   *string `validate:"omitempty,max=50"`
	Counterparty    *Counterparty
	ReferenceNumber *string
	Description     *string
	Notes           *string
	Status          *TransactionStatus
}

// TypeTotals sums non-deleted transaction amounts per type.
type TypeTotals map[TransactionType]decimal.Decimal

// DayStatusSnapshot is the read-only view returned by GetDayStatus.
type DayStatusSnapshot struct {
	Exists                 bool                `json:"exists"`
	DayID                  int64               `json:"day_id,omitempty"`
	Date                   time.Time           `json:"date"`
	Status                 string              `json:"status"`
	IsBalanced             *bool               `json:"is_balanced,omitempty"`
	OpeningBalance         decimal.Decimal     `json:"opening_balance"`
	ComputedClosingBalance decimal.Decimal     `json:"computed_closing_balance"`
	ActualClosingBalance   decimal.NullDecimal `json:"actual_closing_balance"`
	Discrepancy            decimal.Decimal     `json:"discrepancy"`
	Totals                 TypeTotals          `json:"totals"`
	DepositsTotal          decimal.Decimal     `json:"deposits_total"`
	WithdrawalsTotal       decimal.Decimal     `json:"withdrawals_total"`
	TransactionCount       int                 `json:"transaction_count"`
}

// StatusNotCreated is reported by GetDayStatus when no day exists for the date.
const StatusNotCreated = "not_created"

var (
	// ErrDayAlreadyOpen is returned when the business already has an open day.
	ErrDayAlreadyOpen = shared.Precondition("wakala: a financial day is already open")
	// ErrDayExists is returned when a day record already exists for the date.
	ErrDayExists = shared.Precondition("wakala: financial day already exists for date")
	// ErrNoOpenDay is returned by CloseDay when nothing is open.
	ErrNoOpenDay = shared.NotFound("wakala: no open financial day")
	// ErrDayNotFound indicates a financial day could not be loaded.
	ErrDayNotFound = shared.NotFound("wakala: financial day not found")
	// ErrDayNotOpen is returned when posting against a day that is not open.
	ErrDayNotOpen = shared.Precondition("wakala: financial day is not open")
	// ErrDayNotClosed is returned when resolving a discrepancy on a day still in progress.
	ErrDayNotClosed = shared.Precondition("wakala: financial day is not closed")
	// ErrDayLocked is returned when altering transactions of a closing/closed day.
	ErrDayLocked = shared.Precondition("wakala: financial day no longer accepts changes")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = shared.Precondition("wakala: amount must be positive")
	// ErrNegativeBalance is returned for negative opening or closing balances.
	ErrNegativeBalance = shared.Precondition("wakala: balance cannot be negative")
	// ErrInvalidType is returned for unknown transaction types.
	ErrInvalidType = shared.Precondition("wakala: unknown transaction type")
	// ErrInvalidStatus is returned for unknown transaction statuses.
	ErrInvalidStatus = shared.Precondition("wakala: unknown transaction status")
	// ErrInsufficientFunds is returned by Withdrawal when the drawer cannot cover the amount.
	ErrInsufficientFunds = shared.Precondition("wakala: insufficient balance for withdrawal")
	// ErrTransactionNotFound indicates a transaction could not be loaded.
	ErrTransactionNotFound = shared.NotFound("wakala: transaction not found")
	// ErrBusinessMismatch is returned when the day belongs to another business.
	ErrBusinessMismatch = shared.Precondition("wakala: financial day belongs to another business")
)
