package wakala

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/annacash/annacash/internal/fees"
	"github.com/annacash/annacash/internal/shared"
)

// FeeEvaluator prices a posting. Billing consumes the result; balances never do.
type FeeEvaluator interface {
	Evaluate(category fees.Category, amount decimal.Decimal, txnType string, scope fees.Scope) (decimal.Decimal, bool)
}

// TransactionService records, edits and soft deletes transactions.
type TransactionService struct {
	repo     Repository
	authz    shared.Authorizer
	cache    *shared.StatusCache
	logger   *slog.Logger
	validate *validator.Validate
	fees     FeeEvaluator
	newCode  CodeGenerator
	currency string
	now      func() time.Time
}

// NewTransactionService constructs a TransactionService. cache and logger may be nil.
func NewTransactionService(repo Repository, authz shared.Authorizer, cache *shared.StatusCache, logger *slog.Logger) *TransactionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionService{
		repo:     repo,
		authz:    authz,
		cache:    cache,
		logger:   logger,
		validate: validator.New(),
		newCode:  NewTransactionCode,
		currency: shared.DefaultCurrency,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *TransactionService) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetCodeGenerator swaps the transaction code generator.
func (s *TransactionService) SetCodeGenerator(gen CodeGenerator) {
	if gen != nil {
		s.newCode = gen
	}
}

// SetFeeEvaluator injects the fee/commission evaluator.
func (s *TransactionService) SetFeeEvaluator(evaluator FeeEvaluator) {
	s.fees = evaluator
}

// SetCurrency sets the default currency stamped on new transactions.
func (s *TransactionService) SetCurrency(code string) {
	if code != "" {
		s.currency = code
	}
}

// PostTransaction validates and records a transaction against an open day.
// Preconditions are checked in order: day open, then amount positive.
func (s *TransactionService) PostTransaction(ctx context.Context, actor shared.Actor, in PostInput) (Transaction, error) {
	return s.post(ctx, actor, in, nil)
}

// Deposit records a cash-in. Payment method is inferred from the network.
func (s *TransactionService) Deposit(ctx context.Context, actor shared.Actor, businessID, dayID int64, amount decimal.Decimal, details Details) (Transaction, error) {
	details.BankID = nil
	return s.post(ctx, actor, PostInput{
		BusinessID:    businessID,
		DayID:         dayID,
		Type:          TypeDeposit,
		Amount:        amount,
		PaymentMethod: InferPaymentMethod(details.NetworkID, nil),
		Details:       details,
	}, nil)
}

// Withdrawal records a cash-out. The drawer must cover the amount: the check
// reads the computed balance inside the same store transaction as the insert.
func (s *TransactionService) Withdrawal(ctx context.Context, actor shared.Actor, businessID, dayID int64, amount decimal.Decimal, details Details) (Transaction, error) {
	return s.post(ctx, actor, PostInput{
		BusinessID:    businessID,
		DayID:         dayID,
		Type:          TypeWithdrawal,
		Amount:        amount,
		PaymentMethod: InferPaymentMethod(details.NetworkID, details.BankID),
		Details:       details,
	}, requireFunds)
}

// TransferIn records an incoming transfer.
func (s *TransactionService) TransferIn(ctx context.Context, actor shared.Actor, businessID, dayID int64, amount decimal.Decimal, details Details) (Transaction, error) {
	return s.post(ctx, actor, PostInput{
		BusinessID:    businessID,
		DayID:         dayID,
		Type:          TypeTransferIn,
		Amount:        amount,
		PaymentMethod: MethodTransfer,
		Details:       details,
	}, nil)
}

// TransferOut records an outgoing transfer.
func (s *TransactionService) TransferOut(ctx context.Context, actor shared.Actor, businessID, dayID int64, amount decimal.Decimal, details Details) (Transaction, error) {
	return s.post(ctx, actor, PostInput{
		BusinessID:    businessID,
		DayID:         dayID,
		Type:          TypeTransferOut,
		Amount:        amount,
		PaymentMethod: MethodTransfer,
		Details:       details,
	}, nil)
}

// postCheck runs inside the posting transaction after the generic preconditions.
type postCheck func(day FinancialDay, txns []Transaction, amount decimal.Decimal) error

func requireFunds(day FinancialDay, txns []Transaction, amount decimal.Decimal) error {
	balance := ComputeClosingBalance(day.OpeningBalance, txns)
	if amount.GreaterThan(balance) {
		return fmt.Errorf("%w: requested %s, available %s", ErrInsufficientFunds, amount.StringFixed(2), balance.StringFixed(2))
	}
	return nil
}

func (s *TransactionService) post(ctx context.Context, actor shared.Actor, in PostInput, check postCheck) (Transaction, error) {
	if err := s.validate.Struct(in); err != nil {
		return Transaction{}, shared.Precondition(fmt.Sprintf("wakala: invalid posting: %v", err))
	}
	if err := shared.Authorize(ctx, s.authz, actor, wakalaScope(in.BusinessID), shared.RoleOwner, shared.RoleManager, shared.RoleAgent); err != nil {
		return Transaction{}, err
	}
	var txn Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		day, err := tx.LockDay(ctx, in.DayID)
		if err != nil {
			return err
		}
		if day.BusinessID != in.BusinessID {
			return ErrBusinessMismatch
		}
		if err := day.CanPost(); err != nil {
			return err
		}
		if err := ValidateAmount(in.Amount); err != nil {
			return err
		}
		if !in.Type.Valid() {
			return fmt.Errorf("%w %q", ErrInvalidType, in.Type)
		}
		if status := in.Details.Status; status != "" && !status.Valid() {
			return fmt.Errorf("%w %q", ErrInvalidStatus, status)
		}
		if check != nil {
			txns, err := tx.ListTransactions(ctx, day.ID)
			if err != nil {
				return err
			}
			if err := check(day, txns, in.Amount); err != nil {
				return err
			}
		}

		at := s.now()
		code, err := s.newCode(at)
		if err != nil {
			return err
		}
		txn, err = tx.InsertTransaction(ctx, s.buildTransaction(actor, in, code, at))
		if err != nil {
			return err
		}
		s.audit(ctx, tx, s.transactionEvent(actor.ID, txn, at))
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	invalidate(ctx, s.cache, s.logger, in.BusinessID)
	return txn, nil
}

func (s *TransactionService) buildTransaction(actor shared.Actor, in PostInput, code string, at time.Time) Transaction {
	d := in.Details
	currency := d.Currency
	if currency == "" {
		currency = s.currency
	}
	status := d.Status
	if status == "" {
		status = TxnStatusCompleted
	}
	timestamp := d.Timestamp
	if timestamp.IsZero() {
		timestamp = at
	}
	method := in.PaymentMethod
	if method == "" {
		method = InferPaymentMethod(d.NetworkID, d.BankID)
	}
	return Transaction{
		BusinessID:      in.BusinessID,
		DayID:           in.DayID,
		Code:            code,
		Type:            in.Type,
		Amount:          in.Amount,
		Currency:        currency,
		PaymentMethod:   method,
		Counterparty:    d.Counterparty,
		NetworkID:       d.NetworkID,
		BankID:          d.BankID,
		ReferenceNumber: d.ReferenceNumber,
		Status:          status,
		Timestamp:       timestamp,
		Description:     d.Description,
		Notes:           d.Notes,
		AuditFields:     shared.NewAuditFields(actor.ID, at),
	}
}

// UpdateTransaction edits a transaction while its day is still draft or open.
// The original recorder is never reassigned.
func (s *TransactionService) UpdateTransaction(ctx context.Context, actor shared.Actor, id int64, in UpdateInput) (Transaction, error) {
	if err := s.validate.Struct(in); err != nil {
		return Transaction{}, shared.Precondition(fmt.Sprintf("wakala: invalid edit: %v", err))
	}
	if in.Status != nil && !in.Status.Valid() {
		return Transaction{}, fmt.Errorf("%w %q", ErrInvalidStatus, *in.Status)
	}
	var updated Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := shared.Authorize(ctx, s.authz, actor, wakalaScope(current.BusinessID), shared.RoleOwner, shared.RoleManager, shared.RoleAgent); err != nil {
			return err
		}
		day, err := tx.LockDay(ctx, current.DayID)
		if err != nil {
			return err
		}
		if !day.Editable() {
			return ErrDayLocked
		}
		updated = applyUpdate(current, in)
		if err := ValidateAmount(updated.Amount); err != nil {
			return err
		}
		at := s.now()
		updated.AuditFields = current.AuditFields.Touch(actor.ID, at)
		if err := tx.UpdateTransaction(ctx, updated); err != nil {
			return err
		}
		s.audit(ctx, tx, shared.AuditEvent{
			ActorID:     actor.ID,
			Action:      shared.AuditUpdateTransaction,
			Entity:      "transaction",
			EntityID:    strconv.FormatInt(id, 10),
			Description: fmt.Sprintf("Transaction %s edited", current.Code),
			OldValues:   transactionValues(current),
			NewValues:   transactionValues(updated),
			Meta:        map[string]any{"transaction_code": current.Code},
			At:          at,
		})
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	invalidate(ctx, s.cache, s.logger, updated.BusinessID)
	return updated, nil
}

func applyUpdate(t Transaction, in UpdateInput) Transaction {
	if in.Amount != nil {
		t.Amount = *in.Amount
	}
	if in.PaymentMethod != nil {
		t.PaymentMethod = *in.PaymentMethod
	}
	if in.Counterparty != nil {
		t.Counterparty = *in.Counterparty
	}
	if in.ReferenceNumber != nil {
		t.ReferenceNumber = *in.ReferenceNumber
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Notes != nil {
		t.Notes = *in.Notes
	}
	if in.Status != nil {
		t.Status = *in.Status
	}
	return t
}

// DeleteTransaction soft deletes a transaction while its day is open.
func (s *TransactionService) DeleteTransaction(ctx context.Context, actor shared.Actor, id int64) error {
	var businessID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		businessID = current.BusinessID
		if err := shared.Authorize(ctx, s.authz, actor, wakalaScope(current.BusinessID), shared.RoleOwner, shared.RoleManager); err != nil {
			return err
		}
		day, err := tx.LockDay(ctx, current.DayID)
		if err != nil {
			return err
		}
		if !day.Deletable() {
			return ErrDayLocked
		}
		at := s.now()
		if err := tx.SoftDeleteTransaction(ctx, id, actor.ID, at); err != nil {
			return err
		}
		s.audit(ctx, tx, shared.AuditEvent{
			ActorID:     actor.ID,
			Action:      shared.AuditDeleteTransaction,
			Entity:      "transaction",
			EntityID:    strconv.FormatInt(id, 10),
			Description: fmt.Sprintf("Transaction %s deleted", current.Code),
			OldValues:   transactionValues(current),
			Meta:        map[string]any{"transaction_code": current.Code},
			At:          at,
		})
		return nil
	})
	if err != nil {
		return err
	}
	invalidate(ctx, s.cache, s.logger, businessID)
	return nil
}

// ListTransactions returns the non-deleted transactions of a day, newest first.
func (s *TransactionService) ListTransactions(ctx context.Context, dayID int64) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, dayID)
}

func (s *TransactionService) audit(ctx context.Context, sink shared.AuditSink, event shared.AuditEvent) {
	shared.LogBestEffort(ctx, s.logger, sink, event)
}

func (s *TransactionService) transactionEvent(actorID int64, txn Transaction, at time.Time) shared.AuditEvent {
	meta := map[string]any{
		"timestamp":        txn.Timestamp.Format(time.RFC3339Nano),
		"transaction_code": txn.Code,
	}
	scope := fees.Scope{NetworkID: txn.NetworkID, BankID: txn.BankID}
	if fee, ok := s.evaluate(fees.CategoryFee, txn, scope); ok {
		meta["fee"] = fee.StringFixed(2)
	}
	if commission, ok := s.evaluate(fees.CategoryCommission, txn, scope); ok {
		meta["commission"] = commission.StringFixed(2)
	}
	return shared.AuditEvent{
		ActorID:     actorID,
		Action:      shared.AuditRecordTransaction,
		Entity:      "transaction",
		EntityID:    strconv.FormatInt(txn.ID, 10),
		Description: fmt.Sprintf("Transaction %s: %s of %s", txn.Code, txn.Type, shared.FormatAmount(txn.Amount, txn.Currency)),
		OldValues:   map[string]any{},
		NewValues:   transactionValues(txn),
		Meta:        meta,
		At:          at,
	}
}

func (s *TransactionService) evaluate(category fees.Category, txn Transaction, scope fees.Scope) (decimal.Decimal, bool) {
	if s.fees == nil {
		return decimal.Zero, false
	}
	return s.fees.Evaluate(category, txn.Amount, string(txn.Type), scope)
}

func transactionValues(t Transaction) map[string]any {
	return map[string]any{
		"amount":           t.Amount.StringFixed(2),
		"transaction_type": string(t.Type),
		"payment_method":   t.PaymentMethod,
		"status":           string(t.Status),
		"wakala_id":        strconv.FormatInt(t.BusinessID, 10),
		"financial_day_id": strconv.FormatInt(t.DayID, 10),
	}
}
