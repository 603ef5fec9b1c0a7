package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/annacash/annacash/internal/shared"
	"github.com/annacash/annacash/internal/wakala"
)

// TxnOps is the subset of the transaction recorder the CLI drives.
type TxnOps interface {
	PostTransaction(ctx context.Context, actor shared.Actor, in wakala.PostInput) (wakala.Transaction, error)
	Deposit(ctx context.Context, actor shared.Actor, businessID, dayID int64, amount decimal.Decimal, details wakala.Details) (wakala.Transaction, error)
	Withdrawal(ctx context.Context, actor shared.Actor, businessID, dayID int64, amount decimal.Decimal, details wakala.Details) (wakala.Transaction, error)
	TransferIn(ctx context.Context, actor shared.Actor, businessID, dayID int64, amount decimal.Decimal, details wakala.Details) (wakala.Transaction, error)
	TransferOut(ctx context.Context, actor shared.Actor, businessID, dayID int64, amount decimal.Decimal, details wakala.Details) (wakala.Transaction, error)
	UpdateTransaction(ctx context.Context, actor shared.Actor, id int64, in wakala.UpdateInput) (wakala.Transaction, error)
	DeleteTransaction(ctx context.Context, actor shared.Actor, id int64) error
	ListTransactions(ctx context.Context, dayID int64) ([]wakala.Transaction, error)
}

func (c *OpsCLI) txnPost(ctx context.Context, args []string) error {
	var common commonFlags
	var business, day int64
	var kind, amount, method, reference, name, phone, note string
	fs := newFlagSet("txn post", &common)
	fs.Int64Var(&business, "business", 0, "business id")
	fs.Int64Var(&day, "day", 0, "financial day id")
	fs.StringVar(&kind, "type", string(wakala.TypeDeposit), "transaction type")
	fs.StringVar(&amount, "amount", "", "transaction amount")
	fs.StringVar(&method, "method", "", "payment method (inferred for deposits, withdrawals and transfers)")
	fs.StringVar(&reference, "reference", "", "external reference number")
	fs.StringVar(&name, "customer", "", "counterparty name")
	fs.StringVar(&phone, "phone", "", "counterparty phone")
	fs.StringVar(&note, "note", "", "notes")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("business", business); err != nil {
		return err
	}
	if err := requirePositive("day", day); err != nil {
		return err
	}
	value, err := parseAmount("amount", amount)
	if err != nil {
		return err
	}
	txnType := wakala.TransactionType(kind)
	if !txnType.Valid() {
		return fmt.Errorf("%w: unknown --type %q", errUsage, kind)
	}
	details := wakala.Details{
		Counterparty:    wakala.Counterparty{Name: name, Phone: phone},
		ReferenceNumber: reference,
		Notes:           note,
	}
	actor := common.actorValue()

	var txn wakala.Transaction
	switch {
	case method != "":
		txn, err = c.Txns.PostTransaction(ctx, actor, wakala.PostInput{
			BusinessID: business, DayID: day, Type: txnType, Amount: value, PaymentMethod: method, Details: details,
		})
	case txnType == wakala.TypeDeposit:
		txn, err = c.Txns.Deposit(ctx, actor, business, day, value, details)
	case txnType == wakala.TypeWithdrawal:
		txn, err = c.Txns.Withdrawal(ctx, actor, business, day, value, details)
	case txnType == wakala.TypeTransferIn:
		txn, err = c.Txns.TransferIn(ctx, actor, business, day, value, details)
	case txnType == wakala.TypeTransferOut:
		txn, err = c.Txns.TransferOut(ctx, actor, business, day, value, details)
	default:
		txn, err = c.Txns.PostTransaction(ctx, actor, wakala.PostInput{
			BusinessID: business, DayID: day, Type: txnType, Amount: value, Details: details,
		})
	}
	if err != nil {
		return err
	}
	v := newTxnView(txn)
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(v)
	}
	_, _ = fmt.Fprintf(c.Stdout, "recorded %s %s %s (%s) as %s\n", v.Type, v.Amount, v.Currency, v.PaymentMethod, v.Code)
	return nil
}

func (c *OpsCLI) txnEdit(ctx context.Context, args []string) error {
	var common commonFlags
	var id int64
	var amount, method, status, note string
	fs := newFlagSet("txn edit", &common)
	fs.Int64Var(&id, "id", 0, "transaction id")
	fs.StringVar(&amount, "amount", "", "corrected amount")
	fs.StringVar(&method, "method", "", "corrected payment method")
	fs.StringVar(&status, "status", "", "pending, completed, failed or cancelled")
	fs.StringVar(&note, "note", "", "replacement notes")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("id", id); err != nil {
		return err
	}
	var in wakala.UpdateInput
	if fs.Changed("amount") {
		value, err := parseAmount("amount", amount)
		if err != nil {
			return err
		}
		in.Amount = &value
	}
	if fs.Changed("method") {
		in.PaymentMethod = &method
	}
	if fs.Changed("status") {
		st := wakala.TransactionStatus(status)
		if !st.Valid() {
			return fmt.Errorf("%w: unknown --status %q", errUsage, status)
		}
		in.Status = &st
	}
	if fs.Changed("note") {
		in.Notes = &note
	}
	if in == (wakala.UpdateInput{}) {
		return fmt.Errorf("%w: nothing to change", errUsage)
	}
	txn, err := c.Txns.UpdateTransaction(ctx, common.actorValue(), id, in)
	if err != nil {
		return err
	}
	v := newTxnView(txn)
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(v)
	}
	_, _ = fmt.Fprintf(c.Stdout, "updated %s: %s %s %s (%s)\n", v.Code, v.Type, v.Amount, v.Currency, v.PaymentMethod)
	return nil
}

func (c *OpsCLI) txnList(ctx context.Context, args []string) error {
	var common commonFlags
	var day int64
	fs := newFlagSet("txn list", &common)
	fs.Int64Var(&day, "day", 0, "financial day id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("day", day); err != nil {
		return err
	}
	txns, err := c.Txns.ListTransactions(ctx, day)
	if err != nil {
		return err
	}
	views := make([]txnView, len(txns))
	for i, t := range txns {
		views[i] = newTxnView(t)
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(views)
	}
	tw := tabwriter.NewWriter(c.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CODE\tTYPE\tAMOUNT\tMETHOD\tTIME")
	for _, v := range views {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Code, v.Type, v.Amount, v.PaymentMethod, v.Timestamp)
	}
	return tw.Flush()
}

func (c *OpsCLI) txnDelete(ctx context.Context, args []string) error {
	var common commonFlags
	var id int64
	fs := newFlagSet("txn delete", &common)
	fs.Int64Var(&id, "id", 0, "transaction id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("id", id); err != nil {
		return err
	}
	if err := c.Txns.DeleteTransaction(ctx, common.actorValue(), id); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.Stdout, "transaction %d deleted\n", id)
	return nil
}

// txnView is the printable form of a transaction.
type txnView struct {
	ID            int64  `json:"id"`
	Code          string `json:"transaction_code"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
	Timestamp     string `json:"timestamp"`
}

func newTxnView(t wakala.Transaction) txnView {
	return txnView{
		ID:            t.ID,
		Code:          t.Code,
		Type:          string(t.Type),
		Amount:        t.Amount.StringFixed(2),
		Currency:      t.Currency,
		PaymentMethod: t.PaymentMethod,
		Timestamp:     t.Timestamp.Format(time.RFC3339),
	}
}
