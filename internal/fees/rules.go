// Package fees evaluates fee and commission rules for wakala transactions.
package fees

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Category separates fees charged to the customer from commissions earned by the agent.
type Category string

const (
	CategoryFee        Category = "fee"
	CategoryCommission Category = "commission"
)

// Kind selects how a rule computes its value.
type Kind string

const (
	KindFlat                Kind = "flat"
	KindPercentage          Kind = "percentage"
	KindTiered              Kind = "tiered"
	KindFixedPlusPercentage Kind = "fixed_plus_percentage"
)

// Rule transaction types besides the concrete wakala types.
const (
	TypeAll      = "all"
	TypeTransfer = "transfer"
)

// Tier applies Rate to amounts within [MinAmount, MaxAmount]. An invalid MaxAmount is unbounded.
type Tier struct {
	MinAmount decimal.Decimal     `json:"min_amount"`
	MaxAmount decimal.NullDecimal `json:"max_amount"`
	Rate      decimal.Decimal     `json:"rate"`
}

// Rule is one configured fee or commission rule. Rate is a fraction: 0.01 is 1%.
type Rule struct {
	ID              int64
	Name            string
	Category        Category
	TransactionType string
	NetworkID       *int64
	BankID          *int64
	Kind            Kind
	Flat            decimal.Decimal
	Rate            decimal.Decimal
	Tiers           []Tier
	MinValue        decimal.NullDecimal
	MaxValue        decimal.NullDecimal
	MinAmount       decimal.NullDecimal
	MaxAmount       decimal.NullDecimal
	Active          bool
	Priority        int
}

// Scope narrows rule matching to a settlement rail.
type Scope struct {
	NetworkID *int64
	BankID    *int64
}

// Matches reports whether the rule applies to the transaction.
func (r Rule) Matches(amount decimal.Decimal, txnType string, scope Scope) bool {
	if !r.Active {
		return false
	}
	switch r.TransactionType {
	case TypeAll:
	case TypeTransfer:
		if !strings.HasPrefix(txnType, TypeTransfer) {
			return false
		}
	default:
		if r.TransactionType != txnType {
			return false
		}
	}
	if r.NetworkID != nil && (scope.NetworkID == nil || *scope.NetworkID != *r.NetworkID) {
		return false
	}
	if r.BankID != nil && (scope.BankID == nil || *scope.BankID != *r.BankID) {
		return false
	}
	if r.MinAmount.Valid && amount.LessThan(r.MinAmount.Decimal) {
		return false
	}
	if r.MaxAmount.Valid && amount.GreaterThan(r.MaxAmount.Decimal) {
		return false
	}
	return true
}

// Calculate computes the rule value for amount, clamped to MinValue/MaxValue.
func (r Rule) Calculate(amount decimal.Decimal) decimal.Decimal {
	var value decimal.Decimal
	switch r.Kind {
	case KindFlat:
		value = r.Flat
	case KindPercentage:
		value = amount.Mul(r.Rate)
	case KindFixedPlusPercentage:
		value = r.Flat.Add(amount.Mul(r.Rate))
	case KindTiered:
		value = decimal.Zero
		for _, tier := range r.Tiers {
			if amount.LessThan(tier.MinAmount) {
				continue
			}
			if tier.MaxAmount.Valid && amount.GreaterThan(tier.MaxAmount.Decimal) {
				continue
			}
			value = amount.Mul(tier.Rate)
			break
		}
	default:
		value = decimal.Zero
	}
	if r.MinValue.Valid && value.LessThan(r.MinValue.Decimal) {
		value = r.MinValue.Decimal
	}
	if r.MaxValue.Valid && value.GreaterThan(r.MaxValue.Decimal) {
		value = r.MaxValue.Decimal
	}
	return value.Round(2)
}

// Evaluator picks the highest priority matching rule per category.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator sorts rules by descending priority; ties keep their input order.
func NewEvaluator(rules []Rule) *Evaluator {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Evaluator{rules: sorted}
}

// Evaluate returns the value of the winning rule, or false when none matches.
func (e *Evaluator) Evaluate(category Category, amount decimal.Decimal, txnType string, scope Scope) (decimal.Decimal, bool) {
	if e == nil {
		return decimal.Zero, false
	}
	for _, r := range e.rules {
		if r.Category != category || !r.Matches(amount, txnType, scope) {
			continue
		}
		return r.Calculate(amount), true
	}
	return decimal.Zero, false
}
