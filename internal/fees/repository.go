package fees

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads rule configuration.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveRules returns every active fee and commission rule.
func (r *Repository) ListActiveRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, category, transaction_type, network_id, bank_id, kind,
	flat_value, rate, tiers, min_value, max_value, min_amount, max_amount, priority
FROM fee_rules WHERE is_active ORDER BY priority DESC, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Rule, error) {
		var (
			rule  Rule
			tiers []byte
		)
		err := row.Scan(&rule.ID, &rule.Name, &rule.Category, &rule.TransactionType, &rule.NetworkID, &rule.BankID, &rule.Kind,
			&rule.Flat, &rule.Rate, &tiers, &rule.MinValue, &rule.MaxValue, &rule.MinAmount, &rule.MaxAmount, &rule.Priority)
		if err != nil {
			return Rule{}, err
		}
		if len(tiers) > 0 {
			if err := json.Unmarshal(tiers, &rule.Tiers); err != nil {
				return Rule{}, fmt.Errorf("fees: rule %d tiers: %w", rule.ID, err)
			}
		}
		rule.Active = true
		return rule, nil
	})
}

// LoadEvaluator builds an Evaluator from the active rules.
func (r *Repository) LoadEvaluator(ctx context.Context) (*Evaluator, error) {
	rules, err := r.ListActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	return NewEvaluator(rules), nil
}
