package wakala

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/annacash/annacash/internal/shared"
)

// DefaultAlertWindowDays is the trailing window used when callers pass none.
const DefaultAlertWindowDays = 7

// BalancingService opens and closes financial days and reports their balances.
type BalancingService struct {
	repo     Repository
	authz    shared.Authorizer
	cache    *shared.StatusCache
	logger   *slog.Logger
	validate *validator.Validate
	currency string
	now      func() time.Time
}

// NewBalancingService constructs a BalancingService. cache and logger may be nil.
func NewBalancingService(repo Repository, authz shared.Authorizer, cache *shared.StatusCache, logger *slog.Logger) *BalancingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BalancingService{
		repo:     repo,
		authz:    authz,
		cache:    cache,
		logger:   logger,
		validate: validator.New(),
		currency: shared.DefaultCurrency,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *BalancingService) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetCurrency changes the currency used in audit descriptions.
func (s *BalancingService) SetCurrency(code string) {
	if code != "" {
		s.currency = code
	}
}

// OpenDay opens the accounting day for a business. A day record per date is
// permanent, so a date can be opened at most once.
func (s *BalancingService) OpenDay(ctx context.Context, actor shared.Actor, in OpenDayInput) (FinancialDay, error) {
	if err := s.validate.Struct(in); err != nil {
		return FinancialDay{}, shared.Precondition(fmt.Sprintf("wakala: invalid open day input: %v", err))
	}
	if err := shared.Authorize(ctx, s.authz, actor, wakalaScope(in.BusinessID), shared.RoleOwner, shared.RoleManager, shared.RoleAgent); err != nil {
		return FinancialDay{}, err
	}
	if in.OpeningBalance.IsNegative() {
		return FinancialDay{}, ErrNegativeBalance
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	date = DateOnly(date)

	var day FinancialDay
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		open, err := tx.FindOpenDay(ctx, in.BusinessID)
		switch {
		case err == nil:
			return fmt.Errorf("%w (%s)", ErrDayAlreadyOpen, open.Date.Format(time.DateOnly))
		case !errors.Is(err, ErrNoOpenDay):
			return err
		}
		exists, err := tx.DayExistsForDate(ctx, in.BusinessID, date)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w %s", ErrDayExists, date.Format(time.DateOnly))
		}

		at := s.now()
		actorID := actor.ID
		day, err = tx.InsertDay(ctx, FinancialDay{
			BusinessID:         in.BusinessID,
			Date:               date,
			Status:             DayStatusOpen,
			OpeningBalance:     in.OpeningBalance,
			OpeningBalanceNote: in.Note,
			OpenedAt:           &at,
			OpenedBy:           &actorID,
			AuditFields:        shared.NewAuditFields(actor.ID, at),
		})
		if err != nil {
			return err
		}
		s.audit(ctx, tx, dayEvent(actor.ID, shared.AuditOpenDay, day, s.currency, at))
		return nil
	})
	if err != nil {
		return FinancialDay{}, err
	}
	s.invalidate(ctx, in.BusinessID)
	s.logger.Info("financial day opened",
		slog.Int64("business_id", in.BusinessID),
		slog.String("date", date.Format(time.DateOnly)),
		slog.Int64("actor_id", actor.ID))
	return day, nil
}

// CloseDay reconciles the open day against the counted closing balance.
// The discrepancy is recorded as computed minus counted and never corrected.
func (s *BalancingService) CloseDay(ctx context.Context, actor shared.Actor, in CloseDayInput) (FinancialDay, error) {
	if err := s.validate.Struct(in); err != nil {
		return FinancialDay{}, shared.Precondition(fmt.Sprintf("wakala: invalid close day input: %v", err))
	}
	if err := shared.Authorize(ctx, s.authz, actor, wakalaScope(in.BusinessID), shared.RoleOwner, shared.RoleManager); err != nil {
		return FinancialDay{}, err
	}
	var day FinancialDay
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		open, err := tx.FindOpenDay(ctx, in.BusinessID)
		if err != nil {
			return err
		}
		txns, err := tx.ListTransactions(ctx, open.ID)
		if err != nil {
			return err
		}
		at := s.now()
		day, err = open.Close(txns, in.ClosingBalance, in.Note, actor.ID, at)
		if err != nil {
			return err
		}
		if err := tx.SaveClosedDay(ctx, day); err != nil {
			return err
		}
		event := dayEvent(actor.ID, shared.AuditCloseDay, day, s.currency, at)
		event.OldValues = map[string]any{"status": string(open.Status)}
		s.audit(ctx, tx, event)
		return nil
	})
	if err != nil {
		return FinancialDay{}, err
	}
	s.invalidate(ctx, in.BusinessID)
	level := slog.LevelInfo
	if !day.Discrepancy.IsZero() {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "financial day closed",
		slog.Int64("business_id", in.BusinessID),
		slog.String("date", day.Date.Format(time.DateOnly)),
		slog.String("computed", day.ComputedClosingBalance.StringFixed(2)),
		slog.String("discrepancy", day.Discrepancy.StringFixed(2)))
	return day, nil
}

// ResolveDiscrepancy annotates a closed day. It is the only change a closed day accepts.
func (s *BalancingService) ResolveDiscrepancy(ctx context.Context, actor shared.Actor, dayID int64, note string) (FinancialDay, error) {
	var businessID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		day, err := tx.LockDay(ctx, dayID)
		if err != nil {
			return err
		}
		businessID = day.BusinessID
		if err := shared.Authorize(ctx, s.authz, actor, wakalaScope(day.BusinessID), shared.RoleOwner, shared.RoleManager); err != nil {
			return err
		}
		if day.Status != DayStatusClosed {
			return ErrDayNotClosed
		}
		at := s.now()
		if err := tx.UpdateDiscrepancyNote(ctx, dayID, note, actor.ID, at); err != nil {
			return err
		}
		s.audit(ctx, tx, shared.AuditEvent{
			ActorID:     actor.ID,
			Action:      shared.AuditResolveDiscrepancy,
			Entity:      "financial_day",
			EntityID:    strconv.FormatInt(dayID, 10),
			Description: fmt.Sprintf("Discrepancy note for %s", day.Date.Format(time.DateOnly)),
			OldValues:   map[string]any{"discrepancy_note": day.DiscrepancyNote},
			NewValues:   map[string]any{"discrepancy_note": note},
			At:          at,
		})
		return nil
	})
	if err != nil {
		return FinancialDay{}, err
	}
	s.invalidate(ctx, businessID)
	return s.repo.GetDay(ctx, dayID)
}

// GetDayStatus returns a read-only snapshot of a day. date nil means today.
func (s *BalancingService) GetDayStatus(ctx context.Context, businessID int64, date *time.Time) (DayStatusSnapshot, error) {
	target := s.today()
	if date != nil {
		target = DateOnly(*date)
	}
	var snap DayStatusSnapshot
	err := s.cache.FetchJSON(ctx, wakalaScope(businessID), &snap, func(ctx context.Context) (any, error) {
		return s.loadDayStatus(ctx, businessID, target)
	}, "day", target.Format(time.DateOnly))
	if err != nil {
		return DayStatusSnapshot{}, err
	}
	return snap, nil
}

func (s *BalancingService) loadDayStatus(ctx context.Context, businessID int64, date time.Time) (DayStatusSnapshot, error) {
	day, err := s.repo.GetDayByDate(ctx, businessID, date)
	if errors.Is(err, ErrDayNotFound) {
		return DayStatusSnapshot{Exists: false, Date: date, Status: StatusNotCreated}, nil
	}
	if err != nil {
		return DayStatusSnapshot{}, err
	}
	txns, err := s.repo.ListTransactions(ctx, day.ID)
	if err != nil {
		return DayStatusSnapshot{}, err
	}
	return Snapshot(day, txns), nil
}

// GetDiscrepancyAlerts lists closed days in the trailing window where cash
// came up short (discrepancy > 0), most recent first.
func (s *BalancingService) GetDiscrepancyAlerts(ctx context.Context, businessID int64, windowDays int) ([]FinancialDay, error) {
	if windowDays <= 0 {
		windowDays = DefaultAlertWindowDays
	}
	since := s.today().AddDate(0, 0, -windowDays)
	return s.repo.ListDiscrepancyDays(ctx, businessID, since)
}

// EstimateClosingBalance computes the expected balance of a day without closing it.
// A missing day estimates to zero.
func (s *BalancingService) EstimateClosingBalance(ctx context.Context, businessID int64, date *time.Time) (decimal.Decimal, error) {
	target := s.today()
	if date != nil {
		target = DateOnly(*date)
	}
	day, err := s.repo.GetDayByDate(ctx, businessID, target)
	if errors.Is(err, ErrDayNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	txns, err := s.repo.ListTransactions(ctx, day.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return ComputeClosingBalance(day.OpeningBalance, txns), nil
}

// ActiveBusinesses lists businesses eligible for discrepancy scanning.
func (s *BalancingService) ActiveBusinesses(ctx context.Context) ([]int64, error) {
	return s.repo.ListActiveBusinesses(ctx)
}

func (s *BalancingService) today() time.Time {
	return DateOnly(s.now())
}

func (s *BalancingService) audit(ctx context.Context, sink shared.AuditSink, event shared.AuditEvent) {
	shared.LogBestEffort(ctx, s.logger, sink, event)
}

func (s *BalancingService) invalidate(ctx context.Context, businessID int64) {
	invalidate(ctx, s.cache, s.logger, businessID)
}

func invalidate(ctx context.Context, cache *shared.StatusCache, logger *slog.Logger, businessID int64) {
	if err := cache.Bump(ctx, wakalaScope(businessID)); err != nil {
		logger.Warn("status cache invalidation failed", slog.Int64("business_id", businessID), slog.Any("error", err))
	}
}

func wakalaScope(businessID int64) shared.Scope {
	return shared.Scope{Kind: shared.ScopeWakala, ID: businessID}
}

func dayEvent(actorID int64, action string, day FinancialDay, currency string, at time.Time) shared.AuditEvent {
	closing := ""
	if day.ClosingBalance.Valid {
		closing = day.ClosingBalance.Decimal.StringFixed(2)
	}
	verb := "opened"
	if action == shared.AuditCloseDay {
		verb = "closed"
	}
	return shared.AuditEvent{
		ActorID:  actorID,
		Action:   action,
		Entity:   "financial_day",
		EntityID: strconv.FormatInt(day.ID, 10),
		Description: fmt.Sprintf("Financial day %s for %s (opening %s)", verb, day.Date.Format(time.DateOnly),
			shared.FormatAmount(day.OpeningBalance, currency)),
		NewValues: map[string]any{
			"wakala_id":                strconv.FormatInt(day.BusinessID, 10),
			"date":                     day.Date.Format(time.DateOnly),
			"status":                   string(day.Status),
			"opening_balance":          day.OpeningBalance.StringFixed(2),
			"closing_balance":          closing,
			"computed_closing_balance": day.ComputedClosingBalance.StringFixed(2),
			"discrepancy":              day.Discrepancy.StringFixed(2),
		},
		At: at,
	}
}
