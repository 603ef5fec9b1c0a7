package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/annacash/annacash/internal/jobs"
	"github.com/annacash/annacash/internal/shared"
	"github.com/annacash/annacash/internal/wakala"
)

// DiscrepancySource lists businesses and their short days. *wakala.BalancingService satisfies it.
type DiscrepancySource interface {
	ActiveBusinesses(ctx context.Context) ([]int64, error)
	GetDiscrepancyAlerts(ctx context.Context, businessID int64, windowDays int) ([]wakala.FinancialDay, error)
}

// AlertClaimer remembers which days were already alerted. *shared.IdempotencyStore satisfies it.
type AlertClaimer interface {
	Claim(ctx context.Context, module, key string) (bool, error)
	Release(ctx context.Context, module, key string) error
}

// DiscrepancyScanJob raises one alert per short closed day.
type DiscrepancyScanJob struct {
	Source      DiscrepancySource
	Claims      AlertClaimer
	Locker      *redislock.Client
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	LockTTL     time.Duration
	Concurrency int
}

// BusinessAlerts summarises the scan of one business.
type BusinessAlerts struct {
	BusinessID int64
	Days       []wakala.FinancialDay
	New        int
	Shortfall  decimal.Decimal
}

// ScanResult is the outcome of one run. Skipped is set when another worker held the lock.
type ScanResult struct {
	Skipped    bool
	Businesses []BusinessAlerts
}

// NewAlerts counts alerts raised for the first time in this run.
func (r ScanResult) NewAlerts() int {
	total := 0
	for _, b := range r.Businesses {
		total += b.New
	}
	return total
}

// NewDiscrepancyScanJob initialises the discrepancy scan handler.
func NewDiscrepancyScanJob(source DiscrepancySource, claims AlertClaimer, locker *redislock.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *DiscrepancyScanJob {
	return &DiscrepancyScanJob{
		Source:      source,
		Claims:      claims,
		Locker:      locker,
		Logger:      logger,
		Metrics:     metrics,
		LockTTL:     5 * time.Minute,
		Concurrency: 4,
	}
}

// Handle executes the scan for an Asynq task.
func (j *DiscrepancyScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("discrepancy scan: handler not configured")
	}
	var payload DiscrepancyScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("discrepancy scan: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run scans the requested businesses while holding the scan lock.
func (j *DiscrepancyScanJob) Run(ctx context.Context, payload DiscrepancyScanPayload) (result ScanResult, err error) {
	if j.Source == nil {
		return ScanResult{}, errors.New("discrepancy scan: source not configured")
	}
	if payload.WindowDays <= 0 {
		payload.WindowDays = wakala.DefaultAlertWindowDays
	}
	logger := j.logger().With(slog.Int("window_days", payload.WindowDays))

	if j.Locker != nil {
		lock, lockErr := j.Locker.Obtain(ctx, shared.DiscrepancyScanLockKey, j.lockTTL(), nil)
		if errors.Is(lockErr, redislock.ErrNotObtained) {
			logger.Info("discrepancy scan already running elsewhere")
			return ScanResult{Skipped: true}, nil
		}
		if lockErr != nil {
			return ScanResult{}, fmt.Errorf("discrepancy scan: obtain lock: %w", lockErr)
		}
		defer func() {
			if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
				logger.Warn("release discrepancy scan lock", slog.Any("error", releaseErr))
			}
		}()
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskWakalaDiscrepancyScan)
	defer func() {
		err = tracker.End(err)
	}()

	businesses := payload.BusinessIDs
	if len(businesses) == 0 {
		businesses, err = j.Source.ActiveBusinesses(ctx)
		if err != nil {
			logger.Error("list active businesses", slog.Any("error", err))
			return ScanResult{}, err
		}
	}
	logger.Info("starting discrepancy scan", slog.Int("businesses", len(businesses)))

	var (
		mu      sync.Mutex
		scanned []BusinessAlerts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency())
	for _, businessID := range businesses {
		g.Go(func() error {
			alerts, scanErr := j.scanBusiness(gctx, logger, businessID, payload.WindowDays)
			if scanErr != nil {
				return fmt.Errorf("business %d: %w", businessID, scanErr)
			}
			mu.Lock()
			scanned = append(scanned, alerts)
			mu.Unlock()
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		logger.Error("discrepancy scan failed", slog.Any("error", err))
		return ScanResult{}, err
	}
	sort.Slice(scanned, func(a, b int) bool { return scanned[a].BusinessID < scanned[b].BusinessID })
	result = ScanResult{Businesses: scanned}

	logger.Info("completed discrepancy scan",
		slog.Int("businesses", len(scanned)),
		slog.Int("new_alerts", result.NewAlerts()),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// scanBusiness claims every short day before alerting. When a claim fails the
// claims taken so far are released so the retried task raises them together.
func (j *DiscrepancyScanJob) scanBusiness(ctx context.Context, logger *slog.Logger, businessID int64, windowDays int) (BusinessAlerts, error) {
	days, err := j.Source.GetDiscrepancyAlerts(ctx, businessID, windowDays)
	if err != nil {
		return BusinessAlerts{}, err
	}
	out := BusinessAlerts{BusinessID: businessID, Days: days, Shortfall: decimal.Zero}
	fresh := make([]wakala.FinancialDay, 0, len(days))
	for _, day := range days {
		out.Shortfall = out.Shortfall.Add(day.Discrepancy)
		if j.Claims == nil {
			fresh = append(fresh, day)
			continue
		}
		claimed, claimErr := j.Claims.Claim(ctx, shared.IdempotencyDiscrepancyAlert, alertKey(day))
		if claimErr != nil {
			j.releaseClaims(ctx, logger, fresh)
			return BusinessAlerts{}, claimErr
		}
		if claimed {
			fresh = append(fresh, day)
		}
	}
	for _, day := range fresh {
		logger.Warn("cash shortfall on closed day",
			slog.Int64("business_id", businessID),
			slog.Int64("day_id", day.ID),
			slog.String("date", day.Date.Format(time.DateOnly)),
			slog.String("discrepancy", day.Discrepancy.StringFixed(2)),
		)
	}
	out.New = len(fresh)
	j.metrics().AddDiscrepancies(businessID, out.New)
	j.metrics().SetShortfall(businessID, out.Shortfall.InexactFloat64())
	return out, nil
}

func (j *DiscrepancyScanJob) releaseClaims(ctx context.Context, logger *slog.Logger, days []wakala.FinancialDay) {
	ctx = context.WithoutCancel(ctx)
	for _, day := range days {
		if err := j.Claims.Release(ctx, shared.IdempotencyDiscrepancyAlert, alertKey(day)); err != nil {
			logger.Warn("release alert claim", slog.Int64("day_id", day.ID), slog.Any("error", err))
		}
	}
}

func alertKey(day wakala.FinancialDay) string {
	return fmt.Sprintf("%d:%d", day.BusinessID, day.ID)
}

func (j *DiscrepancyScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskWakalaDiscrepancyScan))
	}
	return slog.Default().With(slog.String("job", TaskWakalaDiscrepancyScan))
}

func (j *DiscrepancyScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *DiscrepancyScanJob) lockTTL() time.Duration {
	if j.LockTTL > 0 {
		return j.LockTTL
	}
	return 5 * time.Minute
}

func (j *DiscrepancyScanJob) concurrency() int {
	if j.Concurrency > 0 {
		return j.Concurrency
	}
	return 4
}
