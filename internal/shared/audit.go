package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Audit action kinds emitted by the core.
const (
	AuditOpenDay            = "open_day"
	AuditCloseDay           = "close_day"
	AuditResolveDiscrepancy = "resolve_discrepancy"
	AuditRecordTransaction  = "record_transaction"
	AuditUpdateTransaction  = "update_transaction"
	AuditDeleteTransaction  = "delete_transaction"
	AuditCreateGroup        = "create_group"
	AuditAddMember          = "add_member"
	AuditWithdrawMember     = "withdraw_member"
	AuditStartCycle         = "start_cycle"
	AuditCompleteCycle      = "complete_cycle"
	AuditCancelCycle        = "cancel_cycle"
	AuditRecordContribution = "record_contribution"
	AuditRecordPayout       = "record_payout"
)

// AuditEvent is a single append-only audit record.
type AuditEvent struct {
	ID          uuid.UUID
	ActorID     int64
	Action      string
	Entity      string
	EntityID    string
	Description string
	OldValues   map[string]any
	NewValues   map[string]any
	Meta        map[string]any
	At          time.Time
}

// AuditSink consumes audit events.
type AuditSink interface {
	Log(ctx context.Context, event AuditEvent) error
}

// TxBeginner is satisfied by *pgxpool.Pool and pgx.Tx.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db TxBeginner
}

// NewAuditLogger returns a new AuditLogger. When db is a pgx.Tx the insert
// runs inside a savepoint so a failed write never aborts the parent transaction.
func NewAuditLogger(db TxBeginner) *AuditLogger {
	return &AuditLogger{db: db}
}

// Log persists the event.
func (l *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if event.Action == "" || event.Entity == "" || event.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	oldJSON, err := json.Marshal(event.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(event.NewValues)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !event.At.IsZero() {
		at = &event.At
	}

	sp, err := l.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = sp.Rollback(ctx)
	}()
	_, err = sp.Exec(ctx, `INSERT INTO audit_logs (id, actor_id, action, entity, entity_id, description, old_values, new_values, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))`,
		event.ID, event.ActorID, event.Action, event.Entity, event.EntityID, event.Description, oldJSON, newJSON, metaJSON, at)
	if err != nil {
		return err
	}
	return sp.Commit(ctx)
}

// LogBestEffort writes the event and swallows failures after logging them.
// Audit persistence never fails the parent operation.
func LogBestEffort(ctx context.Context, logger *slog.Logger, sink AuditSink, event AuditEvent) {
	if sink == nil {
		return
	}
	if err := sink.Log(ctx, event); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("audit log write failed",
			slog.String("action", event.Action),
			slog.String("entity", event.Entity),
			slog.String("entity_id", event.EntityID),
			slog.Any("error", err))
	}
}
