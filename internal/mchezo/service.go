package mchezo

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

// Service orchestrates groups, memberships and cycles.
type Service struct {
	repo     Repository
	authz    shared.Authorizer
	cache    *shared.StatusCache
	logger   *slog.Logger
	validate *validator.Validate
	currency string
	now      func() time.Time
}

// NewService constructs a Service. cache and logger may be nil.
func NewService(repo Repository, authz shared.Authorizer, cache *shared.StatusCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
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
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetCurrency sets the currency stamped on new groups, contributions and payouts.
func (s *Service) SetCurrency(code string) {
	if code != "" {
		s.currency = code
	}
}

// CreateGroup creates a group and enrolls the creator as its first member and admin.
func (s *Service) CreateGroup(ctx context.Context, actor shared.Actor, in CreateGroupInput) (Group, Membership, error) {
	if err := s.validate.Struct(in); err != nil {
		return Group{}, Membership{}, shared.Precondition(fmt.Sprintf("mchezo: invalid group: %v", err))
	}
	if actor.ID == 0 {
		return Group{}, Membership{}, shared.Forbidden("actor required")
	}
	if in.ContributionAmount.LessThan(MinContributionAmount) {
		return Group{}, Membership{}, fmt.Errorf("%w (%s)", ErrContributionTooSmall, in.ContributionAmount.StringFixed(2))
	}
	group := Group{
		Name:               in.Name,
		Description:        in.Description,
		ContributionAmount: in.ContributionAmount,
		Currency:           firstNonEmpty(in.Currency, s.currency),
		Frequency:          in.Frequency,
		MaxMembers:         in.MaxMembers,
		PayoutOrderMethod:  in.PayoutOrderMethod,
		Active:             true,
		OpenForEnrollment:  !in.ClosedToEnrollment,
	}
	if group.Frequency == "" {
		group.Frequency = FrequencyWeekly
	}
	if group.MaxMembers == 0 {
		group.MaxMembers = DefaultMaxMembers
	}
	if group.PayoutOrderMethod == "" {
		group.PayoutOrderMethod = OrderRandom
	}

	var member Membership
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		at := s.now()
		group.AuditFields = shared.NewAuditFields(actor.ID, at)
		var err error
		group, err = tx.InsertGroup(ctx, group)
		if err != nil {
			return err
		}
		member, err = tx.InsertMembership(ctx, Membership{
			GroupID:     group.ID,
			UserID:      actor.ID,
			Status:      MembershipActive,
			JoinDate:    dateOnly(at),
			PayoutOrder: 1,
			Phone:       in.Phone,
			AuditFields: shared.NewAuditFields(actor.ID, at),
		})
		if err != nil {
			return err
		}
		if err := tx.GrantRole(ctx, group.ID, actor.ID, shared.RoleAdmin, actor.ID, at); err != nil {
			return err
		}
		s.audit(ctx, tx, shared.AuditEvent{
			ActorID:  actor.ID,
			Action:   shared.AuditCreateGroup,
			Entity:   "mchezo_group",
			EntityID: strconv.FormatInt(group.ID, 10),
			Description: fmt.Sprintf("Group %q created with contribution %s %s", group.Name,
				shared.FormatAmount(group.ContributionAmount, group.Currency), group.Frequency),
			NewValues: map[string]any{
				"name":                group.Name,
				"contribution_amount": group.ContributionAmount.StringFixed(2),
				"frequency":           string(group.Frequency),
				"max_members":         group.MaxMembers,
				"payout_order_method": string(group.PayoutOrderMethod),
			},
			At: at,
		})
		return nil
	})
	if err != nil {
		return Group{}, Membership{}, err
	}
	s.logger.Info("mchezo group created", slog.Int64("group_id", group.ID), slog.Int64("actor_id", actor.ID))
	return group, member, nil
}

// AddMember enrolls a user into a group and grants the member role.
func (s *Service) AddMember(ctx context.Context, actor shared.Actor, groupID int64, in AddMemberInput) (Membership, error) {
	if err := s.validate.Struct(in); err != nil {
		return Membership{}, shared.Precondition(fmt.Sprintf("mchezo: invalid member: %v", err))
	}
	if err := shared.Authorize(ctx, s.authz, actor, groupScope(groupID), shared.RoleAdmin); err != nil {
		return Membership{}, err
	}
	var member Membership
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		group, err := tx.LockGroup(ctx, groupID)
		if err != nil {
			return err
		}
		active, err := tx.ListActiveMemberships(ctx, groupID)
		if err != nil {
			return err
		}
		if err := group.CanEnroll(len(active)); err != nil {
			return err
		}
		order := NextPayoutOrder(active)
		if in.PayoutOrder != nil {
			order = *in.PayoutOrder
			if PayoutOrderTaken(active, order) {
				return fmt.Errorf("%w (%d)", ErrPayoutOrderInUse, order)
			}
		}
		at := s.now()
		member, err = tx.InsertMembership(ctx, Membership{
			GroupID:     groupID,
			UserID:      in.UserID,
			Status:      MembershipActive,
			JoinDate:    dateOnly(at),
			PayoutOrder: order,
			Phone:       in.Phone,
			AuditFields: shared.NewAuditFields(actor.ID, at),
		})
		if err != nil {
			return err
		}
		if err := tx.GrantRole(ctx, groupID, in.UserID, shared.RoleMember, actor.ID, at); err != nil {
			return err
		}
		s.audit(ctx, tx, shared.AuditEvent{
			ActorID:     actor.ID,
			Action:      shared.AuditAddMember,
			Entity:      "mchezo_membership",
			EntityID:    strconv.FormatInt(member.ID, 10),
			Description: fmt.Sprintf("User %d joined group %q at position %d", in.UserID, group.Name, order),
			NewValues: map[string]any{
				"group_id":     strconv.FormatInt(groupID, 10),
				"user_id":      strconv.FormatInt(in.UserID, 10),
				"payout_order": order,
			},
			At: at,
		})
		return nil
	})
	if err != nil {
		return Membership{}, err
	}
	s.invalidate(ctx, groupID)
	return member, nil
}

// WithdrawMember marks an active membership withdrawn and revokes its roles.
func (s *Service) WithdrawMember(ctx context.Context, actor shared.Actor, membershipID int64) (Membership, error) {
	var member Membership
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockMembership(ctx, membershipID)
		if err != nil {
			return err
		}
		if err := shared.Authorize(ctx, s.authz, actor, groupScope(current.GroupID), shared.RoleAdmin); err != nil {
			return err
		}
		if current.Status != MembershipActive {
			return ErrMembershipInactive
		}
		at := s.now()
		exit := dateOnly(at)
		member = current
		member.Status = MembershipWithdrawn
		member.ExitDate = &exit
		member.AuditFields = current.AuditFields.Touch(actor.ID, at)
		if err := tx.UpdateMembershipStatus(ctx, member); err != nil {
			return err
		}
		if err := tx.RevokeRoles(ctx, current.GroupID, current.UserID); err != nil {
			return err
		}
		s.audit(ctx, tx, shared.AuditEvent{
			ActorID:     actor.ID,
			Action:      shared.AuditWithdrawMember,
			Entity:      "mchezo_membership",
			EntityID:    strconv.FormatInt(membershipID, 10),
			Description: fmt.Sprintf("User %d withdrew from group %d", current.UserID, current.GroupID),
			OldValues:   map[string]any{"status": string(current.Status)},
			NewValues:   map[string]any{"status": string(member.Status), "exit_date": exit.Format(time.DateOnly)},
			At:          at,
		})
		return nil
	})
	if err != nil {
		return Membership{}, err
	}
	s.invalidate(ctx, member.GroupID)
	return member, nil
}

// StartCycle opens the next cycle of a group directly in active status.
func (s *Service) StartCycle(ctx context.Context, actor shared.Actor, groupID int64) (Cycle, error) {
	if err := shared.Authorize(ctx, s.authz, actor, groupScope(groupID), shared.RoleAdmin, shared.RoleTreasurer); err != nil {
		return Cycle{}, err
	}
	var cycle Cycle
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockGroup(ctx, groupID); err != nil {
			return err
		}
		active, err := tx.FindActiveCycle(ctx, groupID)
		switch {
		case err == nil:
			return fmt.Errorf("%w (cycle %d)", ErrCycleAlreadyActive, active.Number)
		case !errors.Is(err, ErrNoActiveCycle):
			return err
		}
		last, err := tx.MaxCycleNumber(ctx, groupID)
		if err != nil {
			return err
		}
		at := s.now()
		cycle, err = tx.InsertCycle(ctx, Cycle{
			GroupID:      groupID,
			Number:       last + 1,
			Status:       CycleActive,
			StartDate:    dateOnly(at),
			TotalPayouts: decimal.Zero,
			AuditFields:  shared.NewAuditFields(actor.ID, at),
		})
		if err != nil {
			return err
		}
		s.audit(ctx, tx, shared.AuditEvent{
			ActorID:     actor.ID,
			Action:      shared.AuditStartCycle,
			Entity:      "mchezo_cycle",
			EntityID:    strconv.FormatInt(cycle.ID, 10),
			Description: fmt.Sprintf("Cycle %d started for group %d", cycle.Number, groupID),
			NewValues:   map[string]any{"cycle_number": cycle.Number, "status": string(cycle.Status)},
			At:          at,
		})
		return nil
	})
	if err != nil {
		return Cycle{}, err
	}
	s.invalidate(ctx, groupID)
	s.logger.Info("mchezo cycle started", slog.Int64("group_id", groupID), slog.Int("cycle_number", cycle.Number))
	return cycle, nil
}

// RecordContribution posts a completed contribution. The amount is not compared
// with the group's fixed contribution: the contribution log is authoritative.
func (s *Service) RecordContribution(ctx context.Context, actor shared.Actor, cycleID, membershipID int64, in ContributionInput) (Contribution, error) {
	if err := s.validate.Struct(in); err != nil {
		return Contribution{}, shared.Precondition(fmt.Sprintf("mchezo: invalid contribution: %v", err))
	}
	var recorded Contribution
	var groupID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cycle, member, err := s.lockForPosting(ctx, tx, actor, cycleID, membershipID)
		if err != nil {
			return err
		}
		groupID = cycle.GroupID
		if !in.Amount.IsPositive() {
			return ErrInvalidAmount
		}
		week := cycle.CurrentWeek()
		if in.Week != nil {
			week = *in.Week
		}
		recorded, err = s.insertContribution(ctx, tx, actor, cycle, member, in.Amount, week, in.PaymentMethod, in.Reference, in.Notes)
		return err
	})
	if err != nil {
		return Contribution{}, err
	}
	s.invalidate(ctx, groupID)
	return recorded, nil
}

// RecordBulkContribution pays consecutive weeks from the cycle's current week in
// one call, stopping at the last week of the cycle.
func (s *Service) RecordBulkContribution(ctx context.Context, actor shared.Actor, cycleID, membershipID int64, in BulkContributionInput) ([]Contribution, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, shared.Precondition(fmt.Sprintf("mchezo: invalid bulk contribution: %v", err))
	}
	var recorded []Contribution
	var groupID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cycle, member, err := s.lockForPosting(ctx, tx, actor, cycleID, membershipID)
		if err != nil {
			return err
		}
		groupID = cycle.GroupID
		if !in.AmountPerWeek.IsPositive() {
			return ErrInvalidAmount
		}
		active, err := tx.ListActiveMemberships(ctx, cycle.GroupID)
		if err != nil {
			return err
		}
		weeks := BulkWeeks(cycle.CurrentWeek(), in.Weeks, len(active))
		if len(weeks) == 0 {
			return ErrNoWeeksRemaining
		}
		for _, week := range weeks {
			c, err := s.insertContribution(ctx, tx, actor, cycle, member, in.AmountPerWeek, week, in.PaymentMethod, in.Reference, in.Notes)
			if err != nil {
				return err
			}
			recorded = append(recorded, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, groupID)
	return recorded, nil
}

func (s *Service) insertContribution(ctx context.Context, tx TxRepository, actor shared.Actor, cycle Cycle, member Membership,
	amount decimal.Decimal, week int, method, reference, notes string) (Contribution, error) {
	at := s.now()
	c, err := tx.InsertContribution(ctx, Contribution{
		CycleID:       cycle.ID,
		MembershipID:  member.ID,
		Amount:        amount,
		Currency:      s.currency,
		Week:          week,
		PaymentMethod: method,
		Reference:     reference,
		Status:        ContributionCompleted,
		Timestamp:     at,
		Notes:         notes,
		AuditFields:   shared.NewAuditFields(actor.ID, at),
	})
	if err != nil {
		return Contribution{}, err
	}
	s.audit(ctx, tx, shared.AuditEvent{
		ActorID:     actor.ID,
		Action:      shared.AuditRecordContribution,
		Entity:      "mchezo_contribution",
		EntityID:    strconv.FormatInt(c.ID, 10),
		Description: fmt.Sprintf("Contribution of %s for week %d of cycle %d", shared.FormatAmount(amount, s.currency), week, cycle.Number),
		NewValues: map[string]any{
			"cycle_id":       strconv.FormatInt(cycle.ID, 10),
			"membership_id":  strconv.FormatInt(member.ID, 10),
			"amount":         amount.StringFixed(2),
			"week":           week,
			"payment_method": method,
		},
		At: at,
	})
	return c, nil
}

// RecordPayout disburses a cycle's pool to a member. Each member is paid at most
// once per cycle; the payout that covers the last active member completes the cycle.
func (s *Service) RecordPayout(ctx context.Context, actor shared.Actor, cycleID, membershipID int64, in PayoutInput) (Payout, Cycle, error) {
	if err := s.validate.Struct(in); err != nil {
		return Payout{}, Cycle{}, shared.Precondition(fmt.Sprintf("mchezo: invalid payout: %v", err))
	}
	var payout Payout
	var cycle Cycle
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, member, err := s.lockForPosting(ctx, tx, actor, cycleID, membershipID)
		if err != nil {
			return err
		}
		if !in.Amount.IsPositive() {
			return ErrInvalidAmount
		}
		paid, err := tx.HasPayout(ctx, cycleID, membershipID)
		if err != nil {
			return err
		}
		if paid {
			return fmt.Errorf("%w (membership %d)", ErrDuplicatePayout, membershipID)
		}
		prior, err := tx.CountPayouts(ctx, cycleID)
		if err != nil {
			return err
		}
		active, err := tx.ListActiveMemberships(ctx, current.GroupID)
		if err != nil {
			return err
		}

		at := s.now()
		order := prior + 1
		completedOn := dateOnly(at)
		payout, err = tx.InsertPayout(ctx, Payout{
			CycleID:       cycleID,
			MembershipID:  member.ID,
			Amount:        in.Amount,
			Currency:      s.currency,
			PayoutOrder:   order,
			PaymentMethod: in.PaymentMethod,
			Reference:     in.Reference,
			Status:        PayoutCompleted,
			ScheduledDate: completedOn,
			CompletedDate: &completedOn,
			Notes:         in.Notes,
			AuditFields:   shared.NewAuditFields(actor.ID, at),
		})
		if err != nil {
			return err
		}
		var completed bool
		cycle, completed = current.ApplyPayout(order, in.Amount, len(active), actor.ID, at)
		if err := tx.SaveCycle(ctx, cycle); err != nil {
			return err
		}
		s.audit(ctx, tx, shared.AuditEvent{
			ActorID:     actor.ID,
			Action:      shared.AuditRecordPayout,
			Entity:      "mchezo_payout",
			EntityID:    strconv.FormatInt(payout.ID, 10),
			Description: fmt.Sprintf("Payout #%d of %s in cycle %d", order, shared.FormatAmount(in.Amount, s.currency), current.Number),
			OldValues:   map[string]any{"payouts_made": current.PayoutsMade, "total_payouts": current.TotalPayouts.StringFixed(2)},
			NewValues:   map[string]any{"payouts_made": cycle.PayoutsMade, "total_payouts": cycle.TotalPayouts.StringFixed(2)},
			Meta:        map[string]any{"membership_id": strconv.FormatInt(member.ID, 10), "payout_order": order},
			At:          at,
		})
		if completed {
			s.audit(ctx, tx, cycleEvent(actor.ID, shared.AuditCompleteCycle, current, cycle, "completed by final payout", at))
		}
		return nil
	})
	if err != nil {
		return Payout{}, Cycle{}, err
	}
	s.invalidate(ctx, cycle.GroupID)
	if cycle.Status == CycleCompleted {
		s.logger.Info("mchezo cycle completed", slog.Int64("cycle_id", cycleID), slog.Int("payouts_made", cycle.PayoutsMade))
	}
	return payout, cycle, nil
}

// lockForPosting loads the cycle and membership a contribution or payout targets
// and checks the actor, the cycle status and the membership's group.
func (s *Service) lockForPosting(ctx context.Context, tx TxRepository, actor shared.Actor, cycleID, membershipID int64) (Cycle, Membership, error) {
	cycle, err := tx.LockCycle(ctx, cycleID)
	if err != nil {
		return Cycle{}, Membership{}, err
	}
	if err := shared.Authorize(ctx, s.authz, actor, groupScope(cycle.GroupID), shared.RoleAdmin, shared.RoleTreasurer); err != nil {
		return Cycle{}, Membership{}, err
	}
	if cycle.Status != CycleActive {
		return Cycle{}, Membership{}, ErrCycleNotActive
	}
	member, err := tx.LockMembership(ctx, membershipID)
	if err != nil {
		return Cycle{}, Membership{}, err
	}
	if member.GroupID != cycle.GroupID {
		return Cycle{}, Membership{}, ErrMembershipMismatch
	}
	if member.Status != MembershipActive {
		return Cycle{}, Membership{}, ErrMembershipInactive
	}
	return cycle, member, nil
}

// CompleteCycle closes an active cycle manually. Every active member must have been paid.
func (s *Service) CompleteCycle(ctx context.Context, actor shared.Actor, cycleID int64) (Cycle, error) {
	return s.finishCycle(ctx, actor, cycleID, shared.AuditCompleteCycle, func(c Cycle, active int, at time.Time) (Cycle, error) {
		return c.Complete(active, actor.ID, at)
	})
}

// CancelCycle abandons a cycle. Contributions and payouts already recorded stay.
func (s *Service) CancelCycle(ctx context.Context, actor shared.Actor, cycleID int64, reason string) (Cycle, error) {
	return s.finishCycle(ctx, actor, cycleID, shared.AuditCancelCycle, func(c Cycle, _ int, at time.Time) (Cycle, error) {
		return c.Cancel(reason, actor.ID, at)
	})
}

func (s *Service) finishCycle(ctx context.Context, actor shared.Actor, cycleID int64, action string,
	transition func(Cycle, int, time.Time) (Cycle, error)) (Cycle, error) {
	var cycle Cycle
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		if err := shared.Authorize(ctx, s.authz, actor, groupScope(current.GroupID), shared.RoleAdmin, shared.RoleTreasurer); err != nil {
			return err
		}
		active, err := tx.ListActiveMemberships(ctx, current.GroupID)
		if err != nil {
			return err
		}
		at := s.now()
		cycle, err = transition(current, len(active), at)
		if err != nil {
			return err
		}
		if err := tx.SaveCycle(ctx, cycle); err != nil {
			return err
		}
		s.audit(ctx, tx, cycleEvent(actor.ID, action, current, cycle, cycle.Notes, at))
		return nil
	})
	if err != nil {
		return Cycle{}, err
	}
	s.invalidate(ctx, cycle.GroupID)
	return cycle, nil
}

// GetCycleProgress reports payouts, sums and completion of a cycle.
func (s *Service) GetCycleProgress(ctx context.Context, cycleID int64) (CycleProgress, error) {
	cycle, err := s.repo.GetCycle(ctx, cycleID)
	if err != nil {
		return CycleProgress{}, err
	}
	var progress CycleProgress
	err = s.cache.FetchJSON(ctx, groupScope(cycle.GroupID), &progress, func(ctx context.Context) (any, error) {
		return s.loadProgress(ctx, cycleID)
	}, "cycle", strconv.FormatInt(cycleID, 10))
	if err != nil {
		return CycleProgress{}, err
	}
	return progress, nil
}

func (s *Service) loadProgress(ctx context.Context, cycleID int64) (CycleProgress, error) {
	cycle, err := s.repo.GetCycle(ctx, cycleID)
	if err != nil {
		return CycleProgress{}, err
	}
	active, err := s.repo.ListActiveMemberships(ctx, cycle.GroupID)
	if err != nil {
		return CycleProgress{}, err
	}
	totals, err := s.repo.CycleTotals(ctx, cycleID)
	if err != nil {
		return CycleProgress{}, err
	}
	return Progress(cycle, len(active), totals), nil
}

// GetDefaultedMembers lists active members without a completed contribution in the cycle.
func (s *Service) GetDefaultedMembers(ctx context.Context, cycleID int64) ([]Membership, error) {
	cycle, err := s.repo.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	active, err := s.repo.ListActiveMemberships(ctx, cycle.GroupID)
	if err != nil {
		return nil, err
	}
	ids, err := s.repo.ListContributors(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	contributed := make(map[int64]bool, len(ids))
	for _, id := range ids {
		contributed[id] = true
	}
	return Defaulted(active, contributed), nil
}

// ListPayouts returns the payouts of a cycle in disbursement order.
func (s *Service) ListPayouts(ctx context.Context, cycleID int64) ([]Payout, error) {
	return s.repo.ListPayouts(ctx, cycleID)
}

func (s *Service) audit(ctx context.Context, sink shared.AuditSink, event shared.AuditEvent) {
	shared.LogBestEffort(ctx, s.logger, sink, event)
}

func (s *Service) invalidate(ctx context.Context, groupID int64) {
	if err := s.cache.Bump(ctx, groupScope(groupID)); err != nil {
		s.logger.Warn("status cache invalidation failed", slog.Int64("group_id", groupID), slog.Any("error", err))
	}
}

func groupScope(groupID int64) shared.Scope {
	return shared.Scope{Kind: shared.ScopeMchezo, ID: groupID}
}

func cycleEvent(actorID int64, action string, before, after Cycle, reason string, at time.Time) shared.AuditEvent {
	end := ""
	if after.EndDate != nil {
		end = after.EndDate.Format(time.DateOnly)
	}
	return shared.AuditEvent{
		ActorID:     actorID,
		Action:      action,
		Entity:      "mchezo_cycle",
		EntityID:    strconv.FormatInt(after.ID, 10),
		Description: fmt.Sprintf("Cycle %d of group %d %s", after.Number, after.GroupID, after.Status),
		OldValues:   map[string]any{"status": string(before.Status)},
		NewValues:   map[string]any{"status": string(after.Status), "end_date": end, "payouts_made": after.PayoutsMade},
		Meta:        map[string]any{"reason": reason},
		At:          at,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
