package mchezo

import (
	"time"

	"github.com/shopspring/decimal"
)

// CanEnroll reports whether a group with activeMembers may take another member.
func (g Group) CanEnroll(activeMembers int) error {
	if activeMembers >= g.MaxMembers {
		return ErrGroupFull
	}
	if !g.OpenForEnrollment || !g.Active {
		return ErrGroupClosed
	}
	return nil
}

// NextPayoutOrder is one past the highest payout order held by an active member.
func NextPayoutOrder(members []Membership) int {
	highest := 0
	for _, m := range members {
		if m.Status == MembershipActive && m.PayoutOrder > highest {
			highest = m.PayoutOrder
		}
	}
	return highest + 1
}

// PayoutOrderTaken reports whether an active member already holds order.
func PayoutOrderTaken(members []Membership, order int) bool {
	for _, m := range members {
		if m.Status == MembershipActive && m.PayoutOrder == order {
			return true
		}
	}
	return false
}

// CurrentWeek is the contribution week the cycle is in: one past the payouts made.
func (c Cycle) CurrentWeek() int {
	return c.PayoutsMade + 1
}

// IsComplete is true for any cycle no longer active, and for an active cycle
// once payouts cover every active member.
func (c Cycle) IsComplete(activeMembers int) bool {
	if c.Status != CycleActive {
		return true
	}
	return c.PayoutsMade >= activeMembers
}

// ApplyPayout records the payout with the given order on the cycle counters and
// completes the cycle when every active member has been paid.
func (c Cycle) ApplyPayout(order int, amount decimal.Decimal, activeMembers int, actorID int64, at time.Time) (Cycle, bool) {
	c.PayoutsMade = order
	c.TotalPayouts = c.TotalPayouts.Add(amount)
	c.AuditFields = c.AuditFields.Touch(actorID, at)
	if c.IsComplete(activeMembers) {
		c = c.finish(CycleCompleted, actorID, at)
		return c, true
	}
	return c, false
}

// Complete closes an active cycle whose payouts cover every active member.
func (c Cycle) Complete(activeMembers int, actorID int64, at time.Time) (Cycle, error) {
	if c.Status != CycleActive {
		return c, ErrCycleNotActive
	}
	if c.PayoutsMade < activeMembers {
		return c, ErrPayoutsOutstanding
	}
	return c.finish(CycleCompleted, actorID, at), nil
}

// Cancel abandons a draft or active cycle.
func (c Cycle) Cancel(reason string, actorID int64, at time.Time) (Cycle, error) {
	if c.Status != CycleActive && c.Status != CycleDraft {
		return c, ErrCycleNotActive
	}
	c = c.finish(CycleCancelled, actorID, at)
	if reason != "" {
		c.Notes = reason
	}
	return c, nil
}

func (c Cycle) finish(status CycleStatus, actorID int64, at time.Time) Cycle {
	end := dateOnly(at)
	c.Status = status
	c.EndDate = &end
	c.AuditFields = c.AuditFields.Touch(actorID, at)
	return c
}

// BulkWeeks lists the consecutive weeks a bulk payment covers, starting at
// start and never past the cycle length (one week per active member).
func BulkWeeks(start, count, cycleLength int) []int {
	weeks := make([]int, 0, count)
	for i := 0; i < count; i++ {
		week := start + i
		if week > cycleLength {
			break
		}
		weeks = append(weeks, week)
	}
	return weeks
}

// Progress assembles the GetCycleProgress view.
func Progress(c Cycle, activeMembers int, totals CycleTotals) CycleProgress {
	remaining := activeMembers - totals.PayoutsCompleted
	if remaining < 0 {
		remaining = 0
	}
	percent := 0.0
	if activeMembers > 0 {
		percent = float64(totals.PayoutsCompleted) / float64(activeMembers) * 100
	}
	return CycleProgress{
		CycleID:            c.ID,
		CycleNumber:        c.Number,
		Status:             c.Status,
		TotalMembers:       activeMembers,
		PayoutsMade:        totals.PayoutsCompleted,
		PayoutsRemaining:   remaining,
		ContributionsTotal: totals.ContributionsTotal,
		PayoutsTotal:       totals.PayoutsTotal,
		IsComplete:         c.IsComplete(activeMembers),
		ProgressPercent:    percent,
	}
}

// Defaulted returns the active members absent from contributed.
func Defaulted(members []Membership, contributed map[int64]bool) []Membership {
	var out []Membership
	for _, m := range members {
		if m.Status == MembershipActive && !contributed[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
