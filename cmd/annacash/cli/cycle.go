package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/annacash/annacash/internal/mchezo"
)

func (c *OpsCLI) cycleProgress(ctx context.Context, args []string) error {
	var common commonFlags
	var cycle int64
	fs := newFlagSet("cycle progress", &common)
	fs.Int64Var(&cycle, "cycle", 0, "cycle id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("cycle", cycle); err != nil {
		return err
	}
	progress, err := c.Cycles.GetCycleProgress(ctx, cycle)
	if err != nil {
		return err
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(progress)
	}
	_, _ = fmt.Fprintf(c.Stdout, "cycle %d #%d: %s\n", progress.CycleID, progress.CycleNumber, progress.Status)
	_, _ = fmt.Fprintf(c.Stdout, "payouts %d/%d (%.1f%%)  remaining %d\n",
		progress.PayoutsMade, progress.TotalMembers, progress.ProgressPercent, progress.PayoutsRemaining)
	_, _ = fmt.Fprintf(c.Stdout, "contributed %s  paid out %s\n",
		progress.ContributionsTotal.StringFixed(2), progress.PayoutsTotal.StringFixed(2))
	return nil
}

// memberView is the printable form of a membership.
type memberView struct {
	MembershipID int64  `json:"membership_id"`
	UserID       int64  `json:"user_id"`
	PayoutOrder  int    `json:"payout_order"`
	Phone        string `json:"phone,omitempty"`
	JoinDate     string `json:"join_date"`
}

func (c *OpsCLI) cycleDefaulters(ctx context.Context, args []string) error {
	var common commonFlags
	var cycle int64
	fs := newFlagSet("cycle defaulters", &common)
	fs.Int64Var(&cycle, "cycle", 0, "cycle id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("cycle", cycle); err != nil {
		return err
	}
	members, err := c.Cycles.GetDefaultedMembers(ctx, cycle)
	if err != nil {
		return err
	}
	views := make([]memberView, len(members))
	for i, m := range members {
		views[i] = memberView{
			MembershipID: m.ID,
			UserID:       m.UserID,
			PayoutOrder:  m.PayoutOrder,
			Phone:        m.Phone,
			JoinDate:     m.JoinDate.Format(time.DateOnly),
		}
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(views)
	}
	if len(views) == 0 {
		_, _ = fmt.Fprintf(c.Stdout, "every active member of cycle %d has contributed\n", cycle)
		return nil
	}
	_, _ = fmt.Fprintf(c.Stdout, "%d member(s) without contributions in cycle %d:\n", len(views), cycle)
	for _, v := range views {
		_, _ = fmt.Fprintf(c.Stdout, " - membership %d user %d (order %d) %s\n", v.MembershipID, v.UserID, v.PayoutOrder, v.Phone)
	}
	return nil
}

var _ CycleOps = (*mchezo.Service)(nil)
