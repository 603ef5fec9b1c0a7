package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/annacash/annacash/internal/mchezo"
	"github.com/annacash/annacash/internal/shared"
)

// SavingsOps is the write side of the cycle orchestrator.
type SavingsOps interface {
	CreateGroup(ctx context.Context, actor shared.Actor, in mchezo.CreateGroupInput) (mchezo.Group, mchezo.Membership, error)
	AddMember(ctx context.Context, actor shared.Actor, groupID int64, in mchezo.AddMemberInput) (mchezo.Membership, error)
	WithdrawMember(ctx context.Context, actor shared.Actor, membershipID int64) (mchezo.Membership, error)
	StartCycle(ctx context.Context, actor shared.Actor, groupID int64) (mchezo.Cycle, error)
	CompleteCycle(ctx context.Context, actor shared.Actor, cycleID int64) (mchezo.Cycle, error)
	CancelCycle(ctx context.Context, actor shared.Actor, cycleID int64, reason string) (mchezo.Cycle, error)
	RecordContribution(ctx context.Context, actor shared.Actor, cycleID, membershipID int64, in mchezo.ContributionInput) (mchezo.Contribution, error)
	RecordBulkContribution(ctx context.Context, actor shared.Actor, cycleID, membershipID int64, in mchezo.BulkContributionInput) ([]mchezo.Contribution, error)
	RecordPayout(ctx context.Context, actor shared.Actor, cycleID, membershipID int64, in mchezo.PayoutInput) (mchezo.Payout, mchezo.Cycle, error)
	ListPayouts(ctx context.Context, cycleID int64) ([]mchezo.Payout, error)
}

var _ SavingsOps = (*mchezo.Service)(nil)

// cycleView is the printable form of a cycle.
type cycleView struct {
	ID           int64  `json:"id"`
	GroupID      int64  `json:"group_id"`
	Number       int    `json:"number"`
	Status       string `json:"status"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date,omitempty"`
	PayoutsMade  int    `json:"payouts_made"`
	TotalPayouts string `json:"total_payouts"`
}

func newCycleView(c mchezo.Cycle) cycleView {
	v := cycleView{
		ID:           c.ID,
		GroupID:      c.GroupID,
		Number:       c.Number,
		Status:       string(c.Status),
		StartDate:    c.StartDate.Format(time.DateOnly),
		PayoutsMade:  c.PayoutsMade,
		TotalPayouts: c.TotalPayouts.StringFixed(2),
	}
	if c.EndDate != nil {
		v.EndDate = c.EndDate.Format(time.DateOnly)
	}
	return v
}

func (c *OpsCLI) printCycle(asJSON bool, cycle mchezo.Cycle) error {
	v := newCycleView(cycle)
	if asJSON {
		return json.NewEncoder(c.Stdout).Encode(v)
	}
	_, _ = fmt.Fprintf(c.Stdout, "cycle %d (group %d #%d): %s, %d payouts totalling %s\n",
		v.ID, v.GroupID, v.Number, v.Status, v.PayoutsMade, v.TotalPayouts)
	return nil
}

func (c *OpsCLI) groupCreate(ctx context.Context, args []string) error {
	var common commonFlags
	var in mchezo.CreateGroupInput
	var amount, frequency, method string
	fs := newFlagSet("group create", &common)
	fs.StringVar(&in.Name, "name", "", "group name")
	fs.StringVar(&in.Description, "description", "", "group description")
	fs.StringVar(&amount, "amount", "", "contribution per period")
	fs.StringVar(&in.Currency, "currency", "", "currency code (default configured currency)")
	fs.StringVar(&frequency, "frequency", "", "daily, weekly, biweekly or monthly")
	fs.IntVar(&in.MaxMembers, "max-members", 0, "member cap (default 10)")
	fs.StringVar(&method, "order-method", "", "random, fixed, bidding or sequential")
	fs.BoolVar(&in.ClosedToEnrollment, "closed", false, "create closed to enrollment")
	fs.StringVar(&in.Phone, "phone", "", "creator phone")
	if err := parse(fs, args); err != nil {
		return err
	}
	if in.Name == "" {
		return fmt.Errorf("%w: --name is required", errUsage)
	}
	value, err := parseAmount("amount", amount)
	if err != nil {
		return err
	}
	in.ContributionAmount = value
	in.Frequency = mchezo.Frequency(frequency)
	in.PayoutOrderMethod = mchezo.PayoutOrderMethod(method)

	group, admin, err := c.Groups.CreateGroup(ctx, common.actorValue(), in)
	if err != nil {
		return err
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(map[string]any{
			"group_id":            group.ID,
			"name":                group.Name,
			"contribution_amount": group.ContributionAmount.StringFixed(2),
			"currency":            group.Currency,
			"max_members":         group.MaxMembers,
			"admin_membership_id": admin.ID,
		})
	}
	_, _ = fmt.Fprintf(c.Stdout, "group %d %q created: %s per %s, up to %d members (admin membership %d)\n",
		group.ID, group.Name, shared.FormatAmount(group.ContributionAmount, group.Currency), group.Frequency, group.MaxMembers, admin.ID)
	return nil
}

func (c *OpsCLI) memberAdd(ctx context.Context, args []string) error {
	var common commonFlags
	var group int64
	var order int
	var in mchezo.AddMemberInput
	fs := newFlagSet("member add", &common)
	fs.Int64Var(&group, "group", 0, "group id")
	fs.Int64Var(&in.UserID, "user", 0, "user id to enroll")
	fs.IntVar(&order, "order", 0, "payout position (default next free)")
	fs.StringVar(&in.Phone, "phone", "", "member phone")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("group", group); err != nil {
		return err
	}
	if err := requirePositive("user", in.UserID); err != nil {
		return err
	}
	if fs.Changed("order") {
		in.PayoutOrder = &order
	}
	member, err := c.Groups.AddMember(ctx, common.actorValue(), group, in)
	if err != nil {
		return err
	}
	return c.printMember(common.json, member)
}

func (c *OpsCLI) memberWithdraw(ctx context.Context, args []string) error {
	var common commonFlags
	var membership int64
	fs := newFlagSet("member withdraw", &common)
	fs.Int64Var(&membership, "membership", 0, "membership id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("membership", membership); err != nil {
		return err
	}
	member, err := c.Groups.WithdrawMember(ctx, common.actorValue(), membership)
	if err != nil {
		return err
	}
	return c.printMember(common.json, member)
}

func (c *OpsCLI) printMember(asJSON bool, m mchezo.Membership) error {
	v := memberView{
		MembershipID: m.ID,
		UserID:       m.UserID,
		PayoutOrder:  m.PayoutOrder,
		Phone:        m.Phone,
		JoinDate:     m.JoinDate.Format(time.DateOnly),
	}
	if asJSON {
		return json.NewEncoder(c.Stdout).Encode(v)
	}
	_, _ = fmt.Fprintf(c.Stdout, "membership %d: user %d in group %d, order %d, %s\n", m.ID, m.UserID, m.GroupID, m.PayoutOrder, m.Status)
	return nil
}

func (c *OpsCLI) cycleStart(ctx context.Context, args []string) error {
	var common commonFlags
	var group int64
	fs := newFlagSet("cycle start", &common)
	fs.Int64Var(&group, "group", 0, "group id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("group", group); err != nil {
		return err
	}
	cycle, err := c.Groups.StartCycle(ctx, common.actorValue(), group)
	if err != nil {
		return err
	}
	return c.printCycle(common.json, cycle)
}

func (c *OpsCLI) cycleComplete(ctx context.Context, args []string) error {
	var common commonFlags
	var cycleID int64
	fs := newFlagSet("cycle complete", &common)
	fs.Int64Var(&cycleID, "cycle", 0, "cycle id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("cycle", cycleID); err != nil {
		return err
	}
	cycle, err := c.Groups.CompleteCycle(ctx, common.actorValue(), cycleID)
	if err != nil {
		return err
	}
	return c.printCycle(common.json, cycle)
}

func (c *OpsCLI) cycleCancel(ctx context.Context, args []string) error {
	var common commonFlags
	var cycleID int64
	var reason string
	fs := newFlagSet("cycle cancel", &common)
	fs.Int64Var(&cycleID, "cycle", 0, "cycle id")
	fs.StringVar(&reason, "reason", "", "why the cycle is cancelled")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("cycle", cycleID); err != nil {
		return err
	}
	if reason == "" {
		return fmt.Errorf("%w: --reason is required", errUsage)
	}
	cycle, err := c.Groups.CancelCycle(ctx, common.actorValue(), cycleID, reason)
	if err != nil {
		return err
	}
	return c.printCycle(common.json, cycle)
}

func (c *OpsCLI) cyclePayouts(ctx context.Context, args []string) error {
	var common commonFlags
	var cycleID int64
	fs := newFlagSet("cycle payouts", &common)
	fs.Int64Var(&cycleID, "cycle", 0, "cycle id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("cycle", cycleID); err != nil {
		return err
	}
	payouts, err := c.Groups.ListPayouts(ctx, cycleID)
	if err != nil {
		return err
	}
	views := make([]payoutView, len(payouts))
	for i, p := range payouts {
		views[i] = newPayoutView(p)
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(views)
	}
	tw := tabwriter.NewWriter(c.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ORDER\tMEMBERSHIP\tAMOUNT\tMETHOD\tSTATUS")
	for _, v := range views {
		_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", v.PayoutOrder, v.MembershipID, v.Amount, v.PaymentMethod, v.Status)
	}
	return tw.Flush()
}

type postingFlags struct {
	cycle      int64
	membership int64
	amount     string
	method     string
	reference  string
	note       string
}

func (p *postingFlags) bind(name string, common *commonFlags) *pflag.FlagSet {
	fs := newFlagSet(name, common)
	fs.Int64Var(&p.cycle, "cycle", 0, "cycle id")
	fs.Int64Var(&p.membership, "membership", 0, "membership id")
	fs.StringVar(&p.amount, "amount", "", "amount")
	fs.StringVar(&p.method, "method", "", "payment method")
	fs.StringVar(&p.reference, "reference", "", "payment reference")
	fs.StringVar(&p.note, "note", "", "notes")
	return fs
}

func (p *postingFlags) check() error {
	if err := requirePositive("cycle", p.cycle); err != nil {
		return err
	}
	if err := requirePositive("membership", p.membership); err != nil {
		return err
	}
	if p.method == "" {
		return fmt.Errorf("%w: --method is required", errUsage)
	}
	return nil
}

func (c *OpsCLI) contribute(ctx context.Context, args []string) error {
	var common commonFlags
	var posting postingFlags
	var week, weeks int
	fs := posting.bind("contribute", &common)
	fs.IntVar(&week, "week", 0, "week number (default current week)")
	fs.IntVar(&weeks, "weeks", 0, "pay this many consecutive weeks in advance")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := posting.check(); err != nil {
		return err
	}
	amount, err := parseAmount("amount", posting.amount)
	if err != nil {
		return err
	}
	if fs.Changed("week") && fs.Changed("weeks") {
		return fmt.Errorf("%w: --week and --weeks are exclusive", errUsage)
	}

	var recorded []mchezo.Contribution
	if fs.Changed("weeks") {
		recorded, err = c.Groups.RecordBulkContribution(ctx, common.actorValue(), posting.cycle, posting.membership, mchezo.BulkContributionInput{
			AmountPerWeek: amount, Weeks: weeks, PaymentMethod: posting.method, Reference: posting.reference, Notes: posting.note,
		})
	} else {
		in := mchezo.ContributionInput{Amount: amount, PaymentMethod: posting.method, Reference: posting.reference, Notes: posting.note}
		if fs.Changed("week") {
			in.Week = &week
		}
		var one mchezo.Contribution
		one, err = c.Groups.RecordContribution(ctx, common.actorValue(), posting.cycle, posting.membership, in)
		recorded = []mchezo.Contribution{one}
	}
	if err != nil {
		return err
	}

	type contributionView struct {
		ID     int64  `json:"id"`
		Week   int    `json:"week"`
		Amount string `json:"amount"`
		Status string `json:"status"`
	}
	views := make([]contributionView, len(recorded))
	for i, rec := range recorded {
		views[i] = contributionView{ID: rec.ID, Week: rec.Week, Amount: rec.Amount.StringFixed(2), Status: string(rec.Status)}
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(views)
	}
	for _, v := range views {
		_, _ = fmt.Fprintf(c.Stdout, "contribution %d: week %d, %s (%s)\n", v.ID, v.Week, v.Amount, v.Status)
	}
	return nil
}

// payoutView is the printable form of a payout.
type payoutView struct {
	ID            int64  `json:"id"`
	MembershipID  int64  `json:"membership_id"`
	PayoutOrder   int    `json:"payout_order"`
	Amount        string `json:"amount"`
	PaymentMethod string `json:"payment_method"`
	Status        string `json:"status"`
}

func newPayoutView(p mchezo.Payout) payoutView {
	return payoutView{
		ID:            p.ID,
		MembershipID:  p.MembershipID,
		PayoutOrder:   p.PayoutOrder,
		Amount:        p.Amount.StringFixed(2),
		PaymentMethod: p.PaymentMethod,
		Status:        string(p.Status),
	}
}

func (c *OpsCLI) payout(ctx context.Context, args []string) error {
	var common commonFlags
	var posting postingFlags
	fs := posting.bind("payout", &common)
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := posting.check(); err != nil {
		return err
	}
	amount, err := parseAmount("amount", posting.amount)
	if err != nil {
		return err
	}
	paid, cycle, err := c.Groups.RecordPayout(ctx, common.actorValue(), posting.cycle, posting.membership, mchezo.PayoutInput{
		Amount: amount, PaymentMethod: posting.method, Reference: posting.reference, Notes: posting.note,
	})
	if err != nil {
		return err
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(map[string]any{"payout": newPayoutView(paid), "cycle": newCycleView(cycle)})
	}
	_, _ = fmt.Fprintf(c.Stdout, "payout %d: order %d, %s to membership %d\n", paid.ID, paid.PayoutOrder, paid.Amount.StringFixed(2), paid.MembershipID)
	if cycle.Status == mchezo.CycleCompleted {
		_, _ = fmt.Fprintf(c.Stdout, "cycle %d completed\n", cycle.ID)
	}
	return nil
}
