package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/annacash/annacash/internal/wakala"
)

func (c *OpsCLI) dayOpen(ctx context.Context, args []string) error {
	var common commonFlags
	var business int64
	var opening, date, note string
	fs := newFlagSet("day open", &common)
	fs.Int64Var(&business, "business", 0, "business id")
	fs.StringVar(&opening, "opening", "", "opening balance")
	fs.StringVar(&date, "date", "", "day to open (default today)")
	fs.StringVar(&note, "note", "", "opening note")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("business", business); err != nil {
		return err
	}
	amount, err := parseAmount("opening", opening)
	if err != nil {
		return err
	}
	on, err := parseDate(date)
	if err != nil {
		return err
	}
	in := wakala.OpenDayInput{BusinessID: business, OpeningBalance: amount, Note: note}
	if on != nil {
		in.Date = *on
	}
	day, err := c.Days.OpenDay(ctx, common.actorValue(), in)
	if err != nil {
		return err
	}
	return c.printDay(common.json, day)
}

func (c *OpsCLI) dayClose(ctx context.Context, args []string) error {
	var common commonFlags
	var business int64
	var closing, note string
	fs := newFlagSet("day close", &common)
	fs.Int64Var(&business, "business", 0, "business id")
	fs.StringVar(&closing, "closing", "", "physically counted closing balance")
	fs.StringVar(&note, "note", "", "closing note")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("business", business); err != nil {
		return err
	}
	amount, err := parseAmount("closing", closing)
	if err != nil {
		return err
	}
	day, err := c.Days.CloseDay(ctx, common.actorValue(), wakala.CloseDayInput{BusinessID: business, ClosingBalance: amount, Note: note})
	if err != nil {
		return err
	}
	return c.printDay(common.json, day)
}

func (c *OpsCLI) dayResolve(ctx context.Context, args []string) error {
	var common commonFlags
	var day int64
	var note string
	fs := newFlagSet("day resolve", &common)
	fs.Int64Var(&day, "day", 0, "closed financial day id")
	fs.StringVar(&note, "note", "", "explanation of the discrepancy")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("day", day); err != nil {
		return err
	}
	if note == "" {
		return fmt.Errorf("%w: --note is required", errUsage)
	}
	resolved, err := c.Days.ResolveDiscrepancy(ctx, common.actorValue(), day, note)
	if err != nil {
		return err
	}
	return c.printDay(common.json, resolved)
}

func (c *OpsCLI) dayStatus(ctx context.Context, args []string) error {
	var common commonFlags
	var business int64
	var date string
	fs := newFlagSet("day status", &common)
	fs.Int64Var(&business, "business", 0, "business id")
	fs.StringVar(&date, "date", "", "day to inspect (default today)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("business", business); err != nil {
		return err
	}
	on, err := parseDate(date)
	if err != nil {
		return err
	}
	status, err := c.Days.GetDayStatus(ctx, business, on)
	if err != nil {
		return err
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(status)
	}
	_, _ = fmt.Fprintf(c.Stdout, "business %d on %s: %s\n", business, status.Date.Format(time.DateOnly), status.Status)
	if !status.Exists {
		return nil
	}
	_, _ = fmt.Fprintf(c.Stdout, "opening %s  expected %s  deposits %s  withdrawals %s  transactions %d\n",
		status.OpeningBalance.StringFixed(2), status.ComputedClosingBalance.StringFixed(2),
		status.DepositsTotal.StringFixed(2), status.WithdrawalsTotal.StringFixed(2), status.TransactionCount)
	if status.ActualClosingBalance.Valid {
		_, _ = fmt.Fprintf(c.Stdout, "counted %s  discrepancy %s\n",
			status.ActualClosingBalance.Decimal.StringFixed(2), status.Discrepancy.StringFixed(2))
	}
	return nil
}

func (c *OpsCLI) dayEstimate(ctx context.Context, args []string) error {
	var common commonFlags
	var business int64
	var date string
	fs := newFlagSet("day estimate", &common)
	fs.Int64Var(&business, "business", 0, "business id")
	fs.StringVar(&date, "date", "", "day to estimate (default today)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("business", business); err != nil {
		return err
	}
	on, err := parseDate(date)
	if err != nil {
		return err
	}
	estimate, err := c.Days.EstimateClosingBalance(ctx, business, on)
	if err != nil {
		return err
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(map[string]string{"estimated_closing_balance": estimate.StringFixed(2)})
	}
	_, _ = fmt.Fprintf(c.Stdout, "estimated closing balance %s\n", estimate.StringFixed(2))
	return nil
}

func (c *OpsCLI) alerts(ctx context.Context, args []string) error {
	var common commonFlags
	var business int64
	var window int
	fs := newFlagSet("alerts", &common)
	fs.Int64Var(&business, "business", 0, "business id")
	fs.IntVar(&window, "window", wakala.DefaultAlertWindowDays, "trailing window in days")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := requirePositive("business", business); err != nil {
		return err
	}
	days, err := c.Days.GetDiscrepancyAlerts(ctx, business, window)
	if err != nil {
		return err
	}
	if common.json {
		out := make([]dayView, len(days))
		for i, d := range days {
			out[i] = newDayView(d)
		}
		return json.NewEncoder(c.Stdout).Encode(out)
	}
	if len(days) == 0 {
		_, _ = fmt.Fprintf(c.Stdout, "no shortfalls in the last %d days\n", window)
		return nil
	}
	tw := tabwriter.NewWriter(c.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DATE\tEXPECTED\tCOUNTED\tSHORTFALL\tNOTE")
	for _, d := range days {
		v := newDayView(d)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Date, v.ComputedClosingBalance, v.ClosingBalance, v.Discrepancy, d.DiscrepancyNote)
	}
	return tw.Flush()
}

// dayView is the printable form of a financial day.
type dayView struct {
	ID                     int64  `json:"id"`
	BusinessID             int64  `json:"business_id"`
	Date                   string `json:"date"`
	Status                 string `json:"status"`
	OpeningBalance         string `json:"opening_balance"`
	ComputedClosingBalance string `json:"computed_closing_balance"`
	ClosingBalance         string `json:"closing_balance,omitempty"`
	Discrepancy            string `json:"discrepancy"`
	DiscrepancyNote        string `json:"discrepancy_note,omitempty"`
}

func newDayView(d wakala.FinancialDay) dayView {
	v := dayView{
		ID:                     d.ID,
		BusinessID:             d.BusinessID,
		Date:                   d.Date.Format(time.DateOnly),
		Status:                 string(d.Status),
		OpeningBalance:         d.OpeningBalance.StringFixed(2),
		ComputedClosingBalance: d.ComputedClosingBalance.StringFixed(2),
		Discrepancy:            d.Discrepancy.StringFixed(2),
		DiscrepancyNote:        d.DiscrepancyNote,
	}
	if d.ClosingBalance.Valid {
		v.ClosingBalance = d.ClosingBalance.Decimal.StringFixed(2)
	}
	return v
}

func (c *OpsCLI) printDay(asJSON bool, d wakala.FinancialDay) error {
	v := newDayView(d)
	if asJSON {
		return json.NewEncoder(c.Stdout).Encode(v)
	}
	writeDay(c.Stdout, v)
	return nil
}

func writeDay(out io.Writer, v dayView) {
	_, _ = fmt.Fprintf(out, "day %d (%s) business %d: %s\n", v.ID, v.Date, v.BusinessID, v.Status)
	_, _ = fmt.Fprintf(out, "opening %s  expected %s", v.OpeningBalance, v.ComputedClosingBalance)
	if v.ClosingBalance != "" {
		_, _ = fmt.Fprintf(out, "  counted %s  discrepancy %s", v.ClosingBalance, v.Discrepancy)
	}
	_, _ = fmt.Fprintln(out)
	if v.DiscrepancyNote != "" {
		_, _ = fmt.Fprintf(out, "note: %s\n", v.DiscrepancyNote)
	}
}
