package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/annacash/annacash/internal/audit"
)

// AuditOps reads the audit trail.
type AuditOps interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

var _ AuditOps = (*audit.Service)(nil)

func (c *OpsCLI) auditTrail(ctx context.Context, args []string) error {
	var common commonFlags
	var filters audit.TimelineFilters
	var from, to string
	var csvOut bool
	fs := newFlagSet("audit", &common)
	fs.StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	fs.StringVar(&to, "to", "", "last day, inclusive (YYYY-MM-DD)")
	fs.Int64Var(&filters.ActorID, "by", 0, "only records written by this user")
	fs.StringVar(&filters.Entity, "entity", "", "entity kind, e.g. financial_day")
	fs.StringVar(&filters.EntityID, "entity-id", "", "entity id")
	fs.StringVar(&filters.Action, "action", "", "action, e.g. close_day")
	fs.IntVar(&filters.Page, "page", 1, "page number")
	fs.IntVar(&filters.PageSize, "page-size", 20, "records per page (max 50)")
	fs.BoolVar(&csvOut, "csv", false, "export every matching record as CSV")
	if err := parse(fs, args); err != nil {
		return err
	}
	start, err := parseDate(from)
	if err != nil {
		return err
	}
	if start != nil {
		filters.From = *start
	}
	end, err := parseDate(to)
	if err != nil {
		return err
	}
	if end != nil {
		filters.To = end.AddDate(0, 0, 1)
	}

	if csvOut {
		rows, err := c.Audit.Export(ctx, filters)
		if err != nil {
			return err
		}
		return audit.WriteCSV(c.Stdout, rows)
	}
	result, err := c.Audit.Timeline(ctx, filters)
	if err != nil {
		return err
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(result)
	}
	tw := tabwriter.NewWriter(c.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "AT\tACTOR\tACTION\tENTITY\tDESCRIPTION")
	for _, row := range result.Rows {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			row.At.UTC().Format(time.RFC3339), row.ActorID, row.Action,
			strings.Join([]string{row.Entity, row.EntityID}, "/"), row.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if result.Paging.HasNext {
		_, _ = fmt.Fprintf(c.Stdout, "more records: --page %d\n", result.Paging.NextPage)
	}
	return nil
}
