package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/annacash/annacash/internal/mchezo"
	"github.com/annacash/annacash/internal/shared"
	"github.com/annacash/annacash/internal/wakala"
)

// DayOps is the subset of the balancing engine the CLI drives.
type DayOps interface {
	OpenDay(ctx context.Context, actor shared.Actor, in wakala.OpenDayInput) (wakala.FinancialDay, error)
	CloseDay(ctx context.Context, actor shared.Actor, in wakala.CloseDayInput) (wakala.FinancialDay, error)
	ResolveDiscrepancy(ctx context.Context, actor shared.Actor, dayID int64, note string) (wakala.FinancialDay, error)
	GetDayStatus(ctx context.Context, businessID int64, date *time.Time) (wakala.DayStatusSnapshot, error)
	GetDiscrepancyAlerts(ctx context.Context, businessID int64, windowDays int) ([]wakala.FinancialDay, error)
	EstimateClosingBalance(ctx context.Context, businessID int64, date *time.Time) (decimal.Decimal, error)
}

// CycleOps is the subset of the cycle orchestrator the CLI drives.
type CycleOps interface {
	GetCycleProgress(ctx context.Context, cycleID int64) (mchezo.CycleProgress, error)
	GetDefaultedMembers(ctx context.Context, cycleID int64) ([]mchezo.Membership, error)
}

// JobQueue enqueues discrepancy scans and reports queue depth. *JobsCLI satisfies it.
type JobQueue interface {
	TriggerScan(ctx context.Context, windowDays int, businessIDs ...int64) (string, error)
	InspectQueue() (QueueStats, error)
}

// OpsCLI dispatches operator commands.
type OpsCLI struct {
	Days   DayOps
	Txns   TxnOps
	Cycles CycleOps
	Groups SavingsOps
	Jobs   JobQueue
	Audit  AuditOps
	Stdout io.Writer
	Stderr io.Writer
}

const usage = `usage: annacash <command> [flags]

commands:
  day open      --business ID --opening AMOUNT [--date YYYY-MM-DD] [--note TEXT]
  day close     --business ID --closing AMOUNT [--note TEXT]
  day status    --business ID [--date YYYY-MM-DD]
  day estimate  --business ID [--date YYYY-MM-DD]
  day resolve   --day ID --note TEXT
  alerts        --business ID [--window DAYS]
  txn post      --business ID --day ID --amount AMOUNT [--type TYPE] [--method M]
  txn edit      --id ID [--amount AMOUNT] [--method M] [--status S] [--note TEXT]
  txn list      --day ID
  txn delete    --id ID
  cycle progress   --cycle ID
  cycle defaulters --cycle ID
  cycle payouts    --cycle ID
  cycle start      --group ID
  cycle complete   --cycle ID
  cycle cancel     --cycle ID --reason TEXT
  group create  --name NAME --amount AMOUNT [--frequency F] [--max-members N] [--order-method M]
  member add    --group ID --user ID [--order N] [--phone P]
  member withdraw --membership ID
  contribute    --cycle ID --membership ID --amount AMOUNT --method M [--week N] [--weeks N]
  payout        --cycle ID --membership ID --amount AMOUNT --method M
  scan          [--window DAYS] [--business ID ...]
  queue
  audit         [--from DATE] [--to DATE] [--by ID] [--entity E] [--entity-id ID] [--action A] [--page N] [--page-size N] [--csv]

global flags: --actor ID, --superuser, --json
`

// Run parses args and executes the matching command. It returns the process exit code.
func (c *OpsCLI) Run(ctx context.Context, args []string) int {
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if len(args) == 0 {
		_, _ = fmt.Fprint(c.Stderr, usage)
		return 2
	}
	name := args[0]
	rest := args[1:]
	if name == "day" || name == "cycle" || name == "txn" || name == "group" || name == "member" {
		if len(rest) == 0 {
			_, _ = fmt.Fprint(c.Stderr, usage)
			return 2
		}
		name += " " + rest[0]
		rest = rest[1:]
	}

	if err := c.configured(name); err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "annacash %s: %v\n", name, err)
		return 1
	}
	var err error
	switch name {
	case "day open":
		err = c.dayOpen(ctx, rest)
	case "day close":
		err = c.dayClose(ctx, rest)
	case "day status":
		err = c.dayStatus(ctx, rest)
	case "day estimate":
		err = c.dayEstimate(ctx, rest)
	case "day resolve":
		err = c.dayResolve(ctx, rest)
	case "alerts":
		err = c.alerts(ctx, rest)
	case "txn post":
		err = c.txnPost(ctx, rest)
	case "txn edit":
		err = c.txnEdit(ctx, rest)
	case "txn list":
		err = c.txnList(ctx, rest)
	case "txn delete":
		err = c.txnDelete(ctx, rest)
	case "cycle progress":
		err = c.cycleProgress(ctx, rest)
	case "cycle defaulters":
		err = c.cycleDefaulters(ctx, rest)
	case "cycle payouts":
		err = c.cyclePayouts(ctx, rest)
	case "cycle start":
		err = c.cycleStart(ctx, rest)
	case "cycle complete":
		err = c.cycleComplete(ctx, rest)
	case "cycle cancel":
		err = c.cycleCancel(ctx, rest)
	case "group create":
		err = c.groupCreate(ctx, rest)
	case "member add":
		err = c.memberAdd(ctx, rest)
	case "member withdraw":
		err = c.memberWithdraw(ctx, rest)
	case "contribute":
		err = c.contribute(ctx, rest)
	case "payout":
		err = c.payout(ctx, rest)
	case "scan":
		err = c.scan(ctx, rest)
	case "queue":
		err = c.queue(rest)
	case "audit":
		err = c.auditTrail(ctx, rest)
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(c.Stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(c.Stderr, "annacash: unknown command %q\n\n%s", name, usage)
		return 2
	}
	if err != nil {
		_, _ = fmt.Fprintf(c.Stderr, "annacash %s: %v\n", name, err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, shared.ErrNotFound):
		return 3
	case errors.Is(err, shared.ErrForbidden):
		return 4
	case errors.Is(err, shared.ErrPrecondition):
		return 5
	case errors.Is(err, shared.ErrConflict):
		return 6
	default:
		return 1
	}
}

var errUsage = errors.New("invalid usage")

func (c *OpsCLI) configured(name string) error {
	switch name {
	case "cycle progress", "cycle defaulters":
		if c.Cycles == nil {
			return errors.New("cycle operations not configured")
		}
		return nil
	case "contribute", "payout":
		if c.Groups == nil {
			return errors.New("savings group operations not configured")
		}
		return nil
	}
	switch {
	case (name == "alerts" || strings.HasPrefix(name, "day ")) && c.Days == nil:
		return errors.New("day operations not configured")
	case strings.HasPrefix(name, "txn ") && c.Txns == nil:
		return errors.New("transaction operations not configured")
	case (strings.HasPrefix(name, "cycle ") || strings.HasPrefix(name, "group ") || strings.HasPrefix(name, "member ")) && c.Groups == nil:
		return errors.New("savings group operations not configured")
	case (name == "scan" || name == "queue") && c.Jobs == nil:
		return errors.New("job queue not configured")
	case name == "audit" && c.Audit == nil:
		return errors.New("audit trail not configured")
	}
	return nil
}

// commonFlags are accepted by every command.
type commonFlags struct {
	actor     int64
	superuser bool
	json      bool
}

func newFlagSet(name string, common *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Int64Var(&common.actor, "actor", 0, "acting user id")
	fs.BoolVar(&common.superuser, "superuser", false, "act as a superuser")
	fs.BoolVar(&common.json, "json", false, "output as JSON")
	return fs
}

func parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	return nil
}

func (f commonFlags) actorValue() shared.Actor {
	return shared.Actor{ID: f.actor, Superuser: f.superuser}
}

func requirePositive(name string, v int64) error {
	if v <= 0 {
		return fmt.Errorf("%w: --%s is required and must be positive", errUsage, name)
	}
	return nil
}

func parseAmount(name, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: --%s is required", errUsage, name)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid --%s %q", errUsage, name, raw)
	}
	return amount, nil
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid --date %q (expected YYYY-MM-DD)", errUsage, raw)
	}
	return &d, nil
}
