package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/annacash/annacash/internal/wakala"
	"github.com/annacash/annacash/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerScan enqueues a discrepancy scan and returns the task id.
func (c *JobsCLI) TriggerScan(ctx context.Context, windowDays int, businessIDs ...int64) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewDiscrepancyScanTask(windowDays, businessIDs...)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

func (c *OpsCLI) scan(ctx context.Context, args []string) error {
	var common commonFlags
	var window int
	var businesses []int64
	fs := newFlagSet("scan", &common)
	fs.IntVar(&window, "window", wakala.DefaultAlertWindowDays, "trailing window in days")
	fs.Int64SliceVar(&businesses, "business", nil, "business ids to scan (default all active)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if window <= 0 {
		return fmt.Errorf("%w: --window must be positive", errUsage)
	}
	id, err := c.Jobs.TriggerScan(ctx, window, businesses...)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.Stdout, "enqueued %s task %s\n", jobs.TaskWakalaDiscrepancyScan, id)
	return nil
}

func (c *OpsCLI) queue(args []string) error {
	var common commonFlags
	fs := newFlagSet("queue", &common)
	if err := parse(fs, args); err != nil {
		return err
	}
	stats, err := c.Jobs.InspectQueue()
	if err != nil {
		return err
	}
	if common.json {
		return json.NewEncoder(c.Stdout).Encode(stats)
	}
	_, _ = fmt.Fprintf(c.Stdout, "queue %s: pending %d  active %d  scheduled %d  retry %d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	return nil
}
