package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/annacash/annacash/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWakalaDiscrepancyScan scans recently closed days for cash shortfalls.
	TaskWakalaDiscrepancyScan = "wakala:discrepancy_scan"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// DiscrepancyScanPayload configures a discrepancy scan run. An empty
// BusinessIDs list scans every active business.
type DiscrepancyScanPayload struct {
	WindowDays  int     `json:"window_days"`
	BusinessIDs []int64 `json:"business_ids,omitempty"`
}

// NewDiscrepancyScanTask constructs an Asynq task for the discrepancy scan.
func NewDiscrepancyScanTask(windowDays int, businessIDs ...int64) (*asynq.Task, error) {
	data, err := json.Marshal(DiscrepancyScanPayload{WindowDays: windowDays, BusinessIDs: businessIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWakalaDiscrepancyScan, data), nil
}
