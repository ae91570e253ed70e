// Package scheduler implements the scheduled jobs of the BillWatch
// reminder pipeline: reminder scheduling, queue draining, and the
// auto-sync orchestrator. Each job is a plain service built against narrow
// repository and adapter interfaces so tests run without a database or
// real delivery providers.
package scheduler

import (
	"context"
	"time"
)

// ScheduleSummary reports the outcome of one Reschedule call.
type ScheduleSummary struct {
	Scheduled        int      `json:"scheduled"`
	AlreadyScheduled int      `json:"already_scheduled"`
	SkipReasons      []string `json:"skip_reasons,omitempty"`
}

// DrainSummary reports the counters of one drain pass. Processed counts
// only rows this invocation claimed; rows lost to a concurrent drain are
// nobody's statistic.
type DrainSummary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Requeued  int `json:"requeued"`
}

// SyncSummary reports the counters of one auto-sync pass.
type SyncSummary struct {
	Eligible     int `json:"eligible"`
	Synced       int `json:"synced"`
	Skipped      int `json:"skipped"` // lock held elsewhere
	Failed       int `json:"failed"`
	BillsCreated int `json:"bills_created"`
}

// Metrics abstracts telemetry for the scheduled jobs. Production wiring
// uses the CloudWatch recorder; tests and local runs use NopMetrics.
type Metrics interface {
	RecordCounter(ctx context.Context, name string, value float64, dims map[string]string)
	RecordDuration(ctx context.Context, name string, d time.Duration, dims map[string]string)
}

// Metric names emitted by the jobs.
const (
	MetricDrainOutcome  = "ReminderDrainOutcome" // dim: result
	MetricDrainDuration = "ReminderDrainDuration"
	MetricSyncOutcome   = "AutoSyncOutcome" // dim: result
	MetricSyncDuration  = "AutoSyncDuration"
)

// NopMetrics is a Metrics implementation that discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordCounter(context.Context, string, float64, map[string]string)        {}
func (NopMetrics) RecordDuration(context.Context, string, time.Duration, map[string]string) {}
