package schedule

import (
	"context"
	"time"

	"emsreport/internal/report"
)

// ReportFilter carries the opaque report parameters a job was created with.
// The scheduler validates presence only and passes them through verbatim to
// the data pipeline.
type ReportFilter struct {
	Period  string
	Domain  string
	GroupBy string
	Type    string
}

// Job is one recurring report subscription. Jobs are immutable values: the
// tick handler works on a snapshot, never on a live registry reference, so
// a concurrent cancel cannot race a tick in progress.
type Job struct {
	ID         string
	Recipients []string
	Rule       Rule
	Filter     ReportFilter
}

// Summary describes a registered job for listing and scheduling responses.
type Summary struct {
	ID           string    `json:"jobId"`
	Recipients   []string  `json:"recipients"`
	Timezone     string    `json:"timeZone"`
	LocalTime    string    `json:"userLocalTime"`
	UTCTime      string    `json:"utcTime"`
	CronExpr     string    `json:"utcCronTime"`
	NextRunAtUTC time.Time `json:"nextRun"`
	Running      bool      `json:"running"`
}

// Record is the durable representation of a job in the job store. The store
// exclusively owns durable state; the in-memory registry is a rebuildable
// cache of currently live jobs.
type Record struct {
	ID             string
	Recipients     []string
	CronExpression string
	Timezone       string
	LocalTime      string
	Period         string
	Days           string
	Domain         string
	GroupBy        string
	Type           string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store is the persistence collaborator for job records.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	FindAll(ctx context.Context) ([]Record, error)
	Deactivate(ctx context.Context, id string) error
}

// Pipeline is the data collaborator that fetches and aggregates consumption
// data for a tick.
type Pipeline interface {
	Fetch(ctx context.Context, filter ReportFilter) (*report.Report, error)
}

// Renderer turns a structured report into chart specs and a spreadsheet
// document.
type Renderer interface {
	RenderCharts(ctx context.Context, rep *report.Report) ([]report.Chart, error)
	RenderWorkbook(ctx context.Context, rep *report.Report, charts []report.Chart) ([]byte, error)
}

// Notifier delivers the rendered document to the job's recipients.
type Notifier interface {
	Send(ctx context.Context, recipients []string, document []byte) error
}

// NewRecord builds the durable record for a job.
func NewRecord(job Job) Record {
	return Record{
		ID:             job.ID,
		Recipients:     job.Recipients,
		CronExpression: job.Rule.CronExpr(),
		Timezone:       job.Rule.Timezone,
		LocalTime:      job.Rule.LocalTime,
		Period:         job.Filter.Period,
		Days:           job.Rule.DayOfWeek,
		Domain:         job.Filter.Domain,
		GroupBy:        job.Filter.GroupBy,
		Type:           job.Filter.Type,
		IsActive:       true,
	}
}

// JobFromRecord reconstructs an in-memory job from a persisted record,
// parsing the stored recurrence expression back into a rule.
func JobFromRecord(rec Record) (Job, error) {
	rule, err := ParseCronExpr(rec.CronExpression)
	if err != nil {
		return Job{}, err
	}
	rule.Timezone = rec.Timezone
	rule.LocalTime = rec.LocalTime

	return Job{
		ID:         rec.ID,
		Recipients: rec.Recipients,
		Rule:       rule,
		Filter: ReportFilter{
			Period:  rec.Period,
			Domain:  rec.Domain,
			GroupBy: rec.GroupBy,
			Type:    rec.Type,
		},
	}, nil
}
