package model

import "time"

// JobStatus represents the current state of an import job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusValidating JobStatus = "validating"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further mutation of a job in this state is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// transitions lists the allowed source states for each target state.
var transitions = map[JobStatus][]JobStatus{
	JobStatusValidating: {JobStatusPending},
	JobStatusProcessing: {JobStatusValidating},
	JobStatusCompleted:  {JobStatusProcessing},
	JobStatusFailed:     {JobStatusPending, JobStatusValidating, JobStatusProcessing},
	JobStatusCancelled:  {JobStatusPending, JobStatusValidating, JobStatusProcessing},
}

// PredecessorsOf returns the states a job may move to `to` from.
func PredecessorsOf(to JobStatus) []JobStatus {
	return transitions[to]
}

// CanTransition reports whether a job may move from one state to another.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// ImportOptions controls how duplicates and notifications are handled.
type ImportOptions struct {
	SkipDuplicates          bool `json:"skipDuplicates"`
	UpdateExisting          bool `json:"updateExisting"`
	SendWelcomeNotification bool `json:"sendWelcomeNotification"`
}

// RowError records the errors of one row for the job's error summary.
type RowError struct {
	Row    int      `json:"row"`
	Errors []string `json:"errors"`
}

// ImportJob is the durable record of one import execution.
type ImportJob struct {
	ID                    string        `json:"id"`
	FileName              string        `json:"fileName"`
	Status                JobStatus     `json:"status"`
	TotalRows             int           `json:"totalRows"`
	ProcessedRows         int           `json:"processedRows"`
	SuccessfulRows        int           `json:"successfulRows"`
	ErrorRows             int           `json:"errorRows"`
	SkippedRows           int           `json:"skippedRows"`
	ReviewRows            int           `json:"reviewRows"` // subset of SkippedRows awaiting operator review
	CreatedBy             string        `json:"createdBy"`
	Options               ImportOptions `json:"options"`
	ErrorSummary          []RowError    `json:"errorSummary"`
	CancellationRequested bool          `json:"cancellationRequested"`
	CancelReason          string        `json:"cancelReason,omitempty"`
	FailureReason         string        `json:"failureReason,omitempty"`
	StartedAt             *time.Time    `json:"startedAt,omitempty"`
	CompletedAt           *time.Time    `json:"completedAt,omitempty"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

// JobProgress is the cumulative counter checkpoint written after each batch.
type JobProgress struct {
	ProcessedRows  int        `json:"processedRows"`
	SuccessfulRows int        `json:"successfulRows"`
	ErrorRows      int        `json:"errorRows"`
	SkippedRows    int        `json:"skippedRows"`
	ReviewRows     int        `json:"reviewRows"`
	ErrorSummary   []RowError `json:"errorSummary"`
}

// Add accumulates the counters of another batch into p.
func (p *JobProgress) Add(o JobProgress, summaryLimit int) {
	p.ProcessedRows += o.ProcessedRows
	p.SuccessfulRows += o.SuccessfulRows
	p.ErrorRows += o.ErrorRows
	p.SkippedRows += o.SkippedRows
	p.ReviewRows += o.ReviewRows
	for _, e := range o.ErrorSummary {
		if len(p.ErrorSummary) >= summaryLimit {
			break
		}
		p.ErrorSummary = append(p.ErrorSummary, e)
	}
}

// Progress returns the job's current counters.
func (j *ImportJob) Progress() JobProgress {
	return JobProgress{
		ProcessedRows:  j.ProcessedRows,
		SuccessfulRows: j.SuccessfulRows,
		ErrorRows:      j.ErrorRows,
		SkippedRows:    j.SkippedRows,
		ReviewRows:     j.ReviewRows,
		ErrorSummary:   j.ErrorSummary,
	}
}

// EstimatedRemaining extrapolates the time left from the processing rate so
// far. It returns zero when there is not enough progress to estimate.
func (j *ImportJob) EstimatedRemaining(now time.Time) time.Duration {
	if j.Status.Terminal() || j.StartedAt == nil || j.ProcessedRows == 0 || j.TotalRows <= j.ProcessedRows {
		return 0
	}
	elapsed := now.Sub(*j.StartedAt)
	if elapsed <= 0 {
		return 0
	}
	perRow := elapsed / time.Duration(j.ProcessedRows)
	return perRow * time.Duration(j.TotalRows-j.ProcessedRows)
}
