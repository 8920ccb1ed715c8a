package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusValidating, false},
		{JobStatusProcessing, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(JobStatusPending, JobStatusValidating))
	assert.True(t, CanTransition(JobStatusValidating, JobStatusProcessing))
	assert.True(t, CanTransition(JobStatusProcessing, JobStatusCompleted))
	assert.True(t, CanTransition(JobStatusProcessing, JobStatusCancelled))
	assert.True(t, CanTransition(JobStatusPending, JobStatusFailed))

	assert.False(t, CanTransition(JobStatusPending, JobStatusProcessing))
	assert.False(t, CanTransition(JobStatusValidating, JobStatusCompleted))
	assert.False(t, CanTransition(JobStatusCompleted, JobStatusFailed))
	assert.False(t, CanTransition(JobStatusCancelled, JobStatusProcessing))
	assert.False(t, CanTransition(JobStatusFailed, JobStatusPending))
}

func TestTerminalStatesHaveNoSuccessors(t *testing.T) {
	t.Parallel()

	for _, from := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled} {
		for to := range transitions {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestJobProgressAdd(t *testing.T) {
	t.Parallel()

	var p JobProgress
	p.Add(JobProgress{
		ProcessedRows: 3, SuccessfulRows: 1, ErrorRows: 1, SkippedRows: 1,
		ErrorSummary: []RowError{{Row: 2, Errors: []string{"bad"}}},
	}, 2)
	p.Add(JobProgress{
		ProcessedRows: 2, ErrorRows: 2,
		ErrorSummary: []RowError{{Row: 4}, {Row: 5}},
	}, 2)

	assert.Equal(t, 5, p.ProcessedRows)
	assert.Equal(t, 1, p.SuccessfulRows)
	assert.Equal(t, 3, p.ErrorRows)
	assert.Equal(t, 1, p.SkippedRows)
	assert.Equal(t, p.ProcessedRows, p.SuccessfulRows+p.ErrorRows+p.SkippedRows)
	assert.Len(t, p.ErrorSummary, 2)
	assert.Equal(t, 4, p.ErrorSummary[1].Row)
}

func TestEstimatedRemaining(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	job := &ImportJob{
		Status:        JobStatusProcessing,
		StartedAt:     &start,
		TotalRows:     400,
		ProcessedRows: 100,
	}

	assert.Equal(t, 30*time.Second, job.EstimatedRemaining(start.Add(10*time.Second)))

	job.ProcessedRows = 0
	assert.Zero(t, job.EstimatedRemaining(start.Add(10*time.Second)))

	job.ProcessedRows = 400
	job.Status = JobStatusCompleted
	assert.Zero(t, job.EstimatedRemaining(start.Add(time.Minute)))
}
