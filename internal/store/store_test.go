package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/donor-import/internal/config"
	"github.com/sells-group/donor-import/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// forEachStore runs fn against every embedded Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLiteStore(t)) })
}

func newJob(t *testing.T, s Store, createdBy string) *model.ImportJob {
	t.Helper()
	job := &model.ImportJob{FileName: "donors.csv", CreatedBy: createdBy, TotalRows: 10, Options: model.ImportOptions{SkipDuplicates: true}}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func TestStore_CreateAndGetJob(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		job := newJob(t, s, "alice")
		require.NotEmpty(t, job.ID)
		assert.Equal(t, model.JobStatusPending, job.Status)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "donors.csv", got.FileName)
		assert.Equal(t, "alice", got.CreatedBy)
		assert.Equal(t, 10, got.TotalRows)
		assert.True(t, got.Options.SkipDuplicates)
		assert.Equal(t, model.JobStatusPending, got.Status)
		assert.Nil(t, got.StartedAt)
		assert.Empty(t, got.ErrorSummary)

		_, err = s.GetJob(ctx, "missing")
		assert.True(t, errors.Is(err, ErrJobNotFound))
	})
}

func TestStore_TransitionLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		job := newJob(t, s, "alice")

		err := s.Transition(ctx, job.ID, model.JobStatusCompleted, "")
		assert.True(t, errors.Is(err, ErrInvalidTransition), "pending cannot complete")

		require.NoError(t, s.Transition(ctx, job.ID, model.JobStatusValidating, ""))
		got, _ := s.GetJob(ctx, job.ID)
		require.NotNil(t, got.StartedAt)

		require.NoError(t, s.Transition(ctx, job.ID, model.JobStatusProcessing, ""))
		require.NoError(t, s.Transition(ctx, job.ID, model.JobStatusCompleted, ""))

		got, _ = s.GetJob(ctx, job.ID)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)

		err = s.Transition(ctx, job.ID, model.JobStatusFailed, "late")
		assert.True(t, errors.Is(err, ErrJobTerminal))

		err = s.Transition(ctx, "missing", model.JobStatusValidating, "")
		assert.True(t, errors.Is(err, ErrJobNotFound))

		err = s.Transition(ctx, job.ID, model.JobStatusPending, "")
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	})
}

func TestStore_FailAndCancelReasons(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		failed := newJob(t, s, "alice")
		require.NoError(t, s.Transition(ctx, failed.ID, model.JobStatusValidating, ""))
		require.NoError(t, s.Transition(ctx, failed.ID, model.JobStatusFailed, "record store unavailable"))
		got, _ := s.GetJob(ctx, failed.ID)
		assert.Equal(t, "record store unavailable", got.FailureReason)

		cancelled := newJob(t, s, "alice")
		require.NoError(t, s.RequestCancel(ctx, cancelled.ID, "wrong file"))
		got, _ = s.GetJob(ctx, cancelled.ID)
		assert.True(t, got.CancellationRequested)
		assert.Equal(t, model.JobStatusPending, got.Status)

		require.NoError(t, s.Transition(ctx, cancelled.ID, model.JobStatusCancelled, ""))
		got, _ = s.GetJob(ctx, cancelled.ID)
		assert.Equal(t, model.JobStatusCancelled, got.Status)
		assert.Equal(t, "wrong file", got.CancelReason)

		err := s.RequestCancel(ctx, cancelled.ID, "again")
		assert.True(t, errors.Is(err, ErrJobTerminal))
		err = s.RequestCancel(ctx, "missing", "")
		assert.True(t, errors.Is(err, ErrJobNotFound))
	})
}

func TestStore_Progress(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		job := newJob(t, s, "alice")
		require.NoError(t, s.SetTotalRows(ctx, job.ID, 250))

		p := model.JobProgress{ProcessedRows: 100, SuccessfulRows: 97, ErrorRows: 2, SkippedRows: 1,
			ErrorSummary: []model.RowError{{Row: 4, Errors: []string{"invalid email \"x\""}}}}
		require.NoError(t, s.UpdateProgress(ctx, job.ID, p))

		got, _ := s.GetJob(ctx, job.ID)
		assert.Equal(t, 250, got.TotalRows)
		assert.Equal(t, 100, got.ProcessedRows)
		assert.Equal(t, 97, got.SuccessfulRows)
		assert.Equal(t, got.ProcessedRows, got.SuccessfulRows+got.ErrorRows+got.SkippedRows)
		assert.Equal(t, p.ErrorSummary, got.ErrorSummary)

		err := s.UpdateProgress(ctx, job.ID, model.JobProgress{ProcessedRows: 50, SuccessfulRows: 50})
		assert.True(t, errors.Is(err, ErrProgressRegression))

		require.NoError(t, s.Transition(ctx, job.ID, model.JobStatusCancelled, ""))
		err = s.UpdateProgress(ctx, job.ID, model.JobProgress{ProcessedRows: 200, SuccessfulRows: 200})
		assert.True(t, errors.Is(err, ErrJobTerminal))
		err = s.SetTotalRows(ctx, job.ID, 1)
		assert.True(t, errors.Is(err, ErrJobTerminal))

		got, _ = s.GetJob(ctx, job.ID)
		assert.Equal(t, 100, got.ProcessedRows)
	})
}

func TestStore_ListJobs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a1 := newJob(t, s, "alice")
		time.Sleep(5 * time.Millisecond)
		b1 := newJob(t, s, "bob")
		time.Sleep(5 * time.Millisecond)
		a2 := newJob(t, s, "alice")
		require.NoError(t, s.Transition(ctx, a2.ID, model.JobStatusValidating, ""))

		jobs, err := s.ListJobs(ctx, JobFilter{CreatedBy: "alice"})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, a2.ID, jobs[0].ID)
		assert.Equal(t, a1.ID, jobs[1].ID)

		jobs, err = s.ListJobs(ctx, JobFilter{Status: model.JobStatusPending})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, b1.ID, jobs[0].ID)

		jobs, err = s.ListJobs(ctx, JobFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, a2.ID, jobs[0].ID)

		jobs, err = s.ListJobs(ctx, JobFilter{CreatedBy: "nobody"})
		require.NoError(t, err)
		assert.NotNil(t, jobs)
		assert.Empty(t, jobs)
	})
}

func TestStore_CommitBatchAndCandidates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		ids, err := s.CommitBatch(ctx, RecordBatch{JobID: "j1", Ops: []RecordOp{
			{Kind: OpCreate, Row: 1, Donor: model.Donor{FirstName: "Maria", LastName: "López", Email: "Maria@Example.org", City: "Springfield",
				Attributes: map[string]any{"donorType": "family"}}},
			{Kind: OpCreate, Row: 2, Donor: model.Donor{FirstName: "Bo", LastName: "Ray"}},
			{Kind: OpUpdate, Row: 3, TargetRow: 2, Donor: model.Donor{Email: "bo@example.org"}},
		}})
		require.NoError(t, err)
		require.Len(t, ids, 3)
		assert.Equal(t, ids[2], ids[3])

		bo, err := s.GetDonor(ctx, ids[2])
		require.NoError(t, err)
		assert.Equal(t, "Bo", bo.FirstName)
		assert.Equal(t, "bo@example.org", bo.Email)

		byEmail, err := s.FindCandidates(ctx, CandidateQuery{Email: "maria@example.org"})
		require.NoError(t, err)
		require.Len(t, byEmail, 1)
		assert.Equal(t, ids[1], byEmail[0].ID)
		assert.Equal(t, "family", byEmail[0].Attributes["donorType"])

		byName, err := s.FindCandidates(ctx, CandidateQuery{NameKey: "maria|lopez"})
		require.NoError(t, err)
		require.Len(t, byName, 1)

		none, err := s.FindCandidates(ctx, CandidateQuery{})
		require.NoError(t, err)
		assert.Empty(t, none)

		_, err = s.GetDonor(ctx, "missing")
		assert.True(t, errors.Is(err, ErrDonorNotFound))
	})
}

func TestStore_CommitBatchUpdateMergesNonEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		ids, err := s.CommitBatch(ctx, RecordBatch{Ops: []RecordOp{
			{Kind: OpCreate, Row: 1, Donor: model.Donor{FirstName: "Ann", LastName: "Lee", Email: "ann@x.org", Phone: "5551234567"}},
		}})
		require.NoError(t, err)

		ids2, err := s.CommitBatch(ctx, RecordBatch{Ops: []RecordOp{
			{Kind: OpUpdate, Row: 7, TargetID: ids[1], Donor: model.Donor{City: "Springfield", Phone: ""}},
		}})
		require.NoError(t, err)
		assert.Equal(t, ids[1], ids2[7])

		d, err := s.GetDonor(ctx, ids[1])
		require.NoError(t, err)
		assert.Equal(t, "Springfield", d.City)
		assert.Equal(t, "5551234567", d.Phone)
		assert.Equal(t, "Ann", d.FirstName)
	})
}

func TestStore_CommitBatchIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.CommitBatch(ctx, RecordBatch{Ops: []RecordOp{
			{Kind: OpCreate, Row: 1, Donor: model.Donor{FirstName: "Ann", LastName: "Lee", Email: "ann@x.org"}},
			{Kind: OpUpdate, Row: 2, TargetID: "no-such-donor", Donor: model.Donor{City: "X"}},
		}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnresolvedTarget))

		found, err := s.FindCandidates(ctx, CandidateQuery{Email: "ann@x.org"})
		require.NoError(t, err)
		assert.Empty(t, found)

		_, err = s.CommitBatch(ctx, RecordBatch{Ops: []RecordOp{
			{Kind: OpUpdate, Row: 2, TargetRow: 1},
		}})
		assert.True(t, errors.Is(err, ErrUnresolvedTarget))
	})
}

func TestStore_CommitBatchCheckpointsProgress(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		job := newJob(t, s, "alice")

		p := model.JobProgress{ProcessedRows: 2, SuccessfulRows: 1, ErrorRows: 1,
			ErrorSummary: []model.RowError{{Row: 2, Errors: []string{"last name is required"}}}}
		ids, err := s.CommitBatch(ctx, RecordBatch{JobID: job.ID, Progress: &p, Ops: []RecordOp{
			{Kind: OpCreate, Row: 1, Donor: model.Donor{FirstName: "Ann", LastName: "Lee", Email: "ann@x.org"}},
		}})
		require.NoError(t, err)
		require.Len(t, ids, 1)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ProcessedRows)
		assert.Equal(t, 1, got.SuccessfulRows)
		assert.Equal(t, 1, got.ErrorRows)
		assert.Equal(t, p.ErrorSummary, got.ErrorSummary)

		// A regressing checkpoint rolls back the donor writes with it.
		back := model.JobProgress{ProcessedRows: 1, SuccessfulRows: 1}
		_, err = s.CommitBatch(ctx, RecordBatch{JobID: job.ID, Progress: &back, Ops: []RecordOp{
			{Kind: OpCreate, Row: 3, Donor: model.Donor{FirstName: "Bo", LastName: "Ray", Email: "bo@x.org"}},
		}})
		assert.True(t, errors.Is(err, ErrProgressRegression))
		found, err := s.FindCandidates(ctx, CandidateQuery{Email: "bo@x.org"})
		require.NoError(t, err)
		assert.Empty(t, found)

		require.NoError(t, s.Transition(ctx, job.ID, model.JobStatusCancelled, "stop"))
		ahead := model.JobProgress{ProcessedRows: 4, SuccessfulRows: 3, ErrorRows: 1}
		_, err = s.CommitBatch(ctx, RecordBatch{JobID: job.ID, Progress: &ahead, Ops: []RecordOp{
			{Kind: OpCreate, Row: 3, Donor: model.Donor{FirstName: "Cy", LastName: "Day", Email: "cy@x.org"}},
		}})
		assert.True(t, errors.Is(err, ErrJobTerminal))
		found, err = s.FindCandidates(ctx, CandidateQuery{Email: "cy@x.org"})
		require.NoError(t, err)
		assert.Empty(t, found)

		got, err = s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.ProcessedRows)

		_, err = s.CommitBatch(ctx, RecordBatch{JobID: "missing", Progress: &ahead})
		assert.True(t, errors.Is(err, ErrJobNotFound))
	})
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(context.Background(), config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), config.StoreConfig{Driver: "mongo"})
	assert.ErrorContains(t, err, "unknown driver")
}

func TestMemoryStore_FailCommit(t *testing.T) {
	s := NewMemory()
	s.FailCommit = errors.New("disk on fire")
	_, err := s.CommitBatch(context.Background(), RecordBatch{Ops: []RecordOp{{Kind: OpCreate, Row: 1}}})
	assert.EqualError(t, err, "disk on fire")
	assert.Empty(t, s.Donors())
}
