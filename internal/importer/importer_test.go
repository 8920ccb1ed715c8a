package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/donor-import/internal/auth"
	"github.com/sells-group/donor-import/internal/clean"
	"github.com/sells-group/donor-import/internal/mapping"
	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/ratelimit"
	"github.com/sells-group/donor-import/internal/spreadsheet"
	"github.com/sells-group/donor-import/internal/store"
)

type failingStrategy struct{ err error }

func (f failingStrategy) Name() string { return mapping.StrategyAI }

func (f failingStrategy) Infer(context.Context, []string, []map[string]string) (*model.MappingResult, error) {
	return nil, f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	donors []model.Donor
	err    error
}

func (r *recordingNotifier) Welcome(_ context.Context, _ string, d model.Donor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.donors = append(r.donors, d)
	return r.err
}

func newTestService(t *testing.T, opts Options) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	mapper := mapping.NewMapper(nil, nil, model.DonorSchema, 0)
	return New(st, mapper, clean.New(model.DonorSchema), nil, opts), st
}

func csvFile(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

var separateNameColumns = csvFile(
	"firstname,lastname,email",
	"Maria,Lopez,maria@example.org",
	"James,Chen,james@example.org",
	"Aisha,Khan,aisha@example.org",
)

func waitJob(t *testing.T, svc *Service, st store.Store, id string) *model.ImportJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))
	job, err := st.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func assertCounters(t *testing.T, j *model.ImportJob) {
	t.Helper()
	assert.Equal(t, j.ProcessedRows, j.SuccessfulRows+j.ErrorRows+j.SkippedRows,
		"processed must equal successful+error+skipped")
}

func TestPreview(t *testing.T) {
	svc, _ := newTestService(t, Options{PreviewRows: 2})

	res, err := svc.Preview(separateNameColumns, "donors.csv")
	require.NoError(t, err)
	assert.Equal(t, "donors.csv", res.FileName)
	assert.Equal(t, int64(len(separateNameColumns)), res.FileSize)
	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, []string{"firstname", "lastname", "email"}, res.Headers)
	require.Len(t, res.Preview, 2)
	assert.Equal(t, "Maria", res.Preview[0]["firstname"])
}

func TestPreview_IngestionErrors(t *testing.T) {
	svc, _ := newTestService(t, Options{MaxFileBytes: 10})

	_, err := svc.Preview(separateNameColumns, "donors.csv")
	var sizeErr *spreadsheet.SizeLimitError
	assert.True(t, errors.As(err, &sizeErr))

	svc, _ = newTestService(t, Options{})
	_, err = svc.Preview([]byte("\x00\x01binary"), "donors.pdf")
	var fmtErr *spreadsheet.FormatError
	assert.True(t, errors.As(err, &fmtErr))
}

func TestAnalyze_SeparateNameColumns(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	res, err := svc.Analyze(context.Background(), separateNameColumns, "donors.csv")
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRows)
	assert.True(t, res.RequiredFieldsCovered)

	got := map[model.TargetField]float64{}
	for _, m := range res.FieldMappings {
		got[m.TargetField] = m.Confidence
	}
	for _, f := range []model.TargetField{model.FieldFirstName, model.FieldLastName, model.FieldEmail} {
		assert.GreaterOrEqual(t, got[f], 0.7, f)
	}
	assert.InDelta(t, 0.7, res.OverallConfidence, 1e-9)
}

func TestAnalyze_ProviderFailureFallsBack(t *testing.T) {
	st := store.NewMemory()
	mapper := mapping.NewMapper(failingStrategy{err: &ratelimit.ExceededError{Caller: "alice", Window: "minute"}}, nil, model.DonorSchema, 0)
	svc := New(st, mapper, clean.New(model.DonorSchema), nil, Options{})

	res, err := svc.Analyze(context.Background(), separateNameColumns, "donors.csv")
	require.NoError(t, err)
	assert.Equal(t, mapping.StrategyHeuristic, res.Strategy)
	assert.True(t, res.RequiredFieldsCovered)
	require.NotEmpty(t, res.DataQualityNotes)
	assert.Contains(t, res.DataQualityNotes[0], "AI inference unavailable")
}

func TestValidate_SeparateNameColumns(t *testing.T) {
	svc, _ := newTestService(t, Options{})

	res, err := svc.Validate(context.Background(), separateNameColumns, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, 3, res.ValidRows)
	assert.Equal(t, 0, res.ErrorRows)
	assert.Equal(t, 0, res.DuplicateRows)
	assert.Equal(t, 3, res.NewRecords)
	require.Len(t, res.Rows, 3)
	for i, o := range res.Rows {
		assert.Equal(t, i+1, o.RowIndex)
		assert.Equal(t, model.ActionCreate, o.Action)
	}
	assert.False(t, res.Truncated)
}

func TestValidate_InvalidEmailIsRowError(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	data := csvFile(
		"firstname,lastname,email",
		"Maria,Lopez,maria@example.org",
		"James,Chen,not-an-email",
		"Aisha,Khan,aisha@example.org",
	)

	res, err := svc.Validate(context.Background(), data, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ValidRows)
	assert.Equal(t, 1, res.ErrorRows)

	bad := res.Rows[1]
	assert.Equal(t, 2, bad.RowIndex)
	assert.Equal(t, model.ActionSkip, bad.Action)
	require.Len(t, bad.Errors, 1)
	assert.Contains(t, bad.Errors[0], "not-an-email")
	assert.Equal(t, model.ActionCreate, res.Rows[2].Action)
}

func TestValidate_InFileDuplicates(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	data := csvFile(
		"firstname,lastname,email",
		"Maria,Lopez,maria@example.org",
		"M,Lopez,MARIA@example.org",
	)

	res, err := svc.Validate(context.Background(), data, "donors.csv", nil, model.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.DuplicateRows)
	assert.Equal(t, 1, res.NewRecords)

	second := res.Rows[1]
	assert.Equal(t, model.ActionSkip, second.Action)
	require.Len(t, second.Duplicates, 1)
	assert.Equal(t, 1, second.Duplicates[0].SourceRow)
	assert.Equal(t, model.TierExact, second.Duplicates[0].Tier)
}

func TestValidate_StoredDuplicateNeedsReview(t *testing.T) {
	svc, st := newTestService(t, Options{})
	_, err := st.CommitBatch(context.Background(), store.RecordBatch{JobID: "seed", Ops: []store.RecordOp{
		{Kind: store.OpCreate, Row: 1, Donor: model.Donor{FirstName: "Maria", LastName: "Lopez", City: "Austin"}},
	}})
	require.NoError(t, err)

	data := csvFile("firstname,lastname,city", "Maria,Lopez,Dallas")
	res, err := svc.Validate(context.Background(), data, "donors.csv", nil, model.ImportOptions{UpdateExisting: true})
	require.NoError(t, err)

	row := res.Rows[0]
	require.Len(t, row.Duplicates, 1)
	assert.Equal(t, model.TierLow, row.Duplicates[0].Tier)
	assert.NotEmpty(t, row.Duplicates[0].RecordID)
	assert.Equal(t, model.ActionNeedsReview, row.Action, "low matches are never applied automatically")
}

func TestValidate_Idempotent(t *testing.T) {
	svc, _ := newTestService(t, Options{BatchSize: 2})
	data := csvFile(
		"first name,last name,e-mail,city",
		"Maria,Lopez,maria@example.org,Austin",
		"Maria,Lopez,,Austin",
		"James,Chen,bad,Dallas",
	)

	first, err := svc.Validate(context.Background(), data, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)
	second, err := svc.Validate(context.Background(), data, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, first.FieldStats, second.FieldStats)
}

func TestValidate_DisplayLimit(t *testing.T) {
	svc, _ := newTestService(t, Options{ValidateDisplayLimit: 2})

	res, err := svc.Validate(context.Background(), separateNameColumns, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.True(t, res.Truncated)
	assert.Equal(t, 3, res.TotalRows)
	assert.Equal(t, 3, res.ValidRows)
}

func TestValidate_FieldStats(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	data := csvFile(
		"name,city",
		"Maria Lopez,Austin",
		"James Chen,Dallas",
		"Aisha Khan,Austin",
		"Tom Reed,",
	)

	res, err := svc.Validate(context.Background(), data, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)

	city := res.FieldStats[model.FieldCity]
	require.NotNil(t, city)
	assert.Equal(t, 4, city.Total)
	assert.Equal(t, 3, city.Valid)
	assert.Equal(t, 1, city.Empty)
	assert.Equal(t, 2, city.Unique)
	assert.Equal(t, []ValueCount{{Value: "Austin", Count: 2}, {Value: "Dallas", Count: 1}}, city.MostCommon)

	first := res.FieldStats[model.FieldFirstName]
	require.NotNil(t, first)
	assert.Equal(t, 4, first.Valid)
	assert.Equal(t, 4, first.Unique)
	assert.Equal(t, "Aisha", first.MostCommon[0].Value, "ties are ordered alphabetically")
	assert.Nil(t, res.FieldStats[model.FieldFullName])
}

func TestValidate_ExplicitMapping(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	data := csvFile("col1,col2", "Maria,Lopez")

	res, err := svc.Validate(context.Background(), data, "donors.csv", []model.FieldMapping{
		{SourceColumn: "col1", TargetField: model.FieldFirstName, Confidence: 1},
		{SourceColumn: "col2", TargetField: model.FieldLastName, Confidence: 1},
	}, model.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, mapping.StrategyManual, res.Mapping.Strategy)
	assert.Equal(t, 1, res.ValidRows)
	assert.Equal(t, "Lopez", res.Rows[0].Data[model.FieldLastName])
}

func TestSubmit_Completes(t *testing.T) {
	svc, st := newTestService(t, Options{BatchSize: 2})
	ctx := auth.WithCaller(context.Background(), "alice")

	job, err := svc.Submit(ctx, separateNameColumns, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, "alice", job.CreatedBy)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, model.JobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.TotalRows)
	assert.Equal(t, 3, final.ProcessedRows)
	assert.Equal(t, 3, final.SuccessfulRows)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
	assertCounters(t, final)
	assert.Len(t, st.Donors(), 3)
}

func TestSubmit_RowErrorsDoNotAbort(t *testing.T) {
	svc, st := newTestService(t, Options{BatchSize: 2})
	data := csvFile(
		"firstname,lastname,email",
		"Maria,Lopez,maria@example.org",
		"James,Chen,not-an-email",
		"Aisha,Khan,aisha@example.org",
	)

	job, err := svc.Submit(context.Background(), data, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, model.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.SuccessfulRows)
	assert.Equal(t, 1, final.ErrorRows)
	assert.Equal(t, 0, final.SkippedRows)
	require.Len(t, final.ErrorSummary, 1)
	assert.Equal(t, 2, final.ErrorSummary[0].Row)
	assertCounters(t, final)
	assert.Len(t, st.Donors(), 2)
}

func TestSubmit_SkipDuplicatesWithinBatch(t *testing.T) {
	svc, st := newTestService(t, Options{})
	data := csvFile(
		"firstname,lastname,email",
		"Maria,Lopez,maria@example.org",
		"Maria,Lopez,maria@example.org",
	)

	job, err := svc.Submit(context.Background(), data, "donors.csv", nil, model.ImportOptions{SkipDuplicates: true})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, 1, final.SuccessfulRows)
	assert.Equal(t, 1, final.SkippedRows)
	assertCounters(t, final)
	assert.Len(t, st.Donors(), 1)
}

func TestSubmit_UpdateExisting(t *testing.T) {
	svc, st := newTestService(t, Options{})
	ids, err := st.CommitBatch(context.Background(), store.RecordBatch{JobID: "seed", Ops: []store.RecordOp{
		{Kind: store.OpCreate, Row: 1, Donor: model.Donor{FirstName: "Maria", LastName: "Lopez", Email: "maria@example.org", City: "Austin"}},
	}})
	require.NoError(t, err)

	data := csvFile("firstname,lastname,email,phone", "Maria,Lopez,Maria@Example.org,(512) 555-0100")
	job, err := svc.Submit(context.Background(), data, "donors.csv", nil, model.ImportOptions{UpdateExisting: true})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, 1, final.SuccessfulRows)

	donors := st.Donors()
	require.Len(t, donors, 1)
	assert.Equal(t, ids[1], donors[0].ID)
	assert.Equal(t, "5125550100", donors[0].Phone)
	assert.Equal(t, "Austin", donors[0].City, "empty incoming fields keep stored values")
}

func TestSubmit_UpdateAcrossBatches(t *testing.T) {
	svc, st := newTestService(t, Options{BatchSize: 1})
	data := csvFile(
		"firstname,lastname,email,city",
		"Maria,Lopez,maria@example.org,",
		"Maria,Lopez,maria@example.org,Austin",
	)

	job, err := svc.Submit(context.Background(), data, "donors.csv", nil, model.ImportOptions{UpdateExisting: true})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, model.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.SuccessfulRows)

	donors := st.Donors()
	require.Len(t, donors, 1)
	assert.Equal(t, "Austin", donors[0].City)
}

func TestSubmit_NeedsReviewCountsAsSkipped(t *testing.T) {
	svc, st := newTestService(t, Options{})
	data := csvFile(
		"firstname,lastname",
		"Maria,Lopez",
		"Maria,Lopez",
	)

	job, err := svc.Submit(context.Background(), data, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, 1, final.SuccessfulRows)
	assert.Equal(t, 1, final.SkippedRows)
	assert.Equal(t, 1, final.ReviewRows)
	assertCounters(t, final)
}

func TestSubmit_CancelAfterFirstBatch(t *testing.T) {
	svc, st := newTestService(t, Options{BatchSize: 2})
	lines := []string{"firstname,lastname,email"}
	for i := 1; i <= 8; i++ {
		lines = append(lines, fmt.Sprintf("First%d,Last%d,donor%d@example.org", i, i, i))
	}

	var batches []int
	svc.afterBatch = func(jobID string, n int) {
		batches = append(batches, n)
		if n == 1 {
			assert.NoError(t, svc.Cancel(context.Background(), jobID, "wrong file"))
		}
	}

	job, err := svc.Submit(context.Background(), csvFile(lines...), "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, model.JobStatusCancelled, final.Status)
	assert.Equal(t, 2, final.ProcessedRows)
	assert.Equal(t, 8, final.TotalRows)
	assert.Equal(t, "wrong file", final.CancelReason)
	assert.Equal(t, []int{1}, batches)
	assert.Len(t, st.Donors(), 2)
	assertCounters(t, final)
}

func TestSubmit_CancelBeforeStart(t *testing.T) {
	svc, st := newTestService(t, Options{})
	ctx := context.Background()

	job := &model.ImportJob{FileName: "donors.csv"}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, svc.Cancel(ctx, job.ID, "changed my mind"))

	sheet, err := svc.Read(separateNameColumns, "donors.csv")
	require.NoError(t, err)
	mr := svc.ResolveMapping(ctx, sheet, nil)
	svc.run(ctx, job.ID, sheet, mr.FieldMappings, model.ImportOptions{})

	final, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, final.Status)
	assert.Zero(t, final.ProcessedRows)
	assert.Empty(t, st.Donors())
}

func TestSubmit_StoreFailureFailsJob(t *testing.T) {
	svc, st := newTestService(t, Options{BatchSize: 1})
	svc.afterBatch = func(_ string, n int) {
		if n == 1 {
			st.FailCommit = errors.New("database unavailable")
		}
	}

	job, err := svc.Submit(context.Background(), separateNameColumns, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, model.JobStatusFailed, final.Status)
	assert.Equal(t, 1, final.ProcessedRows)
	assert.Contains(t, final.FailureReason, "database unavailable")
	assert.NotNil(t, final.CompletedAt)
	assert.Len(t, st.Donors(), 1)
	assertCounters(t, final)
}

func TestSubmit_ProgressIsMonotonic(t *testing.T) {
	svc, st := newTestService(t, Options{BatchSize: 3})
	lines := []string{"firstname,lastname,email"}
	for i := 1; i <= 10; i++ {
		email := fmt.Sprintf("donor%d@example.org", i)
		if i%4 == 0 {
			email = "broken"
		}
		lines = append(lines, fmt.Sprintf("First%d,Last%d,%s", i, i, email))
	}

	var seen []int
	svc.afterBatch = func(jobID string, _ int) {
		j, err := st.GetJob(context.Background(), jobID)
		if !assert.NoError(t, err) {
			return
		}
		assertCounters(t, j)
		seen = append(seen, j.ProcessedRows)
	}

	job, err := svc.Submit(context.Background(), csvFile(lines...), "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, []int{3, 6, 9, 10}, seen)
	assert.Equal(t, 10, final.ProcessedRows)
	assert.Equal(t, 2, final.ErrorRows)
	assertCounters(t, final)
}

func TestSubmit_ErrorSummaryIsBounded(t *testing.T) {
	svc, st := newTestService(t, Options{BatchSize: 2, ErrorSummaryLimit: 2})
	data := csvFile(
		"firstname,lastname,email",
		"A,One,bad1",
		"B,Two,bad2",
		"C,Three,bad3",
	)

	job, err := svc.Submit(context.Background(), data, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, 3, final.ErrorRows)
	require.Len(t, final.ErrorSummary, 2)
	assert.Equal(t, 1, final.ErrorSummary[0].Row)
	assert.Equal(t, 2, final.ErrorSummary[1].Row)
}

func TestSubmit_IncompleteMapping(t *testing.T) {
	svc, st := newTestService(t, Options{})
	data := csvFile("email,phone", "maria@example.org,5125550100")

	_, err := svc.Submit(context.Background(), data, "donors.csv", nil, model.ImportOptions{})
	var incomplete *IncompleteMappingError
	require.True(t, errors.As(err, &incomplete))
	assert.False(t, incomplete.Mapping.RequiredFieldsCovered)

	jobs, err := st.ListJobs(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSubmit_MappingWithoutConfidence(t *testing.T) {
	st := store.NewMemory()
	mapper := mapping.NewMapper(nil, nil, model.DonorSchema, 0.5)
	svc := New(st, mapper, clean.New(model.DonorSchema), nil, Options{})
	data := csvFile("col1,col2", "Maria,Lopez", "James,Chen")

	var mappings []model.FieldMapping
	require.NoError(t, json.Unmarshal([]byte(`[{"sourceColumn":"col1","targetField":"firstName"},{"sourceColumn":"col2","targetField":"lastName"}]`), &mappings))

	res, err := svc.Validate(context.Background(), data, "donors.csv", mappings, model.ImportOptions{})
	require.NoError(t, err)
	assert.True(t, res.Mapping.RequiredFieldsCovered)
	assert.Equal(t, 2, res.ValidRows)

	job, err := svc.Submit(context.Background(), data, "donors.csv", mappings, model.ImportOptions{})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, model.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.SuccessfulRows)
	assertCounters(t, final)
	assert.Len(t, st.Donors(), 2)
}

func TestSubmit_WelcomeNotifications(t *testing.T) {
	st := store.NewMemory()
	n := &recordingNotifier{err: errors.New("webhook down")}
	svc := New(st, mapping.NewMapper(nil, nil, model.DonorSchema, 0), clean.New(model.DonorSchema), n, Options{})
	data := csvFile(
		"firstname,lastname,email",
		"Maria,Lopez,maria@example.org",
		"James,Chen,",
	)

	job, err := svc.Submit(context.Background(), data, "donors.csv", nil, model.ImportOptions{SendWelcomeNotification: true})
	require.NoError(t, err)

	final := waitJob(t, svc, st, job.ID)
	assert.Equal(t, model.JobStatusCompleted, final.Status, "notification failures do not fail the job")
	require.Len(t, n.donors, 1)
	assert.Equal(t, "maria@example.org", n.donors[0].Email)
	assert.NotEmpty(t, n.donors[0].ID)
}

func TestStatusListCancel(t *testing.T) {
	svc, st := newTestService(t, Options{})
	alice := auth.WithCaller(context.Background(), "alice")
	bob := auth.WithCaller(context.Background(), "bob")

	job, err := svc.Submit(alice, separateNameColumns, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)
	waitJob(t, svc, st, job.ID)

	view, err := svc.Status(bob, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, view.Status)
	assert.Zero(t, view.EstimatedSecondsRemaining)

	mine, err := svc.List(alice, "", 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, job.ID, mine[0].ID)

	theirs, err := svc.List(bob, "", 0)
	require.NoError(t, err)
	assert.Empty(t, theirs)

	_, err = svc.Status(alice, "missing")
	assert.True(t, errors.Is(err, store.ErrJobNotFound))

	err = svc.Cancel(alice, job.ID, "too late")
	assert.True(t, errors.Is(err, store.ErrJobTerminal))
}

func TestStatus_EstimatesRemaining(t *testing.T) {
	svc, st := newTestService(t, Options{})
	ctx := context.Background()

	job := &model.ImportJob{FileName: "donors.csv", TotalRows: 100}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NoError(t, st.Transition(ctx, job.ID, model.JobStatusValidating, ""))
	require.NoError(t, st.Transition(ctx, job.ID, model.JobStatusProcessing, ""))
	require.NoError(t, st.UpdateProgress(ctx, job.ID, model.JobProgress{ProcessedRows: 50, SuccessfulRows: 50}))

	current, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	svc.now = func() time.Time { return current.StartedAt.Add(10 * time.Second) }

	view, err := svc.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, view.EstimatedSecondsRemaining, 0.001)
}
