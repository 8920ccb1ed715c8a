// Package importer runs the donor import pipeline: reading uploads, mapping
// columns, validating rows and executing import jobs in the background.
package importer

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/auth"
	"github.com/sells-group/donor-import/internal/clean"
	"github.com/sells-group/donor-import/internal/config"
	"github.com/sells-group/donor-import/internal/mapping"
	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/notify"
	"github.com/sells-group/donor-import/internal/spreadsheet"
	"github.com/sells-group/donor-import/internal/store"
)

// Defaults applied to zero-valued Options.
const (
	DefaultBatchSize            = 100
	DefaultWorkers              = 4
	DefaultErrorSummaryLimit    = 50
	DefaultPreviewRows          = 10
	DefaultValidateDisplayLimit = 100
	DefaultSampleRows           = 5
)

// IncompleteMappingError is returned by Submit when the mapping does not
// cover the required name fields.
type IncompleteMappingError struct {
	Mapping *model.MappingResult
}

func (e *IncompleteMappingError) Error() string {
	return "importer: mapping does not cover the required name fields"
}

// Options tunes the service.
type Options struct {
	MaxFileBytes         int64
	BatchSize            int
	Workers              int
	ErrorSummaryLimit    int
	PreviewRows          int
	ValidateDisplayLimit int
	SampleRows           int
}

// OptionsFromConfig builds Options from the import and mapping config sections.
func OptionsFromConfig(ic config.ImportConfig, mc config.MappingConfig) Options {
	return Options{
		MaxFileBytes:         ic.MaxFileBytes,
		BatchSize:            ic.BatchSize,
		Workers:              ic.Workers,
		ErrorSummaryLimit:    ic.ErrorSummaryLimit,
		PreviewRows:          ic.PreviewRows,
		ValidateDisplayLimit: ic.ValidateDisplayLimit,
		SampleRows:           mc.SampleRows,
	}
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.ErrorSummaryLimit <= 0 {
		o.ErrorSummaryLimit = DefaultErrorSummaryLimit
	}
	if o.PreviewRows <= 0 {
		o.PreviewRows = DefaultPreviewRows
	}
	if o.ValidateDisplayLimit <= 0 {
		o.ValidateDisplayLimit = DefaultValidateDisplayLimit
	}
	if o.SampleRows <= 0 {
		o.SampleRows = DefaultSampleRows
	}
	return o
}

// Service exposes the import operations. Jobs started by Submit run on
// background goroutines that outlive the submitting request.
type Service struct {
	store    store.Store
	mapper   *mapping.Mapper
	cleaner  *clean.Cleaner
	notifier notify.Notifier
	opts     Options

	wg  sync.WaitGroup
	now func() time.Time

	// afterBatch is called once a batch has been committed and checkpointed.
	afterBatch func(jobID string, batch int)
}

// New creates a Service. A nil notifier logs welcome notifications.
func New(st store.Store, mapper *mapping.Mapper, cleaner *clean.Cleaner, notifier notify.Notifier, opts Options) *Service {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	return &Service{
		store:    st,
		mapper:   mapper,
		cleaner:  cleaner,
		notifier: notifier,
		opts:     opts.withDefaults(),
		now:      time.Now,
	}
}

// PreviewResult describes an upload without mapping it.
type PreviewResult struct {
	FileName  string              `json:"fileName"`
	FileSize  int64               `json:"fileSize"`
	TotalRows int                 `json:"totalRows"`
	Headers   []string            `json:"headers"`
	Preview   []map[string]string `json:"preview"`
}

// AnalyzeResult is a preview plus the inferred column mapping.
type AnalyzeResult struct {
	PreviewResult
	*model.MappingResult
}

// StatusView is a job snapshot with a completion estimate.
type StatusView struct {
	*model.ImportJob
	EstimatedSecondsRemaining float64 `json:"estimatedSecondsRemaining"`
}

// Read parses an upload with the service's size and sampling limits.
func (s *Service) Read(data []byte, fileName string) (*spreadsheet.Sheet, error) {
	return spreadsheet.Read(data, fileName, spreadsheet.Options{
		MaxBytes:   s.opts.MaxFileBytes,
		SampleSize: max(s.opts.SampleRows, s.opts.PreviewRows),
	})
}

// Preview returns the headers and first rows of an upload.
func (s *Service) Preview(data []byte, fileName string) (*PreviewResult, error) {
	sheet, err := s.Read(data, fileName)
	if err != nil {
		return nil, err
	}
	return s.preview(sheet)
}

func (s *Service) preview(sheet *spreadsheet.Sheet) (*PreviewResult, error) {
	rows, err := sheet.Preview(s.opts.PreviewRows)
	if err != nil {
		return nil, err
	}
	res := &PreviewResult{
		FileName:  sheet.FileName,
		FileSize:  sheet.Size,
		TotalRows: sheet.TotalRows,
		Headers:   sheet.Headers,
		Preview:   make([]map[string]string, 0, len(rows)),
	}
	for _, r := range rows {
		res.Preview = append(res.Preview, r.Values)
	}
	return res, nil
}

// Analyze previews an upload and infers its column mapping. Inference
// failures degrade to the heuristic and never surface as errors.
func (s *Service) Analyze(ctx context.Context, data []byte, fileName string) (*AnalyzeResult, error) {
	sheet, err := s.Read(data, fileName)
	if err != nil {
		return nil, err
	}
	pv, err := s.preview(sheet)
	if err != nil {
		return nil, err
	}
	return &AnalyzeResult{PreviewResult: *pv, MappingResult: s.inferMapping(ctx, sheet)}, nil
}

// ResolveMapping finalizes caller-supplied mappings against the sheet, or
// infers a mapping when none were supplied.
func (s *Service) ResolveMapping(ctx context.Context, sheet *spreadsheet.Sheet, mappings []model.FieldMapping) *model.MappingResult {
	if len(mappings) == 0 {
		return s.inferMapping(ctx, sheet)
	}
	return s.mapper.Evaluate(sheet.Headers, s.sample(sheet), mappings)
}

func (s *Service) inferMapping(ctx context.Context, sheet *spreadsheet.Sheet) *model.MappingResult {
	return s.mapper.Infer(ctx, sheet.Headers, s.sample(sheet))
}

func (s *Service) sample(sheet *spreadsheet.Sheet) []map[string]string {
	n := min(s.opts.SampleRows, len(sheet.Sample))
	out := make([]map[string]string, 0, n)
	for _, r := range sheet.Sample[:n] {
		out = append(out, r.Values)
	}
	return out
}

// Submit creates an import job for the upload and starts it in the
// background. It fails with *IncompleteMappingError when the resolved
// mapping does not cover the required fields.
func (s *Service) Submit(ctx context.Context, data []byte, fileName string, mappings []model.FieldMapping, opts model.ImportOptions) (*model.ImportJob, error) {
	sheet, err := s.Read(data, fileName)
	if err != nil {
		return nil, err
	}

	mr := s.ResolveMapping(ctx, sheet, mappings)
	if !mr.RequiredFieldsCovered {
		return nil, &IncompleteMappingError{Mapping: mr}
	}

	caller := auth.CallerFrom(ctx)
	job := &model.ImportJob{
		FileName:  sheet.FileName,
		Status:    model.JobStatusPending,
		TotalRows: sheet.TotalRows,
		CreatedBy: caller,
		Options:   opts,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "importer: create job")
	}

	zap.L().Info("import job submitted",
		zap.String("job_id", job.ID),
		zap.String("file", job.FileName),
		zap.Int("rows", job.TotalRows),
		zap.String("created_by", caller),
		zap.String("mapping_strategy", mr.Strategy),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Jobs outlive the request that submitted them.
		runCtx := auth.WithCaller(context.Background(), caller)
		s.run(runCtx, job.ID, sheet, mr.FieldMappings, opts)
	}()

	return job, nil
}

// Status returns a snapshot of a job. It reads the store only and never
// waits on the job's runner.
func (s *Service) Status(ctx context.Context, id string) (*StatusView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return &StatusView{
		ImportJob:                 job,
		EstimatedSecondsRemaining: job.EstimatedRemaining(s.now()).Seconds(),
	}, nil
}

// List returns the caller's jobs, most recent first.
func (s *Service) List(ctx context.Context, status model.JobStatus, limit int) ([]model.ImportJob, error) {
	return s.store.ListJobs(ctx, store.JobFilter{
		CreatedBy: auth.CallerFrom(ctx),
		Status:    status,
		Limit:     limit,
	})
}

// Cancel flags a job for cancellation. The runner observes the flag at the
// next batch boundary; callers poll Status to see the transition.
func (s *Service) Cancel(ctx context.Context, id, reason string) error {
	if err := s.store.RequestCancel(ctx, id, reason); err != nil {
		return err
	}
	zap.L().Info("import job cancellation requested",
		zap.String("job_id", id),
		zap.String("by", auth.CallerFrom(ctx)),
		zap.String("reason", reason),
	)
	return nil
}

// Wait blocks until every running job finishes or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "importer: wait for running jobs")
	}
}
