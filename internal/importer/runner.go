package importer

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/spreadsheet"
	"github.com/sells-group/donor-import/internal/store"
)

// errCancelled stops the batch loop once a cancellation has been recorded.
var errCancelled = eris.New("importer: job cancelled")

// run executes one job. It is the only writer of the job's state.
func (s *Service) run(ctx context.Context, jobID string, sheet *spreadsheet.Sheet, mappings []model.FieldMapping, opts model.ImportOptions) {
	log := zap.L().With(zap.String("job_id", jobID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("import job panicked", zap.Any("panic", r))
			s.fail(ctx, log, jobID, eris.Errorf("importer: panic: %v", r))
		}
	}()

	if err := s.store.Transition(ctx, jobID, model.JobStatusValidating, ""); err != nil {
		log.Error("import job could not start", zap.Error(err))
		return
	}

	total, expectedErrors, err := s.dryRun(ctx, jobID, sheet, mappings)
	if err != nil {
		if eris.Is(err, errCancelled) {
			return
		}
		s.fail(ctx, log, jobID, err)
		return
	}
	log.Info("import job validated",
		zap.Int("rows", total),
		zap.Int("expected_error_rows", expectedErrors),
	)

	if err := s.store.SetTotalRows(ctx, jobID, total); err != nil {
		s.fail(ctx, log, jobID, err)
		return
	}
	if err := s.store.Transition(ctx, jobID, model.JobStatusProcessing, ""); err != nil {
		s.fail(ctx, log, jobID, err)
		return
	}

	progress, err := s.process(ctx, log, jobID, sheet, mappings, opts)
	switch {
	case eris.Is(err, errCancelled):
		return
	case err != nil:
		s.fail(ctx, log, jobID, err)
		return
	}

	if err := s.store.Transition(ctx, jobID, model.JobStatusCompleted, ""); err != nil {
		log.Error("import job could not complete", zap.Error(err))
		return
	}
	log.Info("import job completed",
		zap.Int("processed", progress.ProcessedRows),
		zap.Int("successful", progress.SuccessfulRows),
		zap.Int("errors", progress.ErrorRows),
		zap.Int("skipped", progress.SkippedRows),
		zap.Int("review", progress.ReviewRows),
	)
}

// dryRun cleans every row without touching records, counting rows and rows
// that will fail. It honors cancellation between batches.
func (s *Service) dryRun(ctx context.Context, jobID string, sheet *spreadsheet.Sheet, mappings []model.FieldMapping) (total, errorRows int, err error) {
	it, err := sheet.Rows()
	if err != nil {
		return 0, 0, err
	}
	defer it.Close() //nolint:errcheck

	for it.Next() {
		if total%s.opts.BatchSize == 0 {
			if err := s.checkCancel(ctx, jobID); err != nil {
				return total, errorRows, err
			}
		}
		total++
		if res := s.cleaner.Clean(it.Row().Values, mappings); len(res.Errors) > 0 {
			errorRows++
		}
	}
	if err := it.Err(); err != nil {
		return total, errorRows, eris.Wrap(err, "importer: read rows")
	}
	return total, errorRows, nil
}

// process applies the file batch by batch. Each batch commits atomically
// together with the cumulative counters it produces.
func (s *Service) process(ctx context.Context, log *zap.Logger, jobID string, sheet *spreadsheet.Sheet, mappings []model.FieldMapping, opts model.ImportOptions) (model.JobProgress, error) {
	var progress model.JobProgress

	it, err := sheet.Rows()
	if err != nil {
		return progress, err
	}
	defer it.Close() //nolint:errcheck

	ev := s.newEvaluator(mappings, opts)
	batch := make([]spreadsheet.Row, 0, s.opts.BatchSize)
	n := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n++
		if err := s.checkCancel(ctx, jobID); err != nil {
			return err
		}
		next, err := s.applyBatch(ctx, log, jobID, ev, batch, opts, progress)
		if err != nil {
			return eris.Wrapf(err, "batch %d", n)
		}
		progress = next
		log.Debug("import batch committed",
			zap.Int("batch", n),
			zap.Int("rows", len(batch)),
			zap.Int("processed", progress.ProcessedRows),
		)
		if s.afterBatch != nil {
			s.afterBatch(jobID, n)
		}
		batch = batch[:0]
		return nil
	}

	for it.Next() {
		batch = append(batch, it.Row())
		if len(batch) == s.opts.BatchSize {
			if err := flush(); err != nil {
				return progress, err
			}
		}
	}
	if err := it.Err(); err != nil {
		return progress, eris.Wrap(err, "importer: read rows")
	}
	return progress, flush()
}

// applyBatch evaluates rows and commits their writes along with the
// counters so far plus this batch. It returns the new cumulative counters.
func (s *Service) applyBatch(ctx context.Context, log *zap.Logger, jobID string, ev *evaluator, rows []spreadsheet.Row, opts model.ImportOptions, done model.JobProgress) (model.JobProgress, error) {
	results, err := ev.evaluate(ctx, rows)
	if err != nil {
		return done, err
	}

	next := done
	next.ErrorSummary = append([]model.RowError{}, done.ErrorSummary...)
	next.Add(tally(results, s.opts.ErrorSummaryLimit), s.opts.ErrorSummaryLimit)

	writes := ops(results)
	ids, err := s.store.CommitBatch(ctx, store.RecordBatch{JobID: jobID, Ops: writes, Progress: &next})
	if err != nil {
		return done, err
	}
	ev.bind(ids)

	if opts.SendWelcomeNotification {
		s.welcome(ctx, log, jobID, writes, ids)
	}
	return next, nil
}

// welcome notifies created donors that have an email. Failures are logged.
func (s *Service) welcome(ctx context.Context, log *zap.Logger, jobID string, writes []store.RecordOp, ids map[int]string) {
	for _, op := range writes {
		if op.Kind != store.OpCreate || op.Donor.Email == "" {
			continue
		}
		d := op.Donor
		d.ID = ids[op.Row]
		if err := s.notifier.Welcome(ctx, jobID, d); err != nil {
			log.Warn("welcome notification failed",
				zap.Int("row", op.Row),
				zap.String("donor_id", d.ID),
				zap.Error(err),
			)
		}
	}
}

// checkCancel moves the job to cancelled when cancellation was requested
// and reports errCancelled.
func (s *Service) checkCancel(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.CancellationRequested {
		return nil
	}
	if err := s.store.Transition(ctx, jobID, model.JobStatusCancelled, job.CancelReason); err != nil {
		return eris.Wrap(err, "importer: mark cancelled")
	}
	zap.L().Info("import job cancelled",
		zap.String("job_id", jobID),
		zap.Int("processed", job.ProcessedRows),
		zap.String("reason", job.CancelReason),
	)
	return errCancelled
}

func (s *Service) fail(ctx context.Context, log *zap.Logger, jobID string, cause error) {
	log.Error("import job failed", zap.Error(cause))
	if err := s.store.Transition(ctx, jobID, model.JobStatusFailed, cause.Error()); err != nil {
		log.Error("import job could not be marked failed", zap.Error(err))
	}
}
