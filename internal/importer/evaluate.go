package importer

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/donor-import/internal/clean"
	"github.com/sells-group/donor-import/internal/dedupe"
	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/spreadsheet"
	"github.com/sells-group/donor-import/internal/store"
)

// evaluated is one row after cleaning and duplicate detection.
type evaluated struct {
	outcome model.RowOutcome
	cleaned *model.CleaningResult
	target  model.DuplicateMatch
}

// evaluator turns raw rows into outcomes. Its index accumulates the rows of
// the file that will become new records, so one evaluator must see the rows
// of a file in order.
type evaluator struct {
	records  store.RecordStore
	cleaner  *clean.Cleaner
	mappings []model.FieldMapping
	options  model.ImportOptions
	workers  int
	index    *dedupe.Index
}

func (s *Service) newEvaluator(mappings []model.FieldMapping, opts model.ImportOptions) *evaluator {
	return &evaluator{
		records:  s.store,
		cleaner:  s.cleaner,
		mappings: mappings,
		options:  opts,
		workers:  s.opts.Workers,
		index:    dedupe.NewIndex(),
	}
}

// evaluate cleans rows and looks up stored candidates in parallel, then
// resolves duplicates sequentially so in-file matches follow row order.
func (e *evaluator) evaluate(ctx context.Context, rows []spreadsheet.Row) ([]evaluated, error) {
	out := make([]evaluated, len(rows))
	stored := make([][]model.Donor, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range rows {
		g.Go(func() error {
			cleaned := e.cleaner.Clean(rows[i].Values, e.mappings)
			out[i].cleaned = cleaned
			if len(cleaned.Errors) > 0 {
				return nil
			}
			email, nameKey := dedupe.Query(cleaned)
			q := store.CandidateQuery{Email: email, NameKey: nameKey}
			if q.Empty() {
				return nil
			}
			donors, err := e.records.FindCandidates(gctx, q)
			if err != nil {
				return eris.Wrapf(err, "importer: find candidates for row %d", rows[i].Index)
			}
			stored[i] = donors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, row := range rows {
		ev := &out[i]
		c := ev.cleaned
		ev.outcome = model.RowOutcome{
			RowIndex:   row.Index,
			Data:       c.Fields,
			Errors:     nonNil(c.Errors),
			Warnings:   nonNil(c.Warnings),
			Duplicates: []model.DuplicateMatch{},
			Confidence: c.Confidence,
		}
		if len(c.Errors) > 0 {
			ev.outcome.Action = model.ActionSkip
			continue
		}

		pool := make([]dedupe.Candidate, 0, len(stored[i]))
		for _, d := range stored[i] {
			pool = append(pool, dedupe.FromDonor(d))
		}
		pool = append(pool, e.index.Candidates(c)...)

		matches := dedupe.FindMatches(c, pool)
		if matches != nil {
			ev.outcome.Duplicates = matches
		}
		ev.outcome.Action = dedupe.DeriveAction(matches, e.options)

		switch ev.outcome.Action {
		case model.ActionCreate:
			e.index.Add(row.Index, c)
		case model.ActionUpdate:
			ev.target, _ = dedupe.UpdateTarget(matches)
		}
	}
	return out, nil
}

// bind records the ids assigned to rows created by a committed batch.
func (e *evaluator) bind(ids map[int]string) {
	for row, id := range ids {
		e.index.Bind(row, id)
	}
}

// tally counts a batch's outcomes. Error rows count as errors only;
// needs-review rows count as skipped and review.
func tally(rows []evaluated, summaryLimit int) model.JobProgress {
	var p model.JobProgress
	for _, ev := range rows {
		o := ev.outcome
		p.ProcessedRows++
		switch {
		case len(o.Errors) > 0:
			p.ErrorRows++
			if len(p.ErrorSummary) < summaryLimit {
				p.ErrorSummary = append(p.ErrorSummary, model.RowError{Row: o.RowIndex, Errors: o.Errors})
			}
		case o.Action == model.ActionCreate || o.Action == model.ActionUpdate:
			p.SuccessfulRows++
		case o.Action == model.ActionNeedsReview:
			p.SkippedRows++
			p.ReviewRows++
		default:
			p.SkippedRows++
		}
	}
	return p
}

// ops converts a batch's create and update outcomes into record writes.
func ops(rows []evaluated) []store.RecordOp {
	var out []store.RecordOp
	for _, ev := range rows {
		switch ev.outcome.Action {
		case model.ActionCreate:
			out = append(out, store.RecordOp{
				Kind:  store.OpCreate,
				Row:   ev.outcome.RowIndex,
				Donor: model.DonorFromFields(ev.cleaned.Fields),
			})
		case model.ActionUpdate:
			op := store.RecordOp{
				Kind:  store.OpUpdate,
				Row:   ev.outcome.RowIndex,
				Donor: model.DonorFromFields(ev.cleaned.Fields),
			}
			if ev.target.RecordID != "" {
				op.TargetID = ev.target.RecordID
			} else {
				op.TargetRow = ev.target.SourceRow
			}
			out = append(out, op)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
