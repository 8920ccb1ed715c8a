package importer

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/spreadsheet"
)

// mostCommonLimit caps FieldStats.MostCommon.
const mostCommonLimit = 5

// ValueCount is one value and the number of rows holding it.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// FieldStats summarizes one target field across a file.
type FieldStats struct {
	Total      int          `json:"total"`
	Valid      int          `json:"valid"`
	Empty      int          `json:"empty"`
	Unique     int          `json:"unique"`
	MostCommon []ValueCount `json:"mostCommon"`

	counts map[string]int
}

// ValidateResult is the dry-run evaluation of a whole file.
type ValidateResult struct {
	Rows          []model.RowOutcome                `json:"rows"`
	Truncated     bool                              `json:"truncated"`
	TotalRows     int                               `json:"totalRows"`
	ValidRows     int                               `json:"validRows"`
	ErrorRows     int                               `json:"errorRows"`
	DuplicateRows int                               `json:"duplicateRows"`
	NewRecords    int                               `json:"newRecords"`
	FieldStats    map[model.TargetField]*FieldStats `json:"fieldStats"`
	Mapping       *model.MappingResult              `json:"mapping"`
}

// Validate evaluates every row of an upload against the record store without
// writing anything. The same file, mapping and stored records always yield
// the same result.
func (s *Service) Validate(ctx context.Context, data []byte, fileName string, mappings []model.FieldMapping, opts model.ImportOptions) (*ValidateResult, error) {
	sheet, err := s.Read(data, fileName)
	if err != nil {
		return nil, err
	}
	mr := s.ResolveMapping(ctx, sheet, mappings)

	res := &ValidateResult{
		Rows:       []model.RowOutcome{},
		FieldStats: make(map[model.TargetField]*FieldStats),
		Mapping:    mr,
	}
	for _, f := range statFields(mr.FieldMappings) {
		res.FieldStats[f] = &FieldStats{counts: make(map[string]int)}
	}

	it, err := sheet.Rows()
	if err != nil {
		return nil, err
	}
	defer it.Close() //nolint:errcheck

	ev := s.newEvaluator(mr.FieldMappings, opts)
	batch := make([]spreadsheet.Row, 0, s.opts.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		results, err := ev.evaluate(ctx, batch)
		if err != nil {
			return err
		}
		for _, r := range results {
			res.add(r.outcome, s.opts.ValidateDisplayLimit)
		}
		batch = batch[:0]
		return nil
	}

	for it.Next() {
		batch = append(batch, it.Row())
		if len(batch) == s.opts.BatchSize {
			if err := flush(); err != nil {
				return nil, eris.Wrap(err, "importer: validate")
			}
		}
	}
	if err := it.Err(); err != nil {
		return nil, eris.Wrap(err, "importer: read rows")
	}
	if err := flush(); err != nil {
		return nil, eris.Wrap(err, "importer: validate")
	}

	for _, st := range res.FieldStats {
		st.finish()
	}
	return res, nil
}

func (r *ValidateResult) add(o model.RowOutcome, displayLimit int) {
	r.TotalRows++
	if len(r.Rows) < displayLimit {
		r.Rows = append(r.Rows, o)
	} else {
		r.Truncated = true
	}

	if len(o.Errors) > 0 {
		r.ErrorRows++
	} else {
		r.ValidRows++
		if len(o.Duplicates) > 0 {
			r.DuplicateRows++
		}
		if o.Action == model.ActionCreate {
			r.NewRecords++
		}
	}

	for f, st := range r.FieldStats {
		st.Total++
		v, ok := o.Data[f]
		if !ok || v == nil || v == "" {
			st.Empty++
			continue
		}
		st.Valid++
		st.counts[fmt.Sprint(v)]++
	}
}

func (st *FieldStats) finish() {
	st.Unique = len(st.counts)
	st.MostCommon = make([]ValueCount, 0, min(len(st.counts), mostCommonLimit))

	all := make([]ValueCount, 0, len(st.counts))
	for v, n := range st.counts {
		all = append(all, ValueCount{Value: v, Count: n})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Count != all[j].Count {
			return all[i].Count > all[j].Count
		}
		return all[i].Value < all[j].Value
	})
	if len(all) > mostCommonLimit {
		all = all[:mostCommonLimit]
	}
	st.MostCommon = append(st.MostCommon, all...)
}

// statFields lists the cleaned fields a mapping produces. A combined name
// column yields the first and last name fields.
func statFields(mappings []model.FieldMapping) []model.TargetField {
	seen := make(map[model.TargetField]bool)
	var out []model.TargetField
	addField := func(f model.TargetField) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, m := range mappings {
		switch {
		case m.TargetField == model.FieldSkip:
		case m.TargetField == model.FieldFullName || m.HasOp(model.OpSplitName):
			addField(model.FieldFirstName)
			addField(model.FieldLastName)
		default:
			addField(m.TargetField)
		}
	}
	return out
}
