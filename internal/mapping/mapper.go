// Package mapping proposes how spreadsheet columns map onto the donor schema.
package mapping

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/inference"
	"github.com/sells-group/donor-import/internal/model"
)

// StrategyManual marks mappings supplied by the caller.
const StrategyManual = "manual"

// DefaultMinConfidence is the threshold used when none is configured.
const DefaultMinConfidence = 0.5

// Strategy produces a raw mapping proposal for a file.
type Strategy interface {
	Name() string
	Infer(ctx context.Context, headers []string, sample []map[string]string) (*model.MappingResult, error)
}

// Mapper runs a primary strategy with the heuristic as fallback and
// normalizes whatever comes back.
type Mapper struct {
	primary       Strategy
	fallback      *Heuristic
	registry      *model.FieldRegistry
	minConfidence float64
}

// NewMapper creates a Mapper. primary may be nil, in which case only the
// heuristic runs.
func NewMapper(primary Strategy, fallback *Heuristic, reg *model.FieldRegistry, minConfidence float64) *Mapper {
	if fallback == nil {
		fallback = NewHeuristic(reg, nil)
	}
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = DefaultMinConfidence
	}
	return &Mapper{primary: primary, fallback: fallback, registry: reg, minConfidence: minConfidence}
}

// MinConfidence returns the required-field confidence threshold.
func (m *Mapper) MinConfidence() float64 { return m.minConfidence }

// Infer maps headers to target fields. It always returns a result; a failing
// primary strategy is replaced by the heuristic and the reason is noted.
func (m *Mapper) Infer(ctx context.Context, headers []string, sample []map[string]string) *model.MappingResult {
	var (
		raw  *model.MappingResult
		note string
	)

	if m.primary != nil {
		res, err := m.primary.Infer(ctx, headers, sample)
		if err == nil && res != nil {
			raw = res
		} else {
			reason := inference.Reason(err)
			if err == nil {
				reason = "empty response"
			}
			zap.L().Warn("mapping: primary strategy failed, using heuristic",
				zap.String("strategy", m.primary.Name()),
				zap.String("reason", reason),
				zap.Error(err),
			)
			note = fmt.Sprintf("AI inference unavailable (%s); columns were matched by header name", reason)
		}
	}

	if raw == nil {
		raw, _ = m.fallback.Infer(ctx, headers, sample)
		if note != "" {
			raw.DataQualityNotes = append([]string{note}, raw.DataQualityNotes...)
		}
	}

	return Finalize(raw, headers, sample, m.registry, m.minConfidence)
}

// Evaluate normalizes caller-supplied mappings against the file. A mapping
// given without a confidence counts as confirmed by the caller.
func (m *Mapper) Evaluate(headers []string, sample []map[string]string, mappings []model.FieldMapping) *model.MappingResult {
	confirmed := make([]model.FieldMapping, len(mappings))
	for i, fm := range mappings {
		if fm.Confidence <= 0 {
			fm.Confidence = 1
		}
		confirmed[i] = fm
	}
	raw := &model.MappingResult{Strategy: StrategyManual, FieldMappings: confirmed}
	return Finalize(raw, headers, sample, m.registry, m.minConfidence)
}

// Finalize enforces the mapping result invariants:
//   - every mapping names a real column and a known field
//   - each column and each field appears at most once
//   - confidences are within [0,1]
//   - unmapped columns are exactly the headers without a mapping
//   - overall confidence is the mean over mappings, 0 when there are none
func Finalize(raw *model.MappingResult, headers []string, sample []map[string]string, reg *model.FieldRegistry, minConfidence float64) *model.MappingResult {
	out := &model.MappingResult{
		Strategy:         raw.Strategy,
		DataQualityNotes: append([]string{}, raw.DataQualityNotes...),
	}

	position := make(map[string]int, len(headers))
	for i, h := range headers {
		position[h] = i
	}

	var kept []model.FieldMapping
	byColumn := make(map[string]bool)
	byTarget := make(map[model.TargetField]int)

	for _, fm := range raw.FieldMappings {
		if _, ok := position[fm.SourceColumn]; !ok {
			out.DataQualityNotes = append(out.DataQualityNotes,
				fmt.Sprintf("Mapping for unknown column %q was ignored", fm.SourceColumn))
			continue
		}
		if byColumn[fm.SourceColumn] {
			out.DataQualityNotes = append(out.DataQualityNotes,
				fmt.Sprintf("Column %q was mapped more than once; the first mapping is used", fm.SourceColumn))
			continue
		}
		if fm.TargetField == model.FieldSkip {
			byColumn[fm.SourceColumn] = true
			continue
		}
		spec := reg.ByName(fm.TargetField)
		if spec == nil {
			out.DataQualityNotes = append(out.DataQualityNotes,
				fmt.Sprintf("Column %q maps to unknown field %q and was ignored", fm.SourceColumn, fm.TargetField))
			continue
		}

		fm = complete(fm, spec, sample)

		if idx, dup := byTarget[fm.TargetField]; dup {
			prev := kept[idx]
			winner, loser := prev, fm
			if fm.Confidence > prev.Confidence {
				winner, loser = fm, prev
				kept[idx] = fm
				delete(byColumn, prev.SourceColumn)
				byColumn[fm.SourceColumn] = true
			}
			out.DataQualityNotes = append(out.DataQualityNotes,
				fmt.Sprintf("Columns %q and %q both map to %s; %q is used", winner.SourceColumn, loser.SourceColumn, fm.TargetField, winner.SourceColumn))
			continue
		}

		byTarget[fm.TargetField] = len(kept)
		byColumn[fm.SourceColumn] = true
		kept = append(kept, fm)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return position[kept[i].SourceColumn] < position[kept[j].SourceColumn]
	})

	mapped := make(map[string]bool, len(kept))
	var sum float64
	for _, fm := range kept {
		mapped[fm.SourceColumn] = true
		sum += fm.Confidence
		if fm.Confidence < minConfidence {
			out.DataQualityNotes = append(out.DataQualityNotes,
				fmt.Sprintf("Column %q → %s has low confidence (%.2f)", fm.SourceColumn, fm.TargetField, fm.Confidence))
		}
	}
	for _, h := range headers {
		if !mapped[h] {
			out.UnmappedColumns = append(out.UnmappedColumns, h)
		}
	}

	out.FieldMappings = kept
	if out.FieldMappings == nil {
		out.FieldMappings = []model.FieldMapping{}
	}
	if out.UnmappedColumns == nil {
		out.UnmappedColumns = []string{}
	}
	if len(kept) > 0 {
		out.OverallConfidence = sum / float64(len(kept))
	}
	out.RequiredFieldsCovered = RequiredFieldsCovered(kept, minConfidence)
	if !out.RequiredFieldsCovered {
		out.DataQualityNotes = append(out.DataQualityNotes, fmt.Sprintf(
			"Required fields are not covered: map both firstName and lastName with confidence of at least %.2f, or a full name column to split", minConfidence))
	}
	return out
}

// RequiredFieldsCovered reports whether first and last name are both mapped
// at or above minConfidence, or a full name column is marked for splitting.
func RequiredFieldsCovered(mappings []model.FieldMapping, minConfidence float64) bool {
	var first, last, full bool
	for _, fm := range mappings {
		switch fm.TargetField {
		case model.FieldFirstName:
			first = first || fm.Confidence >= minConfidence
		case model.FieldLastName:
			last = last || fm.Confidence >= minConfidence
		case model.FieldFullName:
			full = full || fm.HasOp(model.OpSplitName)
		}
	}
	return (first && last) || full
}

func complete(fm model.FieldMapping, spec *model.FieldSpec, sample []map[string]string) model.FieldMapping {
	fm.Confidence = clamp01(fm.Confidence)
	if !fm.DataType.Valid() {
		fm.DataType = spec.DataType
	}

	var ops []model.CleaningOp
	for _, op := range fm.CleaningOperations {
		if op.Valid() {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		ops = append(ops, spec.Ops...)
	}
	fm.CleaningOperations = ops
	if fm.TargetField == model.FieldFullName && !fm.HasOp(model.OpSplitName) {
		fm.CleaningOperations = append([]model.CleaningOp{model.OpSplitName}, fm.CleaningOperations...)
	}

	if len(fm.SampleValues) == 0 {
		fm.SampleValues = sampleValues(sample, fm.SourceColumn)
	}
	return fm
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
