package inference

import (
	"encoding/json"
	"io"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-import/internal/model"
)

type wireResponse struct {
	Mappings []wireMapping `json:"mappings"`
	Notes    []string      `json:"notes"`
}

type wireMapping struct {
	SourceColumn       *string  `json:"source_column"`
	TargetField        *string  `json:"target_field"`
	Confidence         *float64 `json:"confidence"`
	DataType           string   `json:"data_type"`
	CleaningOperations []string `json:"cleaning_operations"`
}

// ParseResponse strictly decodes a provider reply. Unknown keys, missing
// required keys, columns that are not headers, repeated columns, unknown
// target fields, data types or cleaning operations all fail with
// ErrSchemaMismatch. Confidence values are clamped to [0,1].
func ParseResponse(text string, headers []string, reg *model.FieldRegistry) (*Response, error) {
	body := extractJSON(text)
	if body == "" {
		return nil, eris.Wrap(ErrSchemaMismatch, "no JSON object in response")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var wire wireResponse
	if err := dec.Decode(&wire); err != nil {
		return nil, eris.Wrapf(ErrSchemaMismatch, "decode: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, eris.Wrap(ErrSchemaMismatch, "trailing content after JSON object")
	}
	if wire.Mappings == nil {
		return nil, eris.Wrap(ErrSchemaMismatch, "missing mappings")
	}

	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}
	seen := make(map[string]bool, len(wire.Mappings))

	resp := &Response{Notes: wire.Notes}
	for i, m := range wire.Mappings {
		if m.SourceColumn == nil || m.TargetField == nil || m.Confidence == nil {
			return nil, eris.Wrapf(ErrSchemaMismatch, "mapping %d: source_column, target_field and confidence are required", i)
		}
		col := *m.SourceColumn
		if !known[col] {
			return nil, eris.Wrapf(ErrSchemaMismatch, "mapping %d: unknown column %q", i, col)
		}
		if seen[col] {
			return nil, eris.Wrapf(ErrSchemaMismatch, "mapping %d: column %q mapped twice", i, col)
		}
		seen[col] = true

		target := model.TargetField(*m.TargetField)
		if !reg.Known(target) {
			return nil, eris.Wrapf(ErrSchemaMismatch, "mapping %d: unknown target field %q", i, target)
		}
		if m.DataType != "" && !model.DataType(m.DataType).Valid() {
			return nil, eris.Wrapf(ErrSchemaMismatch, "mapping %d: unknown data type %q", i, m.DataType)
		}
		for _, op := range m.CleaningOperations {
			if !model.CleaningOp(op).Valid() {
				return nil, eris.Wrapf(ErrSchemaMismatch, "mapping %d: unknown cleaning operation %q", i, op)
			}
		}
		conf := *m.Confidence
		if math.IsNaN(conf) || math.IsInf(conf, 0) {
			return nil, eris.Wrapf(ErrSchemaMismatch, "mapping %d: confidence is not a number", i)
		}

		resp.Mappings = append(resp.Mappings, Proposal{
			SourceColumn:       col,
			TargetField:        string(target),
			Confidence:         clamp01(conf),
			DataType:           m.DataType,
			CleaningOperations: m.CleaningOperations,
		})
	}
	return resp, nil
}

// extractJSON strips markdown fences and surrounding prose from a model reply.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	for _, fence := range []string{"```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			if idx := strings.LastIndex(text, "```"); idx >= 0 {
				text = text[:idx]
			}
			break
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
