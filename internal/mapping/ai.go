package mapping

import (
	"context"

	"github.com/sells-group/donor-import/internal/inference"
	"github.com/sells-group/donor-import/internal/model"
)

// StrategyAI names the inference-backed strategy.
const StrategyAI = "ai"

// AIStrategy asks an inference provider to map columns.
type AIStrategy struct {
	provider inference.Provider
	registry *model.FieldRegistry
}

// NewAIStrategy wraps a provider as a Strategy.
func NewAIStrategy(p inference.Provider, reg *model.FieldRegistry) *AIStrategy {
	return &AIStrategy{provider: p, registry: reg}
}

// Name implements Strategy.
func (a *AIStrategy) Name() string { return StrategyAI }

// Infer implements Strategy.
func (a *AIStrategy) Infer(ctx context.Context, headers []string, sample []map[string]string) (*model.MappingResult, error) {
	resp, err := a.provider.Infer(ctx, inference.Request{
		Schema:     a.registry.Describe(),
		Headers:    headers,
		SampleRows: sample,
	})
	if err != nil {
		return nil, err
	}

	res := &model.MappingResult{
		Strategy:         StrategyAI,
		DataQualityNotes: append([]string(nil), resp.Notes...),
	}
	for _, p := range resp.Mappings {
		ops := make([]model.CleaningOp, 0, len(p.CleaningOperations))
		for _, op := range p.CleaningOperations {
			ops = append(ops, model.CleaningOp(op))
		}
		res.FieldMappings = append(res.FieldMappings, model.FieldMapping{
			SourceColumn:       p.SourceColumn,
			TargetField:        model.TargetField(p.TargetField),
			Confidence:         p.Confidence,
			DataType:           model.DataType(p.DataType),
			CleaningOperations: ops,
		})
	}
	return res, nil
}
