package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/pkg/anthropic"
)

const systemPrompt = `You map spreadsheet columns of a donor list to a fixed target schema.

Target schema:
%s
Reply with a single JSON object and nothing else:
{"mappings": [{"source_column": "<header exactly as given>", "target_field": "<schema field or skip>", "confidence": <0..1>, "data_type": "<text|email|phone|date|boolean|enumerated>", "cleaning_operations": ["<split-name|normalize-phone|normalize-email|parse-date|parse-boolean|normalize-enum|trim>"]}], "notes": ["<data quality observation>"]}

Rules:
- Include every source column exactly once.
- Map at most one column to each target field; use "skip" for the rest.
- Use "fullName" with "split-name" only when there are no separate first and last name columns.
- Lower the confidence when sample values disagree with the header.`

// AnthropicProvider asks a Claude model for column mappings.
type AnthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	registry  *model.FieldRegistry
}

// NewAnthropicProvider creates an AnthropicProvider.
func NewAnthropicProvider(client anthropic.Client, modelID string, maxTokens int64, reg *model.FieldRegistry) *AnthropicProvider {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicProvider{client: client, model: modelID, maxTokens: maxTokens, registry: reg}
}

// Infer implements Provider.
func (p *AnthropicProvider) Infer(ctx context.Context, req Request) (*Response, error) {
	temperature := 0.0
	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System: []anthropic.SystemBlock{
			{Text: fmt.Sprintf(systemPrompt, req.Schema), Cached: true},
		},
		Messages:    []anthropic.Message{{Role: "user", Content: userPrompt(req)}},
		Temperature: &temperature,
	})
	if err != nil {
		return nil, eris.Wrap(err, "inference: anthropic")
	}
	resp.Usage.Log(p.model, "schema-mapping")

	return ParseResponse(resp.Text(), req.Headers, p.registry)
}

func userPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Source columns:\n")
	for _, h := range req.Headers {
		fmt.Fprintf(&b, "- %q\n", h)
	}
	b.WriteString("\nSample rows (JSON):\n")
	for _, row := range req.SampleRows {
		line, _ := json.Marshal(row)
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// EstimateTokens approximates the prompt size of req at four bytes per token.
func EstimateTokens(req Request) int {
	return (len(systemPrompt) + len(req.Schema) + len(userPrompt(req))) / 4
}
