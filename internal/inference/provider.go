// Package inference defines the contract for external column-mapping
// inference and the guarded Anthropic implementation of it.
package inference

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-import/internal/ratelimit"
	"github.com/sells-group/donor-import/internal/resilience"
)

// Provider proposes column mappings for a file.
type Provider interface {
	Infer(ctx context.Context, req Request) (*Response, error)
}

// Request is the input of one inference call.
type Request struct {
	Schema     string              // plain-text target schema description
	Headers    []string            // sanitized source headers
	SampleRows []map[string]string // first few rows keyed by header
}

// Response is a validated set of proposals.
type Response struct {
	Mappings []Proposal
	Notes    []string
}

// Proposal maps one source column to a target field.
type Proposal struct {
	SourceColumn       string
	TargetField        string
	Confidence         float64
	DataType           string
	CleaningOperations []string
}

var (
	// ErrSchemaMismatch is returned when a provider response fails validation.
	ErrSchemaMismatch = eris.New("inference: response does not match schema")
	// ErrNotConfigured is returned when no provider credentials are set.
	ErrNotConfigured = eris.New("inference: provider not configured")
)

// Reason summarizes why an inference call failed, for data quality notes.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return "not configured"
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return "rate limit exceeded"
	case errors.Is(err, ErrSchemaMismatch):
		return "response failed validation"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "provider temporarily disabled after repeated failures"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return "provider error"
	}
}

// Unconfigured is a Provider that always fails with ErrNotConfigured.
type Unconfigured struct{}

// Infer implements Provider.
func (Unconfigured) Infer(context.Context, Request) (*Response, error) {
	return nil, ErrNotConfigured
}
