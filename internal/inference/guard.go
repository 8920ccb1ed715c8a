package inference

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/auth"
	"github.com/sells-group/donor-import/internal/ratelimit"
	"github.com/sells-group/donor-import/internal/resilience"
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 5 * time.Second

// GuardConfig bounds calls made through a Guard.
type GuardConfig struct {
	Timeout          time.Duration
	MaxRequestTokens int
}

// Guard enforces the request size ceiling, the caller's rate limit, a circuit
// breaker and a per-call timeout in front of another Provider.
type Guard struct {
	next    Provider
	limiter *ratelimit.Limiter
	breaker *resilience.Breaker
	cfg     GuardConfig
}

// NewGuard wraps next. A nil limiter or breaker disables that check.
func NewGuard(next Provider, limiter *ratelimit.Limiter, breaker *resilience.Breaker, cfg GuardConfig) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Guard{next: next, limiter: limiter, breaker: breaker, cfg: cfg}
}

// Infer implements Provider.
func (g *Guard) Infer(ctx context.Context, req Request) (*Response, error) {
	caller := auth.CallerFrom(ctx)

	if g.cfg.MaxRequestTokens > 0 {
		if tokens := EstimateTokens(req); tokens > g.cfg.MaxRequestTokens {
			zap.L().Warn("inference request over token ceiling",
				zap.String("caller", caller),
				zap.Int("tokens", tokens),
				zap.Int("max_tokens", g.cfg.MaxRequestTokens),
			)
			return nil, &ratelimit.ExceededError{Caller: caller, Window: "request-size"}
		}
	}

	if g.limiter != nil {
		if err := g.limiter.Allow(caller); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	call := func(ctx context.Context) (*Response, error) {
		return g.next.Infer(ctx, req)
	}
	if g.breaker == nil {
		return call(callCtx)
	}
	return resilience.Call(callCtx, g.breaker, call)
}
