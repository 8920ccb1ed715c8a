package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/donor-import/internal/clean"
	"github.com/sells-group/donor-import/internal/config"
	"github.com/sells-group/donor-import/internal/fetcher"
	"github.com/sells-group/donor-import/internal/importer"
	"github.com/sells-group/donor-import/internal/inference"
	"github.com/sells-group/donor-import/internal/mapping"
	"github.com/sells-group/donor-import/internal/model"
	"github.com/sells-group/donor-import/internal/notify"
	"github.com/sells-group/donor-import/internal/ratelimit"
	"github.com/sells-group/donor-import/internal/resilience"
	"github.com/sells-group/donor-import/internal/store"
	"github.com/sells-group/donor-import/pkg/anthropic"
)

// importEnv holds the initialized dependencies shared by commands.
type importEnv struct {
	Store   store.Store
	Service *importer.Service
	Opener  *fetcher.Opener
}

// Close waits briefly for running jobs and releases the store.
func (e *importEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Service.Wait(ctx); err != nil {
		zap.L().Warn("import jobs still running at shutdown", zap.Error(err))
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initEnv validates the config for mode and wires the import service.
func initEnv(ctx context.Context, mode string) (*importEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, eris.Wrap(err, "invalid config")
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	mapper, err := initMapper(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	notifier := notify.New(cfg.Notify.WebhookURL, time.Duration(cfg.Notify.TimeoutSecs)*time.Second)
	svc := importer.New(st, mapper, clean.New(model.DonorSchema), notifier,
		importer.OptionsFromConfig(cfg.Import, cfg.Mapping))

	return &importEnv{
		Store:   st,
		Service: svc,
		Opener:  fetcher.FromConfig(cfg.Fetch),
	}, nil
}

// initMapper builds the mapping chain: the guarded AI strategy (unless the
// heuristic is selected) in front of the header heuristic.
func initMapper(c *config.Config) (*mapping.Mapper, error) {
	var patterns []mapping.Pattern
	if c.Mapping.PatternsFile != "" {
		p, err := mapping.LoadPatterns(c.Mapping.PatternsFile, model.DonorSchema)
		if err != nil {
			return nil, eris.Wrap(err, "load header patterns")
		}
		patterns = p
	}
	heuristic := mapping.NewHeuristic(model.DonorSchema, patterns)

	var primary mapping.Strategy
	if c.Mapping.Strategy != mapping.StrategyHeuristic {
		primary = mapping.NewAIStrategy(initProvider(c), model.DonorSchema)
	}
	return mapping.NewMapper(primary, heuristic, model.DonorSchema, c.Mapping.MinConfidence), nil
}

// initProvider returns the inference provider behind its guard. Without an
// API key every call fails fast and the heuristic takes over.
func initProvider(c *config.Config) inference.Provider {
	if c.Anthropic.Key == "" {
		zap.L().Info("anthropic key not set, AI column mapping disabled")
		return inference.Unconfigured{}
	}

	client := anthropic.NewClient(c.Anthropic.Key)
	limiter := ratelimit.New(ratelimit.Config{
		PerMinute: c.Inference.PerMinute,
		PerHour:   c.Inference.PerHour,
	})
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:             "anthropic",
		FailureThreshold: c.Inference.BreakerFailures,
		ResetTimeout:     time.Duration(c.Inference.BreakerResetSecs) * time.Second,
	})
	return inference.NewGuard(
		inference.NewAnthropicProvider(client, c.Anthropic.Model, c.Anthropic.MaxTokens, model.DonorSchema),
		limiter,
		breaker,
		inference.GuardConfig{
			Timeout:          time.Duration(c.Inference.TimeoutSecs) * time.Second,
			MaxRequestTokens: c.Inference.MaxRequestTokens,
		},
	)
}
