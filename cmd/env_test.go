package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/donor-import/internal/auth"
	"github.com/sells-group/donor-import/internal/config"
	"github.com/sells-group/donor-import/internal/inference"
	"github.com/sells-group/donor-import/internal/mapping"
	"github.com/sells-group/donor-import/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Store:   config.StoreConfig{Driver: "memory"},
		Mapping: config.MappingConfig{Strategy: "ai", MinConfidence: 0.5},
		Import: config.ImportConfig{
			MaxFileBytes: 1 << 20,
			BatchSize:    2,
			Workers:      2,
		},
		Server: config.ServerConfig{Port: 8080},
	}
}

var donorsCSV = []byte("firstname,lastname,email\nMaria,Lopez,maria@example.org\nJames,Chen,james@example.org\nAisha,Khan,aisha@example.org\n")

func TestInitEnv_Memory(t *testing.T) {
	cfg = testConfig()

	env, err := initEnv(context.Background(), "import")
	require.NoError(t, err)
	require.NotNil(t, env.Service)
	require.NotNil(t, env.Opener)
	env.Close()
}

func TestInitEnv_SQLite(t *testing.T) {
	cfg = testConfig()
	cfg.Store = config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "donors.db")}

	env, err := initEnv(context.Background(), "jobs")
	require.NoError(t, err)
	env.Close()
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	cfg = testConfig()
	cfg.Import.BatchSize = 0

	_, err := initEnv(context.Background(), "import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import.batch_size")

	cfg = testConfig()
	cfg.Store.Driver = "oracle"
	_, err = initEnv(context.Background(), "jobs")
	require.Error(t, err)
}

func TestInitEnv_BadPatternsFile(t *testing.T) {
	cfg = testConfig()
	cfg.Mapping.PatternsFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := initEnv(context.Background(), "import")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load header patterns")
}

func TestInitProvider_NoKey(t *testing.T) {
	p := initProvider(testConfig())
	assert.IsType(t, inference.Unconfigured{}, p)
}

func TestInitProvider_WithKey(t *testing.T) {
	c := testConfig()
	c.Anthropic = config.AnthropicConfig{Key: "sk-test", Model: "claude-haiku-4-5-20251001", MaxTokens: 512}

	p := initProvider(c)
	assert.IsType(t, &inference.Guard{}, p)
}

func TestInitMapper_FallsBackWithoutKey(t *testing.T) {
	m, err := initMapper(testConfig())
	require.NoError(t, err)

	res := m.Infer(context.Background(), []string{"firstname", "lastname", "email"}, nil)
	assert.Equal(t, mapping.StrategyHeuristic, res.Strategy)
	assert.True(t, res.RequiredFieldsCovered)
	require.NotEmpty(t, res.DataQualityNotes)
}

func TestInitMapper_HeuristicWithPatterns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte("patterns:\n  - field: firstName\n    exact: [\"given\"]\n  - field: lastName\n    exact: [\"family\"]\n"), 0o644))

	c := testConfig()
	c.Mapping.Strategy = "heuristic"
	c.Mapping.PatternsFile = path

	m, err := initMapper(c)
	require.NoError(t, err)

	res := m.Infer(context.Background(), []string{"given", "family"}, nil)
	assert.Equal(t, mapping.StrategyHeuristic, res.Strategy)
	assert.Empty(t, res.DataQualityNotes)
	targets := map[string]model.TargetField{}
	for _, fm := range res.FieldMappings {
		targets[fm.SourceColumn] = fm.TargetField
	}
	assert.Equal(t, model.FieldFirstName, targets["given"])
	assert.Equal(t, model.FieldLastName, targets["family"])
}

func TestAwaitJob_Completes(t *testing.T) {
	cfg = testConfig()
	env, err := initEnv(context.Background(), "import")
	require.NoError(t, err)
	defer env.Close()

	ctx := auth.WithCaller(context.Background(), "alice")
	job, err := env.Service.Submit(ctx, donorsCSV, "donors.csv", nil, model.ImportOptions{})
	require.NoError(t, err)

	final, err := awaitJob(ctx, env, job.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.SuccessfulRows)
	assert.Equal(t, "alice", final.CreatedBy)
}

func TestAwaitJob_UnknownJob(t *testing.T) {
	cfg = testConfig()
	env, err := initEnv(context.Background(), "jobs")
	require.NoError(t, err)
	defer env.Close()

	_, err = awaitJob(context.Background(), env, "missing", time.Millisecond)
	require.Error(t, err)
}
