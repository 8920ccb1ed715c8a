package config

import (
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Mapping   MappingConfig   `yaml:"mapping" mapstructure:"mapping"`
	Inference InferenceConfig `yaml:"inference" mapstructure:"inference"`
	Import    ImportConfig    `yaml:"import" mapstructure:"import"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MappingConfig configures column-to-field mapping.
type MappingConfig struct {
	Strategy      string  `yaml:"strategy" mapstructure:"strategy"`
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	SampleRows    int     `yaml:"sample_rows" mapstructure:"sample_rows"`
	PatternsFile  string  `yaml:"patterns_file" mapstructure:"patterns_file"`
}

// InferenceConfig bounds calls to the external inference provider.
type InferenceConfig struct {
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRequestTokens int `yaml:"max_request_tokens" mapstructure:"max_request_tokens"`
	PerMinute        int `yaml:"per_minute" mapstructure:"per_minute"`
	PerHour          int `yaml:"per_hour" mapstructure:"per_hour"`
	BreakerFailures  int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ImportConfig configures file limits and job processing.
type ImportConfig struct {
	MaxFileBytes         int64 `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	BatchSize            int   `yaml:"batch_size" mapstructure:"batch_size"`
	Workers              int   `yaml:"workers" mapstructure:"workers"`
	ErrorSummaryLimit    int   `yaml:"error_summary_limit" mapstructure:"error_summary_limit"`
	PreviewRows          int   `yaml:"preview_rows" mapstructure:"preview_rows"`
	ValidateDisplayLimit int   `yaml:"validate_display_limit" mapstructure:"validate_display_limit"`
}

// NotifyConfig configures welcome notifications.
type NotifyConfig struct {
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// FetchConfig configures remote import sources.
type FetchConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int `yaml:"max_retries" mapstructure:"max_retries"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DONOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "donor-import.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("mapping.strategy", "ai")
	v.SetDefault("mapping.min_confidence", 0.5)
	v.SetDefault("mapping.sample_rows", 5)
	v.SetDefault("inference.timeout_secs", 5)
	v.SetDefault("inference.max_request_tokens", 8000)
	v.SetDefault("inference.per_minute", 10)
	v.SetDefault("inference.per_hour", 100)
	v.SetDefault("inference.breaker_failures", 5)
	v.SetDefault("inference.breaker_reset_secs", 30)
	v.SetDefault("import.max_file_bytes", 50*1024*1024)
	v.SetDefault("import.batch_size", 100)
	v.SetDefault("import.workers", runtime.NumCPU())
	v.SetDefault("import.error_summary_limit", 50)
	v.SetDefault("import.preview_rows", 10)
	v.SetDefault("import.validate_display_limit", 100)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
// Mode is one of "serve", "import" or "jobs".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "memory":
	default:
		errs = append(errs, "store.driver must be sqlite, postgres or memory")
	}

	switch mode {
	case "jobs":
	case "serve", "import":
		switch c.Mapping.Strategy {
		case "ai", "heuristic":
		default:
			errs = append(errs, "mapping.strategy must be ai or heuristic")
		}
		if c.Mapping.MinConfidence < 0 || c.Mapping.MinConfidence > 1 {
			errs = append(errs, "mapping.min_confidence must be within [0, 1]")
		}
		if c.Import.MaxFileBytes <= 0 {
			errs = append(errs, "import.max_file_bytes must be > 0")
		}
		if c.Import.BatchSize <= 0 {
			errs = append(errs, "import.batch_size must be > 0")
		}
		if c.Import.Workers <= 0 {
			errs = append(errs, "import.workers must be > 0")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
