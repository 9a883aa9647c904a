// Package config loads settings from config.yaml and JOBFORGE_* environment
// variables, and bootstraps the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the top-level application configuration.
type Config struct {
	Data       DataConfig       `yaml:"data" mapstructure:"data"`
	Resolution ResolutionConfig `yaml:"resolution" mapstructure:"resolution"`
	Crosswalk  CrosswalkConfig  `yaml:"crosswalk" mapstructure:"crosswalk"`
	ONET       ONETConfig       `yaml:"onet" mapstructure:"onet"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Imputation ImputationConfig `yaml:"imputation" mapstructure:"imputation"`
	Merge      MergeConfig      `yaml:"merge" mapstructure:"merge"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the taxonomy and attribute datasets.
type DataConfig struct {
	// Driver selects the taxonomy source: "files" or "postgres".
	Driver        string                 `yaml:"driver" mapstructure:"driver"`
	UnitsPath     string                 `yaml:"units_path" mapstructure:"units_path"`
	LabelsPath    string                 `yaml:"labels_path" mapstructure:"labels_path"`
	ExamplesPath  string                 `yaml:"examples_path" mapstructure:"examples_path"`
	DatabaseURL   string                 `yaml:"database_url" mapstructure:"database_url"`
	CrosswalkPath string                 `yaml:"crosswalk_path" mapstructure:"crosswalk_path"`
	NativesPath   string                 `yaml:"natives_path" mapstructure:"natives_path"`
	CatalogPath   string                 `yaml:"catalog_path" mapstructure:"catalog_path"`
	Attributes    []AttributeTableConfig `yaml:"attributes" mapstructure:"attributes"`
}

// AttributeTableConfig describes one unit-keyed attribute dataset.
type AttributeTableConfig struct {
	Name      string   `yaml:"name" mapstructure:"name"`
	Path      string   `yaml:"path" mapstructure:"path"`
	KeyColumn string   `yaml:"key_column" mapstructure:"key_column"`
	Columns   []string `yaml:"columns" mapstructure:"columns"`
}

type ResolutionConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
}

type CrosswalkConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Confidence  float64 `yaml:"confidence" mapstructure:"confidence"`
	MaxElements int     `yaml:"max_elements" mapstructure:"max_elements"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

type ONETConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Username          string  `yaml:"username" mapstructure:"username"`
	Key               string  `yaml:"key" mapstructure:"key"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

type ImputationConfig struct {
	Enabled  bool `yaml:"enabled" mapstructure:"enabled"`
	MaxKnown int  `yaml:"max_known" mapstructure:"max_known"`
}

type MergeConfig struct {
	RetainLosers bool `yaml:"retain_losers" mapstructure:"retain_losers"`
}

type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter"`
}

type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the listener.
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads config.yaml from the working directory, applies JOBFORGE_*
// environment overrides and fills defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("JOBFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data.driver", "files")
	v.SetDefault("data.units_path", "data/units.csv")
	v.SetDefault("data.labels_path", "data/labels.csv")
	v.SetDefault("data.examples_path", "data/example_titles.csv")
	v.SetDefault("data.database_url", "")
	v.SetDefault("data.crosswalk_path", "")
	v.SetDefault("data.natives_path", "")
	v.SetDefault("data.catalog_path", "")
	v.SetDefault("resolution.fuzzy_threshold", 70.0)
	v.SetDefault("crosswalk.enabled", true)
	v.SetDefault("crosswalk.confidence", 0.5)
	v.SetDefault("crosswalk.max_elements", 5)
	v.SetDefault("crosswalk.concurrency", 4)
	v.SetDefault("onet.base_url", "https://services.onetcenter.org/ws/online/occupations")
	v.SetDefault("onet.username", "")
	v.SetDefault("onet.key", "")
	v.SetDefault("onet.requests_per_second", 5.0)
	v.SetDefault("onet.burst", 5)
	v.SetDefault("onet.timeout_secs", 30)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("imputation.enabled", true)
	v.SetDefault("imputation.max_known", 20)
	v.SetDefault("merge.retain_losers", false)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "jobforge.db")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command needs. mode is one of "resolve",
// "batch" or "units".
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Data.Driver {
	case "files":
		if c.Data.UnitsPath == "" || c.Data.LabelsPath == "" || c.Data.ExamplesPath == "" {
			add("data.units_path, data.labels_path and data.examples_path are required for the files driver")
		}
	case "postgres":
		if c.Data.DatabaseURL == "" {
			add("data.database_url is required for the postgres driver")
		}
	default:
		add("data.driver must be files or postgres, got %q", c.Data.Driver)
	}

	if c.Resolution.FuzzyThreshold < 0 || c.Resolution.FuzzyThreshold > 100 {
		add("resolution.fuzzy_threshold must be within [0, 100]")
	}

	switch mode {
	case "resolve", "units":
	case "batch":
		if c.Batch.Concurrency <= 0 {
			add("batch.concurrency must be positive")
		}
		if c.Crosswalk.Enabled && c.Data.CrosswalkPath != "" {
			if c.ONET.Username == "" || c.ONET.Key == "" {
				add("onet.username and onet.key are required when the crosswalk tier is enabled")
			}
			if c.Crosswalk.Confidence < 0 || c.Crosswalk.Confidence > 1 {
				add("crosswalk.confidence must be within [0, 1]")
			}
		}
		if c.Imputation.Enabled && c.Anthropic.Key == "" {
			add("anthropic.key is required when imputation is enabled")
		}
		if c.Store.Driver != "" && c.Store.Driver != "sqlite" {
			add("store.driver must be sqlite, got %q", c.Store.Driver)
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger installs the global zap logger.
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
