package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gofinetune/domain/core"
	"gofinetune/internal/errors"
	"gofinetune/internal/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	LogLevel     string             `yaml:"log_level"`
	Paths        PathConfig         `yaml:"paths"`
	Dataset      DatasetConfig      `yaml:"dataset"`
	FoldSample   FoldSampleConfig   `yaml:"fold_sample"`
	Finetune     FinetuneConfig     `yaml:"finetune"`
	Series       SeriesConfig       `yaml:"series"`
	Collaborator CollaboratorConfig `yaml:"collaborator"`
	Database     DatabaseConfig     `yaml:"database"`
	Server       ServerConfig       `yaml:"server"`
}

// PathConfig holds file system paths
type PathConfig struct {
	Trials     string   `yaml:"trials" validate:"required"`
	ClipTables []string `yaml:"clip_tables" validate:"required,min=1,dive,required"`
}

// DatasetConfig describes how clip tables encode labels
type DatasetConfig struct {
	PositiveLabel  string   `yaml:"positive_label"`
	NegativeLabels []string `yaml:"negative_labels"`
}

// FoldSampleConfig controls fold sampling
type FoldSampleConfig struct {
	NumFolds int   `yaml:"num_folds" validate:"required,gt=0"`
	Seed     int64 `yaml:"seed"`
	PinSeed  bool  `yaml:"pin_seed"`
}

// FinetuneConfig controls a single accumulative trial
type FinetuneConfig struct {
	Lazy        bool                   `yaml:"lazy"`
	WarmStart   bool                   `yaml:"warm_start"`
	ValSplit    float64                `yaml:"val_split" validate:"gte=0,lt=1"`
	Threshold   float64                `yaml:"threshold" validate:"gt=0,lt=1"`
	BaseModel   string                 `yaml:"base_model" validate:"required"`
	Metrics     []string               `yaml:"metrics" validate:"required,min=1"`
	LowerBounds map[string]float64     `yaml:"lower_bounds"`
	UpperBounds map[string]float64     `yaml:"upper_bounds"`
	HParams     map[string]interface{} `yaml:"hparams"`
}

// SeriesConfig controls repetition of trials
type SeriesConfig struct {
	NumTrials    int           `yaml:"num_trials" validate:"required,gt=0"`
	Parallelism  int           `yaml:"parallelism" validate:"gte=0"`
	TrialTimeout time.Duration `yaml:"trial_timeout"`
	Refresh      bool          `yaml:"refresh"`
	Report       bool          `yaml:"report"`
}

// CollaboratorConfig points at the external trainer/evaluator program
type CollaboratorConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig holds the optional SQL record store settings
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"omitempty,oneof=postgres sqlite"`
	URL    string `yaml:"url"`
}

// Enabled reports whether a SQL record store is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string `yaml:"port"`
}

var validate = validator.New()

// Default returns the configuration used for any field the file leaves unset
func Default() *Config {
	return &Config{
		LogLevel: "INFO",
		Paths: PathConfig{
			Trials: "./results/trials",
		},
		Dataset: DatasetConfig{
			PositiveLabel: "1",
		},
		FoldSample: FoldSampleConfig{
			NumFolds: 5,
			Seed:     42,
		},
		Finetune: FinetuneConfig{
			Lazy:      true,
			ValSplit:  0.1,
			Threshold: 0.5,
			Metrics:   []string{metrics.Sensitivity, metrics.Specificity},
		},
		Series: SeriesConfig{
			NumTrials:   1,
			Parallelism: 1,
			Refresh:     true,
		},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		Server: ServerConfig{
			Port: "8080",
		},
	}
}

// Load reads a YAML file, applies .env and environment overrides and
// validates the result. Every failure classifies as core.ErrConfig.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid,
				core.NewConfigError("config_file", fmt.Sprintf("cannot read %s: %v", path, err)))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid,
				core.NewConfigError("config_file", fmt.Sprintf("cannot parse %s: %v", path, err)))
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.Paths.Trials = getEnvOrDefault("FINETUNE_TRIALS_DIR", cfg.Paths.Trials)
	if tables := os.Getenv("FINETUNE_CLIP_TABLES"); tables != "" {
		cfg.Paths.ClipTables = splitList(tables)
	}
	cfg.Finetune.BaseModel = getEnvOrDefault("FINETUNE_BASE_MODEL", cfg.Finetune.BaseModel)
	cfg.FoldSample.NumFolds = getEnvIntOrDefault("FINETUNE_NUM_FOLDS", cfg.FoldSample.NumFolds)
	cfg.FoldSample.Seed = getEnvInt64OrDefault("FINETUNE_SEED", cfg.FoldSample.Seed)
	cfg.FoldSample.PinSeed = getEnvBoolOrDefault("FINETUNE_PIN_SEED", cfg.FoldSample.PinSeed)
	cfg.Finetune.Lazy = getEnvBoolOrDefault("FINETUNE_LAZY", cfg.Finetune.Lazy)
	cfg.Finetune.ValSplit = getEnvFloatOrDefault("FINETUNE_VAL_SPLIT", cfg.Finetune.ValSplit)
	cfg.Series.NumTrials = getEnvIntOrDefault("FINETUNE_NUM_TRIALS", cfg.Series.NumTrials)
	cfg.Series.Parallelism = getEnvIntOrDefault("FINETUNE_PARALLELISM", cfg.Series.Parallelism)
	cfg.Series.TrialTimeout = getEnvDurationOrDefault("FINETUNE_TRIAL_TIMEOUT", cfg.Series.TrialTimeout)
	cfg.Collaborator.Command = getEnvOrDefault("FINETUNE_COLLABORATOR", cfg.Collaborator.Command)
	cfg.Database.URL = getEnvOrDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Database.Driver = getEnvOrDefault("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Server.Port = getEnvOrDefault("PORT", cfg.Server.Port)
}

// Validate checks struct constraints and the cross-field rules the tags
// cannot express
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return core.NewConfigError("config", err.Error())
	}

	known := make(map[string]bool)
	for _, name := range c.Finetune.Metrics {
		canonical := metrics.Canonical(name)
		if !metrics.IsKnown(canonical) {
			return core.NewConfigError("finetune.metrics", fmt.Sprintf("unknown metric %q", name))
		}
		known[canonical] = true
	}
	for _, bounds := range []struct {
		field  string
		values map[string]float64
	}{
		{"finetune.lower_bounds", c.Finetune.LowerBounds},
		{"finetune.upper_bounds", c.Finetune.UpperBounds},
	} {
		for _, name := range sortedKeys(bounds.values) {
			if !known[metrics.Canonical(name)] {
				return core.NewConfigError(bounds.field,
					fmt.Sprintf("bound on %q but the metric is not in finetune.metrics", name))
			}
		}
	}
	lower, upper := c.LowerBounds(), c.UpperBounds()
	for _, name := range sortedKeys(lower) {
		lo := lower[name]
		if hi, ok := upper[name]; ok && lo > hi {
			return core.NewConfigError("finetune.bounds", fmt.Sprintf("%s lower bound %.4f exceeds upper bound %.4f", name, lo, hi))
		}
	}
	if c.Series.Parallelism == 0 {
		c.Series.Parallelism = 1
	}
	return nil
}

// LowerBounds returns the lower bounds keyed by canonical metric name
func (c *Config) LowerBounds() map[string]float64 {
	return canonicalBounds(c.Finetune.LowerBounds)
}

// UpperBounds returns the upper bounds keyed by canonical metric name
func (c *Config) UpperBounds() map[string]float64 {
	return canonicalBounds(c.Finetune.UpperBounds)
}

// ParamsHash fingerprints every setting that changes trial results
func (c *Config) ParamsHash() core.Hash {
	params := map[string]interface{}{
		"num_folds":  c.FoldSample.NumFolds,
		"lazy":       c.Finetune.Lazy,
		"warm_start": c.Finetune.WarmStart,
		"val_split":  c.Finetune.ValSplit,
		"threshold":  c.Finetune.Threshold,
		"base_model": c.Finetune.BaseModel,
		"metrics":    strings.Join(c.Finetune.Metrics, ","),
	}
	for k, v := range c.Finetune.LowerBounds {
		params["lower."+k] = v
	}
	for k, v := range c.Finetune.UpperBounds {
		params["upper."+k] = v
	}
	for k, v := range c.Finetune.HParams {
		params["hparam."+k] = v
	}
	return core.ComputeParamsHash(params)
}

func canonicalBounds(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[metrics.Canonical(k)] = v
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
