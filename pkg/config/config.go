// Package config loads skillcast engine configuration from config files and
// environment variables via viper. Every threshold in the learning pipeline
// (similarity weights, retrain cadence, minimum example counts) is a default
// here rather than a constant, so deployments can tune them without code
// changes.
package config

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// SimilarityWeights holds the relative weight of each similarity sub-score.
// The five weights should sum to 1.0 so the combined score stays in [0,1].
type SimilarityWeights struct {
	Technology   float64 `mapstructure:"technology"`
	Architecture float64 `mapstructure:"architecture"`
	Domain       float64 `mapstructure:"domain"`
	Scale        float64 `mapstructure:"scale"`
	Conventions  float64 `mapstructure:"conventions"`
}

// Sum returns the total of all sub-score weights.
func (w SimilarityWeights) Sum() float64 {
	return w.Technology + w.Architecture + w.Domain + w.Scale + w.Conventions
}

// Config is the full engine configuration.
type Config struct {
	// DataDir is the directory holding the project's local state database.
	DataDir string `mapstructure:"data_dir"`
	// PoolPath is the path of the shared cross-project pool database.
	// Empty disables cross-project transfer.
	PoolPath string `mapstructure:"pool_path"`

	Similarity SimilarityWeights `mapstructure:"similarity"`

	// MinTrainingExamples is the example count below which a per-skill
	// model stays untrained and prediction falls back to pattern voting.
	MinTrainingExamples int `mapstructure:"min_training_examples"`
	// MinPatterns is the total pattern count (local + pool) below which
	// predict returns the insufficient-data marker.
	MinPatterns int `mapstructure:"min_patterns"`
	// RetrainEvery triggers retraining after this many new captures.
	RetrainEvery int `mapstructure:"retrain_every"`
	// StaleGrowthFactor marks a model stale once its available example
	// count reaches this multiple of the count it was trained on.
	StaleGrowthFactor float64 `mapstructure:"stale_growth_factor"`
	// TrainTimeout bounds a single skill's model fit.
	TrainTimeout time.Duration `mapstructure:"train_timeout"`

	// TopK is the number of similar patterns consulted by the fallback vote.
	TopK int `mapstructure:"top_k"`
	// TopN is the number of skill recommendations returned by predict.
	TopN int `mapstructure:"top_n"`

	// MetricAlpha is the recency weight of the rolling metric update.
	MetricAlpha float64 `mapstructure:"metric_alpha"`

	// PromotionConfidence is the minimum pattern confidence for promotion
	// into the shared pool.
	PromotionConfidence float64 `mapstructure:"promotion_confidence"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	SamplerType  string  `mapstructure:"sampler_type"`
	SamplerRatio float64 `mapstructure:"sampler_ratio"`
}

// SetDefaults registers every configuration default with viper. The
// similarity weights and retrain cadence mirror the documented defaults;
// they are tunable, not load-bearing constants.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".skillcast")
	v.SetDefault("pool_path", "")

	v.SetDefault("similarity.technology", 0.40)
	v.SetDefault("similarity.architecture", 0.25)
	v.SetDefault("similarity.domain", 0.20)
	v.SetDefault("similarity.scale", 0.10)
	v.SetDefault("similarity.conventions", 0.05)

	v.SetDefault("min_training_examples", 20)
	v.SetDefault("min_patterns", 20)
	v.SetDefault("retrain_every", 25)
	v.SetDefault("stale_growth_factor", 1.5)
	v.SetDefault("train_timeout", 10*time.Second)

	v.SetDefault("top_k", 10)
	v.SetDefault("top_n", 5)

	v.SetDefault("metric_alpha", 0.3)
	v.SetDefault("promotion_confidence", 0.7)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler_type", "always")
	v.SetDefault("tracing.sampler_ratio", 0.1)
}

// Load decodes the current viper state into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create config decoder")
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with every value at its default.
func Default() *Config {
	v := viper.New()
	cfg, err := Load(v)
	if err != nil {
		// Defaults are wired in this package; a decode failure here is a bug.
		panic(err)
	}
	return cfg
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir cannot be empty")
	}
	if sum := c.Similarity.Sum(); sum < 0.999 || sum > 1.001 {
		return errors.Errorf("similarity weights must sum to 1.0, got %.3f", sum)
	}
	if c.MinTrainingExamples < 1 {
		return errors.New("min_training_examples must be positive")
	}
	if c.MinPatterns < 1 {
		return errors.New("min_patterns must be positive")
	}
	if c.RetrainEvery < 1 {
		return errors.New("retrain_every must be positive")
	}
	if c.StaleGrowthFactor <= 1.0 {
		return errors.Errorf("stale_growth_factor must exceed 1.0, got %.2f", c.StaleGrowthFactor)
	}
	if c.MetricAlpha <= 0 || c.MetricAlpha >= 1 {
		return errors.Errorf("metric_alpha must be in (0,1), got %.2f", c.MetricAlpha)
	}
	if c.PromotionConfidence < 0 || c.PromotionConfidence > 1 {
		return errors.Errorf("promotion_confidence must be in [0,1], got %.2f", c.PromotionConfidence)
	}
	if c.TopK < 1 || c.TopN < 1 {
		return errors.New("top_k and top_n must be positive")
	}
	return nil
}
