// Package config loads the designbench command configuration from a YAML,
// JSON or TOML file, DESIGNBENCH_ environment variables and command flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Noofbiz/designBench/datasets"
	"github.com/Noofbiz/designBench/neighbors"
	"github.com/Noofbiz/designBench/oracles"
	"github.com/Noofbiz/designBench/resource"
	"github.com/Noofbiz/designBench/simple"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// replaced by underscores: DESIGNBENCH_ORACLE_NOISE_STD.
const EnvPrefix = "DESIGNBENCH"

// Config is the full command configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level" validate:"oneof=trace debug info warn error disabled"`

	// Data configures where shards live and how they are fetched.
	Data resource.Options `mapstructure:"data"`
	// GCS registers the gs:// fetcher using application default credentials.
	GCS bool `mapstructure:"gcs"`
	// HTTPTimeout bounds a single http(s) download.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	Dataset   Dataset                   `mapstructure:"dataset"`
	Oracle    Oracle                    `mapstructure:"oracle"`
	Subsample datasets.SubsampleOptions `mapstructure:"subsample"`
}

// Dataset describes the shards of one dataset.
type Dataset struct {
	datasets.Options `mapstructure:",squash"`

	Kind string                `mapstructure:"kind" validate:"oneof=discrete continuous"`
	X    []resource.Descriptor `mapstructure:"x" validate:"required,min=1,dive"`
	Y    []resource.Descriptor `mapstructure:"y" validate:"required,min=1,dive"`

	// Format is applied after loading.
	Format datasets.Format `mapstructure:"format"`

	// CacheBytes sizes the decoded shard cache. Zero uses the shared default.
	CacheBytes int64 `mapstructure:"cache_bytes" validate:"gte=0"`
}

// DatasetKind maps Kind to a datasets.Kind.
func (d Dataset) DatasetKind() datasets.Kind {
	if d.Kind == "discrete" {
		return datasets.Discrete
	}
	return datasets.Continuous
}

// Oracle selects and configures the oracle model.
type Oracle struct {
	oracles.Config `mapstructure:",squash"`

	Model string           `mapstructure:"model" validate:"oneof=mlp knn"`
	MLP   simple.Config    `mapstructure:"mlp"`
	KNN   neighbors.Config `mapstructure:"knn"`
}

// Level parses LogLevel.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Loader reads configuration through its own viper instance so command flags
// can be bound before Load.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a loader with defaults and environment overrides set up.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("data.root", "data")
	v.SetDefault("data.max_tries", 3)
	v.SetDefault("data.initial_backoff", 200*time.Millisecond)
	v.SetDefault("data.max_backoff", 5*time.Second)
	v.SetDefault("gcs", false)
	v.SetDefault("http_timeout", 5*time.Minute)

	v.SetDefault("dataset.kind", "continuous")
	v.SetDefault("dataset.name", "dataset")
	v.SetDefault("dataset.num_classes", 0)
	v.SetDefault("dataset.soft_interpolation", datasets.DefaultSoftInterpolation)
	v.SetDefault("dataset.cache_bytes", 0)
	v.SetDefault("dataset.format.logits", false)
	v.SetDefault("dataset.format.normalized_x", false)
	v.SetDefault("dataset.format.normalized_y", false)

	v.SetDefault("oracle.model", "knn")
	v.SetDefault("oracle.fit", true)
	v.SetDefault("oracle.path", "")
	v.SetDefault("oracle.noise_std", 0.0)
	v.SetDefault("oracle.seed", 0)
	v.SetDefault("oracle.batch_size", datasets.DefaultBatchSize)
	v.SetDefault("oracle.expected_format.logits", false)
	v.SetDefault("oracle.expected_format.normalized_x", false)
	v.SetDefault("oracle.expected_format.normalized_y", false)
	v.SetDefault("oracle.split.val_fraction", 0.1)
	v.SetDefault("oracle.split.seed", 0)
	v.SetDefault("oracle.split.subset_size", 0)
	v.SetDefault("oracle.mlp.hidden_sizes", []int{64, 32})
	v.SetDefault("oracle.mlp.learning_rate", 0.001)
	v.SetDefault("oracle.mlp.epochs", 10)
	v.SetDefault("oracle.mlp.batch_size", 32)
	v.SetDefault("oracle.mlp.seed", 1)
	v.SetDefault("oracle.knn.k", 5)
	v.SetDefault("oracle.knn.weighted", false)

	v.SetDefault("subsample.max_samples", 0)
	v.SetDefault("subsample.min_percentile", 0.0)
	v.SetDefault("subsample.max_percentile", 100.0)
	v.SetDefault("subsample.seed", 0)
}

// Viper exposes the underlying instance for flag binding.
func (l *Loader) Viper() *viper.Viper { return l.v }

// Load reads path, if set, merges environment and bound flags over it and
// validates the result.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Load is shorthand for NewLoader().Load(path).
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}
