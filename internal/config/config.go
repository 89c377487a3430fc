// Package config loads process configuration for the coordinator, node and
// samplegen binaries.
//
// Values come, in increasing precedence, from built-in defaults, an
// optional config file (YAML, TOML or JSON, chosen by extension), the
// environment, and command-line flags bound with BindFlags. Environment
// variables use the SHUFFLESTORE_ prefix with dots replaced by underscores:
//
//	dataset.samples   SHUFFLESTORE_DATASET_SAMPLES
//	node.listen       SHUFFLESTORE_NODE_LISTEN
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by New.
const EnvPrefix = "SHUFFLESTORE"

// Config is the full configuration tree.
type Config struct {
	Node        NodeConf        `mapstructure:"node"`
	Coordinator CoordinatorConf `mapstructure:"coordinator"`
	Dataset     DatasetConf     `mapstructure:"dataset"`
	Training    TrainingConf    `mapstructure:"training"`
	Log         LogConf         `mapstructure:"log"`
}

// NodeConf configures one rank's process.
type NodeConf struct {
	ID               string        `mapstructure:"id"`
	Listen           string        `mapstructure:"listen"`
	Addr             string        `mapstructure:"addr"`
	CoordinatorAddr  string        `mapstructure:"coordinator_addr"`
	MaxInflight      int           `mapstructure:"max_inflight"`
	RegisterRetries  int           `mapstructure:"register_retries"`
	RegisterInterval time.Duration `mapstructure:"register_interval"`
	JoinTimeout      time.Duration `mapstructure:"join_timeout"`
}

// CoordinatorConf configures the rendezvous coordinator.
type CoordinatorConf struct {
	Listen         string        `mapstructure:"listen"`
	WorldSize      int           `mapstructure:"world_size"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
}

// DatasetConf describes where records live. Exactly one of Pattern,
// Manifest or Badger selects the backing source.
type DatasetConf struct {
	Samples  int    `mapstructure:"samples"`
	Sources  int    `mapstructure:"sources"`
	Dir      string `mapstructure:"dir"`
	Pattern  string `mapstructure:"pattern"`
	Manifest string `mapstructure:"manifest"`
	Badger   string `mapstructure:"badger"`
}

// TrainingConf drives the node's epoch loop.
type TrainingConf struct {
	Epochs    int   `mapstructure:"epochs"`
	BatchSize int   `mapstructure:"batch_size"`
	Seed      int64 `mapstructure:"seed"`
	Root      int   `mapstructure:"root"`
	Verify    bool  `mapstructure:"verify"`
}

// LogConf configures logging. An empty Path logs to stderr.
type LogConf struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

var defaults = map[string]any{
	"node.listen":            ":8081",
	"node.addr":              "http://127.0.0.1:8081",
	"node.coordinator_addr":  "http://127.0.0.1:8080",
	"node.max_inflight":      64,
	"node.register_retries":  10,
	"node.register_interval": 400 * time.Millisecond,
	"node.join_timeout":      2 * time.Minute,
	"node.id":                "",

	"coordinator.listen":          ":8080",
	"coordinator.world_size":      1,
	"coordinator.health_interval": 5 * time.Second,

	"dataset.samples":  0,
	"dataset.sources":  1,
	"dataset.dir":      "",
	"dataset.pattern":  "%d_%d.bin",
	"dataset.manifest": "",
	"dataset.badger":   "",

	"training.epochs":     1,
	"training.batch_size": 32,
	"training.seed":       1,
	"training.root":       0,
	"training.verify":     false,

	"log.level": "info",
	"log.path":  "",
}

// New returns a viper instance carrying defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds each flag in fs to the config key named by keys[flag].
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := fs.Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag %q", flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", flag, err)
		}
	}
	return nil
}

// Load reads file, if not empty, and decodes the merged configuration.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return conf, nil
}

// ValidateNode reports missing or invalid settings a node needs.
func (c *Config) ValidateNode() error {
	var errs []error
	if c.Node.ID == "" {
		errs = append(errs, errors.New("missing config: node.id"))
	}
	if c.Node.CoordinatorAddr == "" {
		errs = append(errs, errors.New("missing config: node.coordinator_addr"))
	}
	if c.Dataset.Samples <= 0 {
		errs = append(errs, fmt.Errorf("dataset.samples must be positive, got %d", c.Dataset.Samples))
	}
	if c.Dataset.Sources <= 0 {
		errs = append(errs, fmt.Errorf("dataset.sources must be positive, got %d", c.Dataset.Sources))
	}
	if c.Training.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("training.batch_size must be positive, got %d", c.Training.BatchSize))
	}
	if c.Training.Epochs < 0 {
		errs = append(errs, fmt.Errorf("training.epochs must not be negative, got %d", c.Training.Epochs))
	}
	if c.Dataset.Badger == "" && c.Dataset.Manifest == "" && c.Dataset.Dir == "" {
		errs = append(errs, errors.New("missing config: one of dataset.dir, dataset.manifest or dataset.badger"))
	}
	return errors.Join(errs...)
}

// ValidateCoordinator reports invalid coordinator settings.
func (c *Config) ValidateCoordinator() error {
	var errs []error
	if c.Coordinator.WorldSize <= 0 {
		errs = append(errs, fmt.Errorf("coordinator.world_size must be positive, got %d", c.Coordinator.WorldSize))
	}
	if c.Coordinator.HealthInterval <= 0 {
		errs = append(errs, fmt.Errorf("coordinator.health_interval must be positive, got %s", c.Coordinator.HealthInterval))
	}
	return errors.Join(errs...)
}
