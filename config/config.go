// Package config loads the configuration of a giftchain run from YAML.
//
// Every field has a default, so an empty file (or no file at all) describes
// the reference workload: one hundred tags and four workers picking their
// actions at random.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config describes one run.
type Config struct {
	// Tags is the number of tags to admit and retire.
	Tags int `yaml:"tags"`
	// Workers is the size of the pool.
	Workers int `yaml:"workers"`
	// Policy is one of "random", "round-robin" or "weighted".
	Policy  string  `yaml:"policy"`
	Weights Weights `yaml:"weights"`
	// Seed seeds the random policies. Zero picks a seed from the clock.
	Seed uint64 `yaml:"seed"`
	// MaxPending bounds the admitted but unretired tags; zero is unbounded.
	MaxPending int `yaml:"max_pending"`
	// AdmitPatience bounds every single admit attempt of a worker. Zero leaves
	// the choice to the worker package, which only bounds attempts on a
	// bounded Store.
	AdmitPatience time.Duration `yaml:"admit_patience"`
	// Timeout bounds the whole run.
	Timeout time.Duration `yaml:"timeout"`
	// Scripts optionally assigns fixed tags to workers, one list per worker.
	// When set, Workers and Policy are ignored.
	Scripts [][]int `yaml:"scripts,omitempty"`

	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Weights are the relative action frequencies of the weighted policy.
type Weights struct {
	Admit  int `yaml:"admit"`
	Retire int `yaml:"retire"`
	Search int `yaml:"search"`
}

// Log configures logging.
type Log struct {
	// Level is a logrus level name, e.g. "info" or "debug".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		Tags:          100,
		Workers:       4,
		Policy:        "random",
		Weights:       Weights{Admit: 1, Retire: 1, Search: 1},
		AdmitPatience: 10 * time.Millisecond,
		Timeout:       time.Minute,
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path on top of the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Read reads the YAML file at path on top of the defaults without validating
// the result, so that callers can apply overrides first.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	cfg, err := Decode(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg, err := Decode(data)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode decodes YAML on top of the defaults without validating the result.
func Decode(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode yaml")
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var result *multierror.Error
	if c.Tags < 0 {
		result = multierror.Append(result, fmt.Errorf("tags must be >= 0, got %v", c.Tags))
	}
	if len(c.Scripts) == 0 && c.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("workers must be > 0, got %v", c.Workers))
	}
	switch c.Policy {
	case "random", "round-robin":
	case "weighted":
		w := c.Weights
		if w.Admit <= 0 || w.Retire <= 0 || w.Search < 0 {
			result = multierror.Append(result, fmt.Errorf("weighted policy needs positive admit and retire weights, got %+v", w))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown policy %q", c.Policy))
	}
	if c.MaxPending < 0 {
		result = multierror.Append(result, fmt.Errorf("max_pending must be >= 0, got %v", c.MaxPending))
	}
	if c.AdmitPatience < 0 {
		result = multierror.Append(result, fmt.Errorf("admit_patience must be >= 0, got %v", c.AdmitPatience))
	}
	if c.Timeout < 0 {
		result = multierror.Append(result, fmt.Errorf("timeout must be >= 0, got %v", c.Timeout))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		result = multierror.Append(result, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		result = multierror.Append(result, fmt.Errorf("log format must be text or json, got %q", c.Log.Format))
	}
	return result.ErrorOrNil()
}

// NewLogger returns a logger configured by l.
func (l Log) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	if strings.ToLower(l.Format) == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
