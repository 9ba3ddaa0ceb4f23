// Package config provides configuration loading and management for vesselseg.
// It handles loading configuration from YAML files, provides default values
// and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gykovacs/vessel-sub007/pkg/annealing"
	"github.com/gykovacs/vessel-sub007/pkg/features"
	"github.com/gykovacs/vessel-sub007/pkg/mrf"
	"github.com/gykovacs/vessel-sub007/pkg/topology"
)

// ErrInvalidConfig indicates a configuration that failed validation.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Annealing schedule parameters
	Annealing struct {
		// Temperature0 is the starting temperature
		Temperature0 float64 `yaml:"temperature0" validate:"gt=0"`

		// Epsilon is the temperature at which the run stops
		Epsilon float64 `yaml:"epsilon" validate:"gt=0,lt=1"`

		// AnnealingRate is the cooling factor applied per accepted move
		AnnealingRate float64 `yaml:"annealingRate" validate:"gt=0,lt=1"`

		// MaxIterations bounds the number of proposals
		MaxIterations int64 `yaml:"maxIterations" validate:"gte=1"`

		// CheckInterval is the progress and stall check granularity
		CheckInterval int64 `yaml:"checkInterval" validate:"gte=1"`

		// Seed initialises the random generator of the run
		Seed uint64 `yaml:"seed"`
	} `yaml:"annealing"`

	// Energy model parameters
	Model struct {
		// Beta weights the pairwise smoothness term
		Beta float64 `yaml:"beta" validate:"gte=0"`

		// Gamma weights the directional term, 0 disables it
		Gamma float64 `yaml:"gamma"`

		// Topology is one of 2d, 3d or hex
		Topology string `yaml:"topology" validate:"oneof=2d 3d hex"`

		// Pairwise selects the Potts policy
		Pairwise string `yaml:"pairwise" validate:"oneof=hard potts background-contrast contrast"`

		// InterSliceWeight is the relative weight of edges between slices in 3D
		InterSliceWeight float64 `yaml:"interSliceWeight" validate:"gt=0"`

		// Orientation is the feature descriptor deriving structure directions
		// for the directional term, e.g. SobelOrientation or ShearletOrientation 3
		Orientation string `yaml:"orientation" validate:"required"`
	} `yaml:"model"`

	// Probability map preparation
	Features struct {
		// Classifier is the path of the YAML classifier model
		Classifier string `yaml:"classifier"`

		// NormalizeProbabilities divides each site's probabilities by their sum
		NormalizeProbabilities bool `yaml:"normalizeProbabilities"`

		// Gauss smooths each feature vector circularly before classification
		Gauss bool `yaml:"gauss"`

		// Sort orders each feature vector from largest to smallest
		Sort bool `yaml:"sort"`

		// ShiftToMax rotates each feature vector to start at its maximum
		ShiftToMax bool `yaml:"shiftToMax"`

		// ShiftToMin rotates each feature vector to start at its minimum
		ShiftToMin bool `yaml:"shiftToMin"`

		// MinBorder is the smallest border added around the grid
		MinBorder int `yaml:"minBorder" validate:"gte=0"`

		// Workers bounds the goroutines computing probability maps
		Workers int `yaml:"workers" validate:"gte=1"`
	} `yaml:"features"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat" validate:"oneof=text json"`

		// MetricsFile receives the run metrics in Prometheus text format
		MetricsFile string `yaml:"metricsFile"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	opts := annealing.DefaultOptions()
	cfg.Annealing.Temperature0 = opts.Temperature0
	cfg.Annealing.Epsilon = opts.Epsilon
	cfg.Annealing.AnnealingRate = opts.AnnealingRate
	cfg.Annealing.MaxIterations = opts.MaxIterations
	cfg.Annealing.CheckInterval = opts.CheckInterval

	cfg.Model.Beta = 1
	cfg.Model.Gamma = 0
	cfg.Model.Topology = string(topology.Kind2D)
	cfg.Model.Pairwise = mrf.PottsBackgroundContrast.String()
	cfg.Model.InterSliceWeight = topology.DefaultInterSliceWeight
	cfg.Model.Orientation = features.SobelOrientation{}.Name()

	cfg.Features.MinBorder = 1
	cfg.Features.Workers = runtime.NumCPU()

	cfg.Output.LogFormat = "text"

	return cfg
}

var validate = newValidator()

// newValidator reports fields by their YAML keys.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field against its constraints. The error names
// each offending key as it is written in the file, e.g. annealing.epsilon.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		// drop the root type name
		_, key, _ := strings.Cut(fe.Namespace(), ".")
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs[i] = fmt.Sprintf("%s: %v does not satisfy %s", key, fe.Value(), rule)
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// AnnealingOptions returns the scheduler options of the configuration.
func (c *Config) AnnealingOptions() annealing.Options {
	return annealing.Options{
		Temperature0:  c.Annealing.Temperature0,
		Epsilon:       c.Annealing.Epsilon,
		AnnealingRate: c.Annealing.AnnealingRate,
		MaxIterations: c.Annealing.MaxIterations,
		CheckInterval: c.Annealing.CheckInterval,
		Seed:          c.Annealing.Seed,
	}
}

// VectorOptions returns the feature vector preprocessing of the
// configuration.
func (c *Config) VectorOptions() features.VectorOptions {
	return features.VectorOptions{
		Gauss:      c.Features.Gauss,
		Sort:       c.Features.Sort,
		ShiftToMax: c.Features.ShiftToMax,
		ShiftToMin: c.Features.ShiftToMin,
	}
}

// ModelParams returns the energy weights of the configuration.
func (c *Config) ModelParams() (mrf.Params, error) {
	policy, err := mrf.ParsePolicy(c.Model.Pairwise)
	if err != nil {
		return mrf.Params{}, err
	}
	return mrf.Params{Beta: c.Model.Beta, Gamma: c.Model.Gamma, Policy: policy}, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Fields missing from the file keep their defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
