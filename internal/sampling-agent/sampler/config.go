package sampler

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/sgl-project/sampling-agent/pkg/configutils"
	"github.com/sgl-project/sampling-agent/pkg/inference"
	"github.com/sgl-project/sampling-agent/pkg/logging"
	"github.com/sgl-project/sampling-agent/pkg/objectstore"
	"github.com/sgl-project/sampling-agent/pkg/reward"
)

// ConfigKey is the viper key holding the sampler configuration.
const ConfigKey = "sampler"

// DefaultOutcomeWeight is how much more the outcome reward counts than the
// process reward when ranking candidates.
const DefaultOutcomeWeight = 10.0

type Config struct {
	AnotherLogger logging.Interface `mapstructure:"-"`

	Dataset           string `mapstructure:"dataset" validate:"required"`
	OutputDir         string `mapstructure:"output_dir" validate:"required"`
	FilePrefix        string `mapstructure:"file_prefix" validate:"required"`
	OverrideExistFile bool   `mapstructure:"override_exist_file"`
	UploadURI         string `mapstructure:"upload_uri"`

	System             string   `mapstructure:"system"`
	NumReturnSequences int      `mapstructure:"num_return_sequences" validate:"gte=1"`
	NBestToKeep        int      `mapstructure:"n_best_to_keep" validate:"gte=1"`
	BatchSize          int      `mapstructure:"num_sampling_per_gpu_batch_size" validate:"gte=1"`
	NumBatches         int      `mapstructure:"num_sampling_per_gpu_batches" validate:"gte=0"`
	EasyQueryThreshold *float64 `mapstructure:"easy_query_threshold"`
	PRMThreshold       *float64 `mapstructure:"prm_threshold"`
	OutcomeWeight      float64  `mapstructure:"outcome_weight"`

	NumProcesses   int      `mapstructure:"num_processes" validate:"gte=1"`
	Devices        []string `mapstructure:"devices"`
	MetricsAddress string   `mapstructure:"metrics_address"`

	// Nested sections are checked by their own Validate methods.
	Request     inference.RequestConfig `mapstructure:"request" validate:"-"`
	Engine      inference.Config        `mapstructure:"engine" validate:"-"`
	ORM         reward.ScorerConfig     `mapstructure:"orm" validate:"-"`
	PRM         reward.ScorerConfig     `mapstructure:"prm" validate:"-"`
	ObjectStore objectstore.Config      `mapstructure:"object_store" validate:"-"`
}

type Option func(*Config) error

// Apply applies the given options to the configuration.
func (c *Config) Apply(opts ...Option) error {
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(c); err != nil {
			return err
		}
	}
	return nil
}

// defaultConfig returns a new configuration with default values.
func defaultConfig() *Config {
	return &Config{
		FilePrefix:         "sampling",
		NumReturnSequences: 64,
		NBestToKeep:        5,
		BatchSize:          1,
		OutcomeWeight:      DefaultOutcomeWeight,
		NumProcesses:       1,
		Engine:             inference.DefaultConfig(),
		ORM:                reward.ScorerConfig{Engine: inference.DefaultConfig()},
		PRM:                reward.ScorerConfig{Engine: inference.DefaultConfig()},
	}
}

// NewSamplerConfig builds and returns a new configuration from the given options.
func NewSamplerConfig(opts ...Option) (*Config, error) {
	c := defaultConfig()
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithViper loads the "sampler" section of v over the defaults.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		*c = *defaultConfig()
		root := struct {
			Sampler *Config `mapstructure:"sampler"`
		}{Sampler: c}

		if err := configutils.BindEnvsRecursive(v, &root, ""); err != nil {
			return fmt.Errorf("error occurred when binding environment variables: %+v", err)
		}
		if err := v.Unmarshal(&root); err != nil {
			return fmt.Errorf("error occurred when unmarshalling config: %+v", err)
		}
		return nil
	}
}

// WithAnotherLog sets the logger for the configuration.
func WithAnotherLog(logger logging.Interface) Option {
	return func(c *Config) error {
		c.AnotherLogger = logger
		return nil
	}
}

// WithDevices overrides the configured device list.
func WithDevices(devices []string) Option {
	return func(c *Config) error {
		if len(devices) > 0 {
			c.Devices = devices
		}
		return nil
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	var errs []error
	if err := checkThreshold("easy_query_threshold", c.EasyQueryThreshold); err != nil {
		errs = append(errs, err)
	}
	if err := checkThreshold("prm_threshold", c.PRMThreshold); err != nil {
		errs = append(errs, err)
	}
	if math.IsNaN(c.OutcomeWeight) || math.IsInf(c.OutcomeWeight, 0) || c.OutcomeWeight <= 0 {
		errs = append(errs, fmt.Errorf("outcome_weight must be a positive finite number, got %v", c.OutcomeWeight))
	}
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if err := c.ORM.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("orm: %w", err))
	}
	if err := c.PRM.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("prm: %w", err))
	}
	if err := c.ObjectStore.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("object_store: %w", err))
	}
	if c.UploadURI != "" && !objectstore.IsObjectURI(c.UploadURI) {
		errs = append(errs, fmt.Errorf("upload_uri must be an s3:// URI, got %q", c.UploadURI))
	}
	return errors.Join(errs...)
}

func checkThreshold(name string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return fmt.Errorf("%s must be finite, got %v", name, *v)
	}
	return nil
}

// needsObjectStore reports whether any configured location is remote.
func (c *Config) needsObjectStore() bool {
	return objectstore.IsObjectURI(c.Dataset) || c.UploadURI != ""
}
