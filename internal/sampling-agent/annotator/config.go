package annotator

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/sgl-project/sampling-agent/pkg/configutils"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

// ConfigKey is the viper key holding the annotator configuration.
const ConfigKey = "loss_scale"

type Config struct {
	AnotherLogger logging.Interface `mapstructure:"-"`

	Input  string `mapstructure:"input" validate:"required"`
	Output string `mapstructure:"output"`
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

func NewAnnotatorConfig(opts ...Option) (*Config, error) {
	c := &Config{}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithViper reads the loss_scale section.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		root := struct {
			LossScale *Config `mapstructure:"loss_scale"`
		}{LossScale: c}

		if err := configutils.BindEnvsRecursive(v, &root, ""); err != nil {
			return fmt.Errorf("error occurred when binding environment variables: %+v", err)
		}
		if err := v.Unmarshal(&root); err != nil {
			return fmt.Errorf("error occurred when unmarshalling config: %+v", err)
		}
		return nil
	}
}

func WithAnotherLog(logger logging.Interface) Option {
	return func(c *Config) error {
		c.AnotherLogger = logger
		return nil
	}
}

// Validate checks the input is set and the output, when set, differs from it.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Output == c.Input {
		return errors.New("loss_scale.output must differ from loss_scale.input")
	}
	return nil
}

// OutputPath is the configured output, defaulting to the input path with a
// "_loss_scale" suffix before the extension.
func (c *Config) OutputPath() string {
	if c.Output != "" {
		return c.Output
	}
	return defaultOutput(c.Input)
}
