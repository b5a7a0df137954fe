package inference

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sgl-project/sampling-agent/pkg/logging"
)

const (
	DefaultTimeout        = 10 * time.Minute
	DefaultMaxConcurrency = 16
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 500 * time.Millisecond
)

// Config describes one engine endpoint. The same shape is used for the
// generator and for remote reward scorers.
type Config struct {
	Type           EngineType    `mapstructure:"type" validate:"required"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gte=0"`
	MaxConcurrency int           `mapstructure:"max_concurrency" validate:"gte=1"`
	MaxRetries     uint64        `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"gte=0"`

	Logger     logging.Interface `mapstructure:"-"`
	HTTPClient *http.Client      `mapstructure:"-"`
}

type Option func(*Config) error

// DefaultConfig returns a Config with every tunable set; Type and BaseURL
// still need to be provided.
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		MaxConcurrency: DefaultMaxConcurrency,
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
	}
}

func NewConfig(opts ...Option) (*Config, error) {
	c := DefaultConfig()
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Apply(opts ...Option) error {
	for _, o := range opts {
		if err := o(c); err != nil {
			return err
		}
	}
	return nil
}

func WithType(t EngineType) Option {
	return func(c *Config) error {
		c.Type = t
		return nil
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *Config) error {
		c.BaseURL = baseURL
		return nil
	}
}

func WithModel(model string) Option {
	return func(c *Config) error {
		c.Model = model
		return nil
	}
}

func WithAPIKey(key string) Option {
	return func(c *Config) error {
		c.APIKey = key
		return nil
	}
}

func WithMaxRetries(n uint64) Option {
	return func(c *Config) error {
		c.MaxRetries = n
		return nil
	}
}

func WithInitialBackoff(d time.Duration) Option {
	return func(c *Config) error {
		c.InitialBackoff = d
		return nil
	}
}

func WithMaxConcurrency(n int) Option {
	return func(c *Config) error {
		c.MaxConcurrency = n
		return nil
	}
}

func WithLogger(l logging.Interface) Option {
	return func(c *Config) error {
		if l == nil {
			return errors.New("nil logger")
		}
		c.Logger = l
		return nil
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) error {
		c.HTTPClient = client
		return nil
	}
}

// Validate checks the config without contacting the engine. An unknown Type
// is reported here so misconfiguration aborts startup.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, ok := factories[c.Type]; !ok {
		return fmt.Errorf("%w %q (supported: %v)", ErrUnknownEngineType, c.Type, SupportedTypes())
	}
	if c.BaseURL == "" {
		if c.Type != EngineOpenAI && c.Type != EngineEino {
			return fmt.Errorf("base_url is required for %s engines", c.Type)
		}
		return nil
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	return nil
}
