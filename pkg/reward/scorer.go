package reward

import (
	"fmt"

	"github.com/sgl-project/sampling-agent/pkg/inference"
	"github.com/sgl-project/sampling-agent/pkg/logging"
)

// ScorerConfig selects a reward model. Name picks a built-in scorer; when it
// is empty the Engine block describes a remote reward server.
type ScorerConfig struct {
	Name   string           `mapstructure:"name"`
	Engine inference.Config `mapstructure:"engine"`
}

// Validate rejects unknown built-in names and invalid remote engines.
func (c *ScorerConfig) Validate() error {
	if c.Name != "" {
		if _, ok := builtins[c.Name]; !ok {
			return fmt.Errorf("unknown built-in scorer %q (available: %v)", c.Name, BuiltinNames())
		}
		return nil
	}
	return c.Engine.Validate()
}

// NewScorer resolves cfg to an engine.
func NewScorer(cfg ScorerConfig, logger logging.Interface) (inference.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name != "" {
		engine, _ := Builtin(cfg.Name)
		return engine, nil
	}
	engineCfg := cfg.Engine
	engineCfg.Logger = logger
	return inference.New(&engineCfg)
}
