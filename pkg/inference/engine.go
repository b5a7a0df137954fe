package inference

import (
	"context"
	"fmt"
	"sort"

	"github.com/sgl-project/sampling-agent/pkg/logging"
)

// Engine answers a batch of chat requests. The returned slice has the same
// length as requests and index i answers requests[i].
type Engine interface {
	Infer(ctx context.Context, requests []InferRequest, config RequestConfig) ([]ChatResponse, error)
}

type EngineType string

const (
	EngineOpenAI   EngineType = "openai"
	EngineVLLM     EngineType = "vllm"
	EngineSGLang   EngineType = "sglang"
	EngineLMDeploy EngineType = "lmdeploy"
	EngineEino     EngineType = "eino"
)

// Factory builds an engine from a validated Config.
type Factory func(cfg *Config) (Engine, error)

var factories = map[EngineType]Factory{
	EngineOpenAI:   httpEngineFactory(false),
	EngineVLLM:     httpEngineFactory(true),
	EngineSGLang:   httpEngineFactory(true),
	EngineLMDeploy: httpEngineFactory(true),
	EngineEino:     newEinoEngine,
}

// SupportedTypes lists the engine types New accepts, sorted.
func SupportedTypes() []EngineType {
	types := make([]EngineType, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// New validates cfg and builds the engine registered for cfg.Type.
func New(cfg *Config) (Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("inference config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inference config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return factories[cfg.Type](cfg)
}
