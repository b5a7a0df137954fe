package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UnknownEngineType(t *testing.T) {
	cfg, err := NewConfig(WithType("tgi"), WithBaseURL("http://localhost:8000"))
	require.NoError(t, err)

	_, err = New(cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownEngineType))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr string
	}{
		{name: "vllm with base url", opts: []Option{WithType(EngineVLLM), WithBaseURL("http://localhost:8000/v1")}},
		{name: "openai without base url", opts: []Option{WithType(EngineOpenAI)}},
		{name: "missing type", opts: []Option{WithBaseURL("http://localhost")}, wantErr: "Type"},
		{name: "sglang without base url", opts: []Option{WithType(EngineSGLang)}, wantErr: "base_url is required"},
		{name: "malformed base url", opts: []Option{WithType(EngineVLLM), WithBaseURL("localhost:8000")}, wantErr: "invalid base_url"},
		{name: "zero concurrency", opts: []Option{WithType(EngineVLLM), WithBaseURL("http://h"), WithMaxConcurrency(0)}, wantErr: "MaxConcurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewConfig(tt.opts...)
			require.NoError(t, err)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSupportedTypes(t *testing.T) {
	assert.Equal(t, []EngineType{EngineEino, EngineLMDeploy, EngineOpenAI, EngineSGLang, EngineVLLM}, SupportedTypes())
}

type echoChatModel struct{}

func (echoChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("echo: "+input[len(input)-1].Content, nil), nil
}

func (echoChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestEinoEngine_Infer(t *testing.T) {
	engine := NewEinoEngine(echoChatModel{}, 2)
	responses, err := engine.Infer(context.Background(), []InferRequest{
		userRequest("a"), userRequest("b"), userRequest("c"),
	}, RequestConfig{})
	require.NoError(t, err)
	require.Len(t, responses, 3)
	assert.Equal(t, "echo: a", responses[0].Content())
	assert.Equal(t, "echo: b", responses[1].Content())
	assert.Equal(t, "echo: c", responses[2].Content())
}

func TestEinoOptions(t *testing.T) {
	maxTokens, topK := 64, 5
	temperature := 0.3
	opts := einoOptions(RequestConfig{MaxTokens: &maxTokens, Temperature: &temperature, TopK: &topK})
	assert.Len(t, opts, 2)

	common := model.GetCommonOptions(nil, opts...)
	require.NotNil(t, common.MaxTokens)
	assert.Equal(t, 64, *common.MaxTokens)
	require.NotNil(t, common.Temperature)
	assert.InDelta(t, 0.3, float64(*common.Temperature), 1e-6)
}
