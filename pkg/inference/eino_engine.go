package inference

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"
)

// EinoEngine runs requests through an eino chat model. It suits endpoints
// eino already knows how to authenticate against.
type EinoEngine struct {
	chatModel      model.BaseChatModel
	maxConcurrency int
}

func newEinoEngine(cfg *Config) (Engine, error) {
	chatModel, err := openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model: %w", err)
	}
	return NewEinoEngine(chatModel, cfg.MaxConcurrency), nil
}

// NewEinoEngine wraps an existing chat model.
func NewEinoEngine(chatModel model.BaseChatModel, maxConcurrency int) *EinoEngine {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &EinoEngine{chatModel: chatModel, maxConcurrency: maxConcurrency}
}

func (e *EinoEngine) Infer(ctx context.Context, requests []InferRequest, config RequestConfig) ([]ChatResponse, error) {
	opts := einoOptions(config)
	responses := make([]ChatResponse, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)
	for i := range requests {
		g.Go(func() error {
			out, err := e.chatModel.Generate(gctx, toSchemaMessages(requests[i].Messages), opts...)
			if err != nil {
				return &RequestError{Index: i, Err: err}
			}
			content := out.Content
			responses[i] = ChatResponse{
				Choices: []Choice{{Message: Message{Role: RoleAssistant, Content: &content}}},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// einoOptions maps RequestConfig onto eino call options. eino has no top_k
// option, so TopK is not forwarded.
func einoOptions(config RequestConfig) []model.Option {
	var opts []model.Option
	if config.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*config.MaxTokens))
	}
	if config.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*config.Temperature)))
	}
	if config.TopP != nil {
		opts = append(opts, model.WithTopP(float32(*config.TopP)))
	}
	return opts
}

func toSchemaMessages(messages []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, &schema.Message{
			Role:    schema.RoleType(m.Role),
			Content: m.Text(),
		})
	}
	return out
}
