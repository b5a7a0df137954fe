package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/sgl-project/sampling-agent/pkg/logging"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	chatCompletionsPath  = "/chat/completions"
	maxErrorBodyBytes    = 4096
)

// HTTPEngine speaks the OpenAI chat completions protocol. vLLM, SGLang and
// lmdeploy servers accept the same body plus top_k.
type HTTPEngine struct {
	endpoint       string
	apiKey         string
	model          string
	sendTopK       bool
	maxConcurrency int
	maxRetries     uint64
	initialBackoff time.Duration
	client         *http.Client
	logger         logging.Interface
}

type chatCompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	N           int       `json:"n"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	TopK        *int      `json:"top_k,omitempty"`
	GroundTruth string    `json:"ground_truth,omitempty"`
}

func httpEngineFactory(sendTopK bool) Factory {
	return func(cfg *Config) (Engine, error) {
		return NewHTTPEngine(cfg, sendTopK), nil
	}
}

// NewHTTPEngine builds an engine for cfg. sendTopK controls whether top_k is
// forwarded; the OpenAI API rejects it.
func NewHTTPEngine(cfg *Config, sendTopK bool) *HTTPEngine {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = newHTTPClient(cfg.Timeout)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	concurrency := cfg.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &HTTPEngine{
		endpoint:       strings.TrimRight(baseURL, "/") + chatCompletionsPath,
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		sendTopK:       sendTopK,
		maxConcurrency: concurrency,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		client:         client,
		logger:         logger.WithField("endpoint", baseURL),
	}
}

// Infer sends one HTTP request per InferRequest, at most maxConcurrency at a
// time. The first failure cancels the outstanding requests.
func (e *HTTPEngine) Infer(ctx context.Context, requests []InferRequest, config RequestConfig) ([]ChatResponse, error) {
	responses := make([]ChatResponse, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxConcurrency)
	for i := range requests {
		g.Go(func() error {
			resp, err := e.inferOne(gctx, requests[i], config)
			if err != nil {
				return &RequestError{Index: i, Err: err}
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

func (e *HTTPEngine) inferOne(ctx context.Context, req InferRequest, config RequestConfig) (ChatResponse, error) {
	body := chatCompletionRequest{
		Model:       e.model,
		Messages:    req.Messages,
		N:           1,
		MaxTokens:   config.MaxTokens,
		Temperature: config.Temperature,
		TopP:        config.TopP,
		GroundTruth: req.GroundTruth,
	}
	if e.sendTopK {
		body.TopK = config.TopK
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to encode chat request: %w", err)
	}

	var result ChatResponse
	operation := func() error {
		resp, err := e.post(ctx, payload)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && !httpErr.Retryable() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		result = resp
		return nil
	}

	notify := func(err error, wait time.Duration) {
		e.logger.WithError(err).Warnf("Chat completion failed, retrying in %s", wait)
	}

	if err := backoff.RetryNotify(operation, e.newBackOff(ctx), notify); err != nil {
		return ChatResponse{}, err
	}
	return result, nil
}

func (e *HTTPEngine) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if e.initialBackoff > 0 {
		b.InitialInterval = e.initialBackoff
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, e.maxRetries), ctx)
}

func (e *HTTPEngine) post(ctx context.Context, payload []byte) (ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return ChatResponse{}, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        e.endpoint,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ChatResponse{}, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return ChatResponse{}, backoff.Permanent(errors.New("chat response has no choices"))
	}
	return out, nil
}
