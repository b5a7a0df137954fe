package sampler

import (
	"context"
	"sync"

	"github.com/sgl-project/sampling-agent/pkg/dataset"
	"github.com/sgl-project/sampling-agent/pkg/inference"
)

// funcEngine answers request i of each call with reply(i, request) and
// records calls.
type funcEngine struct {
	mu    sync.Mutex
	calls [][]inference.InferRequest
	reply func(i int, req inference.InferRequest) string
}

func (e *funcEngine) Infer(_ context.Context, requests []inference.InferRequest, _ inference.RequestConfig) ([]inference.ChatResponse, error) {
	e.mu.Lock()
	e.calls = append(e.calls, requests)
	e.mu.Unlock()

	out := make([]inference.ChatResponse, len(requests))
	for i, req := range requests {
		out[i] = inference.ChatResponse{Choices: []inference.Choice{{
			Message: inference.NewMessage(inference.RoleAssistant, e.reply(i, req)),
		}}}
	}
	return out, nil
}

func (e *funcEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// indexedEngine answers request i of every call with replies[i%len(replies)].
func indexedEngine(replies ...string) *funcEngine {
	return &funcEngine{reply: func(i int, _ inference.InferRequest) string {
		return replies[i%len(replies)]
	}}
}

// lastTurnScores scores a request by looking up its final message.
func lastTurnScores(scores map[string]string) *funcEngine {
	return &funcEngine{reply: func(_ int, req inference.InferRequest) string {
		return scores[req.Messages[len(req.Messages)-1].Text()]
	}}
}

func floatPtr(f float64) *float64 { return &f }

func userRecord(prompt, groundTruth string) dataset.Record {
	return dataset.Record{
		Messages:    []inference.Message{inference.NewMessage(inference.RoleUser, prompt)},
		GroundTruth: groundTruth,
	}
}

func testConfig() *Config {
	c := defaultConfig()
	c.Dataset = "/data/train.jsonl"
	c.OutputDir = "/out"
	c.FilePrefix = "run"
	c.NumReturnSequences = 2
	c.NBestToKeep = 1
	c.BatchSize = 1
	c.Devices = []string{"0"}
	return c
}
