package sampler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/sampling-agent/pkg/dataset"
	"github.com/sgl-project/sampling-agent/pkg/inference"
	"github.com/sgl-project/sampling-agent/pkg/metrics"
	"github.com/sgl-project/sampling-agent/pkg/reward"
	testingPkg "github.com/sgl-project/sampling-agent/pkg/testing"
)

func newTestSampler(cfg *Config, generator, orm, prm inference.Engine) *Sampler {
	return NewSampler(cfg, Shard{Index: 0, Count: 1}, generator, orm, prm, nil, testingPkg.SetupMockLogger())
}

func TestGenerationMessages(t *testing.T) {
	user := inference.NewMessage(inference.RoleUser, "hi")
	sys := inference.NewMessage(inference.RoleSystem, "old")
	target := inference.Message{Role: inference.RoleAssistant}
	answered := inference.NewMessage(inference.RoleAssistant, "ref")

	tests := []struct {
		name     string
		messages []inference.Message
		system   string
		expect   []inference.Message
	}{
		{name: "unchanged", messages: []inference.Message{user}, expect: []inference.Message{user}},
		{name: "system inserted", messages: []inference.Message{user}, system: "new",
			expect: []inference.Message{inference.NewMessage(inference.RoleSystem, "new"), user}},
		{name: "system overridden", messages: []inference.Message{sys, user}, system: "new",
			expect: []inference.Message{inference.NewMessage(inference.RoleSystem, "new"), user}},
		{name: "null target stripped", messages: []inference.Message{sys, user, target},
			expect: []inference.Message{sys, user}},
		{name: "answered assistant kept", messages: []inference.Message{user, answered},
			expect: []inference.Message{user, answered}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generationMessages(tt.messages, tt.system)
			if diff := cmp.Diff(tt.expect, got); diff != "" {
				t.Errorf("generationMessages() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerate_SingleCallPreservesOrder(t *testing.T) {
	cfg := testConfig()
	cfg.NumReturnSequences = 3
	cfg.System = "be brief"

	generator := &funcEngine{reply: func(i int, req inference.InferRequest) string {
		return fmt.Sprintf("%s#%d", req.Messages[len(req.Messages)-1].Text(), i)
	}}
	s := newTestSampler(cfg, generator, nil, nil)

	records := []dataset.Record{userRecord("a", "x"), userRecord("b", "y")}
	candidates, err := s.Generate(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 1, generator.callCount())
	require.Len(t, generator.calls[0], 6)
	assert.Equal(t, "be brief", generator.calls[0][0].Messages[0].Text())
	assert.Equal(t, [][]string{{"a#0", "a#1", "a#2"}, {"b#3", "b#4", "b#5"}}, candidates)
}

func TestScore_GroundTruthIsLastSlot(t *testing.T) {
	cfg := testConfig()
	orm := lastTurnScores(map[string]string{"4": "1", "5": "0"})
	prm := lastTurnScores(map[string]string{"4": "0.8", "5": "0.2"})
	s := newTestSampler(cfg, nil, orm, prm)

	scores, err := s.Score(context.Background(), userRecord("2+2?", "4"), []string{"5", "5"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 1}, scores.Outcome.Raw)
	assert.Equal(t, []float64{0.2, 0.2, 0.8}, scores.Process.Raw)

	require.Len(t, orm.calls[0], 3)
	last := orm.calls[0][2]
	assert.Equal(t, "4", last.GroundTruth)
	assert.Equal(t, inference.RoleAssistant, last.Messages[len(last.Messages)-1].Role)
}

func TestScore_NoPositiveOutcomeIsFatal(t *testing.T) {
	cfg := testConfig()
	orm := lastTurnScores(map[string]string{"4": "0", "5": "0"})
	prm := lastTurnScores(map[string]string{"4": "1", "5": "1"})
	s := newTestSampler(cfg, nil, orm, prm)

	_, err := s.Score(context.Background(), userRecord("2+2?", "4"), []string{"5", "4"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, reward.ErrNoPositiveOutcome))
	assert.Equal(t, 1, orm.callCount())
	assert.Zero(t, prm.callCount(), "the process reward model is not consulted once the outcome check fails")
}

// The worked example: candidates ["4","5"], ground truth "4", outcome
// rewards [1,0,1], process rewards [0.8,0.2,1.0], threshold 0.5.
func TestSampleBatch_WorkedExample(t *testing.T) {
	cfg := testConfig()
	cfg.PRMThreshold = floatPtr(0.5)

	generator := indexedEngine("4", "5")
	orm := indexedEngine("1", "0", "1")
	prm := indexedEngine("0.8", "0.2", "1.0")
	s := newTestSampler(cfg, generator, orm, prm)

	pairs, err := s.SampleBatch(context.Background(), []dataset.Record{userRecord("2+2?", "4")})
	require.NoError(t, err)
	require.Len(t, pairs, 1)

	want := dataset.PreferencePair{
		Messages: []inference.Message{
			inference.NewMessage(inference.RoleUser, "2+2?"),
			inference.NewMessage(inference.RoleAssistant, "4"),
		},
		RejectedResponse: "5",
	}
	if diff := cmp.Diff(want, pairs[0]); diff != "" {
		t.Errorf("pair mismatch (-want +got):\n%s", diff)
	}
}

func TestSampleBatch_EasyQuerySkipped(t *testing.T) {
	cfg := testConfig()
	cfg.NumReturnSequences = 4
	cfg.EasyQueryThreshold = floatPtr(0.5)

	generator := indexedEngine("a", "b", "c", "d")
	orm := indexedEngine("1", "1", "1", "0", "1")
	prm := indexedEngine("0.5", "0.5", "0.5", "0.5", "0.5")
	s := newTestSampler(cfg, generator, orm, prm)

	pairs, err := s.SampleBatch(context.Background(), []dataset.Record{userRecord("q", "a")})
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestSampleBatch_MultiplePositives(t *testing.T) {
	cfg := testConfig()
	cfg.NumReturnSequences = 3
	cfg.NBestToKeep = 2

	generator := indexedEngine("good", "bad", "ok")
	orm := indexedEngine("1", "0", "1", "1")
	prm := indexedEngine("0.9", "0.1", "0.3", "0.5")
	s := NewSampler(cfg, Shard{Index: 2, Count: 3}, generator, orm, prm, metrics.NewMetrics(prometheus.NewRegistry()), testingPkg.SetupMockLogger())

	pairs, err := s.SampleBatch(context.Background(), []dataset.Record{userRecord("q", "gt")})
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "good", pairs[0].Chosen())
	assert.Equal(t, "gt", pairs[1].Chosen())
	for _, p := range pairs {
		assert.Equal(t, "bad", p.RejectedResponse)
	}
}
