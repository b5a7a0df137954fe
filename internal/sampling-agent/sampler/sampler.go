package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/sgl-project/sampling-agent/pkg/dataset"
	"github.com/sgl-project/sampling-agent/pkg/inference"
	"github.com/sgl-project/sampling-agent/pkg/logging"
	"github.com/sgl-project/sampling-agent/pkg/metrics"
	"github.com/sgl-project/sampling-agent/pkg/reward"
)

// Shard identifies the contiguous slice of the dataset a sampler owns.
type Shard struct {
	Index int
	Count int
}

// Sampler generates candidates for a shard of records, scores them and turns
// the ranking into preference pairs.
type Sampler struct {
	config    *Config
	shard     Shard
	generator inference.Engine
	orm       inference.Engine
	prm       inference.Engine
	metrics   *metrics.Shard
	logger    logging.Interface
}

// Scores holds both reward signals for one record's batch.
type Scores struct {
	Outcome reward.Result
	Process reward.Result
}

// NewSampler binds engines to a shard. The shard is explicit so a sampler
// never derives its slice from process state.
func NewSampler(config *Config, shard Shard, generator, orm, prm inference.Engine, m *metrics.Metrics, logger logging.Interface) *Sampler {
	return &Sampler{
		config:    config,
		shard:     shard,
		generator: generator,
		orm:       orm,
		prm:       prm,
		metrics:   m.ForShard(shard.Index),
		logger:    logging.ForShard(logger, shard.Index),
	}
}

// generationMessages applies the system override and drops a trailing
// assistant turn that has no content yet.
func generationMessages(messages []inference.Message, system string) []inference.Message {
	out := make([]inference.Message, 0, len(messages)+1)
	if system != "" && (len(messages) == 0 || messages[0].Role != inference.RoleSystem) {
		out = append(out, inference.NewMessage(inference.RoleSystem, system))
	}
	for i, m := range messages {
		if i == 0 && system != "" && m.Role == inference.RoleSystem {
			out = append(out, inference.NewMessage(inference.RoleSystem, system))
			continue
		}
		out = append(out, m)
	}
	if n := len(out); n > 0 && out[n-1].Role == inference.RoleAssistant && out[n-1].Content == nil {
		out = out[:n-1]
	}
	return out
}

// Generate asks the engine for NumReturnSequences completions per record in
// a single call. candidates[i][j] is the j-th completion for records[i].
func (s *Sampler) Generate(ctx context.Context, records []dataset.Record) ([][]string, error) {
	n := s.config.NumReturnSequences
	requests := make([]inference.InferRequest, 0, len(records)*n)
	for _, rec := range records {
		msgs := generationMessages(rec.Messages, s.config.System)
		for j := 0; j < n; j++ {
			requests = append(requests, inference.InferRequest{Messages: msgs})
		}
	}

	start := time.Now()
	responses, err := s.generator.Infer(ctx, requests, s.config.Request)
	s.metrics.ObserveInference(metrics.RoleGenerator, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	if len(responses) != len(requests) {
		return nil, fmt.Errorf("%w: got %d completions for %d requests", inference.ErrResponseCount, len(responses), len(requests))
	}

	candidates := make([][]string, len(records))
	for i := range records {
		group := make([]string, n)
		for j := 0; j < n; j++ {
			group[j] = responses[i*n+j].Content()
		}
		candidates[i] = group
	}
	return candidates, nil
}

// Score rates the candidates of one record plus its ground truth, which
// occupies the last slot. It fails with reward.ErrNoPositiveOutcome when the
// outcome scorer rates every slot non-positive.
func (s *Sampler) Score(ctx context.Context, rec dataset.Record, candidates []string) (Scores, error) {
	requests := make([]inference.InferRequest, 0, len(candidates)+1)
	for _, c := range append(append([]string{}, candidates...), rec.GroundTruth) {
		requests = append(requests, inference.InferRequest{
			Messages:    rec.WithResponse(c),
			GroundTruth: rec.GroundTruth,
		})
	}

	start := time.Now()
	outcome, err := reward.Score(ctx, s.orm, requests, nil)
	s.metrics.ObserveInference(metrics.RoleOutcome, time.Since(start))
	if err != nil {
		return Scores{}, fmt.Errorf("outcome reward: %w", err)
	}

	if err := reward.CheckOutcome(outcome.Normalized); err != nil {
		return Scores{}, fmt.Errorf("%w (raw outcome scores %v)", err, outcome.Raw)
	}

	start = time.Now()
	process, err := reward.Score(ctx, s.prm, requests, s.config.PRMThreshold)
	s.metrics.ObserveInference(metrics.RoleProcess, time.Since(start))
	if err != nil {
		return Scores{}, fmt.Errorf("process reward: %w", err)
	}
	return Scores{Outcome: outcome, Process: process}, nil
}

// pairsFor turns one record's scores into preference pairs.
func (s *Sampler) pairsFor(rec dataset.Record, candidates []string, scores Scores) []dataset.PreferencePair {
	texts := append(append([]string{}, candidates...), rec.GroundTruth)
	sel := Select(scores.Outcome.Normalized, scores.Process.Normalized, scores.Process.Mask,
		s.config.NBestToKeep, s.config.OutcomeWeight)

	log := s.logger.WithField("negative", sel.Negative).WithField("positives", sel.Positives)
	log.Debugf("orm: %v, prm: %v", scores.Outcome.Normalized, scores.Process.Normalized)

	if IsEasy(scores.Outcome.Normalized, s.config.NumReturnSequences, s.config.EasyQueryThreshold) {
		log.Debug("Skipping easy query")
		s.metrics.EasySkipped()
		return nil
	}
	if len(sel.Positives) == 0 {
		s.metrics.NoPositiveKept()
		return nil
	}

	var pairs []dataset.PreferencePair
	for _, pos := range sel.Positives {
		if pos == sel.Negative {
			continue
		}
		pairs = append(pairs, dataset.PreferencePair{
			Messages:         rec.WithResponse(texts[pos]),
			RejectedResponse: texts[sel.Negative],
		})
	}
	return pairs
}

// SampleBatch runs generation, scoring and selection for one sub-batch.
// Pairs come back in record order, positives in rank order.
func (s *Sampler) SampleBatch(ctx context.Context, records []dataset.Record) ([]dataset.PreferencePair, error) {
	candidates, err := s.Generate(ctx, records)
	if err != nil {
		return nil, err
	}

	var pairs []dataset.PreferencePair
	for i, rec := range records {
		scores, err := s.Score(ctx, rec, candidates[i])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		recordPairs := s.pairsFor(rec, candidates[i], scores)
		s.metrics.RecordProcessed()
		s.metrics.PairsEmitted(len(recordPairs))
		pairs = append(pairs, recordPairs...)
	}
	return pairs, nil
}
