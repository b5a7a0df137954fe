package reward

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sgl-project/sampling-agent/pkg/inference"
)

// ErrNoPositiveOutcome means the outcome scorer rated every candidate,
// including the ground truth, as non-positive. The scorer is assumed broken.
var ErrNoPositiveOutcome = errors.New("no candidate received a positive outcome reward")

// Result holds one scorer's view of a batch.
type Result struct {
	Raw        []float64
	Normalized []float64
	Mask       []bool
}

// Score asks engine to rate every request and normalizes the answers within
// the batch. The mask is computed on the raw scores.
func Score(ctx context.Context, engine inference.Engine, requests []inference.InferRequest, threshold *float64) (Result, error) {
	responses, err := engine.Infer(ctx, requests, inference.RequestConfig{})
	if err != nil {
		return Result{}, fmt.Errorf("scoring request failed: %w", err)
	}
	if len(responses) != len(requests) {
		return Result{}, fmt.Errorf("%w: got %d scores for %d requests", inference.ErrResponseCount, len(responses), len(requests))
	}

	raw, err := ParseScores(responses)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Raw:        raw,
		Normalized: Normalize(raw),
		Mask:       Mask(raw, threshold),
	}, nil
}

// ParseScores reads choices[0].message.content of each response as a float.
func ParseScores(responses []inference.ChatResponse) ([]float64, error) {
	scores := make([]float64, len(responses))
	for i, resp := range responses {
		content := strings.TrimSpace(resp.Content())
		v, err := strconv.ParseFloat(content, 64)
		if err != nil {
			return nil, fmt.Errorf("score %d: cannot parse %q as a number: %w", i, content, err)
		}
		scores[i] = v
	}
	return scores, nil
}

// CheckOutcome returns ErrNoPositiveOutcome when no normalized outcome score
// is positive.
func CheckOutcome(normalized []float64) error {
	if CountPositive(normalized) == 0 {
		return ErrNoPositiveOutcome
	}
	return nil
}
