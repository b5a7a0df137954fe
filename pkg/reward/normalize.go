// Package reward turns raw reward-model outputs into per-batch normalized
// scores and keep-masks.
package reward

import (
	"math"

	"github.com/montanaflynn/stats"
)

// normalizeEpsilon keeps the maximum strictly below 1 and avoids division by
// zero for near-equal scores.
const normalizeEpsilon = 1e-5

// Normalize min-max scales scores to [0,1] within the slice. When every score
// is equal to v the result is constant: 0 for v == 0, otherwise min(1, v).
func Normalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	data := stats.Float64Data(scores)
	lo, _ := stats.Min(data)
	hi, _ := stats.Max(data)

	out := make([]float64, len(scores))
	if lo == hi {
		constant := 0.0
		if lo != 0 {
			constant = math.Min(1.0, lo)
		}
		for i := range out {
			out[i] = constant
		}
		return out
	}

	for i, x := range scores {
		out[i] = (x - lo) / (hi - lo + normalizeEpsilon)
	}
	return out
}

// Mask reports score >= threshold per element. A nil threshold keeps every
// element.
func Mask(scores []float64, threshold *float64) []bool {
	mask := make([]bool, len(scores))
	for i, s := range scores {
		mask[i] = threshold == nil || s >= *threshold
	}
	return mask
}

// CountPositive returns how many scores are strictly greater than zero.
func CountPositive(scores []float64) int {
	n := 0
	for _, s := range scores {
		if s > 0 {
			n++
		}
	}
	return n
}
