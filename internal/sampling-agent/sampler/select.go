package sampler

import (
	"sort"

	"github.com/sgl-project/sampling-agent/pkg/reward"
)

// Selection is the ranking outcome for one record's candidates. Indices point
// into the scored batch, where the last slot is the ground truth.
type Selection struct {
	Combined  []float64
	Order     []int
	Negative  int
	Positives []int
}

// Rank combines normalized scores as prm + weight*orm and returns the indices
// sorted by combined score, highest first. Equal scores keep index order.
func Rank(orm, prm []float64, weight float64) ([]float64, []int) {
	combined := make([]float64, len(orm))
	order := make([]int, len(orm))
	for i := range orm {
		combined[i] = prm[i] + weight*orm[i]
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return combined[order[a]] > combined[order[b]]
	})
	return combined, order
}

// Select picks the lowest-ranked element as the negative and the top nBest
// elements that pass mask as positives. Positives removed by the mask are not
// replaced by lower-ranked elements.
func Select(orm, prm []float64, mask []bool, nBest int, weight float64) Selection {
	combined, order := Rank(orm, prm, weight)
	sel := Selection{Combined: combined, Order: order, Negative: -1}
	if len(order) == 0 {
		return sel
	}
	sel.Negative = order[len(order)-1]

	top := order[:min(nBest, len(order))]
	for _, idx := range top {
		if mask[idx] {
			sel.Positives = append(sel.Positives, idx)
		}
	}
	return sel
}

// IsEasy reports whether enough generated candidates already earn a positive
// outcome reward that the record is not worth training on. The ground-truth
// slot is excluded from the count. A nil threshold never skips.
func IsEasy(orm []float64, numReturnSequences int, threshold *float64) bool {
	if threshold == nil {
		return false
	}
	positives := reward.CountPositive(orm) - 1
	return positives >= int(float64(numReturnSequences)*(*threshold))
}
