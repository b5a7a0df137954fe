package dataset

import "fmt"

// Range is a half-open index interval [Start, End).
type Range struct {
	Start int
	End   int
}

func (r Range) Len() int { return r.End - r.Start }

// ShardRange returns the contiguous slice of n records owned by shard index
// out of count. Every shard gets n/count records and the last one also takes
// the remainder, so the shards cover [0, n) exactly once.
func ShardRange(n, index, count int) (Range, error) {
	if count < 1 {
		return Range{}, fmt.Errorf("shard count must be positive, got %d", count)
	}
	if index < 0 || index >= count {
		return Range{}, fmt.Errorf("shard index %d out of range [0, %d)", index, count)
	}
	size := n / count
	r := Range{Start: index * size, End: (index + 1) * size}
	if index == count-1 {
		r.End = n
	}
	return r, nil
}

// Shard returns the records owned by shard index out of count.
func Shard(records []Record, index, count int) ([]Record, error) {
	r, err := ShardRange(len(records), index, count)
	if err != nil {
		return nil, err
	}
	return records[r.Start:r.End], nil
}

// Batches splits [0, n) into consecutive ranges of at most size elements.
// At most limit ranges are returned; limit <= 0 means no limit.
func Batches(n, size, limit int) []Range {
	if n <= 0 || size <= 0 {
		return nil
	}
	count := (n + size - 1) / size
	if limit > 0 && limit < count {
		count = limit
	}
	out := make([]Range, count)
	for i := range out {
		start := i * size
		out[i] = Range{Start: start, End: min(start+size, n)}
	}
	return out
}
