package dataset

import (
	"fmt"
	"math/rand"
)

// Subset is a view over selected examples of a Set.
type Subset struct {
	Set     *Set
	Indices []int
}

// Len returns the number of selected examples.
func (s *Subset) Len() int {
	return len(s.Indices)
}

// Example returns the pixels and label of the i-th selected example.
func (s *Subset) Example(i int) ([]byte, int) {
	return s.Set.Example(s.Indices[i])
}

// RandomSplit partitions [0,n) into disjoint random index sets of the given
// sizes. The sizes must sum to n.
func RandomSplit(n int, sizes []int, rng *rand.Rand) ([][]int, error) {
	total := 0
	for _, size := range sizes {
		if size < 0 {
			return nil, fmt.Errorf("split: negative size %d", size)
		}
		total += size
	}
	if total != n {
		return nil, fmt.Errorf("split: sizes sum to %d but dataset has %d examples", total, n)
	}
	perm := rng.Perm(n)
	parts := make([][]int, len(sizes))
	offset := 0
	for i, size := range sizes {
		parts[i] = perm[offset : offset+size : offset+size]
		offset += size
	}
	return parts, nil
}
