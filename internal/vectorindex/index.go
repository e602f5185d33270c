// Package vectorindex implements a flat inner-product index over normalized
// vectors. Position i in the index is the record index i.
package vectorindex

import (
	"fmt"
	"math"
	"sort"
)

// Index is read-only after Build and safe for concurrent searches.
type Index struct {
	dim     int
	vectors [][]float32
}

// Neighbor is a search result: the position of the vector and its score.
type Neighbor struct {
	Index int
	Score float32
}

// Build validates that all vectors share one dimension.
func Build(vectors [][]float32) (*Index, error) {
	if len(vectors) == 0 {
		return &Index{}, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("vectorindex: zero-dimension vector at 0")
	}
	for j := range vectors {
		if len(vectors[j]) != dim {
			return nil, fmt.Errorf("vectorindex: inconsistent vector dims %d vs %d at %d", len(vectors[j]), dim, j)
		}
	}
	return &Index{dim: dim, vectors: append([][]float32(nil), vectors...)}, nil
}

func (i *Index) Len() int { return len(i.vectors) }

// Search returns up to k neighbors by descending inner product; equal scores
// are ordered by ascending position.
func (i *Index) Search(query []float32, k int) ([]Neighbor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("vectorindex: k must be positive, got %d", k)
	}
	if len(i.vectors) == 0 {
		return []Neighbor{}, nil
	}
	if len(query) != i.dim {
		return nil, fmt.Errorf("vectorindex: query dim %d != index dim %d", len(query), i.dim)
	}

	scored := make([]Neighbor, 0, len(i.vectors))
	for j, v := range i.vectors {
		s := dot(query, v)
		if math.IsNaN(float64(s)) {
			continue
		}
		scored = append(scored, Neighbor{Index: j, Score: s})
	}
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].Score != scored[b].Score {
			return scored[a].Score > scored[b].Score
		}
		return scored[a].Index < scored[b].Index
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
