package models

import (
	"fmt"
	"math"
)

// Snapshot is the immutable triple persisted by a build: records, their
// vectors in the same order, and metadata.
type Snapshot struct {
	Metadata Metadata
	Records  []Record
	Vectors  [][]float32
}

// Validate checks the count and dimension invariants between the artifacts.
func (s *Snapshot) Validate() error {
	if len(s.Records) != len(s.Vectors) {
		return fmt.Errorf("%w: %d records but %d vectors", ErrSnapshotCorrupt, len(s.Records), len(s.Vectors))
	}
	if s.Metadata.NumChunks != len(s.Records) {
		return fmt.Errorf("%w: metadata counts %d chunks but %d records", ErrSnapshotCorrupt, s.Metadata.NumChunks, len(s.Records))
	}
	for i, v := range s.Vectors {
		if len(v) != s.Metadata.Dimension {
			return fmt.Errorf("%w: vector %d has dimension %d, metadata says %d", ErrSnapshotCorrupt, i, len(v), s.Metadata.Dimension)
		}
		if !UsableVector(v) {
			return fmt.Errorf("%w: vector %d is zero or not finite", ErrSnapshotCorrupt, i)
		}
	}
	return nil
}

// UsableVector reports whether v is finite and has a non-zero norm. Other
// vectors cannot be normalized and never score in a search.
func UsableVector(v []float32) bool {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		sum += f * f
	}
	return sum > 0
}
