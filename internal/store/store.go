// Package store serves similarity search and exact lookups over one loaded
// snapshot. A Store is immutable and safe for concurrent use.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"evidence-rag/internal/embedding"
	"evidence-rag/internal/models"
	"evidence-rag/internal/snapshot"
	"evidence-rag/internal/vectorindex"
)

var ErrClosed = errors.New("store is closed")

type location struct {
	source  string
	locator models.Locator
}

type Store struct {
	index    *vectorindex.Index
	records  []models.Record
	embedder embedding.Embedder
	byPlace  map[location][]int
	closed   atomic.Bool
}

// New wraps a snapshot. The embedder must produce vectors for the model the
// snapshot was built with; with strictModel a mismatch is an error, otherwise
// it is logged.
func New(snap *models.Snapshot, embedder embedding.Embedder, strictModel bool) (*Store, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if got, want := embedder.ModelID(), snap.Metadata.EmbeddingModelID; got != want {
		if strictModel {
			return nil, fmt.Errorf("%w: snapshot built with %q, embedder is %q", models.ErrModelMismatch, want, got)
		}
		log.Warn().Str("snapshot_model", want).Str("embedder_model", got).Msg("Embedding model mismatch")
	}

	index, err := vectorindex.Build(snap.Vectors)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSnapshotCorrupt, err)
	}

	byPlace := make(map[location][]int)
	for i, r := range snap.Records {
		key := location{source: r.SourcePath, locator: r.Locator}
		byPlace[key] = append(byPlace[key], i)
	}
	for _, positions := range byPlace {
		sort.SliceStable(positions, func(a, b int) bool {
			return snap.Records[positions[a]].ChunkIndex < snap.Records[positions[b]].ChunkIndex
		})
	}

	return &Store{
		index:    index,
		records:  snap.Records,
		embedder: embedder,
		byPlace:  byPlace,
	}, nil
}

// Load reads the published snapshot from backend and wraps it.
func Load(ctx context.Context, backend snapshot.Backend, embedder embedding.Embedder, strictModel bool) (*Store, error) {
	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	s, err := New(snap, embedder, strictModel)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("version", snap.Metadata.SnapshotVersion).
		Int("records", len(snap.Records)).
		Str("model", snap.Metadata.EmbeddingModelID).
		Msg("Loaded snapshot")
	return s, nil
}

// Search embeds query and returns up to k hits by descending similarity.
// Equal scores keep record order.
func (s *Store) Search(ctx context.Context, query string, k int) ([]models.Hit, error) {
	if k <= 0 {
		return nil, models.NewArgumentError("k", "must be positive")
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.index.Len() == 0 {
		return []models.Hit{}, nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	neighbors, err := s.index.Search(vec, k)
	if err != nil {
		return nil, err
	}

	hits := make([]models.Hit, len(neighbors))
	for i, n := range neighbors {
		hits[i] = models.Hit{Record: s.records[n.Index], Score: n.Score}
	}
	return hits, nil
}

// Lookup returns every record of source at locator, by ascending chunk index.
func (s *Store) Lookup(source string, locator models.Locator) []models.Record {
	positions := s.byPlace[location{source: source, locator: locator}]
	out := make([]models.Record, len(positions))
	for i, p := range positions {
		out[i] = s.records[p]
	}
	return out
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// Handle points at the active Store and lets a rebuild swap it in one step.
type Handle struct {
	current atomic.Pointer[Store]
}

func NewHandle(s *Store) *Handle {
	h := &Handle{}
	h.current.Store(s)
	return h
}

func (h *Handle) Current() *Store { return h.current.Load() }

// Swap installs s and returns the previous store, which is not closed.
func (h *Handle) Swap(s *Store) *Store { return h.current.Swap(s) }

func (h *Handle) Search(ctx context.Context, query string, k int) ([]models.Hit, error) {
	return h.Current().Search(ctx, query, k)
}

func (h *Handle) Lookup(source string, locator models.Locator) []models.Record {
	return h.Current().Lookup(source, locator)
}
