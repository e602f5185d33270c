// Package rag implements two-pass evidence retrieval, exact-location lookup
// and question answering over a loaded store.
package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"evidence-rag/internal/config"
	"evidence-rag/internal/evidence"
	"evidence-rag/internal/models"
	"evidence-rag/internal/rag/expansion"
)

// Searcher is the read side of a store.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]models.Hit, error)
	Lookup(source string, locator models.Locator) []models.Record
}

// Answerer generates a completion for a prompt.
type Answerer interface {
	Answer(ctx context.Context, system, prompt string) (string, error)
}

type RAG struct {
	store    Searcher
	expander expansion.Expander
	cfg      *config.RAGConfig
	llm      Answerer
}

// NewRAG wires a retriever. llm may be nil when Ask is not used.
func NewRAG(store Searcher, expander expansion.Expander, cfg *config.RAGConfig, llm Answerer) *RAG {
	return &RAG{store: store, expander: expander, cfg: cfg, llm: llm}
}

func (r *RAG) searchBudget() evidence.Budget {
	return evidence.Budget{MaxTotalChars: r.cfg.MaxTotalChars, MaxPerChunkChars: r.cfg.MaxPerChunkChars}
}

func (r *RAG) pageBudget() evidence.Budget {
	return evidence.Budget{MaxTotalChars: r.cfg.PageMaxTotalChars, MaxPerChunkChars: r.cfg.PageMaxPerChunkChars}
}

// RetrieveHits runs a precision pass with the plain query, then a recall
// pass with the query plus its expansion, and merges the two.
func (r *RAG) RetrieveHits(ctx context.Context, query string, k1, k2 int) ([]models.Hit, error) {
	if k1 <= 0 {
		return nil, models.NewArgumentError("k1", "must be positive")
	}
	if k2 <= 0 {
		return nil, models.NewArgumentError("k2", "must be positive")
	}

	hits1, err := r.store.Search(ctx, query, k1)
	if err != nil {
		return nil, fmt.Errorf("precision pass: %w", err)
	}
	exp := r.expander.Expand(query, hits1)
	hits2, err := r.store.Search(ctx, query+exp, k2)
	if err != nil {
		return nil, fmt.Errorf("recall pass: %w", err)
	}

	merged := Merge(hits1, hits2)
	log.Debug().
		Str("query", query).
		Str("expansion", exp).
		Int("pass1", len(hits1)).
		Int("pass2", len(hits2)).
		Int("merged", len(merged)).
		Msg("Two-pass retrieval")
	return merged, nil
}

// Retrieve returns formatted evidence for query, or NO_HITS.
func (r *RAG) Retrieve(ctx context.Context, query string, k1, k2 int) (string, error) {
	merged, err := r.RetrieveHits(ctx, query, k1, k2)
	if err != nil {
		return "", err
	}
	if len(merged) == 0 {
		return evidence.NoHits, nil
	}
	return evidence.Format(merged, r.searchBudget()), nil
}

// Search is single-pass retrieval.
func (r *RAG) Search(ctx context.Context, query string, k int) (string, error) {
	hits, err := r.store.Search(ctx, query, k)
	if err != nil {
		return "", err
	}
	return evidence.Format(hits, r.searchBudget()), nil
}

// Merge concatenates hits1 and hits2, keeping the first occurrence of each
// record key.
func Merge(hits1, hits2 []models.Hit) []models.Hit {
	merged := make([]models.Hit, 0, len(hits1)+len(hits2))
	seen := make(map[models.RecordKey]bool, len(hits1)+len(hits2))
	for _, pass := range [][]models.Hit{hits1, hits2} {
		for _, h := range pass {
			key := h.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, h)
		}
	}
	return merged
}

// GetExact returns every chunk stored for source at locator, in chunk order,
// formatted with the page budget.
func (r *RAG) GetExact(ctx context.Context, source string, locator models.Locator) (string, error) {
	if source == "" {
		return "", models.NewArgumentError("source", "is required")
	}
	if locator.IsNone() {
		return "", models.NewArgumentError("locator", "is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	records := r.store.Lookup(source, locator)
	if len(records) == 0 {
		return evidence.NoHits, nil
	}
	return evidence.FormatRecords(records, r.pageBudget()), nil
}

const (
	minFollowups = 2
	maxFollowups = 4
	minSources   = 3
	maxSources   = 5
	sourceLimit  = 8
)

type Answer struct {
	Text     string   `json:"answer"`
	Sources  []string `json:"sources"`
	Evidence string   `json:"evidence"`
}

// Ask retrieves evidence for question and has the inference model answer
// from it. Without evidence the model is not called.
func (r *RAG) Ask(ctx context.Context, question string) (*Answer, error) {
	ev, err := r.Retrieve(ctx, question, r.cfg.K1, r.cfg.K2)
	if err != nil {
		return nil, err
	}
	if ev == evidence.NoHits {
		return &Answer{Text: models.NotFoundAnswer, Sources: []string{}, Evidence: ev}, nil
	}
	if r.llm == nil {
		return nil, fmt.Errorf("no inference model configured")
	}

	prompt := BuildPrompt(ev, question)
	text, err := r.llm.Answer(ctx, "", prompt)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	return &Answer{Text: text, Sources: evidence.Sources(ev, sourceLimit), Evidence: ev}, nil
}

func BuildPrompt(ev, question string) string {
	return fmt.Sprintf(models.ResearchPromptTemplate, ev, question, minFollowups, maxFollowups, minSources, maxSources)
}
