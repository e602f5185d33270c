package store

import (
	"context"
	"errors"
	"testing"

	"evidence-rag/internal/chromemdb"
	"evidence-rag/internal/config"
	"evidence-rag/internal/embedding"
	"evidence-rag/internal/indexer"
	"evidence-rag/internal/models"
)

func buildSnapshot(t *testing.T, embedder embedding.Embedder, docs []indexer.Document) *models.Snapshot {
	t.Helper()
	cfg := config.Default().RAG
	cfg.ChunkSize = 200
	cfg.ChunkOverlap = 20
	b, err := indexer.NewBuilder(nil, embedder, &cfg)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := b.Build(context.Background(), "/corpus", docs)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func fixtureDocs() []indexer.Document {
	return []indexer.Document{
		{SourcePath: "cardio.pdf", Blocks: []models.Block{
			{Locator: models.Page(1), Text: "hypertension and blood pressure outcomes"},
			{Locator: models.Page(2), Text: "cohort description and enrollment"},
		}},
		{SourcePath: "derm.pdf", Blocks: []models.Block{
			{Locator: models.Page(1), Text: "skin lesions and rash findings"},
		}},
	}
}

func TestSearch_RanksMatchingRecordFirst(t *testing.T) {
	e := embedding.NewHashEmbedder(256)
	s, err := New(buildSnapshot(t, e, fixtureDocs()), e, true)
	if err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(context.Background(), "hypertension", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].SourcePath != "cardio.pdf" || hits[0].Locator != models.Page(1) {
		t.Errorf("unexpected top hit %+v", hits[0].Record)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not in descending score order")
	}
}

func TestSearch_TiesKeepRecordOrder(t *testing.T) {
	e := embedding.NewHashEmbedder(64)
	snap := buildSnapshot(t, e, []indexer.Document{
		{SourcePath: "b.txt", Blocks: []models.Block{{Text: "same words"}}},
		{SourcePath: "a.txt", Blocks: []models.Block{{Text: "same words"}}},
	})
	s, err := New(snap, e, true)
	if err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search(context.Background(), "same words", 2)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].SourcePath != "b.txt" || hits[1].SourcePath != "a.txt" {
		t.Errorf("tie order not stable: %s, %s", hits[0].SourcePath, hits[1].SourcePath)
	}
}

func TestSearch_InvalidK(t *testing.T) {
	e := embedding.NewHashEmbedder(64)
	s, _ := New(buildSnapshot(t, e, fixtureDocs()), e, true)
	if _, err := s.Search(context.Background(), "x", 0); !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSearch_EmptyStoreReturnsEmptySlice(t *testing.T) {
	e := embedding.NewHashEmbedder(64)
	s, err := New(&models.Snapshot{Metadata: models.Metadata{EmbeddingModelID: e.ModelID()}}, e, true)
	if err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if hits == nil || len(hits) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", hits)
	}
}

func TestNew_ModelMismatch(t *testing.T) {
	snap := buildSnapshot(t, embedding.NewHashEmbedder(64), fixtureDocs())
	other := embedding.NewHashEmbedder(128)

	if _, err := New(snap, other, true); !errors.Is(err, models.ErrModelMismatch) {
		t.Errorf("expected ErrModelMismatch, got %v", err)
	}
	if _, err := New(snap, other, false); err != nil {
		t.Errorf("lenient mode should only warn: %v", err)
	}
}

func TestNew_CorruptSnapshot(t *testing.T) {
	e := embedding.NewHashEmbedder(64)
	snap := buildSnapshot(t, e, fixtureDocs())
	snap.Records = snap.Records[:1]
	if _, err := New(snap, e, true); !errors.Is(err, models.ErrSnapshotCorrupt) {
		t.Errorf("expected ErrSnapshotCorrupt, got %v", err)
	}
}

func TestLookup_ExactLocation(t *testing.T) {
	e := embedding.NewHashEmbedder(64)
	cfg := config.Default().RAG
	cfg.ChunkSize = 10
	cfg.ChunkOverlap = 0
	b, _ := indexer.NewBuilder(nil, e, &cfg)
	snap, err := b.Build(context.Background(), "/corpus", []indexer.Document{
		{SourcePath: "report.pdf", Blocks: []models.Block{
			{Locator: models.Page(3), Text: "0123456789abcdefghij"},
			{Locator: models.Page(4), Text: "page four"},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	s, _ := New(snap, e, true)

	got := s.Lookup("report.pdf", models.Page(3))
	if len(got) != 2 || got[0].ChunkIndex != 0 || got[1].ChunkIndex != 1 {
		t.Errorf("unexpected records %+v", got)
	}
	if got := s.Lookup("report.pdf", models.Page(5)); len(got) != 0 {
		t.Errorf("expected no records, got %+v", got)
	}
	if got := s.Lookup("report.pdf", models.Sheet("4")); len(got) != 0 {
		t.Error("sheet locator must not match a page locator")
	}
}

func TestLoad_FromPublishedSnapshot(t *testing.T) {
	e := embedding.NewHashEmbedder(64)
	backend := chromemdb.NewSnapshotManager(t.TempDir(), "evidence", true, "")
	if err := backend.Publish(context.Background(), buildSnapshot(t, e, fixtureDocs())); err != nil {
		t.Fatal(err)
	}

	s, err := Load(context.Background(), backend, e, true)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	hits, err := s.Search(context.Background(), "skin rash", 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].SourcePath != "derm.pdf" {
		t.Errorf("unexpected top hit %+v", hits[0].Record)
	}
}

func TestLoad_MissingSnapshot(t *testing.T) {
	backend := chromemdb.NewSnapshotManager(t.TempDir(), "evidence", false, "")
	_, err := Load(context.Background(), backend, embedding.NewHashEmbedder(8), true)
	if !errors.Is(err, models.ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestHandle_SwapAndClose(t *testing.T) {
	e := embedding.NewHashEmbedder(64)
	first, _ := New(buildSnapshot(t, e, fixtureDocs()), e, true)
	second, _ := New(buildSnapshot(t, e, []indexer.Document{
		{SourcePath: "new.txt", Blocks: []models.Block{{Text: "hypertension update"}}},
	}), e, true)

	h := NewHandle(first)
	if prev := h.Swap(second); prev != first {
		t.Error("swap should return the previous store")
	}
	hits, err := h.Search(context.Background(), "hypertension", 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].SourcePath != "new.txt" {
		t.Errorf("handle still serving old store: %+v", hits[0].Record)
	}

	first.Close()
	if _, err := first.Search(context.Background(), "x", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
