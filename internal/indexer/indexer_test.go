package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"evidence-rag/internal/config"
	"evidence-rag/internal/embedding"
	"evidence-rag/internal/models"
	"evidence-rag/internal/parser"
)

func testConfig() *config.RAGConfig {
	cfg := config.Default().RAG
	cfg.ChunkSize = 20
	cfg.ChunkOverlap = 5
	cfg.EmbedBatchSize = 3
	return &cfg
}

func newBuilder(t *testing.T, extractor parser.Extractor) *Builder {
	t.Helper()
	b, err := NewBuilder(extractor, embedding.NewHashEmbedder(32), testConfig())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBuild_RecordsFollowBlocks(t *testing.T) {
	b := newBuilder(t, nil)
	docs := []Document{
		{SourcePath: "report.pdf", Blocks: []models.Block{
			{Locator: models.Page(1), Text: strings.Repeat("a", 35)},
			{Locator: models.Page(2), Text: "short page"},
		}},
		{SourcePath: "data.xlsx", Blocks: []models.Block{
			{Locator: models.Sheet("Totals"), Text: "totals sheet"},
		}},
	}

	snap, err := b.Build(context.Background(), "/corpus", docs)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	want := []models.RecordKey{
		{SourcePath: "report.pdf", Locator: models.Page(1), ChunkIndex: 0},
		{SourcePath: "report.pdf", Locator: models.Page(1), ChunkIndex: 1},
		{SourcePath: "report.pdf", Locator: models.Page(2), ChunkIndex: 0},
		{SourcePath: "data.xlsx", Locator: models.Sheet("Totals"), ChunkIndex: 0},
	}
	if len(snap.Records) != len(want) {
		t.Fatalf("got %d records, want %d", len(snap.Records), len(want))
	}
	for i, r := range snap.Records {
		if r.Key() != want[i] {
			t.Errorf("record %d: got %+v, want %+v", i, r.Key(), want[i])
		}
	}
	if len(snap.Vectors) != len(snap.Records) {
		t.Errorf("%d vectors for %d records", len(snap.Vectors), len(snap.Records))
	}
	m := snap.Metadata
	if m.NumDocuments != 2 || m.NumChunks != 4 || m.Dimension != 32 || m.EmbeddingModelID != "hash-32" {
		t.Errorf("unexpected metadata %+v", m)
	}
	if m.SnapshotVersion == "" || m.CorpusRoot != "/corpus" || m.NumExtractedBlocks != 3 {
		t.Errorf("unexpected metadata %+v", m)
	}
}

func TestBuild_SkipsFailedDocuments(t *testing.T) {
	b := newBuilder(t, nil)
	docs := []Document{
		{SourcePath: "broken.pdf", Err: errors.New("bad xref")},
		{SourcePath: "empty.txt", Blocks: []models.Block{{Text: "   "}}},
		{SourcePath: "ok.txt", Blocks: []models.Block{{Text: "some text"}}},
	}

	snap, err := b.Build(context.Background(), "/corpus", docs)
	if err != nil {
		t.Fatalf("build should survive a failed document: %v", err)
	}
	if len(snap.Records) != 1 || snap.Records[0].SourcePath != "ok.txt" {
		t.Errorf("unexpected records %+v", snap.Records)
	}
	if snap.Metadata.NumFailedDocuments != 1 || snap.Metadata.NumDocumentsWithNoText != 2 {
		t.Errorf("unexpected counters %+v", snap.Metadata)
	}
}

func TestBuild_EmptyCorpusIsFatal(t *testing.T) {
	b := newBuilder(t, nil)
	docs := []Document{
		{SourcePath: "broken.pdf", Err: errors.New("bad xref")},
		{SourcePath: "scan.pdf"},
	}
	_, err := b.Build(context.Background(), "/corpus", docs)
	if !errors.Is(err, models.ErrEmptyCorpus) {
		t.Errorf("expected ErrEmptyCorpus, got %v", err)
	}
}

type failingEmbedder struct{ *embedding.HashEmbedder }

func (failingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

func TestBuild_EmbeddingFailureIsFatal(t *testing.T) {
	b, err := NewBuilder(nil, failingEmbedder{embedding.NewHashEmbedder(8)}, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	_, err = b.Build(context.Background(), "/corpus", []Document{{SourcePath: "a.txt", Blocks: []models.Block{{Text: "x"}}}})
	if err == nil {
		t.Error("expected embedding error")
	}
}

func TestBuildCorpus_FromDirectory(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"a.txt":         "patients with hypertension",
		"nested/b.md":   "# Methods\n\nCohort study",
		"nested/c.csv":  "x,y\n1,2",
		"ignored.image": "binary",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	b := newBuilder(t, parser.NewParser(0))
	snap, err := b.BuildCorpus(context.Background(), root)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if snap.Metadata.NumDocuments != 3 {
		t.Errorf("expected 3 documents, got %d", snap.Metadata.NumDocuments)
	}
	var sources []string
	for _, r := range snap.Records {
		if len(sources) == 0 || sources[len(sources)-1] != r.SourcePath {
			sources = append(sources, r.SourcePath)
		}
	}
	want := []string{"a.txt", "nested/b.md", "nested/c.csv"}
	if strings.Join(sources, ",") != strings.Join(want, ",") {
		t.Errorf("sources in order %v, want %v", sources, want)
	}
}

func TestBuildCorpus_NoDocuments(t *testing.T) {
	b := newBuilder(t, parser.NewParser(0))
	_, err := b.BuildCorpus(context.Background(), t.TempDir())
	if !errors.Is(err, models.ErrEmptyCorpus) {
		t.Errorf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestBuild_SkipsChunksWithoutUsableVector(t *testing.T) {
	b := newBuilder(t, nil)
	snap, err := b.Build(context.Background(), "/corpus", []Document{
		{SourcePath: "rules.txt", Blocks: []models.Block{{Text: "---- .... ----"}}},
		{SourcePath: "notes.txt", Blocks: []models.Block{{Text: "real words"}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Records) != 1 || snap.Records[0].SourcePath != "notes.txt" {
		t.Fatalf("unexpected records %+v", snap.Records)
	}
	if snap.Metadata.NumSkippedChunks != 1 || snap.Metadata.NumChunks != 1 {
		t.Errorf("metadata %+v", snap.Metadata)
	}
	for i, v := range snap.Vectors {
		if !models.UsableVector(v) {
			t.Errorf("vector %d unusable: %v", i, v)
		}
	}
}

func TestBuild_OnlyUnusableVectorsIsEmptyCorpus(t *testing.T) {
	b := newBuilder(t, nil)
	_, err := b.Build(context.Background(), "/corpus", []Document{
		{SourcePath: "rules.txt", Blocks: []models.Block{{Text: "---- ...."}}},
	})
	if !errors.Is(err, models.ErrEmptyCorpus) {
		t.Errorf("expected ErrEmptyCorpus, got %v", err)
	}
}
