package chromemdb

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"evidence-rag/internal/config"
	"evidence-rag/internal/embedding"
	"evidence-rag/internal/indexer"
	"evidence-rag/internal/models"
)

func testSnapshot(version string) *models.Snapshot {
	return &models.Snapshot{
		Metadata: models.Metadata{
			EmbeddingModelID: "hash-2",
			CorpusRoot:       "/corpus",
			NumDocuments:     2,
			NumChunks:        3,
			Dimension:        2,
			SnapshotVersion:  version,
		},
		Records: []models.Record{
			{SourcePath: "a.pdf", Locator: models.Page(1), ChunkIndex: 0, Text: "first page"},
			{SourcePath: "a.pdf", Locator: models.Page(1), ChunkIndex: 1, Text: "first page, more"},
			{SourcePath: "b.xlsx", Locator: models.Sheet("Totals"), ChunkIndex: 0, Text: "sheet body"},
		},
		Vectors: [][]float32{{1, 0}, {0, 1}, {0.6, 0.8}},
	}
}

func TestPublishAndLoad(t *testing.T) {
	cases := []struct {
		name     string
		compress bool
		key      string
	}{
		{"plain", false, ""},
		{"compressed", true, ""},
		{"encrypted", true, strings.Repeat("k", 32)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			m := NewSnapshotManager(dir, "evidence", tc.compress, tc.key)
			snap := testSnapshot("v1")
			if err := m.Publish(context.Background(), snap); err != nil {
				t.Fatalf("publish failed: %v", err)
			}

			loaded, err := m.Load(context.Background())
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			if !reflect.DeepEqual(loaded.Records, snap.Records) {
				t.Errorf("records differ:\n got %+v\nwant %+v", loaded.Records, snap.Records)
			}
			for i := range snap.Vectors {
				for j := range snap.Vectors[i] {
					if d := loaded.Vectors[i][j] - snap.Vectors[i][j]; d > 1e-6 || d < -1e-6 {
						t.Errorf("vector %d differs: %v vs %v", i, loaded.Vectors[i], snap.Vectors[i])
					}
				}
			}
			if loaded.Metadata.EmbeddingModelID != "hash-2" {
				t.Errorf("metadata not loaded: %+v", loaded.Metadata)
			}
		})
	}
}

func TestLoad_MissingSnapshot(t *testing.T) {
	m := NewSnapshotManager(t.TempDir(), "evidence", false, "")
	_, err := m.Load(context.Background())
	if !errors.Is(err, models.ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestLoad_RecordCountMismatch(t *testing.T) {
	dir := t.TempDir()
	m := NewSnapshotManager(dir, "evidence", false, "")
	if err := m.Publish(context.Background(), testSnapshot("v1")); err != nil {
		t.Fatal(err)
	}

	recordsPath := filepath.Join(dir, snapshotsDir, "v1", recordsFile)
	var records []models.Record
	data, _ := os.ReadFile(recordsPath)
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatal(err)
	}
	data, _ = json.Marshal(records[:2])
	if err := os.WriteFile(recordsPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := m.Load(context.Background())
	if !errors.Is(err, models.ErrSnapshotCorrupt) {
		t.Errorf("expected ErrSnapshotCorrupt, got %v", err)
	}
}

func TestPublish_InvalidSnapshotKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	m := NewSnapshotManager(dir, "evidence", false, "")
	if err := m.Publish(context.Background(), testSnapshot("v1")); err != nil {
		t.Fatal(err)
	}

	bad := testSnapshot("v2")
	bad.Vectors = bad.Vectors[:2]
	if err := m.Publish(context.Background(), bad); !errors.Is(err, models.ErrSnapshotCorrupt) {
		t.Fatalf("expected ErrSnapshotCorrupt, got %v", err)
	}

	loaded, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Metadata.SnapshotVersion != "v1" {
		t.Errorf("current snapshot changed to %s", loaded.Metadata.SnapshotVersion)
	}
}

func TestPublish_PrunesOldVersions(t *testing.T) {
	dir := t.TempDir()
	m := NewSnapshotManager(dir, "evidence", false, "")
	for _, v := range []string{"v1", "v2", "v3"} {
		if err := m.Publish(context.Background(), testSnapshot(v)); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(filepath.Join(dir, snapshotsDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != keepVersions {
		t.Errorf("expected %d versions on disk, got %d", keepVersions, len(entries))
	}
	loaded, err := m.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Metadata.SnapshotVersion != "v3" {
		t.Errorf("current = %s, want v3", loaded.Metadata.SnapshotVersion)
	}
}

func TestPublishAndLoad_VectorsSurviveRoundTrip(t *testing.T) {
	cfg := config.Default().RAG
	b, err := indexer.NewBuilder(nil, embedding.NewHashEmbedder(4), &cfg)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := b.Build(context.Background(), "/corpus", []indexer.Document{
		{SourcePath: "a.txt", Blocks: []models.Block{{Text: "alpha beta"}}},
		{SourcePath: "b.txt", Blocks: []models.Block{{Text: "---- .... ----"}}},
		{SourcePath: "c.txt", Blocks: []models.Block{{Text: "gamma"}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	m := NewSnapshotManager(t.TempDir(), "evidence", true, "")
	if err := m.Publish(context.Background(), snap); err != nil {
		t.Fatal(err)
	}
	loaded, err := m.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded.Records, snap.Records) {
		t.Fatalf("records differ: %+v vs %+v", loaded.Records, snap.Records)
	}
	for i := range snap.Vectors {
		if !models.UsableVector(loaded.Vectors[i]) {
			t.Fatalf("vector %d unusable after load: %v", i, loaded.Vectors[i])
		}
		for j := range snap.Vectors[i] {
			if d := loaded.Vectors[i][j] - snap.Vectors[i][j]; d > 1e-6 || d < -1e-6 {
				t.Errorf("vector %d differs: %v vs %v", i, loaded.Vectors[i], snap.Vectors[i])
				break
			}
		}
	}
}
