package chromemdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"evidence-rag/internal/models"
)

const (
	currentFile  = "CURRENT"
	snapshotsDir = "snapshots"
	recordsFile  = "records.json"
	metaFile     = "meta.json"
	keepVersions = 2
)

// SnapshotManager persists snapshots under dir. Each version lives in its own
// directory; the CURRENT file names the published one and is replaced by
// rename, so readers never see a partially written snapshot.
type SnapshotManager struct {
	dir            string
	collectionName string
	compress       bool
	encryptionKey  string
}

func NewSnapshotManager(dir, collectionName string, compress bool, encryptionKey string) *SnapshotManager {
	return &SnapshotManager{
		dir:            dir,
		collectionName: collectionName,
		compress:       compress,
		encryptionKey:  encryptionKey,
	}
}

// indexFileName follows chromem-go's export naming for compression and encryption.
func (m *SnapshotManager) indexFileName() string {
	name := "index.gob"
	if m.compress {
		name += ".gz"
	}
	if m.encryptionKey != "" {
		name += ".enc"
	}
	return name
}

// Publish writes the snapshot into a staging directory, moves it into place
// and then points CURRENT at it.
func (m *SnapshotManager) Publish(ctx context.Context, snap *models.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	version := snap.Metadata.SnapshotVersion
	if version == "" {
		return errors.New("snapshot version is required")
	}

	root := filepath.Join(m.dir, snapshotsDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("creating snapshot root: %w", err)
	}
	staging, err := os.MkdirTemp(root, ".staging-")
	if err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := m.exportIndex(ctx, snap, filepath.Join(staging, m.indexFileName())); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(staging, recordsFile), snap.Records); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(staging, metaFile), snap.Metadata); err != nil {
		return err
	}

	final := filepath.Join(root, version)
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("moving snapshot into place: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(m.dir, currentFile), []byte(version+"\n")); err != nil {
		return fmt.Errorf("publishing snapshot %s: %w", version, err)
	}
	log.Info().Str("version", version).Str("dir", final).Int("records", len(snap.Records)).Msg("Published snapshot")

	m.prune(root, version)
	return nil
}

// exportIndex stores the vectors as a chromem-go collection export. Document
// IDs are the record positions.
func (m *SnapshotManager) exportIndex(ctx context.Context, snap *models.Snapshot, path string) error {
	db := chromem.NewDB()
	collection, err := db.CreateCollection(m.collectionName, map[string]string{
		"embedding_model_id": snap.Metadata.EmbeddingModelID,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create collection: %v", err)
	}

	docs := make([]chromem.Document, len(snap.Records))
	for i, r := range snap.Records {
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   r.Text,
			Metadata:  CreateMetadata(r),
			Embedding: snap.Vectors[i],
		}
	}
	if err := collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	if err := db.ExportToFile(path, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export index: %v", err)
	}
	return nil
}

// CreateMetadata flattens a record into chromem document metadata.
func CreateMetadata(r models.Record) map[string]string {
	return map[string]string{
		"source_path": r.SourcePath,
		"locator":     r.Locator.String(),
		"chunk_index": strconv.Itoa(r.ChunkIndex),
	}
}

// Load reads the snapshot CURRENT points at.
func (m *SnapshotManager) Load(ctx context.Context) (*models.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, currentFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no published snapshot in %s", models.ErrSnapshotNotFound, m.dir)
		}
		return nil, err
	}
	version := string(trimNewline(data))
	if version == "" {
		return nil, fmt.Errorf("%w: empty %s", models.ErrSnapshotCorrupt, currentFile)
	}
	dir := filepath.Join(m.dir, snapshotsDir, version)

	var snap models.Snapshot
	if err := readJSON(filepath.Join(dir, metaFile), &snap.Metadata); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, recordsFile), &snap.Records); err != nil {
		return nil, err
	}
	snap.Vectors, err = m.importIndex(ctx, filepath.Join(dir, m.indexFileName()), len(snap.Records))
	if err != nil {
		return nil, err
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (m *SnapshotManager) importIndex(ctx context.Context, path string, want int) ([][]float32, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: index artifact: %v", models.ErrSnapshotCorrupt, err)
	}
	db := chromem.NewDB()
	if err := db.ImportFromFile(path, m.encryptionKey, m.collectionName); err != nil {
		return nil, fmt.Errorf("%w: failed to import index: %v", models.ErrSnapshotCorrupt, err)
	}
	collection := db.GetCollection(m.collectionName, nil)
	if collection == nil {
		return nil, fmt.Errorf("%w: collection %q missing from index", models.ErrSnapshotCorrupt, m.collectionName)
	}
	if n := collection.Count(); n != want {
		return nil, fmt.Errorf("%w: index has %d vectors but %d records", models.ErrSnapshotCorrupt, n, want)
	}

	vectors := make([][]float32, want)
	for i := 0; i < want; i++ {
		doc, err := collection.GetByID(ctx, strconv.Itoa(i))
		if err != nil {
			return nil, fmt.Errorf("%w: vector %d: %v", models.ErrSnapshotCorrupt, i, err)
		}
		vectors[i] = doc.Embedding
	}
	return vectors, nil
}

// prune removes old versions, keeping the newest few including current.
func (m *SnapshotManager) prune(root, current string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	type version struct {
		name string
		mod  int64
	}
	var versions []version
	for _, e := range entries {
		if !e.IsDir() || e.Name() == current || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		versions = append(versions, version{e.Name(), info.ModTime().UnixNano()})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].mod > versions[j].mod })
	for i, v := range versions {
		if i < keepVersions-1 {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, v.name)); err != nil {
			log.Warn().Err(err).Str("version", v.name).Msg("Failed to prune snapshot")
		}
	}
}

// Close is a no-op; the manager holds no open handles.
func (m *SnapshotManager) Close() error { return nil }

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return writeFileSync(path, data)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrSnapshotCorrupt, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", models.ErrSnapshotCorrupt, filepath.Base(path), err)
	}
	return nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := writeFileSync(tmp, data); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}
