// Package indexer builds snapshots from a document corpus.
package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"evidence-rag/internal/chunker"
	"evidence-rag/internal/config"
	"evidence-rag/internal/embedding"
	"evidence-rag/internal/helper"
	"evidence-rag/internal/models"
	"evidence-rag/internal/parser"
)

// Document is the extraction result for one corpus file. A non-nil Err marks
// a document whose extraction failed.
type Document struct {
	SourcePath string
	Blocks     []models.Block
	Err        error
}

type Builder struct {
	extractor parser.Extractor
	embedder  embedding.Embedder
	chunker   *chunker.Chunker
	workers   int
	batchSize int
}

func NewBuilder(extractor parser.Extractor, embedder embedding.Embedder, cfg *config.RAGConfig) (*Builder, error) {
	c, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	workers := cfg.BuildWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Builder{
		extractor: extractor,
		embedder:  embedder,
		chunker:   c,
		workers:   workers,
		batchSize: cfg.EmbedBatchSize,
	}, nil
}

// BuildCorpus discovers and extracts every supported document under root and
// builds a snapshot from them.
func (b *Builder) BuildCorpus(ctx context.Context, root string) (*models.Snapshot, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	paths, err := parser.Discover(root)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no supported documents under %s", models.ErrEmptyCorpus, root)
	}
	log.Info().Str("root", root).Int("documents", len(paths)).Msg("Discovered documents")

	docs, err := b.extractAll(ctx, root, paths)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, root, docs)
}

// extractAll runs the extractor over paths with a bounded worker pool. Results
// keep the order of paths; per-document errors are recorded, not returned.
func (b *Builder) extractAll(ctx context.Context, root string, paths []string) ([]Document, error) {
	docs := make([]Document, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			blocks, err := b.extractor.Extract(gctx, filepath.Join(root, filepath.FromSlash(rel)))
			docs[i] = Document{SourcePath: rel, Blocks: blocks, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// Build chunks and embeds the extracted documents. Failed documents are
// skipped and counted; a corpus without a single chunk is fatal.
func (b *Builder) Build(ctx context.Context, corpusRoot string, docs []Document) (*models.Snapshot, error) {
	meta := models.Metadata{
		EmbeddingModelID: b.embedder.ModelID(),
		CorpusRoot:       corpusRoot,
		NumDocuments:     len(docs),
		Extractors:       parser.Extractors,
	}

	var (
		records []models.Record
		texts   []string
	)
	for _, doc := range docs {
		if doc.Err != nil {
			log.Warn().Err(doc.Err).Str("source", doc.SourcePath).Msg("Extraction failed, skipping document")
			meta.NumFailedDocuments++
			meta.NumDocumentsWithNoText++
			continue
		}

		hasText := false
		for _, block := range doc.Blocks {
			meta.NumExtractedBlocks++
			if strings.TrimSpace(block.Text) != "" {
				hasText = true
			}
			for ci, chunk := range b.chunker.Chunk(block) {
				records = append(records, models.Record{
					SourcePath: doc.SourcePath,
					Locator:    block.Locator,
					ChunkIndex: ci,
					Text:       chunk,
				})
				texts = append(texts, chunk)
			}
		}
		if !hasText {
			log.Debug().Str("source", doc.SourcePath).Msg("No extractable text")
			meta.NumDocumentsWithNoText++
		}
	}

	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: %d documents, %d failed; scanned documents need OCR",
			models.ErrEmptyCorpus, meta.NumDocuments, meta.NumFailedDocuments)
	}

	vectors, err := embedding.GenerateEmbeddings(ctx, b.embedder, texts, b.batchSize)
	if err != nil {
		return nil, fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(records) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(records))
	}

	// chunks without word content (e.g. only punctuation) can embed to a
	// zero vector; they carry nothing searchable.
	kept := 0
	for i, v := range vectors {
		if !models.UsableVector(v) {
			log.Warn().Str("source", records[i].SourcePath).Int("chunk", records[i].ChunkIndex).Msg("Skipping chunk with unusable embedding")
			meta.NumSkippedChunks++
			continue
		}
		records[kept], vectors[kept] = records[i], v
		kept++
	}
	records, vectors = records[:kept], vectors[:kept]
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: every chunk embedded to an unusable vector", models.ErrEmptyCorpus)
	}

	version, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	meta.NumChunks = len(records)
	meta.Dimension = len(vectors[0])
	meta.SnapshotVersion = version
	meta.CreatedAt = time.Now().UTC()

	snap := &models.Snapshot{Metadata: meta, Records: records, Vectors: vectors}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Int("documents", meta.NumDocuments).
		Int("chunks", meta.NumChunks).
		Int("failed", meta.NumFailedDocuments).
		Int("no_text", meta.NumDocumentsWithNoText).
		Msg("Built snapshot")
	return snap, nil
}
