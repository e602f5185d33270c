package models

import "time"

// Block is one unit of extracted text, e.g. a PDF page or a spreadsheet sheet.
type Block struct {
	Locator Locator
	Text    string
}

// Record is the persisted identity of a chunk. records[i] corresponds to the
// i-th vector of the similarity index.
type Record struct {
	SourcePath string  `json:"source_path"`
	Locator    Locator `json:"locator"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
}

// RecordKey uniquely identifies a record; it is the dedupe key of retrieval.
type RecordKey struct {
	SourcePath string
	Locator    Locator
	ChunkIndex int
}

func (r Record) Key() RecordKey {
	return RecordKey{SourcePath: r.SourcePath, Locator: r.Locator, ChunkIndex: r.ChunkIndex}
}

// Hit is a scored search result copied from a Record.
type Hit struct {
	Record
	Score float32 `json:"score"`
}

// Metadata describes a snapshot.
type Metadata struct {
	EmbeddingModelID       string    `json:"embedding_model_id"`
	CorpusRoot             string    `json:"corpus_root"`
	NumDocuments           int       `json:"num_documents"`
	NumChunks              int       `json:"num_chunks"`
	NumDocumentsWithNoText int       `json:"num_documents_with_no_extractable_text"`
	NumFailedDocuments     int       `json:"num_failed_documents"`
	NumExtractedBlocks     int       `json:"num_extracted_blocks"`
	NumSkippedChunks       int       `json:"num_skipped_chunks"`
	Dimension              int       `json:"dimension"`
	SnapshotVersion        string    `json:"snapshot_version"`
	StoreDir               string    `json:"store_dir,omitempty"`
	Extractors             []string  `json:"extractors,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}
