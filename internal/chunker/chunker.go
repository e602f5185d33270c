// Package chunker splits extracted text into overlapping fixed-size windows.
package chunker

import (
	"strings"

	"evidence-rag/internal/models"
)

// Normalize unifies line endings and trims surrounding whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// Validate checks chunkSize and overlap.
func Validate(chunkSize, overlap int) error {
	if chunkSize <= 0 {
		return models.NewArgumentError("chunk_size", "must be positive")
	}
	if overlap < 0 || overlap >= chunkSize {
		return models.NewArgumentError("overlap", "must be in [0, chunk_size)")
	}
	return nil
}

// ChunkText splits the normalized text into windows of at most chunkSize
// characters. Adjacent windows share exactly overlap characters. Lengths are
// counted in runes.
func ChunkText(text string, chunkSize, overlap int) ([]string, error) {
	if err := Validate(chunkSize, overlap); err != nil {
		return nil, err
	}
	runes := []rune(Normalize(text))
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	var chunks []string
	start := 0
	for start < n {
		end := min(n, start+chunkSize)
		chunks = append(chunks, string(runes[start:end]))
		if end >= n {
			break
		}
		start = max(0, end-overlap)
	}
	return chunks, nil
}

// Chunker carries the configured window parameters.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk splits the block into chunk texts, dropping whitespace-only windows.
func (c *Chunker) Chunk(block models.Block) []string {
	chunks, _ := ChunkText(block.Text, c.size, c.overlap)
	out := chunks[:0]
	for _, ch := range chunks {
		if strings.TrimSpace(ch) == "" {
			continue
		}
		out = append(out, ch)
	}
	return out
}

// Reassemble joins chunks produced with the given overlap back into the
// normalized text.
func Reassemble(chunks []string, overlap int) string {
	var b strings.Builder
	for i, ch := range chunks {
		if i == 0 {
			b.WriteString(ch)
			continue
		}
		r := []rune(ch)
		b.WriteString(string(r[min(overlap, len(r)):]))
	}
	return b.String()
}
