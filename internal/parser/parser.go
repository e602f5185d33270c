package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"evidence-rag/internal/models"
)

// Extractor turns one document into text blocks.
type Extractor interface {
	Extract(ctx context.Context, filePath string) ([]models.Block, error)
}

type ParserConfig struct {
	// MaxTableRows caps rows read per CSV file or spreadsheet sheet.
	MaxTableRows int
	// SofficePath overrides LibreOffice discovery for .doc conversion.
	SofficePath string
}

const defaultMaxTableRows = 2000

var supportedExts = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".pptx": true,
	".txt":  true,
	".md":   true,
	".csv":  true,
	".xlsx": true,
}

// Extractors lists the libraries backing each format, recorded in snapshot metadata.
var Extractors = []string{
	"pdf:github.com/ledongthuc/pdf",
	"docx:github.com/nguyenthenguyen/docx",
	"doc:soffice",
	"xlsx:github.com/xuri/excelize/v2",
	"xlsx-fallback:github.com/tealeg/xlsx",
	"md:github.com/yuin/goldmark",
	"pptx:archive/zip",
	"csv:encoding/csv",
}

func NewParser(maxTableRows int) *ParserConfig {
	if maxTableRows <= 0 {
		maxTableRows = defaultMaxTableRows
	}
	return &ParserConfig{MaxTableRows: maxTableRows}
}

// Supported reports whether the file extension can be extracted.
func Supported(filePath string) bool {
	return supportedExts[strings.ToLower(filepath.Ext(filePath))]
}

// Discover returns the supported documents under root as slash-separated
// paths relative to root, sorted.
func Discover(root string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !Supported(path) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		docs = append(docs, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering documents under %s: %w", root, err)
	}
	sort.Strings(docs)
	return docs, nil
}

// Extract dispatches on the file extension.
func (p *ParserConfig) Extract(ctx context.Context, filePath string) ([]models.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	log.Debug().Str("file", filePath).Str("ext", ext).Msg("Extracting document")
	switch ext {
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".doc":
		return p.parseDOC(ctx, filePath)
	case ".pptx":
		return parsePPTX(filePath)
	case ".xlsx":
		return p.parseXLSX(filePath)
	case ".csv":
		return p.parseCSV(filePath)
	case ".md":
		return parseMarkdown(filePath)
	case ".txt":
		return parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func parseText(filePath string) ([]models.Block, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []models.Block{{Text: strings.ToValidUTF8(string(data), "")}}, nil
}

func (p *ParserConfig) parseCSV(filePath string) ([]models.Block, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for len(rows) < p.MaxTableRows {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, row)
	}
	return []models.Block{{Text: joinRows(rows)}}, nil
}

// joinRows renders table rows as tab-separated lines.
func joinRows(rows [][]string) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j, cell := range row {
			if j > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(strings.TrimSpace(cell))
		}
	}
	return b.String()
}

func parseMarkdown(filePath string) ([]models.Block, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	plain, err := markdownToText(data)
	if err != nil {
		return nil, err
	}
	return []models.Block{{Text: plain}}, nil
}

// markdownToText renders the markdown AST as plain text, one line per block
// and tab-separated table cells.
func markdownToText(source []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch v := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(v.Segment.Value(source))
				if v.SoftLineBreak() || v.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(v.Value)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(source))
				}
				return ast.WalkSkipChildren, nil
			}
		case *extast.TableCell:
			if !entering && n.NextSibling() != nil {
				buf.WriteByte('\t')
			}
		}
		if !entering && n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument && n.Kind() != extast.KindTableCell {
			if buf.Len() > 0 && buf.Bytes()[buf.Len()-1] != '\n' {
				buf.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("walking markdown: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
