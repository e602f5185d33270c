package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"

	"evidence-rag/internal/models"
)

var slideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// parseDOCX returns a single block: paragraphs, then table rows under a TABLES: marker.
func parseDOCX(filePath string) ([]models.Block, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	paras, tableRows, err := wordText(r.Editable().GetContent())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filePath, err)
	}

	content := strings.Join(paras, "\n")
	if len(tableRows) > 0 {
		if content != "" {
			content += "\n\n"
		}
		content += "TABLES:\n" + strings.Join(tableRows, "\n")
	}
	return []models.Block{{Text: content}}, nil
}

// wordText walks WordprocessingML and separates body paragraphs from table
// rows. Cells are tab-joined; paragraphs inside a cell are joined by spaces.
func wordText(content string) (paras []string, rows []string, err error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		tableDepth int
		para       strings.Builder
		cell       strings.Builder
		row        []string
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDepth++
			case "tr":
				row = row[:0]
			case "tc":
				cell.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				p := strings.TrimSpace(para.String())
				para.Reset()
				if p == "" {
					continue
				}
				if tableDepth > 0 {
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(p)
				} else {
					paras = append(paras, p)
				}
			case "tc":
				row = append(row, strings.TrimSpace(cell.String()))
			case "tr":
				if anyNonEmpty(row) {
					rows = append(rows, strings.Join(row, "\t"))
				}
			case "tbl":
				tableDepth--
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	return paras, rows, nil
}

func anyNonEmpty(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return true
		}
	}
	return false
}

// parsePPTX emits one block per slide, located by slide number.
func parsePPTX(filePath string) ([]models.Block, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, file := range f.File {
		m := slideRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: file})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var blocks []models.Block
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		slideText := extractTextFromXML(string(data))
		if strings.TrimSpace(slideText) == "" {
			continue
		}
		blocks = append(blocks, models.Block{Locator: models.Page(s.num), Text: slideText})
	}
	return blocks, nil
}

// extractTextFromXML collects DrawingML <a:t> runs, one paragraph per line.
func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		endIdx := strings.Index(part, "</a:t>")
		if endIdx >= 0 {
			text.WriteString(part[:endIdx])
			if strings.Contains(part[endIdx:], "</a:p>") {
				text.WriteByte('\n')
			} else {
				text.WriteByte(' ')
			}
		}
	}
	return strings.TrimSpace(text.String())
}

// parseDOC converts legacy .doc files with LibreOffice and parses the result.
// Without soffice the document yields no text.
func (p *ParserConfig) parseDOC(ctx context.Context, filePath string) ([]models.Block, error) {
	soffice := p.findSoffice()
	if soffice == "" {
		log.Warn().Str("file", filePath).Msg("soffice not found, skipping .doc conversion")
		return nil, nil
	}

	outDir, err := os.MkdirTemp("", "doc-convert-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, soffice, "--headless", "--convert-to", "docx", filePath, "--outdir", outDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("soffice conversion failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	return parseDOCX(filepath.Join(outDir, base+".docx"))
}

func (p *ParserConfig) findSoffice() string {
	if p.SofficePath != "" {
		return p.SofficePath
	}
	for _, candidate := range []string{"soffice", "libreoffice"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return ""
}
