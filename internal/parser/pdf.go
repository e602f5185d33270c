package parser

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"evidence-rag/internal/models"
)

// parsePDF emits one block per page with text; the locator is the 1-based page.
func parsePDF(filePath string) ([]models.Block, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var blocks []models.Block
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		blocks = append(blocks, models.Block{Locator: models.Page(i), Text: pageText})
	}
	return blocks, nil
}
