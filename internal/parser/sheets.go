package parser

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"evidence-rag/internal/models"
)

// parseXLSX emits one block per non-empty sheet, located by sheet name.
// Workbooks excelize cannot open are retried with tealeg/xlsx.
func (p *ParserConfig) parseXLSX(filePath string) ([]models.Block, error) {
	blocks, err := p.parseXLSXExcelize(filePath)
	if err == nil {
		return blocks, nil
	}
	log.Warn().Err(err).Str("file", filePath).Msg("excelize failed, falling back to tealeg/xlsx")
	return p.parseXLSXLegacy(filePath)
}

func (p *ParserConfig) parseXLSXExcelize(filePath string) ([]models.Block, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var blocks []models.Block
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		if len(rows) > p.MaxTableRows {
			rows = rows[:p.MaxTableRows]
		}
		blocks = appendSheet(blocks, sheetName, rows)
	}
	return blocks, nil
}

func (p *ParserConfig) parseXLSXLegacy(filePath string) ([]models.Block, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var blocks []models.Block
	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			if len(rows) >= p.MaxTableRows {
				break
			}
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		blocks = appendSheet(blocks, sheet.Name, rows)
	}
	return blocks, nil
}

func appendSheet(blocks []models.Block, name string, rows [][]string) []models.Block {
	text := joinRows(rows)
	if strings.TrimSpace(text) == "" {
		return blocks
	}
	return append(blocks, models.Block{Locator: models.Sheet(name), Text: text})
}
