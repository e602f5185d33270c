// Package evidence renders hits into the bounded, source-tagged text block
// handed to prompting, and parses it back into source references.
package evidence

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"evidence-rag/internal/models"
)

// NoHits is the sentinel returned when nothing qualifies.
const NoHits = models.NoHits

// Budget bounds the rendered evidence. Lengths are counted in characters (runes).
type Budget struct {
	MaxTotalChars    int
	MaxPerChunkChars int
}

// Header renders "[source p.locator c.index]"; the locator part is omitted
// when absent.
func Header(r models.Record) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(r.SourcePath)
	if !r.Locator.IsNone() {
		b.WriteString(" p.")
		b.WriteString(r.Locator.String())
	}
	b.WriteString(" c.")
	b.WriteString(strconv.Itoa(r.ChunkIndex))
	b.WriteByte(']')
	return b.String()
}

// Format renders hits in order until the next block would exceed the total
// budget. Blocks are separated by a blank line and the separators count
// toward the budget.
func Format(hits []models.Hit, budget Budget) string {
	var (
		out   strings.Builder
		total int
	)
	for _, h := range hits {
		text := strings.TrimSpace(strings.ReplaceAll(h.Text, "\r\n", "\n"))
		if text == "" {
			continue
		}
		block := Header(h.Record) + "\n" + truncate(text, budget.MaxPerChunkChars)

		size := utf8.RuneCountInString(block)
		if total > 0 {
			size += 2
		}
		if total+size > budget.MaxTotalChars {
			break
		}
		if total > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(block)
		total += size
	}
	if total == 0 {
		return NoHits
	}
	return out.String()
}

// FormatRecords formats records as unscored hits.
func FormatRecords(records []models.Record, budget Budget) string {
	hits := make([]models.Hit, len(records))
	for i, r := range records {
		hits[i] = models.Hit{Record: r}
	}
	return Format(hits, budget)
}

func truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

var (
	headerRe     = regexp.MustCompile(models.EvidenceHeaderRegex)
	headerPartRe = regexp.MustCompile(`^(.*?)(?: p\.(.+?))?(?: c\.(\d+))?$`)
)

// Sources extracts distinct "source p.locator" references from formatted
// evidence, in order of first appearance, at most limit of them.
func Sources(text string, limit int) []string {
	var sources []string
	seen := make(map[string]bool)
	for _, m := range headerRe.FindAllStringSubmatch(text, -1) {
		parts := headerPartRe.FindStringSubmatch(m[1])
		if parts == nil || parts[1] == "" {
			continue
		}
		s := parts[1]
		if parts[2] != "" {
			s += " p." + parts[2]
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		sources = append(sources, s)
		if limit > 0 && len(sources) == limit {
			break
		}
	}
	return sources
}
