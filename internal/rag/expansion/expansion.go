// Package expansion derives the text appended to a query for the recall pass
// of two-pass retrieval.
package expansion

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"evidence-rag/internal/config"
	"evidence-rag/internal/models"
)

// Expander returns the suffix for the recall-pass query: empty, or a leading
// space followed by space-separated terms. It must be deterministic.
type Expander interface {
	Expand(query string, hits []models.Hit) string
}

// New selects the strategy named in cfg.
func New(cfg config.ExpansionConfig) (Expander, error) {
	switch cfg.Strategy {
	case "", config.ExpansionEvidence:
		return NewEvidenceExpander(cfg.Hits, cfg.MaxTerms), nil
	case config.ExpansionIntent:
		return IntentExpander{}, nil
	case config.ExpansionFixed:
		if len(cfg.Vocabulary) == 0 {
			return nil, models.NewArgumentError("vocabulary", "must not be empty for the fixed strategy")
		}
		return FixedExpander{Vocabulary: cfg.Vocabulary}, nil
	default:
		return nil, fmt.Errorf("unknown expansion strategy %q", cfg.Strategy)
	}
}

var (
	tokenRe       = regexp.MustCompile(models.TokenRegex)
	sampleSizeRe  = regexp.MustCompile(models.SampleSizeCueRegex)
	structureRe   = regexp.MustCompile(models.StructureCueRegex)
	statisticalRe = regexp.MustCompile(models.StatisticalCueRegex)
)

var stopwords = map[string]bool{
	"the": true, "and": true, "or": true, "to": true, "of": true, "in": true, "for": true,
	"on": true, "with": true, "by": true, "as": true, "at": true, "from": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true, "it": true, "this": true,
	"that": true, "these": true, "those": true, "we": true, "you": true, "they": true,
	"their": true, "our": true, "an": true, "a": true, "not": true, "no": true, "yes": true,
	"can": true, "could": true, "may": true, "might": true, "will": true, "would": true,
	"should": true, "than": true, "then": true, "also": true, "such": true, "into": true,
}

var structureWords = []string{"results", "findings", "discussion", "conclusion"}

// cue groups in emission order
var (
	percentCues     = []string{"%", "percent", "percentage"}
	sampleSizeCues  = []string{"n=", "sample", "cohort"}
	structureCues   = []string{"table", "figure", "appendix", "supplementary"}
	statisticalCues = []string{"mean", "median", "range", "sd", "p-value", "confidence interval"}
)

// Tokenize lowercases text and returns its words of three or more
// characters that start with a letter.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// Cues reports which structured-content cue groups text triggers, flattened
// in a fixed order.
func Cues(text string) []string {
	var cues []string
	lower := strings.ToLower(text)
	if strings.Contains(text, models.PercentCue) {
		cues = append(cues, percentCues...)
	}
	if sampleSizeRe.MatchString(lower) {
		cues = append(cues, sampleSizeCues...)
	}
	if structureRe.MatchString(lower) {
		cues = append(cues, structureCues...)
	}
	if statisticalRe.MatchString(lower) {
		cues = append(cues, statisticalCues...)
	}
	return cues
}

// EvidenceExpander builds the expansion from the top Pass-1 hits: their most
// frequent non-stopword tokens, the cues they trigger and a few document
// structure words.
type EvidenceExpander struct {
	Hits     int
	MaxTerms int
}

func NewEvidenceExpander(hits, maxTerms int) EvidenceExpander {
	if hits <= 0 {
		hits = 5
	}
	if maxTerms <= 0 {
		maxTerms = 18
	}
	return EvidenceExpander{Hits: hits, MaxTerms: maxTerms}
}

func (e EvidenceExpander) Expand(_ string, hits []models.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	if len(hits) > e.Hits {
		hits = hits[:e.Hits]
	}

	freq := make(map[string]int)
	triggered := make(map[string]bool)
	for _, h := range hits {
		for _, c := range Cues(h.Text) {
			triggered[c] = true
		}
		for _, tok := range Tokenize(h.Text) {
			if stopwords[tok] {
				continue
			}
			freq[tok]++
		}
	}

	terms := make([]string, 0, len(freq))
	for tok := range freq {
		terms = append(terms, tok)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > e.MaxTerms {
		terms = terms[:e.MaxTerms]
	}

	var cues []string
	for _, group := range [][]string{percentCues, sampleSizeCues, structureCues, statisticalCues} {
		for _, c := range group {
			if triggered[c] {
				cues = append(cues, c)
			}
		}
	}

	return join(terms, cues, structureWords)
}

// Intent is the coarse class of information a query asks for.
type Intent string

const (
	IntentComparison     Intent = "comparison"
	IntentStructuredData Intent = "structured-data"
	IntentQuantitative   Intent = "quantitative"
	IntentMethodological Intent = "methodological"
	IntentGeneral        Intent = "general"
)

var intentRules = []struct {
	intent Intent
	re     *regexp.Regexp
}{
	{IntentComparison, regexp.MustCompile(`\b(compare[ds]?|comparison|versus|vs\.?|differences?|differ|better|worse)\b`)},
	{IntentStructuredData, regexp.MustCompile(`\b(tables?|figures?|fig\.?|appendix|supplement(ary)?|charts?|rows?|columns?|sheets?)\b`)},
	{IntentQuantitative, regexp.MustCompile(`%|\b(how many|how much|percent(age)?|proportion|rate|ratio|number of|mean|median|average|prevalence|incidence)\b`)},
	{IntentMethodological, regexp.MustCompile(`\b(methods?|methodology|design|protocol|sampl(e|ing)|inclusion|exclusion|criteria|randomi[sz]ed|cohort|procedure)\b`)},
}

var intentVocabulary = map[Intent][]string{
	IntentComparison:     {"compared", "versus", "difference", "higher", "lower", "relative", "ratio", "association"},
	IntentStructuredData: {"table", "figure", "appendix", "supplementary", "row", "column", "total"},
	IntentQuantitative:   {"%", "percent", "n=", "mean", "median", "range", "sd", "p-value", "confidence interval"},
	IntentMethodological: {"methods", "design", "participants", "sample", "inclusion", "exclusion", "criteria", "procedure"},
	IntentGeneral:        structureWords,
}

// Classify returns the first intent whose rule matches query.
func Classify(query string) Intent {
	q := strings.ToLower(query)
	for _, rule := range intentRules {
		if rule.re.MatchString(q) {
			return rule.intent
		}
	}
	return IntentGeneral
}

// IntentExpander appends a fixed vocabulary chosen by the query's intent,
// independent of Pass-1 content.
type IntentExpander struct{}

func (IntentExpander) Expand(query string, _ []models.Hit) string {
	return join(intentVocabulary[Classify(query)])
}

// FixedExpander always appends the same vocabulary.
type FixedExpander struct {
	Vocabulary []string
}

func (f FixedExpander) Expand(string, []models.Hit) string {
	return join(f.Vocabulary)
}

// join dedupes terms across lists, keeping first occurrences, and renders
// them as " t1 t2 ...".
func join(lists ...[]string) string {
	seen := make(map[string]bool)
	var final []string
	for _, list := range lists {
		for _, t := range list {
			t = strings.TrimSpace(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			final = append(final, t)
		}
	}
	if len(final) == 0 {
		return ""
	}
	return " " + strings.Join(final, " ")
}
