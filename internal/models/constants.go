package models

const (
	// NoHits is returned instead of evidence when nothing qualifies.
	NoHits = "NO_HITS"

	PercentCue          = `%`
	SampleSizeCueRegex  = `\bn\s*=\s*\d+`
	StructureCueRegex   = `\b(table|figure|fig\.?|appendix|supplement|supplementary)\b`
	StatisticalCueRegex = `\b(mean|median|range|sd|std|p[- ]?value|confidence interval|ci)\b`
	TokenRegex          = `[a-z][a-z0-9\-]{2,}`
	EvidenceHeaderRegex = `(?m)^\[([^\]\n]+)\]$`
)

var (
	ResearchPromptTemplate = `You are a Research Assistant over a local document corpus.

Rules:
- Answer in depth and be explanatory.
- Never invent facts, numbers, or claims not present in EVIDENCE.
- If not found, say: Not found in the indexed documents.
- Use denominators when giving percentages.
- If evidence includes tables/lists/numeric blocks, reconstruct them clearly and interpret them.

EVIDENCE (with source/page/chunk):
%s

USER QUESTION:
%s

After your answer, include:
What to look up next: (%d-%d bullets)
Sources used: top %d-%d sources (paper + page + chunk) you relied on most.
`
	NotFoundAnswer = "Not found in the indexed documents."
)
