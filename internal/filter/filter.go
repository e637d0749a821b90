// Package filter narrows the active catalog snapshot to candidate records
// using the high-confidence extracted fields.
//
// Only fields extracted at or above the high-confidence threshold become
// equality clauses; a merely plausible value never excludes records. When the
// full predicate matches nothing, clauses are relaxed progressively
// (submarca first, then tipveh, then marca) down to the bare year predicate,
// and the first non-empty result wins. A year with records therefore always
// yields candidates.
package filter

import (
	"go.uber.org/zap"

	"github.com/hurttlocker/cvegs/internal/catalog"
	"github.com/hurttlocker/cvegs/internal/extract"
)

// DefaultHighConfidence is the clause threshold τ_hc.
const DefaultHighConfidence = 0.9

// Candidate is one catalog record in flight through the ranking pipeline,
// with one slot per scoring signal. FinalScore is written by the score mixer
// only.
type Candidate struct {
	CVEGS    string `json:"cvegs"`
	Marca    string `json:"marca"`
	Submarca string `json:"submarca"`
	Tipveh   string `json:"tipveh"`
	Modelo   int    `json:"modelo"`
	Descveh  string `json:"descveh"`

	Embedding []float32 `json:"-"`

	FilterScore     float64 `json:"filter_score"`
	FuzzyScore      float64 `json:"fuzzy_score"`
	SimilarityScore float64 `json:"similarity_score"`
	LLMScore        float64 `json:"llm_score"`
	FinalScore      float64 `json:"final_score"`

	// Quality is the review-facing bucket of FinalScore, set alongside it.
	Quality string `json:"quality,omitempty"`
}

// Result carries the surviving candidates plus how they were obtained.
type Result struct {
	Candidates []*Candidate
	// FallbackLevel is 0 when the full predicate matched, 1-4 for the
	// relaxation step that produced the result.
	FallbackLevel int
	// ClauseCount is the number of field clauses applied at the winning level.
	ClauseCount int
}

// Engine applies the clause filter against snapshots.
type Engine struct {
	highConfidence float64
	log            *zap.Logger
}

// Options configures an Engine.
type Options struct {
	HighConfidence float64 // zero means DefaultHighConfidence
	Logger         *zap.Logger
}

// New creates a filter Engine.
func New(opts Options) *Engine {
	hc := opts.HighConfidence
	if hc <= 0 {
		hc = DefaultHighConfidence
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{highConfidence: hc, log: log}
}

// clauses is the set of field predicates in play for one filter pass.
type clauses struct {
	marca    string
	submarca string
	tipveh   string
}

func (c clauses) count() int {
	n := 0
	if c.marca != "" {
		n++
	}
	if c.submarca != "" {
		n++
	}
	if c.tipveh != "" {
		n++
	}
	return n
}

func (c clauses) matches(r *catalog.Record) bool {
	if c.marca != "" && r.Marca != c.marca {
		return false
	}
	if c.submarca != "" && r.Submarca != c.submarca {
		return false
	}
	if c.tipveh != "" && r.Tipveh != c.tipveh {
		return false
	}
	return true
}

// Filter selects candidates for a year from the snapshot. An empty result
// means the year itself has no records.
func (e *Engine) Filter(snap *catalog.Snapshot, year int, fields extract.Fields) Result {
	records := snap.RecordsForYear(year)
	if len(records) == 0 {
		return Result{}
	}

	full := clauses{}
	if fields.Marca.Confidence >= e.highConfidence {
		full.marca = fields.Marca.Value
	}
	if fields.Submarca.Confidence >= e.highConfidence {
		full.submarca = fields.Submarca.Value
	}
	if fields.Tipveh.Confidence >= e.highConfidence {
		full.tipveh = fields.Tipveh.Value
	}

	// Relaxation ladder: drop submarca, then tipveh, then keep tipveh only,
	// then year only.
	ladder := []clauses{
		full,
		{marca: full.marca, tipveh: full.tipveh},
		{marca: full.marca},
		{tipveh: full.tipveh},
		{},
	}

	seen := make(map[clauses]bool, len(ladder))
	for level, cl := range ladder {
		// Levels collapse when the dropped clause was absent anyway.
		if seen[cl] {
			continue
		}
		seen[cl] = true

		matched := collect(records, cl)
		if len(matched) == 0 {
			continue
		}

		score := baseFilterScore(cl.count())
		for _, c := range matched {
			c.FilterScore = score
		}
		if level > 0 {
			e.log.Debug("filter fallback engaged",
				zap.Int("level", level),
				zap.Int("clauses", cl.count()),
				zap.Int("candidates", len(matched)))
		}
		return Result{Candidates: matched, FallbackLevel: level, ClauseCount: cl.count()}
	}

	return Result{FallbackLevel: len(ladder) - 1}
}

func collect(records []*catalog.Record, cl clauses) []*Candidate {
	var out []*Candidate
	for _, r := range records {
		if !cl.matches(r) {
			continue
		}
		out = append(out, &Candidate{
			CVEGS:     r.CVEGS,
			Marca:     r.Marca,
			Submarca:  r.Submarca,
			Tipveh:    r.Tipveh,
			Modelo:    r.Modelo,
			Descveh:   r.Descveh,
			Embedding: r.Embedding,
		})
	}
	return out
}

// baseFilterScore reflects how selective the winning predicate was.
func baseFilterScore(clauseCount int) float64 {
	switch {
	case clauseCount >= 2:
		return 1.0
	case clauseCount == 1:
		return 0.95
	default:
		return 0.8
	}
}
