package rank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hurttlocker/cvegs/internal/filter"
	"github.com/hurttlocker/cvegs/internal/llm"
)

const rescoreSystemPrompt = `You judge how well catalog vehicle records match a free-text description.

RULES:
1. Score each candidate 0.0-1.0 for how likely it is the described vehicle
2. Consider brand, model line, body type and trim details
3. Return ONLY a JSON array: [{"index": 0, "confidence": 0.9}, ...]
4. Include every candidate index exactly once`

// Rescorer assigns LLM confidences to the eligible candidates in one batched
// call. Any failure degrades to zero scores; the pipeline never stalls on it.
type Rescorer struct {
	provider llm.Provider // nil disables rescoring
	log      *zap.Logger
	model    string
	temp     float64
}

// RescorerOptions configures a Rescorer.
type RescorerOptions struct {
	Logger      *zap.Logger
	Model       string
	Temperature float64 // default 0.05
}

// NewRescorer creates a Rescorer. provider may be nil.
func NewRescorer(provider llm.Provider, opts RescorerOptions) *Rescorer {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	temp := opts.Temperature
	if temp <= 0 {
		temp = 0.05
	}
	return &Rescorer{provider: provider, log: log, model: opts.Model, temp: temp}
}

type rescoreEntry struct {
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
}

// Rescore writes LLMScore on each candidate. On transport failure, timeout or
// malformed output every score stays 0.0.
func (r *Rescorer) Rescore(ctx context.Context, year int, description string, cands []*filter.Candidate) {
	for _, c := range cands {
		c.LLMScore = 0
	}
	if r.provider == nil || len(cands) == 0 {
		return
	}

	raw, err := r.provider.Complete(ctx, buildRescorePrompt(year, description, cands), llm.CompletionOpts{
		System:      rescoreSystemPrompt,
		Temperature: r.temp,
		Model:       r.model,
		Format:      "json",
	})
	if err != nil {
		r.log.Warn("llm rescore failed; scores default to zero", zap.Error(err))
		return
	}

	arr, err := llm.ExtractJSONArray(raw)
	if err != nil {
		r.log.Warn("llm rescore returned no JSON array", zap.Error(err))
		return
	}
	var entries []rescoreEntry
	if err := json.Unmarshal([]byte(arr), &entries); err != nil {
		r.log.Warn("llm rescore JSON malformed", zap.Error(err))
		return
	}

	for _, e := range entries {
		if e.Index < 0 || e.Index >= len(cands) {
			continue
		}
		cands[e.Index].LLMScore = clamp01(e.Confidence)
	}
}

func buildRescorePrompt(year int, description string, cands []*filter.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vehicle description (model year %d):\n%s\n\nCandidates:\n", year, description)
	for i, c := range cands {
		fmt.Fprintf(&b, "%d. marca=%s submarca=%s tipveh=%s descveh=%s\n",
			i, c.Marca, c.Submarca, c.Tipveh, c.Descveh)
	}
	b.WriteString("\nScore every candidate. Return the JSON array only.")
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
