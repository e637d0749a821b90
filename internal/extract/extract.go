// Package extract resolves marca, submarca and tipveh from a normalized
// vehicle description using year-conditioned catalog candidate sets.
//
// Extraction runs in catalog order: marca first, then submarca on the
// remaining text, then tipveh. Submarca candidates are restricted by the
// marca→submarca relation only when marca is certain (confidence exactly
// 1.0); a merely plausible marca never narrows the field. When the aggregate
// extraction quality is poor, a catalog-constrained LLM fallback re-extracts
// all three fields.
package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/hurttlocker/cvegs/internal/catalog"
	"github.com/hurttlocker/cvegs/internal/llm"
	"github.com/hurttlocker/cvegs/internal/metrics"
)

// Method records how a field value was obtained.
type Method string

const (
	MethodDirect       Method = "direct"
	MethodFuzzyPartial Method = "fuzzy_partial"
	MethodFuzzyToken   Method = "fuzzy_token"
	MethodLLM          Method = "llm"
	MethodLLMValidated Method = "llm_validated"
	MethodLLMCorrected Method = "llm_corrected"
	MethodNone         Method = "none"
)

// FieldConfidence is one extracted field with its confidence and provenance.
// An empty Value with method none means the field could not be resolved.
type FieldConfidence struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"method"`
}

// Fields is the full extraction result for one description.
type Fields struct {
	Marca    FieldConfidence `json:"marca"`
	Submarca FieldConfidence `json:"submarca"`
	Tipveh   FieldConfidence `json:"tipveh"`
	Descveh  string          `json:"descveh"`
}

// Thresholds that shape extraction flow.
const (
	// trimThreshold: a field this certain has its matched text removed from
	// the working description before the next field is extracted.
	trimThreshold = 0.9

	// certainConfidence gates the marca→submarca relation.
	certainConfidence = 1.0
)

// Options configures an Extractor.
type Options struct {
	Logger *zap.Logger
	// LLMModel overrides the provider's default model for fallback calls.
	LLMModel string
	// LLMTemperature for fallback calls. The fallback wants near-greedy
	// decoding; 0.05 by default.
	LLMTemperature float64
}

// Extractor extracts catalog fields from descriptions.
type Extractor struct {
	provider llm.Provider // nil disables the LLM fallback
	log      *zap.Logger
	model    string
	temp     float64
}

// New creates an Extractor. provider may be nil; extraction then never
// falls back to the LLM.
func New(provider llm.Provider, opts Options) *Extractor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	temp := opts.LLMTemperature
	if temp <= 0 {
		temp = 0.05
	}
	return &Extractor{
		provider: provider,
		log:      log,
		model:    opts.LLMModel,
		temp:     temp,
	}
}

// Extract resolves the three catalog fields for a normalized description.
// The year index supplies the candidate vocabulary; an empty index yields an
// all-unresolved result immediately.
func (e *Extractor) Extract(ctx context.Context, description string, ix *catalog.YearIndex) Fields {
	out := Fields{
		Marca:    FieldConfidence{Method: MethodNone},
		Submarca: FieldConfidence{Method: MethodNone},
		Tipveh:   FieldConfidence{Method: MethodNone},
		Descveh:  description,
	}
	if ix == nil || ix.Empty() {
		return out
	}

	working := description

	out.Marca = matchField(working, ix.Marcas)
	if out.Marca.Confidence >= trimThreshold {
		working = trimMatched(working, out.Marca.Value)
	}

	submarcaCandidates := ix.Submarcas
	if out.Marca.Confidence == certainConfidence {
		submarcaCandidates = ix.SubmarcaByMarca[out.Marca.Value]
	}

	out.Submarca = matchField(working, submarcaCandidates)
	if out.Submarca.Confidence >= trimThreshold {
		working = trimMatched(working, out.Submarca.Value)
	}

	out.Tipveh = matchField(working, ix.Tipvehs)

	if e.provider != nil && needsFallback(out) {
		if fb, err := e.llmFallback(ctx, description, ix); err == nil {
			out = fb
			out.Descveh = description
			metrics.ExtractionFallbacks.WithLabelValues("applied").Inc()
		} else {
			e.log.Warn("llm extraction fallback failed; keeping direct extraction", zap.Error(err))
			metrics.ExtractionFallbacks.WithLabelValues("failed").Inc()
		}
	}

	return out
}

// needsFallback applies the aggregate quality triggers: no strong field, or
// both marca and submarca weak, or a poor mean across all three.
func needsFallback(f Fields) bool {
	anyStrong := f.Marca.Confidence >= 0.8 || f.Submarca.Confidence >= 0.8 || f.Tipveh.Confidence >= 0.8
	if !anyStrong {
		return true
	}
	if f.Marca.Confidence < 0.5 && f.Submarca.Confidence < 0.5 {
		return true
	}
	mean := (f.Marca.Confidence + f.Submarca.Confidence + f.Tipveh.Confidence) / 3.0
	return mean < 0.6
}
