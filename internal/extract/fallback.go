package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/hurttlocker/cvegs/internal/catalog"
	"github.com/hurttlocker/cvegs/internal/llm"
)

const (
	// Fallback confidences clamp to this band: the model's self-reported
	// certainty is useful for ordering but never treated as exact-match
	// grade, and never below the fuzzy-weak floor.
	fallbackMinConfidence = 0.7
	fallbackMaxConfidence = 0.9

	// recoverRatio is the minimum ratio for mapping an off-catalog LLM value
	// onto the nearest candidate.
	recoverRatio = 0.9

	// promptMarcaLimit caps the frequency table so the prompt stays compact.
	promptMarcaLimit = 40
)

const fallbackSystemPrompt = `You identify Mexican AMIS insurance catalog fields in vehicle descriptions.

RULES:
1. Use ONLY values listed in the provided catalog vocabulary - never invent values
2. marca is the brand, submarca the model line, tipveh the body/use type
3. Confidence is 0.0-1.0 for how certain the description supports the value
4. Omit a field entirely when nothing in the vocabulary fits
5. Return ONLY a JSON object, no additional text

JSON SCHEMA:
{
  "marca": {"value": "...", "confidence": 0.85},
  "submarca": {"value": "...", "confidence": 0.8},
  "tipveh": {"value": "...", "confidence": 0.9}
}`

type fallbackField struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type fallbackResponse struct {
	Marca    *fallbackField `json:"marca"`
	Submarca *fallbackField `json:"submarca"`
	Tipveh   *fallbackField `json:"tipveh"`
}

// llmFallback re-extracts all fields through the LLM, constrained to the
// year's catalog vocabulary. Any transport or parse failure is returned to
// the caller, which keeps the pre-fallback extraction.
func (e *Extractor) llmFallback(ctx context.Context, description string, ix *catalog.YearIndex) (Fields, error) {
	prompt := buildFallbackPrompt(description, ix)

	raw, err := e.provider.Complete(ctx, prompt, llm.CompletionOpts{
		System:      fallbackSystemPrompt,
		Temperature: e.temp,
		Model:       e.model,
		Format:      "json",
	})
	if err != nil {
		return Fields{}, fmt.Errorf("llm fallback call: %w", err)
	}

	obj, err := llm.ExtractJSONObject(raw)
	if err != nil {
		return Fields{}, fmt.Errorf("llm fallback response: %w", err)
	}

	var parsed fallbackResponse
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return Fields{}, fmt.Errorf("llm fallback JSON: %w", err)
	}

	out := Fields{
		Marca:    verifyFallbackField(parsed.Marca, ix.MarcaSet, ix.Marcas),
		Submarca: verifyFallbackField(parsed.Submarca, ix.SubmarcaSet, ix.Submarcas),
		Tipveh:   verifyFallbackField(parsed.Tipveh, ix.TipvehSet, ix.Tipvehs),
	}
	return out, nil
}

// verifyFallbackField validates one LLM-returned value against the closed
// catalog vocabulary. In-set values pass as llm_validated; off-set values are
// fuzzy-recovered onto the nearest candidate at ratio ≥ 0.9 (llm_corrected)
// or dropped.
func verifyFallbackField(f *fallbackField, set map[string]struct{}, candidates []string) FieldConfidence {
	if f == nil || strings.TrimSpace(f.Value) == "" {
		return FieldConfidence{Method: MethodNone}
	}

	value := strings.ToLower(strings.TrimSpace(f.Value))
	conf := clampFallbackConfidence(f.Confidence)

	if _, ok := set[value]; ok {
		return FieldConfidence{Value: value, Confidence: conf, Method: MethodLLMValidated}
	}

	var (
		bestCand  string
		bestRatio float64
	)
	for _, cand := range candidates {
		r := float64(fuzzy.Ratio(value, cand)) / 100.0
		if r > bestRatio {
			bestCand = cand
			bestRatio = r
		}
	}
	if bestRatio >= recoverRatio {
		return FieldConfidence{Value: bestCand, Confidence: conf, Method: MethodLLMCorrected}
	}

	return FieldConfidence{Method: MethodNone}
}

func clampFallbackConfidence(c float64) float64 {
	if c < fallbackMinConfidence {
		return fallbackMinConfidence
	}
	if c > fallbackMaxConfidence {
		return fallbackMaxConfidence
	}
	return c
}

// buildFallbackPrompt renders the description plus the hierarchical frequency
// table: top marcas by row count, each with its submarcas (by frequency) and
// observed tipveh values.
func buildFallbackPrompt(description string, ix *catalog.YearIndex) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vehicle description (model year %d):\n%s\n\n", ix.Year, description)
	b.WriteString("Catalog vocabulary for this year, by frequency:\n")

	for _, marca := range ix.TopMarcas(promptMarcaLimit) {
		freq := ix.Freq[marca]
		fmt.Fprintf(&b, "- %s (%d rows)", marca, freq.Total)

		if len(freq.Submarcas) > 0 {
			subs := make([]string, 0, len(freq.Submarcas))
			for sb := range freq.Submarcas {
				subs = append(subs, sb)
			}
			sort.Slice(subs, func(i, j int) bool {
				if freq.Submarcas[subs[i]] != freq.Submarcas[subs[j]] {
					return freq.Submarcas[subs[i]] > freq.Submarcas[subs[j]]
				}
				return subs[i] < subs[j]
			})
			fmt.Fprintf(&b, "; submarcas: %s", strings.Join(subs, ", "))
		}

		if len(freq.Tipvehs) > 0 {
			tipvehs := make([]string, 0, len(freq.Tipvehs))
			for tv := range freq.Tipvehs {
				tipvehs = append(tipvehs, tv)
			}
			sort.Strings(tipvehs)
			fmt.Fprintf(&b, "; tipveh: %s", strings.Join(tipvehs, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nIdentify marca, submarca and tipveh. Return JSON matching the schema.")
	return b.String()
}
