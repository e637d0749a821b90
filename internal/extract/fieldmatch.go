package extract

import (
	"sort"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
)

// Fuzzy acceptance ladder for stage B.
const (
	fuzzyAcceptThreshold = 0.8
	fuzzyMediumThreshold = 0.6
	fuzzyWeakThreshold   = 0.4
	fuzzyAcceptCap       = 0.95
	fuzzyMediumFactor    = 0.8
	fuzzyWeakFactor      = 0.6
)

// matchField resolves one catalog field against a description.
//
// Stage A tries candidates longest-first as literal substrings, so
// "tracto camion" beats "tracto" when both occur. A hit is certain:
// confidence 1.0, method direct.
//
// Stage B falls back to fuzzy matching: per candidate the max of partial
// ratio and token-sort ratio, then the overall max across candidates.
// Candidates are visited in lexicographic order and only a strictly better
// score replaces the incumbent, so ties resolve deterministically.
func matchField(desc string, candidates []string) FieldConfidence {
	if desc == "" || len(candidates) == 0 {
		return FieldConfidence{Method: MethodNone}
	}

	// Stage A: longest candidate first; equal lengths lexicographically.
	byLength := make([]string, len(candidates))
	copy(byLength, candidates)
	sort.Slice(byLength, func(i, j int) bool {
		if len(byLength[i]) != len(byLength[j]) {
			return len(byLength[i]) > len(byLength[j])
		}
		return byLength[i] < byLength[j]
	})
	for _, cand := range byLength {
		if cand != "" && strings.Contains(desc, cand) {
			return FieldConfidence{Value: cand, Confidence: 1.0, Method: MethodDirect}
		}
	}

	// Stage B: fuzzy ladder.
	byName := make([]string, len(candidates))
	copy(byName, candidates)
	sort.Strings(byName)

	var (
		bestValue  string
		bestScore  float64
		bestMethod Method
	)
	for _, cand := range byName {
		if cand == "" {
			continue
		}
		partial := float64(fuzzy.PartialRatio(desc, cand)) / 100.0
		tokenSort := float64(fuzzy.TokenSortRatio(desc, cand)) / 100.0

		score := partial
		method := MethodFuzzyPartial
		if tokenSort > partial {
			score = tokenSort
			method = MethodFuzzyToken
		}
		if score > bestScore {
			bestValue = cand
			bestScore = score
			bestMethod = method
		}
	}

	switch {
	case bestScore >= fuzzyAcceptThreshold:
		conf := bestScore
		if conf > fuzzyAcceptCap {
			conf = fuzzyAcceptCap
		}
		return FieldConfidence{Value: bestValue, Confidence: conf, Method: bestMethod}
	case bestScore >= fuzzyMediumThreshold:
		return FieldConfidence{Value: bestValue, Confidence: bestScore * fuzzyMediumFactor, Method: bestMethod}
	case bestScore >= fuzzyWeakThreshold:
		return FieldConfidence{Value: bestValue, Confidence: bestScore * fuzzyWeakFactor, Method: bestMethod}
	default:
		return FieldConfidence{Method: MethodNone}
	}
}

// trimMatched removes the first occurrence of value from the working
// description. Fuzzy winners that do not literally occur leave the text
// intact, since there is no exact span to cut.
func trimMatched(desc, value string) string {
	if value == "" {
		return desc
	}
	idx := strings.Index(desc, value)
	if idx < 0 {
		return desc
	}
	trimmed := desc[:idx] + " " + desc[idx+len(value):]
	return strings.Join(strings.Fields(trimmed), " ")
}
