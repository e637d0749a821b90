package rank

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hurttlocker/cvegs/internal/extract"
	"github.com/hurttlocker/cvegs/internal/filter"
	"github.com/hurttlocker/cvegs/internal/llm"
)

type scriptedEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (s *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.vector, nil
}

func (s *scriptedEmbedder) Dimensions() int { return len(s.vector) }

type scriptedLLM struct {
	response string
	err      error
	calls    int
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *scriptedLLM) Name() string { return "test/scripted" }

func cand(cvegs, descveh string, embedding []float32) *filter.Candidate {
	return &filter.Candidate{CVEGS: cvegs, Descveh: descveh, Embedding: embedding, FilterScore: 1.0}
}

func TestRerankFuzzyPass(t *testing.T) {
	r := NewReranker(nil, RerankerOptions{})
	cands := []*filter.Candidate{
		cand("A", "toyota yaris sol l", nil),
		cand("B", "nissan np300 doble cabina", nil),
	}
	got := r.Rerank(context.Background(), "toyota yaris sol l", cands)

	if got[0].CVEGS != "A" {
		t.Fatalf("exact description must rank first, got %q", got[0].CVEGS)
	}
	if got[0].FuzzyScore != 1.0 {
		t.Fatalf("identical strings must score 1.0, got %v", got[0].FuzzyScore)
	}
	if got[1].FuzzyScore >= got[0].FuzzyScore {
		t.Fatalf("unrelated description must score lower: %v", got[1].FuzzyScore)
	}
}

func TestRerankEmbeddingOrdersResult(t *testing.T) {
	emb := &scriptedEmbedder{vector: []float32{1, 0}}
	r := NewReranker(emb, RerankerOptions{})
	cands := []*filter.Candidate{
		cand("ORTHO", "zzz", []float32{0, 1}),  // cos 0 → 0.5
		cand("ALIGN", "zzz", []float32{1, 0}),  // cos 1 → 1.0
		cand("OPPOS", "zzz", []float32{-1, 0}), // cos -1 → 0.0
	}
	got := r.Rerank(context.Background(), "query", cands)

	if emb.calls != 1 {
		t.Fatalf("query must embed exactly once, got %d calls", emb.calls)
	}
	want := []string{"ALIGN", "ORTHO", "OPPOS"}
	for i, w := range want {
		if got[i].CVEGS != w {
			t.Fatalf("position %d: got %q, want %q", i, got[i].CVEGS, w)
		}
	}
	if got[0].SimilarityScore != 1.0 || got[1].SimilarityScore != 0.5 || got[2].SimilarityScore != 0.0 {
		t.Fatalf("unexpected similarities: %v %v %v",
			got[0].SimilarityScore, got[1].SimilarityScore, got[2].SimilarityScore)
	}
}

func TestRerankMissingEmbeddingScoresZero(t *testing.T) {
	emb := &scriptedEmbedder{vector: []float32{1, 0}}
	r := NewReranker(emb, RerankerOptions{})
	cands := []*filter.Candidate{cand("X", "zzz", nil)}
	got := r.Rerank(context.Background(), "query", cands)
	if got[0].SimilarityScore != 0 {
		t.Fatalf("missing embedding must score 0, got %v", got[0].SimilarityScore)
	}
}

func TestRerankEmbedderFailureFallsBackToFuzzy(t *testing.T) {
	emb := &scriptedEmbedder{err: errors.New("service down")}
	r := NewReranker(emb, RerankerOptions{})
	cands := []*filter.Candidate{
		cand("FAR", "nissan np300", []float32{1, 0}),
		cand("NEAR", "honda civic turbo", []float32{0, 1}),
	}
	got := r.Rerank(context.Background(), "honda civic turbo", cands)

	if got[0].CVEGS != "NEAR" {
		t.Fatalf("fuzzy order must decide on embed failure, got %q first", got[0].CVEGS)
	}
	for _, c := range got {
		if c.SimilarityScore != 0 {
			t.Fatalf("similarity must be zero on embed failure, got %v", c.SimilarityScore)
		}
	}
}

func TestRerankTopNCut(t *testing.T) {
	r := NewReranker(nil, RerankerOptions{TopN: 2})
	cands := []*filter.Candidate{
		cand("A", "honda civic", nil),
		cand("B", "honda civic turbo", nil),
		cand("C", "nissan versa", nil),
	}
	got := r.Rerank(context.Background(), "honda civic turbo", cands)
	if len(got) != 2 {
		t.Fatalf("expected the top 2 eligible, got %d", len(got))
	}
	// Ineligible candidates keep their scores.
	if cands[2].FuzzyScore == 0 {
		t.Fatal("cut candidates must retain fuzzy scores")
	}
}

func TestRerankTieBreaksOnCVEGS(t *testing.T) {
	r := NewReranker(nil, RerankerOptions{})
	cands := []*filter.Candidate{
		cand("B2", "same text", nil),
		cand("A1", "same text", nil),
	}
	got := r.Rerank(context.Background(), "same text", cands)
	if got[0].CVEGS != "A1" {
		t.Fatalf("ties must break on cvegs, got %q first", got[0].CVEGS)
	}
}

func TestRerankEmpty(t *testing.T) {
	r := NewReranker(nil, RerankerOptions{})
	if got := r.Rerank(context.Background(), "query", nil); got != nil {
		t.Fatalf("empty input must return nil, got %v", got)
	}
}

func TestRescoreAppliesConfidences(t *testing.T) {
	provider := &scriptedLLM{response: `[{"index": 0, "confidence": 0.9}, {"index": 1, "confidence": 0.2}]`}
	rs := NewRescorer(provider, RescorerOptions{})
	cands := []*filter.Candidate{cand("A", "toyota yaris", nil), cand("B", "nissan versa", nil)}

	rs.Rescore(context.Background(), 2022, "toyota yaris", cands)
	if provider.calls != 1 {
		t.Fatalf("expected one batched call, got %d", provider.calls)
	}
	if cands[0].LLMScore != 0.9 || cands[1].LLMScore != 0.2 {
		t.Fatalf("scores not applied: %v %v", cands[0].LLMScore, cands[1].LLMScore)
	}
}

func TestRescoreMalformedDefaultsToZero(t *testing.T) {
	provider := &scriptedLLM{response: "I am not JSON"}
	rs := NewRescorer(provider, RescorerOptions{})
	cands := []*filter.Candidate{cand("A", "x", nil)}
	cands[0].LLMScore = 0.5 // stale value must be cleared

	rs.Rescore(context.Background(), 2022, "x", cands)
	if cands[0].LLMScore != 0 {
		t.Fatalf("malformed output must zero all scores, got %v", cands[0].LLMScore)
	}
}

func TestRescoreFailureDefaultsToZero(t *testing.T) {
	provider := &scriptedLLM{err: errors.New("deadline exceeded")}
	rs := NewRescorer(provider, RescorerOptions{})
	cands := []*filter.Candidate{cand("A", "x", nil)}

	rs.Rescore(context.Background(), 2022, "x", cands)
	if cands[0].LLMScore != 0 {
		t.Fatalf("failure must zero all scores, got %v", cands[0].LLMScore)
	}
}

func TestRescoreIgnoresBadEntries(t *testing.T) {
	provider := &scriptedLLM{response: `[{"index": 7, "confidence": 0.9}, {"index": 0, "confidence": 1.7}]`}
	rs := NewRescorer(provider, RescorerOptions{})
	cands := []*filter.Candidate{cand("A", "x", nil)}

	rs.Rescore(context.Background(), 2022, "x", cands)
	if cands[0].LLMScore != 1.0 {
		t.Fatalf("confidence must clamp to 1.0, got %v", cands[0].LLMScore)
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	bad := Weights{Filter: 0.5, Fuzzy: 0.3, Similarity: 0.3, LLM: 0.1} // sum 1.2
	if err := bad.Validate(); err == nil {
		t.Fatal("sum 1.2 must be rejected")
	}
	negative := Weights{Filter: -0.1, Fuzzy: 0.4, Similarity: 0.4, LLM: 0.3}
	if err := negative.Validate(); err == nil {
		t.Fatal("negative weight must be rejected")
	}
	if _, err := NewMixer(MixerOptions{Weights: &bad}); err == nil {
		t.Fatal("mixer must refuse invalid weights at construction")
	}
}

func TestValidateThresholds(t *testing.T) {
	if err := ValidateThresholds(DefaultThresholds()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	inverted := map[string]ThresholdPair{ClassDefault: {High: 0.5, Low: 0.8}}
	if err := ValidateThresholds(inverted); err == nil {
		t.Fatal("high <= low must be rejected")
	}
	missing := map[string]ThresholdPair{ClassPassenger: {High: 0.9, Low: 0.7}}
	if err := ValidateThresholds(missing); err == nil {
		t.Fatal("missing default class must be rejected")
	}
}

func TestMixWeightedSum(t *testing.T) {
	m, err := NewMixer(MixerOptions{})
	if err != nil {
		t.Fatalf("NewMixer: %v", err)
	}
	c := cand("A", "x", nil)
	c.FilterScore, c.FuzzyScore, c.SimilarityScore, c.LLMScore = 1.0, 0.8, 0.6, 0.4

	out := m.Mix([]*filter.Candidate{c}, extract.FieldConfidence{})
	want := 0.25*1.0 + 0.20*0.8 + 0.25*0.6 + 0.30*0.4
	if math.Abs(c.FinalScore-want) > 1e-9 {
		t.Fatalf("final score = %v, want %v", c.FinalScore, want)
	}
	if out.Confidence != c.FinalScore {
		t.Fatalf("confidence must equal the best final score")
	}
}

func TestMixDecisionThresholds(t *testing.T) {
	m, err := NewMixer(MixerOptions{})
	if err != nil {
		t.Fatalf("NewMixer: %v", err)
	}

	perfect := cand("A", "x", nil)
	perfect.Tipveh = "auto"
	perfect.FilterScore, perfect.FuzzyScore, perfect.SimilarityScore, perfect.LLMScore = 1, 1, 1, 1
	out := m.Mix([]*filter.Candidate{perfect}, extract.FieldConfidence{})
	if out.Decision != DecisionAutoAccept || out.SuggestedCVEGS != "A" {
		t.Fatalf("score 1.0 on passenger must auto-accept, got %+v", out)
	}

	// 0.8 clears the commercial high cut (0.75) but not the passenger one (0.90).
	middling := cand("B", "x", nil)
	middling.Tipveh = "tracto camion"
	middling.FilterScore, middling.FuzzyScore, middling.SimilarityScore, middling.LLMScore = 0.8, 0.8, 0.8, 0.8
	out = m.Mix([]*filter.Candidate{middling}, extract.FieldConfidence{})
	if out.ThresholdClass != ClassCommercial {
		t.Fatalf("tracto camion must classify commercial, got %q", out.ThresholdClass)
	}
	if out.Decision != DecisionAutoAccept {
		t.Fatalf("0.8 must auto-accept on commercial thresholds, got %+v", out)
	}

	asPassenger := cand("C", "x", nil)
	asPassenger.Tipveh = "auto"
	asPassenger.FilterScore, asPassenger.FuzzyScore, asPassenger.SimilarityScore, asPassenger.LLMScore = 0.8, 0.8, 0.8, 0.8
	out = m.Mix([]*filter.Candidate{asPassenger}, extract.FieldConfidence{})
	if out.Decision != DecisionNeedsReview {
		t.Fatalf("0.8 must need review on passenger thresholds, got %+v", out)
	}

	weak := cand("D", "x", nil)
	weak.Tipveh = "auto"
	weak.FilterScore = 0.8 // final 0.2
	out = m.Mix([]*filter.Candidate{weak}, extract.FieldConfidence{})
	if out.Decision != DecisionNoMatch || out.SuggestedCVEGS != "" {
		t.Fatalf("weak score must be no_match with empty suggestion, got %+v", out)
	}
}

func TestMixExtractedTipvehOverridesClass(t *testing.T) {
	m, err := NewMixer(MixerOptions{})
	if err != nil {
		t.Fatalf("NewMixer: %v", err)
	}
	c := cand("A", "x", nil)
	c.Tipveh = "auto"
	c.FilterScore, c.FuzzyScore, c.SimilarityScore, c.LLMScore = 0.8, 0.8, 0.8, 0.8

	out := m.Mix([]*filter.Candidate{c}, extract.FieldConfidence{Value: "pickup", Confidence: 1.0})
	if out.ThresholdClass != ClassCommercial {
		t.Fatalf("high-confidence extracted tipveh must pick the class, got %q", out.ThresholdClass)
	}

	out = m.Mix([]*filter.Candidate{c}, extract.FieldConfidence{Value: "pickup", Confidence: 0.5})
	if out.ThresholdClass != ClassPassenger {
		t.Fatalf("low-confidence extracted tipveh must not override, got %q", out.ThresholdClass)
	}
}

func TestMixReviewListAndQuality(t *testing.T) {
	m, err := NewMixer(MixerOptions{})
	if err != nil {
		t.Fatalf("NewMixer: %v", err)
	}

	var cands []*filter.Candidate
	for _, c := range []struct {
		cvegs  string
		filter float64
	}{
		{"A", 1.0}, {"B", 0.9}, {"C", 0.8}, {"D", 0.7}, {"E", 0.6}, {"F", 0.5},
	} {
		cc := cand(c.cvegs, "x", nil)
		cc.Tipveh = "auto"
		cc.FilterScore = c.filter
		cands = append(cands, cc)
	}

	// Best final score is 0.25 → no_match, review list of 5.
	out := m.Mix(cands, extract.FieldConfidence{})
	if out.Decision != DecisionNoMatch {
		t.Fatalf("expected no_match, got %+v", out)
	}
	if len(out.Candidates) != 5 {
		t.Fatalf("no_match review list must hold 5, got %d", len(out.Candidates))
	}
	if out.Candidates[0].CVEGS != "A" {
		t.Fatalf("review list must be final-score ordered, got %q first", out.Candidates[0].CVEGS)
	}
	for _, c := range out.Candidates {
		if c.Quality != QualityVeryLow {
			t.Fatalf("scores below low/2 must label very_low, got %q at %v", c.Quality, c.FinalScore)
		}
	}
}

func TestMixEmptyCandidates(t *testing.T) {
	m, err := NewMixer(MixerOptions{})
	if err != nil {
		t.Fatalf("NewMixer: %v", err)
	}
	out := m.Mix(nil, extract.FieldConfidence{})
	if out.Decision != DecisionNoMatch || out.SuggestedCVEGS != "" || len(out.Candidates) != 0 {
		t.Fatalf("empty input must be a bare no_match, got %+v", out)
	}
}
