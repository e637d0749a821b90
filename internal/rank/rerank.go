// Package rank scores and orders filtered candidates: a fuzzy pass over the
// catalog descriptions, an embedding-similarity pass, an LLM rescore of the
// leaders, and finally the weighted mix that produces the decision.
package rank

import (
	"context"
	"sort"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"go.uber.org/zap"

	"github.com/hurttlocker/cvegs/internal/embed"
	"github.com/hurttlocker/cvegs/internal/filter"
)

// DefaultTopN is how many leaders stay eligible for the LLM rescore and the
// final match.
const DefaultTopN = 20

// Reranker runs the fuzzy and embedding passes.
type Reranker struct {
	embedder embed.Embedder // nil disables the embedding pass
	log      *zap.Logger
	topN     int
}

// RerankerOptions configures a Reranker.
type RerankerOptions struct {
	TopN   int // zero means DefaultTopN
	Logger *zap.Logger
}

// NewReranker creates a Reranker. embedder may be nil; ordering then falls
// back to the fuzzy scores alone.
func NewReranker(embedder embed.Embedder, opts RerankerOptions) *Reranker {
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Reranker{embedder: embedder, log: log, topN: topN}
}

// Rerank scores every candidate in place and returns the eligible leaders.
// Candidates beyond the cut keep their scores but cannot become the final
// match. The input slice is reordered.
func (r *Reranker) Rerank(ctx context.Context, description string, cands []*filter.Candidate) []*filter.Candidate {
	if len(cands) == 0 {
		return nil
	}

	for _, c := range cands {
		c.FuzzyScore = float64(fuzzy.Ratio(description, c.Descveh)) / 100.0
	}

	bySimilarity := r.embeddingPass(ctx, description, cands)

	key := func(c *filter.Candidate) float64 { return c.SimilarityScore }
	if !bySimilarity {
		key = func(c *filter.Candidate) float64 { return c.FuzzyScore }
	}
	sort.Slice(cands, func(i, j int) bool {
		if key(cands[i]) != key(cands[j]) {
			return key(cands[i]) > key(cands[j])
		}
		return cands[i].CVEGS < cands[j].CVEGS
	})

	if len(cands) > r.topN {
		return cands[:r.topN]
	}
	return cands
}

// embeddingPass writes SimilarityScore on every candidate. It reports whether
// the pass ran; on embedder failure all similarities are zero and ordering
// falls back to the fuzzy scores.
func (r *Reranker) embeddingPass(ctx context.Context, description string, cands []*filter.Candidate) bool {
	if r.embedder == nil {
		return false
	}

	query, err := r.embedder.Embed(ctx, description)
	if err != nil {
		r.log.Warn("query embedding failed; ranking by fuzzy score", zap.Error(err))
		for _, c := range cands {
			c.SimilarityScore = 0
		}
		return false
	}

	for _, c := range cands {
		c.SimilarityScore = similarity(query, c.Embedding)
	}
	return true
}

// similarity maps the cosine of two L2-normalized vectors into [0,1].
// A missing or mismatched embedding scores zero.
func similarity(query, candidate []float32) float64 {
	if len(candidate) == 0 || len(candidate) != len(query) {
		return 0
	}
	var dot float64
	for i := range query {
		dot += float64(query[i]) * float64(candidate[i])
	}
	s := (dot + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
