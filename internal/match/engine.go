// Package match orchestrates the full codification pipeline: normalize,
// extract, filter, rerank, rescore, decide.
//
// Within a request the stages run strictly in order; each external call
// observes the request deadline and degrades locally on failure, so a request
// that enters the pipeline always leaves with a decision. Only invalid input
// and a missing catalog snapshot surface as errors.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hurttlocker/cvegs/internal/catalog"
	"github.com/hurttlocker/cvegs/internal/extract"
	"github.com/hurttlocker/cvegs/internal/filter"
	"github.com/hurttlocker/cvegs/internal/metrics"
	"github.com/hurttlocker/cvegs/internal/normalize"
	"github.com/hurttlocker/cvegs/internal/preprocess"
	"github.com/hurttlocker/cvegs/internal/rank"
)

// DefaultDeadline bounds a single match end to end.
const DefaultDeadline = 10 * time.Second

var (
	ErrMissingYear        = errors.New("year is required")
	ErrMissingDescription = errors.New("description is required")
	ErrCatalogNotLoaded   = errors.New("catalog snapshot not loaded")
)

// Request is one codification request.
type Request struct {
	Year        int           `json:"year"`
	Description string        `json:"description"`
	Deadline    time.Duration `json:"-"` // zero means the engine default
	Debug       bool          `json:"-"`
}

// Result is the pipeline output for one request.
type Result struct {
	Decision         rank.Decision       `json:"decision"`
	SuggestedCVEGS   string              `json:"suggested_cvegs,omitempty"`
	Confidence       float64             `json:"confidence"`
	ExtractedFields  extract.Fields      `json:"extracted_fields"`
	Candidates       []*filter.Candidate `json:"candidates"`
	ProcessingTimeMS float64             `json:"processing_time_ms"`
	Diagnostics      *Diagnostics        `json:"diagnostics,omitempty"`
}

// Diagnostics carries per-request internals, emitted only in debug mode.
type Diagnostics struct {
	RequestID           string   `json:"request_id"`
	SnapshotVersion     int64    `json:"snapshot_version"`
	NormalizedInput     string   `json:"normalized_input"`
	FilterFallbackLevel int      `json:"filter_fallback_level"`
	FilterClauseCount   int      `json:"filter_clause_count"`
	CandidateCount      int      `json:"candidate_count"`
	EligibleCount       int      `json:"eligible_count"`
	ThresholdClass      string   `json:"threshold_class"`
	Notes               []string `json:"notes,omitempty"`
}

// Engine runs the pipeline. All stage components are shared across requests;
// per-request state lives on the stack.
type Engine struct {
	cache        *catalog.Cache
	preprocessor *preprocess.Preprocessor
	extractor    *extract.Extractor
	filterer     *filter.Engine
	reranker     *rank.Reranker
	rescorer     *rank.Rescorer
	mixer        *rank.Mixer

	deadline time.Duration
	debug    bool
	log      *zap.Logger
}

// Options assembles an Engine. Cache, Extractor, Filter, Reranker, Rescorer
// and Mixer are required; Preprocessor is only needed for record batches.
type Options struct {
	Cache        *catalog.Cache
	Preprocessor *preprocess.Preprocessor
	Extractor    *extract.Extractor
	Filter       *filter.Engine
	Reranker     *rank.Reranker
	Rescorer     *rank.Rescorer
	Mixer        *rank.Mixer

	Deadline time.Duration // zero means DefaultDeadline
	Debug    bool
	Logger   *zap.Logger
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf("match engine requires a catalog cache")
	}
	for name, missing := range map[string]bool{
		"extractor": opts.Extractor == nil,
		"filter":    opts.Filter == nil,
		"reranker":  opts.Reranker == nil,
		"rescorer":  opts.Rescorer == nil,
		"mixer":     opts.Mixer == nil,
	} {
		if missing {
			return nil, fmt.Errorf("match engine requires a %s", name)
		}
	}

	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cache:        opts.Cache,
		preprocessor: opts.Preprocessor,
		extractor:    opts.Extractor,
		filterer:     opts.Filter,
		reranker:     opts.Reranker,
		rescorer:     opts.Rescorer,
		mixer:        opts.Mixer,
		deadline:     deadline,
		debug:        opts.Debug,
		log:          log,
	}, nil
}

// Match codifies one (year, description) pair.
func (e *Engine) Match(ctx context.Context, req Request) (*Result, error) {
	if req.Year == 0 {
		return nil, ErrMissingYear
	}
	description := normalize.Text(req.Description)
	if description == "" {
		return nil, ErrMissingDescription
	}

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = e.deadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	snap, err := e.cache.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogNotLoaded, err)
	}

	start := time.Now()
	requestID := uuid.NewString()
	diag := &Diagnostics{
		RequestID:       requestID,
		SnapshotVersion: snap.Version,
		NormalizedInput: description,
	}
	log := e.log.With(zap.String("request_id", requestID), zap.Int("year", req.Year))

	fields := e.extractor.Extract(ctx, description, snap.Index(req.Year))

	fres := e.filterer.Filter(snap, req.Year, fields)
	diag.FilterFallbackLevel = fres.FallbackLevel
	diag.FilterClauseCount = fres.ClauseCount
	diag.CandidateCount = len(fres.Candidates)
	if fres.FallbackLevel > 0 {
		metrics.FilterFallbacks.WithLabelValues(fmt.Sprintf("%d", fres.FallbackLevel)).Inc()
	}

	var outcome rank.Outcome
	if len(fres.Candidates) == 0 {
		diag.Notes = append(diag.Notes, fmt.Sprintf("no catalog records for year %d", req.Year))
		outcome = rank.Outcome{Decision: rank.DecisionNoMatch}
	} else {
		eligible := e.reranker.Rerank(ctx, description, fres.Candidates)
		diag.EligibleCount = len(eligible)

		e.rescorer.Rescore(ctx, req.Year, description, eligible)

		outcome = e.mixer.Mix(eligible, fields.Tipveh)
		diag.ThresholdClass = outcome.ThresholdClass
	}

	elapsed := time.Since(start)
	metrics.MatchDuration.Observe(elapsed.Seconds())
	metrics.Decisions.WithLabelValues(string(outcome.Decision)).Inc()

	result := &Result{
		Decision:         outcome.Decision,
		SuggestedCVEGS:   outcome.SuggestedCVEGS,
		Confidence:       outcome.Confidence,
		ExtractedFields:  fields,
		Candidates:       outcome.Candidates,
		ProcessingTimeMS: float64(elapsed.Microseconds()) / 1000.0,
	}
	if result.Candidates == nil {
		result.Candidates = []*filter.Candidate{}
	}
	if e.debug || req.Debug {
		result.Diagnostics = diag
	}

	log.Info("match complete",
		zap.String("decision", string(outcome.Decision)),
		zap.String("suggested", outcome.SuggestedCVEGS),
		zap.Float64("confidence", outcome.Confidence),
		zap.Int("candidates", len(result.Candidates)),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

// Refresh rebuilds the catalog snapshot immediately.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.cache.Refresh(ctx)
}

// Stats reports the published snapshot, or an error when none is loaded.
func (e *Engine) Stats() (catalog.Stats, error) {
	snap, err := e.cache.Snapshot()
	if err != nil {
		return catalog.Stats{}, err
	}
	return snap.Stats(), nil
}
