package rank

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hurttlocker/cvegs/internal/extract"
	"github.com/hurttlocker/cvegs/internal/filter"
)

// Decision is the pipeline verdict for one request.
type Decision string

const (
	DecisionAutoAccept  Decision = "auto_accept"
	DecisionNeedsReview Decision = "needs_review"
	DecisionNoMatch     Decision = "no_match"
)

// Quality labels for review candidates.
const (
	QualityHigh    = "high"
	QualityMedium  = "medium"
	QualityLow     = "low"
	QualityVeryLow = "very_low"
)

// Weights blend the four scoring signals into the final score. They must sum
// to 1 within 0.01.
type Weights struct {
	Filter     float64 `yaml:"filter" json:"filter"`
	Fuzzy      float64 `yaml:"fuzzy" json:"fuzzy"`
	Similarity float64 `yaml:"similarity" json:"similarity"`
	LLM        float64 `yaml:"llm" json:"llm"`
}

// DefaultWeights returns the standard signal blend.
func DefaultWeights() Weights {
	return Weights{Filter: 0.25, Fuzzy: 0.20, Similarity: 0.25, LLM: 0.30}
}

// Validate rejects weight sets that are negative or do not sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"filter": w.Filter, "fuzzy": w.Fuzzy, "similarity": w.Similarity, "llm": w.LLM,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s is negative: %v", name, v)
		}
	}
	sum := w.Filter + w.Fuzzy + w.Similarity + w.LLM
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("weights must sum to 1.0 (got %.3f)", sum)
	}
	return nil
}

// ThresholdPair is the (auto-accept, review) cut for one vehicle class.
type ThresholdPair struct {
	High float64 `yaml:"high" json:"high"`
	Low  float64 `yaml:"low" json:"low"`
}

// Vehicle classes for threshold selection.
const (
	ClassPassenger  = "passenger"
	ClassCommercial = "commercial"
	ClassMotorcycle = "motorcycle"
	ClassDefault    = "default"
)

// DefaultThresholds returns the per-class threshold pairs. Commercial
// descriptions are noisier than passenger ones, so their cuts sit lower.
func DefaultThresholds() map[string]ThresholdPair {
	return map[string]ThresholdPair{
		ClassPassenger:  {High: 0.90, Low: 0.70},
		ClassCommercial: {High: 0.75, Low: 0.55},
		ClassMotorcycle: {High: 0.85, Low: 0.65},
		ClassDefault:    {High: 0.80, Low: 0.60},
	}
}

// ValidateThresholds checks ordering and range for every class pair.
func ValidateThresholds(m map[string]ThresholdPair) error {
	if _, ok := m[ClassDefault]; !ok {
		return fmt.Errorf("thresholds must include the %q class", ClassDefault)
	}
	for class, p := range m {
		if p.High <= p.Low {
			return fmt.Errorf("threshold %s: high (%v) must exceed low (%v)", class, p.High, p.Low)
		}
		if p.Low <= 0 || p.High > 1 {
			return fmt.Errorf("threshold %s: pair (%v, %v) out of (0,1]", class, p.High, p.Low)
		}
	}
	return nil
}

var tipvehClasses = map[string]string{
	"auto": ClassPassenger, "sedan": ClassPassenger, "hatchback": ClassPassenger,
	"coupe": ClassPassenger,
	"camioneta": ClassCommercial, "pickup": ClassCommercial, "truck": ClassCommercial,
	"tracto": ClassCommercial, "tracto camion": ClassCommercial,
	"motocicleta": ClassMotorcycle, "motorcycle": ClassMotorcycle,
	"moto": ClassMotorcycle, "scooter": ClassMotorcycle,
}

// classifyTipveh maps a tipveh value onto a threshold class. Exact values
// first, then token membership so compound values like "camion tracto 4x2"
// still land in a class.
func classifyTipveh(tipveh string) string {
	if class, ok := tipvehClasses[tipveh]; ok {
		return class
	}
	for _, tok := range strings.Fields(tipveh) {
		if class, ok := tipvehClasses[tok]; ok {
			return class
		}
	}
	return ClassDefault
}

// ReviewListSizes caps the emitted candidate list per decision.
type ReviewListSizes struct {
	AutoAccept  int `yaml:"auto_accept" json:"auto_accept"`
	NeedsReview int `yaml:"needs_review" json:"needs_review"`
	NoMatch     int `yaml:"no_match" json:"no_match"`
}

// DefaultReviewListSizes gives reviewers more context when nothing matched.
func DefaultReviewListSizes() ReviewListSizes {
	return ReviewListSizes{AutoAccept: 3, NeedsReview: 3, NoMatch: 5}
}

// Outcome is the mixer verdict.
type Outcome struct {
	Decision       Decision
	SuggestedCVEGS string // empty iff Decision is no_match
	Confidence     float64
	ThresholdClass string
	Candidates     []*filter.Candidate // review list, final-score order
}

// Mixer fuses the four signals, applies type-dependent thresholds, and emits
// the decision with its review list. It is the only writer of FinalScore.
type Mixer struct {
	weights    Weights
	thresholds map[string]ThresholdPair
	sizes      ReviewListSizes
	log        *zap.Logger
}

// MixerOptions configures a Mixer. Zero values take the defaults.
type MixerOptions struct {
	Weights    *Weights
	Thresholds map[string]ThresholdPair
	Sizes      *ReviewListSizes
	Logger     *zap.Logger
}

// NewMixer validates the configuration once, at construction. A bad weight
// or threshold set is a startup error, never a per-request one.
func NewMixer(opts MixerOptions) (*Mixer, error) {
	weights := DefaultWeights()
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	thresholds := opts.Thresholds
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	if err := ValidateThresholds(thresholds); err != nil {
		return nil, err
	}

	sizes := DefaultReviewListSizes()
	if opts.Sizes != nil {
		sizes = *opts.Sizes
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Mixer{weights: weights, thresholds: thresholds, sizes: sizes, log: log}, nil
}

// Mix computes final scores for the eligible candidates and decides. The
// extracted tipveh selects the threshold class when it is high-confidence;
// otherwise the best candidate's own tipveh does.
func (m *Mixer) Mix(cands []*filter.Candidate, extractedTipveh extract.FieldConfidence) Outcome {
	if len(cands) == 0 {
		return Outcome{Decision: DecisionNoMatch, ThresholdClass: ClassDefault}
	}

	for _, c := range cands {
		c.FinalScore = m.weights.Filter*c.FilterScore +
			m.weights.Fuzzy*c.FuzzyScore +
			m.weights.Similarity*c.SimilarityScore +
			m.weights.LLM*c.LLMScore
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].FinalScore != cands[j].FinalScore {
			return cands[i].FinalScore > cands[j].FinalScore
		}
		return cands[i].CVEGS < cands[j].CVEGS
	})

	best := cands[0]
	tipveh := best.Tipveh
	if extractedTipveh.Confidence >= 0.9 && extractedTipveh.Value != "" {
		tipveh = extractedTipveh.Value
	}
	class := classifyTipveh(tipveh)
	pair, ok := m.thresholds[class]
	if !ok {
		pair = m.thresholds[ClassDefault]
	}

	out := Outcome{Confidence: best.FinalScore, ThresholdClass: class}
	switch {
	case best.FinalScore >= pair.High:
		out.Decision = DecisionAutoAccept
		out.SuggestedCVEGS = best.CVEGS
	case best.FinalScore >= pair.Low:
		out.Decision = DecisionNeedsReview
		out.SuggestedCVEGS = best.CVEGS
	default:
		out.Decision = DecisionNoMatch
	}

	limit := m.reviewLimit(out.Decision)
	if limit > len(cands) {
		limit = len(cands)
	}
	out.Candidates = cands[:limit]
	for _, c := range out.Candidates {
		c.Quality = qualityLabel(c.FinalScore, pair)
	}
	return out
}

func (m *Mixer) reviewLimit(d Decision) int {
	switch d {
	case DecisionAutoAccept:
		return m.sizes.AutoAccept
	case DecisionNeedsReview:
		return m.sizes.NeedsReview
	default:
		return m.sizes.NoMatch
	}
}

// qualityLabel buckets a final score against the selected threshold pair.
func qualityLabel(score float64, pair ThresholdPair) string {
	switch {
	case score >= pair.High:
		return QualityHigh
	case score >= pair.Low:
		return QualityMedium
	case score >= pair.Low/2:
		return QualityLow
	default:
		return QualityVeryLow
	}
}
