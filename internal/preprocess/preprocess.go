// Package preprocess turns heterogeneous input records into the canonical
// (year, description) pair the pipeline consumes.
//
// Callers rarely control their upstream column names: batches arrive with
// headers like "MODELO", "anio", "DESCRIPCION VEHICULO" or worse. Field roles
// are discovered by scoring every observed field across all rows: how often
// its values parse as a plausible model year, how much its values look like
// free-text vehicle descriptions. The winner above a minimum threshold
// takes the role. When scoring cannot decide, a compact sample of rows goes
// to the LLM for a suggestion, which is accepted only if it names an extant
// field.
package preprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/hurttlocker/cvegs/internal/llm"
	"github.com/hurttlocker/cvegs/internal/normalize"
)

const (
	// minRoleScore is the floor below which a field cannot take a role
	// without LLM confirmation.
	minRoleScore = 0.3

	// assistTimeout bounds the LLM consultation; field discovery must not
	// stall a batch.
	assistTimeout = 8 * time.Second

	// assistSampleRows caps how many rows the LLM sees.
	assistSampleRows = 5
)

// vehicleVocabulary are tokens that mark a value as a vehicle description.
var vehicleVocabulary = map[string]struct{}{
	"auto": {}, "sedan": {}, "hatchback": {}, "coupe": {}, "camion": {},
	"camioneta": {}, "pickup": {}, "tracto": {}, "chasis": {}, "van": {},
	"wagon": {}, "motocicleta": {}, "moto": {}, "diesel": {}, "gasolina": {},
	"turbo": {}, "motor": {}, "cilindros": {}, "puertas": {}, "cabina": {},
	"doble": {}, "automatico": {}, "estandar": {}, "4x2": {}, "4x4": {},
	"toyota": {}, "nissan": {}, "ford": {}, "chevrolet": {}, "volkswagen": {},
	"honda": {}, "mazda": {}, "kia": {}, "hyundai": {}, "international": {},
	"kenworth": {}, "freightliner": {}, "mercedes": {}, "bmw": {}, "audi": {},
}

// Row is one preprocessed input: a model year and a normalized description.
type Row struct {
	Year        int    `json:"year"`
	Description string `json:"description"`
}

// Options configures a Preprocessor.
type Options struct {
	Logger           *zap.Logger
	MinVehicleYear   int // default 1950
	FutureYearsAhead int // default 5
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Preprocessor discovers field roles and normalizes input rows.
type Preprocessor struct {
	provider llm.Provider // nil disables the LLM assist
	log      *zap.Logger
	minYear  int
	maxYear  int
}

// New creates a Preprocessor. provider may be nil.
func New(provider llm.Provider, opts Options) *Preprocessor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	minYear := opts.MinVehicleYear
	if minYear <= 0 {
		minYear = 1950
	}
	future := opts.FutureYearsAhead
	if future <= 0 {
		future = 5
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Preprocessor{
		provider: provider,
		log:      log,
		minYear:  minYear,
		maxYear:  now().Year() + future,
	}
}

// NormalizeRecord preprocesses a single record, wrapped as row "0".
func (p *Preprocessor) NormalizeRecord(ctx context.Context, record map[string]string) (map[string]Row, error) {
	return p.NormalizeRecords(ctx, map[string]map[string]string{"0": record})
}

// NormalizeRecords discovers the year and description fields across all rows
// and applies the mapping. Rows whose year fails to parse or whose
// description normalizes to empty are dropped.
func (p *Preprocessor) NormalizeRecords(ctx context.Context, rows map[string]map[string]string) (map[string]Row, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no input rows")
	}

	scores := p.scoreFields(rows)
	yearField := pickField(scores, func(fs fieldScore) float64 { return fs.year })
	descField := pickField(scores, func(fs fieldScore) float64 { return fs.description })

	if (yearField == "" || descField == "") && p.provider != nil {
		y, d := p.assistFieldMapping(ctx, rows, scores)
		if yearField == "" {
			yearField = y
		}
		if descField == "" {
			descField = d
		}
	}
	if yearField == "" || descField == "" {
		return nil, fmt.Errorf("could not identify year and description fields (year=%q, description=%q)", yearField, descField)
	}

	out := make(map[string]Row, len(rows))
	for id, record := range rows {
		year, err := strconv.Atoi(strings.TrimSpace(record[yearField]))
		if err != nil || year < p.minYear || year > p.maxYear {
			continue
		}
		desc := normalize.Text(record[descField])
		if desc == "" {
			continue
		}
		out[id] = Row{Year: year, Description: desc}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no rows survived preprocessing")
	}
	return out, nil
}

type fieldScore struct {
	year        float64
	description float64
}

// scoreFields computes per-field role scores across all rows.
func (p *Preprocessor) scoreFields(rows map[string]map[string]string) map[string]fieldScore {
	type tally struct {
		yearHits  int
		descTotal float64
		count     int
	}
	tallies := make(map[string]*tally)

	for _, record := range rows {
		for field, value := range record {
			tl := tallies[field]
			if tl == nil {
				tl = &tally{}
				tallies[field] = tl
			}
			tl.count++
			if y, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && y >= p.minYear && y <= p.maxYear {
				tl.yearHits++
			}
			tl.descTotal += descriptionScore(value)
		}
	}

	scores := make(map[string]fieldScore, len(tallies))
	for field, tl := range tallies {
		if tl.count == 0 {
			continue
		}
		scores[field] = fieldScore{
			year:        float64(tl.yearHits) / float64(tl.count),
			description: tl.descTotal / float64(tl.count),
		}
	}
	return scores
}

// descriptionScore estimates how much a value looks like a free-text vehicle
// description. Numeric-only values and single uppercase identifiers (VINs,
// policy numbers) are penalized.
func descriptionScore(value string) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0
	}
	if isNumeric(trimmed) {
		return 0.02
	}
	if isUppercaseID(trimmed) {
		return 0.05
	}

	lengthScore := float64(len(trimmed)) / 40.0
	if lengthScore > 1 {
		lengthScore = 1
	}

	hits := 0
	for _, tok := range strings.Fields(strings.ToLower(trimmed)) {
		if _, ok := vehicleVocabulary[tok]; ok {
			hits++
		}
	}
	keywordScore := float64(hits) / 2.0
	if keywordScore > 1 {
		keywordScore = 1
	}

	return 0.5*lengthScore + 0.5*keywordScore
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

// isUppercaseID matches single tokens like "3HSDZAPT7NN354987" or "POL-1234".
func isUppercaseID(s string) bool {
	if strings.ContainsAny(s, " \t") {
		return false
	}
	hasDigit := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	return hasDigit
}

// pickField returns the top-scoring field for a role, or "" when nothing
// clears the floor. Ties break lexicographically for determinism.
func pickField(scores map[string]fieldScore, metric func(fieldScore) float64) string {
	fields := make([]string, 0, len(scores))
	for f := range scores {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	best := ""
	bestScore := minRoleScore
	for _, f := range fields {
		if s := metric(scores[f]); s > bestScore {
			best = f
			bestScore = s
		}
	}
	return best
}

const assistSystemPrompt = `You map spreadsheet columns to roles for a vehicle codification system.
Given sample rows and per-column scores, identify which column holds the vehicle model YEAR and which holds the free-text vehicle DESCRIPTION.
Return ONLY JSON: {"year_field": "...", "description_field": "..."}
Use exact column names from the input. Use an empty string when no column fits a role.`

type assistResponse struct {
	YearField        string `json:"year_field"`
	DescriptionField string `json:"description_field"`
}

// assistFieldMapping asks the LLM to resolve roles the scorer could not.
// Suggestions naming unknown fields are discarded.
func (p *Preprocessor) assistFieldMapping(ctx context.Context, rows map[string]map[string]string, scores map[string]fieldScore) (yearField, descField string) {
	ctx, cancel := context.WithTimeout(ctx, assistTimeout)
	defer cancel()

	prompt := buildAssistPrompt(rows, scores)
	raw, err := p.provider.Complete(ctx, prompt, llm.CompletionOpts{
		System:      assistSystemPrompt,
		Temperature: 0.0,
		Format:      "json",
	})
	if err != nil {
		p.log.Warn("field mapping assist failed", zap.Error(err))
		return "", ""
	}

	obj, err := llm.ExtractJSONObject(raw)
	if err != nil {
		p.log.Warn("field mapping assist returned no JSON", zap.Error(err))
		return "", ""
	}
	var parsed assistResponse
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		p.log.Warn("field mapping assist JSON malformed", zap.Error(err))
		return "", ""
	}

	if _, ok := scores[parsed.YearField]; ok {
		yearField = parsed.YearField
	}
	if _, ok := scores[parsed.DescriptionField]; ok {
		descField = parsed.DescriptionField
	}
	return yearField, descField
}

func buildAssistPrompt(rows map[string]map[string]string, scores map[string]fieldScore) string {
	var b strings.Builder
	b.WriteString("Column scores (year_score, description_score):\n")

	fields := make([]string, 0, len(scores))
	for f := range scores {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s: %.2f, %.2f\n", f, scores[f].year, scores[f].description)
	}

	b.WriteString("\nSample rows:\n")
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > assistSampleRows {
		ids = ids[:assistSampleRows]
	}
	for _, id := range ids {
		sample, _ := json.Marshal(rows[id])
		fmt.Fprintf(&b, "%s\n", sample)
	}

	b.WriteString("\nIdentify the year and description columns. Return JSON matching the schema.")
	return b.String()
}
