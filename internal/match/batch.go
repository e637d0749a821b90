package match

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchConcurrency bounds parallel matches within one batch. Each
// match can hold an LLM round trip, so the limit is deliberately modest.
const DefaultBatchConcurrency = 4

// RowResult pairs one batch row with its outcome. Err is set when the row
// itself was invalid; pipeline degradation never produces an error here.
type RowResult struct {
	Result *Result `json:"result,omitempty"`
	Err    string  `json:"error,omitempty"`
}

// MatchRecords preprocesses raw records (arbitrary column names) and codifies
// the surviving rows concurrently. Requests are independent; a failing row
// never stops the batch.
func (e *Engine) MatchRecords(ctx context.Context, records map[string]map[string]string, concurrency int) (map[string]RowResult, error) {
	if e.preprocessor == nil {
		return nil, fmt.Errorf("batch matching requires a preprocessor")
	}
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	rows, err := e.preprocessor.NormalizeRecords(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("preprocessing batch: %w", err)
	}

	out := make(map[string]RowResult, len(records))
	var mu sync.Mutex

	// Rows dropped by preprocessing are reported, not silently lost.
	for id := range records {
		if _, ok := rows[id]; !ok {
			out[id] = RowResult{Err: "row dropped in preprocessing"}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for id, row := range rows {
		g.Go(func() error {
			res, err := e.Match(ctx, Request{Year: row.Year, Description: row.Description})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Warn("batch row failed", zap.String("row", id), zap.Error(err))
				out[id] = RowResult{Err: err.Error()}
				return nil
			}
			out[id] = RowResult{Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
