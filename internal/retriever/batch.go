package retriever

import (
	"context"
	"fmt"
	"sync"

	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// BatchQuery runs each query independently with bounded parallelism.
// Results keep input order. Once ctx is done, queries not yet started are
// reported as failed.
func (r *Retriever) BatchQuery(ctx context.Context, queries []string, topK int) []rag.RAGResult {
	results := make([]rag.RAGResult, len(queries))
	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup

	for i, q := range queries {
		if ctx.Err() != nil {
			results[i] = r.fail(q, fmt.Errorf("not dispatched: %w", ctx.Err()))
			continue
		}
		select {
		case <-ctx.Done():
			results[i] = r.fail(q, fmt.Errorf("not dispatched: %w", ctx.Err()))
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.Query(ctx, q, topK, true)
		}(i, q)
	}
	wg.Wait()

	var ok int
	for _, res := range results {
		if res.Success {
			ok++
		}
	}
	r.logger.Info("batch query completed", "queries", len(queries), "successful", ok)
	return results
}
