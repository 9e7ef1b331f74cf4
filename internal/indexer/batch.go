package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/sources"
)

// job is one unit of batch work.
type job struct {
	label  string // reported to the progress callback
	source string
	path   string
	run    func(ctx context.Context) rag.IngestResult
}

// runBatch processes jobs with bounded parallelism. Results are stored in
// input order. Once ctx is done no further jobs are dispatched; those are
// reported as failed with the context error while in-flight jobs finish.
// A source may appear once per batch: later jobs naming the same source
// fail with rag.ErrDuplicateSource instead of racing on its chunk ids.
func (ix *Indexer) runBatch(ctx context.Context, jobs []job) []rag.IngestResult {
	total := len(jobs)
	results := make([]rag.IngestResult, total)
	if total == 0 {
		return results
	}

	sem := make(chan struct{}, ix.opts.Concurrency)
	var (
		wg        sync.WaitGroup
		processed int64
	)
	report := func(label string) {
		count := atomic.AddInt64(&processed, 1)
		if ix.onProgress != nil {
			ix.onProgress(int(count), total, label)
		}
	}

	notDispatched := func(i int, j job) {
		results[i] = rag.Failed(j.source, j.path, fmt.Errorf("not dispatched: %w", ctx.Err()))
		report(j.label)
	}

	firstUse := make(map[string]int, total)
	for i, j := range jobs {
		if first, seen := firstUse[j.source]; seen && j.source != "" {
			results[i] = rag.Failed(j.source, j.path,
				fmt.Errorf("%w: %q is already ingested by item %d; pass a distinct source name", rag.ErrDuplicateSource, j.source, first))
			report(j.label)
			continue
		}
		firstUse[j.source] = i

		if ctx.Err() != nil {
			notDispatched(i, j)
			continue
		}
		select {
		case <-ctx.Done():
			notDispatched(i, j)
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			defer func() { <-sem }()

			results[i] = j.run(ctx)
			report(j.label)
		}(i, j)
	}

	wg.Wait()
	return results
}

// startRun opens a ledger run of the given kind. The returned id salts
// random chunk ids for every document of the batch.
func (ix *Indexer) startRun(ctx context.Context, kind string) (string, *sources.Run) {
	if ix.ledger == nil {
		return rag.NewRunID(), nil
	}
	run, err := ix.ledger.StartRun(ctx, kind)
	if err != nil {
		ix.logger.Warn("recording ingest run failed", "kind", kind, "error", err)
		return rag.NewRunID(), nil
	}
	return run.ID, run
}

func (ix *Indexer) finishRun(run *sources.Run, res rag.BatchIngestResult) {
	if run == nil {
		return
	}
	run.Total, run.Successful, run.Failed = res.TotalFiles, res.Successful, res.Failed
	// The batch context may already be cancelled; the run is still recorded.
	if err := ix.ledger.FinishRun(context.Background(), run); err != nil {
		ix.logger.Warn("recording ingest run failed", "run_id", run.ID, "error", err)
	}
}

// IngestMany ingests documents independently with bounded parallelism. One
// document's failure never affects the others.
func (ix *Indexer) IngestMany(ctx context.Context, docs []rag.Document) rag.BatchIngestResult {
	runID, run := ix.startRun(ctx, "documents")

	jobs := make([]job, len(docs))
	for i, doc := range docs {
		jobs[i] = job{
			label:  doc.Source,
			source: doc.Source,
			path:   doc.Path,
			run: func(ctx context.Context) rag.IngestResult {
				return ix.ingest(ctx, doc, runID, "")
			},
		}
	}

	res := rag.NewBatchIngestResult(ix.runBatch(ctx, jobs))
	ix.finishRun(run, res)
	ix.logger.Info("batch ingestion completed", "successful", res.Successful, "failed", res.Failed)
	return res
}

// IngestFiles ingests files independently. sourceNames, when given, names
// the source of the file at the same position; missing or empty names
// default to the file's base name.
func (ix *Indexer) IngestFiles(ctx context.Context, paths []string, sourceNames []string) rag.BatchIngestResult {
	runID, run := ix.startRun(ctx, "files")

	jobs := make([]job, len(paths))
	for i, path := range paths {
		source := ""
		if i < len(sourceNames) {
			source = sourceNames[i]
		}
		if source == "" {
			source = filepath.Base(path)
		}
		jobs[i] = job{
			label:  path,
			source: source,
			path:   path,
			run: func(ctx context.Context) rag.IngestResult {
				return ix.ingestFile(ctx, path, source, nil, runID)
			},
		}
	}

	res := rag.NewBatchIngestResult(ix.runBatch(ctx, jobs))
	ix.finishRun(run, res)
	ix.logger.Info("file ingestion completed", "successful", res.Successful, "failed", res.Failed)
	return res
}
