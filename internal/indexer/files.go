package indexer

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/walker"
)

// IngestFile extracts and ingests one file. An empty source defaults to the
// file's base name.
func (ix *Indexer) IngestFile(ctx context.Context, path, source string, metadata map[string]any) rag.IngestResult {
	return ix.ingestFile(ctx, path, source, metadata, rag.NewRunID())
}

// IngestFileAs ingests the file at path but records displayPath as its file
// path, in results, chunk metadata and the ledger. It serves content staged
// in a temporary location.
func (ix *Indexer) IngestFileAs(ctx context.Context, path, displayPath, source string, metadata map[string]any) rag.IngestResult {
	return ix.ingestFileAs(ctx, path, displayPath, source, metadata, rag.NewRunID())
}

func (ix *Indexer) ingestFile(ctx context.Context, path, source string, metadata map[string]any, runID string) rag.IngestResult {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return ix.ingestFileAs(ctx, path, path, source, metadata, runID)
}

func (ix *Indexer) ingestFileAs(ctx context.Context, path, displayPath, source string, metadata map[string]any, runID string) rag.IngestResult {
	if source == "" {
		source = filepath.Base(displayPath)
	}
	doc := rag.Document{Source: source, Path: displayPath, Metadata: metadata}

	if ix.extractor == nil {
		return ix.fail(doc, rag.ConfigError("no extractor configured"))
	}
	text, err := ix.extractor.Extract(ctx, path)
	if err != nil {
		if !rag.IsKind(err, rag.KindExtraction) {
			err = rag.ExtractionErr(displayPath, err)
		}
		return ix.fail(doc, err)
	}
	doc.Text = text

	hash, err := walker.HashFile(path)
	if err != nil {
		ix.logger.Debug("hashing file failed", "file", path, "error", err)
	}
	return ix.ingest(ctx, doc, runID, hash)
}

func (ix *Indexer) walkConfig(root string) walker.Config {
	cfg := walker.Config{
		RootDir:     root,
		Include:     ix.opts.Include,
		Exclude:     ix.opts.Exclude,
		MaxFileSize: ix.opts.MaxFileSize,
	}
	if ix.extractor != nil {
		cfg.Supports = ix.extractor.Supports
	}
	return cfg
}

// WalkConfig returns the discovery settings used for root, for callers
// that watch the same tree.
func (ix *Indexer) WalkConfig(root string) walker.Config {
	return ix.walkConfig(root)
}

// IngestDirectory ingests every supported file below root. Each file's
// source is its slash-separated path relative to root. Only a failure to
// read root itself is returned as an error.
func (ix *Indexer) IngestDirectory(ctx context.Context, root string) (*DirectoryResult, error) {
	found, err := walker.Walk(ix.walkConfig(root))
	if err != nil {
		return nil, err
	}
	ix.logger.Info("found files to ingest", "dir", root, "count", len(found.Files), "skipped", len(found.Skipped))

	runID, run := ix.startRun(ctx, "directory")
	res := rag.NewBatchIngestResult(ix.runBatch(ctx, ix.fileJobs(found.Files, runID)))
	ix.finishRun(run, res)

	ix.logger.Info("directory ingestion completed", "dir", root, "successful", res.Successful, "failed", res.Failed)
	return &DirectoryResult{BatchIngestResult: res, Skipped: found.Skipped}, nil
}

func (ix *Indexer) fileJobs(files []walker.FileInfo, runID string) []job {
	jobs := make([]job, len(files))
	for i, f := range files {
		jobs[i] = job{
			label:  f.RelPath,
			source: f.RelPath,
			path:   f.Path,
			run: func(ctx context.Context) rag.IngestResult {
				return ix.ingestFile(ctx, f.Path, f.RelPath, nil, runID)
			},
		}
	}
	return jobs
}

// Sync brings the index in line with root: new and modified files are
// ingested, unchanged files are skipped by content hash, and sources whose
// files under root have disappeared are removed. It requires a ledger.
func (ix *Indexer) Sync(ctx context.Context, root string) (*SyncResult, error) {
	if ix.ledger == nil {
		return nil, rag.ConfigError("sync requires a source ledger")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	found, err := walker.Walk(ix.walkConfig(absRoot))
	if err != nil {
		return nil, err
	}
	known, err := ix.ledger.List(ctx)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]string, len(known)) // file path -> content hash
	for _, src := range known {
		if src.FilePath != "" {
			byPath[src.FilePath] = src.ContentHash
		}
	}

	result := &SyncResult{Skipped: found.Skipped}
	present := make(map[string]bool, len(found.Files))
	var changed []walker.FileInfo
	for _, f := range found.Files {
		present[f.Path] = true
		if hash, ok := byPath[f.Path]; ok && hash == f.ContentHash {
			result.Unchanged++
			continue
		}
		changed = append(changed, f)
	}

	prefix := absRoot + string(filepath.Separator)
	for _, src := range known {
		if src.FilePath == "" || present[src.FilePath] || !strings.HasPrefix(src.FilePath, prefix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			break
		}
		result.Removed = append(result.Removed, ix.RemoveSource(ctx, src.Name))
	}

	if len(changed) > 0 {
		runID, run := ix.startRun(ctx, "sync")
		result.Ingested = rag.NewBatchIngestResult(ix.runBatch(ctx, ix.fileJobs(changed, runID)))
		ix.finishRun(run, result.Ingested)
	}

	ix.logger.Info("sync completed", "dir", absRoot,
		"ingested", result.Ingested.Successful,
		"failed", result.Ingested.Failed,
		"unchanged", result.Unchanged,
		"removed", len(result.Removed))
	return result, nil
}
