// Package indexer drives documents through chunking, embedding and the
// vector index.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/ziadkadry99/ragpipe/internal/chunker"
	"github.com/ziadkadry99/ragpipe/internal/embeddings"
	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/sources"
	"github.com/ziadkadry99/ragpipe/internal/vectordb"
)

// SourceField is the metadata key every chunk is grouped by.
const SourceField = "source"

// Indexer is the ingestion orchestrator. It is safe for concurrent use;
// the only shared state between calls is the vector index.
type Indexer struct {
	chunker    *chunker.Chunker
	embedder   embeddings.Embedder
	index      vectordb.Index
	extractor  Extractor
	ledger     Ledger
	opts       Options
	logger     *slog.Logger
	onProgress ProgressFunc
}

// New creates an Indexer. extractor may be nil when only inline text is
// ingested.
func New(c *chunker.Chunker, embedder embeddings.Embedder, index vectordb.Index, extractor Extractor, opts Options) *Indexer {
	if opts.IDPolicy == "" {
		opts.IDPolicy = rag.IDDeterministic
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		chunker:   c,
		embedder:  embedder,
		index:     index,
		extractor: extractor,
		opts:      opts,
		logger:    logger.With("component", "indexer"),
	}
}

// SetLedger enables source bookkeeping: stale chunk cleanup on re-ingest,
// source listing and incremental sync.
func (ix *Indexer) SetLedger(l Ledger) {
	ix.ledger = l
}

// SetProgressFunc sets the progress callback for batch operations.
func (ix *Indexer) SetProgressFunc(fn ProgressFunc) {
	ix.onProgress = fn
}

// Ingest chunks, embeds and stores one document.
func (ix *Indexer) Ingest(ctx context.Context, doc rag.Document) rag.IngestResult {
	return ix.ingest(ctx, doc, rag.NewRunID(), "")
}

// ingest runs the per-document steps. runID salts random ids and tags
// every chunk; contentHash is recorded in the ledger for sync.
func (ix *Indexer) ingest(ctx context.Context, doc rag.Document, runID, contentHash string) rag.IngestResult {
	source := doc.Source
	if source == "" {
		return ix.fail(doc, rag.ConfigError("document source is required"))
	}
	if err := ctx.Err(); err != nil {
		return ix.fail(doc, err)
	}

	pieces := ix.chunker.Split(doc.Text)
	if len(pieces) == 0 {
		return ix.fail(doc, rag.ErrNoContent)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err == nil {
		err = embeddings.Validate(vecs, len(texts), ix.embedder.Dimensions())
	}
	if err != nil {
		if !rag.IsKind(err, rag.KindEmbedding) {
			err = rag.EmbeddingErr("embed", rag.IsTransient(err), err)
		}
		return ix.fail(doc, err)
	}

	docMeta := documentMetadata(doc, pieces)
	ingestedAt := time.Now().UTC()

	entries := make([]vectordb.Entry, len(pieces))
	ids := make([]string, len(pieces))
	for i, p := range pieces {
		ids[i] = rag.ChunkID(ix.opts.IDPolicy, source, p.Index, runID)

		meta := make(map[string]any, len(doc.Metadata)+12)
		maps.Copy(meta, doc.Metadata)
		maps.Copy(meta, docMeta)
		meta["chunk_index"] = p.Index
		meta["char_start"] = p.Start
		meta["char_end"] = p.End
		meta["ingested_at"] = ingestedAt.Format(time.RFC3339)
		meta["run_id"] = runID

		entries[i] = vectordb.Entry{ID: ids[i], Vector: vecs[i], Text: p.Text, Metadata: meta}
	}

	prev := ix.previous(ctx, source)

	if err := ix.call(ctx, func(ctx context.Context) error {
		return ix.index.Upsert(ctx, entries)
	}); err != nil {
		return ix.fail(doc, indexErr("upsert", err))
	}

	// Deterministic ids are reused, so only indexes past the new chunk
	// count can be left over from a longer previous version.
	if prev != nil && prev.IDPolicy == string(rag.IDDeterministic) &&
		ix.opts.IDPolicy == rag.IDDeterministic && prev.ChunkCount > len(pieces) {
		stale := make([]string, 0, prev.ChunkCount-len(pieces))
		for i := len(pieces); i < prev.ChunkCount; i++ {
			stale = append(stale, rag.ChunkID(rag.IDDeterministic, source, i, ""))
		}
		if err := ix.call(ctx, func(ctx context.Context) error {
			return ix.index.DeleteIDs(ctx, stale)
		}); err != nil {
			return ix.fail(doc, fmt.Errorf("removing stale chunks: %w", indexErr("delete", err)))
		}
		ix.logger.Debug("removed stale chunks", "source", source, "count", len(stale))
	}

	if ix.ledger != nil {
		err := ix.ledger.Upsert(ctx, sources.Source{
			Name:        source,
			FilePath:    doc.Path,
			ChunkCount:  len(pieces),
			ContentHash: contentHash,
			IDPolicy:    string(ix.opts.IDPolicy),
			RunID:       runID,
			IngestedAt:  ingestedAt,
		})
		if err != nil {
			ix.logger.Warn("recording source in ledger failed", "source", source, "error", err)
		}
	}

	ix.logger.Info("document ingested", "source", source, "file", doc.Path, "chunks", len(pieces))
	return rag.IngestResult{
		Success:    true,
		Source:     source,
		FilePath:   doc.Path,
		ChunkCount: len(pieces),
		ChunkIDs:   ids,
		Metadata:   docMeta,
	}
}

// documentMetadata is shared by every chunk of doc.
func documentMetadata(doc rag.Document, pieces []chunker.Piece) map[string]any {
	cleaned := chunker.Clean(doc.Text)
	meta := map[string]any{
		SourceField:    doc.Source,
		"total_chunks": len(pieces),
		"length":       len([]rune(cleaned)),
		"word_count":   len(strings.Fields(cleaned)),
	}
	if doc.Path != "" {
		meta["file_path"] = doc.Path
	}
	return meta
}

// previous returns the ledger record of source, or nil.
func (ix *Indexer) previous(ctx context.Context, source string) *sources.Source {
	if ix.ledger == nil {
		return nil
	}
	prev, err := ix.ledger.Get(ctx, source)
	if err != nil {
		if !errors.Is(err, sources.ErrNotFound) {
			ix.logger.Warn("reading ledger failed", "source", source, "error", err)
		}
		return nil
	}
	return prev
}

// RemoveSource deletes every chunk of source with a single filtered delete.
func (ix *Indexer) RemoveSource(ctx context.Context, source string) rag.RemoveResult {
	if source == "" {
		return rag.RemoveResult{Source: source, Error: "source is required"}
	}

	var deleted int
	err := ix.call(ctx, func(ctx context.Context) error {
		n, err := ix.index.DeleteByFilter(ctx, SourceField, source)
		deleted = n
		return err
	})
	if err != nil {
		err = indexErr("delete", err)
		ix.logger.Warn("removing source failed", "source", source, "error", err)
		return rag.RemoveResult{Source: source, Error: err.Error()}
	}

	if ix.ledger != nil {
		if err := ix.ledger.Delete(ctx, source); err != nil {
			ix.logger.Warn("removing source from ledger failed", "source", source, "error", err)
		}
	}

	ix.logger.Info("source removed", "source", source, "chunks", deleted)
	return rag.RemoveResult{Success: true, Source: source, Deleted: deleted}
}

// call applies the per-call deadline to one index operation.
func (ix *Indexer) call(ctx context.Context, op func(ctx context.Context) error) error {
	if ix.opts.RequestTimeout <= 0 {
		return op(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, ix.opts.RequestTimeout)
	defer cancel()
	return op(ctx)
}

func (ix *Indexer) fail(doc rag.Document, err error) rag.IngestResult {
	ix.logger.Warn("ingestion failed", "source", doc.Source, "file", doc.Path, "error", err)
	return rag.Failed(doc.Source, doc.Path, err)
}

func indexErr(op string, err error) error {
	if rag.IsKind(err, rag.KindIndex) {
		return err
	}
	return rag.IndexErr(op, rag.IsTransient(err), err)
}
