// Package pipeline composes the chunker, embedder, vector index, ledger,
// indexer and retriever behind one facade.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ziadkadry99/ragpipe/internal/chunker"
	"github.com/ziadkadry99/ragpipe/internal/config"
	"github.com/ziadkadry99/ragpipe/internal/db"
	"github.com/ziadkadry99/ragpipe/internal/embeddings"
	"github.com/ziadkadry99/ragpipe/internal/extract"
	"github.com/ziadkadry99/ragpipe/internal/indexer"
	"github.com/ziadkadry99/ragpipe/internal/llm"
	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/retriever"
	"github.com/ziadkadry99/ragpipe/internal/sources"
	"github.com/ziadkadry99/ragpipe/internal/vectordb"
	"github.com/ziadkadry99/ragpipe/internal/walker"
)

// Components are the collaborators a Pipeline is built from. Embedder and
// Index are required.
type Components struct {
	Embedder  embeddings.Embedder
	Index     vectordb.Index
	Extractor *extract.Registry   // defaults to extract.Default()
	DB        *db.DB              // optional ledger database, closed with the pipeline
	Generator retriever.Generator // optional answer generation
}

// Pipeline is the facade used by the CLI, the HTTP server and the MCP server.
type Pipeline struct {
	cfg       *config.Config
	chunker   *chunker.Chunker
	embedder  embeddings.Embedder
	index     vectordb.Index
	extractor *extract.Registry
	db        *db.DB
	ledger    *sources.Store
	indexer   *indexer.Indexer
	retriever *retriever.Retriever
	logger    *slog.Logger
}

// New assembles a Pipeline from already constructed components.
func New(cfg *config.Config, comps Components, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if comps.Embedder == nil || comps.Index == nil {
		return nil, rag.ConfigError("pipeline requires an embedder and an index")
	}
	c, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	if comps.Extractor == nil {
		comps.Extractor = extract.Default()
	}

	ix := indexer.New(c, comps.Embedder, comps.Index, comps.Extractor, indexer.Options{
		IDPolicy:       rag.IDPolicy(cfg.Chunking.IDPolicy),
		Concurrency:    cfg.Ingest.Concurrency,
		RequestTimeout: cfg.Requests.RetryPolicy().Budget(),
		Include:        cfg.Ingest.Include,
		Exclude:        cfg.Ingest.Exclude,
		MaxFileSize:    cfg.Ingest.MaxFileSize,
		Logger:         logger,
	})

	r := retriever.New(comps.Embedder, comps.Index, retriever.Options{
		TopK:           cfg.Retrieval.TopK,
		ExcerptLength:  cfg.Retrieval.ExcerptLength,
		Concurrency:    cfg.Ingest.Concurrency,
		RequestTimeout: cfg.Requests.RetryPolicy().Budget(),
		Logger:         logger,
	})
	if comps.Generator != nil {
		r.SetGenerator(comps.Generator)
	}

	p := &Pipeline{
		cfg:       cfg,
		chunker:   c,
		embedder:  comps.Embedder,
		index:     comps.Index,
		extractor: comps.Extractor,
		db:        comps.DB,
		indexer:   ix,
		retriever: r,
		logger:    logger.With("component", "pipeline"),
	}
	if comps.DB != nil {
		p.ledger = sources.NewStore(comps.DB)
		ix.SetLedger(p.ledger)
	}
	return p, nil
}

// Open validates cfg and builds every component it selects: the embedding
// provider behind the retry and rate-limit wrapper, the vector index, the
// ledger under the data directory and, when enabled, the answer generator.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := embeddings.FromConfig(cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	emb := embeddings.NewResilient(base, embeddings.ResilientOptions{
		Retry:     cfg.Requests.RetryPolicy(),
		RateLimit: cfg.Requests.RateLimit,
		RateBurst: cfg.Requests.RateBurst,
		Logger:    logger,
	})

	index, err := vectordb.FromConfig(cfg.VectorStore, cfg.Requests, emb, logger)
	if err != nil {
		return nil, err
	}
	if err := index.EnsureSchema(ctx, emb.Dimensions()); err != nil {
		index.Close()
		return nil, err
	}

	if err := os.MkdirAll(cfg.VectorStore.DataDir, 0o755); err != nil {
		index.Close()
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	ledgerDB, err := db.Open(filepath.Join(cfg.VectorStore.DataDir, db.FileName))
	if err != nil {
		index.Close()
		return nil, err
	}

	comps := Components{Embedder: emb, Index: index, DB: ledgerDB}
	if cfg.Retrieval.GenerateAnswers {
		provider, err := llm.NewProvider(cfg.LLM)
		if err != nil {
			index.Close()
			ledgerDB.Close()
			return nil, err
		}
		comps.Generator = llm.NewAnswerer(provider, llm.AnswererOptions{
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Retry:       cfg.Requests.RetryPolicy(),
			RateLimit:   cfg.Requests.RateLimit,
			RateBurst:   cfg.Requests.RateBurst,
			Logger:      logger,
		})
	}

	logger.Debug("pipeline opened",
		"embedding", emb.Name(),
		"backend", cfg.VectorStore.Backend,
		"collection", cfg.VectorStore.Collection)
	return New(cfg, comps, logger)
}

// Close releases the index and the ledger database.
func (p *Pipeline) Close() error {
	var errs []error
	if err := p.index.Close(); err != nil {
		errs = append(errs, err)
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() *config.Config { return p.cfg }

// Extensions lists the file extensions that can be ingested.
func (p *Pipeline) Extensions() []string { return p.extractor.Extensions() }

// SetProgressFunc sets the progress callback for batch ingestion.
func (p *Pipeline) SetProgressFunc(fn indexer.ProgressFunc) {
	p.indexer.SetProgressFunc(fn)
}

func (p *Pipeline) Ingest(ctx context.Context, doc rag.Document) rag.IngestResult {
	return p.indexer.Ingest(ctx, doc)
}

func (p *Pipeline) IngestMany(ctx context.Context, docs []rag.Document) rag.BatchIngestResult {
	return p.indexer.IngestMany(ctx, docs)
}

func (p *Pipeline) IngestFile(ctx context.Context, path, source string, metadata map[string]any) rag.IngestResult {
	return p.indexer.IngestFile(ctx, path, source, metadata)
}

// IngestFileAs ingests the file at path under displayPath; see
// indexer.Indexer.IngestFileAs.
func (p *Pipeline) IngestFileAs(ctx context.Context, path, displayPath, source string, metadata map[string]any) rag.IngestResult {
	return p.indexer.IngestFileAs(ctx, path, displayPath, source, metadata)
}

func (p *Pipeline) IngestFiles(ctx context.Context, paths, sourceNames []string) rag.BatchIngestResult {
	return p.indexer.IngestFiles(ctx, paths, sourceNames)
}

func (p *Pipeline) IngestDirectory(ctx context.Context, root string) (*indexer.DirectoryResult, error) {
	return p.indexer.IngestDirectory(ctx, root)
}

func (p *Pipeline) Sync(ctx context.Context, root string) (*indexer.SyncResult, error) {
	return p.indexer.Sync(ctx, root)
}

func (p *Pipeline) RemoveSource(ctx context.Context, source string) rag.RemoveResult {
	return p.indexer.RemoveSource(ctx, source)
}

func (p *Pipeline) Query(ctx context.Context, text string, topK int, includeSources bool) rag.RAGResult {
	return p.retriever.Query(ctx, text, topK, includeSources)
}

func (p *Pipeline) Search(ctx context.Context, req retriever.Request) rag.RAGResult {
	return p.retriever.Search(ctx, req)
}

func (p *Pipeline) QueryWithContext(ctx context.Context, text, extra string, topK int) rag.RAGResult {
	return p.retriever.QueryWithContext(ctx, text, extra, topK)
}

func (p *Pipeline) BatchQuery(ctx context.Context, queries []string, topK int) []rag.RAGResult {
	return p.retriever.BatchQuery(ctx, queries, topK)
}

// Suggestions expands a partial query into full questions.
func (p *Pipeline) Suggestions(partial string, max int) []string {
	return retriever.Suggestions(partial, max)
}

// AnalyzeQuery classifies a query by keyword.
func (p *Pipeline) AnalyzeQuery(query string) retriever.Intent {
	return retriever.AnalyzeIntent(query)
}

// Sources lists the ledger entries. It is empty when no ledger is attached.
func (p *Pipeline) Sources(ctx context.Context) ([]sources.Source, error) {
	if p.ledger == nil {
		return []sources.Source{}, nil
	}
	return p.ledger.List(ctx)
}

// Runs lists the most recent ingest runs.
func (p *Pipeline) Runs(ctx context.Context, limit int) ([]sources.Run, error) {
	if p.ledger == nil {
		return []sources.Run{}, nil
	}
	return p.ledger.ListRuns(ctx, limit)
}

// Reset wipes the index and the ledger. It refuses to run unless confirm is
// true.
func (p *Pipeline) Reset(ctx context.Context, confirm bool) error {
	if !confirm {
		return rag.ErrResetNotConfirmed
	}
	p.logger.Warn("resetting pipeline, all indexed documents will be deleted")
	if err := p.index.Reset(ctx); err != nil {
		return err
	}
	if p.ledger != nil {
		if err := p.ledger.Clear(ctx); err != nil {
			return fmt.Errorf("clearing source ledger: %w", err)
		}
	}
	return nil
}

type snapshotter interface {
	Export(ctx context.Context, path string) error
	Import(ctx context.Context, path string) error
}

func (p *Pipeline) snapshots() (snapshotter, error) {
	s, ok := p.index.(snapshotter)
	if !ok {
		return nil, rag.ConfigError("snapshots are only supported by the %s backend", config.BackendChromem)
	}
	return s, nil
}

// Export writes a snapshot of the index to path.
func (p *Pipeline) Export(ctx context.Context, path string) error {
	s, err := p.snapshots()
	if err != nil {
		return err
	}
	return s.Export(ctx, path)
}

// Import replaces the index with a snapshot. The ledger no longer describes
// the index afterwards and is cleared.
func (p *Pipeline) Import(ctx context.Context, path string) error {
	s, err := p.snapshots()
	if err != nil {
		return err
	}
	if err := s.Import(ctx, path); err != nil {
		return err
	}
	if p.ledger != nil {
		if err := p.ledger.Clear(ctx); err != nil {
			return fmt.Errorf("clearing source ledger: %w", err)
		}
	}
	return nil
}

// Watch syncs root once and then again after every burst of file changes,
// until ctx is done. onSync, when set, receives every sync result.
func (p *Pipeline) Watch(ctx context.Context, root string, onSync func(*indexer.SyncResult, error)) error {
	report := func(res *indexer.SyncResult, err error) {
		if err != nil {
			p.logger.Error("sync failed", "dir", root, "error", err)
		}
		if onSync != nil {
			onSync(res, err)
		}
	}

	res, err := p.Sync(ctx, root)
	if err != nil {
		return err
	}
	report(res, nil)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w, err := walker.NewWatcher(p.indexer.WalkConfig(absRoot), walker.DefaultDebounce, p.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	p.logger.Info("watching for changes", "dir", absRoot)
	return w.Run(ctx, func(ctx context.Context, changed []string) {
		p.logger.Debug("change detected", "files", len(changed))
		report(p.Sync(ctx, absRoot))
	})
}
