package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/sources"
	"github.com/ziadkadry99/ragpipe/internal/walker"
)

// Options configures an Indexer.
type Options struct {
	IDPolicy    rag.IDPolicy
	Concurrency int

	// RequestTimeout bounds every index call including the retries the
	// index performs itself. Zero disables it.
	RequestTimeout time.Duration

	// Directory ingestion filters.
	Include     []string
	Exclude     []string
	MaxFileSize int64

	Logger *slog.Logger
}

// Extractor turns a file into text. *extract.Registry implements it.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
	Supports(path string) bool
}

// Ledger records what has been ingested. *sources.Store implements it.
type Ledger interface {
	Get(ctx context.Context, name string) (*sources.Source, error)
	Upsert(ctx context.Context, src sources.Source) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]sources.Source, error)
	StartRun(ctx context.Context, kind string) (*sources.Run, error)
	FinishRun(ctx context.Context, run *sources.Run) error
}

// ProgressFunc is called during batch processing to report progress.
type ProgressFunc func(processed int, total int, current string)

// DirectoryResult is the outcome of ingesting a directory.
type DirectoryResult struct {
	rag.BatchIngestResult
	Skipped []walker.Skipped `json:"skipped,omitempty"`
}

// SyncResult is the outcome of synchronising a directory with the index.
type SyncResult struct {
	Ingested  rag.BatchIngestResult `json:"ingested"`
	Unchanged int                   `json:"unchanged"`
	Removed   []rag.RemoveResult    `json:"removed,omitempty"`
	Skipped   []walker.Skipped      `json:"skipped,omitempty"`
}
