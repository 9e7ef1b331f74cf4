package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cast"

	"github.com/ziadkadry99/ragpipe/internal/config"
	"github.com/ziadkadry99/ragpipe/internal/embeddings"
	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// Index stores chunk vectors with their text and metadata and answers
// nearest-neighbour queries. Implementations are safe for concurrent use.
type Index interface {
	// EnsureSchema prepares the index for vectors of the given dimension. An
	// existing index built for another dimension is a schema mismatch.
	EnsureSchema(ctx context.Context, dim int) error

	// Upsert inserts entries, replacing any with the same id.
	Upsert(ctx context.Context, entries []Entry) error

	// Search returns up to k entries most similar to vec, best first. A
	// non-empty filter restricts results to entries whose metadata matches
	// every key exactly.
	Search(ctx context.Context, vec []float32, k int, filter map[string]string) ([]Hit, error)

	// DeleteByFilter removes every entry whose metadata field equals value
	// and reports how many were removed.
	DeleteByFilter(ctx context.Context, field, value string) (int, error)

	// DeleteIDs removes the given entries. Unknown ids are ignored.
	DeleteIDs(ctx context.Context, ids []string) error

	Stats(ctx context.Context) (Stats, error)

	// Reset removes every entry.
	Reset(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

// Entry is one stored chunk.
type Entry struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]any
}

// Hit is one search result. Score is cosine similarity, higher is better.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]any
	Score    float32
}

// Stats describes the index contents.
type Stats struct {
	DocumentCount int    `json:"total_documents"`
	SizeBytes     int64  `json:"index_size_bytes"`
	Dimension     int    `json:"dimension"`
	Backend       string `json:"backend"`
}

// FromConfig opens the index selected by cfg. embedder may be nil; when set,
// the embedded backend uses it for entries stored without a vector.
func FromConfig(cfg config.VectorStoreConfig, req config.RequestsConfig, embedder embeddings.Embedder, logger *slog.Logger) (Index, error) {
	switch cfg.Backend {
	case config.BackendChromem, "":
		return NewChromemStore(ChromemOptions{
			Dir:        cfg.DataDir,
			Collection: cfg.Collection,
			Compress:   cfg.Compress,
			Embedder:   embedder,
			Logger:     logger,
		})
	case config.BackendQdrant:
		return NewQdrantStore(QdrantOptions{
			URL:        cfg.URL,
			APIKey:     cfg.APIKey,
			Collection: cfg.Collection,
			Retry:      req.RetryPolicy(),
			Logger:     logger,
		})
	default:
		return nil, rag.ConfigError("unsupported vector store backend %q", cfg.Backend)
	}
}

// flattenMetadata converts metadata to the string map the embedded backend
// stores. Values that cast cannot render are formatted with fmt.
func flattenMetadata(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			s = fmt.Sprint(v)
		}
		out[k] = s
	}
	return out
}

func expandMetadata(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sortHits orders hits by descending score, breaking ties by id so results
// are stable.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
