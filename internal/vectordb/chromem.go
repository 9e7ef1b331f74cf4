package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	chromem "github.com/philippgille/chromem-go"

	"github.com/ziadkadry99/ragpipe/internal/embeddings"
	"github.com/ziadkadry99/ragpipe/internal/rag"
)

const (
	chromemSubdir  = "chromem"
	schemaFileName = "schema.json"
	lockFileName   = "index.lock"
	lockRetryDelay = 50 * time.Millisecond
)

// ChromemOptions configures a ChromemStore.
type ChromemOptions struct {
	// Dir holds the persisted collection. Empty means in-memory only.
	Dir        string
	Collection string
	Compress   bool
	// Embedder embeds entries upserted without a vector. Optional.
	Embedder embeddings.Embedder
	Logger   *slog.Logger
}

// ChromemStore implements Index using chromem-go. Writes are serialised
// in-process with mu and across processes with a file lock in Dir.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	dir        string
	embedFunc  chromem.EmbeddingFunc
	fileLock   *flock.Flock
	dim        int
	logger     *slog.Logger
}

type chromemSchema struct {
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
}

// NewChromemStore opens or creates the collection.
func NewChromemStore(opts ChromemOptions) (*ChromemStore, error) {
	if opts.Collection == "" {
		opts.Collection = "rag_documents"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &ChromemStore{
		name:      opts.Collection,
		dir:       opts.Dir,
		embedFunc: refuseEmbedding,
		logger:    logger.With("component", "vectordb", "backend", "chromem"),
	}
	if opts.Embedder != nil {
		s.embedFunc = embeddings.ToChromemFunc(opts.Embedder)
	}

	if s.dir == "" {
		s.db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, rag.IndexErr("open", false, fmt.Errorf("create data dir: %w", err))
		}
		db, err := chromem.NewPersistentDB(filepath.Join(s.dir, chromemSubdir), opts.Compress)
		if err != nil {
			return nil, rag.IndexErr("open", false, fmt.Errorf("open persistent db: %w", err))
		}
		s.db = db
		s.fileLock = flock.New(filepath.Join(s.dir, lockFileName))

		schema, err := s.readSchema()
		if err != nil {
			return nil, err
		}
		s.dim = schema.Dimension
	}

	col, err := s.db.GetOrCreateCollection(s.name, nil, s.embedFunc)
	if err != nil {
		return nil, rag.IndexErr("open", false, fmt.Errorf("create collection: %w", err))
	}
	s.collection = col

	s.logger.Debug("index opened", "dir", s.dir, "collection", s.name, "documents", col.Count())
	return s, nil
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("no embedder configured; entries must carry vectors")
}

// lock takes the cross-process write lock. In-memory stores have none.
func (s *ChromemStore) lock(ctx context.Context) (func(), error) {
	if s.fileLock == nil {
		return func() {}, nil
	}
	ok, err := s.fileLock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, rag.IndexErr("lock", true, fmt.Errorf("acquire index lock: %w", err))
	}
	if !ok {
		return nil, rag.IndexErr("lock", true, errors.New("index is locked by another process"))
	}
	return func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.Warn("failed to release index lock", "error", err)
		}
	}, nil
}

func (s *ChromemStore) readSchema() (chromemSchema, error) {
	var schema chromemSchema
	data, err := os.ReadFile(filepath.Join(s.dir, schemaFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return schema, nil
	}
	if err != nil {
		return schema, rag.IndexErr("schema", false, fmt.Errorf("read schema: %w", err))
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		return schema, rag.IndexErr("schema", false, fmt.Errorf("parse schema: %w", err))
	}
	return schema, nil
}

func (s *ChromemStore) writeSchema() error {
	if s.dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(chromemSchema{Collection: s.name, Dimension: s.dim}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, schemaFileName), data, 0o644); err != nil {
		return rag.IndexErr("schema", false, fmt.Errorf("write schema: %w", err))
	}
	return nil
}

// EnsureSchema records dim for a new index and rejects a different one for
// an existing index.
func (s *ChromemStore) EnsureSchema(ctx context.Context, dim int) error {
	if dim <= 0 {
		return rag.ConfigError("index dimension must be positive, got %d", dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == dim {
		return nil
	}
	if s.dim != 0 && s.collection.Count() > 0 {
		return rag.IndexErr("schema", false,
			fmt.Errorf("%w: index holds %d-dimensional vectors, embedder produces %d", rag.ErrSchemaMismatch, s.dim, dim))
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	s.dim = dim
	return s.writeSchema()
}

func (s *ChromemStore) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if len(e.Vector) > 0 && s.dim > 0 && len(e.Vector) != s.dim {
			return rag.IndexErr("upsert", false,
				fmt.Errorf("%w: entry %s has %d dimensions, index expects %d", rag.ErrDimensionMismatch, e.ID, len(e.Vector), s.dim))
		}
		docs[i] = chromem.Document{
			ID:        e.ID,
			Content:   e.Text,
			Embedding: e.Vector,
			Metadata:  flattenMetadata(e.Metadata),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return rag.IndexErr("upsert", false, fmt.Errorf("chromem add: %w", err))
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, vec []float32, k int, filter map[string]string) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.dim > 0 && len(vec) != s.dim {
		return nil, rag.IndexErr("search", false,
			fmt.Errorf("%w: query has %d dimensions, index expects %d", rag.ErrDimensionMismatch, len(vec), s.dim))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// chromem-go requires nResults <= collection size.
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	k = min(k, count)

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}

	results, err := s.collection.QueryEmbedding(ctx, vec, k, where, nil)
	if err != nil {
		return nil, rag.IndexErr("search", false, fmt.Errorf("chromem query: %w", err))
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: expandMetadata(r.Metadata),
			Score:    r.Similarity,
		}
	}
	sortHits(hits)
	return hits, nil
}

func (s *ChromemStore) DeleteByFilter(ctx context.Context, field, value string) (int, error) {
	if field == "" {
		return 0, rag.IndexErr("delete", false, errors.New("filter field is empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	before := s.collection.Count()
	if err := s.collection.Delete(ctx, map[string]string{field: value}, nil); err != nil {
		return 0, rag.IndexErr("delete", false, fmt.Errorf("chromem delete: %w", err))
	}
	return before - s.collection.Count(), nil
}

func (s *ChromemStore) DeleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return rag.IndexErr("delete", false, fmt.Errorf("chromem delete: %w", err))
	}
	return nil
}

func (s *ChromemStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		DocumentCount: s.collection.Count(),
		Dimension:     s.dim,
		Backend:       "chromem",
	}
	if s.dir == "" {
		st.SizeBytes = int64(st.DocumentCount) * int64(s.dim) * 4
		return st, nil
	}

	err := filepath.WalkDir(filepath.Join(s.dir, chromemSubdir), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		st.SizeBytes += info.Size()
		return nil
	})
	if err != nil {
		return st, rag.IndexErr("stats", false, fmt.Errorf("measure index size: %w", err))
	}
	return st, nil
}

// Reset removes every entry and recreates an empty collection. The recorded
// dimension is kept.
func (s *ChromemStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	return s.resetLocked()
}

func (s *ChromemStore) resetLocked() error {
	if err := s.db.Reset(); err != nil {
		return rag.IndexErr("reset", false, fmt.Errorf("chromem reset: %w", err))
	}
	col, err := s.db.GetOrCreateCollection(s.name, nil, s.embedFunc)
	if err != nil {
		return rag.IndexErr("reset", false, fmt.Errorf("recreate collection: %w", err))
	}
	s.collection = col
	s.logger.Info("index reset", "collection", s.name)
	return nil
}

// Export writes the collection to a gzip-compressed gob snapshot.
func (s *ChromemStore) Export(ctx context.Context, path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.db.ExportToFile(path, true, "", s.name); err != nil {
		return rag.IndexErr("export", false, err)
	}
	return nil
}

// Import replaces the collection with the one stored in a snapshot written
// by Export. The snapshot is decoded into a scratch database first; the live
// index is only replaced once the snapshot holds a compatible collection of
// the same name.
func (s *ChromemStore) Import(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return rag.IndexErr("import", false, fmt.Errorf("snapshot: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	scratch := chromem.NewDB()
	if err := scratch.ImportFromFile(path, "", s.name); err != nil {
		return rag.IndexErr("import", false, fmt.Errorf("import from file: %w", err))
	}
	staged := scratch.GetCollection(s.name, s.embedFunc)
	if staged == nil {
		return rag.IndexErr("import", false, fmt.Errorf("collection %q not found in snapshot", s.name))
	}
	if err := s.checkDimension(ctx, staged); err != nil {
		return err
	}

	if err := s.resetLocked(); err != nil {
		return err
	}
	if err := s.db.ImportFromFile(path, "", s.name); err != nil {
		return rag.IndexErr("import", false, fmt.Errorf("import from file: %w", err))
	}
	col := s.db.GetCollection(s.name, s.embedFunc)
	if col == nil {
		return rag.IndexErr("import", false, fmt.Errorf("collection %q missing after import", s.name))
	}
	s.collection = col

	s.logger.Info("index imported", "path", path, "documents", col.Count())
	return nil
}

// checkDimension probes col with a vector of the recorded dimension;
// chromem rejects the query if stored vectors differ in length.
func (s *ChromemStore) checkDimension(ctx context.Context, col *chromem.Collection) error {
	if s.dim == 0 || col.Count() == 0 {
		return nil
	}
	probe := make([]float32, s.dim)
	probe[0] = 1
	if _, err := col.QueryEmbedding(ctx, probe, 1, nil, nil); err != nil {
		return rag.IndexErr("import", false,
			fmt.Errorf("%w: snapshot vectors do not match the %d-dimensional index: %v", rag.ErrSchemaMismatch, s.dim, err))
	}
	return nil
}

func (s *ChromemStore) Ping(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Join(s.dir, chromemSubdir)); err != nil {
		return rag.IndexErr("ping", false, err)
	}
	return nil
}

// Close releases the file lock handle. Data is already on disk.
func (s *ChromemStore) Close() error {
	if s.fileLock != nil {
		return s.fileLock.Close()
	}
	return nil
}
