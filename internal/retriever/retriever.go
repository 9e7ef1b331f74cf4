// Package retriever answers natural-language queries from the vector index.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cast"

	"github.com/ziadkadry99/ragpipe/internal/chunker"
	"github.com/ziadkadry99/ragpipe/internal/embeddings"
	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/vectordb"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultTopK          = 5
	DefaultExcerptLength = 200
)

// Generator produces an answer from the retrieved passages.
type Generator interface {
	Generate(ctx context.Context, question string, passages []string) (string, error)
}

// Options tunes a Retriever.
type Options struct {
	TopK           int
	ExcerptLength  int
	Concurrency    int           // parallel queries in BatchQuery
	RequestTimeout time.Duration // deadline for each index search, retries included
	Logger         *slog.Logger
}

// Request describes one search.
type Request struct {
	Query          string
	TopK           int
	IncludeSources bool
	Source         string // restrict matches to one source when set
}

// Retriever embeds queries and ranks indexed chunks by similarity. It holds
// no mutable state besides the optional generator and is safe for
// concurrent use once configured.
type Retriever struct {
	embedder  embeddings.Embedder
	index     vectordb.Index
	generator Generator
	opts      Options
	logger    *slog.Logger
}

// New creates a Retriever.
func New(embedder embeddings.Embedder, index vectordb.Index, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ExcerptLength <= 0 {
		opts.ExcerptLength = DefaultExcerptLength
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		opts:     opts,
		logger:   logger.With("component", "retriever"),
	}
}

// SetGenerator enables answer generation. Without a generator the response
// summarises what was found.
func (r *Retriever) SetGenerator(g Generator) {
	r.generator = g
}

// Query runs a search over the whole index.
func (r *Retriever) Query(ctx context.Context, text string, topK int, includeSources bool) rag.RAGResult {
	return r.Search(ctx, Request{Query: text, TopK: topK, IncludeSources: includeSources})
}

// Search cleans and embeds the query, fetches the nearest chunks and builds
// the response. Failures are reported in the result, never returned.
func (r *Retriever) Search(ctx context.Context, req Request) rag.RAGResult {
	cleaned := chunker.Clean(req.Query)
	if cleaned == "" {
		return r.fail(req.Query, rag.ErrEmptyQuery)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = r.opts.TopK
	}

	vecs, err := r.embedder.Embed(ctx, []string{cleaned})
	if err == nil {
		err = embeddings.Validate(vecs, 1, r.embedder.Dimensions())
	}
	if err != nil {
		if !rag.IsKind(err, rag.KindEmbedding) {
			err = rag.EmbeddingErr("embed query", false, err)
		}
		return r.fail(req.Query, err)
	}

	var filter map[string]string
	if req.Source != "" {
		filter = map[string]string{"source": req.Source}
	}

	var hits []vectordb.Hit
	err = r.call(ctx, func(ctx context.Context) error {
		var err error
		hits, err = r.index.Search(ctx, vecs[0], topK, filter)
		return err
	})
	if err != nil {
		return r.fail(req.Query, err)
	}

	if len(hits) == 0 {
		r.logger.Info("no matches", "query", req.Query)
		return rag.RAGResult{
			Success:  false,
			Query:    req.Query,
			Response: rag.NoMatchesMessage,
			Matches:  []rag.Match{},
		}
	}

	passages := make([]string, len(hits))
	var total float32
	for i, h := range hits {
		passages[i] = h.Text
		total += h.Score
	}

	response := fmt.Sprintf("Found %d relevant passages.", len(hits))
	if r.generator != nil {
		response, err = r.generator.Generate(ctx, cleaned, passages)
		if err != nil {
			return r.fail(req.Query, err)
		}
	}

	matches := []rag.Match{}
	if req.IncludeSources {
		matches = make([]rag.Match, len(hits))
		for i, h := range hits {
			matches[i] = rag.Match{
				ChunkID: h.ID,
				Source:  cast.ToString(h.Metadata["source"]),
				Index:   cast.ToInt(h.Metadata["chunk_index"]),
				Content: Excerpt(h.Text, r.opts.ExcerptLength),
				Score:   h.Score,
			}
		}
	}

	r.logger.Debug("query answered", "query", req.Query, "matches", len(hits))
	return rag.RAGResult{
		Success:    true,
		Query:      req.Query,
		Response:   response,
		Matches:    matches,
		NumMatches: len(hits),
		AvgScore:   total / float32(len(hits)),
	}
}

// QueryWithContext prepends caller context to the question and runs a
// normal query.
func (r *Retriever) QueryWithContext(ctx context.Context, text, extra string, topK int) rag.RAGResult {
	res := r.Query(ctx, WrapContext(text, extra), topK, true)
	res.ContextUsed = extra
	return res
}

// WrapContext formats a question together with caller-supplied context.
func WrapContext(question, extra string) string {
	return fmt.Sprintf("Context: %s\n\nQuestion: %s", extra, question)
}

func (r *Retriever) call(ctx context.Context, op func(ctx context.Context) error) error {
	if r.opts.RequestTimeout <= 0 {
		return op(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
	defer cancel()
	return op(ctx)
}

func (r *Retriever) fail(query string, err error) rag.RAGResult {
	r.logger.Warn("query failed", "query", query, "error", err)
	return rag.RAGResult{
		Success:  false,
		Query:    query,
		Response: "An error occurred while processing your query: " + err.Error(),
		Matches:  []rag.Match{},
		Error:    err.Error(),
	}
}
