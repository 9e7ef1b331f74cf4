package embeddings

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// ResilientOptions configures the Resilient wrapper.
type ResilientOptions struct {
	Retry     rag.RetryPolicy
	RateLimit float64 // requests per second, 0 = unlimited
	RateBurst int
	Logger    *slog.Logger
}

// Resilient wraps an Embedder with rate limiting, bounded retries and
// output validation. Every failure it returns is a rag embedding error.
type Resilient struct {
	inner   Embedder
	opts    ResilientOptions
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewResilient wraps inner.
func NewResilient(inner Embedder, opts ResilientOptions) *Resilient {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resilient{
		inner:   inner,
		opts:    opts,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "embeddings", "model", inner.Name()),
	}
}

func (r *Resilient) Name() string    { return r.inner.Name() }
func (r *Resilient) Dimensions() int { return r.inner.Dimensions() }

// Unwrap returns the wrapped embedder.
func (r *Resilient) Unwrap() Embedder { return r.inner }

// Embed calls the wrapped embedder and checks that exactly one vector of the
// configured dimension came back per text.
func (r *Resilient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var out [][]float32
	err := rag.Retry(ctx, r.opts.Retry, r.logger, func(ctx context.Context) error {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
		vecs, err := r.inner.Embed(ctx, texts)
		if err != nil {
			return classify(err)
		}
		out = vecs
		return nil
	})
	if err != nil {
		r.logger.Error("embedding failed", "texts", len(texts), "error", err)
		return nil, classify(err)
	}

	if err := Validate(out, len(texts), r.inner.Dimensions()); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks an embedding batch against the expected count and
// dimension. Mismatches are permanent failures.
func Validate(vecs [][]float32, count, dim int) error {
	if len(vecs) != count {
		return rag.EmbeddingErr("validate", false,
			fmt.Errorf("got %d embeddings for %d texts", len(vecs), count))
	}
	for i, v := range vecs {
		if len(v) != dim {
			return rag.EmbeddingErr("validate", false,
				fmt.Errorf("%w: vector %d has %d dimensions, expected %d", rag.ErrDimensionMismatch, i, len(v), dim))
		}
	}
	return nil
}
