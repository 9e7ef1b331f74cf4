package embeddings

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// Embedder defines the interface for generating text embeddings.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}

// statusError is returned by the REST adapters for non-2xx responses.
type statusError struct {
	provider string
	code     int
	body     string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.provider, e.code, e.body)
}

// classify wraps a provider failure as an embedding error. Rate limiting,
// server errors, timeouts and network failures are transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var re *rag.Error
	if errors.As(err, &re) {
		return err
	}
	return rag.EmbeddingErr("embed", isTransient(err), err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return rag.TransientStatus(se.code)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return rag.TransientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return rag.TransientStatus(reqErr.HTTPStatusCode)
	}
	return rag.IsNetworkError(err)
}
