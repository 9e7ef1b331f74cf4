package embeddings

import (
	"context"

	chromem "github.com/philippgille/chromem-go"
)

// ToChromemFunc adapts e to the single-text embedding hook of chromem-go.
// Vectors that do not match e.Dimensions are rejected with
// rag.ErrDimensionMismatch.
func ToChromemFunc(e Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vecs, err := e.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if err := Validate(vecs, 1, e.Dimensions()); err != nil {
			return nil, err
		}
		return vecs[0], nil
	}
}
