package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultGoogleBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	googleMaxBatchSize   = 100
)

// GoogleModel represents a supported Google embedding model.
type GoogleModel string

const (
	ModelGeminiEmbedding001 GoogleModel = "gemini-embedding-001"
	ModelTextEmbedding004   GoogleModel = "text-embedding-004"
)

func (m GoogleModel) dimensions() int {
	switch m {
	case ModelTextEmbedding004:
		return 768
	default:
		return 3072
	}
}

// GoogleEmbedder generates embeddings using Google's Generative AI API.
type GoogleEmbedder struct {
	apiKey     string
	model      GoogleModel
	dimensions int
	baseURL    string
	httpClient *http.Client
}

// NewGoogleEmbedder creates a new Google embedder. A positive dimensions
// value requests reduced-size output; baseURL defaults to the public API.
func NewGoogleEmbedder(apiKey string, model GoogleModel, dimensions int, baseURL string) *GoogleEmbedder {
	if model == "" {
		model = ModelGeminiEmbedding001
	}
	if dimensions <= 0 {
		dimensions = model.dimensions()
	}
	if baseURL == "" {
		baseURL = defaultGoogleBaseURL
	}
	return &GoogleEmbedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

func (e *GoogleEmbedder) Name() string {
	return string(e.model)
}

func (e *GoogleEmbedder) Dimensions() int {
	return e.dimensions
}

type googleBatchRequest struct {
	Requests []googleEmbedRequest `json:"requests"`
}

type googleEmbedRequest struct {
	Model                string        `json:"model"`
	Content              googleContent `json:"content"`
	OutputDimensionality int           `json:"outputDimensionality,omitempty"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text string `json:"text"`
}

type googleBatchResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (e *GoogleEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, "google", texts, googleMaxBatchSize, e.embedBatch)
}

func (e *GoogleEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	modelPath := "models/" + string(e.model)
	payload := googleBatchRequest{Requests: make([]googleEmbedRequest, len(texts))}
	for i, text := range texts {
		payload.Requests[i] = googleEmbedRequest{
			Model:   modelPath,
			Content: googleContent{Parts: []googlePart{{Text: text}}},
		}
		if e.dimensions != e.model.dimensions() {
			payload.Requests[i].OutputDimensionality = e.dimensions
		}
	}

	header := http.Header{}
	header.Set("x-goog-api-key", e.apiKey)

	var resp googleBatchResponse
	url := fmt.Sprintf("%s/%s:batchEmbedContents", e.baseURL, modelPath)
	if err := postJSON(ctx, e.httpClient, "google", url, header, payload, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
