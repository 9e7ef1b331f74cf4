package pipeline

import (
	"context"
	"time"
)

// Health states.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// ComponentHealth is the state of one collaborator.
type ComponentHealth struct {
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Health aggregates component states. OverallStatus is unhealthy if any
// component is.
type Health struct {
	OverallStatus string                     `json:"overall_status"`
	Components    map[string]ComponentHealth `json:"components"`
	CheckedAt     time.Time                  `json:"checked_at"`
}

// HealthCheck probes the embedder with a round trip and the index and
// ledger for reachability.
func (p *Pipeline) HealthCheck(ctx context.Context) Health {
	h := Health{
		OverallStatus: StatusHealthy,
		Components:    make(map[string]ComponentHealth),
		CheckedAt:     time.Now().UTC(),
	}
	set := func(name string, details map[string]any, err error) {
		c := ComponentHealth{Status: StatusHealthy, Details: details}
		if err != nil {
			c = ComponentHealth{Status: StatusUnhealthy, Error: err.Error()}
			h.OverallStatus = StatusUnhealthy
			p.logger.Warn("component unhealthy", "component", name, "error", err)
		}
		h.Components[name] = c
	}

	vecs, err := p.embedder.Embed(ctx, []string{"test"})
	var dim int
	if err == nil && len(vecs) > 0 {
		dim = len(vecs[0])
	}
	set("embeddings", map[string]any{"embedding_dimension": dim, "model": p.embedder.Name()}, err)

	err = p.index.Ping(ctx)
	var docs int
	if err == nil {
		st, statsErr := p.index.Stats(ctx)
		err, docs = statsErr, st.DocumentCount
	}
	set("vectorstore", map[string]any{"total_documents": docs, "backend": string(p.cfg.VectorStore.Backend)}, err)

	if p.db != nil {
		err = p.db.PingContext(ctx)
		set("ledger", map[string]any{"path": p.db.Path()}, err)
	}
	return h
}

// Stats summarises the index and the effective settings.
type Stats struct {
	TotalDocuments int    `json:"total_documents"`
	IndexSizeBytes int64  `json:"index_size_bytes"`
	TotalSources   int    `json:"total_sources"`
	Dimension      int    `json:"dimension"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
	TopK           int    `json:"top_k"`
	EmbeddingModel string `json:"embedding_model"`
	IndexBackend   string `json:"index_backend"`
	PipelineStatus string `json:"pipeline_status"`
}

// Stats reads index statistics and the ledger's source count.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	st, err := p.index.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	dim := st.Dimension
	if dim == 0 {
		dim = p.embedder.Dimensions()
	}
	out := Stats{
		TotalDocuments: st.DocumentCount,
		IndexSizeBytes: st.SizeBytes,
		Dimension:      dim,
		ChunkSize:      p.chunker.Size(),
		ChunkOverlap:   p.chunker.Overlap(),
		TopK:           p.cfg.Retrieval.TopK,
		EmbeddingModel: p.embedder.Name(),
		IndexBackend:   st.Backend,
		PipelineStatus: "active",
	}
	if p.ledger != nil {
		if out.TotalSources, err = p.ledger.Count(ctx); err != nil {
			return out, err
		}
	}
	return out, nil
}
