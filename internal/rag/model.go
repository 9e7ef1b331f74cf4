package rag

// Document is a unit of raw text handed to the ingestion pipeline. Only the
// chunks derived from it are persisted.
type Document struct {
	Text     string
	Source   string         // Grouping key shared by all chunks of this document.
	Path     string         // Originating file, empty for inline text.
	Metadata map[string]any // Caller-supplied scalar values copied onto every chunk.
}

// Chunk is a bounded, cleaned substring of a document and the atomic unit of
// indexing and retrieval.
type Chunk struct {
	ID       string         `json:"id"`
	Source   string         `json:"source"`
	Index    int            `json:"index"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResult pairs a chunk with its similarity to a query. Higher is closer.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// IngestResult reports the outcome of ingesting a single document.
type IngestResult struct {
	Success    bool           `json:"success"`
	Source     string         `json:"source"`
	FilePath   string         `json:"file_path,omitempty"`
	ChunkCount int            `json:"total_chunks"`
	ChunkIDs   []string       `json:"chunk_ids,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Error      string         `json:"error,omitempty"`

	// Err keeps the typed failure for callers that inspect it with errors.Is/As.
	Err error `json:"-"`
}

// Failed builds an unsuccessful IngestResult from err.
func Failed(source, path string, err error) IngestResult {
	return IngestResult{
		Success:  false,
		Source:   source,
		FilePath: path,
		Error:    err.Error(),
		Err:      err,
	}
}

// BatchIngestResult aggregates per-item results in input order.
type BatchIngestResult struct {
	TotalFiles int            `json:"total_files"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Results    []IngestResult `json:"results"`
}

// NewBatchIngestResult tallies results without reordering them.
func NewBatchIngestResult(results []IngestResult) BatchIngestResult {
	b := BatchIngestResult{Results: make([]IngestResult, 0, len(results))}
	for _, r := range results {
		b.Add(r)
	}
	return b
}

// Add appends r and updates the counters.
func (b *BatchIngestResult) Add(r IngestResult) {
	b.Results = append(b.Results, r)
	b.TotalFiles++
	if r.Success {
		b.Successful++
	} else {
		b.Failed++
	}
}

// NoMatchesMessage is returned when a query finds nothing in the index.
const NoMatchesMessage = "I couldn't find any relevant information to answer your question."

// Match is a display-safe view of one retrieved chunk.
type Match struct {
	ChunkID string  `json:"chunk_id"`
	Source  string  `json:"source"`
	Index   int     `json:"chunk_index"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// RAGResult is the structured outcome of a query. Success is false both on
// failure and when nothing relevant was found.
type RAGResult struct {
	Success     bool    `json:"success"`
	Query       string  `json:"query"`
	Response    string  `json:"response"`
	Matches     []Match `json:"sources"`
	NumMatches  int     `json:"num_sources"`
	AvgScore    float32 `json:"avg_score"`
	ContextUsed string  `json:"context_used,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// RemoveResult reports the outcome of removing a source.
type RemoveResult struct {
	Success bool   `json:"success"`
	Source  string `json:"source"`
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}
