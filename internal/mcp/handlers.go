package mcp

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/retriever"
)

// handleSearchDocuments performs semantic search over the index.
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	limit := request.GetInt("limit", 5)
	if limit <= 0 {
		limit = 5
	}

	res := s.pipeline.Search(ctx, retriever.Request{
		Query:          query,
		TopK:           limit,
		IncludeSources: true,
		Source:         request.GetString("source", ""),
	})
	if res.Error != "" {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %s", res.Error)), nil
	}
	if len(res.Matches) == 0 {
		return mcp.NewToolResultText("No results found. The index may be empty. Run `ragpipe ingest-dir` to index documents."), nil
	}

	return mcp.NewToolResultText(formatMatches(res.Matches)), nil
}

// handleAsk answers a question from the retrieved passages.
func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}

	res := s.pipeline.Query(ctx, question, request.GetInt("top_k", 0), true)
	if res.Error != "" {
		return mcp.NewToolResultError(res.Response), nil
	}

	var sb strings.Builder
	sb.WriteString(res.Response)
	sb.WriteString("\n")
	if len(res.Matches) > 0 {
		sb.WriteString("\nSources:\n")
		for _, m := range res.Matches {
			fmt.Fprintf(&sb, "- %s (chunk %d, similarity %.1f%%)\n", m.Source, m.Index, m.Score*100)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// handleListSources lists the ledger entries.
func (s *Server) handleListSources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	srcs, err := s.pipeline.Sources(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sources: %v", err)), nil
	}
	if len(srcs) == 0 {
		return mcp.NewToolResultText("No sources have been ingested yet."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d source(s):\n", len(srcs))
	for _, src := range srcs {
		fmt.Fprintf(&sb, "- %s: %d chunk(s), ingested %s", src.Name, src.ChunkCount, src.IngestedAt.Format(time.RFC3339))
		if src.FilePath != "" {
			fmt.Fprintf(&sb, ", file %s", src.FilePath)
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// handleIndexStats reports index statistics.
func (s *Server) handleIndexStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.pipeline.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read stats: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Chunks indexed: %d\n", st.TotalDocuments)
	fmt.Fprintf(&sb, "Sources: %d\n", st.TotalSources)
	fmt.Fprintf(&sb, "Index size: %d bytes\n", st.IndexSizeBytes)
	fmt.Fprintf(&sb, "Backend: %s\n", st.IndexBackend)
	fmt.Fprintf(&sb, "Embedding model: %s (%d dimensions)\n", st.EmbeddingModel, st.Dimension)
	fmt.Fprintf(&sb, "Chunking: size %d, overlap %d\n", st.ChunkSize, st.ChunkOverlap)
	return mcp.NewToolResultText(sb.String()), nil
}

// handleIngestFile ingests one local file.
func (s *Server) handleIngestFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	source := request.GetString("source", "")
	if source == "" {
		source = filepath.Base(path)
	}

	res := s.pipeline.IngestFile(ctx, path, source, nil)
	if !res.Success {
		return mcp.NewToolResultError(fmt.Sprintf("ingestion failed: %s", res.Error)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Ingested %s as source %q: %d chunk(s).", res.FilePath, res.Source, res.ChunkCount)), nil
}

// handleRemoveSource deletes a source from the index.
func (s *Server) handleRemoveSource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := request.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: source"), nil
	}

	res := s.pipeline.RemoveSource(ctx, source)
	if !res.Success {
		return mcp.NewToolResultError(fmt.Sprintf("failed to remove source %q: %s", source, res.Error)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Removed source %q (%d chunk(s)).", source, res.Deleted)), nil
}

// formatMatches converts matches into a rich text format optimized for AI
// agent consumption.
func formatMatches(matches []rag.Match) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d result(s):\n", len(matches)))

	for i, m := range matches {
		sb.WriteString(fmt.Sprintf("\n--- Result %d ---\n", i+1))
		sb.WriteString(fmt.Sprintf("Source: %s\n", m.Source))
		sb.WriteString(fmt.Sprintf("Chunk: %d\n", m.Index))
		sb.WriteString(fmt.Sprintf("Similarity: %.1f%%\n", m.Score*100))

		sb.WriteString("\n")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}

	return sb.String()
}
