// Package mcp exposes the pipeline to AI agents as Model Context Protocol
// tools over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/ragpipe/internal/pipeline"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes document search tools.
type Server struct {
	pipeline *pipeline.Pipeline
	mcp      *server.MCPServer
}

// NewServer creates a new MCP server backed by p.
func NewServer(p *pipeline.Pipeline) *Server {
	s := &Server{pipeline: p}

	s.mcp = server.NewMCPServer(
		"ragpipe",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(searchDocumentsTool, s.handleSearchDocuments)
	s.mcp.AddTool(askTool, s.handleAsk)
	s.mcp.AddTool(listSourcesTool, s.handleListSources)
	s.mcp.AddTool(indexStatsTool, s.handleIndexStats)
	s.mcp.AddTool(ingestFileTool, s.handleIngestFile)
	s.mcp.AddTool(removeSourceTool, s.handleRemoveSource)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
