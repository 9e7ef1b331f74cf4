package mcp

import "github.com/mark3labs/mcp-go/mcp"

// searchDocumentsTool defines the search_documents MCP tool.
var searchDocumentsTool = mcp.NewTool("search_documents",
	mcp.WithDescription("Search the indexed documents semantically. Returns the most relevant passages with their source and similarity."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural language search query"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of passages to return (default 5)"),
	),
	mcp.WithString("source",
		mcp.Description("Only search passages from this source"),
	),
)

// askTool defines the ask MCP tool.
var askTool = mcp.NewTool("ask",
	mcp.WithDescription("Answer a question from the indexed documents. Uses the configured LLM when answer generation is enabled."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("The question to answer"),
	),
	mcp.WithNumber("top_k",
		mcp.Description("Number of passages to ground the answer on (default 5)"),
	),
)

// listSourcesTool defines the list_sources MCP tool.
var listSourcesTool = mcp.NewTool("list_sources",
	mcp.WithDescription("List every ingested source with its chunk count and ingestion time."),
)

// indexStatsTool defines the index_stats MCP tool.
var indexStatsTool = mcp.NewTool("index_stats",
	mcp.WithDescription("Report index size, dimension and chunking settings."),
)

// ingestFileTool defines the ingest_file MCP tool.
var ingestFileTool = mcp.NewTool("ingest_file",
	mcp.WithDescription("Extract, chunk, embed and index a local file (.txt, .md, .html, .docx, .pdf)."),
	mcp.WithString("path",
		mcp.Required(),
		mcp.Description("Path to the file"),
	),
	mcp.WithString("source",
		mcp.Description("Source name to group the chunks under (default: file name)"),
	),
)

// removeSourceTool defines the remove_source MCP tool.
var removeSourceTool = mcp.NewTool("remove_source",
	mcp.WithDescription("Delete every indexed chunk of a source."),
	mcp.WithString("source",
		mcp.Required(),
		mcp.Description("Source name as shown by list_sources"),
	),
)
