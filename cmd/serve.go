package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/ziadkadry99/ragpipe/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing document search, question answering and ingestion tools for AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		// Set version from the cmd package variable.
		mcpserver.Version = Version

		count := 0
		if st, err := p.Stats(ctx); err == nil {
			count = st.TotalDocuments
		} else {
			logger.Warn("reading index stats failed", "error", err)
		}
		fmt.Fprintf(os.Stderr, "ragpipe MCP server started on stdio (chunks=%d)\n", count)

		srv := mcpserver.NewServer(p)
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
