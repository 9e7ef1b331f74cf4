package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragpipe/internal/pipeline"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		ctx := context.Background()
		p, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		st, err := p.Stats(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}
		fmt.Printf("Chunks indexed:  %d\n", st.TotalDocuments)
		fmt.Printf("Sources:         %d\n", st.TotalSources)
		fmt.Printf("Index size:      %d bytes\n", st.IndexSizeBytes)
		fmt.Printf("Backend:         %s\n", st.IndexBackend)
		fmt.Printf("Embedding model: %s (%d dimensions)\n", st.EmbeddingModel, st.Dimension)
		fmt.Printf("Chunking:        size %d, overlap %d\n", st.ChunkSize, st.ChunkOverlap)
		fmt.Printf("Top K:           %d\n", st.TopK)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the embedding provider, vector store and ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		ctx := context.Background()
		p, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		h := p.HealthCheck(ctx)
		if jsonOutput {
			if err := printJSON(h); err != nil {
				return err
			}
		} else {
			fmt.Printf("Overall: %s\n", h.OverallStatus)
			names := make([]string, 0, len(h.Components))
			for name := range h.Components {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				c := h.Components[name]
				line := fmt.Sprintf("  %-12s %s", name, c.Status)
				if c.Error != "" {
					line += ": " + c.Error
				}
				fmt.Println(line)
			}
		}
		if h.OverallStatus != pipeline.StatusHealthy {
			return errors.New("pipeline is unhealthy")
		}
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every document from the index",
	Long:  `Empties the vector index and the source ledger. This cannot be undone; pass --yes to skip the confirmation prompt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		if !yes {
			prompt := promptui.Prompt{
				Label:     "Delete every indexed document",
				IsConfirm: true,
			}
			if _, err := prompt.Run(); err != nil {
				fmt.Println("Reset cancelled.")
				return nil
			}
			yes = true
		}

		ctx := context.Background()
		p, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.Reset(ctx, yes); err != nil {
			return err
		}
		fmt.Println("Pipeline reset successfully")
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write a compressed snapshot of the embedded index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := snapshotPath(args[0])

		ctx := context.Background()
		p, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.Export(ctx, path); err != nil {
			return err
		}
		fmt.Printf("Index exported to %s\n", path)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Replace the embedded index with a snapshot",
	Long:  `Replaces every indexed document with the contents of a snapshot written by export. The source ledger is cleared because it no longer describes the index.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.Import(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Index imported from %s\n", args[0])
		return nil
	},
}

// snapshotPath makes sure compressed snapshots carry the .gz suffix the
// index requires.
func snapshotPath(path string) string {
	if strings.HasSuffix(path, ".gz") {
		return path
	}
	return path + ".gz"
}

func init() {
	statsCmd.Flags().Bool("json", false, "output results as JSON")
	healthCmd.Flags().Bool("json", false, "output results as JSON")
	resetCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(statsCmd, healthCmd, resetCmd, exportCmd, importCmd)
}
