package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List ingested sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		runs, _ := cmd.Flags().GetInt("runs")

		ctx := context.Background()
		p, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		srcs, err := p.Sources(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(srcs)
		}
		if len(srcs) == 0 {
			fmt.Println("No sources ingested yet.")
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tCHUNKS\tINGESTED\tFILE")
			for _, s := range srcs {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.Name, s.ChunkCount, s.IngestedAt.Local().Format(time.DateTime), s.FilePath)
			}
			w.Flush()
		}

		if runs <= 0 {
			return nil
		}
		history, err := p.Runs(ctx, runs)
		if err != nil {
			return err
		}
		fmt.Println("\nRecent ingest runs:")
		for _, r := range history {
			status := "running"
			if r.FinishedAt != nil {
				status = fmt.Sprintf("%d ok, %d failed", r.Successful, r.Failed)
			}
			fmt.Printf("  %s  %-9s  %d item(s)  %s\n", r.StartedAt.Local().Format(time.DateTime), r.Kind, r.Total, status)
		}
		return nil
	},
}

var removeSourceCmd = &cobra.Command{
	Use:   "remove-source [source]",
	Short: "Delete every chunk of a source from the index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		p, err := openPipeline(ctx)
		if err != nil {
			return err
		}
		defer p.Close()

		res := p.RemoveSource(ctx, args[0])
		if !res.Success {
			return fmt.Errorf("removing %s: %s", args[0], res.Error)
		}
		fmt.Printf("Successfully removed source: %s (%d chunk(s))\n", res.Source, res.Deleted)
		return nil
	},
}

func init() {
	sourcesCmd.Flags().Bool("json", false, "output results as JSON")
	sourcesCmd.Flags().Int("runs", 0, "also show the most recent ingest runs")
	rootCmd.AddCommand(sourcesCmd, removeSourceCmd)
}
