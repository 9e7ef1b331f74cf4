package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragpipe/internal/indexer"
	"github.com/ziadkadry99/ragpipe/internal/progress"
	"github.com/ziadkadry99/ragpipe/internal/rag"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest files or inline text into the index",
	Long: `Extracts, chunks, embeds and indexes the given files. Each file becomes its
own source, named after the file unless --source is given for a single file.
Use --text to index a piece of text directly.`,
	RunE: runIngest,
}

var ingestDirCmd = &cobra.Command{
	Use:   "ingest-dir [directory]",
	Short: "Ingest every supported document under a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngestDir,
}

var syncCmd = &cobra.Command{
	Use:   "sync [directory]",
	Short: "Re-index changed files and drop deleted ones",
	Long:  `Compares the directory with the source ledger. Files whose content changed are re-ingested, files that disappeared are removed from the index.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Keep the index in sync with a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	ingestCmd.Flags().String("source", "", "source name (single file or --text only)")
	ingestCmd.Flags().String("text", "", "index this text instead of files")
	ingestCmd.Flags().Bool("json", false, "output results as JSON")
	ingestDirCmd.Flags().Bool("json", false, "output results as JSON")
	syncCmd.Flags().Bool("json", false, "output results as JSON")
	rootCmd.AddCommand(ingestCmd, ingestDirCmd, syncCmd, watchCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	text, _ := cmd.Flags().GetString("text")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if text == "" && len(args) == 0 {
		return fmt.Errorf("nothing to ingest: pass files or --text")
	}
	if text != "" && source == "" {
		return fmt.Errorf("--source is required with --text")
	}
	if source != "" && len(args) > 1 {
		return fmt.Errorf("--source can only name a single file")
	}

	ctx, stop := signalContext()
	defer stop()

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if text != "" {
		res := p.Ingest(ctx, rag.Document{Text: text, Source: source})
		if jsonOutput {
			return printJSON(res)
		}
		printIngestResult(res)
		return resultErr(res.Success)
	}

	var names []string
	if source != "" {
		names = []string{source}
	}
	if len(args) > 1 {
		p.SetProgressFunc(progress.Track(progress.NewReporter("Ingesting")))
	}
	res := p.IngestFiles(ctx, args, names)
	if jsonOutput {
		return printJSON(res)
	}
	printBatch(res)
	return resultErr(res.Failed == 0)
}

func runIngestDir(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, stop := signalContext()
	defer stop()

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if !jsonOutput {
		p.SetProgressFunc(progress.Track(progress.NewReporter("Ingesting")))
	}
	res, err := p.IngestDirectory(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}

	printBatch(res.BatchIngestResult)
	for _, s := range res.Skipped {
		logger.Debug("skipped", "file", s.RelPath, "reason", s.Reason)
	}
	if len(res.Skipped) > 0 {
		fmt.Printf("Skipped %d file(s); run with -v for details.\n", len(res.Skipped))
	}
	return resultErr(res.Failed == 0)
}

func runSync(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, stop := signalContext()
	defer stop()

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.Sync(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}
	printSync(res)
	return resultErr(res.Ingested.Failed == 0)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", args[0])
	err = p.Watch(ctx, args[0], func(res *indexer.SyncResult, err error) {
		if err != nil {
			logger.Error("sync failed", "dir", args[0], "error", err)
			return
		}
		printSync(res)
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printIngestResult(r rag.IngestResult) {
	name := r.Source
	if r.FilePath != "" && r.FilePath != r.Source {
		name = fmt.Sprintf("%s (%s)", r.Source, r.FilePath)
	}
	if r.Success {
		fmt.Printf("  ok      %s: %d chunk(s)\n", name, r.ChunkCount)
		return
	}
	fmt.Printf("  failed  %s: %s\n", name, r.Error)
}

func printBatch(res rag.BatchIngestResult) {
	for _, r := range res.Results {
		printIngestResult(r)
	}
	fmt.Printf("\n%d file(s): %d succeeded, %d failed\n", res.TotalFiles, res.Successful, res.Failed)
}

func printSync(res *indexer.SyncResult) {
	for _, r := range res.Ingested.Results {
		printIngestResult(r)
	}
	for _, r := range res.Removed {
		if r.Success {
			fmt.Printf("  removed %s: %d chunk(s)\n", r.Source, r.Deleted)
		} else {
			fmt.Printf("  failed  removing %s: %s\n", r.Source, r.Error)
		}
	}
	fmt.Printf("Sync: %d re-indexed, %d unchanged, %d removed, %d failed\n",
		res.Ingested.Successful, res.Unchanged, len(res.Removed), res.Ingested.Failed)
}

// resultErr turns a partial failure into a non-zero exit without repeating
// the per-item messages already printed.
func resultErr(ok bool) error {
	if ok {
		return nil
	}
	return errPartialFailure
}

var errPartialFailure = errors.New("some items failed")
