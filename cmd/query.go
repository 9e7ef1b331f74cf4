package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragpipe/internal/rag"
	"github.com/ziadkadry99/ragpipe/internal/retriever"
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a question from the indexed documents",
	Long:  `Embeds the question, retrieves the most similar passages and answers from them. With answer generation enabled the configured LLM writes the answer.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var batchQueryCmd = &cobra.Command{
	Use:   "batch-query [questions...]",
	Short: "Run several queries concurrently",
	Long:  `Runs every question independently. Questions come from the arguments or, with --file, one per line from a file ("-" reads stdin).`,
	RunE:  runBatchQuery,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest [partial query]",
	Short: "Suggest complete questions for a partial query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		max, _ := cmd.Flags().GetInt("max")
		for _, s := range retriever.Suggestions(args[0], max) {
			fmt.Println(s)
		}
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [query]",
	Short: "Classify the intent of a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(retriever.AnalyzeIntent(args[0]))
	},
}

func init() {
	queryCmd.Flags().Int("top-k", 0, "number of passages to retrieve (default from config)")
	queryCmd.Flags().String("context", "", "extra context to prepend to the question")
	queryCmd.Flags().String("source", "", "only search passages from this source")
	queryCmd.Flags().Bool("no-sources", false, "omit the matching passages")
	queryCmd.Flags().Bool("json", false, "output results as JSON")

	batchQueryCmd.Flags().Int("top-k", 0, "number of passages per query (default from config)")
	batchQueryCmd.Flags().String("file", "", "read questions from a file, one per line")
	batchQueryCmd.Flags().Bool("json", false, "output results as JSON")

	suggestCmd.Flags().Int("max", 5, "maximum number of suggestions")

	rootCmd.AddCommand(queryCmd, batchQueryCmd, suggestCmd, analyzeCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	topK, _ := cmd.Flags().GetInt("top-k")
	extra, _ := cmd.Flags().GetString("context")
	source, _ := cmd.Flags().GetString("source")
	noSources, _ := cmd.Flags().GetBool("no-sources")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if extra != "" && source != "" {
		return fmt.Errorf("--context and --source cannot be combined")
	}

	ctx, stop := signalContext()
	defer stop()

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	var res rag.RAGResult
	if extra != "" {
		res = p.QueryWithContext(ctx, args[0], extra, topK)
	} else {
		res = p.Search(ctx, retriever.Request{
			Query:          args[0],
			TopK:           topK,
			IncludeSources: !noSources,
			Source:         source,
		})
	}

	if jsonOutput {
		return printJSON(res)
	}
	printRAGResult(res)
	if res.Error != "" {
		return errPartialFailure
	}
	return nil
}

func runBatchQuery(cmd *cobra.Command, args []string) error {
	topK, _ := cmd.Flags().GetInt("top-k")
	file, _ := cmd.Flags().GetString("file")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	queries := args
	if file != "" {
		lines, err := readLines(file)
		if err != nil {
			return err
		}
		queries = append(queries, lines...)
	}
	if len(queries) == 0 {
		return fmt.Errorf("no queries given")
	}

	ctx, stop := signalContext()
	defer stop()

	p, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	results := p.BatchQuery(ctx, queries, topK)
	if jsonOutput {
		return printJSON(map[string]any{
			"total_queries": len(results),
			"results":       results,
		})
	}

	for i, res := range results {
		fmt.Printf("=== %d. %s\n", i+1, res.Query)
		printRAGResult(res)
		fmt.Println()
	}
	return nil
}

func printRAGResult(res rag.RAGResult) {
	fmt.Println(res.Response)
	if len(res.Matches) == 0 {
		return
	}
	fmt.Printf("\nSources (average similarity %.1f%%):\n", res.AvgScore*100)
	for i, m := range res.Matches {
		fmt.Printf("  %d. [%.1f%%] %s #%d\n", i+1, m.Score*100, m.Source, m.Index)
		fmt.Printf("     %s\n", strings.ReplaceAll(m.Content, "\n", " "))
	}
}

func readLines(path string) ([]string, error) {
	f := os.Stdin
	if path != "-" {
		var err error
		if f, err = os.Open(path); err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
	}

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}
