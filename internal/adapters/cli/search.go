package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
	"github.com/kirillkom/hybrid-retriever/internal/core/usecase"
)

func searchCMD(open Opener) *cobra.Command {
	var (
		source  string
		query   string
		file    string
		topK    int
		mix     float64
		explain bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Retrieve the passages of a source most relevant to a query",
		Long: `Runs hybrid search over an indexed source: BM25 keyword scores and
dense embedding similarity blended by --mix (0 is keyword only, 1 is
dense only). With --file the source is indexed first when not cached.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			if file != "" {
				text, err := readText(file)
				if err != nil {
					return err
				}
				if _, err := svc.Ingest(cmd.Context(), domain.IngestRequest{SourceID: source, Text: text}); err != nil {
					return fmt.Errorf("index %s: %w", source, err)
				}
			}

			req := domain.SearchRequest{
				SourceID: source,
				Query:    query,
				TopK:     topK,
				Explain:  explain,
			}
			if cmd.Flags().Changed("mix") {
				req.MixRatio = &mix
			}
			result, err := svc.Search(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("search %s: %w", source, err)
			}

			if asJSON {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal result: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			if len(result.Passages) == 0 {
				cmd.Println("No passages found.")
				return nil
			}
			if explain {
				for _, c := range result.Candidates {
					cmd.Printf("[%d] score=%.4f dense=%.4f lexical=%.4f\n", c.ChunkID, c.Score, c.Dense, c.Lexical)
				}
				cmd.Println()
			}
			cmd.Println(usecase.Context(result.Passages))
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "source identifier the corpus was indexed under")
	cmd.Flags().StringVarP(&query, "query", "q", "", "search query")
	cmd.Flags().StringVarP(&file, "file", "f", "", "index this text file before searching")
	cmd.Flags().IntVarP(&topK, "top-k", "k", usecase.DefaultTopK, "maximum number of passages")
	cmd.Flags().Float64Var(&mix, "mix", 0.5, "weight of the dense score in [0,1]")
	cmd.Flags().BoolVar(&explain, "explain", false, "print per-passage scores")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}
