package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/hybrid-retriever/internal/core/domain"
)

func indexCMD(open Opener) *cobra.Command {
	var (
		source  string
		file    string
		rebuild bool
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Chunk and index a text file under a source identifier",
		Long: `Splits the file into sentence chunks, builds the BM25 and dense
indexes, and saves them to the configured cache. An existing cache entry
for the source is reused unless --rebuild is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(file)
			if err != nil {
				return err
			}

			svc, release, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			result, err := svc.Ingest(cmd.Context(), domain.IngestRequest{
				SourceID: source,
				Text:     text,
				Rebuild:  rebuild,
			})
			if err != nil {
				return fmt.Errorf("index %s: %w", source, err)
			}
			state := "built"
			if result.CacheHit {
				state = "cached"
			}
			cmd.Printf("%s: %d chunks (%s)\n", result.SourceKey, result.Chunks, state)
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "source identifier, e.g. a URL")
	cmd.Flags().StringVarP(&file, "file", "f", "", "text file to index")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "discard the cached indexes first")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
