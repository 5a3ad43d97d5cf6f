package main

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/rag/internal/app"
	"github.com/OFFIS-RIT/kiwi/rag/internal/service"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search [index] [query]",
	Short: "Answer a query from an index",
	Args:  cobra.ExactArgs(2),
	RunE:  runSearch,
}

var (
	searchTopK     int
	searchKeywords []string
	searchTrace    bool
)

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "Number of chunks to retrieve (1-20)")
	searchCmd.Flags().StringSliceVar(&searchKeywords, "keyword", nil, "Keywords a chunk must contain")
	searchCmd.Flags().BoolVar(&searchTrace, "trace", false, "Print which retrieval tiers ran")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		in := service.SearchInput{
			IndexName: args[0],
			Query:     args[1],
			Keywords:  searchKeywords,
			TopK:      searchTopK,
		}
		if !searchTrace {
			res, err := a.Services.Search.Search(ctx, in)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		}
		res, trace, err := a.Services.Search.SearchTraced(ctx, in)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"answer": res.Answer, "chunks": res.Chunks, "trace": trace})
	})
}
