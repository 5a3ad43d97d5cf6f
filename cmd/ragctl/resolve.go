package main

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/rag/internal/app"
	"github.com/OFFIS-RIT/kiwi/rag/internal/service"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [index]",
	Short: "Merge duplicate entities of an index",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var (
	resolveStrategy string
	resolveLabels   []string
	resolveDocIDs   []string
	resolvePrefix   string
)

func init() {
	resolveCmd.Flags().StringVarP(&resolveStrategy, "strategy", "s", "exact", "Resolution strategy: exact, fuzzy or semantic")
	resolveCmd.Flags().StringSliceVar(&resolveLabels, "label", nil, "Only consider entities with these labels")
	resolveCmd.Flags().StringSliceVar(&resolveDocIDs, "doc", nil, "Only consider entities extracted from these documents")
	resolveCmd.Flags().StringVar(&resolvePrefix, "prefix", "", "Only consider entities whose name starts with this prefix")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		report, err := a.Services.Resolve.Resolve(ctx, args[0], service.ResolveInput{
			Strategy: resolveStrategy,
			Filter: service.ResolveScope{
				Labels:     resolveLabels,
				DocIDs:     resolveDocIDs,
				NamePrefix: resolvePrefix,
			},
			Wait: true,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, report)
	})
}
