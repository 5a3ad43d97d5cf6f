package main

import (
	"context"

	"github.com/OFFIS-RIT/kiwi/rag/internal/app"
	"github.com/OFFIS-RIT/kiwi/rag/internal/service"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage indexes",
}

var indexCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create an index",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexCreate,
}

var indexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexes",
	Args:  cobra.NoArgs,
	RunE:  runIndexList,
}

var indexDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete an index with its documents and graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexDelete,
}

var (
	indexDescription string
	indexDimension   int
)

func init() {
	indexCreateCmd.Flags().StringVar(&indexDescription, "description", "", "Index description")
	indexCreateCmd.Flags().IntVar(&indexDimension, "dimension", 0, "Embedding dimension (default from VECTOR_DIMENSIONS)")

	indexCmd.AddCommand(indexCreateCmd)
	indexCmd.AddCommand(indexListCmd)
	indexCmd.AddCommand(indexDeleteCmd)
	rootCmd.AddCommand(indexCmd)
}

func runIndexCreate(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		idx, err := a.Services.Indexes.Create(ctx, service.IndexInput{
			Name:        args[0],
			Description: indexDescription,
			Dimension:   indexDimension,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, idx)
	})
}

func runIndexList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		indexes, err := a.Services.Indexes.List(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, indexes)
	})
}

func runIndexDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if err := a.Services.Indexes.Delete(ctx, args[0]); err != nil {
			return err
		}
		cmd.Printf("Deleted index %s\n", args[0])
		return nil
	})
}
