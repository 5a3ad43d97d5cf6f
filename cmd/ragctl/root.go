package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/rag/internal/app"
	"github.com/OFFIS-RIT/kiwi/rag/internal/config"
	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger/console"

	"github.com/spf13/cobra"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:           "ragctl",
	Short:         "Administer GraphRAG indexes",
	Long:          `Manage indexes, documents, schemas and entity resolution against the configured store.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: debug}))
		util.LoadEnv()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// withApp loads the configuration, opens the application for the duration
// of fn and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open application: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
