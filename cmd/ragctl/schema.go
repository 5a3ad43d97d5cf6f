package main

import (
	"github.com/OFFIS-RIT/kiwi/rag/pkg/schema"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect graph schemas",
}

var schemaPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Print the built-in schemas",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(cmd, schema.Presets())
	},
}

func init() {
	schemaCmd.AddCommand(schemaPresetsCmd)
	rootCmd.AddCommand(schemaCmd)
}
