package main

import (
	"errors"

	"github.com/OFFIS-RIT/kiwi/rag/internal/util"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/pgx"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema migrations",
	Long:  `Apply or roll back the migrations of the pgx store. Uses DATABASE_URL.`,
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var migrateDown bool

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Roll back every migration")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	url := util.GetEnv("DATABASE_URL")
	if url == "" {
		return errors.New("DATABASE_URL is not set")
	}
	if migrateDown {
		if err := pgx.MigrateDown(url); err != nil {
			return err
		}
		cmd.Println("Rolled back all migrations")
		return nil
	}
	if err := pgx.Migrate(url); err != nil {
		return err
	}
	cmd.Println("Database is up to date")
	return nil
}
