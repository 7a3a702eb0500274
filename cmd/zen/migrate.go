package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/goodtune/zen/internal/config"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the storage schema",
	Long:  `Create any missing collections and indexes in the configured storage backend and record the schema version.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// schemaVersioner is implemented by backends that record their layout version
type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (uint64, error)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	green := color.New(color.FgGreen, color.Bold)
	_, _ = green.Fprintf(os.Stdout, "✅ Storage schema is up to date (%s)\n", cfg.Storage.Type)

	if v, ok := store.(schemaVersioner); ok {
		version, err := v.SchemaVersion(ctx)
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		_, _ = fmt.Fprintf(os.Stdout, "Schema version: %d\n", version)
	}

	return nil
}
