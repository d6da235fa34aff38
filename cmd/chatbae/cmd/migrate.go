package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/username/chatbae/internal/adapters/storage/sqlite"
	"github.com/username/chatbae/internal/pkg/factory"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the storage schema",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := factory.NewLogger(cfg)
	ctx := cmd.Context()

	// OpenStorage applies pending migrations
	store, err := factory.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	adapter, ok := store.(*sqlite.Adapter)
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "storage driver %q has no schema to migrate\n", cfg.Storage.Driver)
		return nil
	}

	versions, err := adapter.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations applied: %s\n", strings.Join(versions, ", "))
	return nil
}
