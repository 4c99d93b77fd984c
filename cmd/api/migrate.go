package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/calma/backend/internal/config"
	"github.com/zhouzirui/calma/backend/internal/storage/sqlite"
	"github.com/zhouzirui/calma/backend/pkg/log"
)

var migrateCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Apply pending database migrations and exit",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cfg, flush, err := bootstrap(cmd.Context())
		defer flush()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cfg.Storage.Driver != config.StorageSQLite {
			return fmt.Errorf("migrate requires STORAGE_DRIVER=%s, got %q", config.StorageSQLite, cfg.Storage.Driver)
		}

		db, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := sqlite.Migrate(ctx, db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.FromCtx(ctx).Info().Str("path", cfg.Storage.SQLitePath).Msg("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
