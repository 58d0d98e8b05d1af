package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/importauto/leadline/internal/infrastructure/config"
	"github.com/importauto/leadline/internal/infrastructure/db/sqlstore"
)

func newMigrateCmd() *cobra.Command {
	var driver, dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the clients and messages tables",
		Long: `Creates the clients and messages tables and their indexes.

Connection settings come from DB_DRIVER and DB_DSN unless overridden by flags.
Safe to run multiple times (idempotent).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg, err := config.LoadDatabase(cmd.Context(), envconfig.OsLookuper())
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if driver != "" {
				dbCfg.Driver = driver
			}
			if dsn != "" {
				dbCfg.DSN = dsn
			}
			return runMigrate(cmd.Context(), cmd.OutOrStdout(), dbCfg)
		},
	}

	cmd.Flags().StringVar(&driver, "driver", "", "database driver: sqlite or mysql (default $DB_DRIVER)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "database DSN (default $DB_DSN)")
	return cmd
}

func runMigrate(ctx context.Context, out io.Writer, dbCfg config.DatabaseConfig) error {
	db, err := sqlstore.Open(ctx, sqlstore.Options{Driver: dbCfg.Driver, DSN: dbCfg.DSN})
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	if err := sqlstore.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintf(out, "Migrated %d tables on %s.\n", len(sqlstore.AllModels()), dbCfg.Driver)
	return nil
}
