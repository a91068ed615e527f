package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alem-hub/class-grouper/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/class-grouper/pkg/logger"
)

var (
	migrateDown   bool
	migrateStatus bool
)

// migrateCmd applies or rolls back the roster schema
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending PostgreSQL migrations for the roster store.

--down rolls back the most recent migration; --status lists migrations
without changing anything.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the last applied migration")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "show migration status")
	migrateCmd.MarkFlagsMutuallyExclusive("down", "status")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator := postgres.NewMigrator(db)

	switch {
	case migrateStatus:
		status, err := migrator.Status(ctx)
		if err != nil {
			return err
		}
		for _, m := range status {
			state := "pending"
			if m.IsApplied {
				state = "applied " + m.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "%03d %-20s %s\n", m.Version, m.Name, state)
		}

	case migrateDown:
		version, err := migrator.Rollback(ctx)
		if err != nil {
			return err
		}
		if version == 0 {
			fmt.Fprintln(out, "nothing to roll back")
			return nil
		}
		log.Info("migration rolled back", logger.Int("version", version))
		fmt.Fprintf(out, "rolled back migration %d\n", version)

	default:
		applied, err := migrator.Migrate(ctx)
		if err != nil {
			return err
		}
		log.Info("migrations completed", logger.Int("applied", applied))
		fmt.Fprintf(out, "applied %d migration(s)\n", applied)
	}

	return nil
}
