package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/fleetworks/fleetd/internal/config"
	"github.com/fleetworks/fleetd/internal/store/pg"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *migrate.Migrate) error {
					if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
						return err
					}
					reportVersion(m, "migration complete")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *migrate.Migrate) error {
					if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
						return err
					}
					reportVersion(m, "rollback complete")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(m *migrate.Migrate) error {
					v, dirty, err := m.Version()
					if errors.Is(err, migrate.ErrNilVersion) {
						fmt.Println("no migrations applied")
						return nil
					}
					if err != nil {
						return err
					}
					fmt.Printf("version %d (dirty: %v)\n", v, dirty)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return withMigrator(func(m *migrate.Migrate) error {
					if err := m.Force(v); err != nil {
						return err
					}
					slog.Info("forced version", "version", v)
					return nil
				})
			},
		},
	)
	return cmd
}

// withMigrator resolves the DSN, opens the database, and hands a
// migrator over the embedded migrations to fn.
func withMigrator(fn func(*migrate.Migrate) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	dsn := cfg.Database.PostgresDSN
	if v := os.Getenv("FLEETD_POSTGRES_DSN"); v != "" {
		dsn = v
	}
	if dsn == "" {
		return errors.New("FLEETD_POSTGRES_DSN environment variable is not set")
	}

	db, err := pg.OpenDB(dsn, cfg.Database.MaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := pg.NewMigrator(db)
	if err != nil {
		return err
	}
	return fn(m)
}

func reportVersion(m *migrate.Migrate, msg string) {
	v, dirty, err := m.Version()
	if err != nil {
		slog.Info(msg)
		return
	}
	slog.Info(msg, "version", v, "dirty", dirty)
}
