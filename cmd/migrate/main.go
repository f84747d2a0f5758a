package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/solari-labs/adctl/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect goose migrations for the active deployment profile",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (defaults to env-based loading)")

	root.AddCommand(
		upCommand(),
		downCommand(),
		statusCommand(),
		versionCommand(),
		redoCommand(),
		createCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type target struct {
	db      *sql.DB
	dialect string
	dir     string
}

func openTarget() (*target, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	switch cfg.Profile {
	case config.ProfileLite:
		db, err := sql.Open("sqlite", cfg.Storage.FilesystemPath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		return &target{db: db, dialect: "sqlite3", dir: "migrations/sqlite"}, nil
	case config.ProfileStandard:
		db, err := sql.Open("pgx", cfg.GetDatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("opening postgres database: %w", err)
		}
		return &target{db: db, dialect: "postgres", dir: "migrations/postgres"}, nil
	default:
		return nil, fmt.Errorf("unknown deployment profile %q", cfg.Profile)
	}
}

func upCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTarget()
			if err != nil {
				return err
			}
			defer t.db.Close()
			if err := goose.SetDialect(t.dialect); err != nil {
				return err
			}
			if err := goose.Up(t.db, t.dir); err != nil {
				return fmt.Errorf("migrating up: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func downCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTarget()
			if err != nil {
				return err
			}
			defer t.db.Close()
			if err := goose.SetDialect(t.dialect); err != nil {
				return err
			}
			if err := goose.Down(t.db, t.dir); err != nil {
				return fmt.Errorf("migrating down: %w", err)
			}
			fmt.Println("migration rolled back")
			return nil
		},
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTarget()
			if err != nil {
				return err
			}
			defer t.db.Close()
			if err := goose.SetDialect(t.dialect); err != nil {
				return err
			}
			return goose.Status(t.db, t.dir)
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTarget()
			if err != nil {
				return err
			}
			defer t.db.Close()
			if err := goose.SetDialect(t.dialect); err != nil {
				return err
			}
			return goose.Version(t.db, t.dir)
		},
	}
}

func redoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "redo",
		Short: "Roll back and reapply the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTarget()
			if err != nil {
				return err
			}
			defer t.db.Close()
			if err := goose.SetDialect(t.dialect); err != nil {
				return err
			}
			return goose.Redo(t.db, t.dir)
		},
	}
}

func createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new migration file for the active profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTarget()
			if err != nil {
				return err
			}
			defer t.db.Close()
			logger := slog.Default()
			if err := goose.Create(t.db, t.dir, args[0], "sql"); err != nil {
				return fmt.Errorf("creating migration: %w", err)
			}
			logger.Info("migration file created", "name", args[0], "dir", t.dir)
			return nil
		},
	}
}
