package main

import (
	"errors"
	"fmt"
	"os"

	"discussion_forum/internal/pkg/config"
	"discussion_forum/pkg/database"
	"discussion_forum/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "migrate",
		Usage: "Manage the discussion forum database schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "source",
				Usage: "Migration files `URL`",
				Value: "file://migrations",
			},
		},
		Before: func(c *cli.Context) error {
			config.LoadConfig()
			_, err := logger.Init(config.GlobalConfig.Server.Mode)
			return err
		},
		After: func(c *cli.Context) error {
			logger.Sync()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(c *cli.Context) error {
					return withMigrate(c, func(m *migrate.Migrate) error { return m.Up() })
				},
			},
			{
				Name:  "down",
				Usage: "Roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "steps", Usage: "Number of migrations to roll back", Value: 1},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					if steps <= 0 {
						return errors.New("steps must be positive")
					}
					return withMigrate(c, func(m *migrate.Migrate) error { return m.Steps(-steps) })
				},
			},
			{
				Name:      "force",
				Usage:     "Set the schema version without running migrations (clears the dirty flag)",
				ArgsUsage: "VERSION",
				Action: func(c *cli.Context) error {
					var version int
					if _, err := fmt.Sscan(c.Args().First(), &version); err != nil {
						return fmt.Errorf("invalid version %q: %w", c.Args().First(), err)
					}
					return withMigrate(c, func(m *migrate.Migrate) error { return m.Force(version) })
				},
			},
			{
				Name:  "version",
				Usage: "Print the current schema version",
				Action: func(c *cli.Context) error {
					return withMigrate(c, func(m *migrate.Migrate) error {
						version, dirty, err := m.Version()
						if err != nil {
							return err
						}
						logger.Log.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
						return nil
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func withMigrate(c *cli.Context, fn func(m *migrate.Migrate) error) error {
	cfg := config.GlobalConfig.Database
	if cfg.Driver != "postgres" {
		return fmt.Errorf("database driver %q has no schema to migrate", cfg.Driver)
	}

	m, err := migrate.New(c.String("source"), database.MigrateURL(cfg))
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", c.Command.Name, err)
	}
	logger.Log.Info("migration finished", zap.String("command", c.Command.Name))
	return nil
}
