// migrate applies or rolls back the cache schema.
//
// Usage:
//
//	migrate up
//	migrate down [--steps N]
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/app"
	"github.com/powertrain/catalogsync/internal/config"
	"github.com/powertrain/catalogsync/internal/repository/postgres"
)

func main() {
	cliApp := &cli.App{
		Name:  "migrate",
		Usage: "Manage the catalog cache schema",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(c *cli.Context) error {
					return withDatabase(func(db *sql.DB, logger *zap.Logger) error {
						if err := postgres.RunMigrations(db, logger); err != nil {
							return fmt.Errorf("migration failed: %w", err)
						}
						fmt.Println("Migration completed successfully!")
						return nil
					})
				},
			},
			{
				Name:  "down",
				Usage: "Roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Value: 1,
						Usage: "Number of migrations to roll back (0 = all)",
					},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					if steps < 0 {
						return fmt.Errorf("--steps must not be negative")
					}
					return withDatabase(func(db *sql.DB, logger *zap.Logger) error {
						if err := postgres.RollbackMigrations(db, steps); err != nil {
							return fmt.Errorf("rollback failed: %w", err)
						}
						logger.Info("Rolled back migrations", zap.Int("steps", steps))
						fmt.Println("Rollback completed successfully!")
						return nil
					})
				},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withDatabase opens the cache database; only the database settings are required
func withDatabase(fn func(db *sql.DB, logger *zap.Logger) error) error {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	return fn(db, logger)
}
