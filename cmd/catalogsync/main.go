// catalogsync is the operator CLI for the catalog sync engine.
//
// Usage:
//
//	catalogsync run [--max-items N] [--drift-policy delete|draft]
//	catalogsync preflight --pages 2 --samples 5
//	catalogsync search --part-number 1K0407271
//	catalogsync rebuild-index
//	catalogsync type-counts
//	catalogsync collection --title Drivaksler
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/powertrain/catalogsync/internal/app"
	"github.com/powertrain/catalogsync/internal/config"
	"github.com/powertrain/catalogsync/internal/domain"
	"github.com/powertrain/catalogsync/internal/repository/postgres"
)

var version = "dev"

func main() {
	cliApp := &cli.App{
		Name:    "catalogsync",
		Usage:   "Rackbeat to Shopify catalog sync",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			preflightCommand(),
			searchCommand(),
			rebuildIndexCommand(),
			typeCountsCommand(),
			collectionCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
	app    *app.App
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
	_ = e.logger.Sync()
}

// setup loads configuration, opens the cache database and wires the engine
func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if c.IsSet("max-items") {
		cfg.Sync.MaxItems = c.Int("max-items")
	}
	if c.IsSet("drift-policy") {
		policy := domain.DriftPolicy(c.String("drift-policy"))
		if !policy.IsValid() {
			return nil, fmt.Errorf("invalid drift policy %q", policy)
		}
		cfg.Sync.DriftPolicy = policy
	}

	logger, err := app.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.RunMigrations(db, logger); err != nil {
			db.Close()
			logger.Sync()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &env{cfg: cfg, logger: logger, db: db, app: app.New(cfg, db, logger)}, nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one full sync and print the summary",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "max-items",
				Usage: "Process at most N candidates; drift cleanup is skipped when the cap truncates",
			},
			&cli.StringFlag{
				Name:  "drift-policy",
				Usage: "What to do with items no longer eligible (delete, draft)",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := signalContext(c)
			defer cancel()

			summary, err := e.app.Coordinator.Run(ctx)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			return printJSON(summary)
		},
	}
}

func preflightCommand() *cli.Command {
	return &cli.Command{
		Name:  "preflight",
		Usage: "Scan the first source pages without writing anything",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "pages", Value: 2, Usage: "Source pages to scan"},
			&cli.IntFlag{Name: "samples", Value: 5, Usage: "Items to resolve custom fields for"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := signalContext(c)
			defer cancel()

			report, err := e.app.Coordinator.Preflight(ctx, c.Int("pages"), c.Int("samples"))
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Look up cached products by part number",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "part-number", Aliases: []string{"p"}, Required: true},
			&cli.IntFlag{Name: "limit", Value: 50},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			hits, err := e.app.Cache.Search(c.Context, c.String("part-number"), c.Int("limit"))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%d match(es)\n", len(hits))
			return printJSON(hits)
		},
	}
}

func rebuildIndexCommand() *cli.Command {
	return &cli.Command{
		Name:  "rebuild-index",
		Usage: "Rebuild the identifier index from the cached fields",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.app.Cache.RebuildIndex(c.Context)
			if err != nil {
				return err
			}
			fmt.Printf("Rebuilt identifier index: %d entries\n", n)
			return nil
		},
	}
}

func typeCountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "type-counts",
		Usage: "Count target products per allowed group",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			counts, err := e.app.Coordinator.TypeCounts(c.Context)
			if err != nil {
				return err
			}
			return printJSON(counts)
		},
	}
}

func collectionCommand() *cli.Command {
	return &cli.Command{
		Name:  "collection",
		Usage: "Show the custom collection id for a group title",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			id, found, err := e.app.Catalog.FindCustomCollection(c.Context, c.String("title"))
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no custom collection titled %q", c.String("title"))
			}
			fmt.Printf("%s: %d\n", c.String("title"), id)
			return nil
		},
	}
}
