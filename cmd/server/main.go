/*
main.go - pointsd entry point

PURPOSE:
  Builds the pointsd command tree. Every subcommand shares the same
  configuration, logger and store selection, set up here once.

COMMANDS:
  serve          Run the HTTP API (default port 8080)
  export         Print all collections as JSON
  import-legacy  Load a browser local-storage dump
  themes         List the theme catalog

CONFIGURATION ORDER:
  1. Built-in defaults
  2. --config YAML file (missing file is fine)
  3. .env file, then environment (PORT, DB_PATH, DATABASE_URL, API_KEY, ...)
  4. Command-line flags

STORE DRIVERS:
  sqlite3   mattn/go-sqlite3 (cgo)
  sqlite    modernc.org/sqlite (pure Go)
  postgres  lib/pq, needs --db or DATABASE_URL as a connection URL
  memory    nothing survives a restart

EXAMPLES:
  # Run with file database
  pointsd serve --db=./data/points.db

  # Run without cgo
  pointsd serve --driver=sqlite

  # Move a browser dump into the server store
  pointsd import-legacy ./localStorage.json

SEE ALSO:
  - commands.go: Subcommand implementations
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/points-park/config"
	"github.com/warp/points-park/kv"
	"github.com/warp/points-park/store/postgres"
	"github.com/warp/points-park/store/sqlite"
)

var (
	// Global flags
	configPath string
	dbFlag     string
	driverFlag string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pointsd",
	Short: "Points Park - household points, rewards and shop server",
	Long: `pointsd keeps a small group's point balances, the rules that award
and deduct points, and a shop where points are spent.

State lives in a key-value store (SQLite, PostgreSQL or memory) and is
served to the browser client over a JSON API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		logger, err = cfg.Logging.NewLogger()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pointsd.yaml", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "database path (sqlite) or URL (postgres)")
	rootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "store driver: sqlite3, sqlite, postgres, memory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd, exportCmd, importLegacyCmd, themesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers the command-line flags over config.Load.
func loadConfig() (*config.Config, error) {
	c, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyFlags(c *config.Config) {
	if driverFlag != "" {
		c.Store.Driver = driverFlag
	}
	if dbFlag != "" {
		if c.Store.Driver == config.DriverPostgres {
			c.Store.URL = dbFlag
		} else {
			c.Store.Path = dbFlag
		}
	}
	if verbose {
		c.Logging.Level = "debug"
	}
}

// newStore returns the unopened store for the configured driver.
func newStore(c *config.Config) (kv.Store, error) {
	switch c.Store.Driver {
	case config.DriverSQLite, config.DriverSQLitePure:
		return sqlite.New(c.Store.Path, c.Store.Driver), nil
	case config.DriverPostgres:
		return postgres.New(c.Store.URL), nil
	case config.DriverMemory:
		return kv.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}
