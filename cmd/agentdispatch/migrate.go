package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/internal/migration"
)

// =============================================================================
// Task Table Migration Commands
// =============================================================================

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) < 1 {
			os.Exit(1)
		}
		return
	}

	if err := migrateCommand(context.Background(), args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", args[0], err)
		os.Exit(1)
	}
}

// migrateCommand parses one migrate subcommand and runs it against the
// configured database.
func migrateCommand(ctx context.Context, args []string, out io.Writer) error {
	subcommand, rest := args[0], args[1:]

	var arg int
	switch subcommand {
	case "steps", "force":
		if len(rest) < 1 {
			return fmt.Errorf("usage: agentdispatch migrate %s <n>", subcommand)
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid number %q", rest[0])
		}
		arg, rest = n, rest[1:]
	case "up", "down", "status", "version", "info":
	default:
		return fmt.Errorf("unknown subcommand %q", subcommand)
	}

	fs := flag.NewFlagSet("migrate "+subcommand, flag.ContinueOnError)
	fs.SetOutput(out)
	asJSON := fs.Bool("json", false, "Print status and info as JSON")
	migrator, err := createMigrator(fs, rest)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(out)
	cli.SetJSON(*asJSON)

	switch subcommand {
	case "up":
		return cli.RunUp(ctx)
	case "down":
		return cli.RunDown(ctx)
	case "steps":
		return cli.RunSteps(ctx, arg)
	case "force":
		return cli.RunForce(ctx, arg)
	case "status":
		return cli.RunStatus(ctx)
	case "version":
		return cli.RunVersion(ctx)
	default:
		return cli.RunInfo(ctx)
	}
}

// createMigrator creates a migrator from command line flags
func createMigrator(fs *flag.FlagSet, args []string) (*migration.DefaultMigrator, error) {
	configPath := fs.String("config", "", "Path to config file")
	dbType := fs.String("db-type", "", "Database type (postgres, mysql, sqlite)")
	dbURL := fs.String("db-url", "", "Database connection URL")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// db-type 与 db-url 同时给出时不读取配置
	if *dbType != "" && *dbURL != "" {
		return migration.NewMigratorFromURL(*dbType, *dbURL, zap.NewNop())
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *dbType != "" {
		cfg.Database.Driver = *dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, zap.NewNop())
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Task Table Migration Commands

Usage:
  agentdispatch migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  steps <n>   Apply n migrations, or roll back when n is negative
  force <v>   Force set migration version (use with caution)
  status      Show migration status
  version     Show current migration version
  info        Show migration summary
  help        Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)
  --json              Print status and info as JSON

Examples:
  agentdispatch migrate up --config /etc/agentdispatch/config.yaml
  agentdispatch migrate steps -1
  agentdispatch migrate force 1
  agentdispatch migrate status --db-type sqlite --db-url "file:tasks.db?mode=rwc"`)
}
