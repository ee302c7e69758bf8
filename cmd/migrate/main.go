// Command migrate applies and authors the user directory schema migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/erp/servicebus/internal/infrastructure/config"
	"github.com/erp/servicebus/internal/infrastructure/logger"
	"github.com/erp/servicebus/internal/infrastructure/migration"
	"github.com/erp/servicebus/migrations"
)

// cli is what every command runs with
type cli struct {
	log *zap.Logger
	// dir is the -path directory, empty when the embedded files are used
	dir   string
	files fs.FS
}

type command struct {
	args    string
	summary string
	nargs   int
	// migrator commands get a Migrator over the configured database
	run func(c *cli, m *migration.Migrator, args []string) error
}

var commands = map[string]command{
	"up": {
		summary: "Apply all pending migrations",
		run: func(_ *cli, m *migration.Migrator, _ []string) error {
			return m.Up()
		},
	},
	"down": {
		summary: "Roll back all migrations",
		run: func(_ *cli, m *migration.Migrator, _ []string) error {
			return m.Down()
		},
	},
	"step": {
		args:    "<n>",
		summary: "Apply n migrations, or roll back -n",
		nargs:   1,
		run: func(_ *cli, m *migration.Migrator, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			return m.Steps(n)
		},
	},
	"version": {
		summary: "Show the applied version",
		run: func(c *cli, m *migration.Migrator, _ []string) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			c.log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
			return nil
		},
	},
	"force": {
		args:    "<version>",
		summary: "Mark a version applied and clean after a failed run",
		nargs:   1,
		run: func(_ *cli, m *migration.Migrator, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return m.Force(version)
		},
	},
	"list": {
		summary: "List available migrations",
		run: func(c *cli, _ *migration.Migrator, _ []string) error {
			list, err := migration.ListMigrations(c.files)
			if err != nil {
				return err
			}
			c.log.Info("Available migrations", zap.Int("count", len(list)))
			for _, m := range list {
				fmt.Println("  -", m)
			}
			return nil
		},
	},
	"create": {
		args:    "<name> [description]",
		summary: "Write the next numbered migration pair into -path",
		nargs:   1,
		run: func(c *cli, _ *migration.Migrator, args []string) error {
			if c.dir == "" {
				return errors.New("create needs -path: embedded migrations are read-only")
			}
			description := ""
			if len(args) > 1 {
				description = args[1]
			}
			created, err := migration.CreateMigration(c.dir, args[0], description)
			if err != nil {
				return err
			}
			c.log.Info("Migration created",
				zap.Uint("version", created.Version),
				zap.String("up_file", created.UpPath),
				zap.String("down_file", created.DownPath),
			)
			return nil
		},
	},
}

// offline commands work on the files alone
var offline = map[string]bool{"list": true, "create": true}

func main() {
	path := flag.String("path", "", "Migrations directory (default: the migrations built into this binary)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	name, args := args[0], args[1:]
	cmd, ok := commands[name]
	if !ok || len(args) < cmd.nargs {
		printUsage()
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{Level: *logLevel, Format: "console", TimeFormat: "2006-01-02 15:04:05"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()

	c := &cli{log: log, files: migrations.FS}
	if *path != "" {
		if c.dir, err = filepath.Abs(*path); err != nil {
			log.Fatal("Invalid migrations path", zap.Error(err))
		}
		c.files = os.DirFS(c.dir)
	}

	if err := run(c, name, cmd, args); err != nil {
		log.Fatal("Migration command failed", zap.String("command", name), zap.Error(err))
	}
}

func run(c *cli, name string, cmd command, args []string) error {
	if offline[name] {
		return cmd.run(c, nil, args)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	db, err := migration.Open(&cfg.Database)
	if err != nil {
		return err
	}
	m, err := migration.New(db, cfg.Database.Driver, c.files, c.log)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer m.Close()

	c.log.Info("Migrating", zap.String("command", name), zap.String("driver", cfg.Database.Driver))
	return cmd.run(c, m, args)
}

func printUsage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: migrate [flags] <command> [arguments]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(out, "  %-28s %s\n", name+" "+cmd.args, cmd.summary)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Flags:")
	flag.PrintDefaults()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "The database comes from config.toml and SB_DATABASE_* variables,")
	fmt.Fprintln(out, "e.g. SB_DATABASE_DRIVER=sqlite SB_DATABASE_SQLITE_PATH=servicebus.db migrate up")
}
