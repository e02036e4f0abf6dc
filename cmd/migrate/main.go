package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/orderdesk/pkg/config"
	"github.com/angelmondragon/orderdesk/pkg/db"
	"github.com/angelmondragon/orderdesk/pkg/logger"
	"github.com/angelmondragon/orderdesk/pkg/migrate"
)

type options struct {
	dir      string
	name     string
	version  string
	embedded bool
}

type command struct {
	usage string
	// offline commands work on files only and never open the database
	offline bool
	run     func(ctx context.Context, sqlDB *sql.DB, opts options) (string, error)
}

func gooseCommand(name string) command {
	return command{
		usage: "goose " + name + " against the embedded migrations",
		run: func(ctx context.Context, sqlDB *sql.DB, _ options) (string, error) {
			m, err := migrate.New(sqlDB)
			if err != nil {
				return "", err
			}
			return m.Run(ctx, name)
		},
	}
}

var commands = buildCommands()

func buildCommands() map[string]command {
	cmds := map[string]command{
		"version": {
			usage: "migrate up or down to -version",
			run: func(ctx context.Context, sqlDB *sql.DB, opts options) (string, error) {
				if opts.version == "" {
					return "", errors.New("missing -version")
				}
				m, err := migrate.New(sqlDB)
				if err != nil {
					return "", err
				}
				return m.ToVersion(ctx, opts.version)
			},
		},
		"create": {
			usage:   "write a new timestamped migration named -name into -dir",
			offline: true,
			run: func(_ context.Context, _ *sql.DB, opts options) (string, error) {
				if opts.name == "" {
					return "", errors.New("missing -name")
				}
				path, err := migrate.CreateSQLMigration(opts.dir, opts.name, time.Now())
				return "created migration: " + path, err
			},
		},
		"validate": {
			usage:   "check migration filenames and goose annotations",
			offline: true,
			run: func(_ context.Context, _ *sql.DB, opts options) (string, error) {
				if opts.embedded {
					return "embedded migrations valid", migrate.ValidateFS(migrate.Migrations, "migrations")
				}
				return "migrations in " + opts.dir + " valid", migrate.ValidateDir(opts.dir)
			},
		},
	}
	for _, name := range migrate.Commands {
		cmds[name] = gooseCommand(name)
	}
	return cmds
}

func commandNames() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func main() {
	var opts options
	cmdName := flag.String("cmd", "up", "migration command: "+commandNames())
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "migrations directory on disk (create and validate)")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.BoolVar(&opts.embedded, "embedded", false, "validate the migrations compiled into the binary instead of -dir")
	flag.Parse()

	cmd, ok := commands[*cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -cmd %q (want %s)\n", *cmdName, commandNames())
		os.Exit(2)
	}

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := context.Background()
	if err := godotenv.Load(); err != nil {
		logg.Debug(ctx, ".env file not found, relying on environment")
	}

	var sqlDB *sql.DB
	if !cmd.offline {
		cfg, err := config.Load()
		exitOn(ctx, logg, "load config", err)
		logg = logger.New(logger.Options{
			ServiceName: "migrate",
			Level:       cfg.App.LogLevel,
			WarnStack:   cfg.App.LogWarnStack,
		})
		ctx = logg.WithField(ctx, "env", cfg.App.Env)

		dbClient, err := db.New(ctx, cfg.DB, logg)
		exitOn(ctx, logg, "open database", err)
		defer func() {
			if err := dbClient.Close(); err != nil {
				logg.Error(ctx, "error closing database", err)
			}
		}()
		sqlDB, err = dbClient.DB().DB()
		exitOn(ctx, logg, "sql database handle", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"cmd": *cmdName, "dir": opts.dir})
	logg.Info(ctx, cmd.usage)

	out, err := cmd.run(ctx, sqlDB, opts)
	if err != nil {
		logg.Error(ctx, "migrate "+*cmdName+" failed", err)
		os.Exit(1)
	}
	if out != "" {
		fmt.Println(out)
	}
}

func exitOn(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, step, err)
	os.Exit(1)
}
