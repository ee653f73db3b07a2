// Command migrate manages the PostgreSQL schema of the directory admin server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/collab/admin/internal/infrastructure/config"
	"github.com/collab/admin/internal/infrastructure/logger"
	"github.com/collab/admin/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// errSchemaNotCurrent makes "check" exit with status 2
var errSchemaNotCurrent = errors.New("schema is not current")

type session struct {
	dir     string
	log     *zap.Logger
	m       *migration.Migrator
	confirm bool
}

type command struct {
	name    string
	args    string
	summary string
	minArgs int
	offline bool
	run     func(s *session, args []string) error
}

var commands = []command{
	{name: "up", summary: "Apply all pending migrations",
		run: func(s *session, _ []string) error { return s.m.Up() }},
	{name: "down", summary: "Roll back all migrations",
		run: func(s *session, _ []string) error { return s.m.Down() }},
	{name: "step", args: "<n>", summary: "Apply n migrations (negative rolls back)", minArgs: 1,
		run: func(s *session, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid step count %q", args[0])
			}
			return s.m.Steps(n)
		}},
	{name: "goto", args: "<version>", summary: "Migrate up or down to a version", minArgs: 1,
		run: func(s *session, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return s.m.GoTo(uint(v))
		}},
	{name: "version", summary: "Show the applied version", run: showVersion},
	{name: "check", summary: "Exit 2 when the schema is dirty or behind", run: checkSchema},
	{name: "force", args: "<version>", summary: "Mark a version applied and clean", minArgs: 1,
		run: func(s *session, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			return s.m.Force(v)
		}},
	{name: "drop", summary: "Drop every database object (needs -confirm)",
		run: func(s *session, _ []string) error {
			if !s.confirm {
				return errors.New("refusing to drop without -confirm")
			}
			return s.m.Drop()
		}},
	{name: "create", args: "<name> [description]", summary: "Scaffold an up/down pair", minArgs: 1, offline: true,
		run: createPair},
	{name: "list", summary: "List migrations in version order", offline: true, run: listFiles},
}

func main() {
	path := flag.String("path", "", "migrations directory (default: database.migrations_path)")
	level := flag.String("log-level", "info", "log level: debug, info, warn, error")
	confirm := flag.Bool("confirm", false, "allow drop")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := lookup(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}
	args = args[1:]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logCfg := logger.FromAppConfig(cfg)
	logCfg.Level = *level
	logCfg.Format = "console"
	logCfg.Output = "stdout"
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	dir := *path
	if dir == "" {
		dir = cfg.Database.MigrationsPath
	}
	if dir, err = filepath.Abs(dir); err != nil {
		log.Fatal("Invalid migrations path", zap.Error(err))
	}
	if len(args) < cmd.minArgs {
		log.Fatal("Missing arguments", zap.String("usage", "migrate "+cmd.name+" "+cmd.args))
	}

	s := &session{dir: dir, log: log.Named("migrate"), confirm: *confirm}
	if !cmd.offline {
		closeDB, err := s.connect(cfg)
		if err != nil {
			log.Fatal("Failed to open migrator", zap.Error(err))
		}
		defer closeDB()
	}

	log.Debug("Running command", zap.String("command", cmd.name), zap.String("migrations_path", dir))
	if err := cmd.run(s, args); err != nil {
		if errors.Is(err, errSchemaNotCurrent) {
			os.Exit(2)
		}
		log.Fatal("Command failed", zap.String("command", cmd.name), zap.Error(err))
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// connect opens the configured PostgreSQL database and a migrator over it
func (s *session) connect(cfg *config.Config) (func(), error) {
	if cfg.Database.Driver == "sqlite" {
		return nil, errors.New("versioned migrations target postgres; sqlite schemas are created on server start")
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if s.m, err = migration.New(db, s.dir, s.log); err != nil {
		_ = db.Close()
		return nil, err
	}
	return func() {
		if err := s.m.Close(); err != nil {
			s.log.Warn("Closing migrator", zap.Error(err))
		}
	}, nil
}

func showVersion(s *session, _ []string) error {
	version, dirty, err := s.m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		s.log.Info("No migrations applied")
		return nil
	}
	s.log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func checkSchema(s *session, _ []string) error {
	required, err := migration.LatestVersion(s.dir)
	if err != nil {
		return err
	}
	if err := migration.NewSchemaGuard(s.m, required, 0, s.log).Check(context.Background()); err != nil {
		s.log.Error("Schema is not usable", zap.Error(err))
		return errSchemaNotCurrent
	}
	s.log.Info("Schema is current", zap.Uint("required", required))
	return nil
}

func createPair(s *session, args []string) error {
	description := strings.Join(args[1:], " ")
	pair, err := migration.Create(s.dir, args[0], description, time.Now().UTC())
	if err != nil {
		return err
	}
	s.log.Info("Migration created",
		zap.Uint("version", pair.Version),
		zap.String("up", pair.UpPath),
		zap.String("down", pair.DownPath),
	)
	return nil
}

func listFiles(s *session, _ []string) error {
	files, err := migration.List(s.dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Println(f.Base())
	}
	s.log.Info("Migrations listed", zap.Int("count", len(files)))
	return nil
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "Usage: migrate [flags] <command> [arguments]")
	fmt.Fprintln(out, "\nCommands:")
	for _, c := range commands {
		fmt.Fprintf(out, "  %-30s %s\n", strings.TrimSpace(c.name+" "+c.args), c.summary)
	}
	fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
	fmt.Fprintln(out, "\nThe database is read from config.toml or ADMIN_DATABASE_* variables.")
}
