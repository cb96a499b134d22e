/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/retry"

	"github.com/acronis/go-schemakit"
	"github.com/acronis/go-schemakit/distrlock"
	"github.com/acronis/go-schemakit/document"
	"github.com/acronis/go-schemakit/helper"
	"github.com/acronis/go-schemakit/schema"
)

var supportedDialects = []schemakit.Dialect{
	schemakit.DialectSQLite,
	schemakit.DialectMySQL,
	schemakit.DialectPostgres,
	schemakit.DialectPgx,
	schemakit.DialectMSSQL,
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configPath string
	schemaPath string
	envPrefix  string
	verbose    bool
	lockKey    string
	lockWait   time.Duration
}

func newFlagSet(env *cliEnv, name, args, description string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	cf := &commonFlags{}
	fs.StringVar(&cf.configPath, "config", "schemakit.yml", "Path to the YAML or JSON configuration file")
	fs.StringVar(&cf.schemaPath, "schema", "schema.yml", "Path to the YAML or JSON schema declaration")
	fs.StringVar(&cf.envPrefix, "env-prefix", "", "Prefix of environment variables overriding the configuration")
	fs.BoolVar(&cf.verbose, "verbose", false, "Log debug messages")
	fs.StringVar(&cf.lockKey, "lock", "", "Key of the database lock held while migrating")
	fs.DurationVar(&cf.lockWait, "lock-wait", 0, "How long to wait for a lock held by another process")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: schemactl %s [options]%s\n\n%s\n\nOptions:\n", name, args, description)
		fs.PrintDefaults()
	}
	return fs, cf
}

func loadConfig(path, envPrefix string) (*schemakit.Config, error) {
	dataType := config.DataTypeYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dataType = config.DataTypeJSON
	}
	cfg := schemakit.NewDefaultConfig(supportedDialects)
	if err := config.NewDefaultLoader(envPrefix).LoadFromFile(path, dataType, cfg); err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	return cfg, nil
}

// session is an opened database with a loaded schema.
type session struct {
	helper *helper.Helper
	close  func()
}

// openSession opens the configured database without migrating it unless migrate is set.
func openSession(ctx context.Context, cf *commonFlags, migrate bool) (*session, error) {
	cfg, err := loadConfig(cf.configPath, cf.envPrefix)
	if err != nil {
		return nil, err
	}
	model, err := schema.LoadFile(cf.schemaPath)
	if err != nil {
		return nil, fmt.Errorf("load schema %q: %w", cf.schemaPath, err)
	}

	level := log.LevelInfo
	if cf.verbose {
		level = log.LevelDebug
	}
	logger, loggerClose := log.NewLogger(&log.Config{Output: log.OutputStderr, Level: level})

	opts := []helper.Option{helper.WithMigrationConfig(cfg.Migration)}
	if cf.lockKey != "" {
		var lockOpts []distrlock.DoOption
		if cf.lockWait > 0 {
			const lockPollInterval = time.Second
			lockOpts = append(lockOpts, distrlock.WithAcquireRetryPolicy(
				retry.NewConstantBackoffPolicy(lockPollInterval, int(cf.lockWait/lockPollInterval)+1)))
		}
		opts = append(opts, helper.WithMigrationLock(cf.lockKey, lockOpts...))
	}

	var h *helper.Helper
	if migrate {
		h, err = helper.Open(ctx, cfg, model, logger, opts...)
	} else {
		db, openErr := schemakit.Open(cfg, true)
		if openErr != nil {
			loggerClose()
			return nil, openErr
		}
		if h, err = helper.New(db, cfg.Dialect, model, logger, opts...); err != nil {
			_ = db.Close()
		}
	}
	if err != nil {
		loggerClose()
		return nil, err
	}
	return &session{
		helper: h,
		close: func() {
			_ = h.DB().Close()
			loggerClose()
		},
	}, nil
}

func runMigrate(env *cliEnv, args []string) error {
	fs, cf := newFlagSet(env, "migrate", "", "Migrate the database from its stored version to the schema version or the -to version.")
	target := fs.Int("to", 0, "Target version (defaults to the schema version)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	s, err := openSession(ctx, cf, false)
	if err != nil {
		return err
	}
	defer s.close()

	to := *target
	if to == 0 {
		to = s.helper.Engine().Model().Version()
	}
	plan, err := s.helper.MigrateTo(ctx, to)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "%s %d -> %d: %d statement(s)\n", plan.Action, plan.From, plan.To, plan.StatementsCount())
	return nil
}

func runPlan(env *cliEnv, args []string) error {
	fs, cf := newFlagSet(env, "plan", "", "Print the statements that would migrate the database without executing them.")
	target := fs.Int("to", 0, "Target version (defaults to the schema version)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	s, err := openSession(ctx, cf, false)
	if err != nil {
		return err
	}
	defer s.close()

	to := *target
	if to == 0 {
		to = s.helper.Engine().Model().Version()
	}
	plan, err := s.helper.Engine().Plan(ctx, to)
	if err != nil {
		return err
	}
	fmt.Fprint(env.stdout, plan.String())
	return nil
}

func runVersion(env *cliEnv, args []string) error {
	fs, cf := newFlagSet(env, "version", "", "Print the stored schema version.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	s, err := openSession(ctx, cf, false)
	if err != nil {
		return err
	}
	defer s.close()

	v, ok, err := s.helper.Version(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(env.stdout, "none")
		return nil
	}
	fmt.Fprintln(env.stdout, v)
	return nil
}

func runExport(env *cliEnv, args []string) error {
	fs, cf := newFlagSet(env, "export", " [file]",
		"Export all user tables of the migrated database. Without a file the document is written to stdout.")
	formatName := fs.String("format", "", "Document format: "+strings.Join(document.FormatNames(), ", ")+
		" (defaults to the file extension or the configured format)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	s, err := openSession(ctx, cf, true)
	if err != nil {
		return err
	}
	defer s.close()

	f, err := pickFormat(*formatName, fs.Arg(0), s.helper.Format())
	if err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return s.helper.Codec().ExportTo(ctx, env.stdout, f)
	}
	return s.helper.Codec().ExportFile(ctx, fs.Arg(0), f)
}

func runImport(env *cliEnv, args []string) error {
	fs, cf := newFlagSet(env, "import", " <file>", "Import the document into the user tables of the migrated database.")
	formatName := fs.String("format", "", "Document format: "+strings.Join(document.FormatNames(), ", ")+
		" (defaults to the file extension or the configured format)")
	appendRows := fs.Bool("append", false, "Keep existing rows instead of cleaning the tables first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("a document file is required")
	}
	ctx := context.Background()
	s, err := openSession(ctx, cf, true)
	if err != nil {
		return err
	}
	defer s.close()

	f, err := pickFormat(*formatName, fs.Arg(0), s.helper.Format())
	if err != nil {
		return &document.ImportError{Status: document.StatusErrorInFile, Err: err}
	}
	summary, err := s.helper.Codec().ImportFile(ctx, fs.Arg(0), f, *appendRows)
	if err != nil {
		fmt.Fprintln(env.stdout, document.StatusOf(err))
		return err
	}
	fmt.Fprintln(env.stdout, document.StatusSuccess)
	for _, name := range summary.SkippedTables {
		fmt.Fprintf(env.stdout, "skipped table %s\n", name)
	}
	fmt.Fprintf(env.stdout, "imported %d record(s)\n", summary.RecordsCount())
	return nil
}

func runClean(env *cliEnv, args []string) error {
	fs, cf := newFlagSet(env, "clean", "", "Delete all rows of all user tables of the migrated database.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := context.Background()
	s, err := openSession(ctx, cf, true)
	if err != nil {
		return err
	}
	defer s.close()
	return s.helper.Clean(ctx)
}

// pickFormat returns the format named explicitly, then the one matching the file extension, then the fallback.
func pickFormat(name, path string, fallback document.Format) (document.Format, error) {
	if name != "" {
		return document.FormatByName(name)
	}
	if path != "" {
		if f, err := document.FormatForPath(path); err == nil {
			return f, nil
		}
	}
	return fallback, nil
}

// exitCode maps import statuses to distinct exit codes, any other error gives 1.
func exitCode(err error) int {
	var importErr *document.ImportError
	if errors.As(err, &importErr) {
		return 1 + int(importErr.Status)
	}
	return 1
}
