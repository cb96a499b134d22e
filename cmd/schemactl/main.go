/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Command schemactl migrates a database to a declared schema version
// and exports or imports its contents as documents.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	// Driver packages register retryable errors and constraint classifiers for every dialect.
	_ "github.com/acronis/go-schemakit/mssql"
	_ "github.com/acronis/go-schemakit/mysql"
	_ "github.com/acronis/go-schemakit/pgx"
	_ "github.com/acronis/go-schemakit/postgres"
	_ "github.com/acronis/go-schemakit/sqlite"
)

var version = "dev"

type command struct {
	run         func(env *cliEnv, args []string) error
	description string
}

var commands = map[string]command{
	"migrate": {runMigrate, "Migrate the database to the schema version (or -to version)"},
	"plan":    {runPlan, "Print the statements a migration would execute"},
	"version": {runVersion, "Print the stored schema version"},
	"export":  {runExport, "Export all user tables into a document"},
	"import":  {runImport, "Import a document into the user tables"},
	"clean":   {runClean, "Delete all rows of all user tables"},
}

type cliEnv struct {
	stdout io.Writer
	stderr io.Writer
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "  %-9s %s\n", name, commands[name].description)
	}
	fmt.Fprintf(w, `schemactl - versioned schema and document tool (version %s)

Usage:
  schemactl <command> [options]

Commands:
%s
Run 'schemactl <command> -h' for command-specific help.
`, version, sb.String())
}

func run(env *cliEnv, args []string) int {
	if len(args) == 0 {
		usage(env.stderr)
		return 1
	}
	switch args[0] {
	case "-h", "--help", "help":
		usage(env.stdout)
		return 0
	case "-v", "--version":
		fmt.Fprintln(env.stdout, version)
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(env.stderr, "unknown command: %s\n\n", args[0])
		usage(env.stderr)
		return 1
	}
	if err := cmd.run(env, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(env.stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

func main() {
	os.Exit(run(&cliEnv{stdout: os.Stdout, stderr: os.Stderr}, os.Args[1:]))
}
