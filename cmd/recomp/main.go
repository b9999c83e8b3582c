package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/schemaops/recomp/internal/config"
	"github.com/schemaops/recomp/internal/history"
	"github.com/schemaops/recomp/internal/logging"
	"github.com/schemaops/recomp/internal/orchestrator"
	"github.com/schemaops/recomp/internal/secrets"
	"github.com/schemaops/recomp/internal/session"
	"github.com/schemaops/recomp/internal/version"
)

// Exit codes.
const (
	exitOK           = 0
	exitError        = 1
	exitInvalidArgs  = 2
	exitNoWork       = 3
	exitUserCancel   = 4
	exitNoConnection = 5
)

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Analyze tables and generate (or apply) encoding migrations",
				Action: runAnalysis,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db-host", Usage: "Cluster endpoint"},
					&cli.IntFlag{Name: "db-port", Usage: "Cluster endpoint port", Value: config.DefaultPort},
					&cli.StringFlag{Name: "db", Usage: "Database to analyze"},
					&cli.StringFlag{Name: "db-user", Usage: "Database user"},
					&cli.StringFlag{Name: "db-password", Usage: "Database password (prompted when omitted)"},
					&cli.StringFlag{Name: "schema", Value: "public", Usage: "Schema to analyze"},
					&cli.StringFlag{Name: "table", Usage: "Analyze a single named table instead of a whole schema"},
					&cli.StringFlag{Name: "target-schema", Usage: "Create migrated tables in this schema instead of in place"},
					&cli.IntFlag{Name: "workers", Value: config.DefaultWorkers, Usage: "Number of concurrent table workers"},
					&cli.StringFlag{Name: "output-file", Usage: "Duplicate generated output to this file"},
					&cli.BoolFlag{Name: "do-execute", Usage: "Apply the generated migrations instead of only emitting them"},
					&cli.IntFlag{Name: "slot-count", Value: config.DefaultSlotCount, Usage: "wlm_query_slot_count override"},
					&cli.BoolFlag{Name: "ignore-errors", Usage: "Continue and exit zero even when individual tables fail"},
					&cli.BoolFlag{Name: "force", Usage: "Migrate tables even when every recommendation is raw"},
					&cli.BoolFlag{Name: "drop-old-data", Usage: "Drop the original table instead of renaming it aside"},
					&cli.IntFlag{Name: "comprows", Usage: "Sample row count for compression analysis"},
					&cli.BoolFlag{Name: "debug", Usage: "Echo analysis statements as comments"},
					&cli.BoolFlag{Name: "no-history", Usage: "Do not record this run in the local history database"},
				},
			},
			{
				Name:   "history",
				Usage:  "List recorded runs, or show per-table detail for one run",
				Action: showHistory,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "run", Usage: "Show details for a specific run ID"},
					&cli.StringFlag{Name: "path", Usage: "History database path"},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(err)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
}

// buildConfig merges the optional YAML config with command-line overrides.
func buildConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("db-host") {
		cfg.Cluster.Host = c.String("db-host")
	}
	if c.IsSet("db-port") {
		cfg.Cluster.Port = c.Int("db-port")
	}
	if c.IsSet("db") {
		cfg.Cluster.Database = c.String("db")
	}
	if c.IsSet("db-user") {
		cfg.Cluster.User = c.String("db-user")
	}
	if c.IsSet("db-password") {
		cfg.Cluster.Password = c.String("db-password")
	}
	if c.IsSet("schema") {
		cfg.Analysis.Schema = c.String("schema")
	}
	if c.IsSet("table") {
		cfg.Analysis.Table = c.String("table")
	}
	if c.IsSet("target-schema") {
		cfg.Analysis.TargetSchema = c.String("target-schema")
	}
	if c.IsSet("workers") {
		cfg.Analysis.Workers = c.Int("workers")
	}
	if c.IsSet("output-file") {
		cfg.Output.File = c.String("output-file")
	}
	if c.IsSet("do-execute") {
		cfg.Analysis.Execute = c.Bool("do-execute")
	}
	if c.IsSet("slot-count") {
		cfg.Analysis.SlotCount = c.Int("slot-count")
	}
	if c.IsSet("ignore-errors") {
		cfg.Analysis.IgnoreErrors = c.Bool("ignore-errors")
	}
	if c.IsSet("force") {
		cfg.Analysis.Force = c.Bool("force")
	}
	if c.IsSet("drop-old-data") {
		cfg.Analysis.DropOldData = c.Bool("drop-old-data")
	}
	if c.IsSet("comprows") {
		cfg.Analysis.Comprows = c.Int("comprows")
	}
	if c.IsSet("debug") {
		cfg.Output.Debug = c.Bool("debug")
		cfg.Output.LogLevel = "debug"
	}
	if c.IsSet("no-history") {
		cfg.History.Disabled = c.Bool("no-history")
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func runAnalysis(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidArgs)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(err.Error(), exitInvalidArgs)
	}

	level, err := logging.ParseLevel(cfg.Output.LogLevel)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidArgs)
	}
	logging.SetLevel(level)
	logging.SetFormat(cfg.Output.LogFormat)

	if cfg.Cluster.Password == "" {
		cfg.Cluster.Password = os.Getenv("RECOMP_PASSWORD")
	}
	if cfg.Cluster.Password == "" {
		stored, err := secrets.Load()
		if err != nil {
			logging.Warn("ignoring stored credentials: %v", err)
		} else if pwd, ok := stored.Password(cfg.Cluster.Host, cfg.Cluster.Port, cfg.Cluster.Database, cfg.Cluster.User); ok {
			cfg.Cluster.Password = pwd
		}
	}
	if cfg.Cluster.Password == "" {
		pwd, err := promptPassword(cfg.Cluster.User)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidArgs)
		}
		cfg.Cluster.Password = pwd
	}

	if cfg.Analysis.Execute && cfg.Analysis.DropOldData {
		if !confirmDestructive() {
			return cli.Exit("terminating on user request", exitUserCancel)
		}
	}

	orch, err := orchestrator.New(cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitCode(err))
	}
	defer orch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted.")
		cancel()
	}()

	if err := orch.Run(ctx); err != nil {
		return cli.Exit(err.Error(), exitCode(err))
	}
	return nil
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitUserCancel
	case errors.Is(err, session.ErrNoConnection):
		return exitNoConnection
	case errors.Is(err, orchestrator.ErrNoCandidates):
		return exitNoWork
	default:
		return exitError
	}
}

func promptPassword(user string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password provided and stdin is not a terminal")
	}

	fmt.Fprintf(os.Stderr, "Password <%s>: ", user)
	pwd, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pwd), nil
}

// confirmDestructive requires an explicit Yes before a run that drops the
// original tables.
func confirmDestructive() bool {
	fmt.Fprint(os.Stderr, "This will make irreversible changes to your database and cannot be undone. Type 'Yes' to continue: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "Yes"
}

func showHistory(c *cli.Context) error {
	path := c.String("path")
	if path == "" {
		var err error
		path, err = history.DefaultPath()
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}
	}

	store, err := history.Open(path)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer store.Close()

	if runID := c.String("run"); runID != "" {
		return showRunDetails(store, runID)
	}

	runs, err := store.ListRuns()
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}

	for _, r := range runs {
		scope := "schema " + r.Schema
		if r.TableScope != "" {
			scope = "table " + r.TableScope
		}
		mode := "dry-run"
		if r.Executed {
			mode = "execute"
		}
		fmt.Printf("%s  %s  %-9s %-8s %s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, mode, scope)
	}
	return nil
}

func showRunDetails(store *history.Store, runID string) error {
	tables, err := store.RunTables(runID)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	if len(tables) == 0 {
		fmt.Printf("No table records for run %s.\n", runID)
		return nil
	}

	for _, rec := range tables {
		line := fmt.Sprintf("%-32s %-9s %8s", rec.Table, rec.Action, rec.Duration.Round(time.Millisecond))
		if rec.Error != "" {
			line += "  " + rec.Error
		}
		fmt.Println(line)
	}
	return nil
}
