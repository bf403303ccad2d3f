// Command kiroku operates the workflow orchestration ledger.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kiroku"
	"github.com/ashita-ai/kiroku/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

type globalFlags struct {
	store       string
	databaseURL string
	notifyURL   string
	sqlitePath  string
	envFile     string
	logLevel    string
	json        bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "kiroku",
		Short:         "Kiroku workflow orchestration ledger",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(g.envFile)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.store, "store", "", "store backend: postgres or sqlite (KIROKU_STORE)")
	pf.StringVar(&g.databaseURL, "database-url", "", "Postgres URL (DATABASE_URL)")
	pf.StringVar(&g.notifyURL, "notify-url", "", "direct Postgres URL for LISTEN/NOTIFY (NOTIFY_URL)")
	pf.StringVar(&g.sqlitePath, "sqlite-path", "", "SQLite database file (KIROKU_SQLITE_PATH)")
	pf.StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (KIROKU_LOG_LEVEL)")
	pf.BoolVar(&g.json, "json", false, "output JSON")

	root.AddCommand(
		newMigrateCmd(&g),
		newServeCmd(&g),
		newStatusCmd(&g),
		newImportCmd(&g),
		newLogsCmd(&g),
		newMetricsCmd(&g),
	)
	return root
}

// logger returns a JSON logger writing to w at the configured level.
func (g *globalFlags) logger(w io.Writer) *slog.Logger {
	name := g.logLevel
	if name == "" {
		name = os.Getenv("KIROKU_LOG_LEVEL")
	}
	var level slog.Level
	switch strings.ToLower(name) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// options maps the global flags onto ledger options. Empty flags leave the
// environment's value in place.
func (g *globalFlags) options(logger *slog.Logger) ([]kiroku.Option, error) {
	opts := []kiroku.Option{kiroku.WithLogger(logger), kiroku.WithVersion(version)}
	switch g.store {
	case "":
		if g.databaseURL != "" {
			opts = append(opts, kiroku.WithPostgres(g.databaseURL, g.notifyURL))
		} else if g.sqlitePath != "" {
			opts = append(opts, kiroku.WithSQLite(g.sqlitePath))
		}
	case config.StorePostgres:
		opts = append(opts, kiroku.WithPostgres(g.databaseURL, g.notifyURL))
	case config.StoreSQLite:
		opts = append(opts, kiroku.WithSQLite(g.sqlitePath))
	default:
		return nil, fmt.Errorf("--store=%q must be postgres or sqlite", g.store)
	}
	return opts, nil
}

// open runs fn with an open ledger and closes it afterwards.
func (g *globalFlags) open(cmd *cobra.Command, logOut io.Writer, fn func(ctx context.Context, l *kiroku.Ledger) error) error {
	ctx := cmd.Context()
	opts, err := g.options(g.logger(logOut))
	if err != nil {
		return err
	}
	l, err := kiroku.New(ctx, opts...)
	if err != nil {
		return err
	}
	runErr := fn(ctx, l)
	closeErr := l.Close(context.WithoutCancel(ctx))
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func newMigrateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := g.options(g.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			if err := kiroku.Migrate(cmd.Context(), opts...); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newImportCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <manifest.yaml>",
		Short: "Register branches and agents from a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.open(cmd, cmd.ErrOrStderr(), func(ctx context.Context, l *kiroku.Ledger) error {
				res, err := l.Import(ctx, args[0])
				if err != nil {
					return err
				}
				if g.json {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "registered %d branches (%d agents)\n", len(res.Registered), res.Agents)
				for _, name := range res.Skipped {
					fmt.Fprintf(out, "skipped %s: already registered\n", name)
				}
				return nil
			})
		},
	}
}
