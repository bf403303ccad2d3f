package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kiroku"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var fromStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger's sinks and stream committed log records to stdout",
		Long: `serve opens the ledger (applying migrations and seeding the admin
identity), runs the Log Sink and Metrics Store flush loops and writes every
log record committed to the store to stdout as JSON lines until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.open(cmd, os.Stdout, func(ctx context.Context, l *kiroku.Ledger) error {
				after := kiroku.LogCursor{}
				if !fromStart {
					after.Timestamp = time.Now().UTC()
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				err := l.FollowLogs(ctx, after, func(r kiroku.LogRecord) error {
					return enc.Encode(r)
				})
				if errors.Is(err, context.Canceled) {
					fmt.Fprintln(cmd.ErrOrStderr(), "shutting down")
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "stream stored records from the beginning")
	return cmd
}
