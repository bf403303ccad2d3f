package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/kiroku"
)

func newLogsCmd(g *globalFlags) *cobra.Command {
	logs := &cobra.Command{Use: "logs", Short: "Read the log sink"}

	var limit int
	var follow bool
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print stored log records, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.open(cmd, cmd.ErrOrStderr(), func(ctx context.Context, l *kiroku.Ledger) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				emit := func(r kiroku.LogRecord) error {
					if g.json {
						return enc.Encode(r)
					}
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %-8s %-12s %s\n",
						r.Timestamp.Format("2006-01-02T15:04:05.000000Z07:00"), r.Level, r.Component, r.Message)
					return err
				}
				if follow {
					err := l.FollowLogs(ctx, kiroku.LogCursor{}, emit)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				records, err := l.TailLogs(ctx, kiroku.LogCursor{}, limit)
				if err != nil {
					return err
				}
				for _, r := range records {
					if err := emit(r); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 100, "maximum records to print")
	tail.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new records until interrupted")
	logs.AddCommand(tail)
	return logs
}
