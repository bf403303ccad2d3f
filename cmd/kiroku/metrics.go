package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/kiroku"
)

func newMetricsCmd(g *globalFlags) *cobra.Command {
	metrics := &cobra.Command{Use: "metrics", Short: "Read the metrics store"}

	var (
		name  string
		tags  []string
		since time.Duration
		limit int
	)
	query := &cobra.Command{
		Use:   "query",
		Short: "List metrics newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := kiroku.MetricQuery{NamePrefix: name, Tags: map[string]string{}}
			for _, kv := range tags {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("--tag %q must be key=value", kv)
				}
				q.Tags[k] = v
			}
			if since > 0 {
				from := time.Now().Add(-since)
				q.Range.From = &from
			}
			return g.open(cmd, cmd.ErrOrStderr(), func(ctx context.Context, l *kiroku.Ledger) error {
				var rows []kiroku.Metric
				for m, err := range l.QueryMetrics(ctx, q) {
					if err != nil {
						return err
					}
					rows = append(rows, m)
					if limit > 0 && len(rows) >= limit {
						break
					}
				}
				if g.json {
					return writeJSON(cmd.OutOrStdout(), rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Timestamp", "Name", "Value", "Unit", "Tags"})
				for _, m := range rows {
					tw.AppendRow(table.Row{m.Timestamp.Format(time.RFC3339Nano), m.Name, m.Value, m.Unit, formatTags(m.Tags)})
				}
				tw.Render()
				return nil
			})
		},
	}
	query.Flags().StringVar(&name, "name", "", "metric name prefix")
	query.Flags().StringSliceVar(&tags, "tag", nil, "tag filter key=value (repeatable)")
	query.Flags().DurationVar(&since, "since", 0, "only metrics newer than this")
	query.Flags().IntVar(&limit, "limit", 100, "maximum metrics to print (0 for all)")
	metrics.AddCommand(query)
	return metrics
}

func formatTags(tags map[string]string) string {
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, k+"="+v)
	}
	slices.Sort(parts)
	return strings.Join(parts, ",")
}
