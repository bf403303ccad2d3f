package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/kiroku"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show entity counts, workflow health and branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.open(cmd, cmd.ErrOrStderr(), func(ctx context.Context, l *kiroku.Ledger) error {
				st, err := l.Status(ctx)
				if err != nil {
					return err
				}
				if g.json {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				renderStatus(cmd.OutOrStdout(), l.Backend(), st)
				return nil
			})
		},
	}
}

func renderStatus(w io.Writer, backend string, st kiroku.SystemStatus) {
	fmt.Fprintf(w, "store: %s\n\n", backend)

	counts := table.NewWriter()
	counts.SetOutputMirror(w)
	counts.AppendHeader(table.Row{"Entity", "Status", "Count"})
	for _, s := range []kiroku.BranchStatus{kiroku.BranchInactive, kiroku.BranchActive} {
		counts.AppendRow(table.Row{"branch", s, st.Branches[s]})
	}
	counts.AppendSeparator()
	for _, s := range []kiroku.AgentStatus{kiroku.AgentIdle, kiroku.AgentBusy, kiroku.AgentError} {
		counts.AppendRow(table.Row{"agent", s, st.Agents[s]})
	}
	counts.AppendSeparator()
	for _, s := range []kiroku.WorkflowStatus{kiroku.WorkflowPending, kiroku.WorkflowRunning, kiroku.WorkflowCompleted, kiroku.WorkflowFailed} {
		counts.AppendRow(table.Row{"workflow", s, st.Workflows[s]})
	}
	counts.AppendSeparator()
	for _, s := range []kiroku.TaskStatus{kiroku.TaskPending, kiroku.TaskAssigned, kiroku.TaskRunning, kiroku.TaskCompleted, kiroku.TaskFailed} {
		counts.AppendRow(table.Row{"task", s, st.Tasks[s]})
	}
	counts.Render()

	fmt.Fprintf(w, "\nsuccess rate: %.1f%%\navg workflow duration: %s\n",
		st.SuccessRate*100, st.AvgWorkflowDuration.Round(time.Millisecond))

	if len(st.RecentWorkflows) > 0 {
		fmt.Fprintln(w)
		recent := table.NewWriter()
		recent.SetOutputMirror(w)
		recent.AppendHeader(table.Row{"Recent Workflow", "ID", "Status", "Duration"})
		for _, wf := range st.RecentWorkflows {
			recent.AppendRow(table.Row{wf.Name, wf.ID, wf.Status, wf.Duration.Round(time.Millisecond)})
		}
		recent.Render()
	}

	if len(st.BranchDetails) == 0 {
		return
	}
	fmt.Fprintln(w)
	branches := table.NewWriter()
	branches.SetOutputMirror(w)
	branches.AppendHeader(table.Row{"Branch", "Type", "Status", "Agents", "Last Execution"})
	for _, b := range st.BranchDetails {
		last := "-"
		if b.LastExecution != nil {
			last = b.LastExecution.Format(time.RFC3339)
		}
		branches.AppendRow(table.Row{b.Name, b.Type, b.Status, b.Agents, last})
	}
	branches.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
