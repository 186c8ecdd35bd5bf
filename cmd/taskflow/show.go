package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"

	"github.com/aristath/taskflow/internal/scheduler"
	"github.com/aristath/taskflow/internal/tasks"
)

func newShowCmd(g *globalOptions) *cobra.Command {
	var (
		output bool
		nodeID string
	)

	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show the stored state of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			wf, err := a.store.Load(cmd.Context(), args[0], tasks.NewRegistry())
			if err != nil {
				return err
			}
			printReport(a.out, wf.Report())

			if !output {
				return nil
			}
			lines, err := a.store.GetOutput(cmd.Context(), args[0], nodeID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "\nOutput (%d lines):\n", len(lines))
			for _, l := range lines {
				fmt.Fprintf(a.out, "%s  %s\n", l.NodeID, l.Line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&output, "output", false, "Also print captured node output")
	cmd.Flags().StringVar(&nodeID, "node", "", "Only print output of this node")
	return cmd
}

func newListCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.setup(cmd, false)
			if err != nil {
				return err
			}
			defer a.close()

			summaries, err := a.store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(a.out, "No workflows found")
				return nil
			}

			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tNODES\tUPDATED")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Name, s.Status, s.Nodes, s.UpdatedAt.Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func newPresetsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the workflow presets in the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(cfg.Presets))
			for name := range cfg.Presets {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE")
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%s\n", name, cfg.Presets[name].Type)
			}
			return w.Flush()
		},
	}
}

// printReport writes the node table followed by the pretty printed results.
func printReport(out io.Writer, rep *scheduler.Report) {
	fmt.Fprintf(out, "Workflow %s (%s): %s\n\n", rep.WorkflowID, rep.Name, rep.Status)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tKIND\tSTATUS\tDURATION\tERROR")
	for _, n := range rep.Nodes {
		status := n.Status.String()
		if n.Blocked {
			status = "blocked"
		}
		var elapsed string
		if !n.StartedAt.IsZero() && !n.FinishedAt.IsZero() {
			elapsed = n.FinishedAt.Sub(n.StartedAt).Round(time.Millisecond).String()
		}
		var errMsg string
		if n.Err != nil {
			errMsg = n.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.ID, n.Kind, status, elapsed, errMsg)
	}
	w.Flush()

	fmt.Fprintf(out, "\nResults:\n%s", pretty.Pretty(rep.Results.JSON()))
}
