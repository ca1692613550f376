package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kollektiv/pkg/agent"
	"kollektiv/pkg/tree"
)

var planOutline bool

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().BoolVar(&planOutline, "outline", false, "print an indented outline instead of JSON")
}

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Decompose a goal into a task tree",
	Long: `Ask the backend for a root node, its main tasks and one level of sub-tasks
under each of them. The tree is printed as JSON.

Examples:
  kollektiv plan "organize a neighborhood book swap"
  kollektiv plan --outline "learn enough Italian for a two-week trip"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	t, root, err := agent.NewPlanner(a.engine).Plan(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if planOutline {
		return t.Walk(root, func(n tree.Node, depth int) bool {
			fmt.Fprintf(out, "%s%d. %s: %s\n", strings.Repeat("  ", depth), n.Priority, n.Name, n.Description)
			return true
		})
	}

	snap, err := t.Snapshot(root)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}
