package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kollektiv/pkg/llm"
	"kollektiv/pkg/task"
)

var (
	taskMaxRejections int
	taskMaxRollbacks  int
	taskTranscript    bool
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.Flags().IntVar(&taskMaxRejections, "max-rejections", -1, "re-runs per step after rejections (0 = unbounded, -1 = system.json)")
	taskCmd.Flags().IntVar(&taskMaxRollbacks, "max-rollbacks", -1, "rollbacks per step (0 = unbounded, -1 = system.json)")
	taskCmd.Flags().BoolVar(&taskTranscript, "transcript", false, "print the whole pipeline history instead of the last message")
}

var taskCmd = &cobra.Command{
	Use:   "task <request>",
	Short: "Write a document through the outline/write/save pipeline",
	Long: `Run the document pipeline: outline the request, write the document as a
write_file call, then save it to the sandbox directory. Each step validates the
output of the step before it; a failing step rolls back one step.

Examples:
  kollektiv task "a two-paragraph report on river otters, saved as otters.md"
  kollektiv task --max-rejections 5 "a packing list for a weekend hike"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	reg, err := a.toolRegistry([]string{"write_file"})
	if err != nil {
		return err
	}
	writeFile, _ := reg.Get("write_file")

	outline := task.NewGenerateStep("Outline",
		"Read the request and produce a short outline of the document: its file name, its sections and the key points of each section.",
		a.engine)
	write := task.NewGenerateStep("Write",
		"Write the complete document following the outline, then save it with exactly one write_file call.",
		a.engine)
	save := task.NewToolStep("Save", "Save the document to the sandbox.", writeFile)

	sys := a.engine.SystemConfig()
	opts := task.Options{MaxRejections: sys.MaxRejections, MaxRollbacks: sys.MaxRollbacks}
	if taskMaxRejections >= 0 {
		opts.MaxRejections = taskMaxRejections
	}
	if taskMaxRollbacks >= 0 {
		opts.MaxRollbacks = taskMaxRollbacks
	}

	pipeline, err := task.NewPipeline(a.cfg.Role, []task.Step{outline, write, save}, opts)
	if err != nil {
		return err
	}

	history, err := pipeline.Run(ctx, llm.NewUserMessage(strings.Join(args, " ")))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if taskTranscript {
		fmt.Fprintln(out, history.Transcript())
		return nil
	}
	last, _ := history.Last()
	fmt.Fprintln(out, last.Content)
	return nil
}
