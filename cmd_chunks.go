package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"kollektiv/pkg/llm"
)

var chunksDir string

func init() {
	rootCmd.AddCommand(chunksCmd)
	chunksCmd.Flags().StringVar(&chunksDir, "dir", "", "output directory (default: chunks_<provider>)")
}

var chunksCmd = &cobra.Command{
	Use:   "chunks <prompt>",
	Short: "Stream one prompt and save every raw chunk as JSON",
	Long: `Send one prompt to the configured backend and write each stream chunk to
its own file. Useful to inspect what a provider actually emits.

Examples:
  kollektiv chunks "Explain Go channels in one sentence."`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChunks,
}

func runChunks(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	dir := chunksDir
	if dir == "" {
		dir = "chunks_" + strings.ReplaceAll(a.client.Provider(), ":", "_")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	sys := a.engine.SystemConfig()
	msgs := []llm.Message{llm.NewUserMessage(strings.Join(args, " "))}
	chunkCh, err := a.client.StreamChat(ctx, msgs, llm.Options{
		Temperature:   sys.Temperature,
		TopP:          sys.TopP,
		ContextWindow: sys.ContextWindow,
		Seed:          sys.Seed,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	count := 0
	for chunk := range chunkCh {
		count++
		data, err := json.MarshalIndent(chunk, "", "  ")
		if err != nil {
			return err
		}
		name := filepath.Join(dir, fmt.Sprintf("chunk_%03d.json", count))
		if err := os.WriteFile(name, data, 0644); err != nil {
			return err
		}
		for _, b := range chunk.ContentBlocks {
			if b.Type == llm.BlockTypeText {
				fmt.Fprint(out, b.Text)
			}
		}
	}

	fmt.Fprintf(out, "\n=== %d chunks saved to %s ===\n", count, dir)
	return nil
}
