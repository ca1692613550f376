package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "kollektiv/pkg/llm/autoload" // 自動註冊 LLM Providers
	"kollektiv/pkg/monitor"
)

var (
	configPath string
	systemPath string
	version    = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "kollektiv",
	Short: "Structured, tool-augmented conversations with an LLM backend",
	Long: `kollektiv mediates conversations with a generative backend whose replies
are unreliable free-form text. Tool calls and structured answers are parsed,
validated and retried until they conform.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "application config (llm providers, prompts, sandbox)")
	rootCmd.PersistentFlags().StringVar(&systemPath, "system", "system.json", "engine config (budgets, sampling, log level); reloaded on change")
}

func main() {
	monitor.PrintBanner(os.Stderr)

	// 監聽系統信號
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}
