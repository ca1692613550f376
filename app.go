package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kollektiv/pkg/agent"
	"kollektiv/pkg/config"
	"kollektiv/pkg/llm"
	"kollektiv/pkg/monitor"
	"kollektiv/pkg/tools"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// app holds everything a subcommand needs.
type app struct {
	cfg     *config.Config
	client  llm.LLMClient
	gateway *llm.Gateway
	engine  *agent.Engine
	monitor *monitor.Multi
	storage *tools.Storage

	stopWatch context.CancelFunc
}

// newApp loads both config files and wires backend, monitors and engine.
// system.json is watched for the lifetime of the app.
func newApp(ctx context.Context) (*app, error) {
	cfg, sys, err := config.Load(configPath, systemPath)
	if err != nil {
		return nil, err
	}
	monitor.SetupSlog(sys.LogLevel)

	client, err := llm.NewFromConfig(cfg.LLM, sys)
	if err != nil {
		return nil, fmt.Errorf("init LLM client: %w", err)
	}
	gateway := llm.NewGateway(client, llmTimeout(sys))

	mon := monitor.NewMulti()
	if cfg.Monitor.CLI {
		mon.Add(monitor.NewCLIMonitor())
	}
	if cfg.Monitor.WebPort > 0 {
		mon.Add(monitor.NewWebMonitor(fmt.Sprintf(":%d", cfg.Monitor.WebPort)))
	}
	if err := mon.Start(); err != nil {
		return nil, fmt.Errorf("start monitors: %w", err)
	}

	a := &app{
		cfg:     cfg,
		client:  client,
		gateway: gateway,
		engine:  agent.NewEngine(gateway, sys, mon),
		monitor: mon,
		storage: tools.NewStorage(cfg.OutputDir, cfg.ValidExtensions),
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.stopWatch = cancel
	go func() {
		err := config.WatchSystemConfig(watchCtx, systemPath, config.DefaultDebounce, a.applySystemConfig)
		if err != nil {
			slog.Warn("System config will not be reloaded", "error", err)
		}
	}()

	return a, nil
}

func (a *app) applySystemConfig(sys *config.SystemConfig) {
	monitor.SetLevel(sys.LogLevel)
	a.client.SetDebug(sys.DebugChunks)
	a.gateway.SetTimeout(llmTimeout(sys))
	a.engine.SetSystemConfig(sys)
	slog.Info("System config reloaded", "log_level", sys.LogLevel, "retry_budget", sys.RetryBudget, "llm_timeout_ms", sys.LLMTimeoutMs)
}

func llmTimeout(sys *config.SystemConfig) time.Duration {
	return time.Duration(sys.LLMTimeoutMs) * time.Millisecond
}

// toolRegistry returns the storage tools named in names, all of them when
// names is empty.
func (a *app) toolRegistry(names []string) (*tools.Registry, error) {
	all, err := tools.NewRegistry(a.storage.Tools()...)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return all, nil
	}
	return all.Subset(names...)
}

// history starts a conversation with the configured system prompt.
func (a *app) history() llm.History {
	if a.cfg.SystemPrompt == "" {
		return llm.NewHistory()
	}
	return llm.NewHistory(llm.NewSystemMessage(a.cfg.SystemPrompt))
}

func (a *app) Close() {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if err := a.monitor.Stop(); err != nil {
		slog.Warn("Failed to stop monitors", "error", err)
	}
}
