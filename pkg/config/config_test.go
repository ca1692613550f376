package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	app := writeFile(t, dir, "config.json", `{"llm": [{"type": "ollama", "models": ["qwen3:32b"]}], "system_prompt": "hi"}`)

	cfg, sys, err := Load(app, filepath.Join(dir, "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "hi", cfg.SystemPrompt)
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, []string{".txt", ".md", ".json"}, cfg.ValidExtensions)
	assert.NotEmpty(t, cfg.Role)
	assert.Equal(t, DefaultSystemConfig(), sys)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := Load(filepath.Join(dir, "nope.json"), "")
	assert.ErrorContains(t, err, "not found")

	bad := writeFile(t, dir, "bad.json", `{"llm": `)
	_, _, err = Load(bad, "")
	assert.ErrorContains(t, err, "failed to parse")

	empty := writeFile(t, dir, "empty.json", `{"system_prompt": "x"}`)
	_, _, err = Load(empty, "")
	assert.ErrorContains(t, err, "'llm'")

	port := writeFile(t, dir, "port.json", `{"llm": [{}], "monitor": {"web_port": 70000}}`)
	_, _, err = Load(port, "")
	assert.ErrorContains(t, err, "web_port")
}

func TestLoadSystemConfig(t *testing.T) {
	dir := t.TempDir()

	p := writeFile(t, dir, "system.json", `{"retry_budget": 5, "seed": 42, "log_level": "debug"}`)
	sys := LoadSystemConfig(p)
	assert.Equal(t, 5, sys.RetryBudget)
	require.NotNil(t, sys.Seed)
	assert.Equal(t, 42, *sys.Seed)
	assert.Equal(t, "debug", sys.LogLevel)
	// untouched fields keep their defaults
	assert.Equal(t, 10, sys.MaxTurns)
	assert.Equal(t, 0.9, sys.TopP)

	corrupt := writeFile(t, dir, "corrupt.json", `{"retry_budget": "many"`)
	assert.Equal(t, DefaultSystemConfig(), LoadSystemConfig(corrupt))
}

func TestWatchSystemConfigReloads(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "system.json", `{"log_level": "info"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *SystemConfig, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchSystemConfig(ctx, p, 20*time.Millisecond, func(s *SystemConfig) {
			select {
			case got <- s:
			default:
			}
		})
	}()

	// give the watcher time to register before editing
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "other.json", `{}`)
	writeFile(t, dir, "system.json", `{"log_level": "debug"}`)

	deadline := time.After(3 * time.Second)
	for reloaded := false; !reloaded; {
		select {
		case s := <-got:
			// a reload may race the truncating write and see defaults first
			reloaded = s.LogLevel == "debug"
		case <-deadline:
			t.Fatal("no reload after editing system.json")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
