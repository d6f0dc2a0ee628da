package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10.0, cfg.Dataset.DevRatio)
	assert.Equal(t, 10.0, cfg.Dataset.TestRatio)
	assert.Len(t, cfg.Dataset.Unknown, 4)
	assert.Equal(t, "tcp and (port 443 or port 80)", cfg.Capture.Filter)
	assert.Equal(t, 5*time.Second, cfg.GetDelay())
	assert.Equal(t, 24*time.Hour, cfg.GetOptimizeTimeout())
	assert.Equal(t, []string{"H", "B", "R", "X"}, cfg.Capture.Tools["slowhttptest"].Variants)
	assert.Equal(t, 60*time.Second, cfg.Capture.Tools["slowhttptest"].GetDuration())
	assert.Zero(t, cfg.Capture.Tools["rudy"].GetDuration())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("FLOWLAB_TSTAT", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Tstat, cfg.Tstat)
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("FLOWLAB_TSTAT", "")
	t.Setenv("FLOWLAB_TSHARK", "")
	t.Setenv("DOCKER_HOST", "")
	t.Setenv("FLOWLAB_BROWSER_URL", "")

	path := filepath.Join(t.TempDir(), "conf", "flowlab.yaml")

	cfg := Default()
	cfg.Tstat = "/opt/tstat"
	cfg.Dataset.Seed = 42
	cfg.Capture.Browser.ControlURL = "ws://localhost:9222/devtools/browser/x"
	cfg.Capture.Tools["curl"] = ToolConfig{Kind: "command", App: "curl-7.61.0", Command: []string{"curl", "{url}"}}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/tstat", loaded.Tstat)
	assert.Equal(t, int64(42), loaded.Dataset.Seed)
	assert.Equal(t, "ws://localhost:9222/devtools/browser/x", loaded.Capture.Browser.ControlURL)
	assert.Equal(t, []string{"curl", "{url}"}, loaded.Capture.Tools["curl"].Command)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowlab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset:\n  dev_ratio: 20\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cfg.Dataset.DevRatio)
	assert.Equal(t, 10.0, cfg.Dataset.TestRatio)
	assert.Equal(t, "native", cfg.Dataset.Splitter)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowlab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataset: [\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOWLAB_TSTAT", "/usr/local/bin/tstat")
	t.Setenv("FLOWLAB_TSHARK", "/usr/bin/tshark")
	t.Setenv("DOCKER_HOST", "tcp://10.0.0.1:2375")
	t.Setenv("FLOWLAB_BROWSER_URL", "ws://127.0.0.1:9222/devtools/browser/abc")

	cfg := Default()
	cfg.applyEnvOverrides()

	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/abc", cfg.Capture.Browser.ControlURL)
	assert.Equal(t, "/usr/local/bin/tstat", cfg.Tstat)
	assert.Equal(t, "/usr/bin/tshark", cfg.Tshark)
	assert.Equal(t, "tcp://10.0.0.1:2375", cfg.Capture.Docker.Host)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ratios too large", func(c *Config) { c.Dataset.DevRatio = 60; c.Dataset.TestRatio = 40 }},
		{"negative ratio", func(c *Config) { c.Dataset.DevRatio = -1 }},
		{"bad splitter", func(c *Config) { c.Dataset.Splitter = "editcap" }},
		{"bad recorder", func(c *Config) { c.Capture.Recorder = "pcap" }},
		{"command without argv", func(c *Config) {
			c.Capture.Tools["x"] = ToolConfig{Kind: "command", App: "x-1"}
		}},
		{"unknown kind", func(c *Config) {
			c.Capture.Tools["x"] = ToolConfig{Kind: "robot", App: "x-1"}
		}},
		{"no app", func(c *Config) {
			c.Capture.Tools["x"] = ToolConfig{Kind: "browser"}
		}},
		{"no evals", func(c *Config) { c.Optimize.MaxEvals = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseDurationFallback(t *testing.T) {
	cfg := Default()
	cfg.Capture.Delay = "soon"
	assert.Equal(t, 5*time.Second, cfg.GetDelay())
	cfg.Capture.Delay = "250ms"
	assert.Equal(t, 250*time.Millisecond, cfg.GetDelay())
}
