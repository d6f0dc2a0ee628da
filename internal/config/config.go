// Package config holds the flowlab configuration: paths of the external tools, the
// capture tool table, data set split parameters and optimisation/report settings.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up when --config is not given.
const DefaultPath = "flowlab.yaml"

// Config holds all flowlab configuration.
type Config struct {
	// Paths of the external binaries.
	Tshark string `yaml:"tshark"`
	Tstat  string `yaml:"tstat"`

	Dataset  DatasetConfig  `yaml:"dataset"`
	Capture  CaptureConfig  `yaml:"capture"`
	Optimize OptimizeConfig `yaml:"optimize"`
	Report   ReportConfig   `yaml:"report"`

	// Categories maps a tool, with or without version, to its traffic category.
	Categories map[string]string `yaml:"categories"`
	// ShortNames are the abbreviations used in confusion matrix headers.
	ShortNames map[string]string `yaml:"short_names"`
}

// DatasetConfig configures the data set builder.
type DatasetConfig struct {
	DevRatio  float64 `yaml:"dev_ratio"`
	TestRatio float64 `yaml:"test_ratio"`
	Seed      int64   `yaml:"seed"`
	Workers   int     `yaml:"workers"`
	// Splitter is "native" or "tshark".
	Splitter string `yaml:"splitter"`
	// Splits disables the per-threshold split captures when false.
	Splits bool `yaml:"splits"`
	// Unknown lists the application instances held out as the unknown tools test set.
	Unknown []string `yaml:"unknown"`
}

// CaptureConfig configures the capture sessions.
type CaptureConfig struct {
	Folder     string `yaml:"folder"`
	OS         string `yaml:"os"`
	Hypervisor string `yaml:"hypervisor"`
	Delay      string `yaml:"delay"`
	Filter     string `yaml:"filter"`
	Interface  string `yaml:"interface"`
	Sudo       bool   `yaml:"sudo"`
	// Recorder is "tshark" or "docker".
	Recorder string `yaml:"recorder"`

	Docker  DockerConfig          `yaml:"docker"`
	Browser BrowserConfig         `yaml:"browser"`
	Googler GooglerConfig         `yaml:"googler"`
	Tools   map[string]ToolConfig `yaml:"tools"`
}

// DockerConfig configures the containerised recorder.
type DockerConfig struct {
	Host      string `yaml:"host"`
	Image     string `yaml:"image"`
	Interface string `yaml:"interface"`
	// Network, when set, makes the recorder join the namespace of that docker network.
	Network string `yaml:"network"`
	Driver  string `yaml:"driver"`
}

// BrowserConfig configures the go-rod driven browser generator.
type BrowserConfig struct {
	Bin      string `yaml:"bin"`
	Headless bool   `yaml:"headless"`
	// ControlURL is the DevTools websocket of a running browser; empty launches one.
	ControlURL string `yaml:"control_url"`
	Timeout    string `yaml:"timeout"`
	Dwell      string `yaml:"dwell"`
}

// GooglerConfig configures the random URL search.
type GooglerConfig struct {
	Bin        string `yaml:"bin"`
	Iterations int    `yaml:"iterations"`
	Size       int    `yaml:"size"`
}

// ToolConfig describes a traffic generator.
type ToolConfig struct {
	// Kind is "command" or "browser".
	Kind string `yaml:"kind"`
	// App is the default application name, including its version.
	App string `yaml:"app"`
	// Command is the argv template; {url}, {variant} and {workdir} are substituted.
	Command []string `yaml:"command"`
	// Duration, when set, bounds each run; the generator is killed afterwards.
	Duration string `yaml:"duration"`
	// Warmup waits for the capture delay before the first URL.
	Warmup   bool     `yaml:"warmup"`
	Variants []string `yaml:"variants"`
	Kill     []string `yaml:"kill"`
	Cleanup  []string `yaml:"cleanup"`
	// Search makes the tool use googler URLs when none are given.
	Search bool `yaml:"search"`
}

// OptimizeConfig configures the hyper-parameter search.
type OptimizeConfig struct {
	Folder   string `yaml:"folder"`
	Timeout  string `yaml:"timeout"`
	Window   int    `yaml:"window"`
	MaxEvals int    `yaml:"max_evals"`
	Jobs     int    `yaml:"jobs"`
	Seed     int64  `yaml:"seed"`
}

// ReportConfig configures the LaTeX report.
type ReportConfig struct {
	Output string `yaml:"output"`
	Plots  bool   `yaml:"plots"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, errors.Wrap(err, "failed to read config")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FLOWLAB_TSTAT"); v != "" {
		c.Tstat = v
	}
	if v := os.Getenv("FLOWLAB_TSHARK"); v != "" {
		c.Tshark = v
	}
	if v := os.Getenv("DOCKER_HOST"); v != "" {
		c.Capture.Docker.Host = v
	}
	if v := os.Getenv("FLOWLAB_BROWSER_URL"); v != "" {
		c.Capture.Browser.ControlURL = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	d := c.Dataset
	if d.DevRatio < 0 || d.TestRatio < 0 || d.DevRatio+d.TestRatio >= 100 {
		return errors.Errorf("invalid split ratios: dev %.2f%%, test %.2f%%", d.DevRatio, d.TestRatio)
	}
	if d.Splitter != "native" && d.Splitter != "tshark" {
		return errors.Errorf("invalid splitter: %q (valid: native, tshark)", d.Splitter)
	}
	if c.Capture.Recorder != "tshark" && c.Capture.Recorder != "docker" {
		return errors.Errorf("invalid recorder: %q (valid: tshark, docker)", c.Capture.Recorder)
	}
	for name, tool := range c.Capture.Tools {
		switch tool.Kind {
		case "browser":
		case "command", "":
			if len(tool.Command) == 0 {
				return errors.Errorf("tool %s has no command", name)
			}
		default:
			return errors.Errorf("tool %s has invalid kind %q", name, tool.Kind)
		}
		if tool.App == "" {
			return errors.Errorf("tool %s has no app name", name)
		}
	}
	if c.Optimize.MaxEvals <= 0 {
		return errors.New("optimize.max_evals must be positive")
	}
	return nil
}

// GetDelay returns the capture delay.
func (c *Config) GetDelay() time.Duration {
	return parseDuration(c.Capture.Delay, 5*time.Second)
}

// GetOptimizeTimeout returns the optimisation timeout.
func (c *Config) GetOptimizeTimeout() time.Duration {
	return parseDuration(c.Optimize.Timeout, 24*time.Hour)
}

// GetBrowserTimeout returns the page load timeout of the browser generator.
func (c *Config) GetBrowserTimeout() time.Duration {
	return parseDuration(c.Capture.Browser.Timeout, 60*time.Second)
}

// GetBrowserDwell returns how long a loaded page is kept open.
func (c *Config) GetBrowserDwell() time.Duration {
	return parseDuration(c.Capture.Browser.Dwell, 5*time.Second)
}

// GetDuration returns the per-URL run bound of a tool, zero when it runs to completion.
func (t ToolConfig) GetDuration() time.Duration {
	return parseDuration(t.Duration, 0)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
