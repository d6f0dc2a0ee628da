package capture

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Target is one visit of a generator.
type Target struct {
	URL string
	// Variant is the tool mode of the session, empty when the tool has none.
	Variant string
}

// Generator produces the traffic of a tool.
type Generator interface {
	Name() string
	Visit(ctx context.Context, t Target) error
}

// Command runs a tool once per URL.
type Command struct {
	Tool string
	// Argv is the command template; {url}, {variant} and {workdir} are substituted.
	Argv []string
	// Duration bounds a run; the tool is killed when it expires. Zero waits for the tool to
	// exit.
	Duration time.Duration
	// Kill lists process names killed after every run.
	Kill []string
	// Cleanup lists paths removed after every run.
	Cleanup []string
	WorkDir string
	Logger  *zap.Logger
}

// Name implements Generator.
func (c *Command) Name() string {
	return c.Tool
}

// Expand substitutes the placeholders of s.
func (c *Command) Expand(s string, t Target) string {
	r := strings.NewReplacer("{url}", t.URL, "{variant}", t.Variant, "{workdir}", c.workDir())
	return r.Replace(s)
}

func (c *Command) workDir() string {
	if c.WorkDir == "" {
		return "."
	}
	return c.WorkDir
}

// Visit implements Generator. A run cut short by Duration is not an error.
func (c *Command) Visit(ctx context.Context, t Target) error {
	if len(c.Argv) == 0 {
		return errors.Errorf("%s: empty command", c.Tool)
	}
	argv := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		argv[i] = c.Expand(a, t)
	}
	defer c.cleanup(t)

	runCtx := ctx
	if c.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Duration)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.WaitDelay = time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			c.logger().Debug("run stopped after duration", zap.String("url", t.URL), zap.Duration("duration", c.Duration))
			return nil
		}
		return errors.Wrapf(err, "%s %s: %s", c.Tool, t.URL, lastLine(out))
	}
	return nil
}

func (c *Command) cleanup(t Target) {
	for _, name := range c.Kill {
		if out, err := exec.Command("killall", name).CombinedOutput(); err != nil {
			c.logger().Debug("killall", zap.String("process", name), zap.String("output", lastLine(out)))
		}
	}
	for _, p := range c.Cleanup {
		if err := os.RemoveAll(c.Expand(p, t)); err != nil {
			c.logger().Warn("failed to remove", zap.String("path", p), zap.Error(err))
		}
	}
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return lines[len(lines)-1]
}

func (c *Command) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
