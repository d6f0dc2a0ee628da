// Package capture records labelled traffic: a Recorder writes a pcap while a Generator
// visits a list of URLs.
package capture

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Recorder records the traffic of a session into a capture file.
type Recorder interface {
	Start(ctx context.Context, pcap string) error
	Stop(ctx context.Context) error
}

// DefaultGrace is how long Stop waits for a recorder to exit before killing it.
const DefaultGrace = 10 * time.Second

// Tshark records with a background tshark process.
type Tshark struct {
	Path      string
	Interface string
	Filter    string
	Sudo      bool
	Grace     time.Duration
	Logger    *zap.Logger

	cmd    *exec.Cmd
	stderr bytes.Buffer
	done   chan error
}

// Args returns the tshark command line for a capture file.
func (t *Tshark) Args(pcap string) []string {
	args := []string{t.Path, "-Q", "-F", "libpcap"}
	if t.Interface != "" {
		args = append(args, "-i", t.Interface)
	}
	args = append(args, "-w", pcap)
	if t.Filter != "" {
		args = append(args, t.Filter)
	}
	if t.Sudo {
		args = append([]string{"sudo"}, args...)
	}
	return args
}

// Start implements Recorder.
func (t *Tshark) Start(ctx context.Context, pcap string) error {
	if t.cmd != nil {
		return errors.New("tshark already recording")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	args := t.Args(pcap)
	t.stderr.Reset()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stderr = &t.stderr
	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start tshark")
	}
	t.cmd = cmd
	t.done = make(chan error, 1)
	go func() {
		t.done <- cmd.Wait()
	}()
	t.logger().Info("recording", zap.String("pcap", pcap), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// Stop interrupts tshark and waits for it to flush the capture. It is killed when it does
// not exit within the grace period or when ctx is done.
func (t *Tshark) Stop(ctx context.Context) error {
	if t.cmd == nil {
		return errors.New("tshark is not recording")
	}
	cmd, done := t.cmd, t.done
	t.cmd = nil

	select {
	case err := <-done:
		return t.exitedEarly(err)
	default:
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return t.exitedEarly(<-done)
		}
		t.logger().Warn("failed to interrupt tshark", zap.Error(err))
	}
	grace := t.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.logger().Debug("tshark exit", zap.Error(err))
		}
		return nil
	case <-timer.C:
		t.logger().Warn("tshark did not stop, killing it")
	case <-ctx.Done():
	}
	if err := cmd.Process.Kill(); err != nil {
		t.logger().Warn("failed to kill tshark", zap.Error(err))
	}
	<-done
	return ctx.Err()
}

// exitedEarly reports a tshark that stopped before it was interrupted. The capture ended
// before the session did, so a clean exit is only a warning.
func (t *Tshark) exitedEarly(err error) error {
	stderr := strings.TrimSpace(t.stderr.String())
	if err != nil {
		return errors.Errorf("tshark exited early (%v): %s", err, stderr)
	}
	t.logger().Warn("tshark exited before it was interrupted", zap.String("stderr", stderr))
	return nil
}

func (t *Tshark) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}
