// Package pcapsplit truncates captures to the first seconds of every TCP stream, producing
// the "early flow" variants of a data set.
package pcapsplit

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Splitter writes the packets of src whose time relative to the start of their TCP stream
// is at most threshold seconds into dst.
type Splitter interface {
	Split(ctx context.Context, src, dst string, threshold float64) error
}

// Thresholds returns the split thresholds in seconds, ascending: ten steps per decade from
// 1ms to 1000s plus the first millisecond in 0.1ms steps.
func Thresholds() []float64 {
	var values []float64
	values = append(values, linspace(0, 0.001, 11)...)
	for _, lo := range []float64{0.001, 0.01, 0.1, 1, 10, 100} {
		values = append(values, linspace(lo, lo*10, 10)...)
	}

	seen := make(map[string]bool)
	var thresholds []float64
	for _, v := range values {
		key := FormatThreshold(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		thresholds = append(thresholds, v)
	}
	sort.Float64s(thresholds)
	return thresholds
}

// FormatThreshold renders a threshold the way split folders are suffixed.
func FormatThreshold(t float64) string {
	return fmt.Sprintf("%f", t)
}

func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[n-1] = stop
	return out
}

// Tshark splits captures with a tshark display filter.
type Tshark struct {
	Path string
}

// Split implements Splitter.
func (t *Tshark) Split(ctx context.Context, src, dst string, threshold float64) error {
	filter := fmt.Sprintf("tcp.time_relative <= %f", threshold)
	out, err := exec.CommandContext(ctx, t.Path, "-r", src, "-w", dst, "-Y", filter).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "tshark %s: %s", src, strings.TrimSpace(string(out)))
	}
	return nil
}

// Captures lists the capture files of a folder, sorted by name.
func Captures(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", folder)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".pcap") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// SplitFolder splits every capture of folder into the sibling folder <folder>-<threshold>
// and returns its path.
func SplitFolder(ctx context.Context, s Splitter, folder string, threshold float64, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	folder = filepath.Clean(folder)
	dst := folder + "-" + FormatThreshold(threshold)
	if err := os.MkdirAll(dst, 0755); err != nil {
		return "", errors.Wrap(err, "create split folder")
	}

	names, err := Captures(folder)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := s.Split(ctx, filepath.Join(folder, name), filepath.Join(dst, name), threshold); err != nil {
			return "", err
		}
		logger.Debug("split capture", zap.String("pcap", name), zap.Float64("threshold", threshold))
	}
	return dst, nil
}
