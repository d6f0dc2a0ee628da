package dataset

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VahidMostofi/flowlab/internal/labels"
	"github.com/VahidMostofi/flowlab/internal/pcapsplit"
	"github.com/VahidMostofi/flowlab/internal/tstat"
)

// Exporter turns a capture into tstat TCP logs.
type Exporter interface {
	Run(ctx context.Context, pcap, outDir string) (tstat.Logs, error)
}

// Builder builds the data sets out of a folder of captures.
type Builder struct {
	Exporter Exporter
	Splitter pcapsplit.Splitter
	Labels   *labels.Table
	Logger   *zap.Logger

	Workers   int
	DevRatio  float64
	TestRatio float64
	Seed      int64
	Unknown   []string
	// Splits enables the per-threshold split captures.
	Splits bool
}

// Summary reports the number of flows of each produced set.
type Summary struct {
	Flows    int
	Training int
	Dev      int
	Known    int
	Unknown  int
}

func (b *Builder) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

// CaptureSetName returns the name of the per-capture CSV for a suffix.
func CaptureSetName(suffix string) string {
	return fmt.Sprintf("dataset-%s.csv", suffix)
}

// Build runs the whole assembly: labelling of the full captures and of every split,
// merging, and the split into training, dev, known and unknown tools sets.
func (b *Builder) Build(ctx context.Context, pcapDir, datasetDir string) (Summary, error) {
	log := b.logger()
	if err := os.MkdirAll(datasetDir, 0755); err != nil {
		return Summary{}, errors.Wrap(err, "create data set folder")
	}
	if err := removeCaptureSets(datasetDir); err != nil {
		return Summary{}, err
	}

	log.Info("analyzing the pcap files", zap.String("folder", pcapDir))
	if _, err := b.WriteCaptureSet(ctx, pcapDir, datasetDir, "all"); err != nil {
		return Summary{}, err
	}

	if b.Splits {
		for _, th := range pcapsplit.Thresholds() {
			dir, err := pcapsplit.SplitFolder(ctx, b.Splitter, pcapDir, th, log)
			if err != nil {
				return Summary{}, errors.Wrapf(err, "split %s at %s", pcapDir, pcapsplit.FormatThreshold(th))
			}
			_, err = b.WriteCaptureSet(ctx, dir, datasetDir, pcapsplit.FormatThreshold(th))
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				log.Warn("failed to remove split folder", zap.String("folder", dir), zap.Error(rmErr))
			}
			if err != nil {
				return Summary{}, err
			}
		}
	}

	log.Info("processing the statistics")
	merged, err := Merge(datasetDir)
	if err != nil {
		return Summary{}, err
	}
	merged = merged.Drop(Dropped)
	if merged.Err != nil {
		return Summary{}, errors.Wrap(merged.Err, "drop endpoint columns")
	}
	if err := WriteFrame(filepath.Join(datasetDir, FullFile), merged); err != nil {
		return Summary{}, err
	}

	known, unknown, err := Partition(merged, b.Unknown)
	if err != nil {
		return Summary{}, err
	}
	training, dev, test, err := Split(known, b.DevRatio, b.TestRatio, b.Seed)
	if err != nil {
		return Summary{}, err
	}

	outputs := []struct {
		name  string
		frame dataframe.DataFrame
	}{
		{TrainingFile, training},
		{DevFile, dev},
		{KnownFile, test},
		{UnknownFile, unknown},
	}
	for _, o := range outputs {
		if err := WriteFrame(filepath.Join(datasetDir, o.name), o.frame); err != nil {
			return Summary{}, err
		}
	}

	s := Summary{
		Flows:    merged.Nrow(),
		Training: training.Nrow(),
		Dev:      dev.Nrow(),
		Known:    test.Nrow(),
		Unknown:  unknown.Nrow(),
	}
	log.Info("data sets written",
		zap.Int("flows", s.Flows), zap.Int("training", s.Training), zap.Int("dev", s.Dev),
		zap.Int("known", s.Known), zap.Int("unknown", s.Unknown))
	return s, nil
}

// WriteCaptureSet labels every flow of the captures in source and writes them to
// <output>/dataset-<suffix>.csv. It returns the number of flows written; no file is written
// when there are none.
func (b *Builder) WriteCaptureSet(ctx context.Context, source, output, suffix string) (int, error) {
	log := b.logger()
	names, err := pcapsplit.Captures(source)
	if err != nil {
		return 0, err
	}

	workers := b.Workers
	if workers <= 0 {
		workers = 1
	}
	results := make([][][]string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			rows, err := b.captureRows(gctx, filepath.Join(source, name))
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, rows := range results {
		total += len(rows)
	}
	if total == 0 {
		log.Warn("no flows in captures", zap.String("folder", source))
		return 0, nil
	}

	path := filepath.Join(output, CaptureSetName(suffix))
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrap(err, "create capture set")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintln(w, strings.Join(Columns, " "))
	for _, rows := range results {
		for _, row := range rows {
			fmt.Fprintln(w, strings.Join(row, " "))
		}
	}
	if err := w.Flush(); err != nil {
		return 0, errors.Wrapf(err, "write %s", path)
	}
	log.Info("capture set written", zap.String("file", path), zap.Int("flows", total))
	return total, errors.Wrapf(f.Close(), "close %s", path)
}

// captureRows runs tstat on a capture and returns its labelled flows.
func (b *Builder) captureRows(ctx context.Context, pcap string) ([][]string, error) {
	log := b.logger().With(zap.String("pcap", pcap))
	label, err := b.Labels.Parse(pcap)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "flowlab-tstat-*")
	if err != nil {
		return nil, errors.Wrap(err, "create tstat folder")
	}
	defer os.RemoveAll(tmp)

	logs, err := b.Exporter.Run(ctx, pcap, filepath.Join(tmp, filepath.Base(pcap)))
	if err == tstat.ErrNoOutput {
		log.Warn("tstat produced no output, skipping capture")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rows [][]string
	short := 0
	for _, l := range []struct {
		path     string
		complete string
	}{
		{logs.Complete, "true"},
		{logs.NoComplete, "false"},
	} {
		err := tstat.ReadLog(l.path, func(fields []string) error {
			if len(fields) < len(tstat.Fields) {
				short++
				return nil
			}
			row := make([]string, 0, len(Columns))
			row = append(row, fields[:len(tstat.Fields)]...)
			row = append(row, l.complete)
			rows = append(rows, append(row, label.Values()...))
			return nil
		})
		if err != nil && !os.IsNotExist(errors.Cause(err)) {
			return nil, err
		}
	}
	if short > 0 {
		log.Warn("dropped short tstat rows", zap.Int("rows", short))
	}
	log.Debug("capture labelled", zap.Int("flows", len(rows)), zap.String("category", label.Category))
	return rows, nil
}

func removeCaptureSets(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return errors.Wrap(err, "list capture sets")
	}
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return errors.Wrapf(err, "remove %s", f)
		}
	}
	return nil
}

// Merge concatenates and deletes the per-capture CSV files of dir.
func Merge(dir string) (dataframe.DataFrame, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return dataframe.DataFrame{}, errors.Wrap(err, "list capture sets")
	}
	if len(files) == 0 {
		return dataframe.DataFrame{}, errors.Errorf("no flows found in %s", dir)
	}
	sort.Strings(files)

	var merged dataframe.DataFrame
	for i, file := range files {
		df, err := readFrame(file, ' ')
		if err != nil {
			return dataframe.DataFrame{}, err
		}
		if i == 0 {
			merged = df
		} else {
			merged = merged.RBind(df)
			if merged.Err != nil {
				return dataframe.DataFrame{}, errors.Wrapf(merged.Err, "merge %s", file)
			}
		}
		if err := os.Remove(file); err != nil {
			return dataframe.DataFrame{}, errors.Wrapf(err, "remove %s", file)
		}
	}
	return merged, nil
}

// IsUnknown reports whether an application instance belongs to the unknown tools set.
// Captures of a tool mode (slowhttptest-1.6-H) follow their instance.
func IsUnknown(app string, unknown []string) bool {
	for _, u := range unknown {
		if app == u || strings.HasPrefix(app, u+"-") {
			return true
		}
	}
	return false
}

// Partition separates the flows of the unknown tools from the others.
func Partition(df dataframe.DataFrame, unknown []string) (known, held dataframe.DataFrame, err error) {
	apps, err := column(df, "application_long")
	if err != nil {
		return known, held, err
	}
	var knownIdx, heldIdx []int
	for i, app := range apps {
		if IsUnknown(app, unknown) {
			heldIdx = append(heldIdx, i)
		} else {
			knownIdx = append(knownIdx, i)
		}
	}
	return subset(df, knownIdx), subset(df, heldIdx), nil
}

// Split shuffles the flows with a fixed seed and slices them into training, dev and test
// sets; the ratios are percentages.
func Split(df dataframe.DataFrame, devRatio, testRatio float64, seed int64) (training, dev, test dataframe.DataFrame, err error) {
	if devRatio < 0 || testRatio < 0 || devRatio+testRatio >= 100 {
		return training, dev, test, errors.Errorf("invalid split ratios %v/%v", devRatio, testRatio)
	}
	n := df.Nrow()
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	first := int((1 - devRatio/100 - testRatio/100) * float64(n))
	second := int((1 - devRatio/100) * float64(n))

	return subset(df, perm[:first]), subset(df, perm[first:second]), subset(df, perm[second:]), nil
}
