// Package report renders the LaTeX tables and pgfplots figures describing the data set and
// the trained classifiers.
package report

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VahidMostofi/flowlab/internal/dataset"
	"github.com/VahidMostofi/flowlab/internal/metrics"
	"github.com/VahidMostofi/flowlab/internal/ml"
)

// Generator writes the report of a data set and of the models trained on it.
type Generator struct {
	Output string
	// Data set files.
	DataSet  string
	Training string
	Dev      string
	Known    string
	Unknown  string
	// Folder holds the models.
	Folder string
	// Plots also renders PNG versions of the figures.
	Plots bool
	// ShortName abbreviates class names in confusion matrices; nil keeps them.
	ShortName func(string) string
	Logger    *zap.Logger
}

func (g *Generator) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// sets are the data sets a model is evaluated on.
type sets struct {
	training, dev, known, unknown *dataset.Set
}

// Run writes data_set_<target>.tex for every target and data_<tag>.tex for every model,
// plus data_<target>_ensemble.tex when a target has models.
func (g *Generator) Run(ctx context.Context) error {
	if err := os.MkdirAll(g.Output, 0755); err != nil {
		return errors.Wrap(err, "create output folder")
	}

	full, err := dataset.Load(g.DataSet)
	if err != nil {
		return err
	}
	for _, target := range dataset.Targets {
		err := g.write("data_set_"+target.Column+".tex", func(w io.Writer) error {
			return WriteDataSet(w, target.Column, target.Description, full, target.Column)
		})
		if err != nil {
			return err
		}
	}

	var s sets
	for _, l := range []struct {
		path string
		set  **dataset.Set
	}{
		{g.Training, &s.training},
		{g.Dev, &s.dev},
		{g.Known, &s.known},
		{g.Unknown, &s.unknown},
	} {
		if *l.set, err = dataset.Load(l.path); err != nil {
			return err
		}
	}

	for _, target := range dataset.Targets {
		paths, err := ml.Glob(g.Folder, target.Column)
		if err != nil {
			return err
		}
		var votes [][]string
		var known []string
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := ml.LoadModel(path)
			if err != nil {
				return err
			}
			y, yy, err := g.model(target, m, s)
			if err != nil {
				return errors.Wrapf(err, "report %s", path)
			}
			known = y
			votes = append(votes, yy)
		}
		if len(votes) == 0 {
			g.logger().Info("no models", zap.String("target", target.Column), zap.String("folder", g.Folder))
			continue
		}
		tag := target.Column + "_ensemble"
		err = g.write("data_"+tag+".tex", func(w io.Writer) error {
			description := fmt.Sprintf("%s ensemble of %d classifiers", target.Description, len(votes))
			return WriteEnsembleStatistics(w, tag, description, metrics.Summarize(known, Vote(votes)))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// classify returns the target and inferred classes of a set.
func classify(m *ml.Model, set *dataset.Set) (y, yy []string, err error) {
	x, err := set.Matrix(m.Features)
	if err != nil {
		return nil, nil, err
	}
	y, err = set.Column(m.Target)
	if err != nil {
		return nil, nil, err
	}
	yy, _ = m.Classify(x)
	return y, yy, nil
}

// model writes the report of one model and returns its KTS targets and predictions.
func (g *Generator) model(target dataset.Target, m *ml.Model, s sets) ([]string, []string, error) {
	description := fmt.Sprintf("%s classifier based on %s", target.Description, m.Name)
	tag := m.Tag()

	var summaries [4]metrics.Summary
	var knownY, knownYY, unknownYY []string
	for i, set := range []*dataset.Set{s.training, s.dev, s.known, s.unknown} {
		y, yy, err := classify(m, set)
		if err != nil {
			return nil, nil, err
		}
		summaries[i] = metrics.Summarize(y, yy)
		switch i {
		case 2:
			knownY, knownYY = y, yy
		case 3:
			unknownYY = yy
		}
	}
	packets, err := s.known.Packets()
	if err != nil {
		return nil, nil, err
	}
	tools, err := s.unknown.Column("application_long")
	if err != nil {
		return nil, nil, err
	}
	short := g.ShortName
	if short == nil {
		short = func(name string) string { return name }
	}
	curve := PacketsCurve(knownY, knownYY, packets)

	err = g.write("data_"+tag+".tex", func(w io.Writer) error {
		steps := []func() error{
			func() error { return WriteOptimization(w, tag, description, m) },
			func() error { return WriteHyperparameters(w, tag, description, m) },
			func() error {
				return WriteStatistics(w, tag, description, summaries[0], summaries[1], summaries[2], summaries[3])
			},
			func() error { return WriteConfusion(w, tag, description, knownY, knownYY, m.Classes, short) },
			func() error { return WritePackets(w, tag, description, curve) },
			func() error { return WriteUnknown(w, tag, description, tools, unknownYY) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if g.Plots {
		err := SavePlot(filepath.Join(g.Output, "optimization_"+tag+".png"), description,
			"time [hours]", "R_k", OptimizationCurve(m.Trials), -1, 1, orangeRed)
		if err != nil {
			return nil, nil, err
		}
		err = SavePlot(filepath.Join(g.Output, "packets_"+tag+".png"), description,
			"exchanged packets", "balanced accuracy [%]", curve, 0, 100, purple)
		if err != nil {
			return nil, nil, err
		}
	}
	return knownY, knownYY, nil
}

// write creates a file of the output folder and fills it with fn.
func (g *Generator) write(name string, fn func(w io.Writer) error) error {
	path := filepath.Join(g.Output, name)
	g.logger().Info("generating", zap.String("file", path))
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create report file")
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := fn(w); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// Vote returns the majority class of every sample over the predictions of several models;
// ties go to the class predicted by the earliest model.
func Vote(predictions [][]string) []string {
	if len(predictions) == 0 {
		return nil
	}
	out := make([]string, len(predictions[0]))
	for i := range out {
		counts := make(map[string]int)
		best := ""
		for _, p := range predictions {
			counts[p[i]]++
		}
		for _, p := range predictions {
			if best == "" || counts[p[i]] > counts[best] {
				best = p[i]
			}
		}
		out[i] = best
	}
	return out
}
