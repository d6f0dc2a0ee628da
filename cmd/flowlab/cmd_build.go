package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/VahidMostofi/flowlab/internal/dataset"
	"github.com/VahidMostofi/flowlab/internal/pcapsplit"
	"github.com/VahidMostofi/flowlab/internal/tstat"
)

var buildCmd = &cobra.Command{
	Use:   "build <pcap> <dataset>",
	Short: "Turn a folder of labelled captures into the flow data sets",
	Long: `Runs tstat on every capture of <pcap> and on its time-threshold splits, labels the
flows from the capture names and writes to <dataset>:

  dataset.csv.gz   every flow
  training.csv.gz  known tools, training split
  dev.csv.gz       known tools, dev split
  known.csv.gz     known tools test set (KTS)
  unknown.csv.gz   unknown tools test set (UTS)`,
	Args: cobra.ExactArgs(2),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().String("tstat", "", "Path of the tstat binary")
	buildCmd.Flags().Float64("dev_ratio", 0, "Percentage of the known flows in the dev set")
	buildCmd.Flags().Float64("test_ratio", 0, "Percentage of the known flows in the known tools test set")
	buildCmd.Flags().Int64("seed", 0, "Shuffle seed")
	buildCmd.Flags().Int("workers", 0, "Captures analysed concurrently")
	buildCmd.Flags().String("splitter", "", "Capture splitter: native or tshark")
	buildCmd.Flags().Bool("no-splits", false, "Skip the time-threshold split captures")
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	flags := cmd.Flags()
	d := cfg.Dataset
	tstatPath := cfg.Tstat
	if flags.Changed("tstat") {
		tstatPath, _ = flags.GetString("tstat")
	}
	if flags.Changed("dev_ratio") {
		d.DevRatio, _ = flags.GetFloat64("dev_ratio")
	}
	if flags.Changed("test_ratio") {
		d.TestRatio, _ = flags.GetFloat64("test_ratio")
	}
	if flags.Changed("seed") {
		d.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("workers") {
		d.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("splitter") {
		d.Splitter, _ = flags.GetString("splitter")
	}
	if noSplits, _ := flags.GetBool("no-splits"); noSplits {
		d.Splits = false
	}

	splitter, err := newSplitter(d.Splitter)
	if err != nil {
		return err
	}
	b := &dataset.Builder{
		Exporter:  &tstat.Runner{Path: tstatPath},
		Splitter:  splitter,
		Labels:    labelTable(),
		Logger:    logger,
		Workers:   d.Workers,
		DevRatio:  d.DevRatio,
		TestRatio: d.TestRatio,
		Seed:      d.Seed,
		Unknown:   d.Unknown,
		Splits:    d.Splits,
	}
	s, err := b.Build(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "flows: %d\ntraining: %d\ndev: %d\nknown: %d\nunknown: %d\n",
		s.Flows, s.Training, s.Dev, s.Known, s.Unknown)
	return nil
}

func newSplitter(kind string) (pcapsplit.Splitter, error) {
	switch kind {
	case "native":
		return pcapsplit.Native{}, nil
	case "tshark":
		return &pcapsplit.Tshark{Path: cfg.Tshark}, nil
	}
	return nil, errors.Errorf("invalid splitter: %q (valid: native, tshark)", kind)
}
