package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VahidMostofi/flowlab/internal/dataset"
	"github.com/VahidMostofi/flowlab/internal/ml"
)

var (
	optimizeTraining string
	optimizeDev      string
	optimizeFamilies []string
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize <output>",
	Short: "Search the hyper-parameters of every classifier family for a target column",
	Long: `Trains extra-trees, random forest and neural network classifiers on the training set,
searching their hyper-parameters with TPE to maximise the Matthews correlation on the dev
set. The best classifier of each family is saved as <folder>/<output>-<family>.model;
families whose model already exists are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runOptimize,
}

func init() {
	optimizeCmd.Flags().StringVar(&optimizeTraining, "training_set", "datasets/training.csv.gz", "Training set")
	optimizeCmd.Flags().StringVar(&optimizeDev, "dev_set", "datasets/dev.csv.gz", "Dev set")
	optimizeCmd.Flags().String("folder", "", "Model folder")
	optimizeCmd.Flags().Int("timeout", 0, "Search timeout in seconds, per family")
	optimizeCmd.Flags().Int("window", 0, "Trials without improvement before the search stops")
	optimizeCmd.Flags().Int("jobs", 0, "Cores used for training, -1 for all")
	optimizeCmd.Flags().Int("max_evals", 0, "Maximum trials per family")
	optimizeCmd.Flags().StringSliceVar(&optimizeFamilies, "family", nil, "Families to search (default: all)")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	flags := cmd.Flags()
	o := cfg.Optimize
	timeout := cfg.GetOptimizeTimeout()
	if flags.Changed("folder") {
		o.Folder, _ = flags.GetString("folder")
	}
	if flags.Changed("timeout") {
		seconds, _ := flags.GetInt("timeout")
		timeout = time.Duration(seconds) * time.Second
	}
	if flags.Changed("window") {
		o.Window, _ = flags.GetInt("window")
	}
	if flags.Changed("jobs") {
		o.Jobs, _ = flags.GetInt("jobs")
	}
	if flags.Changed("max_evals") {
		o.MaxEvals, _ = flags.GetInt("max_evals")
	}

	families := ml.Families
	if len(optimizeFamilies) > 0 {
		families = nil
		for _, name := range optimizeFamilies {
			f, err := ml.LookupFamily(name)
			if err != nil {
				return err
			}
			families = append(families, f)
		}
	}

	target := args[0]
	if _, ok := dataset.LookupTarget(target); !ok {
		logger.Warn("not a label column, training anyway", zap.String("output", target))
	}
	training, err := dataset.Load(optimizeTraining)
	if err != nil {
		return err
	}
	dev, err := dataset.Load(optimizeDev)
	if err != nil {
		return err
	}
	d, err := ml.Prepare(training, dev, target, dataset.Features)
	if err != nil {
		return errors.Wrap(err, "prepare data")
	}

	for _, f := range families {
		_, err := ml.Optimize(ctx, d, ml.Job{
			Family:   f,
			Folder:   o.Folder,
			Timeout:  timeout,
			Window:   o.Window,
			MaxEvals: o.MaxEvals,
			Jobs:     o.Jobs,
			Seed:     o.Seed,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
