package main

import (
	"github.com/spf13/cobra"

	"github.com/VahidMostofi/flowlab/internal/report"
)

var reportGen report.Generator

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate the LaTeX report of the data set and of the models",
	Long: `Writes data_set_<target>.tex with the feature means of every label column and, for every
model, data_<target>_<family>.tex with its optimisation plot, hyper-parameters,
statistics, KTS confusion matrix, packets plot and unknown tools classification.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	f := reportCmd.Flags()
	f.StringVar(&reportGen.Output, "output", "", "Folder of the LaTeX files")
	f.StringVar(&reportGen.DataSet, "data_set", "datasets/dataset.csv.gz", "Full data set")
	f.StringVar(&reportGen.Training, "training_set", "datasets/training.csv.gz", "Training set")
	f.StringVar(&reportGen.Dev, "dev_set", "datasets/dev.csv.gz", "Dev set")
	f.StringVar(&reportGen.Known, "known_set", "datasets/known.csv.gz", "Known tools test set")
	f.StringVar(&reportGen.Unknown, "unknown_set", "datasets/unknown.csv.gz", "Unknown tools test set")
	f.StringVar(&reportGen.Folder, "folder", "", "Model folder")
	f.BoolVar(&reportGen.Plots, "plots", false, "Also render PNG plots")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	g := reportGen
	g.Output = orDefault(g.Output, cfg.Report.Output)
	g.Folder = orDefault(g.Folder, cfg.Optimize.Folder)
	g.Plots = g.Plots || cfg.Report.Plots
	g.ShortName = labelTable().ShortName
	g.Logger = logger
	return g.Run(ctx)
}
