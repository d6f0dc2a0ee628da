package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/VahidMostofi/flowlab/internal/dataset"
	"github.com/VahidMostofi/flowlab/internal/pcapsplit"
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Print the capture split thresholds and the data set file of each",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		for _, th := range pcapsplit.Thresholds() {
			s := pcapsplit.FormatThreshold(th)
			fmt.Fprintf(out, "%s\t%s\n", s, dataset.CaptureSetName(s))
		}
		return nil
	},
}
