package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configCmd = &cobra.Command{
	Use:   "config <path>",
	Short: "Write the effective configuration to a YAML file",
	Long: `Writes the configuration flowlab runs with (defaults, then --config, then environment
overrides) to <path>, ready to be edited and passed back with --config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Save(args[0]); err != nil {
			return err
		}
		logger.Info("configuration written", zap.String("path", args[0]))
		return nil
	},
}
