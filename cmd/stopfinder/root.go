package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busroute-hub/stopfinder-bridge/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "stopfinder",
		Short:         "School-bus schedule bridge for a Stopfinder account",
		Long:          "stopfinder logs in to a Stopfinder account, fetches the upcoming bus schedule and resolves the next pickup and drop-off for every student.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (default $STOPFINDER_CONFIG)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newScheduleCmd(opts),
		newMigrateCmd(opts),
		newVersionCmd(opts),
	)

	return rootCmd
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			version := config.Default().App.Version
			if cfg, err := opts.load(); err == nil {
				version = cfg.App.Version
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
