package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the configured credentials with a fresh login",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := setupLogger(cfg)

			a, err := wireApp(cmd.Context(), cfg, log, wireOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.sessions.CheckConnection(cmd.Context()); err != nil {
				return fmt.Errorf("connection check failed (%s): %w", shared.KindOf(err), err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: logged in to %s as %s\n",
				cfg.Stopfinder.BaseURL, a.client.Credentials().Fingerprint())
			return err
		},
	}
}
