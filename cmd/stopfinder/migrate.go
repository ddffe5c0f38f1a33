package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/persistence/postgres"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var (
		rollback bool
		status   bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply run history migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := setupLogger(cfg)

			if !cfg.Database.Enabled() {
				return errors.New("database url is not configured")
			}

			conn, err := postgres.NewConnection(cmd.Context(), databaseConfig(cfg.Database))
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer conn.Close()

			migrator := postgres.NewMigrator(conn)
			out := cmd.OutOrStdout()

			switch {
			case status:
				migrations, err := migrator.Status(cmd.Context())
				if err != nil {
					return err
				}
				for _, m := range migrations {
					state := "pending"
					if m.IsApplied {
						state = "applied " + m.AppliedAt.Format("2006-01-02 15:04")
					}
					fmt.Fprintf(out, "%3d  %-28s %s\n", m.Version, m.Name, state)
				}
				return nil

			case rollback:
				if err := migrator.Rollback(cmd.Context()); err != nil {
					return err
				}
				log.Info("rolled back last migration")
				return nil

			default:
				applied, err := migrator.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "applied %d migration(s)\n", applied)
				return err
			}
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the most recent migration")
	cmd.Flags().BoolVar(&status, "status", false, "list migrations and whether they are applied")
	cmd.MarkFlagsMutuallyExclusive("rollback", "status")
	return cmd
}
