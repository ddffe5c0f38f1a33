package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/pkg/timeutil"
)

// tripLayout prints the weekday and date ahead of the 24h time.
const tripLayout = "Mon Jan 2 " + timeutil.FormatTime

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run one refresh and print each student's next pickup and drop-off",
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

			if err := a.coord.Refresh(cmd.Context()); err != nil {
				return fmt.Errorf("refresh schedule: %w", err)
			}

			views := a.coord.State().OrderedViews()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			return renderViews(cmd.OutOrStdout(), views, cfg.App.Location, time.Now())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the resolved views as JSON")
	return cmd
}

func renderViews(w io.Writer, views []schedule.StudentView, loc *time.Location, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STUDENT\tSCHOOL\tNEXT PICKUP\tNEXT DROP-OFF\tBUS")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			v.Student.DisplayName,
			dash(v.Student.SchoolName),
			formatTrip(v.NextPickup, loc, now),
			formatTrip(v.NextDropoff, loc, now),
			dash(v.BusNumber()),
		)
	}
	return tw.Flush()
}

func formatTrip(t *schedule.Trip, loc *time.Location, now time.Time) string {
	if t == nil {
		return "-"
	}
	s := timeutil.In(t.ScheduledAt, loc).Format(tripLayout)
	if t.StopName != "" {
		s += " @ " + t.StopName
	}
	return s + " (" + timeutil.FormatRelative(t.ScheduledAt, now) + ")"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
