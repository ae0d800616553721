package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"autosend/internal/campaign"
)

func newSchedulesCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"sched"},
		Short:   "Manage campaign schedules",
	}
	cmd.AddCommand(
		newSchedListCmd(g),
		newSchedAddCmd(g),
		newSchedRmCmd(g),
		newSchedToggleCmd(g, "enable", true),
		newSchedToggleCmd(g, "disable", false),
		newSchedFireCmd(g),
	)
	return cmd
}

func schedPath(id string) string { return "/api/schedules/" + url.PathEscape(id) }

func newSchedListCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var all []campaign.Schedule
			if err := newClient(g).do(cmd.Context(), http.MethodGet, "/api/schedules", nil, &all); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPROFILE\tWINDOW\tINTERVAL\tACTIVE\tTABS")
			for _, s := range all {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s-%s\t%d-%ds\t%v\t%s\n",
					s.ID, s.Name, s.ProfileID, s.StartTime, s.EndTime, s.Interval.Min, s.Interval.Max, s.Active, tabList(s.TabIDs))
			}
			return tw.Flush()
		},
	}
}

func tabList(ids []int) string {
	if len(ids) == 0 {
		return "all"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func newSchedAddCmd(g *globalFlags) *cobra.Command {
	var (
		sc       campaign.Schedule
		tabs     []int
		inactive bool
	)
	c := &cobra.Command{
		Use:   "add",
		Short: "Create a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc.TabIDs = tabs
			sc.Active = !inactive
			var out campaign.Schedule
			if err := newClient(g).do(cmd.Context(), http.MethodPost, "/api/schedules", sc, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schedule %s created\n", out.ID)
			return nil
		},
	}
	f := c.Flags()
	f.StringVar(&sc.Name, "name", "", "display name")
	f.StringVarP(&sc.ProfileID, "profile", "p", "", "profile started on each tab")
	f.StringVar(&sc.StartTime, "start", "09:00", "window start (HH:MM)")
	f.StringVar(&sc.EndTime, "end", "17:00", "window end (HH:MM)")
	f.IntVar(&sc.Interval.Min, "interval-min", 1800, "minimum seconds between sends (also sets the wake-up period)")
	f.IntVar(&sc.Interval.Max, "interval-max", 1800, "maximum seconds between sends")
	f.IntSliceVar(&tabs, "tabs", nil, "tab ids (default all tracked tabs)")
	f.BoolVar(&inactive, "inactive", false, "create without arming the alarm")
	_ = c.MarkFlagRequired("profile")
	return c
}

func newSchedRmCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a schedule",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(g).do(cmd.Context(), http.MethodDelete, schedPath(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schedule %s deleted\n", args[0])
			return nil
		},
	}
}

func newSchedToggleCmd(g *globalFlags, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := newClient(g)
			var sc campaign.Schedule
			if err := cl.do(cmd.Context(), http.MethodGet, schedPath(args[0]), nil, &sc); err != nil {
				return err
			}
			sc.Active = active
			if err := cl.do(cmd.Context(), http.MethodPut, schedPath(args[0]), sc, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schedule %s %sd\n", args[0], verb)
			return nil
		},
	}
}

func newSchedFireCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fire <id>",
		Short: "Run a schedule now, as if its alarm went off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res campaign.FireResult
			if err := newClient(g).do(cmd.Context(), http.MethodPost, schedPath(args[0])+"/fire", nil, &res); err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}
