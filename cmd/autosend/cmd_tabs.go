package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"autosend/internal/automation"
	"autosend/internal/coordinator"
)

func newTabsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "List and control automation on browser tabs",
	}
	cmd.AddCommand(newTabsListCmd(g), newTabsStartCmd(g), newTabsStopCmd(g), newTabsPauseCmd(g), newTabsShowCmd(g))
	return cmd
}

func newTabsListCmd(g *globalFlags) *cobra.Command {
	var probe bool
	c := &cobra.Command{
		Use:   "list",
		Short: "List tracked tabs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/tabs"
			if probe {
				path += "?probe=1"
			}
			var tabs []coordinator.TabState
			if err := newClient(g).do(cmd.Context(), http.MethodGet, path, nil, &tabs); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TAB\tRUNNING\tLAST ACTIVITY\tTITLE\tURL")
			for _, t := range tabs {
				fmt.Fprintf(tw, "%d\t%v\t%s\t%s\t%s\n", t.TabID, t.IsRunning, t.LastActivity.Local().Format(time.DateTime), t.Title, t.URL)
			}
			return tw.Flush()
		},
	}
	c.Flags().BoolVar(&probe, "probe", false, "ask each tab for its live state first")
	return c
}

func newTabsShowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <tab-id>",
		Short: "Show the runner status of one tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTabID(args[0])
			if err != nil {
				return err
			}
			var st automation.Status
			if err := newClient(g).do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/tabs/%d", id), nil, &st); err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func newTabsStartCmd(g *globalFlags) *cobra.Command {
	var (
		profile    string
		configFile string
	)
	c := &cobra.Command{
		Use:   "start <tab-id>",
		Short: "Start sending on a tab with a named profile or a JSON config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTabID(args[0])
			if err != nil {
				return err
			}
			body := map[string]any{}
			switch {
			case configFile != "" && profile != "":
				return errors.New("use either --profile or --config-file")
			case configFile != "":
				raw, err := os.ReadFile(configFile)
				if err != nil {
					return err
				}
				var cfg automation.Config
				if err := json.Unmarshal(raw, &cfg); err != nil {
					return fmt.Errorf("%s: %w", configFile, err)
				}
				body["config"] = cfg
			case profile != "":
				body["profile"] = profile
			default:
				return errors.New("--profile or --config-file is required")
			}
			if err := newClient(g).do(cmd.Context(), http.MethodPost, fmt.Sprintf("/api/tabs/%d/start", id), body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tab %d started\n", id)
			return nil
		},
	}
	c.Flags().StringVarP(&profile, "profile", "p", "", "profile name from the daemon config")
	c.Flags().StringVar(&configFile, "config-file", "", "JSON automation config")
	return c
}

func newTabsStopCmd(g *globalFlags) *cobra.Command {
	var clearHistory bool
	c := &cobra.Command{
		Use:   "stop <tab-id>",
		Short: "Stop sending on a tab",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTabID(args[0])
			if err != nil {
				return err
			}
			body := map[string]bool{"clear_history": clearHistory}
			if err := newClient(g).do(cmd.Context(), http.MethodPost, fmt.Sprintf("/api/tabs/%d/stop", id), body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tab %d stopped\n", id)
			return nil
		},
	}
	c.Flags().BoolVar(&clearHistory, "clear", false, "also forget the selection history and sequential position")
	return c
}

func newTabsPauseCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <tab-id>",
		Short: "Pause sending on a tab, keeping its counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTabID(args[0])
			if err != nil {
				return err
			}
			if err := newClient(g).do(cmd.Context(), http.MethodPost, fmt.Sprintf("/api/tabs/%d/pause", id), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tab %d paused\n", id)
			return nil
		},
	}
}

func parseTabID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("bad tab id %q", s)
	}
	return id, nil
}
