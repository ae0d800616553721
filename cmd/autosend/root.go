package main

import (
	"os"

	"github.com/spf13/cobra"
)

type globalFlags struct {
	config string
	api    string
	token  string
}

// newRootCmd creates the root command with all subcommands attached.
func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "autosend",
		Short:         "Scheduled message sending for browser chat tabs",
		Long:          "autosend drives chat pages in Chrome: each tab sends messages on a\nrandomized interval within active hours and a daily limit, and campaigns\nstart or stop groups of tabs on a time window.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.config, "config", "c", envOr("AUTOSEND_CONFIG", "./config.yaml"), "path to config file (yaml or json)")
	cmd.PersistentFlags().StringVar(&g.api, "api", envOr("AUTOSEND_API", "http://127.0.0.1:8787"), "control API base URL")
	cmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("AUTOSEND_TOKEN"), "control API bearer token")

	cmd.AddCommand(
		newRunCmd(g),
		newConfigCmd(g),
		newStatusCmd(g),
		newTabsCmd(g),
		newSchedulesCmd(g),
		newServiceCmd(),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
