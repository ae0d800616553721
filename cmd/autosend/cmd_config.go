package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"autosend/internal/config"
)

func newConfigCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Parse and validate the config without starting anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := config.NewManager(g.config).Load()
			if err != nil {
				return fmt.Errorf("%s: %w", g.config, err)
			}
			out := cmd.OutOrStdout()
			driver := s.Storage.Driver
			if driver == "" {
				driver = "memory"
			}
			fmt.Fprintf(out, "config ok: %s\n", g.config)
			fmt.Fprintf(out, "storage:   %s\n", driver)
			fmt.Fprintf(out, "timezone:  %s\n", s.Location)
			fmt.Fprintf(out, "browser:   %s\n", browserMode(s.Browser.RemoteURL))
			fmt.Fprintf(out, "http:      %v\n", s.HTTP.Enabled)
			fmt.Fprintf(out, "telegram:  %v\n", s.TelegramSet)
			ids := make([]string, 0, len(s.Profiles))
			for id := range s.Profiles {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			fmt.Fprintf(out, "profiles:  %d %v\n", len(ids), ids)
			return nil
		},
	})
	return cmd
}

func browserMode(remote string) string {
	if remote == "" {
		return "launch local chrome"
	}
	return "remote " + remote
}
