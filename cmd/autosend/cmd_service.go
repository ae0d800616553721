package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"autosend/pkg/systemd"
)

const defaultUnit = "autosend"

func newServiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Query or restart the systemd unit",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status [unit]",
			Short: "Show the unit state",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				st, err := systemd.Status(ctx, unitArg(args))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s (%s), load=%s\n", st.Name, st.Active, st.SubState, st.LoadState)
				if !st.Since.IsZero() {
					fmt.Fprintf(out, "since %s\n", st.Since.Local().Format(time.DateTime))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "restart [unit]",
			Short: "Restart the unit and wait for the job to finish",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
				defer cancel()
				unit := unitArg(args)
				if err := systemd.Restart(ctx, unit); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s restarted\n", unit)
				return nil
			},
		},
	)
	return cmd
}

func unitArg(args []string) string {
	if len(args) == 1 && args[0] != "" {
		return args[0]
	}
	return defaultUnit
}
