package main

import (
	"encoding/json"
	"net/http"

	"github.com/spf13/cobra"
)

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's status as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var v json.RawMessage
			if err := newClient(g).do(cmd.Context(), http.MethodGet, "/api/status", nil, &v); err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
