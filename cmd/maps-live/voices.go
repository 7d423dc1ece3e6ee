package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-maps-live/pkg/live"
)

func newVoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the prebuilt voices of the live model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, v := range live.AvailableVoices {
				if v == live.DefaultVoice {
					fmt.Fprintf(w, "%s (default)\n", v)
					continue
				}
				fmt.Fprintln(w, v)
			}
			return nil
		},
	}
}
