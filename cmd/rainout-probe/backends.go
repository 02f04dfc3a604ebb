package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	rainout "github.com/rustydaw/rainout"
	"github.com/rustydaw/rainout/backend"
)

func createBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List registered backends and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

			fmt.Fprintln(tw, "KIND\tBACKEND\tSTATUS\tDEVICES")
			for _, id := range rainout.AvailableAudioBackends() {
				opts, err := rainout.EnumerateAudioBackend(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "audio\t%s\t%s\t%d\n",
					opts.Backend, opts.Status, len(opts.Devices))
			}
			for _, id := range rainout.AvailableMidiBackends() {
				opts, err := rainout.EnumerateMidiBackend(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "midi\t%s\t%s\t%d in, %d out\n",
					opts.Backend, opts.Status, len(opts.InPorts), len(opts.OutPorts))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Printf("\npreference order: %v\n", backend.PreferenceOrder())
			return nil
		},
	}
}
