package main

import (
	"fmt"

	"github.com/spf13/cobra"

	rainout "github.com/rustydaw/rainout"
	"github.com/rustydaw/rainout/devices"
)

func createDevicesCmd() *cobra.Command {
	var backendName string
	var withMidi bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List devices of the preferred or a named backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var opts devices.AudioBackendOptions
			var err error
			if backendName != "" {
				id, ok := devices.BackendFromString(backendName)
				if !ok {
					return fmt.Errorf("unknown backend %q", backendName)
				}
				opts, err = rainout.EnumerateAudioBackend(ctx, id)
			} else {
				opts, err = rainout.FindPreferredAudioBackend(ctx)
			}
			if err != nil {
				return err
			}

			fmt.Printf("backend: %s (%s)\n", opts.Backend, opts.Status)
			for _, d := range opts.Devices {
				printDevice(d)
			}

			if withMidi {
				return printMidiPorts(cmd)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", "", "Backend to enumerate (default: preferred)")
	cmd.Flags().BoolVar(&withMidi, "midi", false, "Also list MIDI ports")
	return cmd
}

func printDevice(d devices.AudioDeviceInfo) {
	marker := " "
	if d.IsDefault {
		marker = "*"
	}
	fmt.Printf("%s %s\n", marker, d.ID)
	fmt.Printf("    in: %v\n", d.InPorts)
	fmt.Printf("    out: %v\n", d.OutPorts)
	fmt.Printf("    rates: %v (default %d)\n", d.SampleRates, d.DefaultSampleRate)
	if d.BlockSizes != nil {
		pow2 := ""
		if d.BlockSizes.MustBePowerOfTwo {
			pow2 = ", power of two"
		}
		fmt.Printf("    block sizes: %d..%d (default %d%s)\n",
			d.BlockSizes.Min, d.BlockSizes.Max, d.BlockSizes.Default, pow2)
	} else {
		fmt.Println("    block sizes: not fixed")
	}
}

func printMidiPorts(cmd *cobra.Command) error {
	opts, err := rainout.FindPreferredMidiBackend(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("\nmidi backend: %s (%s)\n", opts.Backend, opts.Status)
	for i, p := range opts.InPorts {
		marker := " "
		if i == opts.DefaultIn {
			marker = "*"
		}
		fmt.Printf("%s in  %s port %d (%s)\n", marker, p.ID, p.PortIndex, p.ControlScheme)
	}
	for i, p := range opts.OutPorts {
		marker := " "
		if i == opts.DefaultOut {
			marker = "*"
		}
		fmt.Printf("%s out %s port %d (%s)\n", marker, p.ID, p.PortIndex, p.ControlScheme)
	}
	return nil
}
