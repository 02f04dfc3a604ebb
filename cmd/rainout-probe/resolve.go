package main

import (
	"fmt"

	"github.com/spf13/cobra"

	rainout "github.com/rustydaw/rainout"
	"github.com/rustydaw/rainout/configfile"
	"github.com/rustydaw/rainout/devices"
)

func createResolveCmd() *cobra.Command {
	var configPath string
	var savePath string
	var backendName string
	var deviceName string
	var sampleRate uint32
	var blockSize uint32
	var stereoOut bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a session configuration without opening a stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, opts, err := loadSessionFile(configPath)
			if err != nil {
				return err
			}

			if backendName != "" {
				id, ok := devices.BackendFromString(backendName)
				if !ok {
					return fmt.Errorf("unknown backend %q", backendName)
				}
				cfg.Backend = rainout.Use(id)
			}
			if deviceName != "" {
				cfg.Device.Single = rainout.Use(devices.DeviceID{Name: deviceName})
			}
			if sampleRate != 0 {
				cfg.SampleRate = rainout.Use(sampleRate)
			}
			if blockSize != 0 {
				cfg.BlockSize = rainout.Use(blockSize)
			}
			opts.MustHaveStereoOutput = opts.MustHaveStereoOutput || stereoOut

			r, err := rainout.Resolve(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			printResolved(r)

			if savePath != "" {
				if err := configfile.Save(savePath, r.Config(), opts); err != nil {
					return err
				}
				fmt.Printf("\nsaved explicit session to %s\n", savePath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Session TOML file to resolve")
	cmd.Flags().StringVar(&savePath, "save", "", "Write the resolved session back out as explicit TOML")
	cmd.Flags().StringVar(&backendName, "backend", "", "Override the audio backend")
	cmd.Flags().StringVar(&deviceName, "device", "", "Override the audio device by name")
	cmd.Flags().Uint32Var(&sampleRate, "rate", 0, "Override the sample rate")
	cmd.Flags().Uint32Var(&blockSize, "block-size", 0, "Override the block size in frames")
	cmd.Flags().BoolVar(&stereoOut, "stereo-out", false, "Require a stereo output device")
	return cmd
}

func printResolved(r rainout.ResolvedConfig) {
	fmt.Printf("backend: %s\n", r.Backend)
	if r.Linked {
		fmt.Printf("input device: %s\n", r.InputDevice)
		fmt.Printf("output device: %s\n", r.OutputDevice)
	} else {
		fmt.Printf("device: %s\n", r.OutputDevice)
	}
	fmt.Printf("sample rate: %d\n", r.SampleRate)
	if r.BlockSize != 0 {
		fmt.Printf("block size: %d frames\n", r.BlockSize)
	} else {
		fmt.Printf("block size: variable, up to %d frames\n", r.MaxBlockSize)
	}

	printPorts := func(label string, ports []rainout.ResolvedPort) {
		for _, p := range ports {
			if p.Found() {
				fmt.Printf("%s port %q -> channel %d\n", label, p.Name, p.Channel)
			} else {
				fmt.Printf("%s port %q -> silent (not backed)\n", label, p.Name)
			}
		}
	}
	printPorts("in", r.InPorts)
	printPorts("out", r.OutPorts)

	if r.Midi != nil {
		fmt.Printf("midi backend: %s\n", r.Midi.Backend)
		for _, p := range r.Midi.InPorts {
			status := "ok"
			if !p.Found {
				status = "missing"
			}
			fmt.Printf("midi in %s port %d (%s)\n", p.Device, p.PortIndex, status)
		}
		for _, p := range r.Midi.OutPorts {
			status := "ok"
			if !p.Found {
				status = "missing"
			}
			fmt.Printf("midi out %s port %d (%s)\n", p.Device, p.PortIndex, status)
		}
	}
}
