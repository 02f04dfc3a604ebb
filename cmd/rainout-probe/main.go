// rainout-probe inspects audio and MIDI backends, dry-runs session
// configurations, and plays a test tone through a resolved stream.
package main

import (
	"fmt"
	"os"

	"github.com/decred/slog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	rainout "github.com/rustydaw/rainout"
	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/backend/gomidimidi"
	"github.com/rustydaw/rainout/backend/malgobackend"
	"github.com/rustydaw/rainout/backend/portmidimidi"
	"github.com/rustydaw/rainout/configfile"
	"github.com/rustydaw/rainout/devices"
)

var log slog.Logger

func main() {
	var debugLevel string
	var usePortmidi bool

	rootCmd := &cobra.Command{
		Use:           "rainout-probe",
		Short:         "Inspect audio/MIDI backends and test stream configurations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := setupLogging(debugLevel); err != nil {
				return err
			}
			if usePortmidi {
				swapInPortmidi()
			}
			return nil
		},
	}

	addLoggingFlags(rootCmd.PersistentFlags(), &debugLevel, &usePortmidi)

	rootCmd.AddCommand(
		createBackendsCmd(),
		createDevicesCmd(),
		createResolveCmd(),
		createToneCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rainout-probe:", err)
		os.Exit(1)
	}
}

func addLoggingFlags(fs *pflag.FlagSet, debugLevel *string, usePortmidi *bool) {
	fs.StringVar(debugLevel, "debuglevel", "info", "Logging level (trace, debug, info, warn, error)")
	fs.BoolVar(usePortmidi, "portmidi", false, "Use the PortMidi driver instead of the platform MIDI driver")
}

func setupLogging(debugLevel string) error {
	level, ok := slog.LevelFromString(debugLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", debugLevel)
	}

	bknd := slog.NewBackend(os.Stderr)
	logger := func(tag string) slog.Logger {
		l := bknd.Logger(tag)
		l.SetLevel(level)
		return l
	}

	log = logger("PROB")
	rainout.UseLogger(logger("ENGN"))
	backend.UseLogger(logger("BKND"))
	malgobackend.UseLogger(logger("AUDI"))
	gomidimidi.UseLogger(logger("MIDI"))
	portmidimidi.UseLogger(logger("MIDI"))
	configfile.UseLogger(logger("CONF"))
	return nil
}

// swapInPortmidi replaces every registered MIDI driver with the PortMidi
// implementation under the same backend IDs.
func swapInPortmidi() {
	ids := make([]devices.Backend, 0, 4)
	for _, b := range backend.RegisteredMidi() {
		ids = append(ids, b.Backend())
	}
	for _, id := range ids {
		backend.UnregisterMidi(id)
		portmidimidi.Register(id)
	}
	log.Debugf("using PortMidi MIDI driver for %d backend(s)", len(ids))
}

// loadSessionFile loads --config when given, else returns an automatic
// config with default options.
func loadSessionFile(path string) (rainout.Config, rainout.RunOptions, error) {
	if path == "" {
		return rainout.DefaultConfig(), rainout.RunOptions{}, nil
	}
	return configfile.Load(path)
}
