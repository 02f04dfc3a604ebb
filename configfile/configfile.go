// Package configfile persists session configurations as TOML. Optional
// fields map to pointers: a nil pointer round-trips to an automatic field,
// so a file carrying only `backend = "Jack"` still resolves everything else
// by preference.
package configfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	rainout "github.com/rustydaw/rainout"
	"github.com/rustydaw/rainout/devices"
)

// DeviceSection names a device in the file.
type DeviceSection struct {
	Name       string `toml:"name"`
	Identifier string `toml:"identifier,omitempty"`
}

func (d DeviceSection) id() devices.DeviceID {
	return devices.DeviceID{Name: d.Name, Identifier: d.Identifier}
}

func deviceSection(id devices.DeviceID) DeviceSection {
	return DeviceSection{Name: id.Name, Identifier: id.Identifier}
}

// MidiPortSection names one MIDI device port in the file.
type MidiPortSection struct {
	Device    DeviceSection `toml:"device"`
	PortIndex int           `toml:"port_index,omitempty"`
}

// MidiSection is the optional MIDI part of the file.
type MidiSection struct {
	Backend  *string           `toml:"backend,omitempty"`
	InPorts  []MidiPortSection `toml:"in_ports,omitempty"`
	OutPorts []MidiPortSection `toml:"out_ports,omitempty"`
}

// AudioSection is the audio part of the file.
type AudioSection struct {
	Backend *string `toml:"backend,omitempty"`

	// Device selects a single duplex device. InputDevice/OutputDevice
	// select a linked pair instead; setting both styles is an error.
	Device       *DeviceSection `toml:"device,omitempty"`
	InputDevice  *DeviceSection `toml:"input_device,omitempty"`
	OutputDevice *DeviceSection `toml:"output_device,omitempty"`

	SampleRate *uint32 `toml:"sample_rate,omitempty"`
	BlockSize  *uint32 `toml:"block_size,omitempty"`

	InPorts  []string `toml:"in_ports,omitempty"`
	OutPorts []string `toml:"out_ports,omitempty"`

	ExclusiveAccess bool `toml:"exclusive_access,omitempty"`
}

// OptionsSection carries the RunOptions knobs worth persisting.
type OptionsSection struct {
	AutoAudioInputs            bool   `toml:"auto_audio_inputs,omitempty"`
	MustHaveStereoOutput       bool   `toml:"must_have_stereo_output,omitempty"`
	EmptyBuffersForFailedPorts bool   `toml:"empty_buffers_for_failed_ports,omitempty"`
	FallbackBlockSize          uint32 `toml:"fallback_block_size,omitempty"`
	MidiBufferSize             int    `toml:"midi_buffer_size,omitempty"`
	CheckForSilentInputs       bool   `toml:"check_for_silent_inputs,omitempty"`
}

// File is the top-level TOML document.
type File struct {
	Audio   AudioSection   `toml:"audio"`
	Midi    *MidiSection   `toml:"midi,omitempty"`
	Options OptionsSection `toml:"options,omitempty"`
}

// Config converts the document into a Config plus RunOptions.
func (f File) Config() (rainout.Config, rainout.RunOptions, error) {
	var cfg rainout.Config

	if f.Audio.Backend != nil {
		b, ok := devices.BackendFromString(*f.Audio.Backend)
		if !ok {
			return cfg, rainout.RunOptions{}, fmt.Errorf("unknown backend %q", *f.Audio.Backend)
		}
		cfg.Backend = rainout.Use(b)
	}

	linked := f.Audio.InputDevice != nil || f.Audio.OutputDevice != nil
	if f.Audio.Device != nil && linked {
		return cfg, rainout.RunOptions{}, fmt.Errorf("device and input_device/output_device are mutually exclusive")
	}
	if f.Audio.Device != nil {
		cfg.Device.Single = rainout.Use(f.Audio.Device.id())
	} else if linked {
		var pair rainout.LinkedInOut
		if f.Audio.InputDevice != nil {
			pair.Input = rainout.Use(f.Audio.InputDevice.id())
		}
		if f.Audio.OutputDevice != nil {
			pair.Output = rainout.Use(f.Audio.OutputDevice.id())
		}
		cfg.Device.Linked = rainout.Use(pair)
	}

	if f.Audio.SampleRate != nil {
		cfg.SampleRate = rainout.Use(*f.Audio.SampleRate)
	}
	if f.Audio.BlockSize != nil {
		cfg.BlockSize = rainout.Use(*f.Audio.BlockSize)
	}
	if f.Audio.InPorts != nil {
		cfg.InPorts = rainout.Use(f.Audio.InPorts)
	}
	if f.Audio.OutPorts != nil {
		cfg.OutPorts = rainout.Use(f.Audio.OutPorts)
	}
	cfg.TakeExclusiveAccess = f.Audio.ExclusiveAccess

	if f.Midi != nil {
		mc := &rainout.MidiConfig{}
		if f.Midi.Backend != nil {
			b, ok := devices.BackendFromString(*f.Midi.Backend)
			if !ok {
				return cfg, rainout.RunOptions{}, fmt.Errorf("unknown MIDI backend %q", *f.Midi.Backend)
			}
			mc.Backend = rainout.Use(b)
		}
		if f.Midi.InPorts != nil {
			mc.InPorts = rainout.Use(midiSelections(f.Midi.InPorts))
		}
		if f.Midi.OutPorts != nil {
			mc.OutPorts = rainout.Use(midiSelections(f.Midi.OutPorts))
		}
		cfg.Midi = mc
	}

	opts := rainout.RunOptions{
		AutoAudioInputs:            f.Options.AutoAudioInputs,
		MustHaveStereoOutput:       f.Options.MustHaveStereoOutput,
		EmptyBuffersForFailedPorts: f.Options.EmptyBuffersForFailedPorts,
		FallbackBlockSize:          f.Options.FallbackBlockSize,
		MidiBufferSize:             f.Options.MidiBufferSize,
		CheckForSilentInputs:       f.Options.CheckForSilentInputs,
	}
	return cfg, opts, nil
}

func midiSelections(sections []MidiPortSection) []rainout.MidiPortSelection {
	sels := make([]rainout.MidiPortSelection, len(sections))
	for i, s := range sections {
		sels[i] = rainout.MidiPortSelection{Device: s.Device.id(), PortIndex: s.PortIndex}
	}
	return sels
}

// FromConfig builds a document from a Config and RunOptions, with automatic
// fields left out of the file.
func FromConfig(cfg rainout.Config, opts rainout.RunOptions) File {
	var f File

	if b, ok := cfg.Backend.Value(); ok {
		s := b.String()
		f.Audio.Backend = &s
	}
	if id, ok := cfg.Device.Single.Value(); ok {
		d := deviceSection(id)
		f.Audio.Device = &d
	} else if pair, ok := cfg.Device.Linked.Value(); ok {
		if id, ok := pair.Input.Value(); ok {
			d := deviceSection(id)
			f.Audio.InputDevice = &d
		}
		if id, ok := pair.Output.Value(); ok {
			d := deviceSection(id)
			f.Audio.OutputDevice = &d
		}
	}
	if rate, ok := cfg.SampleRate.Value(); ok {
		f.Audio.SampleRate = &rate
	}
	if frames, ok := cfg.BlockSize.Value(); ok {
		f.Audio.BlockSize = &frames
	}
	if ports, ok := cfg.InPorts.Value(); ok {
		f.Audio.InPorts = ports
	}
	if ports, ok := cfg.OutPorts.Value(); ok {
		f.Audio.OutPorts = ports
	}
	f.Audio.ExclusiveAccess = cfg.TakeExclusiveAccess

	if cfg.Midi != nil {
		m := &MidiSection{}
		if b, ok := cfg.Midi.Backend.Value(); ok {
			s := b.String()
			m.Backend = &s
		}
		if sels, ok := cfg.Midi.InPorts.Value(); ok {
			m.InPorts = midiSections(sels)
		}
		if sels, ok := cfg.Midi.OutPorts.Value(); ok {
			m.OutPorts = midiSections(sels)
		}
		f.Midi = m
	}

	f.Options = OptionsSection{
		AutoAudioInputs:            opts.AutoAudioInputs,
		MustHaveStereoOutput:       opts.MustHaveStereoOutput,
		EmptyBuffersForFailedPorts: opts.EmptyBuffersForFailedPorts,
		FallbackBlockSize:          opts.FallbackBlockSize,
		MidiBufferSize:             opts.MidiBufferSize,
		CheckForSilentInputs:       opts.CheckForSilentInputs,
	}
	return f
}

func midiSections(sels []rainout.MidiPortSelection) []MidiPortSection {
	sections := make([]MidiPortSection, len(sels))
	for i, s := range sels {
		sections[i] = MidiPortSection{Device: deviceSection(s.Device), PortIndex: s.PortIndex}
	}
	return sections
}

// Load reads and parses a TOML session file.
func Load(path string) (rainout.Config, rainout.RunOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return rainout.Config{}, rainout.RunOptions{}, err
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return rainout.Config{}, rainout.RunOptions{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return f.Config()
}

// Save writes a session file atomically: a temp file in the same directory
// is renamed over the target.
func Save(path string, cfg rainout.Config, opts rainout.RunOptions) error {
	data, err := toml.Marshal(FromConfig(cfg, opts))
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".rainout-*.toml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
