package rainout

import "github.com/rustydaw/rainout/devices"

// ResolvedPort is one audio port slot in a resolved session.
type ResolvedPort struct {
	// Name of the port as configured.
	Name string

	// Channel is the index into the device's native channel order, or -1
	// when the port was not found and resolution substituted an empty
	// buffer for its position.
	Channel int
}

// Found reports whether the port is backed by a real device channel.
func (p ResolvedPort) Found() bool { return p.Channel >= 0 }

// ResolvedMidiPort is one MIDI port slot in a resolved session.
type ResolvedMidiPort struct {
	Device    devices.DeviceID
	PortIndex int

	// Found is false when the device was missing and resolution
	// substituted an empty event buffer for its position.
	Found bool
}

// ResolvedMidi is the concrete MIDI part of a resolved session.
type ResolvedMidi struct {
	Backend  devices.Backend
	InPorts  []ResolvedMidiPort
	OutPorts []ResolvedMidiPort
}

// ResolvedConfig is a Config with every automatic field replaced by a
// validated concrete value. It is the only form the stream engine accepts.
//
// Resolving a ResolvedConfig's Config() again yields it unchanged.
type ResolvedConfig struct {
	Backend devices.Backend

	// InputDevice and OutputDevice name the resolved device(s). For a
	// single duplex device both are the same ID; for linked in/out
	// backends they may differ.
	InputDevice  devices.DeviceID
	OutputDevice devices.DeviceID
	Linked       bool

	SampleRate uint32

	// BlockSize is the fixed frames per cycle, or 0 when the device has
	// no fixed size and cycles vary up to MaxBlockSize.
	BlockSize    uint32
	MaxBlockSize uint32

	InPorts  []ResolvedPort
	OutPorts []ResolvedPort

	// Native channel counts of the opened device(s).
	InChannels  int
	OutChannels int

	TakeExclusiveAccess bool

	Midi *ResolvedMidi
}

// Config re-expresses the resolved session as a fully explicit Config.
// Resolving the returned Config reproduces this ResolvedConfig unchanged.
func (r ResolvedConfig) Config() Config {
	cfg := Config{
		Backend:             Use(r.Backend),
		SampleRate:          Use(r.SampleRate),
		TakeExclusiveAccess: r.TakeExclusiveAccess,
	}
	if r.Linked {
		cfg.Device.Linked = Use(LinkedInOut{
			Input:  Use(r.InputDevice),
			Output: Use(r.OutputDevice),
		})
	} else {
		cfg.Device.Single = Use(r.InputDevice)
	}
	if r.BlockSize != 0 {
		cfg.BlockSize = Use(r.BlockSize)
	} else {
		cfg.BlockSize = Use(r.MaxBlockSize)
	}
	in := make([]string, len(r.InPorts))
	for i, p := range r.InPorts {
		in[i] = p.Name
	}
	out := make([]string, len(r.OutPorts))
	for i, p := range r.OutPorts {
		out[i] = p.Name
	}
	cfg.InPorts = Use(in)
	cfg.OutPorts = Use(out)

	if r.Midi != nil {
		mc := &MidiConfig{Backend: Use(r.Midi.Backend)}
		ins := make([]MidiPortSelection, len(r.Midi.InPorts))
		for i, p := range r.Midi.InPorts {
			ins[i] = MidiPortSelection{Device: p.Device, PortIndex: p.PortIndex}
		}
		outs := make([]MidiPortSelection, len(r.Midi.OutPorts))
		for i, p := range r.Midi.OutPorts {
			outs[i] = MidiPortSelection{Device: p.Device, PortIndex: p.PortIndex}
		}
		mc.InPorts = Use(ins)
		mc.OutPorts = Use(outs)
		cfg.Midi = mc
	}
	return cfg
}

// MaxFrames returns the largest frame count a cycle can carry.
func (r ResolvedConfig) MaxFrames() int {
	if r.BlockSize != 0 {
		return int(r.BlockSize)
	}
	return int(r.MaxBlockSize)
}

// BufferSizeInfo describes the cycle size of a running stream.
type BufferSizeInfo struct {
	// Fixed frames per cycle, 0 when unfixed.
	Fixed uint32

	// Maximum frames per cycle, always set.
	Max uint32
}

// MidiStreamInfo describes the MIDI side of a running stream.
type MidiStreamInfo struct {
	Backend      devices.Backend
	InPorts      []ResolvedMidiPort
	OutPorts     []ResolvedMidiPort
	BufferEvents int
}

// StreamInfo is the session description handed to ProcessHandler.Init and
// StreamChanged, and returned by StreamHandle.StreamInfo.
type StreamInfo struct {
	Backend devices.Backend

	InputDevice  devices.DeviceID
	OutputDevice devices.DeviceID

	SampleRate uint32
	BufferSize BufferSizeInfo

	// Port names in callback buffer order. Unbacked (substituted) ports
	// still appear at their configured positions.
	InPorts  []string
	OutPorts []string

	Midi *MidiStreamInfo
}

// streamInfoFor derives the user-facing session description from a
// resolved session.
func streamInfoFor(r ResolvedConfig, midiBufferEvents int) StreamInfo {
	info := StreamInfo{
		Backend:      r.Backend,
		InputDevice:  r.InputDevice,
		OutputDevice: r.OutputDevice,
		SampleRate:   r.SampleRate,
		BufferSize:   BufferSizeInfo{Fixed: r.BlockSize, Max: uint32(r.MaxFrames())},
	}
	for _, p := range r.InPorts {
		info.InPorts = append(info.InPorts, p.Name)
	}
	for _, p := range r.OutPorts {
		info.OutPorts = append(info.OutPorts, p.Name)
	}
	if r.Midi != nil {
		info.Midi = &MidiStreamInfo{
			Backend:      r.Midi.Backend,
			InPorts:      append([]ResolvedMidiPort(nil), r.Midi.InPorts...),
			OutPorts:     append([]ResolvedMidiPort(nil), r.Midi.OutPorts...),
			BufferEvents: midiBufferEvents,
		}
	}
	return info
}
