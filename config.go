package rainout

import "github.com/rustydaw/rainout/devices"

// AutoOption is a configuration field that is either a specific value or
// "automatic", letting the resolver pick. The zero value is automatic.
//
// AutoOption values never reach the realtime path; resolution replaces every
// automatic field with a concrete value first.
type AutoOption[T any] struct {
	value T
	set   bool
}

// Use returns an option pinned to a specific value.
func Use[T any](v T) AutoOption[T] {
	return AutoOption[T]{value: v, set: true}
}

// Auto returns an automatic option.
func Auto[T any]() AutoOption[T] {
	return AutoOption[T]{}
}

// IsAuto reports whether the option is automatic.
func (o AutoOption[T]) IsAuto() bool { return !o.set }

// Value returns the pinned value and whether one is set.
func (o AutoOption[T]) Value() (T, bool) { return o.value, o.set }

// ValueOr returns the pinned value, or def when automatic.
func (o AutoOption[T]) ValueOr(def T) T {
	if o.set {
		return o.value
	}
	return def
}

// AudioDeviceSelection selects the audio device(s) a session runs on.
// Exactly one mode applies:
//
//   - Auto device: both Single and Linked are unset.
//   - Single duplex device: Single is set.
//   - Linked input/output pair: Linked is set (only valid on backends that
//     report SupportsLinkedInOut).
type AudioDeviceSelection struct {
	// Single selects one (duplex) device.
	Single AutoOption[devices.DeviceID]

	// Linked selects a separate input and output device to be linked into
	// one session.
	Linked AutoOption[LinkedInOut]
}

// LinkedInOut names a separate input and output device pair. Either side
// may be automatic.
type LinkedInOut struct {
	Input  AutoOption[devices.DeviceID]
	Output AutoOption[devices.DeviceID]
}

// MidiPortSelection selects one MIDI device port.
type MidiPortSelection struct {
	Device devices.DeviceID

	// PortIndex on the device, defaulting to the first port.
	PortIndex int
}

// MidiConfig is the optional MIDI part of a configuration.
type MidiConfig struct {
	// Backend to use for MIDI. Automatic selects by platform preference.
	Backend AutoOption[devices.Backend]

	// InPorts and OutPorts select device ports explicitly. Automatic
	// selects the backend's default input port and no outputs.
	InPorts  AutoOption[[]MidiPortSelection]
	OutPorts AutoOption[[]MidiPortSelection]
}

// Config is a declarative session request. Every selectable field is either
// a specific value or automatic. The zero value requests everything
// automatic with no MIDI.
type Config struct {
	// Backend to run audio on. Automatic selects by platform preference.
	Backend AutoOption[devices.Backend]

	// Device selection.
	Device AudioDeviceSelection

	SampleRate AutoOption[uint32]

	// BlockSize in frames.
	BlockSize AutoOption[uint32]

	// InPorts and OutPorts select ports by name on the resolved device.
	// Automatic outputs pick the device's defaults; automatic inputs are
	// included only when RunOptions.AutoAudioInputs is set.
	InPorts  AutoOption[[]string]
	OutPorts AutoOption[[]string]

	// TakeExclusiveAccess requests exclusive device access on backends
	// that support it (WASAPI). Ignored elsewhere.
	TakeExclusiveAccess bool

	// Midi, when non-nil, requests MIDI alongside audio.
	Midi *MidiConfig
}

// DefaultConfig returns a fully-automatic configuration with no MIDI.
func DefaultConfig() Config {
	return Config{}
}
