package rainout

import "time"

// Default values for RunOptions fields left zero.
const (
	DefaultMidiBufferSize    = 1024
	DefaultMsgBufferSize     = 256
	DefaultFallbackBlockSize = 1024
	DefaultDeviceOpenTimeout = 5 * time.Second
)

// RunOptions are the non-declarative knobs passed to Run alongside a Config.
type RunOptions struct {
	// AutoAudioInputs includes the device's default input ports when the
	// configured input list is automatic. When false an automatic input
	// list resolves to no inputs.
	AutoAudioInputs bool

	// MustHaveStereoOutput rejects devices without at least a stereo
	// output, searching the backend's remaining devices before failing
	// resolution with ErrNoSuitableDevice.
	MustHaveStereoOutput bool

	// EmptyBuffersForFailedPorts silently drops configured ports that do
	// not exist on the device, keeping their position filled with a
	// zeroed buffer, instead of failing resolution. Missing MIDI devices
	// degrade the same way.
	EmptyBuffersForFailedPorts bool

	// FallbackBlockSize is the maximum frames per cycle used when the
	// device has no fixed block size. 0 means DefaultFallbackBlockSize.
	FallbackBlockSize uint32

	// MidiBufferSize is the capacity, in events, of each MIDI port
	// buffer. 0 means DefaultMidiBufferSize.
	MidiBufferSize int

	// MsgBufferSize is the capacity of the stream message ring. 0 means
	// DefaultMsgBufferSize.
	MsgBufferSize int

	// CheckForSilentInputs enables the per-cycle silence scan that sets
	// ProcessInfo.InSilent flags. Off by default since the scan costs a
	// full pass over every input buffer.
	CheckForSilentInputs bool

	// DeviceOpenTimeout bounds how long opening backend devices may take.
	// 0 means DefaultDeviceOpenTimeout.
	DeviceOpenTimeout time.Duration
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (o RunOptions) withDefaults() RunOptions {
	if o.FallbackBlockSize == 0 {
		o.FallbackBlockSize = DefaultFallbackBlockSize
	}
	if o.MidiBufferSize == 0 {
		o.MidiBufferSize = DefaultMidiBufferSize
	}
	if o.MsgBufferSize == 0 {
		o.MsgBufferSize = DefaultMsgBufferSize
	}
	if o.DeviceOpenTimeout == 0 {
		o.DeviceOpenTimeout = DefaultDeviceOpenTimeout
	}
	return o
}
