// Package devices holds the data model for audio/MIDI backend and device
// enumeration: backend identifiers, device IDs, and immutable capability
// snapshots produced by an enumeration pass.
//
// Values in this package are plain data. They are never mutated after
// enumeration; re-enumerating produces fresh snapshots rather than patching
// old ones.
package devices

import "fmt"

// Backend identifies one native audio/MIDI subsystem.
type Backend int

const (
	BackendUnknown Backend = iota
	BackendJack
	BackendPipewire
	BackendAlsa
	BackendCoreAudio
	BackendWasapi
	BackendAsio
)

// String returns the conventional display name of the backend.
func (b Backend) String() string {
	switch b {
	case BackendJack:
		return "Jack"
	case BackendPipewire:
		return "Pipewire"
	case BackendAlsa:
		return "Alsa"
	case BackendCoreAudio:
		return "CoreAudio"
	case BackendWasapi:
		return "WASAPI"
	case BackendAsio:
		return "ASIO"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// BackendFromString parses a backend display name. It reports false for
// names that do not match any known backend.
func BackendFromString(s string) (Backend, bool) {
	for _, b := range []Backend{
		BackendJack, BackendPipewire, BackendAlsa,
		BackendCoreAudio, BackendWasapi, BackendAsio,
	} {
		if b.String() == s {
			return b, true
		}
	}
	return BackendUnknown, false
}

// DeviceID is the name/ID of a device.
type DeviceID struct {
	// The name of the device.
	Name string `json:"name" toml:"name"`

	// The unique identifier of this device, if one is available. This is
	// usually more reliable than the name. Empty means unavailable.
	Identifier string `json:"identifier,omitempty" toml:"identifier,omitempty"`
}

// Matches reports whether two IDs refer to the same device. The unique
// identifier is preferred when both sides carry one; otherwise matching
// falls back to the name.
func (d DeviceID) Matches(other DeviceID) bool {
	if d.Identifier != "" && other.Identifier != "" {
		return d.Identifier == other.Identifier
	}
	return d.Name == other.Name
}

func (d DeviceID) String() string {
	if d.Identifier != "" {
		return fmt.Sprintf("%s (%s)", d.Name, d.Identifier)
	}
	return d.Name
}

// BackendStatus is the running status of a backend as observed by the most
// recent enumeration pass.
type BackendStatus int

const (
	// StatusRunning means the backend is installed and running with at
	// least the possibility of devices. It is the only status for which a
	// device list is populated.
	StatusRunning BackendStatus = iota

	// StatusNoDevices means the backend is installed and running, but no
	// devices were found.
	StatusNoDevices

	// StatusNotInstalled means the backend is not installed on the system.
	StatusNotInstalled

	// StatusNotRunning means the backend is installed but not currently
	// running, and cannot be used until it is started.
	StatusNotRunning
)

func (s BackendStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusNoDevices:
		return "running, no devices"
	case StatusNotInstalled:
		return "not installed"
	case StatusNotRunning:
		return "not running"
	default:
		return fmt.Sprintf("BackendStatus(%d)", int(s))
	}
}

// ChannelLayout describes the layout of a device's audio ports.
type ChannelLayout int

const (
	// LayoutUnspecified means the device has not specified a layout.
	LayoutUnspecified ChannelLayout = iota
	// LayoutMono is a single mono channel.
	LayoutMono
	// LayoutMultiMono is multiple independent mono channels (for example
	// multiple microphone inputs).
	LayoutMultiMono
	// LayoutStereo is a single stereo pair.
	LayoutStereo
	// LayoutMultiStereo is multiple stereo pairs.
	LayoutMultiStereo
	// LayoutStereoX2SpeakerHeadphone is the fairly common case of two
	// stereo output pairs, one for speakers and one for headphones.
	LayoutStereoX2SpeakerHeadphone
)

// BlockSizeRange is the range of fixed block/buffer sizes supported by an
// audio device.
type BlockSizeRange struct {
	// The minimum block size that can be used (inclusive).
	Min uint32

	// The maximum block size that can be used (inclusive).
	Max uint32

	// The default block size for this device.
	Default uint32

	// If true, the device mandates that the block size be a power of two.
	MustBePowerOfTwo bool
}

// Contains reports whether frames lies within the range and satisfies the
// power-of-two requirement when the device mandates one.
func (r BlockSizeRange) Contains(frames uint32) bool {
	if frames < r.Min || frames > r.Max {
		return false
	}
	if r.MustBePowerOfTwo && frames&(frames-1) != 0 {
		return false
	}
	return true
}

// AudioDeviceInfo is an immutable snapshot of one audio device's
// capabilities at enumeration time.
type AudioDeviceInfo struct {
	ID DeviceID

	// The names of the input and output ports, in the device's native
	// channel order.
	InPorts  []string
	OutPorts []string

	// The sample rates the device supports, and its preferred default.
	SampleRates       []uint32
	DefaultSampleRate uint32

	// The range of fixed block sizes. Nil when the device does not support
	// fixed-size blocks (callbacks arrive with varying frame counts).
	BlockSizes *BlockSizeRange

	// The layout of the input and output ports.
	InLayout  ChannelLayout
	OutLayout ChannelLayout

	// Indexes into InPorts/OutPorts of the device's preferred default
	// ports. Empty when no sensible default exists.
	DefaultInPorts  []int
	DefaultOutPorts []int

	// If true the application can request exclusive access of the device
	// to improve latency. Only relevant for WASAPI; always false elsewhere.
	CanTakeExclusiveAccess bool

	// If true this is the backend's default device (default input or
	// output device for linked-pair backends).
	IsDefault bool
}

// CanInput reports whether the device can capture audio.
func (d AudioDeviceInfo) CanInput() bool { return len(d.InPorts) > 0 }

// CanOutput reports whether the device can play audio.
func (d AudioDeviceInfo) CanOutput() bool { return len(d.OutPorts) > 0 }

// IsDuplex reports whether the device can both capture and play audio.
func (d AudioDeviceInfo) IsDuplex() bool { return d.CanInput() && d.CanOutput() }

// HasSampleRate reports whether rate is in the device's supported set.
func (d AudioDeviceInfo) HasSampleRate(rate uint32) bool {
	for _, r := range d.SampleRates {
		if r == rate {
			return true
		}
	}
	return false
}

// HasStereoOutput reports whether the device exposes at least a stereo
// output layout.
func (d AudioDeviceInfo) HasStereoOutput() bool {
	return len(d.OutPorts) >= 2
}

// InPortIndex returns the index of the named input port, or -1.
func (d AudioDeviceInfo) InPortIndex(name string) int {
	for i, p := range d.InPorts {
		if p == name {
			return i
		}
	}
	return -1
}

// OutPortIndex returns the index of the named output port, or -1.
func (d AudioDeviceInfo) OutPortIndex(name string) int {
	for i, p := range d.OutPorts {
		if p == name {
			return i
		}
	}
	return -1
}

// AudioDeviceList is a slice of AudioDeviceInfo with filter methods.
type AudioDeviceList []AudioDeviceInfo

// Inputs returns only devices that can capture audio.
func (l AudioDeviceList) Inputs() AudioDeviceList {
	var out AudioDeviceList
	for _, d := range l {
		if d.CanInput() {
			out = append(out, d)
		}
	}
	return out
}

// Outputs returns only devices that can play audio.
func (l AudioDeviceList) Outputs() AudioDeviceList {
	var out AudioDeviceList
	for _, d := range l {
		if d.CanOutput() {
			out = append(out, d)
		}
	}
	return out
}

// Duplex returns only devices that can both capture and play audio.
func (l AudioDeviceList) Duplex() AudioDeviceList {
	var out AudioDeviceList
	for _, d := range l {
		if d.IsDuplex() {
			out = append(out, d)
		}
	}
	return out
}

// ByID returns the device matching id, or nil.
func (l AudioDeviceList) ByID(id DeviceID) *AudioDeviceInfo {
	for i := range l {
		if l[i].ID.Matches(id) {
			return &l[i]
		}
	}
	return nil
}

// Default returns the backend's default device, falling back to the first
// device in the list. Nil when the list is empty.
func (l AudioDeviceList) Default() *AudioDeviceInfo {
	for i := range l {
		if l[i].IsDefault {
			return &l[i]
		}
	}
	if len(l) > 0 {
		return &l[0]
	}
	return nil
}

// AudioBackendOptions is information about an audio backend, including its
// available devices, produced by one enumeration pass.
type AudioBackendOptions struct {
	// The audio backend.
	Backend Backend

	// The version of the backend, if that information is available.
	Version string

	// The running status of this backend.
	Status BackendStatus

	// The available audio devices. Populated only when Status is
	// StatusRunning.
	Devices AudioDeviceList

	// If true the backend opens separate input and output devices linked
	// into one session (split-stream APIs) rather than a single duplex
	// device.
	SupportsLinkedInOut bool
}

// MidiControlScheme is the control scheme a MIDI port uses.
type MidiControlScheme int

const (
	// MidiControlMidi1 supports only MIDI version 1.
	MidiControlMidi1 MidiControlScheme = iota
	// MidiControlMidi2 supports MIDI version 2 (and by proxy version 1).
	MidiControlMidi2
)

func (s MidiControlScheme) String() string {
	if s == MidiControlMidi2 {
		return "MIDI 2"
	}
	return "MIDI 1"
}

// MidiPortInfo is an immutable snapshot of one MIDI device port.
type MidiPortInfo struct {
	// The name/ID of the device this port belongs to.
	ID DeviceID

	// The index of this port on the device.
	PortIndex int

	// The control scheme this port uses.
	ControlScheme MidiControlScheme
}

// MidiPortList is a slice of MidiPortInfo with filter methods.
type MidiPortList []MidiPortInfo

// ByID returns the first port whose device matches id, or nil.
func (l MidiPortList) ByID(id DeviceID) *MidiPortInfo {
	for i := range l {
		if l[i].ID.Matches(id) {
			return &l[i]
		}
	}
	return nil
}

// MidiBackendOptions is information about a MIDI backend, including its
// available device ports, produced by one enumeration pass.
type MidiBackendOptions struct {
	// The MIDI backend.
	Backend Backend

	// The version of the backend, if that information is available.
	Version string

	// The running status of this backend.
	Status BackendStatus

	// The available input and output device ports. Populated only when
	// Status is StatusRunning.
	InPorts  MidiPortList
	OutPorts MidiPortList

	// Indexes of the default/preferred input and output ports, or -1 when
	// no default could be determined.
	DefaultIn  int
	DefaultOut int
}
