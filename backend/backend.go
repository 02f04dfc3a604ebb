// Package backend defines the interfaces a native audio/MIDI subsystem
// implements to plug into the runtime, and the registry that enumerates the
// implementations compiled into the binary.
//
// Implementations register themselves from an init function, so importing an
// adapter package for side effects is enough to make it available.
package backend

import (
	"context"
	"time"

	"github.com/rustydaw/rainout/devices"
)

// ProcessFunc is the callback an AudioStream drives. It is called from the
// backend's realtime thread with interleaved float32 input and output
// buffers holding frames frames each. Implementations must not block,
// allocate, or take locks.
type ProcessFunc func(in, out []float32, frames int)

// StreamConfig is what an audio backend needs to open a stream.
type StreamConfig struct {
	// Device to open. For linked in/out backends OutputDevice may differ
	// from InputDevice; otherwise only InputDevice is consulted (it names
	// the duplex device).
	InputDevice  devices.DeviceID
	OutputDevice devices.DeviceID

	// Native channel counts to open. The stream always opens the device's
	// full channel counts; port selection is mapped on top by the caller.
	InChannels  int
	OutChannels int

	SampleRate uint32

	// Requested fixed block size in frames, 0 when the backend should pick.
	// Backends that cannot honor a fixed size deliver varying frame counts
	// up to MaxFrames.
	BlockFrames uint32

	// Upper bound on frames per callback when BlockFrames is 0.
	MaxFrames uint32
}

// Capabilities reports which live changes an open stream can honor.
type Capabilities struct {
	ChangeAudioPortConfig bool
	ChangeBlockSize       bool
	ChangeMidiPorts       bool
}

// AudioStream is an open, running audio stream.
type AudioStream interface {
	// SampleRate returns the actual sample rate of the stream.
	SampleRate() uint32

	// BlockFrames returns the granted fixed block size, or 0 when the
	// stream delivers varying frame counts.
	BlockFrames() uint32

	// SetBlockFrames applies a new fixed block size to the open stream, so
	// subsequent callbacks deliver the new frame count. Called only when
	// Capabilities().ChangeBlockSize is true, with a size already validated
	// against the device's reported range. On error the stream keeps its
	// previous size.
	SetBlockFrames(frames uint32) error

	// Capabilities reports which live changes this stream can honor.
	Capabilities() Capabilities

	// Close stops the realtime callback and releases the device. After
	// Close returns the ProcessFunc will not be called again.
	Close() error
}

// AudioBackend is one native audio subsystem.
type AudioBackend interface {
	// Backend returns the identifier this implementation serves.
	Backend() devices.Backend

	// Enumerate takes a fresh snapshot of the backend's status and
	// devices. The context bounds how long probing may take.
	Enumerate(ctx context.Context) (devices.AudioBackendOptions, error)

	// OpenStream opens a stream on the configured device(s) and starts
	// driving fn from the backend's realtime thread.
	OpenStream(ctx context.Context, cfg StreamConfig, fn ProcessFunc) (AudioStream, error)
}

// MaxDrainEvents is the most events a MidiInput may hand over in a single
// Drain call. Adapters bound their internal rings to it so the runtime can
// preallocate drain scratch space and Drain never grows the slice it was
// given.
const MaxDrainEvents = 1024

// MidiInput is an open MIDI input port. Received events are timestamped and
// buffered by the adapter; the runtime drains them at each process cycle.
type MidiInput interface {
	// Drain appends pending events to dst, each tagged with the frame
	// offset derived from its arrival time, and returns the extended
	// slice. At most MaxDrainEvents are appended per call. It must be
	// safe to call from the realtime thread.
	Drain(dst []RawEvent, cycleStart time.Time, sampleRate uint32) []RawEvent

	Close() error
}

// MidiOutput is an open MIDI output port.
type MidiOutput interface {
	// Send queues raw MIDI bytes for transmission. It is called from the
	// realtime thread and must not block.
	Send(data []byte) error

	Close() error
}

// RawEvent is one MIDI event as handed over by an adapter.
type RawEvent struct {
	// Frame offset within the current process cycle.
	Frame uint32
	Data  []byte
}

// MidiBackend is one native MIDI subsystem.
type MidiBackend interface {
	// Backend returns the identifier this implementation serves.
	Backend() devices.Backend

	// Enumerate takes a fresh snapshot of the backend's status and ports.
	Enumerate(ctx context.Context) (devices.MidiBackendOptions, error)

	// OpenInput opens the port at portIndex on the identified device.
	OpenInput(ctx context.Context, id devices.DeviceID, portIndex int) (MidiInput, error)

	// OpenOutput opens the port at portIndex on the identified device.
	OpenOutput(ctx context.Context, id devices.DeviceID, portIndex int) (MidiOutput, error)
}
