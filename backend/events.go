package backend

import (
	"github.com/kelindar/event"

	"github.com/rustydaw/rainout/devices"
)

// Event type codes for the device bus.
const (
	evAudioDevicesChanged uint32 = iota + 1
	evMidiPortsChanged
)

// AudioDevicesChanged is published on a Bus when a fresh enumeration pass
// observes a different audio device list for a backend.
type AudioDevicesChanged struct {
	Backend devices.Backend
	Devices devices.AudioDeviceList
}

// Type implements event.Event.
func (AudioDevicesChanged) Type() uint32 { return evAudioDevicesChanged }

// MidiPortsChanged is published on a Bus when a fresh enumeration pass
// observes a different MIDI port list for a backend.
type MidiPortsChanged struct {
	Backend  devices.Backend
	InPorts  devices.MidiPortList
	OutPorts devices.MidiPortList
}

// Type implements event.Event.
func (MidiPortsChanged) Type() uint32 { return evMidiPortsChanged }

// Bus carries device-list change notifications to application subscribers.
// Delivery is asynchronous; subscribers must not assume they run on any
// particular goroutine.
type Bus struct {
	d *event.Dispatcher
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{d: event.NewDispatcher()}
}

// PublishAudioDevicesChanged notifies subscribers of a new audio device list.
func (b *Bus) PublishAudioDevicesChanged(ev AudioDevicesChanged) {
	event.Publish(b.d, ev)
}

// PublishMidiPortsChanged notifies subscribers of a new MIDI port list.
func (b *Bus) PublishMidiPortsChanged(ev MidiPortsChanged) {
	event.Publish(b.d, ev)
}

// SubscribeAudioDevicesChanged registers fn for audio device list changes.
// The returned function cancels the subscription.
func (b *Bus) SubscribeAudioDevicesChanged(fn func(AudioDevicesChanged)) func() {
	return event.Subscribe(b.d, fn)
}

// SubscribeMidiPortsChanged registers fn for MIDI port list changes. The
// returned function cancels the subscription.
func (b *Bus) SubscribeMidiPortsChanged(fn func(MidiPortsChanged)) func() {
	return event.Subscribe(b.d, fn)
}
