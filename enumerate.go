package rainout

import (
	"context"

	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/devices"
)

// AvailableAudioBackends returns the audio backends compiled into this
// binary, in platform preference order.
func AvailableAudioBackends() []devices.Backend {
	var out []devices.Backend
	for _, b := range backend.RegisteredAudio() {
		out = append(out, b.Backend())
	}
	return out
}

// AvailableMidiBackends returns the MIDI backends compiled into this
// binary, in platform preference order.
func AvailableMidiBackends() []devices.Backend {
	var out []devices.Backend
	for _, b := range backend.RegisteredMidi() {
		out = append(out, b.Backend())
	}
	return out
}

// EnumerateAudioBackend re-scans the live state of one audio backend. No
// result is cached; every call produces a fresh snapshot.
func EnumerateAudioBackend(ctx context.Context, id devices.Backend) (devices.AudioBackendOptions, error) {
	b, ok := backend.Audio(id)
	if !ok {
		return devices.AudioBackendOptions{}, &BackendUnavailableError{
			Backend: id, Status: devices.StatusNotInstalled,
		}
	}
	return b.Enumerate(ctx)
}

// EnumerateMidiBackend re-scans the live state of one MIDI backend.
func EnumerateMidiBackend(ctx context.Context, id devices.Backend) (devices.MidiBackendOptions, error) {
	b, ok := backend.Midi(id)
	if !ok {
		return devices.MidiBackendOptions{}, &BackendUnavailableError{
			Backend: id, Status: devices.StatusNotInstalled,
		}
	}
	return b.Enumerate(ctx)
}

// FindPreferredAudioBackend walks the preference-ordered backend list and
// selects the first one that is running with at least one device. If none
// qualify it falls back to the first backend that is running with no
// devices, so a usable server is still surfaced. When nothing is running it
// fails with a BackendUnavailableError.
func FindPreferredAudioBackend(ctx context.Context) (devices.AudioBackendOptions, error) {
	var fallback *devices.AudioBackendOptions
	for _, b := range backend.RegisteredAudio() {
		opts, err := b.Enumerate(ctx)
		if err != nil {
			log.Debugf("enumerating %s failed: %v", b.Backend(), err)
			continue
		}
		switch opts.Status {
		case devices.StatusRunning:
			if len(opts.Devices) > 0 {
				return opts, nil
			}
			// Running but deviceless enumerations report
			// StatusRunning with an empty list on some backends.
			if fallback == nil {
				o := opts
				o.Status = devices.StatusNoDevices
				fallback = &o
			}
		case devices.StatusNoDevices:
			if fallback == nil {
				o := opts
				fallback = &o
			}
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return devices.AudioBackendOptions{}, &BackendUnavailableError{
		Backend: devices.BackendUnknown,
		Status:  devices.StatusNotRunning,
	}
}

// FindPreferredMidiBackend applies the same two-tier fallback to the MIDI
// backends: first a running backend with ports, then a running one without.
func FindPreferredMidiBackend(ctx context.Context) (devices.MidiBackendOptions, error) {
	var fallback *devices.MidiBackendOptions
	for _, b := range backend.RegisteredMidi() {
		opts, err := b.Enumerate(ctx)
		if err != nil {
			log.Debugf("enumerating %s failed: %v", b.Backend(), err)
			continue
		}
		switch opts.Status {
		case devices.StatusRunning:
			if len(opts.InPorts)+len(opts.OutPorts) > 0 {
				return opts, nil
			}
			if fallback == nil {
				o := opts
				o.Status = devices.StatusNoDevices
				fallback = &o
			}
		case devices.StatusNoDevices:
			if fallback == nil {
				o := opts
				fallback = &o
			}
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return devices.MidiBackendOptions{}, &BackendUnavailableError{
		Backend: devices.BackendUnknown,
		Status:  devices.StatusNotRunning,
	}
}
