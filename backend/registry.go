package backend

import (
	"runtime"
	"sync"

	"github.com/rustydaw/rainout/devices"
)

var (
	regMu         sync.RWMutex
	audioBackends = map[devices.Backend]AudioBackend{}
	midiBackends  = map[devices.Backend]MidiBackend{}
)

// RegisterAudio makes an audio backend available under its identifier.
// Adapters call this from init. Registering two implementations for the
// same backend panics.
func RegisterAudio(b AudioBackend) {
	regMu.Lock()
	defer regMu.Unlock()
	id := b.Backend()
	if _, dup := audioBackends[id]; dup {
		panic("backend: duplicate audio backend registration for " + id.String())
	}
	audioBackends[id] = b
	log.Debugf("registered audio backend %s", id)
}

// RegisterMidi makes a MIDI backend available under its identifier.
func RegisterMidi(b MidiBackend) {
	regMu.Lock()
	defer regMu.Unlock()
	id := b.Backend()
	if _, dup := midiBackends[id]; dup {
		panic("backend: duplicate MIDI backend registration for " + id.String())
	}
	midiBackends[id] = b
	log.Debugf("registered MIDI backend %s", id)
}

// UnregisterAudio removes a registration. Intended for tests.
func UnregisterAudio(id devices.Backend) {
	regMu.Lock()
	defer regMu.Unlock()
	delete(audioBackends, id)
}

// UnregisterMidi removes a registration. Intended for tests.
func UnregisterMidi(id devices.Backend) {
	regMu.Lock()
	defer regMu.Unlock()
	delete(midiBackends, id)
}

// Audio returns the registered audio backend for id, if any.
func Audio(id devices.Backend) (AudioBackend, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	b, ok := audioBackends[id]
	return b, ok
}

// Midi returns the registered MIDI backend for id, if any.
func Midi(id devices.Backend) (MidiBackend, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	b, ok := midiBackends[id]
	return b, ok
}

// RegisteredAudio returns the registered audio backends in platform
// preference order.
func RegisteredAudio() []AudioBackend {
	regMu.RLock()
	defer regMu.RUnlock()
	var out []AudioBackend
	for _, id := range PreferenceOrder() {
		if b, ok := audioBackends[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

// RegisteredMidi returns the registered MIDI backends in platform
// preference order.
func RegisteredMidi() []MidiBackend {
	regMu.RLock()
	defer regMu.RUnlock()
	var out []MidiBackend
	for _, id := range PreferenceOrder() {
		if b, ok := midiBackends[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

// PreferenceOrder returns the platform's backend preference order, most
// preferred first. Backends not in the returned list are never selected
// automatically but can still be requested by name.
func PreferenceOrder() []devices.Backend {
	return preferenceOrder(runtime.GOOS)
}

func preferenceOrder(goos string) []devices.Backend {
	switch goos {
	case "linux", "freebsd":
		return []devices.Backend{
			devices.BackendJack,
			devices.BackendPipewire,
			devices.BackendAlsa,
		}
	case "darwin":
		return []devices.Backend{
			devices.BackendCoreAudio,
			devices.BackendJack,
		}
	case "windows":
		return []devices.Backend{
			devices.BackendAsio,
			devices.BackendWasapi,
			devices.BackendJack,
		}
	default:
		return []devices.Backend{
			devices.BackendJack,
			devices.BackendPipewire,
			devices.BackendAlsa,
			devices.BackendCoreAudio,
			devices.BackendWasapi,
			devices.BackendAsio,
		}
	}
}
