package backend

import (
	"context"
	"testing"

	"github.com/rustydaw/rainout/devices"
)

func TestPreferenceOrderPerPlatform(t *testing.T) {
	tests := []struct {
		goos  string
		first devices.Backend
	}{
		{"linux", devices.BackendJack},
		{"freebsd", devices.BackendJack},
		{"darwin", devices.BackendCoreAudio},
		{"windows", devices.BackendAsio},
		{"plan9", devices.BackendJack},
	}
	for _, tt := range tests {
		order := preferenceOrder(tt.goos)
		if len(order) == 0 {
			t.Fatalf("preferenceOrder(%q) is empty", tt.goos)
		}
		if order[0] != tt.first {
			t.Errorf("preferenceOrder(%q)[0] = %v, want %v", tt.goos, order[0], tt.first)
		}
		seen := map[devices.Backend]bool{}
		for _, b := range order {
			if seen[b] {
				t.Errorf("preferenceOrder(%q) lists %v twice", tt.goos, b)
			}
			seen[b] = true
		}
	}
}

type stubAudioBackend struct{ id devices.Backend }

func (s stubAudioBackend) Backend() devices.Backend { return s.id }
func (s stubAudioBackend) Enumerate(context.Context) (devices.AudioBackendOptions, error) {
	return devices.AudioBackendOptions{Backend: s.id, Status: devices.StatusNoDevices}, nil
}
func (s stubAudioBackend) OpenStream(context.Context, StreamConfig, ProcessFunc) (AudioStream, error) {
	return nil, nil
}

func TestRegisterAudioDuplicatePanics(t *testing.T) {
	RegisterAudio(stubAudioBackend{id: devices.BackendAsio})
	defer UnregisterAudio(devices.BackendAsio)

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	RegisterAudio(stubAudioBackend{id: devices.BackendAsio})
}

func TestRegisteredAudioFollowsPreferenceOrder(t *testing.T) {
	RegisterAudio(stubAudioBackend{id: devices.BackendWasapi})
	RegisterAudio(stubAudioBackend{id: devices.BackendJack})
	defer UnregisterAudio(devices.BackendWasapi)
	defer UnregisterAudio(devices.BackendJack)

	got := RegisteredAudio()
	order := PreferenceOrder()
	pos := func(id devices.Backend) int {
		for i, b := range order {
			if b == id {
				return i
			}
		}
		return -1
	}
	last := -1
	for _, b := range got {
		p := pos(b.Backend())
		if p < 0 {
			t.Fatalf("RegisteredAudio returned %v which is not in the preference order", b.Backend())
		}
		if p < last {
			t.Fatalf("RegisteredAudio out of preference order: %v", got)
		}
		last = p
	}
}
