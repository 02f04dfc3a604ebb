package configfile

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	rainout "github.com/rustydaw/rainout"
	"github.com/rustydaw/rainout/devices"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := rainout.Config{
		Backend: rainout.Use(devices.BackendJack),
		Device: rainout.AudioDeviceSelection{
			Single: rainout.Use(devices.DeviceID{Name: "Scarlett 2i2", Identifier: "usb-1234"}),
		},
		SampleRate:          rainout.Use(uint32(48000)),
		BlockSize:           rainout.Use(uint32(256)),
		InPorts:             rainout.Use([]string{"in_1", "in_2"}),
		OutPorts:            rainout.Use([]string{"out_1", "out_2"}),
		TakeExclusiveAccess: true,
		Midi: &rainout.MidiConfig{
			Backend: rainout.Use(devices.BackendJack),
			InPorts: rainout.Use([]rainout.MidiPortSelection{
				{Device: devices.DeviceID{Name: "nanoKEY"}, PortIndex: 1},
			}),
		},
	}
	opts := rainout.RunOptions{
		AutoAudioInputs:      true,
		MustHaveStereoOutput: true,
		FallbackBlockSize:    2048,
		MidiBufferSize:       512,
	}

	path := filepath.Join(t.TempDir(), "session.toml")
	if err := Save(path, cfg, opts); err != nil {
		t.Fatalf("Save: %v", err)
	}

	gotCfg, gotOpts, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(gotCfg, cfg) {
		t.Errorf("config changed across round trip:\n got %+v\nwant %+v", gotCfg, cfg)
	}
	if !reflect.DeepEqual(gotOpts, opts) {
		t.Errorf("options changed across round trip:\n got %+v\nwant %+v", gotOpts, opts)
	}
}

func TestLoadSparseFileLeavesFieldsAutomatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	body := "[audio]\nbackend = \"Jack\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if b, ok := cfg.Backend.Value(); !ok || b != devices.BackendJack {
		t.Errorf("backend = %v, %v, want Jack", b, ok)
	}
	if !cfg.Device.Single.IsAuto() || !cfg.Device.Linked.IsAuto() {
		t.Error("device selection should stay automatic")
	}
	if !cfg.SampleRate.IsAuto() || !cfg.BlockSize.IsAuto() {
		t.Error("sample rate and block size should stay automatic")
	}
	if !cfg.InPorts.IsAuto() || !cfg.OutPorts.IsAuto() {
		t.Error("ports should stay automatic")
	}
	if cfg.Midi != nil {
		t.Error("MIDI section should stay nil")
	}
}

func TestLoadLinkedDevices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	body := `[audio]
[audio.input_device]
name = "Mic"
[audio.output_device]
name = "Speakers"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	pair, ok := cfg.Device.Linked.Value()
	if !ok {
		t.Fatal("linked selection not set")
	}
	if in, ok := pair.Input.Value(); !ok || in.Name != "Mic" {
		t.Errorf("input = %v, %v", in, ok)
	}
	if out, ok := pair.Output.Value(); !ok || out.Name != "Speakers" {
		t.Errorf("output = %v, %v", out, ok)
	}
}

func TestLoadRejectsConflictingDeviceStyles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	body := `[audio]
[audio.device]
name = "Duplex"
[audio.input_device]
name = "Mic"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for conflicting device styles")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	body := "[audio]\nbackend = \"Gramophone\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestWatcherDebouncesReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	write := func(rate uint32) {
		t.Helper()
		cfg := rainout.Config{SampleRate: rainout.Use(rate)}
		if err := Save(path, cfg, rainout.RunOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	write(44100)

	w := NewWatcher(path, WithDebounce(50*time.Millisecond))
	reloads := make(chan rainout.Config, 16)
	unsub := w.OnReload(func(cfg rainout.Config, _ rainout.RunOptions) {
		reloads <- cfg
	})
	defer unsub()

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// A burst of writes inside the debounce window should collapse into a
	// single reload carrying the final contents.
	write(48000)
	write(88200)
	write(96000)

	select {
	case cfg := <-reloads:
		if rate, _ := cfg.SampleRate.Value(); rate != 96000 {
			t.Errorf("reloaded sample rate = %d, want 96000", rate)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload delivered")
	}

	select {
	case <-reloads:
		t.Error("burst of writes produced more than one reload")
	case <-time.After(200 * time.Millisecond):
	}
}
