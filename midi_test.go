package rainout

import (
	"context"
	"testing"

	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/devices"
	"github.com/rustydaw/rainout/internal/mockbackend"
)

func midiKeys() devices.MidiPortList {
	return devices.MidiPortList{
		{ID: devices.DeviceID{Name: "keys"}, PortIndex: 0},
	}
}

func TestMidiInputFlowsIntoProcess(t *testing.T) {
	mb := setupMidi(t, midiKeys(), midiKeys())

	cfg := DefaultConfig()
	cfg.Midi = &MidiConfig{
		InPorts: Use([]MidiPortSelection{{Device: devices.DeviceID{Name: "keys"}}}),
		OutPorts: Use([]MidiPortSelection{
			{Device: devices.DeviceID{Name: "keys"}},
		}),
	}

	h := &testHandler{}
	var got []RawMidi
	h.procFn = func(proc ProcessInfo) {
		got = append(got[:0], proc.MidiIn[0].Events()...)
		// Echo everything to the output port.
		for _, ev := range got {
			proc.MidiOut[0].Push(ev)
		}
	}

	_, _, stream := startStream(t, cfg, RunOptions{}, h)

	in := mb.Input("keys")
	if in == nil {
		t.Fatal("MIDI input was not opened")
	}
	in.Inject(3, []byte{0x90, 60, 100})
	in.Inject(7, []byte{0x80, 60, 0})

	stream.RunCycle(512)

	if len(got) != 2 {
		t.Fatalf("process saw %d MIDI events, want 2", len(got))
	}
	if got[0].Frame != 3 || got[0].Bytes()[0] != 0x90 {
		t.Errorf("event 0 = frame %d % x", got[0].Frame, got[0].Bytes())
	}

	out := mb.Output("keys")
	if out == nil {
		t.Fatal("MIDI output was not opened")
	}
	if sent := out.Sent(); len(sent) != 2 || sent[1][0] != 0x80 {
		t.Errorf("output port sent %d events (% x), want the 2 echoed ones", len(sent), sent)
	}

	// Buffers are drained fresh each cycle.
	stream.RunCycle(512)
	if len(got) != 0 {
		t.Errorf("second cycle saw %d stale events", len(got))
	}
}

func TestMidiOverflowDropsAndReportsNonfatal(t *testing.T) {
	mb := setupMidi(t, midiKeys(), nil)

	cfg := DefaultConfig()
	cfg.Midi = &MidiConfig{
		InPorts: Use([]MidiPortSelection{{Device: devices.DeviceID{Name: "keys"}}}),
	}

	h := &testHandler{}
	var seen int
	h.procFn = func(proc ProcessInfo) { seen = proc.MidiIn[0].Len() }

	handle, _, stream := startStream(t, cfg, RunOptions{MidiBufferSize: 4}, h)

	in := mb.Input("keys")
	for i := 0; i < 10; i++ {
		in.Inject(uint32(i), []byte{0x90, byte(i), 100})
	}
	stream.RunCycle(512)

	if seen != 4 {
		t.Errorf("process saw %d events, want the buffer capacity of 4", seen)
	}
	if got := handle.Stats().MidiEventsDropped; got != 6 {
		t.Errorf("stats report %d dropped events, want 6", got)
	}

	msg, ok := handle.PollMsg()
	if !ok || msg.Kind != MsgNonfatalError {
		t.Fatalf("got msg %v %v, want a nonfatal overflow report", msg, ok)
	}
	if msg.Err != ErrMidiOverflow {
		t.Errorf("nonfatal error = %v, want ErrMidiOverflow", msg.Err)
	}
}

func TestLateMidiEventClampedToCycleEnd(t *testing.T) {
	mb := setupMidi(t, midiKeys(), nil)

	cfg := DefaultConfig()
	cfg.Midi = &MidiConfig{
		InPorts: Use([]MidiPortSelection{{Device: devices.DeviceID{Name: "keys"}}}),
	}

	h := &testHandler{}
	var got []RawMidi
	h.procFn = func(proc ProcessInfo) {
		got = append(got[:0], proc.MidiIn[0].Events()...)
	}

	_, _, stream := startStream(t, cfg, RunOptions{}, h)

	in := mb.Input("keys")
	in.Inject(99999, []byte{0x90, 60, 100})
	in.Inject(511, []byte{0x80, 60, 0})
	stream.RunCycle(512)

	if len(got) != 2 {
		t.Fatalf("process saw %d events, want 2", len(got))
	}
	if got[0].Frame != 511 {
		t.Errorf("late event landed on frame %d, want clamped to 511", got[0].Frame)
	}
	if got[1].Frame != 511 {
		t.Errorf("in-range event moved to frame %d, want 511", got[1].Frame)
	}

	// A shorter cycle clamps against its own length.
	in.Inject(300, []byte{0x90, 62, 100})
	stream.RunCycle(256)
	if len(got) != 1 || got[0].Frame != 255 {
		t.Errorf("short cycle delivered %v, want one event at frame 255", got)
	}
}

func TestDrainScratchHoldsFullAdapterRing(t *testing.T) {
	mb := setupMidi(t, midiKeys(), nil)

	cfg := DefaultConfig()
	cfg.Midi = &MidiConfig{
		InPorts: Use([]MidiPortSelection{{Device: devices.DeviceID{Name: "keys"}}}),
	}

	h := &testHandler{}
	handle, _, stream := startStream(t, cfg, RunOptions{MidiBufferSize: 4}, h)

	if got := cap(handle.eng.rt.scratch); got < backend.MaxDrainEvents {
		t.Fatalf("drain scratch capacity = %d, want at least %d", got, backend.MaxDrainEvents)
	}

	// A completely full adapter ring must drain without growing the
	// scratch slice.
	in := mb.Input("keys")
	for i := 0; i < backend.MaxDrainEvents; i++ {
		in.Inject(uint32(i%512), []byte{0x90, byte(i), 100})
	}
	before := &handle.eng.rt.scratch[:1][0]
	stream.RunCycle(512)
	after := &handle.eng.rt.scratch[:1][0]
	if before != after {
		t.Error("drain reallocated the scratch slice")
	}
}

func TestChangeMidiPortsClosesOldInputs(t *testing.T) {
	ports := devices.MidiPortList{
		{ID: devices.DeviceID{Name: "keys"}, PortIndex: 0},
		{ID: devices.DeviceID{Name: "pads"}, PortIndex: 0},
	}
	mb := setupMidi(t, ports, nil)

	cfg := DefaultConfig()
	cfg.Midi = &MidiConfig{
		InPorts: Use([]MidiPortSelection{{Device: devices.DeviceID{Name: "keys"}}}),
	}

	h := &testHandler{}
	handle, _, stream := startStream(t, cfg, RunOptions{}, h)

	oldIn := mb.Input("keys")

	done := make(chan error, 1)
	go func() {
		done <- handle.ChangeMidiPorts(context.Background(),
			[]MidiPortSelection{{Device: devices.DeviceID{Name: "pads"}}}, nil)
	}()
	if err := driveUntil(t, stream, 512, done); err != nil {
		t.Fatalf("ChangeMidiPorts: %v", err)
	}

	if !oldIn.Closed() {
		t.Error("old MIDI input left open after the change")
	}
	if mb.Input("pads") == nil {
		t.Error("new MIDI input was not opened")
	}
	if _, changes, _ := h.counts(); changes != 1 {
		t.Errorf("StreamChanged called %d times, want 1", changes)
	}
	if info := handle.StreamInfo(); info.Midi == nil ||
		len(info.Midi.InPorts) != 1 || info.Midi.InPorts[0].Device.Name != "pads" {
		t.Errorf("StreamInfo MIDI = %+v, want the pads port", info.Midi)
	}
}

func TestMissingMidiDeviceDegradesWithSubstitution(t *testing.T) {
	setupMidi(t, midiKeys(), nil)

	cfg := DefaultConfig()
	cfg.Midi = &MidiConfig{
		InPorts: Use([]MidiPortSelection{
			{Device: devices.DeviceID{Name: "keys"}},
			{Device: devices.DeviceID{Name: "ghost"}},
		}),
	}

	h := &testHandler{}
	var lens []int
	h.procFn = func(proc ProcessInfo) {
		lens = lens[:0]
		for _, buf := range proc.MidiIn {
			lens = append(lens, buf.Len())
		}
	}

	_, _, stream := startStream(t, cfg, RunOptions{EmptyBuffersForFailedPorts: true}, h)
	stream.RunCycle(512)

	if len(lens) != 2 {
		t.Fatalf("process saw %d MIDI buffers, want 2 (missing device keeps its slot)", len(lens))
	}
	if lens[1] != 0 {
		t.Errorf("unbacked MIDI slot carried %d events, want an empty buffer", lens[1])
	}
}

func TestMissingMidiDeviceFailsWithoutSubstitution(t *testing.T) {
	setupAudio(t, mockbackend.Device("main", 2, 2))
	setupMidi(t, midiKeys(), nil)

	cfg := DefaultConfig()
	cfg.Midi = &MidiConfig{
		InPorts: Use([]MidiPortSelection{{Device: devices.DeviceID{Name: "ghost"}}}),
	}
	_, err := Resolve(context.Background(), cfg, RunOptions{})
	if err == nil {
		t.Fatal("resolution accepted a missing MIDI device without substitution")
	}
}
