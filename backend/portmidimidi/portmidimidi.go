// Package portmidimidi adapts the PortMidi library as an alternative MIDI
// backend. Unlike the rtmidi adapter it does not register itself on import,
// since both serve the same platform subsystems; call Register with the
// backend identifier it should answer for.
package portmidimidi

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rakyll/portmidi"

	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/devices"
)

// Register makes PortMidi available as the MIDI backend for id. It panics,
// like all backend registrations, when id is already taken.
func Register(id devices.Backend) {
	backend.RegisterMidi(&midiBackend{id: id})
}

type midiBackend struct {
	id devices.Backend
}

func (b *midiBackend) Backend() devices.Backend { return b.id }

// Enumerate walks PortMidi's device table.
func (b *midiBackend) Enumerate(context.Context) (devices.MidiBackendOptions, error) {
	opts := devices.MidiBackendOptions{
		Backend:    b.id,
		DefaultIn:  -1,
		DefaultOut: -1,
	}

	// The library stays initialized for the process lifetime: a
	// Terminate here would tear down streams opened by OpenInput.
	if err := portmidi.Initialize(); err != nil {
		opts.Status = devices.StatusNotRunning
		return opts, nil
	}

	n := portmidi.CountDevices()
	for i := 0; i < n; i++ {
		info := portmidi.Info(portmidi.DeviceID(i))
		if info == nil {
			continue
		}
		port := devices.MidiPortInfo{
			ID:            devices.DeviceID{Name: info.Name},
			PortIndex:     i,
			ControlScheme: devices.MidiControlMidi1,
		}
		if info.IsInputAvailable {
			opts.InPorts = append(opts.InPorts, port)
		}
		if info.IsOutputAvailable {
			opts.OutPorts = append(opts.OutPorts, port)
		}
	}

	if def := portmidi.DefaultInputDeviceID(); def >= 0 {
		for i, p := range opts.InPorts {
			if p.PortIndex == int(def) {
				opts.DefaultIn = i
				break
			}
		}
	}
	if def := portmidi.DefaultOutputDeviceID(); def >= 0 {
		for i, p := range opts.OutPorts {
			if p.PortIndex == int(def) {
				opts.DefaultOut = i
				break
			}
		}
	}

	if len(opts.InPorts)+len(opts.OutPorts) == 0 {
		opts.Status = devices.StatusNoDevices
	} else {
		opts.Status = devices.StatusRunning
	}
	return opts, nil
}

func findDevice(id devices.DeviceID, input bool) (portmidi.DeviceID, error) {
	n := portmidi.CountDevices()
	for i := 0; i < n; i++ {
		info := portmidi.Info(portmidi.DeviceID(i))
		if info == nil || info.Name != id.Name {
			continue
		}
		if input && !info.IsInputAvailable {
			continue
		}
		if !input && !info.IsOutputAvailable {
			continue
		}
		return portmidi.DeviceID(i), nil
	}
	return 0, fmt.Errorf("PortMidi device %q not found", id.Name)
}

const (
	inputRingSize = backend.MaxDrainEvents
	pollInterval  = time.Millisecond
)

func (b *midiBackend) OpenInput(_ context.Context, id devices.DeviceID, _ int) (backend.MidiInput, error) {
	if err := portmidi.Initialize(); err != nil {
		return nil, err
	}
	dev, err := findDevice(id, true)
	if err != nil {
		return nil, err
	}
	stream, err := portmidi.NewInputStream(dev, inputRingSize)
	if err != nil {
		return nil, err
	}

	in := &midiInput{stream: stream, quit: make(chan struct{})}
	go in.pollLoop()
	return in, nil
}

func (b *midiBackend) OpenOutput(_ context.Context, id devices.DeviceID, _ int) (backend.MidiOutput, error) {
	if err := portmidi.Initialize(); err != nil {
		return nil, err
	}
	dev, err := findDevice(id, false)
	if err != nil {
		return nil, err
	}
	stream, err := portmidi.NewOutputStream(dev, inputRingSize, 0)
	if err != nil {
		return nil, err
	}
	return &midiOutput{stream: stream}, nil
}

type queuedEvent struct {
	arrival time.Time
	len     uint8
	data    [8]byte
}

// midiInput pumps PortMidi reads on a poll goroutine into a lock-free
// single-producer/single-consumer ring, keeping Drain safe for the realtime
// thread. PortMidi's own read call is non-blocking but allocates, so it
// never runs on the realtime side.
type midiInput struct {
	stream *portmidi.Stream
	quit   chan struct{}

	buf      [inputRingSize]queuedEvent
	head     atomic.Uint64
	tail     atomic.Uint64
	consumed uint64

	closed atomic.Bool
}

func (in *midiInput) pollLoop() {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-in.quit:
			return
		case <-t.C:
		}
		events, err := in.stream.Read(64)
		if err != nil {
			continue
		}
		now := time.Now()
		for _, ev := range events {
			tail := in.tail.Load()
			if tail-in.head.Load() >= inputRingSize {
				break
			}
			q := &in.buf[tail%inputRingSize]
			q.arrival = now
			q.len = 3
			q.data[0] = byte(ev.Status)
			q.data[1] = byte(ev.Data1)
			q.data[2] = byte(ev.Data2)
			in.tail.Store(tail + 1)
		}
	}
}

func (in *midiInput) Drain(dst []backend.RawEvent, cycleStart time.Time, sampleRate uint32) []backend.RawEvent {
	in.head.Store(in.consumed)

	tail := in.tail.Load()
	for i := in.consumed; i != tail; i++ {
		ev := &in.buf[i%inputRingSize]
		var frame uint32
		if d := ev.arrival.Sub(cycleStart); d > 0 {
			frame = uint32(d.Seconds() * float64(sampleRate))
		}
		dst = append(dst, backend.RawEvent{
			Frame: frame,
			Data:  ev.data[:ev.len],
		})
	}
	in.consumed = tail
	return dst
}

func (in *midiInput) Close() error {
	if !in.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(in.quit)
	return in.stream.Close()
}

type midiOutput struct {
	stream *portmidi.Stream
	closed atomic.Bool
}

func (out *midiOutput) Send(data []byte) error {
	if out.closed.Load() {
		return fmt.Errorf("MIDI output is closed")
	}
	if len(data) == 0 {
		return nil
	}
	var d1, d2 int64
	if len(data) > 1 {
		d1 = int64(data[1])
	}
	if len(data) > 2 {
		d2 = int64(data[2])
	}
	return out.stream.WriteShort(int64(data[0]), d1, d2)
}

func (out *midiOutput) Close() error {
	if !out.closed.CompareAndSwap(false, true) {
		return nil
	}
	return out.stream.Close()
}
