// Package gomidimidi adapts the gomidi rtmidi driver as a MIDI backend.
// Importing the package registers it for the platform's native subsystem
// (ALSA on Linux, CoreAudio on macOS, WASAPI on Windows), matching the
// audio registration so a fully automatic session lands both on the same
// backend identifier.
package gomidimidi

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/devices"
)

func init() {
	if id := platformBackend(); id != devices.BackendUnknown {
		backend.RegisterMidi(&midiBackend{id: id})
	}
}

func platformBackend() devices.Backend {
	switch runtime.GOOS {
	case "linux", "freebsd":
		return devices.BackendAlsa
	case "darwin":
		return devices.BackendCoreAudio
	case "windows":
		return devices.BackendWasapi
	default:
		return devices.BackendUnknown
	}
}

type midiBackend struct {
	id devices.Backend
}

func (b *midiBackend) Backend() devices.Backend { return b.id }

// Enumerate opens a fresh rtmidi driver, lists its ports, and closes it
// again. Nothing is cached between calls.
func (b *midiBackend) Enumerate(context.Context) (devices.MidiBackendOptions, error) {
	opts := devices.MidiBackendOptions{
		Backend:    b.id,
		DefaultIn:  -1,
		DefaultOut: -1,
	}

	drv, err := rtmididrv.New()
	if err != nil {
		opts.Status = devices.StatusNotRunning
		return opts, nil
	}
	defer drv.Close()

	ins, err := drv.Ins()
	if err != nil {
		return opts, err
	}
	for _, in := range ins {
		opts.InPorts = append(opts.InPorts, devices.MidiPortInfo{
			ID:            devices.DeviceID{Name: in.String()},
			PortIndex:     in.Number(),
			ControlScheme: devices.MidiControlMidi1,
		})
	}

	outs, err := drv.Outs()
	if err != nil {
		return opts, err
	}
	for _, out := range outs {
		opts.OutPorts = append(opts.OutPorts, devices.MidiPortInfo{
			ID:            devices.DeviceID{Name: out.String()},
			PortIndex:     out.Number(),
			ControlScheme: devices.MidiControlMidi1,
		})
	}

	if len(opts.InPorts) > 0 {
		opts.DefaultIn = 0
	}
	if len(opts.OutPorts) > 0 {
		opts.DefaultOut = 0
	}
	if len(opts.InPorts)+len(opts.OutPorts) == 0 {
		opts.Status = devices.StatusNoDevices
	} else {
		opts.Status = devices.StatusRunning
	}
	return opts, nil
}

func (b *midiBackend) OpenInput(_ context.Context, id devices.DeviceID, portIndex int) (backend.MidiInput, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, err
	}

	port, err := findIn(drv, id, portIndex)
	if err != nil {
		drv.Close()
		return nil, err
	}
	if err := port.Open(); err != nil {
		drv.Close()
		return nil, err
	}

	in := newMidiInput(drv, port)
	stop, err := midi.ListenTo(port, in.onMessage, midi.HandleError(func(listenErr error) {
		log.Warnf("MIDI listener error on %s: %v", id, listenErr)
	}))
	if err != nil {
		port.Close()
		drv.Close()
		return nil, err
	}
	in.stop = stop
	return in, nil
}

func (b *midiBackend) OpenOutput(_ context.Context, id devices.DeviceID, portIndex int) (backend.MidiOutput, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, err
	}

	port, err := findOut(drv, id, portIndex)
	if err != nil {
		drv.Close()
		return nil, err
	}
	if err := port.Open(); err != nil {
		drv.Close()
		return nil, err
	}
	return &midiOutput{drv: drv, port: port}, nil
}

func findIn(drv *rtmididrv.Driver, id devices.DeviceID, portIndex int) (drivers.In, error) {
	ins, err := drv.Ins()
	if err != nil {
		return nil, err
	}
	for _, in := range ins {
		if in.String() == id.Name && in.Number() == portIndex {
			return in, nil
		}
	}
	// Names shift when devices come and go; fall back to name alone.
	for _, in := range ins {
		if in.String() == id.Name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("MIDI input %q not found", id.Name)
}

func findOut(drv *rtmididrv.Driver, id devices.DeviceID, portIndex int) (drivers.Out, error) {
	outs, err := drv.Outs()
	if err != nil {
		return nil, err
	}
	for _, out := range outs {
		if out.String() == id.Name && out.Number() == portIndex {
			return out, nil
		}
	}
	for _, out := range outs {
		if out.String() == id.Name {
			return out, nil
		}
	}
	return nil, fmt.Errorf("MIDI output %q not found", id.Name)
}

// inputRingSize bounds events held between process cycles, keeping a full
// Drain within the runtime's preallocated scratch. Overflow drops new
// events until the next Drain.
const inputRingSize = backend.MaxDrainEvents

type queuedEvent struct {
	arrival time.Time
	len     uint8
	data    [8]byte
}

// midiInput buffers listener-thread events in a lock-free single-producer/
// single-consumer ring so Drain stays safe to call from the realtime
// thread.
type midiInput struct {
	drv  *rtmididrv.Driver
	port drivers.In
	stop func()

	buf  [inputRingSize]queuedEvent
	head atomic.Uint64
	tail atomic.Uint64

	// consumed tracks slots handed out by the previous Drain. They are
	// released on the next call, after the engine has copied the event
	// bytes out, since the returned events alias ring storage.
	consumed uint64

	closed atomic.Bool
}

func newMidiInput(drv *rtmididrv.Driver, port drivers.In) *midiInput {
	return &midiInput{drv: drv, port: port}
}

// onMessage runs on the rtmidi listener thread, the ring's only producer.
func (in *midiInput) onMessage(msg midi.Message, _ int32) {
	data := msg.Bytes()
	if len(data) == 0 || len(data) > 8 {
		return
	}
	tail := in.tail.Load()
	if tail-in.head.Load() >= inputRingSize {
		return
	}
	ev := &in.buf[tail%inputRingSize]
	ev.arrival = time.Now()
	ev.len = uint8(len(data))
	copy(ev.data[:], data)
	in.tail.Store(tail + 1)
}

// Drain hands pending events to the realtime consumer, tagging each with a
// frame offset derived from its arrival time relative to the cycle start.
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
	if in.stop != nil {
		in.stop()
	}
	err := in.port.Close()
	in.drv.Close()
	return err
}

type midiOutput struct {
	drv    *rtmididrv.Driver
	port   drivers.Out
	closed atomic.Bool
}

func (out *midiOutput) Send(data []byte) error {
	if out.closed.Load() {
		return fmt.Errorf("MIDI output is closed")
	}
	return out.port.Send(data)
}

func (out *midiOutput) Close() error {
	if !out.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := out.port.Close()
	out.drv.Close()
	return err
}
