// Package mockbackend provides scriptable audio and MIDI backends for
// tests. Streams are driven manually with RunCycle instead of a hardware
// callback, so tests control cycle timing exactly.
package mockbackend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/devices"
)

// ErrClosed is returned by operations on a closed mock stream or port.
var ErrClosed = errors.New("mockbackend: closed")

// Device builds a device snapshot with the standard test capabilities:
// 44.1k/48k sample rates defaulting to 48k, power-of-two block sizes from
// 32 to 2048 defaulting to 512, and numbered port names ("in_1", "out_1").
func Device(name string, ins, outs int) devices.AudioDeviceInfo {
	d := devices.AudioDeviceInfo{
		ID:                devices.DeviceID{Name: name, Identifier: "mock-" + name},
		SampleRates:       []uint32{44100, 48000},
		DefaultSampleRate: 48000,
		BlockSizes: &devices.BlockSizeRange{
			Min: 32, Max: 2048, Default: 512, MustBePowerOfTwo: true,
		},
	}
	for i := 0; i < ins; i++ {
		d.InPorts = append(d.InPorts, "in_"+digit(i+1))
		d.DefaultInPorts = append(d.DefaultInPorts, i)
	}
	for i := 0; i < outs; i++ {
		d.OutPorts = append(d.OutPorts, "out_"+digit(i+1))
		if i < 2 {
			d.DefaultOutPorts = append(d.DefaultOutPorts, i)
		}
	}
	return d
}

func digit(n int) string {
	return string(rune('0' + n))
}

// AudioBackend is a scriptable in-memory audio backend.
type AudioBackend struct {
	id devices.Backend

	mu      sync.Mutex
	status  devices.BackendStatus
	devs    devices.AudioDeviceList
	linked  bool
	caps    backend.Capabilities
	openErr error
	stream  *AudioStream
}

// NewAudio creates a running backend with full change capabilities and no
// devices.
func NewAudio(id devices.Backend) *AudioBackend {
	return &AudioBackend{
		id:     id,
		status: devices.StatusNoDevices,
		caps: backend.Capabilities{
			ChangeAudioPortConfig: true,
			ChangeBlockSize:       true,
			ChangeMidiPorts:       true,
		},
	}
}

func (b *AudioBackend) Backend() devices.Backend { return b.id }

// SetDevices replaces the device list. A non-empty list flips the status to
// running; an empty one to running-with-no-devices.
func (b *AudioBackend) SetDevices(devs ...devices.AudioDeviceInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devs = devs
	if len(devs) > 0 {
		b.status = devices.StatusRunning
	} else {
		b.status = devices.StatusNoDevices
	}
}

// SetStatus overrides the backend status.
func (b *AudioBackend) SetStatus(s devices.BackendStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
}

// SetLinked marks the backend as supporting linked in/out device pairs.
func (b *AudioBackend) SetLinked(linked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.linked = linked
}

// SetCapabilities overrides the capability flags reported by new streams.
func (b *AudioBackend) SetCapabilities(caps backend.Capabilities) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caps = caps
}

// FailOpen makes the next OpenStream return err.
func (b *AudioBackend) FailOpen(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// Stream returns the most recently opened stream, or nil.
func (b *AudioBackend) Stream() *AudioStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stream
}

func (b *AudioBackend) Enumerate(context.Context) (devices.AudioBackendOptions, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return devices.AudioBackendOptions{
		Backend:             b.id,
		Status:              b.status,
		Devices:             append(devices.AudioDeviceList(nil), b.devs...),
		SupportsLinkedInOut: b.linked,
	}, nil
}

func (b *AudioBackend) OpenStream(ctx context.Context, cfg backend.StreamConfig, fn backend.ProcessFunc) (backend.AudioStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		err := b.openErr
		b.openErr = nil
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	maxFrames := int(cfg.BlockFrames)
	if maxFrames == 0 {
		maxFrames = int(cfg.MaxFrames)
	}
	s := &AudioStream{
		cfg:         cfg,
		fn:          fn,
		caps:        b.caps,
		blockFrames: cfg.BlockFrames,
		in:          make([]float32, maxFrames*max(cfg.InChannels, 1)),
		out:         make([]float32, maxFrames*max(cfg.OutChannels, 1)),
	}
	b.stream = s
	return s, nil
}

// AudioStream is a manually driven stream. Tests call RunCycle to simulate
// one hardware callback.
type AudioStream struct {
	cfg    backend.StreamConfig
	fn     backend.ProcessFunc
	caps   backend.Capabilities
	closed atomic.Bool

	mu          sync.Mutex
	blockFrames uint32
	setBlockErr error
	in          []float32
	out         []float32
}

func (s *AudioStream) SampleRate() uint32 { return s.cfg.SampleRate }

func (s *AudioStream) BlockFrames() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockFrames
}

func (s *AudioStream) SetBlockFrames(frames uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setBlockErr != nil {
		err := s.setBlockErr
		s.setBlockErr = nil
		return err
	}
	s.blockFrames = frames
	return nil
}

// FailSetBlockFrames makes the next SetBlockFrames return err.
func (s *AudioStream) FailSetBlockFrames(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBlockErr = err
}

func (s *AudioStream) Capabilities() backend.Capabilities { return s.caps }

func (s *AudioStream) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *AudioStream) Closed() bool { return s.closed.Load() }

// FillInput writes samples into one native input channel ahead of the next
// RunCycle.
func (s *AudioStream) FillInput(channel int, samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nch := s.cfg.InChannels
	for f, v := range samples {
		idx := f*nch + channel
		if idx < len(s.in) {
			s.in[idx] = v
		}
	}
}

// RunCycle drives one process cycle of frames frames and returns an error
// if the stream is closed. Native input is whatever FillInput left behind;
// native output is captured for Output.
func (s *AudioStream) RunCycle(frames int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inLen := frames * max(s.cfg.InChannels, 1)
	outLen := frames * max(s.cfg.OutChannels, 1)
	if inLen > len(s.in) {
		s.in = make([]float32, inLen)
	}
	if outLen > len(s.out) {
		s.out = make([]float32, outLen)
	}
	s.fn(s.in[:inLen], s.out[:outLen], frames)
	return nil
}

// Output extracts one de-interleaved output channel from the last cycle.
func (s *AudioStream) Output(channel, frames int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	nch := s.cfg.OutChannels
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		idx := f*nch + channel
		if idx < len(s.out) {
			out[f] = s.out[idx]
		}
	}
	return out
}

// MidiBackend is a scriptable in-memory MIDI backend.
type MidiBackend struct {
	id devices.Backend

	mu      sync.Mutex
	status  devices.BackendStatus
	in      devices.MidiPortList
	out     devices.MidiPortList
	defIn   int
	defOut  int
	inputs  map[string]*MidiInput
	outputs map[string]*MidiOutput
}

// NewMidi creates a running MIDI backend with no ports.
func NewMidi(id devices.Backend) *MidiBackend {
	return &MidiBackend{
		id:      id,
		status:  devices.StatusNoDevices,
		defIn:   -1,
		defOut:  -1,
		inputs:  make(map[string]*MidiInput),
		outputs: make(map[string]*MidiOutput),
	}
}

func (b *MidiBackend) Backend() devices.Backend { return b.id }

// SetPorts replaces the port lists. The first entry of each becomes the
// default.
func (b *MidiBackend) SetPorts(in, out devices.MidiPortList) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.in, b.out = in, out
	b.defIn, b.defOut = -1, -1
	if len(in) > 0 {
		b.defIn = 0
	}
	if len(out) > 0 {
		b.defOut = 0
	}
	if len(in)+len(out) > 0 {
		b.status = devices.StatusRunning
	} else {
		b.status = devices.StatusNoDevices
	}
}

func (b *MidiBackend) Enumerate(context.Context) (devices.MidiBackendOptions, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return devices.MidiBackendOptions{
		Backend:    b.id,
		Status:     b.status,
		InPorts:    append(devices.MidiPortList(nil), b.in...),
		OutPorts:   append(devices.MidiPortList(nil), b.out...),
		DefaultIn:  b.defIn,
		DefaultOut: b.defOut,
	}, nil
}

func (b *MidiBackend) OpenInput(_ context.Context, id devices.DeviceID, portIndex int) (backend.MidiInput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	in := &MidiInput{}
	b.inputs[id.Name] = in
	_ = portIndex
	return in, nil
}

func (b *MidiBackend) OpenOutput(_ context.Context, id devices.DeviceID, portIndex int) (backend.MidiOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := &MidiOutput{}
	b.outputs[id.Name] = out
	_ = portIndex
	return out, nil
}

// Input returns the opened input for a device name, or nil.
func (b *MidiBackend) Input(name string) *MidiInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputs[name]
}

// Output returns the opened output for a device name, or nil.
func (b *MidiBackend) Output(name string) *MidiOutput {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputs[name]
}

// MidiInput queues injected events and hands them over on Drain.
type MidiInput struct {
	mu     sync.Mutex
	queue  []backend.RawEvent
	closed bool
}

// Inject queues one event for the next Drain.
func (in *MidiInput) Inject(frame uint32, data []byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.queue = append(in.queue, backend.RawEvent{
		Frame: frame,
		Data:  append([]byte(nil), data...),
	})
}

func (in *MidiInput) Drain(dst []backend.RawEvent, _ time.Time, _ uint32) []backend.RawEvent {
	in.mu.Lock()
	defer in.mu.Unlock()
	n := len(in.queue)
	if n > backend.MaxDrainEvents {
		n = backend.MaxDrainEvents
	}
	dst = append(dst, in.queue[:n]...)
	in.queue = in.queue[:copy(in.queue, in.queue[n:])]
	return dst
}

func (in *MidiInput) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	return nil
}

// Closed reports whether Close was called.
func (in *MidiInput) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// MidiOutput records every sent event.
type MidiOutput struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func (out *MidiOutput) Send(data []byte) error {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.closed {
		return ErrClosed
	}
	out.sent = append(out.sent, append([]byte(nil), data...))
	return nil
}

// Sent returns copies of every event sent so far.
func (out *MidiOutput) Sent() [][]byte {
	out.mu.Lock()
	defer out.mu.Unlock()
	return append([][]byte(nil), out.sent...)
}

func (out *MidiOutput) Close() error {
	out.mu.Lock()
	defer out.mu.Unlock()
	out.closed = true
	return nil
}
