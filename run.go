package rainout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/devices"
)

// StreamStats is a snapshot of the running counters of a stream.
type StreamStats struct {
	// Cycles is the number of completed process cycles.
	Cycles uint64

	// Frames is the total number of frames processed.
	Frames uint64

	// Xruns counts detected realtime overruns.
	Xruns uint64

	// MidiEventsDropped counts MIDI events lost to buffer overflow or
	// failed sends.
	MidiEventsDropped uint64

	// MsgsDropped counts status notifications lost to message ring
	// overflow. Terminal notifications are never dropped.
	MsgsDropped uint64
}

// StreamHandle owns a running stream: the realtime callback registration,
// the consumer end of the message channel, and the device monitor. Closing
// the handle is the only sanctioned way to stop the stream.
type StreamHandle struct {
	// id uniquely names this stream for logs and metrics labels.
	id string

	mu       sync.Mutex
	closed   bool
	resolved ResolvedConfig
	opts     RunOptions
	genCtr   uint64

	eng     *engine
	stream  backend.AudioStream
	audioB  backend.AudioBackend
	midiB   backend.MidiBackend
	midiIn  []backend.MidiInput
	midiOut []backend.MidiOutput
	monitor *deviceMonitor

	info atomic.Pointer[StreamInfo]
}

// Run resolves cfg, opens the backend device(s), and starts the stream.
// The handler's Init is called exactly once, with the final session
// description, before the first process cycle.
//
// On any error no stream exists and no partial state is left behind.
func Run(ctx context.Context, cfg Config, opts RunOptions, handler ProcessHandler) (*StreamHandle, error) {
	opts = opts.withDefaults()

	resolved, err := Resolve(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	audioB, ok := backend.Audio(resolved.Backend)
	if !ok {
		return nil, &BackendUnavailableError{
			Backend: resolved.Backend, Status: devices.StatusNotInstalled,
		}
	}

	eng := newEngine(resolved, opts, handler)
	eng.state.Store(int32(engineInitializing))

	openCtx, cancel := context.WithTimeout(ctx, opts.DeviceOpenTimeout)
	defer cancel()

	h := &StreamHandle{
		id:       uuid.NewString(),
		eng:      eng,
		audioB:   audioB,
		resolved: resolved,
		opts:     opts,
	}

	if resolved.Midi != nil {
		midiB, ok := backend.Midi(resolved.Midi.Backend)
		if !ok {
			return nil, &BackendUnavailableError{
				Backend: resolved.Midi.Backend, Status: devices.StatusNotInstalled,
			}
		}
		h.midiB = midiB
		h.midiIn, h.midiOut, err = openMidiPorts(openCtx, midiB, *resolved.Midi)
		if err != nil {
			closeMidiPorts(h.midiIn, h.midiOut)
			return nil, err
		}
		copy(eng.rt.midiInputs, h.midiIn)
		copy(eng.rt.midiOutputs, h.midiOut)
	}

	stream, err := audioB.OpenStream(openCtx, backend.StreamConfig{
		InputDevice:  resolved.InputDevice,
		OutputDevice: resolved.OutputDevice,
		InChannels:   resolved.InChannels,
		OutChannels:  resolved.OutChannels,
		SampleRate:   resolved.SampleRate,
		BlockFrames:  resolved.BlockSize,
		MaxFrames:    uint32(resolved.MaxFrames()),
	}, eng.process)
	if err != nil {
		closeMidiPorts(h.midiIn, h.midiOut)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "open stream", Backend: resolved.Backend}
		}
		return nil, err
	}
	h.stream = stream

	if granted := stream.BlockFrames(); granted != 0 && granted != resolved.BlockSize {
		log.Infof("backend granted block size %d instead of %d", granted, resolved.BlockSize)
	}

	// Init runs only once every device is open. The engine is not Running
	// yet, so any callback the backend fires before this point emits
	// silence and never reaches the handler.
	info := streamInfoFor(resolved, opts.MidiBufferSize)
	h.info.Store(&info)
	handler.Init(info)

	eng.state.Store(int32(engineRunning))

	h.monitor = newDeviceMonitor(eng, audioB, h.midiB, watchSetFor(resolved))
	go h.monitor.run()

	log.Infof("stream %s running on %s: %s @ %d Hz", h.id, resolved.Backend,
		resolved.OutputDevice, resolved.SampleRate)
	return h, nil
}

func openMidiPorts(ctx context.Context, midiB backend.MidiBackend, m ResolvedMidi) ([]backend.MidiInput, []backend.MidiOutput, error) {
	ins := make([]backend.MidiInput, len(m.InPorts))
	outs := make([]backend.MidiOutput, len(m.OutPorts))
	for i, p := range m.InPorts {
		if !p.Found {
			continue
		}
		in, err := midiB.OpenInput(ctx, p.Device, p.PortIndex)
		if err != nil {
			return ins, outs, fmt.Errorf("opening MIDI input %s: %w", p.Device, err)
		}
		ins[i] = in
	}
	for i, p := range m.OutPorts {
		if !p.Found {
			continue
		}
		out, err := midiB.OpenOutput(ctx, p.Device, p.PortIndex)
		if err != nil {
			return ins, outs, fmt.Errorf("opening MIDI output %s: %w", p.Device, err)
		}
		outs[i] = out
	}
	return ins, outs, nil
}

func closeMidiPorts(ins []backend.MidiInput, outs []backend.MidiOutput) {
	for _, in := range ins {
		if in != nil {
			in.Close()
		}
	}
	for _, out := range outs {
		if out != nil {
			out.Close()
		}
	}
}

// ID returns the stream's unique identifier, suitable as a metrics label.
func (h *StreamHandle) ID() string {
	return h.id
}

// StreamInfo returns the current session description. Safe to call from any
// goroutine.
func (h *StreamHandle) StreamInfo() StreamInfo {
	return *h.info.Load()
}

// PollMsg returns the next pending stream notification. Terminal messages
// are delivered ahead of queued status messages.
func (h *StreamHandle) PollMsg() (StreamMsg, bool) {
	return h.eng.msgs.poll()
}

// Stats returns a snapshot of the stream's running counters.
func (h *StreamHandle) Stats() StreamStats {
	return StreamStats{
		Cycles:            h.eng.stats.cycles.Load(),
		Frames:            h.eng.stats.frames.Load(),
		Xruns:             h.eng.stats.xruns.Load(),
		MidiEventsDropped: h.eng.stats.midiDropped.Load(),
		MsgsDropped:       h.eng.msgs.droppedCount(),
	}
}

// DeviceBus returns the bus carrying device-list change events observed by
// the stream's device monitor.
func (h *StreamHandle) DeviceBus() *backend.Bus {
	return h.monitor.bus
}

// State returns the engine lifecycle state as a string, for diagnostics.
func (h *StreamHandle) State() string {
	return h.eng.currentState().String()
}

// CanChangeAudioPortConfig reports whether the running backend supports
// live port set changes.
func (h *StreamHandle) CanChangeAudioPortConfig() bool {
	return h.stream.Capabilities().ChangeAudioPortConfig
}

// CanChangeBlockSize reports whether the running backend supports live
// block size changes.
func (h *StreamHandle) CanChangeBlockSize() bool {
	return h.stream.Capabilities().ChangeBlockSize
}

// CanChangeMidiPorts reports whether the running backend supports live
// MIDI port set changes.
func (h *StreamHandle) CanChangeMidiPorts() bool {
	return h.stream.Capabilities().ChangeMidiPorts
}

// ChangeAudioPortConfig swaps the stream's port set. The change is
// validated first and the running stream is untouched on failure; on
// success it is applied atomically at a cycle boundary and the handler's
// StreamChanged is called exactly once before the next process cycle.
func (h *StreamHandle) ChangeAudioPortConfig(ctx context.Context, inPorts, outPorts []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.changeable(); err != nil {
		return err
	}
	if !h.stream.Capabilities().ChangeAudioPortConfig {
		return ErrChangeNotSupported
	}

	bo, err := h.audioB.Enumerate(ctx)
	if err != nil {
		return err
	}
	inDev := bo.Devices.ByID(h.resolved.InputDevice)
	outDev := bo.Devices.ByID(h.resolved.OutputDevice)
	if inDev == nil {
		return &DeviceNotFoundError{Backend: h.resolved.Backend, Device: h.resolved.InputDevice}
	}
	if outDev == nil {
		return &DeviceNotFoundError{Backend: h.resolved.Backend, Device: h.resolved.OutputDevice}
	}

	next := h.resolved
	next.InPorts, err = resolvePorts(inDev, Use(inPorts), true, h.opts)
	if err != nil {
		return err
	}
	next.OutPorts, err = resolvePorts(outDev, Use(outPorts), false, h.opts)
	if err != nil {
		return err
	}

	maxFrames := next.MaxFrames()
	info := streamInfoFor(next, h.opts.MidiBufferSize)
	cmd := engineCmd{
		kind:     cmdChangePorts,
		inPorts:  next.InPorts,
		outPorts: next.OutPorts,
		in:       allocPortBuffers(len(next.InPorts), maxFrames),
		out:      allocPortBuffers(len(next.OutPorts), maxFrames),
		inSilent: make([]bool, len(next.InPorts)),
		info:     &info,
	}
	if err := h.pushAndWait(ctx, cmd); err != nil {
		return err
	}
	h.resolved = next
	h.info.Store(&info)
	return nil
}

// ChangeBlockSize swaps the stream's fixed block size, validated against
// the device's reported range.
func (h *StreamHandle) ChangeBlockSize(ctx context.Context, frames uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.changeable(); err != nil {
		return err
	}
	if !h.stream.Capabilities().ChangeBlockSize {
		return ErrChangeNotSupported
	}

	bo, err := h.audioB.Enumerate(ctx)
	if err != nil {
		return err
	}
	dev := bo.Devices.ByID(h.resolved.OutputDevice)
	if dev == nil {
		return &DeviceNotFoundError{Backend: h.resolved.Backend, Device: h.resolved.OutputDevice}
	}
	if dev.BlockSizes != nil && !dev.BlockSizes.Contains(frames) {
		return &InvalidBlockSizeError{Device: dev.ID, Requested: frames, Range: *dev.BlockSizes}
	}

	// The backend applies the new size first so the hardware callback and
	// the engine switch over within the same change. If the backend
	// refuses, nothing was enqueued and the stream is untouched.
	prev := h.stream.BlockFrames()
	if err := h.stream.SetBlockFrames(frames); err != nil {
		return err
	}

	next := h.resolved
	next.BlockSize = frames
	next.MaxBlockSize = frames
	info := streamInfoFor(next, h.opts.MidiBufferSize)
	cmd := engineCmd{
		kind:   cmdChangeBlockSize,
		frames: int(frames),
		in:     allocPortBuffers(len(next.InPorts), int(frames)),
		out:    allocPortBuffers(len(next.OutPorts), int(frames)),
		info:   &info,
	}
	if err := h.pushAndWait(ctx, cmd); err != nil {
		if rbErr := h.stream.SetBlockFrames(prev); rbErr != nil {
			log.Warnf("restoring block size %d after failed change: %v", prev, rbErr)
		}
		return err
	}
	h.resolved = next
	h.info.Store(&info)
	return nil
}

// ChangeMidiPorts swaps the stream's MIDI port set. New ports are opened
// before the swap; the old ports are closed after the engine has picked up
// the replacement, so the realtime side never touches a closed port.
func (h *StreamHandle) ChangeMidiPorts(ctx context.Context, inPorts, outPorts []MidiPortSelection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.changeable(); err != nil {
		return err
	}
	if !h.stream.Capabilities().ChangeMidiPorts {
		return ErrChangeNotSupported
	}
	if h.resolved.Midi == nil || h.midiB == nil {
		return ErrChangeNotSupported
	}

	bo, err := h.midiB.Enumerate(ctx)
	if err != nil {
		return err
	}
	nextMidi := ResolvedMidi{Backend: h.resolved.Midi.Backend}
	nextMidi.InPorts, err = resolveMidiPorts(bo.Backend, bo.InPorts, inPorts, h.opts)
	if err != nil {
		return err
	}
	nextMidi.OutPorts, err = resolveMidiPorts(bo.Backend, bo.OutPorts, outPorts, h.opts)
	if err != nil {
		return err
	}

	newIns, newOuts, err := openMidiPorts(ctx, h.midiB, nextMidi)
	if err != nil {
		closeMidiPorts(newIns, newOuts)
		return err
	}

	next := h.resolved
	next.Midi = &nextMidi
	info := streamInfoFor(next, h.opts.MidiBufferSize)
	cmd := engineCmd{
		kind:         cmdChangeMidi,
		midiInPorts:  nextMidi.InPorts,
		midiOutPorts: nextMidi.OutPorts,
		midiIn:       allocMidiBuffers(len(nextMidi.InPorts), h.opts.MidiBufferSize),
		midiOut:      allocMidiBuffers(len(nextMidi.OutPorts), h.opts.MidiBufferSize),
		midiInputs:   newIns,
		midiOutputs:  newOuts,
		info:         &info,
	}
	if err := h.pushAndWait(ctx, cmd); err != nil {
		closeMidiPorts(newIns, newOuts)
		return err
	}

	oldIns, oldOuts := h.midiIn, h.midiOut
	h.midiIn, h.midiOut = newIns, newOuts
	h.resolved = next
	h.info.Store(&info)
	h.monitor.setWatch(watchSetFor(next))
	closeMidiPorts(oldIns, oldOuts)
	return nil
}

// changeable rejects reconfiguration once the stream stopped or faulted.
// Callers hold h.mu.
func (h *StreamHandle) changeable() error {
	if h.closed {
		return ErrStreamClosed
	}
	if s := h.eng.currentState(); s != engineRunning {
		return fmt.Errorf("stream is %s: %w", s, ErrStreamClosed)
	}
	return nil
}

// pushAndWait enqueues a change command and waits, bounded by ctx and the
// configured open timeout, for the engine to apply it at a cycle boundary.
// Callers hold h.mu, so change generations are strictly ordered.
func (h *StreamHandle) pushAndWait(ctx context.Context, cmd engineCmd) error {
	h.genCtr++
	cmd.gen = h.genCtr
	if !h.eng.cmds.push(cmd) {
		return fmt.Errorf("command queue is full")
	}

	deadline := time.Now().Add(h.opts.DeviceOpenTimeout)
	for h.eng.appliedGen.Load() < cmd.gen {
		if s := h.eng.currentState(); s != engineRunning {
			return fmt.Errorf("stream is %s: %w", s, ErrStreamClosed)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Op: "apply change", Backend: h.resolved.Backend}
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}

// Close stops the stream: the stop signal is queued, the engine finishes
// any in-flight cycle, the backend device is released, and the terminal
// Closed notification is posted. Close is idempotent and always leaves the
// device in a reusable state, including after a fault.
func (h *StreamHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	faulted := h.eng.currentState() == engineFaulted
	if !faulted {
		h.eng.cmds.push(engineCmd{kind: cmdStop})

		// Bounded wait for the engine to observe the stop at a cycle
		// boundary. An unresponsive engine is treated as faulted and
		// torn down anyway.
		deadline := time.Now().Add(h.opts.DeviceOpenTimeout)
		for h.eng.currentState() == engineRunning {
			if time.Now().After(deadline) {
				log.Warnf("engine did not acknowledge stop, forcing close")
				faulted = true
				break
			}
			time.Sleep(time.Millisecond)
		}
	}

	h.monitor.stop()
	err := h.stream.Close()
	closeMidiPorts(h.midiIn, h.midiOut)

	if faulted {
		h.eng.state.Store(int32(engineFaulted))
	} else {
		h.eng.state.Store(int32(engineStopped))
		h.eng.msgs.post(StreamMsg{Kind: MsgClosed})
	}
	log.Infof("stream closed")
	return err
}
