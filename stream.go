package rainout

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/devices"
)

// ErrXrun is the nonfatal condition reported when the realtime deadline was
// overrun or a cycle arrived with more frames than the stream can carry.
var ErrXrun = errors.New("xrun detected")

// ErrMidiOverflow is the nonfatal condition reported when incoming MIDI
// events exceeded a port buffer's capacity and were dropped.
var ErrMidiOverflow = errors.New("midi input buffer overflowed")

// engineState is the stream engine lifecycle.
type engineState int32

const (
	engineCreated engineState = iota
	engineInitializing
	engineRunning
	engineStopping
	engineStopped
	engineFaulted
)

func (s engineState) String() string {
	switch s {
	case engineCreated:
		return "created"
	case engineInitializing:
		return "initializing"
	case engineRunning:
		return "running"
	case engineStopping:
		return "stopping"
	case engineStopped:
		return "stopped"
	case engineFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

type cmdKind int

const (
	cmdStop cmdKind = iota
	cmdChangePorts
	cmdChangeBlockSize
	cmdChangeMidi
	cmdAudioPresence
	cmdMidiPresence
)

// engineCmd is one command consumed by the realtime side at a cycle
// boundary. Change commands carry their replacement buffers preallocated so
// applying them is a pointer swap, never an allocation.
type engineCmd struct {
	kind cmdKind
	gen  uint64

	// cmdChangePorts
	inPorts  []ResolvedPort
	outPorts []ResolvedPort
	in       [][]float32
	out      [][]float32
	inSilent []bool

	// cmdChangeBlockSize
	frames int

	// cmdChangeMidi
	midiInPorts  []ResolvedMidiPort
	midiOutPorts []ResolvedMidiPort
	midiIn       []*MidiBuffer
	midiOut      []*MidiBuffer
	midiInputs   []backend.MidiInput
	midiOutputs  []backend.MidiOutput

	// Session description for the StreamChanged call, set on every
	// change command.
	info *StreamInfo

	// cmdAudioPresence / cmdMidiPresence
	device      devices.DeviceID
	connected   bool
	midiPortIdx int
}

// rtState is owned exclusively by the realtime context after the stream
// starts. Non-realtime code reaches it only through the command queue.
type rtState struct {
	inPorts  []ResolvedPort
	outPorts []ResolvedPort

	in       [][]float32
	out      [][]float32
	inSilent []bool

	midiInPorts  []ResolvedMidiPort
	midiOutPorts []ResolvedMidiPort
	midiIn       []*MidiBuffer
	midiOut      []*MidiBuffer
	midiInputs   []backend.MidiInput
	midiOutputs  []backend.MidiOutput
	midiPresent  []bool

	audioPresent bool

	inChannels  int
	outChannels int
	maxFrames   int
	sampleRate  uint32

	checkSilence bool

	scratch []backend.RawEvent
}

// engineStats are the running counters exposed through StreamStats.
type engineStats struct {
	cycles      atomic.Uint64
	frames      atomic.Uint64
	xruns       atomic.Uint64
	midiDropped atomic.Uint64
}

// engine runs the per-cycle realtime work: command drain, de-interleave,
// silence scan, MIDI drain, user process, interleave, MIDI send. Everything
// it touches during a cycle is preallocated.
type engine struct {
	state      atomic.Int32
	appliedGen atomic.Uint64

	handler ProcessHandler
	msgs    *msgChannel
	cmds    *cmdQueue[engineCmd]

	rt    rtState
	stats engineStats
}

func newEngine(r ResolvedConfig, opts RunOptions, handler ProcessHandler) *engine {
	e := &engine{
		handler: handler,
		msgs:    newMsgChannel(opts.MsgBufferSize),
		cmds:    newCmdQueue[engineCmd](64),
	}
	e.state.Store(int32(engineCreated))

	maxFrames := r.MaxFrames()
	e.rt = rtState{
		inPorts:      r.InPorts,
		outPorts:     r.OutPorts,
		in:           allocPortBuffers(len(r.InPorts), maxFrames),
		out:          allocPortBuffers(len(r.OutPorts), maxFrames),
		inSilent:     make([]bool, len(r.InPorts)),
		audioPresent: true,
		inChannels:   r.InChannels,
		outChannels:  r.OutChannels,
		maxFrames:    maxFrames,
		sampleRate:   r.SampleRate,
		checkSilence: opts.CheckForSilentInputs,
		scratch:      make([]backend.RawEvent, 0, drainScratchCap(opts.MidiBufferSize)),
	}
	if r.Midi != nil {
		n := len(r.Midi.InPorts)
		e.rt.midiInPorts = r.Midi.InPorts
		e.rt.midiOutPorts = r.Midi.OutPorts
		e.rt.midiIn = allocMidiBuffers(n, opts.MidiBufferSize)
		e.rt.midiOut = allocMidiBuffers(len(r.Midi.OutPorts), opts.MidiBufferSize)
		e.rt.midiInputs = make([]backend.MidiInput, n)
		e.rt.midiOutputs = make([]backend.MidiOutput, len(r.Midi.OutPorts))
		e.rt.midiPresent = make([]bool, n)
		for i, p := range r.Midi.InPorts {
			e.rt.midiPresent[i] = p.Found
		}
	}
	return e
}

// drainScratchCap sizes the drain scratch slice so a full adapter ring fits
// without growing it on the realtime thread.
func drainScratchCap(midiBufferSize int) int {
	if midiBufferSize > backend.MaxDrainEvents {
		return midiBufferSize
	}
	return backend.MaxDrainEvents
}

func allocPortBuffers(ports, frames int) [][]float32 {
	bufs := make([][]float32, ports)
	for i := range bufs {
		bufs[i] = make([]float32, frames)
	}
	return bufs
}

func allocMidiBuffers(ports, events int) []*MidiBuffer {
	bufs := make([]*MidiBuffer, ports)
	for i := range bufs {
		bufs[i] = NewMidiBuffer(events)
	}
	return bufs
}

func (e *engine) currentState() engineState {
	return engineState(e.state.Load())
}

// fault transitions to Faulted and posts the guaranteed terminal message.
// The engine stops processing; the handle must be discarded.
func (e *engine) fault(err error) {
	e.state.Store(int32(engineFaulted))
	e.msgs.post(StreamMsg{Kind: MsgFatalError, Err: &FatalStreamError{Err: err}})
}

// process is the realtime entry point, driven by the backend's hardware
// callback with interleaved native buffers. It must never block, allocate,
// or take a lock.
func (e *engine) process(nativeIn, nativeOut []float32, frames int) {
	if engineState(e.state.Load()) != engineRunning {
		zeroSamples(nativeOut)
		return
	}

	e.drainCommands()
	if engineState(e.state.Load()) != engineRunning {
		zeroSamples(nativeOut)
		return
	}

	if frames > e.rt.maxFrames {
		frames = e.rt.maxFrames
		e.stats.xruns.Add(1)
		e.msgs.post(StreamMsg{Kind: MsgNonfatalError, Err: ErrXrun})
	}

	e.deinterleave(nativeIn, frames)
	e.scanSilence(frames)
	e.drainMidi(frames)

	// Unbacked output slots stay at their configured positions but feed
	// nothing; hand them to the callback zeroed every cycle.
	for i, p := range e.rt.outPorts {
		if p.Channel < 0 {
			zeroSamples(e.rt.out[i][:frames])
		}
	}

	proc := ProcessInfo{
		In:       e.rt.in,
		Out:      e.rt.out,
		Frames:   frames,
		InSilent: e.rt.inSilent,
		MidiIn:   e.rt.midiIn,
		MidiOut:  e.rt.midiOut,
	}
	for i := range proc.In {
		proc.In[i] = proc.In[i][:frames]
	}
	for i := range proc.Out {
		proc.Out[i] = proc.Out[i][:frames]
	}

	if err := e.invokeProcess(proc); err != nil {
		e.fault(err)
		zeroSamples(nativeOut)
		return
	}

	e.interleave(nativeOut, frames)
	e.sendMidi()

	e.stats.cycles.Add(1)
	e.stats.frames.Add(uint64(frames))
}

// drainCommands consumes every queued command at the cycle boundary.
func (e *engine) drainCommands() {
	for {
		cmd, ok := e.cmds.pop()
		if !ok {
			return
		}
		switch cmd.kind {
		case cmdStop:
			e.state.Store(int32(engineStopping))
			return

		case cmdChangePorts:
			e.rt.inPorts = cmd.inPorts
			e.rt.outPorts = cmd.outPorts
			e.rt.in = cmd.in
			e.rt.out = cmd.out
			e.rt.inSilent = cmd.inSilent
			e.applyChange(cmd)

		case cmdChangeBlockSize:
			e.rt.maxFrames = cmd.frames
			e.rt.in = cmd.in
			e.rt.out = cmd.out
			e.applyChange(cmd)

		case cmdChangeMidi:
			e.rt.midiInPorts = cmd.midiInPorts
			e.rt.midiOutPorts = cmd.midiOutPorts
			e.rt.midiIn = cmd.midiIn
			e.rt.midiOut = cmd.midiOut
			e.rt.midiInputs = cmd.midiInputs
			e.rt.midiOutputs = cmd.midiOutputs
			e.rt.midiPresent = make([]bool, len(cmd.midiInPorts))
			for i, p := range cmd.midiInPorts {
				e.rt.midiPresent[i] = p.Found
			}
			e.applyChange(cmd)

		case cmdAudioPresence:
			if e.rt.audioPresent == cmd.connected {
				break
			}
			e.rt.audioPresent = cmd.connected
			kind := MsgAudioDeviceDisconnected
			if cmd.connected {
				kind = MsgAudioDeviceReconnected
			}
			e.msgs.post(StreamMsg{Kind: kind, Device: cmd.device})

		case cmdMidiPresence:
			i := cmd.midiPortIdx
			if i < 0 || i >= len(e.rt.midiPresent) {
				break
			}
			if e.rt.midiPresent[i] == cmd.connected {
				break
			}
			e.rt.midiPresent[i] = cmd.connected
			kind := MsgMidiDeviceDisconnected
			if cmd.connected {
				kind = MsgMidiDeviceReconnected
			}
			e.msgs.post(StreamMsg{Kind: kind, Device: cmd.device})
		}
	}
}

// applyChange acknowledges an accepted change batch: exactly one
// StreamChanged call, then the generation bump the issuing caller waits on.
func (e *engine) applyChange(cmd engineCmd) {
	if cmd.info != nil {
		if err := e.invokeStreamChanged(*cmd.info); err != nil {
			e.fault(err)
			return
		}
	}
	e.appliedGen.Store(cmd.gen)
}

func (e *engine) deinterleave(nativeIn []float32, frames int) {
	nch := e.rt.inChannels
	for i, p := range e.rt.inPorts {
		buf := e.rt.in[i][:frames]
		if p.Channel < 0 || !e.rt.audioPresent || nch == 0 {
			zeroSamples(buf)
			continue
		}
		for f := 0; f < frames; f++ {
			buf[f] = nativeIn[f*nch+p.Channel]
		}
	}
}

func (e *engine) scanSilence(frames int) {
	if !e.rt.checkSilence {
		return
	}
	for i := range e.rt.in {
		silent := true
		buf := e.rt.in[i][:frames]
		for _, s := range buf {
			if s != 0 {
				silent = false
				break
			}
		}
		e.rt.inSilent[i] = silent
	}
}

func (e *engine) drainMidi(frames int) {
	if len(e.rt.midiIn) == 0 || frames <= 0 {
		return
	}
	now := time.Now()
	dropped := uint64(0)
	for i, buf := range e.rt.midiIn {
		buf.Clear()
		in := e.rt.midiInputs[i]
		if in == nil || !e.rt.midiPresent[i] {
			continue
		}
		e.rt.scratch = in.Drain(e.rt.scratch[:0], now, e.rt.sampleRate)
		for _, ev := range e.rt.scratch {
			// Adapters timestamp against the previous cycle start, so
			// late arrivals can land past the end of a short cycle.
			frame := ev.Frame
			if frame >= uint32(frames) {
				frame = uint32(frames) - 1
			}
			if err := buf.PushRaw(frame, ev.Data); err != nil {
				dropped++
			}
		}
	}
	if dropped > 0 {
		e.stats.midiDropped.Add(dropped)
		e.msgs.post(StreamMsg{Kind: MsgNonfatalError, Err: ErrMidiOverflow})
	}
}

func (e *engine) interleave(nativeOut []float32, frames int) {
	zeroSamples(nativeOut)
	if !e.rt.audioPresent {
		return
	}
	nch := e.rt.outChannels
	if nch == 0 {
		return
	}
	for i, p := range e.rt.outPorts {
		if p.Channel < 0 {
			continue
		}
		buf := e.rt.out[i][:frames]
		for f := 0; f < frames; f++ {
			nativeOut[f*nch+p.Channel] = buf[f]
		}
	}
}

func (e *engine) sendMidi() {
	for i, buf := range e.rt.midiOut {
		out := e.rt.midiOutputs[i]
		if out == nil {
			buf.Clear()
			continue
		}
		for j := range buf.Events() {
			ev := &buf.Events()[j]
			if err := out.Send(ev.Bytes()); err != nil {
				e.stats.midiDropped.Add(1)
			}
		}
		buf.Clear()
	}
}

func (e *engine) invokeProcess(proc ProcessInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("process callback panicked: %v", r)
		}
	}()
	e.handler.Process(proc)
	return nil
}

func (e *engine) invokeStreamChanged(info StreamInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stream changed callback panicked: %v", r)
		}
	}()
	e.handler.StreamChanged(info)
	return nil
}

func zeroSamples(buf []float32) {
	for i := range buf {
		buf[i] = 0
	}
}
