package rainout

// ProcessInfo is the per-cycle view handed to ProcessHandler.Process. All
// slices are preallocated at stream start (or at an accepted live change)
// and reused every cycle; Process must not retain them past its return.
//
// Port ordering in In/Out/InSilent and the MIDI buffers matches the
// resolved session's port list ordering exactly. Every buffer in In and Out
// has length Frames.
type ProcessInfo struct {
	// In holds one de-interleaved f32 buffer per resolved input port.
	In [][]float32

	// Out holds one f32 buffer per resolved output port. Filled with
	// whatever the previous cycle left; Process overwrites what it wants
	// heard.
	Out [][]float32

	// Frames is the frame count for this cycle. Never exceeds the
	// resolved maximum block size.
	Frames int

	// InSilent flags inputs whose buffer is entirely zero this cycle.
	// Populated only when RunOptions.CheckForSilentInputs is set;
	// otherwise every flag is false.
	InSilent []bool

	// MidiIn holds one event buffer per resolved MIDI input port, drained
	// fresh each cycle.
	MidiIn []*MidiBuffer

	// MidiOut holds one event buffer per resolved MIDI output port.
	// Events pushed here are sent after Process returns.
	MidiOut []*MidiBuffer
}

// ProcessHandler is the user's audio/MIDI callback set. It is owned
// exclusively by the stream for the stream's lifetime.
//
// Init and StreamChanged run on non-realtime goroutines. Process runs on
// the single realtime context and must return within the cycle's realtime
// budget without blocking, allocating, or taking locks.
type ProcessHandler interface {
	// Init is called exactly once, with the final session description,
	// before any processing cycle begins.
	Init(info StreamInfo)

	// StreamChanged is called with the updated session description after
	// an accepted live reconfiguration, before the next Process call.
	// Exactly one call occurs per accepted change batch.
	StreamChanged(info StreamInfo)

	// Process is called every cycle from the realtime context.
	Process(proc ProcessInfo)
}
