package rainout

import "errors"

// MaxMidiMsgSize is the maximum size in bytes of a single MIDI event. Events
// longer than this (sysex) must be chunked by the sender.
const MaxMidiMsgSize = 8

var (
	// ErrMidiBufferFull is counted, not returned, on the realtime path;
	// PushRaw returns it so non-realtime senders can react.
	ErrMidiBufferFull = errors.New("midi buffer is full")

	// ErrMidiEventTooLong means an event exceeded MaxMidiMsgSize bytes.
	ErrMidiEventTooLong = errors.New("midi event exceeds maximum size")
)

// RawMidi is one raw MIDI event, stored inline so buffers of events never
// allocate.
type RawMidi struct {
	// Frame offset of the event within the current process cycle.
	Frame uint32

	len  uint8
	data [MaxMidiMsgSize]byte
}

// NewRawMidi copies data into an inline event. It fails with
// ErrMidiEventTooLong when data exceeds MaxMidiMsgSize bytes.
func NewRawMidi(frame uint32, data []byte) (RawMidi, error) {
	var e RawMidi
	if len(data) > MaxMidiMsgSize {
		return e, ErrMidiEventTooLong
	}
	e.Frame = frame
	e.len = uint8(len(data))
	copy(e.data[:], data)
	return e, nil
}

// Bytes returns the event's raw MIDI bytes. The returned slice aliases the
// event's inline storage and is valid until the event is overwritten.
func (e *RawMidi) Bytes() []byte { return e.data[:e.len] }

// Len returns the event length in bytes.
func (e *RawMidi) Len() int { return int(e.len) }

// MidiBuffer is a fixed-capacity event buffer for one MIDI port. Pushing to
// a full buffer drops the event; the realtime path counts drops instead of
// growing the buffer.
type MidiBuffer struct {
	events []RawMidi
}

// NewMidiBuffer allocates a buffer holding up to capacity events.
func NewMidiBuffer(capacity int) *MidiBuffer {
	if capacity <= 0 {
		capacity = DefaultMidiBufferSize
	}
	return &MidiBuffer{events: make([]RawMidi, 0, capacity)}
}

// Push appends an already-built event. Fails with ErrMidiBufferFull at
// capacity; never allocates.
func (b *MidiBuffer) Push(e RawMidi) error {
	if len(b.events) == cap(b.events) {
		return ErrMidiBufferFull
	}
	b.events = append(b.events, e)
	return nil
}

// PushRaw builds and appends an event from raw bytes.
func (b *MidiBuffer) PushRaw(frame uint32, data []byte) error {
	e, err := NewRawMidi(frame, data)
	if err != nil {
		return err
	}
	return b.Push(e)
}

// Events returns the buffered events in push order.
func (b *MidiBuffer) Events() []RawMidi { return b.events }

// Len returns the number of buffered events.
func (b *MidiBuffer) Len() int { return len(b.events) }

// Cap returns the buffer capacity in events.
func (b *MidiBuffer) Cap() int { return cap(b.events) }

// Clear empties the buffer, keeping its storage.
func (b *MidiBuffer) Clear() { b.events = b.events[:0] }
