package rainout

import (
	"sync/atomic"

	"github.com/rustydaw/rainout/devices"
)

// StreamMsgKind tags a stream notification.
type StreamMsgKind int

const (
	// MsgAudioDeviceDisconnected reports an audio device backing the
	// stream went away. Its ports receive silence until it returns.
	MsgAudioDeviceDisconnected StreamMsgKind = iota

	// MsgAudioDeviceReconnected reports a previously disconnected audio
	// device returned.
	MsgAudioDeviceReconnected

	// MsgMidiDeviceDisconnected reports a MIDI device went away. Its
	// ports receive empty event buffers until it returns.
	MsgMidiDeviceDisconnected

	// MsgMidiDeviceReconnected reports a previously disconnected MIDI
	// device returned.
	MsgMidiDeviceReconnected

	// MsgNonfatalError reports a transient condition (xrun, MIDI buffer
	// overflow). The stream keeps running.
	MsgNonfatalError

	// MsgFatalError is terminal: the stream faulted and the handle must
	// be discarded.
	MsgFatalError

	// MsgClosed is terminal: the stream shut down gracefully.
	MsgClosed
)

func (k StreamMsgKind) String() string {
	switch k {
	case MsgAudioDeviceDisconnected:
		return "audio device disconnected"
	case MsgAudioDeviceReconnected:
		return "audio device reconnected"
	case MsgMidiDeviceDisconnected:
		return "MIDI device disconnected"
	case MsgMidiDeviceReconnected:
		return "MIDI device reconnected"
	case MsgNonfatalError:
		return "nonfatal error"
	case MsgFatalError:
		return "fatal error"
	case MsgClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamMsg is one notification from the running stream to its owner.
type StreamMsg struct {
	Kind StreamMsgKind

	// Device identifies the device for disconnect/reconnect messages.
	Device devices.DeviceID

	// Err carries the error for MsgNonfatalError and MsgFatalError.
	Err error
}

// Terminal reports whether the message is the last one the stream will
// ever produce.
func (m StreamMsg) Terminal() bool {
	return m.Kind == MsgFatalError || m.Kind == MsgClosed
}

func (m StreamMsg) String() string {
	s := m.Kind.String()
	if m.Device.Name != "" {
		s += ": " + m.Device.String()
	}
	if m.Err != nil {
		s += ": " + m.Err.Error()
	}
	return s
}

// msgChannel is the realtime-to-owner notification path: a bounded SPSC
// ring for ordinary status messages plus a dedicated single-slot terminal
// path. Ordinary messages may be dropped under sustained overflow since
// they are idempotent re-statements of current status; the terminal slot
// guarantees a fatal error or graceful close is always delivered.
type msgChannel struct {
	ring     *spscRing[StreamMsg]
	terminal atomic.Pointer[StreamMsg]
	dropped  atomic.Uint64
}

func newMsgChannel(capacity int) *msgChannel {
	if capacity <= 0 {
		capacity = DefaultMsgBufferSize
	}
	return &msgChannel{ring: newSpscRing[StreamMsg](capacity)}
}

// post publishes a message from the realtime side. Never blocks: a full
// ring drops the message and bumps the drop counter. Terminal messages
// bypass the ring entirely.
func (c *msgChannel) post(m StreamMsg) {
	if m.Terminal() {
		c.terminal.CompareAndSwap(nil, &m)
		return
	}
	if !c.ring.push(m) {
		c.dropped.Add(1)
	}
}

// poll returns the next pending message. The terminal slot is checked ahead
// of the ring so a stream end is never hidden behind queued status
// messages.
func (c *msgChannel) poll() (StreamMsg, bool) {
	if t := c.terminal.Swap(nil); t != nil {
		return *t, true
	}
	return c.ring.pop()
}

// droppedCount returns how many ordinary messages were dropped to overflow.
func (c *msgChannel) droppedCount() uint64 {
	return c.dropped.Load()
}
