package rainout

import (
	"errors"
	"testing"
)

func TestSpscRingPushPop(t *testing.T) {
	r := newSpscRing[int](4)

	if _, ok := r.pop(); ok {
		t.Error("pop on empty ring succeeded")
	}
	for i := 0; i < 4; i++ {
		if !r.push(i) {
			t.Fatalf("push %d rejected below capacity", i)
		}
	}
	if r.push(99) {
		t.Error("push accepted on a full ring")
	}
	for i := 0; i < 4; i++ {
		v, ok := r.pop()
		if !ok || v != i {
			t.Fatalf("pop = %d %v, want %d in FIFO order", v, ok, i)
		}
	}

	// Wraparound.
	for round := 0; round < 10; round++ {
		r.push(round)
		if v, _ := r.pop(); v != round {
			t.Fatalf("wraparound round %d popped %d", round, v)
		}
	}
}

func TestSpscRingConcurrent(t *testing.T) {
	r := newSpscRing[int](64)
	const n = 100000

	done := make(chan struct{})
	go func() {
		defer close(done)
		next := 0
		for next < n {
			v, ok := r.pop()
			if !ok {
				continue
			}
			if v != next {
				t.Errorf("popped %d, want %d", v, next)
				return
			}
			next++
		}
	}()

	for i := 0; i < n; {
		if r.push(i) {
			i++
		}
	}
	<-done
}

func TestMsgChannelNeverBlocksAndCountsDrops(t *testing.T) {
	c := newMsgChannel(8)

	// Flooding far past capacity must return promptly every time.
	for i := 0; i < 1000; i++ {
		c.post(StreamMsg{Kind: MsgNonfatalError, Err: ErrXrun})
	}
	if c.droppedCount() == 0 {
		t.Error("sustained overflow dropped nothing")
	}

	n := 0
	for {
		if _, ok := c.poll(); !ok {
			break
		}
		n++
	}
	if n == 0 || n > 8 {
		t.Errorf("drained %d messages from a capacity-8 ring", n)
	}
}

func TestMsgChannelTerminalBeatsQueuedStatus(t *testing.T) {
	c := newMsgChannel(8)
	c.post(StreamMsg{Kind: MsgAudioDeviceDisconnected})
	c.post(StreamMsg{Kind: MsgNonfatalError, Err: ErrXrun})
	c.post(StreamMsg{Kind: MsgFatalError, Err: errors.New("dead")})

	msg, ok := c.poll()
	if !ok || msg.Kind != MsgFatalError {
		t.Fatalf("first poll = %v %v, want the terminal fatal ahead of the queue", msg, ok)
	}

	// The queued status messages are still there behind it.
	msg, ok = c.poll()
	if !ok || msg.Kind != MsgAudioDeviceDisconnected {
		t.Errorf("second poll = %v %v", msg, ok)
	}
}

func TestMsgChannelTerminalSurvivesOverflow(t *testing.T) {
	c := newMsgChannel(2)
	for i := 0; i < 100; i++ {
		c.post(StreamMsg{Kind: MsgNonfatalError, Err: ErrXrun})
	}
	c.post(StreamMsg{Kind: MsgClosed})

	msg, ok := c.poll()
	if !ok || msg.Kind != MsgClosed {
		t.Fatalf("terminal lost under overflow: got %v %v", msg, ok)
	}
}

func TestMsgChannelFirstTerminalWins(t *testing.T) {
	c := newMsgChannel(2)
	c.post(StreamMsg{Kind: MsgFatalError, Err: errors.New("first")})
	c.post(StreamMsg{Kind: MsgClosed})

	msg, ok := c.poll()
	if !ok || msg.Kind != MsgFatalError {
		t.Errorf("got %v %v, want the first terminal to stick", msg, ok)
	}
}

func TestCmdQueueOrder(t *testing.T) {
	q := newCmdQueue[int](8)
	for i := 0; i < 5; i++ {
		if !q.push(i) {
			t.Fatalf("push %d rejected", i)
		}
	}
	for i := 0; i < 5; i++ {
		v, ok := q.pop()
		if !ok || v != i {
			t.Fatalf("pop = %d %v, want %d", v, ok, i)
		}
	}
}
