package rainout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/internal/mockbackend"
)

// testHandler counts callback invocations and lets a test hook into the
// process cycle.
type testHandler struct {
	mu        sync.Mutex
	inits     int
	changes   int
	processes int
	lastInfo  StreamInfo
	procFn    func(ProcessInfo)
}

func (h *testHandler) Init(info StreamInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inits++
	h.lastInfo = info
}

func (h *testHandler) StreamChanged(info StreamInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes++
	h.lastInfo = info
}

func (h *testHandler) Process(proc ProcessInfo) {
	h.mu.Lock()
	fn := h.procFn
	h.processes++
	h.mu.Unlock()
	if fn != nil {
		fn(proc)
	}
}

func (h *testHandler) counts() (inits, changes, processes int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inits, h.changes, h.processes
}

func (h *testHandler) info() StreamInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastInfo
}

// startStream runs a stream against a mock backend with one 2-in/2-out
// device and returns the handle plus the manually driven mock stream.
func startStream(t *testing.T, cfg Config, opts RunOptions, h ProcessHandler) (*StreamHandle, *mockbackend.AudioBackend, *mockbackend.AudioStream) {
	t.Helper()
	b := setupAudio(t, mockbackend.Device("main", 2, 2))

	handle, err := Run(context.Background(), cfg, opts, h)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	t.Cleanup(func() { handle.Close() })

	stream := b.Stream()
	if stream == nil {
		t.Fatal("no stream was opened on the mock backend")
	}
	return handle, b, stream
}

// driveUntil keeps running cycles until done yields or the deadline passes.
func driveUntil(t *testing.T, stream *mockbackend.AudioStream, frames int, done <-chan error) error {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("timed out driving cycles")
		default:
			stream.RunCycle(frames)
			time.Sleep(100 * time.Microsecond)
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	h := &testHandler{}
	handle, _, stream := startStream(t, DefaultConfig(), RunOptions{AutoAudioInputs: true}, h)

	inits, _, _ := h.counts()
	if inits != 1 {
		t.Fatalf("Init called %d times, want exactly 1", inits)
	}
	info := h.info()
	if info.SampleRate != 48000 || info.BufferSize.Fixed != 512 {
		t.Errorf("Init info = %d Hz / %d frames, want 48000/512", info.SampleRate, info.BufferSize.Fixed)
	}
	if len(info.OutPorts) != 2 {
		t.Errorf("Init info has %d out ports, want 2", len(info.OutPorts))
	}

	const cycles = 10
	for i := 0; i < cycles; i++ {
		if err := stream.RunCycle(512); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if _, _, processes := h.counts(); processes != cycles {
		t.Errorf("Process called %d times for %d cycles", processes, cycles)
	}
	if stats := handle.Stats(); stats.Cycles != cycles || stats.Frames != cycles*512 {
		t.Errorf("stats = %+v, want %d cycles / %d frames", stats, cycles, cycles*512)
	}

	done := make(chan error, 1)
	go func() { done <- handle.Close() }()
	if err := driveUntil(t, stream, 512, done); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !stream.Closed() {
		t.Error("backend stream not released on Close")
	}
	msg, ok := handle.PollMsg()
	if !ok || msg.Kind != MsgClosed {
		t.Errorf("after Close got msg %v %v, want the terminal Closed", msg, ok)
	}
	if err := handle.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpenFailureLeavesHandlerUninitialized(t *testing.T) {
	h := &testHandler{}
	b := setupAudio(t, mockbackend.Device("main", 2, 2))

	openErr := errors.New("device claimed by another process")
	b.FailOpen(openErr)

	if _, err := Run(context.Background(), DefaultConfig(), RunOptions{}, h); !errors.Is(err, openErr) {
		t.Fatalf("Run: got %v, want the open failure", err)
	}
	if inits, _, _ := h.counts(); inits != 0 {
		t.Errorf("Init called %d times for a stream that never opened", inits)
	}
}

func TestChangePortConfigExactlyOneStreamChanged(t *testing.T) {
	h := &testHandler{}
	handle, _, stream := startStream(t, DefaultConfig(), RunOptions{AutoAudioInputs: true}, h)

	// Warm up a few cycles, then apply the change while counting every
	// driven cycle against every Process call.
	for i := 0; i < 5; i++ {
		stream.RunCycle(512)
	}

	done := make(chan error, 1)
	go func() {
		done <- handle.ChangeAudioPortConfig(context.Background(), nil, []string{"out_1"})
	}()
	if err := driveUntil(t, stream, 512, done); err != nil {
		t.Fatalf("ChangeAudioPortConfig: %v", err)
	}

	const after = 5
	for i := 0; i < after; i++ {
		stream.RunCycle(512)
	}

	_, changes, processes := h.counts()
	if changes != 1 {
		t.Errorf("StreamChanged called %d times for one accepted change, want exactly 1", changes)
	}
	if got := handle.Stats().Cycles; uint64(processes) != got {
		t.Errorf("Process calls (%d) diverge from completed cycles (%d) around the change", processes, got)
	}
	if got := handle.StreamInfo().OutPorts; len(got) != 1 || got[0] != "out_1" {
		t.Errorf("StreamInfo out ports = %v, want [out_1]", got)
	}
	if info := h.info(); len(info.OutPorts) != 1 {
		t.Errorf("StreamChanged info out ports = %v, want [out_1]", info.OutPorts)
	}
}

func TestChangeRejectedLeavesStreamUntouched(t *testing.T) {
	h := &testHandler{}
	handle, _, stream := startStream(t, DefaultConfig(), RunOptions{}, h)

	err := handle.ChangeAudioPortConfig(context.Background(), nil, []string{"out_9"})
	var pErr *PortNotFoundError
	if !errors.As(err, &pErr) {
		t.Fatalf("got %v, want PortNotFoundError", err)
	}

	stream.RunCycle(512)
	if _, changes, _ := h.counts(); changes != 0 {
		t.Errorf("StreamChanged called %d times after a rejected change", changes)
	}
	if got := handle.StreamInfo().OutPorts; len(got) != 2 {
		t.Errorf("rejected change altered the port set: %v", got)
	}
}

func TestChangeUnsupportedByBackend(t *testing.T) {
	h := &testHandler{}
	b := setupAudio(t, mockbackend.Device("main", 2, 2))
	b.SetCapabilities(backend.Capabilities{})

	handle, err := Run(context.Background(), DefaultConfig(), RunOptions{}, h)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	t.Cleanup(func() { handle.Close() })

	if handle.CanChangeBlockSize() {
		t.Error("CanChangeBlockSize = true on a backend without support")
	}
	if err := handle.ChangeBlockSize(context.Background(), 256); !errors.Is(err, ErrChangeNotSupported) {
		t.Errorf("ChangeBlockSize: got %v, want ErrChangeNotSupported", err)
	}
}

func TestChangeBlockSize(t *testing.T) {
	h := &testHandler{}
	handle, _, stream := startStream(t, DefaultConfig(), RunOptions{}, h)

	var seenFrames int
	h.mu.Lock()
	h.procFn = func(proc ProcessInfo) { seenFrames = proc.Frames }
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- handle.ChangeBlockSize(context.Background(), 256) }()
	if err := driveUntil(t, stream, 512, done); err != nil {
		t.Fatalf("ChangeBlockSize: %v", err)
	}

	stream.RunCycle(256)
	if seenFrames != 256 {
		t.Errorf("cycle after change carried %d frames, want 256", seenFrames)
	}
	if got := handle.StreamInfo().BufferSize.Fixed; got != 256 {
		t.Errorf("StreamInfo block size = %d, want 256", got)
	}
	if got := stream.BlockFrames(); got != 256 {
		t.Errorf("backend stream block size = %d, want 256", got)
	}
	if err := handle.ChangeBlockSize(context.Background(), 10000); err == nil {
		t.Error("out-of-range block size change accepted")
	}
	if got := stream.BlockFrames(); got != 256 {
		t.Errorf("rejected change altered the backend block size to %d", got)
	}
}

func TestChangeBlockSizeBackendRefusal(t *testing.T) {
	h := &testHandler{}
	handle, _, stream := startStream(t, DefaultConfig(), RunOptions{}, h)

	refused := errors.New("device busy")
	stream.FailSetBlockFrames(refused)

	if err := handle.ChangeBlockSize(context.Background(), 256); !errors.Is(err, refused) {
		t.Fatalf("ChangeBlockSize: got %v, want the backend refusal", err)
	}

	if got := stream.BlockFrames(); got != 512 {
		t.Errorf("backend stream block size = %d after a refused change, want 512", got)
	}
	if got := handle.StreamInfo().BufferSize.Fixed; got != 512 {
		t.Errorf("StreamInfo block size = %d after a refused change, want 512", got)
	}

	stream.RunCycle(512)
	if _, changes, _ := h.counts(); changes != 0 {
		t.Errorf("StreamChanged called %d times after a refused change", changes)
	}
}

func TestDisconnectReconnectSingleEdges(t *testing.T) {
	h := &testHandler{}
	handle, b, stream := startStream(t, DefaultConfig(), RunOptions{AutoAudioInputs: true}, h)

	// Take over the monitor's polling so the test is deterministic.
	handle.monitor.stop()
	handle.monitor.poll()

	stream.FillInput(0, []float32{0.5, 0.5, 0.5})

	// Device vanishes. Poll twice: the second pass must not push a
	// duplicate transition.
	b.SetDevices()
	handle.monitor.poll()
	handle.monitor.poll()

	var sawInput float32
	h.mu.Lock()
	h.procFn = func(proc ProcessInfo) {
		for _, s := range proc.In[0] {
			if s != 0 {
				sawInput = s
			}
		}
	}
	h.mu.Unlock()

	stream.RunCycle(512)
	stream.RunCycle(512)

	if sawInput != 0 {
		t.Errorf("input carried %v while the device was disconnected, want silence", sawInput)
	}

	// Device returns.
	b.SetDevices(mockbackend.Device("main", 2, 2))
	handle.monitor.poll()
	handle.monitor.poll()
	stream.RunCycle(512)

	var kinds []StreamMsgKind
	for {
		msg, ok := handle.PollMsg()
		if !ok {
			break
		}
		kinds = append(kinds, msg.Kind)
	}
	want := []StreamMsgKind{MsgAudioDeviceDisconnected, MsgAudioDeviceReconnected}
	if len(kinds) != len(want) {
		t.Fatalf("got messages %v, want exactly %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("got messages %v, want %v", kinds, want)
		}
	}
}

func TestDeviceBusPublishesListChanges(t *testing.T) {
	h := &testHandler{}
	handle, b, _ := startStream(t, DefaultConfig(), RunOptions{}, h)

	handle.monitor.stop()
	handle.monitor.poll()

	events := make(chan backend.AudioDevicesChanged, 4)
	unsub := handle.DeviceBus().SubscribeAudioDevicesChanged(func(ev backend.AudioDevicesChanged) {
		events <- ev
	})
	defer unsub()

	// A second device appears.
	b.SetDevices(mockbackend.Device("main", 2, 2), mockbackend.Device("usb", 2, 2))
	handle.monitor.poll()

	select {
	case ev := <-events:
		if len(ev.Devices) != 2 {
			t.Errorf("event carried %d devices, want 2", len(ev.Devices))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no device list event delivered")
	}

	// An identical enumeration must not publish again.
	handle.monitor.poll()
	select {
	case <-events:
		t.Error("unchanged device list produced an event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProcessPanicFaultsStream(t *testing.T) {
	h := &testHandler{}
	handle, _, stream := startStream(t, DefaultConfig(), RunOptions{}, h)

	h.mu.Lock()
	h.procFn = func(ProcessInfo) { panic("blown fuse") }
	h.mu.Unlock()

	stream.RunCycle(512)

	msg, ok := handle.PollMsg()
	if !ok || msg.Kind != MsgFatalError {
		t.Fatalf("got msg %v %v, want the terminal fatal error", msg, ok)
	}
	var fatal *FatalStreamError
	if !errors.As(msg.Err, &fatal) {
		t.Errorf("fatal message carries %T, want FatalStreamError", msg.Err)
	}

	// The engine must stop pulling cycles.
	_, _, before := h.counts()
	stream.RunCycle(512)
	if _, _, after := h.counts(); after != before {
		t.Error("Process still invoked after the stream faulted")
	}

	if err := handle.ChangeBlockSize(context.Background(), 256); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("change on a faulted stream: got %v, want ErrStreamClosed", err)
	}
	if err := handle.Close(); err != nil {
		t.Errorf("Close after fault: %v", err)
	}
	if msg, ok := handle.PollMsg(); ok && msg.Kind == MsgClosed {
		t.Error("Closed posted after a fatal terminal message")
	}
}

func TestMissingOutPortGetsZeroedBufferEveryCycle(t *testing.T) {
	h := &testHandler{}
	cfg := Config{OutPorts: Use([]string{"out_1", "out_2", "out_3"})}
	opts := RunOptions{EmptyBuffersForFailedPorts: true}

	var badLen bool
	var dirty bool
	h.procFn = func(proc ProcessInfo) {
		buf := proc.Out[2]
		if len(buf) != proc.Frames {
			badLen = true
		}
		for _, s := range buf {
			if s != 0 {
				dirty = true
			}
		}
		// Scribble into the unbacked slot; the next cycle must see it
		// zeroed again.
		for i := range buf {
			buf[i] = 1
		}
		for i := range proc.Out[0] {
			proc.Out[0][i] = 0.25
		}
	}

	_, _, stream := startStream(t, cfg, opts, h)

	for i := 0; i < 3; i++ {
		stream.RunCycle(512)
	}

	if badLen {
		t.Error("unbacked buffer length did not match the cycle frame count")
	}
	if dirty {
		t.Error("unbacked buffer was not zero at cycle start")
	}

	out := stream.Output(0, 4)
	for _, s := range out {
		if s != 0.25 {
			t.Errorf("native channel 0 = %v, want 0.25 from the backed port", out)
			break
		}
	}
}

func TestSilenceFlags(t *testing.T) {
	h := &testHandler{}
	var flags []bool
	h.procFn = func(proc ProcessInfo) {
		flags = append(flags[:0], proc.InSilent...)
	}
	_, _, stream := startStream(t, DefaultConfig(),
		RunOptions{AutoAudioInputs: true, CheckForSilentInputs: true}, h)

	stream.RunCycle(16)
	if len(flags) != 2 || !flags[0] || !flags[1] {
		t.Errorf("all-zero cycle flags = %v, want both silent", flags)
	}

	stream.FillInput(1, []float32{0, 0, 0.1})
	stream.RunCycle(16)
	if len(flags) != 2 || !flags[0] || flags[1] {
		t.Errorf("flags = %v, want silent/active after feeding channel 1", flags)
	}
}
