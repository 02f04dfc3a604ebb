package rainout

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/devices"
)

// Monitor poll intervals. Polling starts fast to catch a disconnect right
// after stream start, then backs off once the device set is stable.
const (
	monitorFastInterval   = 250 * time.Millisecond
	monitorStableInterval = time.Second

	// Polls without a change before backing off to the stable interval.
	monitorStableThreshold = 8
)

// watchSet names the devices a running stream depends on.
type watchSet struct {
	audio []devices.DeviceID

	// midiPorts maps engine MIDI input port index to the device backing
	// it. Unbacked ports are watched too, so a late plug-in reconnects
	// them.
	midiPorts []devices.DeviceID
}

func watchSetFor(r ResolvedConfig) watchSet {
	w := watchSet{audio: []devices.DeviceID{r.InputDevice}}
	if !r.OutputDevice.Matches(r.InputDevice) {
		w.audio = append(w.audio, r.OutputDevice)
	}
	if r.Midi != nil {
		for _, p := range r.Midi.InPorts {
			w.midiPorts = append(w.midiPorts, p.Device)
		}
	}
	return w
}

// deviceMonitor polls backend enumeration and turns device appearance
// changes into presence commands on the engine's command queue. Only
// transitions are pushed; the engine re-checks and emits a single
// Disconnected or Reconnected message per edge.
type deviceMonitor struct {
	eng    *engine
	audioB backend.AudioBackend
	midiB  backend.MidiBackend

	watch     atomic.Pointer[watchSet]
	lastWatch *watchSet

	// bus receives device-list change events for application subscribers.
	bus *backend.Bus

	quit chan struct{}
	done chan struct{}

	// Last observed presence, keyed by the watch entry. Owned by the
	// monitor goroutine.
	audioSeen map[string]bool
	midiSeen  map[int]bool

	// Fingerprints of the last enumerated device lists, owned by the
	// monitor goroutine.
	lastAudioSig string
	lastMidiSig  string

	stopOnce sync.Once
}

func newDeviceMonitor(eng *engine, audioB backend.AudioBackend, midiB backend.MidiBackend, w watchSet) *deviceMonitor {
	m := &deviceMonitor{
		eng:       eng,
		audioB:    audioB,
		midiB:     midiB,
		bus:       backend.NewBus(),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		audioSeen: make(map[string]bool),
		midiSeen:  make(map[int]bool),
	}
	m.watch.Store(&w)
	return m
}

// setWatch replaces the watched device set after a live MIDI change.
func (m *deviceMonitor) setWatch(w watchSet) {
	m.watch.Store(&w)
}

func (m *deviceMonitor) stop() {
	m.stopOnce.Do(func() { close(m.quit) })
	<-m.done
}

func (m *deviceMonitor) run() {
	defer close(m.done)

	interval := monitorFastInterval
	stablePolls := 0

	t := time.NewTimer(interval)
	defer t.Stop()

	for {
		select {
		case <-m.quit:
			return
		case <-t.C:
		}

		changed := m.poll()
		if changed {
			stablePolls = 0
			interval = monitorFastInterval
		} else if stablePolls < monitorStableThreshold {
			stablePolls++
			if stablePolls == monitorStableThreshold {
				interval = monitorStableInterval
			}
		}
		t.Reset(interval)
	}
}

// poll enumerates the watched backends once and pushes presence transitions
// to the engine. Reports whether anything changed.
func (m *deviceMonitor) poll() bool {
	ctx, cancel := context.WithTimeout(context.Background(), monitorStableInterval)
	defer cancel()

	w := m.watch.Load()
	if w != m.lastWatch {
		// The watch set was replaced by a live change; observed
		// presence for old entries no longer applies.
		m.lastWatch = w
		clear(m.audioSeen)
		clear(m.midiSeen)
	}
	changed := false

	bo, err := m.audioB.Enumerate(ctx)
	if err != nil {
		log.Debugf("monitor: audio enumeration failed: %v", err)
	} else {
		if sig := audioListSig(bo.Devices); sig != m.lastAudioSig {
			if m.lastAudioSig != "" {
				m.bus.PublishAudioDevicesChanged(backend.AudioDevicesChanged{
					Backend: bo.Backend,
					Devices: bo.Devices,
				})
			}
			m.lastAudioSig = sig
		}
		for _, id := range w.audio {
			present := bo.Status == devices.StatusRunning && bo.Devices.ByID(id) != nil
			key := id.String()
			last, known := m.audioSeen[key]
			if known && last == present {
				continue
			}
			m.audioSeen[key] = present
			if !known && present {
				// First observation of a device that is there,
				// matching the engine's starting assumption.
				continue
			}
			changed = true
			m.eng.cmds.push(engineCmd{
				kind:        cmdAudioPresence,
				device:      id,
				connected:   present,
				midiPortIdx: -1,
			})
		}
	}

	if m.midiB != nil && len(w.midiPorts) > 0 {
		mo, err := m.midiB.Enumerate(ctx)
		if err != nil {
			log.Debugf("monitor: MIDI enumeration failed: %v", err)
			return changed
		}
		if sig := midiListSig(mo.InPorts, mo.OutPorts); sig != m.lastMidiSig {
			if m.lastMidiSig != "" {
				m.bus.PublishMidiPortsChanged(backend.MidiPortsChanged{
					Backend:  mo.Backend,
					InPorts:  mo.InPorts,
					OutPorts: mo.OutPorts,
				})
			}
			m.lastMidiSig = sig
		}
		for i, id := range w.midiPorts {
			present := mo.Status == devices.StatusRunning && mo.InPorts.ByID(id) != nil
			last, known := m.midiSeen[i]
			if known && last == present {
				continue
			}
			m.midiSeen[i] = present
			if !known && present {
				continue
			}
			changed = true
			m.eng.cmds.push(engineCmd{
				kind:        cmdMidiPresence,
				device:      id,
				connected:   present,
				midiPortIdx: i,
			})
		}
	}
	return changed
}

// audioListSig fingerprints a device list. The leading count keeps an empty
// list distinct from the never-enumerated state.
func audioListSig(l devices.AudioDeviceList) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(l)))
	b.WriteByte('|')
	for i := range l {
		b.WriteString(l[i].ID.String())
		b.WriteByte(';')
	}
	return b.String()
}

func midiListSig(in, out devices.MidiPortList) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(in) + len(out)))
	b.WriteByte('|')
	for i := range in {
		b.WriteString(in[i].ID.String())
		b.WriteByte(';')
	}
	b.WriteByte('|')
	for i := range out {
		b.WriteString(out[i].ID.String())
		b.WriteByte(';')
	}
	return b.String()
}
