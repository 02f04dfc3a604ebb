package rainout

import (
	"context"
	"fmt"

	"github.com/rustydaw/rainout/devices"
)

// Resolve turns a declarative Config plus RunOptions into a fully concrete
// ResolvedConfig, or a specific error. It never mutates global state and is
// idempotent: resolving the Config() of a ResolvedConfig reproduces it
// unchanged.
func Resolve(ctx context.Context, cfg Config, opts RunOptions) (ResolvedConfig, error) {
	opts = opts.withDefaults()

	// Backend.
	var backendOpts devices.AudioBackendOptions
	if id, ok := cfg.Backend.Value(); ok {
		bo, err := EnumerateAudioBackend(ctx, id)
		if err != nil {
			return ResolvedConfig{}, err
		}
		if bo.Status != devices.StatusRunning && bo.Status != devices.StatusNoDevices {
			return ResolvedConfig{}, &BackendUnavailableError{Backend: id, Status: bo.Status}
		}
		backendOpts = bo
	} else {
		bo, err := FindPreferredAudioBackend(ctx)
		if err != nil {
			return ResolvedConfig{}, err
		}
		backendOpts = bo
	}
	r := ResolvedConfig{
		Backend:             backendOpts.Backend,
		TakeExclusiveAccess: cfg.TakeExclusiveAccess,
	}

	// Device(s).
	var inDev, outDev *devices.AudioDeviceInfo
	if linked, ok := cfg.Device.Linked.Value(); ok {
		if !backendOpts.SupportsLinkedInOut {
			return ResolvedConfig{}, fmt.Errorf(
				"backend %s cannot link separate in/out devices: %w",
				backendOpts.Backend, ErrNoSuitableDevice)
		}
		var err error
		inDev, err = pickDevice(backendOpts, linked.Input, pickInput, opts)
		if err != nil {
			return ResolvedConfig{}, err
		}
		outDev, err = pickDevice(backendOpts, linked.Output, pickOutput, opts)
		if err != nil {
			return ResolvedConfig{}, err
		}
		r.Linked = true
	} else {
		dev, err := pickDevice(backendOpts, cfg.Device.Single, pickDuplex, opts)
		if err != nil {
			return ResolvedConfig{}, err
		}
		inDev, outDev = dev, dev
	}
	r.InputDevice = inDev.ID
	r.OutputDevice = outDev.ID
	r.InChannels = len(inDev.InPorts)
	r.OutChannels = len(outDev.OutPorts)

	// Sample rate. The output device is authoritative; a linked input
	// device must support the same rate.
	if rate, ok := cfg.SampleRate.Value(); ok {
		if !outDev.HasSampleRate(rate) {
			return ResolvedConfig{}, &InvalidSampleRateError{
				Device: outDev.ID, Requested: rate, Supported: outDev.SampleRates,
			}
		}
		if r.Linked && !inDev.HasSampleRate(rate) {
			return ResolvedConfig{}, &InvalidSampleRateError{
				Device: inDev.ID, Requested: rate, Supported: inDev.SampleRates,
			}
		}
		r.SampleRate = rate
	} else {
		r.SampleRate = outDev.DefaultSampleRate
		if r.Linked && !inDev.HasSampleRate(r.SampleRate) {
			r.SampleRate = inDev.DefaultSampleRate
		}
	}

	// Block size.
	if frames, ok := cfg.BlockSize.Value(); ok {
		if outDev.BlockSizes == nil {
			// No fixed-size support: the requested size becomes the
			// upper bound on variable cycles.
			r.BlockSize = 0
			r.MaxBlockSize = frames
		} else if !outDev.BlockSizes.Contains(frames) {
			return ResolvedConfig{}, &InvalidBlockSizeError{
				Device: outDev.ID, Requested: frames, Range: *outDev.BlockSizes,
			}
		} else {
			r.BlockSize = frames
			r.MaxBlockSize = frames
		}
	} else if outDev.BlockSizes != nil {
		r.BlockSize = outDev.BlockSizes.Default
		r.MaxBlockSize = outDev.BlockSizes.Default
	} else {
		r.BlockSize = 0
		r.MaxBlockSize = opts.FallbackBlockSize
	}

	// Ports.
	var err error
	r.InPorts, err = resolvePorts(inDev, cfg.InPorts, true, opts)
	if err != nil {
		return ResolvedConfig{}, err
	}
	r.OutPorts, err = resolvePorts(outDev, cfg.OutPorts, false, opts)
	if err != nil {
		return ResolvedConfig{}, err
	}

	// MIDI, resolved independently of audio.
	if cfg.Midi != nil {
		midi, err := resolveMidi(ctx, *cfg.Midi, opts)
		if err != nil {
			return ResolvedConfig{}, err
		}
		r.Midi = midi
	}

	return r, nil
}

type devicePick int

const (
	pickDuplex devicePick = iota
	pickInput
	pickOutput
)

func deviceQualifies(d devices.AudioDeviceInfo, pick devicePick, opts RunOptions) bool {
	switch pick {
	case pickInput:
		return d.CanInput()
	default:
		if !d.CanOutput() {
			return false
		}
		if opts.MustHaveStereoOutput && !d.HasStereoOutput() {
			return false
		}
		return true
	}
}

// pickDevice selects one device per the automatic/explicit rules. An
// explicit device must exist; an automatic pick starts from the backend's
// default. Either way, a candidate failing the stereo output requirement
// triggers a search of the backend's remaining devices before resolution
// fails with ErrNoSuitableDevice.
func pickDevice(bo devices.AudioBackendOptions, sel AutoOption[devices.DeviceID], pick devicePick, opts RunOptions) (*devices.AudioDeviceInfo, error) {
	var candidate *devices.AudioDeviceInfo
	if id, ok := sel.Value(); ok {
		candidate = bo.Devices.ByID(id)
		if candidate == nil {
			return nil, &DeviceNotFoundError{Backend: bo.Backend, Device: id}
		}
	} else {
		list := bo.Devices
		switch pick {
		case pickInput:
			list = list.Inputs()
		case pickOutput:
			list = list.Outputs()
		}
		candidate = list.Default()
	}

	if candidate != nil && deviceQualifies(*candidate, pick, opts) {
		return candidate, nil
	}

	for i := range bo.Devices {
		d := &bo.Devices[i]
		if d == candidate {
			continue
		}
		if deviceQualifies(*d, pick, opts) {
			return d, nil
		}
	}
	return nil, ErrNoSuitableDevice
}

// resolvePorts maps the configured port list onto the device's native
// channels. A missing explicit port fails resolution unless
// EmptyBuffersForFailedPorts is set, in which case the slot stays at its
// configured position backed by a zeroed buffer.
func resolvePorts(dev *devices.AudioDeviceInfo, sel AutoOption[[]string], input bool, opts RunOptions) ([]ResolvedPort, error) {
	names, explicit := sel.Value()
	if !explicit {
		if input && !opts.AutoAudioInputs {
			return nil, nil
		}
		names = defaultPortNames(dev, input, opts)
	}

	if len(names) == 0 {
		return nil, nil
	}
	ports := make([]ResolvedPort, 0, len(names))
	for _, name := range names {
		ch := dev.OutPortIndex(name)
		if input {
			ch = dev.InPortIndex(name)
		}
		if ch < 0 {
			if !opts.EmptyBuffersForFailedPorts {
				return nil, &PortNotFoundError{Device: dev.ID, Port: name, Input: input}
			}
			log.Debugf("port %q missing on %s, substituting empty buffer", name, dev.ID)
		}
		ports = append(ports, ResolvedPort{Name: name, Channel: ch})
	}
	return ports, nil
}

// defaultPortNames picks a device's default ports, preferring a layout that
// satisfies the stereo output requirement.
func defaultPortNames(dev *devices.AudioDeviceInfo, input bool, opts RunOptions) []string {
	if input {
		if len(dev.DefaultInPorts) > 0 {
			names := make([]string, 0, len(dev.DefaultInPorts))
			for _, i := range dev.DefaultInPorts {
				if i >= 0 && i < len(dev.InPorts) {
					names = append(names, dev.InPorts[i])
				}
			}
			return names
		}
		if len(dev.InPorts) > 0 {
			n := min(2, len(dev.InPorts))
			return append([]string(nil), dev.InPorts[:n]...)
		}
		return nil
	}

	if len(dev.DefaultOutPorts) > 0 {
		names := make([]string, 0, len(dev.DefaultOutPorts))
		for _, i := range dev.DefaultOutPorts {
			if i >= 0 && i < len(dev.OutPorts) {
				names = append(names, dev.OutPorts[i])
			}
		}
		if !opts.MustHaveStereoOutput || len(names) >= 2 {
			return names
		}
	}
	n := min(2, len(dev.OutPorts))
	return append([]string(nil), dev.OutPorts[:n]...)
}

// resolveMidi resolves the MIDI part independently of audio. A missing MIDI
// device degrades to an unbacked slot when EmptyBuffersForFailedPorts is
// set, the same way a missing audio port does.
func resolveMidi(ctx context.Context, cfg MidiConfig, opts RunOptions) (*ResolvedMidi, error) {
	var bo devices.MidiBackendOptions
	if id, ok := cfg.Backend.Value(); ok {
		o, err := EnumerateMidiBackend(ctx, id)
		if err != nil {
			return nil, err
		}
		if o.Status != devices.StatusRunning && o.Status != devices.StatusNoDevices {
			return nil, &BackendUnavailableError{Backend: id, Status: o.Status}
		}
		bo = o
	} else {
		o, err := FindPreferredMidiBackend(ctx)
		if err != nil {
			return nil, err
		}
		bo = o
	}

	m := &ResolvedMidi{Backend: bo.Backend}

	if sels, ok := cfg.InPorts.Value(); ok {
		ports, err := resolveMidiPorts(bo.Backend, bo.InPorts, sels, opts)
		if err != nil {
			return nil, err
		}
		m.InPorts = ports
	} else if bo.DefaultIn >= 0 && bo.DefaultIn < len(bo.InPorts) {
		p := bo.InPorts[bo.DefaultIn]
		m.InPorts = []ResolvedMidiPort{{Device: p.ID, PortIndex: p.PortIndex, Found: true}}
	}

	if sels, ok := cfg.OutPorts.Value(); ok {
		ports, err := resolveMidiPorts(bo.Backend, bo.OutPorts, sels, opts)
		if err != nil {
			return nil, err
		}
		m.OutPorts = ports
	}
	// Automatic outputs resolve to none.

	return m, nil
}

func resolveMidiPorts(backendID devices.Backend, avail devices.MidiPortList, sels []MidiPortSelection, opts RunOptions) ([]ResolvedMidiPort, error) {
	if len(sels) == 0 {
		return nil, nil
	}
	ports := make([]ResolvedMidiPort, 0, len(sels))
	for _, sel := range sels {
		found := false
		for _, p := range avail {
			if p.ID.Matches(sel.Device) && p.PortIndex == sel.PortIndex {
				found = true
				break
			}
		}
		if !found && !opts.EmptyBuffersForFailedPorts {
			return nil, &DeviceNotFoundError{Backend: backendID, Device: sel.Device}
		}
		ports = append(ports, ResolvedMidiPort{
			Device:    sel.Device,
			PortIndex: sel.PortIndex,
			Found:     found,
		})
	}
	return ports, nil
}
