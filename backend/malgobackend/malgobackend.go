// Package malgobackend adapts the miniaudio library (via malgo) as an audio
// backend. Importing the package registers it for the platform's native
// subsystem (ALSA on Linux, CoreAudio on macOS, WASAPI on Windows).
//
// miniaudio resamples and converts channel layouts internally, so devices
// are reported with the standard rate set and stereo ports regardless of
// native capability; the requested configuration is what the callback
// receives.
package malgobackend

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/rustydaw/rainout/backend"
	"github.com/rustydaw/rainout/devices"
)

func init() {
	if id := platformBackend(); id != devices.BackendUnknown {
		backend.RegisterAudio(&audioBackend{id: id})
	}
}

func platformBackend() devices.Backend {
	switch runtime.GOOS {
	case "linux", "freebsd":
		return devices.BackendAlsa
	case "darwin":
		return devices.BackendCoreAudio
	case "windows":
		return devices.BackendWasapi
	default:
		return devices.BackendUnknown
	}
}

var standardRates = []uint32{44100, 48000, 88200, 96000}

type audioBackend struct {
	id devices.Backend
}

func (b *audioBackend) Backend() devices.Backend { return b.id }

// Enumerate initializes a fresh miniaudio context, lists playback and
// capture devices, and tears the context down again. Nothing is cached.
func (b *audioBackend) Enumerate(ctx context.Context) (devices.AudioBackendOptions, error) {
	opts := devices.AudioBackendOptions{
		Backend:             b.id,
		SupportsLinkedInOut: true,
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		opts.Status = devices.StatusNotRunning
		return opts, nil
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	playback, err := listDevices(mctx, malgo.Playback)
	if err != nil {
		return opts, err
	}
	capture, err := listDevices(mctx, malgo.Capture)
	if err != nil {
		return opts, err
	}

	byID := make(map[string]*devices.AudioDeviceInfo)
	for _, d := range playback {
		info := deviceInfo(d)
		info.OutPorts = []string{"out_left", "out_right"}
		info.OutLayout = devices.LayoutStereo
		info.DefaultOutPorts = []int{0, 1}
		opts.Devices = append(opts.Devices, info)
		byID[info.ID.Identifier] = &opts.Devices[len(opts.Devices)-1]
	}
	for _, d := range capture {
		info := deviceInfo(d)
		if existing, ok := byID[info.ID.Identifier]; ok {
			existing.InPorts = []string{"in_left", "in_right"}
			existing.InLayout = devices.LayoutStereo
			existing.DefaultInPorts = []int{0, 1}
			continue
		}
		info.InPorts = []string{"in_left", "in_right"}
		info.InLayout = devices.LayoutStereo
		info.DefaultInPorts = []int{0, 1}
		opts.Devices = append(opts.Devices, info)
	}

	if len(opts.Devices) == 0 {
		opts.Status = devices.StatusNoDevices
	} else {
		opts.Status = devices.StatusRunning
	}
	return opts, nil
}

type malgoDevice struct {
	id        malgo.DeviceID
	name      string
	isDefault bool
}

func listDevices(mctx *malgo.AllocatedContext, typ malgo.DeviceType) ([]malgoDevice, error) {
	devs, err := mctx.Devices(typ)
	if err != nil {
		return nil, err
	}
	res := make([]malgoDevice, 0, len(devs))
	seen := make(map[malgo.DeviceID]struct{}, len(devs))
	for _, dev := range devs {
		full, err := mctx.DeviceInfo(typ, dev.ID, malgo.Shared)
		if err != nil {
			log.Warnf("unable to get device info: %v", err)
			continue
		}
		if _, ok := seen[full.ID]; ok {
			continue
		}
		seen[full.ID] = struct{}{}
		res = append(res, malgoDevice{
			id:        full.ID,
			name:      full.Name(),
			isDefault: full.IsDefault == 1,
		})
	}
	return res, nil
}

func deviceInfo(d malgoDevice) devices.AudioDeviceInfo {
	return devices.AudioDeviceInfo{
		ID: devices.DeviceID{
			Name:       d.name,
			Identifier: string(d.id[:]),
		},
		SampleRates:       standardRates,
		DefaultSampleRate: 48000,
		BlockSizes: &devices.BlockSizeRange{
			Min: 32, Max: 8192, Default: 512,
		},
		IsDefault: d.isDefault,
	}
}

var emptyDeviceID malgo.DeviceID

func lookupDeviceID(mctx *malgo.AllocatedContext, typ malgo.DeviceType, id devices.DeviceID) (malgo.DeviceID, error) {
	devs, err := listDevices(mctx, typ)
	if err != nil {
		return emptyDeviceID, err
	}
	for _, d := range devs {
		if id.Identifier != "" && string(d.id[:]) == id.Identifier {
			return d.id, nil
		}
		if id.Identifier == "" && d.name == id.Name {
			return d.id, nil
		}
	}
	return emptyDeviceID, fmt.Errorf("device %s not found", id)
}

// OpenStream opens a duplex (or playback-only) miniaudio device in f32
// format and starts driving fn from miniaudio's data callback.
func (b *audioBackend) OpenStream(ctx context.Context, cfg backend.StreamConfig, fn backend.ProcessFunc) (backend.AudioStream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}

	duplex := cfg.InChannels > 0
	typ := malgo.Playback
	if duplex {
		typ = malgo.Duplex
	}

	deviceConfig := malgo.DefaultDeviceConfig(typ)
	deviceConfig.SampleRate = cfg.SampleRate
	deviceConfig.PeriodSizeInFrames = cfg.BlockFrames
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(cfg.OutChannels)
	if outID, err := lookupDeviceID(mctx, malgo.Playback, cfg.OutputDevice); err == nil && outID != emptyDeviceID {
		deviceConfig.Playback.DeviceID = outID.Pointer()
	}
	if duplex {
		deviceConfig.Capture.Format = malgo.FormatF32
		deviceConfig.Capture.Channels = uint32(cfg.InChannels)
		if inID, err := lookupDeviceID(mctx, malgo.Capture, cfg.InputDevice); err == nil && inID != emptyDeviceID {
			deviceConfig.Capture.DeviceID = inID.Pointer()
		}
	}

	maxFrames := int(cfg.BlockFrames)
	if maxFrames == 0 {
		maxFrames = int(cfg.MaxFrames)
	}
	s := &audioStream{
		mctx:       mctx,
		sampleRate: cfg.SampleRate,
		blockSize:  cfg.BlockFrames,
		fn:         fn,
		inScratch:  make([]float32, maxFrames*maxInt(cfg.InChannels, 1)),
		outScratch: make([]float32, maxFrames*maxInt(cfg.OutChannels, 1)),
	}

	callbacks := malgo.DeviceCallbacks{Data: s.dataProc}
	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, err
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

type audioStream struct {
	mctx       *malgo.AllocatedContext
	device     *malgo.Device
	sampleRate uint32
	blockSize  uint32
	fn         backend.ProcessFunc
	closed     atomic.Bool

	inScratch  []float32
	outScratch []float32
}

// dataProc is miniaudio's data callback: raw little-endian f32 bytes in and
// out. Samples are converted through preallocated scratch so the process
// path never allocates.
func (s *audioStream) dataProc(out, in []byte, frames uint32) {
	if s.closed.Load() {
		return
	}
	n := int(frames)

	inSamples := len(in) / 4
	if inSamples > len(s.inScratch) {
		inSamples = len(s.inScratch)
	}
	for i := 0; i < inSamples; i++ {
		bits := uint32(in[i*4]) | uint32(in[i*4+1])<<8 |
			uint32(in[i*4+2])<<16 | uint32(in[i*4+3])<<24
		s.inScratch[i] = math.Float32frombits(bits)
	}

	outSamples := len(out) / 4
	if outSamples > len(s.outScratch) {
		outSamples = len(s.outScratch)
	}
	for i := 0; i < outSamples; i++ {
		s.outScratch[i] = 0
	}

	s.fn(s.inScratch[:inSamples], s.outScratch[:outSamples], n)

	for i := 0; i < outSamples; i++ {
		bits := math.Float32bits(s.outScratch[i])
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
}

func (s *audioStream) SampleRate() uint32 { return s.sampleRate }

func (s *audioStream) BlockFrames() uint32 { return s.blockSize }

// SetBlockFrames always fails: miniaudio fixes the period size when the
// device is initialized, and Capabilities reports ChangeBlockSize false.
func (s *audioStream) SetBlockFrames(uint32) error {
	return errors.New("miniaudio fixes the block size at device init")
}

func (s *audioStream) Capabilities() backend.Capabilities {
	// Port changes are channel remaps on top of the full device layout
	// and MIDI runs out of band, so neither needs a device reopen. Block
	// size is fixed at init by miniaudio.
	return backend.Capabilities{
		ChangeAudioPortConfig: true,
		ChangeBlockSize:       false,
		ChangeMidiPorts:       true,
	}
}

func (s *audioStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.device.Stop()
	s.device.Uninit()
	err := s.mctx.Uninit()
	s.mctx.Free()
	return err
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
