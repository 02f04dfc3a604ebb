package rainout

import (
	"errors"
	"fmt"

	"github.com/rustydaw/rainout/devices"
)

// Sentinel errors returned by resolution and reconfiguration. All carry zero
// side effects: when one is returned no partial session exists and a running
// stream is unaffected.
var (
	// ErrNoSuitableDevice means no device satisfying the configured
	// constraints (for example a stereo output requirement) exists on the
	// selected backend.
	ErrNoSuitableDevice = errors.New("no suitable audio device found")

	// ErrStreamClosed is returned by handle operations after the stream
	// stopped, faulted, or was closed.
	ErrStreamClosed = errors.New("stream is closed")

	// ErrChangeNotSupported is returned by a reconfiguration call the
	// running backend cannot honor.
	ErrChangeNotSupported = errors.New("backend does not support this live change")
)

// BackendUnavailableError means the requested backend is not installed, not
// running, or has no registered adapter in this binary.
type BackendUnavailableError struct {
	Backend devices.Backend
	Status  devices.BackendStatus
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s is unavailable: %s", e.Backend, e.Status)
}

// DeviceNotFoundError means an explicitly configured device does not exist
// on the selected backend.
type DeviceNotFoundError struct {
	Backend devices.Backend
	Device  devices.DeviceID
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device %s not found on backend %s", e.Device, e.Backend)
}

// PortNotFoundError means an explicitly configured port does not exist on
// the resolved device and empty-buffer substitution was not enabled.
type PortNotFoundError struct {
	Device devices.DeviceID
	Port   string
	Input  bool
}

func (e *PortNotFoundError) Error() string {
	dir := "output"
	if e.Input {
		dir = "input"
	}
	return fmt.Sprintf("%s port %q not found on device %s", dir, e.Port, e.Device)
}

// InvalidSampleRateError means an explicitly configured sample rate is not
// in the device's supported set.
type InvalidSampleRateError struct {
	Device    devices.DeviceID
	Requested uint32
	Supported []uint32
}

func (e *InvalidSampleRateError) Error() string {
	return fmt.Sprintf("device %s does not support sample rate %d (supported: %v)",
		e.Device, e.Requested, e.Supported)
}

// InvalidBlockSizeError means an explicitly configured block size is outside
// the device's range or violates its power-of-two requirement.
type InvalidBlockSizeError struct {
	Device    devices.DeviceID
	Requested uint32
	Range     devices.BlockSizeRange
}

func (e *InvalidBlockSizeError) Error() string {
	if e.Range.MustBePowerOfTwo && e.Requested&(e.Requested-1) != 0 {
		return fmt.Sprintf("device %s requires a power-of-two block size, got %d",
			e.Device, e.Requested)
	}
	return fmt.Sprintf("device %s does not support block size %d (range [%d, %d])",
		e.Device, e.Requested, e.Range.Min, e.Range.Max)
}

// TimeoutError means a device-open or backend activation exceeded its
// bounded wait.
type TimeoutError struct {
	Op      string
	Backend devices.Backend
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s on backend %s timed out", e.Op, e.Backend)
}

// FatalStreamError wraps a backend or callback fault that terminated the
// stream. The handle must be discarded; no automatic restart is attempted.
type FatalStreamError struct {
	Err error
}

func (e *FatalStreamError) Error() string {
	return fmt.Sprintf("fatal stream error: %v", e.Err)
}

func (e *FatalStreamError) Unwrap() error { return e.Err }
