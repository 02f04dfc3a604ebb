package rainout

import (
	"testing"
	"time"
)

func TestAutoOption(t *testing.T) {
	var auto AutoOption[uint32]
	if !auto.IsAuto() {
		t.Error("zero value is not automatic")
	}
	if got := auto.ValueOr(48000); got != 48000 {
		t.Errorf("ValueOr on auto = %d", got)
	}

	pinned := Use(uint32(44100))
	if pinned.IsAuto() {
		t.Error("Use() produced an automatic option")
	}
	if v, ok := pinned.Value(); !ok || v != 44100 {
		t.Errorf("Value() = %d %v", v, ok)
	}
	if got := Auto[uint32](); !got.IsAuto() {
		t.Error("Auto() is not automatic")
	}
}

func TestRunOptionsDefaults(t *testing.T) {
	o := RunOptions{}.withDefaults()
	if o.MidiBufferSize != DefaultMidiBufferSize {
		t.Errorf("MidiBufferSize = %d", o.MidiBufferSize)
	}
	if o.MsgBufferSize != DefaultMsgBufferSize {
		t.Errorf("MsgBufferSize = %d", o.MsgBufferSize)
	}
	if o.FallbackBlockSize != DefaultFallbackBlockSize {
		t.Errorf("FallbackBlockSize = %d", o.FallbackBlockSize)
	}
	if o.DeviceOpenTimeout != DefaultDeviceOpenTimeout {
		t.Errorf("DeviceOpenTimeout = %v", o.DeviceOpenTimeout)
	}

	custom := RunOptions{MidiBufferSize: 8, DeviceOpenTimeout: time.Second}.withDefaults()
	if custom.MidiBufferSize != 8 || custom.DeviceOpenTimeout != time.Second {
		t.Error("withDefaults overwrote explicit values")
	}
}
