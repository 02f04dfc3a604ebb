package devices

import "testing"

func TestDeviceIDMatches(t *testing.T) {
	tests := []struct {
		name string
		a, b DeviceID
		want bool
	}{
		{
			name: "identifier preferred over name",
			a:    DeviceID{Name: "Scarlett", Identifier: "usb-1234"},
			b:    DeviceID{Name: "Scarlett 2i2", Identifier: "usb-1234"},
			want: true,
		},
		{
			name: "identifier mismatch despite equal names",
			a:    DeviceID{Name: "Scarlett", Identifier: "usb-1234"},
			b:    DeviceID{Name: "Scarlett", Identifier: "usb-9999"},
			want: false,
		},
		{
			name: "name fallback when one side has no identifier",
			a:    DeviceID{Name: "Built-in Output", Identifier: "coreaudio-77"},
			b:    DeviceID{Name: "Built-in Output"},
			want: true,
		},
		{
			name: "name mismatch without identifiers",
			a:    DeviceID{Name: "HDMI"},
			b:    DeviceID{Name: "Line Out"},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Matches(tt.b); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
			if got := tt.b.Matches(tt.a); got != tt.want {
				t.Errorf("Matches() not symmetric: = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBackendFromString(t *testing.T) {
	for _, b := range []Backend{
		BackendJack, BackendPipewire, BackendAlsa,
		BackendCoreAudio, BackendWasapi, BackendAsio,
	} {
		got, ok := BackendFromString(b.String())
		if !ok || got != b {
			t.Errorf("BackendFromString(%q) = %v, %v", b.String(), got, ok)
		}
	}
	if _, ok := BackendFromString("NotABackend"); ok {
		t.Error("BackendFromString accepted an unknown name")
	}
}

func TestBlockSizeRangeContains(t *testing.T) {
	r := BlockSizeRange{Min: 32, Max: 2048, Default: 512, MustBePowerOfTwo: true}

	for _, frames := range []uint32{32, 64, 512, 2048} {
		if !r.Contains(frames) {
			t.Errorf("Contains(%d) = false, want true", frames)
		}
	}
	for _, frames := range []uint32{16, 4096, 500, 33} {
		if r.Contains(frames) {
			t.Errorf("Contains(%d) = true, want false", frames)
		}
	}

	free := BlockSizeRange{Min: 1, Max: 8192, Default: 512}
	if !free.Contains(500) {
		t.Error("range without power-of-two requirement rejected 500")
	}
}

func testDevice(name string, ins, outs int, isDefault bool) AudioDeviceInfo {
	d := AudioDeviceInfo{
		ID:                DeviceID{Name: name, Identifier: "id-" + name},
		SampleRates:       []uint32{44100, 48000},
		DefaultSampleRate: 48000,
		IsDefault:         isDefault,
	}
	for i := 0; i < ins; i++ {
		d.InPorts = append(d.InPorts, "in_"+string(rune('1'+i)))
	}
	for i := 0; i < outs; i++ {
		d.OutPorts = append(d.OutPorts, "out_"+string(rune('1'+i)))
	}
	return d
}

func TestAudioDeviceListFilters(t *testing.T) {
	list := AudioDeviceList{
		testDevice("mic", 1, 0, false),
		testDevice("speakers", 0, 2, false),
		testDevice("interface", 2, 2, true),
	}

	if got := len(list.Inputs()); got != 2 {
		t.Errorf("Inputs() returned %d devices, want 2", got)
	}
	if got := len(list.Outputs()); got != 2 {
		t.Errorf("Outputs() returned %d devices, want 2", got)
	}
	if got := len(list.Duplex()); got != 1 {
		t.Errorf("Duplex() returned %d devices, want 1", got)
	}

	if d := list.Default(); d == nil || d.ID.Name != "interface" {
		t.Errorf("Default() = %v, want the flagged default device", d)
	}
	if d := list.ByID(DeviceID{Name: "speakers"}); d == nil || d.ID.Name != "speakers" {
		t.Errorf("ByID() = %v, want speakers", d)
	}
	if d := list.ByID(DeviceID{Name: "missing"}); d != nil {
		t.Errorf("ByID(missing) = %v, want nil", d)
	}
}

func TestDefaultFallsBackToFirst(t *testing.T) {
	list := AudioDeviceList{
		testDevice("a", 0, 2, false),
		testDevice("b", 0, 2, false),
	}
	if d := list.Default(); d == nil || d.ID.Name != "a" {
		t.Errorf("Default() = %v, want first device", d)
	}
	if d := (AudioDeviceList{}).Default(); d != nil {
		t.Errorf("Default() on empty list = %v, want nil", d)
	}
}

func TestPortIndexLookup(t *testing.T) {
	d := testDevice("interface", 2, 2, false)
	if i := d.OutPortIndex("out_2"); i != 1 {
		t.Errorf("OutPortIndex(out_2) = %d, want 1", i)
	}
	if i := d.OutPortIndex("out_9"); i != -1 {
		t.Errorf("OutPortIndex(out_9) = %d, want -1", i)
	}
	if i := d.InPortIndex("in_1"); i != 0 {
		t.Errorf("InPortIndex(in_1) = %d, want 0", i)
	}
}
