package device

import "testing"

func TestStateOfPriority(t *testing.T) {
	tests := []struct {
		name   string
		status StatusWord
		want   State
	}{
		{"none", 0, StateSwitchOnDisabled},
		{"switched on", 1 << BitSwitchedOn, StateSwitchedOn},
		{"operation enabled", 1<<BitSwitchedOn | 1<<BitOperationEnabled, StateOperationEnabled},
		{"fault only", 1 << BitFault, StateFault},
		{"fault wins over enabled", 1<<BitFault | 1<<BitOperationEnabled | 1<<BitSwitchedOn, StateFault},
		{"enabled without switched on", 1 << BitOperationEnabled, StateOperationEnabled},
		{"unrelated bits", 0xFF00, StateSwitchOnDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StateOf(tt.status); got != tt.want {
				t.Errorf("StateOf(%#04x): got %s, want %s", uint16(tt.status), got, tt.want)
			}
		})
	}
}

func TestStateControl(t *testing.T) {
	tests := []struct {
		state State
		want  ControlWord
	}{
		{StateSwitchOnDisabled, 0x80},
		{StateSwitchedOn, 0x07},
		{StateOperationEnabled, 0x0F},
	}
	for _, tt := range tests {
		got, err := tt.state.Control()
		if err != nil {
			t.Fatalf("%s.Control(): %v", tt.state, err)
		}
		if got != tt.want {
			t.Errorf("%s.Control(): got %#02x, want %#02x", tt.state, got, tt.want)
		}
	}

	if _, err := StateFault.Control(); err == nil {
		t.Error("StateFault.Control() should fail")
	}
}

func TestStateString(t *testing.T) {
	if got := StateOperationEnabled.String(); got != "OPERATION_ENABLED" {
		t.Errorf("got %q, want %q", got, "OPERATION_ENABLED")
	}
	if got := State(42).String(); got != "State(42)" {
		t.Errorf("got %q, want %q", got, "State(42)")
	}
}

func TestPointDecode(t *testing.T) {
	bit17 := uint(17)
	bit0 := uint(0)

	tests := []struct {
		name  string
		point Point
		raw   uint32
		want  float64
	}{
		{"unscaled", Point{Words: 1}, 42, 42},
		{"scaled tenths", Point{Words: 1, Scale: 0.1}, 125, 12.5},
		{"signed single word", Point{Words: 1, Signed: true}, 0xFFFE, -2},
		{"signed double word", Point{Words: 2, Signed: true}, 0xFFFFFFFF, -1},
		{"unsigned double word", Point{Words: 2}, 0x00010000, 65536},
		{"bit set", Point{Words: 2, Bit: &bit17}, 1 << 17, 1},
		{"bit clear", Point{Words: 2, Bit: &bit17}, 1 << 16, 0},
		{"bit ignores scale", Point{Words: 1, Bit: &bit0, Scale: 10}, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.point.Decode(tt.raw); got != tt.want {
				t.Errorf("Decode(%#x): got %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPointWordCount(t *testing.T) {
	if got := (Point{}).WordCount(); got != 1 {
		t.Errorf("zero Words: got %d, want 1", got)
	}
	if got := (Point{Words: 2}).WordCount(); got != 2 {
		t.Errorf("Words=2: got %d, want 2", got)
	}
}
