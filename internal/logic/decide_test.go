package logic

import "testing"

func ptr(v float64) *float64 { return &v }

func baseInputs() Inputs {
	return Inputs{
		Inlet:        ptr(1),
		Outlet:       ptr(10),
		MinInlet:     1,
		MaxInlet:     100,
		MaxOutlet:    110,
		Target:       12,
		RunRequested: true,
		Gain:         30,
		MaxSpeed:     3000,
	}
}

func TestDecideProportional(t *testing.T) {
	d := Decide(baseInputs())
	if !d.Run {
		t.Fatalf("Run: got false (reason %s)", d.Reason)
	}
	if d.Speed != 60 {
		t.Errorf("Speed: got %d, want 60", d.Speed)
	}
	if !d.WriteSpeed {
		t.Error("WriteSpeed: got false")
	}
}

func TestDecideSpeedCapped(t *testing.T) {
	in := baseInputs()
	in.Outlet = ptr(-200)
	if d := Decide(in); d.Speed != 3000 {
		t.Errorf("Speed: got %d, want 3000", d.Speed)
	}
}

func TestDecideTargetReached(t *testing.T) {
	for _, outlet := range []float64{12, 13.5} {
		in := baseInputs()
		in.Outlet = ptr(outlet)
		d := Decide(in)
		if d.Run {
			t.Errorf("outlet %v: Run: got true", outlet)
		}
		if d.Reason != ReasonTargetReached {
			t.Errorf("outlet %v: Reason: got %s", outlet, d.Reason)
		}
		if !d.WriteSpeed || d.Speed != 0 {
			t.Errorf("outlet %v: want a zero speed write, got %+v", outlet, d)
		}
	}
}

func TestDecideInterlockOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Inputs)
		want   StopReason
	}{
		{"no inlet data", func(in *Inputs) { in.Inlet = nil }, ReasonNoInletData},
		{"inlet low", func(in *Inputs) { in.Inlet = ptr(0) }, ReasonInletOutOfRange},
		{"inlet high", func(in *Inputs) { in.Inlet = ptr(101) }, ReasonInletOutOfRange},
		{"inlet beats lock", func(in *Inputs) {
			in.Inlet = ptr(0)
			in.Locks.BK = true
		}, ReasonInletOutOfRange},
		{"service lock", func(in *Inputs) { in.Locks.TL = true }, ReasonServiceLimit},
		{"lock beats anti-drip", func(in *Inputs) {
			in.Locks.RB = true
			in.AntiDrip = true
		}, ReasonServiceLimit},
		{"anti-drip", func(in *Inputs) { in.AntiDrip = true }, ReasonAntiDrip},
		{"operator stop", func(in *Inputs) { in.RunRequested = false }, ReasonOperatorStop},
		{"no outlet data", func(in *Inputs) { in.Outlet = nil }, ReasonNoOutletData},
		{"over pressure", func(in *Inputs) { in.Outlet = ptr(111) }, ReasonOutletOverPressure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseInputs()
			tt.mutate(&in)
			d := Decide(in)
			if d.Run {
				t.Fatal("Run: got true")
			}
			if d.WriteSpeed {
				t.Error("interlock stop should not write speed")
			}
			if d.Reason != tt.want {
				t.Errorf("Reason: got %s, want %s", d.Reason, tt.want)
			}
		})
	}
}

func TestDecideMaxOutletDisabled(t *testing.T) {
	in := baseInputs()
	in.MaxOutlet = 0
	in.Target = 500
	in.Outlet = ptr(400)
	if d := Decide(in); !d.Run {
		t.Errorf("Run: got false (reason %s)", d.Reason)
	}
}

func TestSpeedTruncates(t *testing.T) {
	if got := Speed(0.55, 30, 3000); got != 16 {
		t.Errorf("Speed: got %d, want 16", got)
	}
}

func TestStopReasonInterlock(t *testing.T) {
	if ReasonOperatorStop.Interlock() || ReasonTargetReached.Interlock() || ReasonNone.Interlock() {
		t.Error("normal stops reported as interlocks")
	}
	if !ReasonAntiDrip.Interlock() || !ReasonInletOutOfRange.Interlock() {
		t.Error("protective stops not reported as interlocks")
	}
}

func TestServiceLocksString(t *testing.T) {
	l := ServiceLocks{TL: true, RB: true}
	if got := l.String(); got != "TL,RB" {
		t.Errorf("got %q, want %q", got, "TL,RB")
	}
	if (ServiceLocks{}).Any() {
		t.Error("empty locks reported Any")
	}
}
