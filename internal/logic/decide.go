package logic

import "math"

// Inputs is everything one periodic tick decides on.
// A nil pressure means the sensor had no data.
type Inputs struct {
	Inlet  *float64
	Outlet *float64

	MinInlet  float64
	MaxInlet  float64
	MaxOutlet float64 // 0 disables the over-pressure stop
	Target    float64

	Locks        ServiceLocks
	AntiDrip     bool
	RunRequested bool

	Gain     float64 // speed units per unit of pressure error
	MaxSpeed int
}

// Decision is the outcome of one tick.
type Decision struct {
	Run        bool
	Speed      int        // setpoint to write when Run or Reason is ReasonTargetReached
	WriteSpeed bool       // whether Speed must be written
	Reason     StopReason // set when !Run
	Error      float64    // Target minus outlet, when the outlet was read
}

// Decide applies the interlocks in priority order and, if none holds, the
// proportional pressure law.
func Decide(in Inputs) Decision {
	switch {
	case in.Inlet == nil:
		return Decision{Reason: ReasonNoInletData}
	case *in.Inlet < in.MinInlet || *in.Inlet > in.MaxInlet:
		return Decision{Reason: ReasonInletOutOfRange}
	case in.Locks.Any():
		return Decision{Reason: ReasonServiceLimit}
	case in.AntiDrip:
		return Decision{Reason: ReasonAntiDrip}
	case !in.RunRequested:
		return Decision{Reason: ReasonOperatorStop}
	case in.Outlet == nil:
		return Decision{Reason: ReasonNoOutletData}
	case in.MaxOutlet > 0 && *in.Outlet > in.MaxOutlet:
		return Decision{Reason: ReasonOutletOverPressure}
	}

	e := in.Target - *in.Outlet
	if e <= 0 {
		return Decision{WriteSpeed: true, Reason: ReasonTargetReached, Error: e}
	}
	return Decision{
		Run:        true,
		Speed:      Speed(e, in.Gain, in.MaxSpeed),
		WriteSpeed: true,
		Error:      e,
	}
}

// Speed is the proportional law: error times gain, capped at maxSpeed and
// truncated toward zero.
func Speed(err, gain float64, maxSpeed int) int {
	return int(math.Min(err*gain, float64(maxSpeed)))
}
