package store

import "strings"

// Settings keys.
const (
	KeyRunRequested   = "run_requested"
	KeyPumpRunning    = "pump_running"
	KeyTargetPressure = "outlet_pressure_target"
	KeyMinInlet       = "inlet_pressure_min"
	KeyMaxInlet       = "inlet_pressure_max"
	KeyMaxOutlet      = "outlet_pressure_max"
	KeyInletOK        = "inlet_ok"
	KeyOutletPressure = "outlet_pressure"
	KeyInletPressure  = "inlet_pressure"

	KeyAntiDripActive       = "anti_drip_active"
	KeyAntiDripWindow       = "anti_drip_window_s"
	KeyAntiDripMaxStarts    = "anti_drip_max_starts"
	KeyAntiDripMinEpisode   = "anti_drip_min_episode_s"
	KeyAntiDripWindowStart  = "anti_drip_window_start"
	KeyAntiDripCount        = "anti_drip_count"
	KeyAntiDripEpisodeStart = "anti_drip_episode_start"
)

// Service counter names.
const (
	CounterTL = "TL"
	CounterBK = "BK"
	CounterRB = "RB"
)

// Counters lists the service counters in display order.
var Counters = []string{CounterTL, CounterBK, CounterRB}

// CounterKeys are the settings keys of one service counter.
type CounterKeys struct {
	Hours   string
	Minutes string
	Seconds string
	Limit   string
	Locked  string
}

// Counter returns the keys of the named service counter.
func Counter(name string) CounterKeys {
	p := strings.ToLower(name)
	return CounterKeys{
		Hours:   p + "_hours",
		Minutes: p + "_minutes",
		Seconds: p + "_seconds",
		Limit:   p + "_limit_hours",
		Locked:  p + "_locked",
	}
}
