// Package logic contains the pure decision logic of the pumping station.
// This package has NO external dependencies (no bus, store, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"strings"
	"time"
)

// StopReason explains why the fleet is not running.
type StopReason string

const (
	ReasonNone               StopReason = ""
	ReasonNoInletData        StopReason = "NO_INLET_DATA"
	ReasonInletOutOfRange    StopReason = "INLET_OUT_OF_RANGE"
	ReasonServiceLimit       StopReason = "SERVICE_LIMIT"
	ReasonAntiDrip           StopReason = "ANTI_DRIP"
	ReasonOperatorStop       StopReason = "OPERATOR_STOP"
	ReasonNoOutletData       StopReason = "NO_OUTLET_DATA"
	ReasonOutletOverPressure StopReason = "OUTLET_OVER_PRESSURE"
	ReasonTargetReached      StopReason = "TARGET_REACHED"
)

// Interlock reports whether r is a protective stop rather than a normal one.
func (r StopReason) Interlock() bool {
	switch r {
	case ReasonNone, ReasonOperatorStop, ReasonTargetReached:
		return false
	default:
		return true
	}
}

// ServiceLocks holds the lock flag of each service counter.
type ServiceLocks struct {
	TL bool
	BK bool
	RB bool
}

// Any reports whether any counter is locked.
func (l ServiceLocks) Any() bool {
	return l.TL || l.BK || l.RB
}

// String lists the locked counters, e.g. "TL,RB".
func (l ServiceLocks) String() string {
	var names []string
	if l.TL {
		names = append(names, "TL")
	}
	if l.BK {
		names = append(names, "BK")
	}
	if l.RB {
		names = append(names, "RB")
	}
	return strings.Join(names, ",")
}

// AntiCycleConfig parameterizes anti-drip protection.
type AntiCycleConfig struct {
	Window     time.Duration // length of the counting window
	MaxStarts  int           // counted starts that trip the lock; 0 disables
	MinEpisode time.Duration // shortest run that counts as a start
}

// Window is the persisted state of an AntiCycle.
type Window struct {
	Start        time.Time
	Count        int
	Triggered    bool
	EpisodeStart time.Time // zero when no episode is open
}
