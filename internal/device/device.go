// Package device models one variable-speed pump drive as seen over the field bus.
// It decodes drive status words, maps commanded states to control words, and
// defines the Bus boundary implemented by field-bus drivers.
package device

import (
	"errors"
	"fmt"
)

// ErrBusScan is returned when a bus scan finds no responding drive.
var ErrBusScan = errors.New("device: no drives responded to bus scan")

// Status word bit positions.
const (
	BitSwitchedOn       = 1
	BitOperationEnabled = 2
	BitFault            = 3
)

// StatusWord is the raw status register of a drive.
type StatusWord uint16

// Bit reports whether bit n is set.
func (s StatusWord) Bit(n uint) bool {
	return s&(1<<n) != 0
}

// Fault reports whether the drive has latched a fault.
func (s StatusWord) Fault() bool { return s.Bit(BitFault) }

// OperationEnabled reports whether the drive is delivering output.
func (s StatusWord) OperationEnabled() bool { return s.Bit(BitOperationEnabled) }

// SwitchedOn reports whether the drive is switched on.
func (s StatusWord) SwitchedOn() bool { return s.Bit(BitSwitchedOn) }

// ControlWord is the value written to a drive's control register.
type ControlWord uint16

// Control word values for the commanded states.
const (
	ControlSwitchOnDisabled ControlWord = 0x80
	ControlSwitchedOn       ControlWord = 0x07
	ControlOperationEnabled ControlWord = 0x0F

	// ControlFaultReset is edge-triggered: the drive clears a latched fault
	// only on a set-then-clear transition of this bit.
	ControlFaultReset ControlWord = 1 << 7
)

// State is the operating state of a drive or the commanded state of the fleet.
type State int

const (
	StateSwitchOnDisabled State = iota
	StateSwitchedOn
	StateOperationEnabled
	StateFault
)

func (s State) String() string {
	switch s {
	case StateSwitchOnDisabled:
		return "SWITCH_ON_DISABLED"
	case StateSwitchedOn:
		return "SWITCHED_ON"
	case StateOperationEnabled:
		return "OPERATION_ENABLED"
	case StateFault:
		return "FAULT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Control returns the control word that commands state s.
// StateFault cannot be commanded.
func (s State) Control() (ControlWord, error) {
	switch s {
	case StateSwitchOnDisabled:
		return ControlSwitchOnDisabled, nil
	case StateSwitchedOn:
		return ControlSwitchedOn, nil
	case StateOperationEnabled:
		return ControlOperationEnabled, nil
	default:
		return 0, fmt.Errorf("device: state %s cannot be commanded", s)
	}
}

// StateOf resolves a status word to a single state.
// Priority: fault, operation enabled, switched on, switch-on disabled.
// Drives can report several bits at once while transitioning.
func StateOf(s StatusWord) State {
	switch {
	case s.Fault():
		return StateFault
	case s.OperationEnabled():
		return StateOperationEnabled
	case s.SwitchedOn():
		return StateSwitchedOn
	default:
		return StateSwitchOnDisabled
	}
}

// Device is one pump drive discovered on the bus.
type Device struct {
	ID       uint8
	Status   StatusWord  // last status word read from the drive
	Control  ControlWord // last control word written
	Setpoint int16       // last commanded velocity, device units
}

// State returns the drive's current state from its last status word.
func (d Device) State() State {
	return StateOf(d.Status)
}
