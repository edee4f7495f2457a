// Package command defines the operator commands accepted by the control loop
// and the channel that carries them with their replies.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid is returned by Parse for unrecognised command text.
var ErrInvalid = errors.New("command: invalid")

// Kind identifies a command.
type Kind int

const (
	Run Kind = iota + 1
	Stop
	GetInfo
	SetPressureTarget
)

func (k Kind) String() string {
	switch k {
	case Run:
		return "RUN"
	case Stop:
		return "STOP"
	case GetInfo:
		return "GET_INFO"
	case SetPressureTarget:
		return "SET_PRESSURE_TARGET"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Command is one operator request.
type Command struct {
	Kind   Kind
	Target int // SetPressureTarget only
}

func (c Command) String() string {
	if c.Kind == SetPressureTarget {
		return fmt.Sprintf("%s:%d", c.Kind, c.Target)
	}
	return c.Kind.String()
}

// Parse reads the wire form: RUN, STOP, GET_INFO or SET_PRESSURE_TARGET:<int>.
// The target must be positive.
func Parse(s string) (Command, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "RUN":
		return Command{Kind: Run}, nil
	case "STOP":
		return Command{Kind: Stop}, nil
	case "GET_INFO":
		return Command{Kind: GetInfo}, nil
	}

	name, arg, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(name) != "SET_PRESSURE_TARGET" {
		return Command{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return Command{}, fmt.Errorf("%w: target %q", ErrInvalid, arg)
	}
	if n <= 0 {
		return Command{}, fmt.Errorf("%w: target %d not positive", ErrInvalid, n)
	}
	return Command{Kind: SetPressureTarget, Target: n}, nil
}

// Result is the status part of a reply.
type Result string

const (
	OK      Result = "OK"
	Invalid Result = "INVALID"
)

// Response is the control loop's reply to a command.
type Response struct {
	Result Result
	Info   *Info // GetInfo only
	Err    error // set when the loop failed handling the command
}

// Info is the station status returned by GetInfo.
// Nil pressures mean the sensor had no data.
type Info struct {
	InletPressure        *float64 `json:"inlet_pressure"`
	InletTemperature     *float64 `json:"inlet_temperature"`
	OutletPressure       *float64 `json:"outlet_pressure"`
	OutletPressureTarget float64  `json:"outlet_pressure_target"`
	WorkingHours         int      `json:"working_hours_counter"`
	WorkingMinutes       int      `json:"working_minutes_counter"`
	AntiDrip             bool     `json:"anti_drip"`
	Alarms               []int    `json:"alarms"`
	TLService            bool     `json:"tl_service"`
	BKService            bool     `json:"bk_service"`
	RBService            bool     `json:"rb_service"`
	Run                  bool     `json:"run"`
	Running              bool     `json:"running"`
}
