// Package fleet manages the set of pump drives on the bus as one unit.
//
// The manager keeps the last commanded network state and only writes to the
// bus when the commanded state changes. Faulty drives are skipped on every
// write but remain visible to queries.
package fleet

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sweeney/pump-controller/internal/device"
)

// ErrNoData is returned by sensor reads when no drive can serve the value.
var ErrNoData = errors.New("fleet: no sensor data")

// SensorPoint locates a sensor on the drive at position Device in discovery
// order.
type SensorPoint struct {
	Device int
	device.Point
}

// Sensors maps the station's process values onto drive registers.
type Sensors struct {
	OutletPressure   SensorPoint
	InletPressure    SensorPoint
	InletTemperature SensorPoint
}

// Config holds fleet timing and sensor mapping.
type Config struct {
	Sensors        Sensors
	FaultResetHold time.Duration // hold time for each edge of a fault reset
	SettleDelay    time.Duration // pause after discovery before switching on
}

// Option configures a Manager.
type Option func(*Manager)

// WithSleep replaces time.Sleep, for tests.
func WithSleep(fn func(time.Duration)) Option {
	return func(m *Manager) { m.sleep = fn }
}

// Manager owns the discovered drives and the fleet's commanded state.
// It is not safe for concurrent use; the control loop is its only caller.
type Manager struct {
	bus   device.Bus
	cfg   Config
	log   zerolog.Logger
	sleep func(time.Duration)

	devices  []*device.Device
	state    device.State
	stateSet bool
	speed    int
}

// New creates a Manager over bus. Call Discover before use.
func New(bus device.Bus, cfg Config, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		bus:   bus,
		cfg:   cfg,
		log:   logger.With().Str("component", "fleet").Logger(),
		sleep: time.Sleep,
		state: device.StateSwitchOnDisabled,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Discover scans the bus and rebuilds the device set. Each drive is started,
// has any latched fault reset, and is parked in switch-on disabled. After a
// settle delay the whole fleet is commanded to switched on.
//
// If no drive responds Discover returns device.ErrBusScan; the manager stays
// usable and sensor reads report ErrNoData.
func (m *Manager) Discover() error {
	ids, err := m.bus.Scan()
	if err != nil {
		return fmt.Errorf("fleet: scan: %w", err)
	}

	m.devices = nil
	m.stateSet = false
	m.state = device.StateSwitchOnDisabled

	if len(ids) == 0 {
		m.log.Warn().Msg("no drives found on bus")
		return device.ErrBusScan
	}

	for _, id := range ids {
		if err := m.bus.Start(id); err != nil {
			return fmt.Errorf("fleet: start drive %d: %w", id, err)
		}
		status, err := m.bus.ReadStatus(id)
		if err != nil {
			return fmt.Errorf("fleet: read drive %d: %w", id, err)
		}
		d := &device.Device{ID: id, Status: status}
		if err := m.ResetFault(d); err != nil {
			return err
		}
		if err := m.writeControl(d, device.ControlSwitchOnDisabled); err != nil {
			return err
		}
		m.devices = append(m.devices, d)
		m.log.Info().Uint8("id", id).Stringer("state", d.State()).Msg("drive discovered")
	}

	m.sleep(m.cfg.SettleDelay)
	return m.SetState(device.StateSwitchedOn)
}

// Poll refreshes every drive's status word.
func (m *Manager) Poll() error {
	for _, d := range m.devices {
		s, err := m.bus.ReadStatus(d.ID)
		if err != nil {
			return fmt.Errorf("fleet: read drive %d: %w", d.ID, err)
		}
		if s.Fault() && !d.Status.Fault() {
			m.log.Warn().Uint8("id", d.ID).Msg("drive fault latched")
		}
		d.Status = s
	}
	return nil
}

// IsFaulty reports whether d had a latched fault at the last poll.
func (m *Manager) IsFaulty(d *device.Device) bool {
	return d.Status.Fault()
}

// FaultyIDs returns the addresses of faulty drives in ascending order.
func (m *Manager) FaultyIDs() []uint8 {
	var ids []uint8
	for _, d := range m.devices {
		if m.IsFaulty(d) {
			ids = append(ids, d.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ResetFault clears a latched fault on d with a set-then-clear edge of the
// fault-reset bit, holding each level for FaultResetHold. Healthy drives are
// left alone.
func (m *Manager) ResetFault(d *device.Device) error {
	if !m.IsFaulty(d) {
		return nil
	}
	m.log.Info().Uint8("id", d.ID).Msg("resetting drive fault")

	base := d.Control &^ device.ControlFaultReset
	if err := m.writeControl(d, base|device.ControlFaultReset); err != nil {
		return err
	}
	m.sleep(m.cfg.FaultResetHold)
	if err := m.writeControl(d, base); err != nil {
		return err
	}
	m.sleep(m.cfg.FaultResetHold)

	s, err := m.bus.ReadStatus(d.ID)
	if err != nil {
		return fmt.Errorf("fleet: read drive %d: %w", d.ID, err)
	}
	d.Status = s
	if s.Fault() {
		m.log.Warn().Uint8("id", d.ID).Msg("drive fault persists after reset")
	}
	return nil
}

// ResetFaults runs ResetFault on every faulty drive. A drive that recovers
// is brought back to the network state, since SetState skips unchanged
// states and would never reach it.
func (m *Manager) ResetFaults() error {
	for _, d := range m.devices {
		if !m.IsFaulty(d) {
			continue
		}
		if err := m.ResetFault(d); err != nil {
			return err
		}
		if m.IsFaulty(d) {
			continue
		}
		if err := m.rejoin(d); err != nil {
			return err
		}
	}
	return nil
}

// rejoin commands a recovered drive to the network state, through switched
// on when the fleet is running, and restores the fleet speed.
func (m *Manager) rejoin(d *device.Device) error {
	if !m.stateSet {
		return nil
	}
	w, err := m.state.Control()
	if err != nil {
		return err
	}
	if d.Control == w {
		return nil
	}
	m.log.Info().Uint8("id", d.ID).Stringer("state", m.state).Msg("drive rejoined")
	if m.state == device.StateOperationEnabled && d.Control != device.ControlSwitchedOn {
		if err := m.writeControl(d, device.ControlSwitchedOn); err != nil {
			return err
		}
	}
	if err := m.writeControl(d, w); err != nil {
		return err
	}
	if m.state != device.StateOperationEnabled {
		return nil
	}
	v := int16(m.speed)
	if err := m.bus.WriteSetpoint(d.ID, v); err != nil {
		return fmt.Errorf("fleet: set speed of %d: %w", d.ID, err)
	}
	d.Setpoint = v
	return nil
}

// SetState commands every healthy drive to target. Nothing is written if
// target is already the network state.
func (m *Manager) SetState(target device.State) error {
	if m.stateSet && m.state == target {
		return nil
	}
	w, err := target.Control()
	if err != nil {
		return err
	}
	for _, d := range m.devices {
		if m.IsFaulty(d) {
			continue
		}
		if err := m.writeControl(d, w); err != nil {
			return err
		}
	}
	m.log.Debug().Stringer("from", m.state).Stringer("to", target).Msg("network state")
	m.state = target
	m.stateSet = true
	return nil
}

// NetworkState returns the last state commanded to the fleet.
func (m *Manager) NetworkState() device.State {
	return m.state
}

// RunAll brings the fleet to operation enabled through switched on.
func (m *Manager) RunAll() error {
	if err := m.SetState(device.StateSwitchedOn); err != nil {
		return err
	}
	return m.SetState(device.StateOperationEnabled)
}

// StopAll drops the fleet back to switched on.
func (m *Manager) StopAll() error {
	return m.SetState(device.StateSwitchedOn)
}

// Running reports whether the fleet is commanded to operation enabled.
func (m *Manager) Running() bool {
	return m.state == device.StateOperationEnabled
}

// SetSpeed writes the velocity setpoint to every healthy drive.
func (m *Manager) SetSpeed(rpm int) error {
	v := clampInt16(rpm)
	for _, d := range m.devices {
		if m.IsFaulty(d) {
			continue
		}
		if err := m.bus.WriteSetpoint(d.ID, v); err != nil {
			return fmt.Errorf("fleet: set speed of %d: %w", d.ID, err)
		}
		d.Setpoint = v
	}
	m.speed = int(v)
	return nil
}

// Speed returns the last commanded velocity.
func (m *Manager) Speed() int {
	return m.speed
}

// Devices returns a copy of the discovered drives in discovery order.
func (m *Manager) Devices() []device.Device {
	out := make([]device.Device, len(m.devices))
	for i, d := range m.devices {
		out[i] = *d
	}
	return out
}

func (m *Manager) ReadOutletPressure() (float64, error) {
	return m.readSensor(m.cfg.Sensors.OutletPressure)
}

func (m *Manager) ReadInletPressure() (float64, error) {
	return m.readSensor(m.cfg.Sensors.InletPressure)
}

func (m *Manager) ReadInletTemperature() (float64, error) {
	return m.readSensor(m.cfg.Sensors.InletTemperature)
}

func (m *Manager) readSensor(p SensorPoint) (float64, error) {
	if p.Device < 0 || p.Device >= len(m.devices) {
		return 0, ErrNoData
	}
	id := m.devices[p.Device].ID
	v, err := m.bus.ReadAnalog(id, p.Point)
	if err != nil {
		return 0, fmt.Errorf("fleet: read sensor on %d: %w", id, err)
	}
	return v, nil
}

func (m *Manager) writeControl(d *device.Device, w device.ControlWord) error {
	if err := m.bus.WriteControl(d.ID, w); err != nil {
		return fmt.Errorf("fleet: write control of %d: %w", d.ID, err)
	}
	d.Control = w
	return nil
}

func clampInt16(v int) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}
