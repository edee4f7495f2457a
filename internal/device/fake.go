package device

import (
	"fmt"
	"sort"
	"sync"
)

// FakeBus is an in-memory Bus for tests.
// Control writes are mirrored into the drive's status word the way a real
// drive would settle, and a rising edge of the fault-reset bit clears a
// latched fault.
type FakeBus struct {
	mu      sync.Mutex
	drives  map[uint8]*FakeDrive
	started map[uint8]bool

	// Writes records every control and setpoint write in order.
	Writes []Write

	// ScanError, ReadError and WriteError, if set, are returned by the
	// corresponding calls.
	ScanError  error
	ReadError  error
	WriteError error

	Closed bool
}

// FakeDrive is the scripted state of one drive on a FakeBus.
type FakeDrive struct {
	Status   StatusWord
	Control  ControlWord
	Setpoint int16

	// Registers holds raw values served by ReadAnalog, keyed by register.
	Registers map[uint16]uint32
}

// WriteKind identifies the register a Write touched.
type WriteKind string

const (
	WriteControlWord WriteKind = "control"
	WriteSetpointVal WriteKind = "setpoint"
)

// Write is one recorded bus write.
type Write struct {
	ID    uint8
	Kind  WriteKind
	Value int
}

// NewFakeBus creates a FakeBus with drives at the given addresses.
func NewFakeBus(ids ...uint8) *FakeBus {
	f := &FakeBus{
		drives:  make(map[uint8]*FakeDrive),
		started: make(map[uint8]bool),
	}
	for _, id := range ids {
		f.drives[id] = &FakeDrive{Registers: make(map[uint16]uint32)}
	}
	return f
}

// Drive returns the scripted drive at id, or nil.
func (f *FakeBus) Drive(id uint8) *FakeDrive {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drives[id]
}

// SetFault latches or clears the fault bit on drive id.
func (f *FakeBus) SetFault(id uint8, fault bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.drives[id]
	if fault {
		d.Status |= 1 << BitFault
	} else {
		d.Status &^= 1 << BitFault
	}
}

// SetRegister sets the raw value served for register reg on drive id.
func (f *FakeBus) SetRegister(id uint8, reg uint16, raw uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drives[id].Registers[reg] = raw
}

// Started reports whether Start was called for id.
func (f *FakeBus) Started(id uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[id]
}

// WritesOf returns the recorded writes of one kind.
func (f *FakeBus) WritesOf(kind WriteKind) []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Write
	for _, w := range f.Writes {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}

// ClearWrites forgets recorded writes.
func (f *FakeBus) ClearWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes = nil
}

func (f *FakeBus) Scan() ([]uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ScanError != nil {
		return nil, f.ScanError
	}
	ids := make([]uint8, 0, len(f.drives))
	for id := range f.drives {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *FakeBus) Start(id uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.drive(id); err != nil {
		return err
	}
	f.started[id] = true
	return nil
}

func (f *FakeBus) ReadStatus(id uint8) (StatusWord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	d, err := f.drive(id)
	if err != nil {
		return 0, err
	}
	return d.Status, nil
}

func (f *FakeBus) ReadAnalog(id uint8, p Point) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	d, err := f.drive(id)
	if err != nil {
		return 0, err
	}
	return p.Decode(d.Registers[p.Register]), nil
}

func (f *FakeBus) WriteControl(id uint8, w ControlWord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	d, err := f.drive(id)
	if err != nil {
		return err
	}
	f.Writes = append(f.Writes, Write{ID: id, Kind: WriteControlWord, Value: int(w)})

	rising := w&ControlFaultReset != 0 && d.Control&ControlFaultReset == 0
	d.Control = w

	if d.Status.Fault() {
		if rising {
			d.Status = 0
		}
		return nil
	}
	switch w &^ ControlFaultReset {
	case ControlOperationEnabled:
		d.Status = 1<<BitSwitchedOn | 1<<BitOperationEnabled
	case ControlSwitchedOn:
		d.Status = 1 << BitSwitchedOn
	default:
		d.Status = 0
	}
	return nil
}

func (f *FakeBus) WriteSetpoint(id uint8, v int16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	d, err := f.drive(id)
	if err != nil {
		return err
	}
	f.Writes = append(f.Writes, Write{ID: id, Kind: WriteSetpointVal, Value: int(v)})
	d.Setpoint = v
	return nil
}

func (f *FakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

func (f *FakeBus) drive(id uint8) (*FakeDrive, error) {
	d, ok := f.drives[id]
	if !ok {
		return nil, fmt.Errorf("fake bus: no drive at address %d", id)
	}
	return d, nil
}
