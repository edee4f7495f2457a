// Package modbusbus implements device.Bus over Modbus RTU or TCP.
package modbusbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/sweeney/pump-controller/internal/device"
)

// Config describes the bus link and the drive register map.
type Config struct {
	Mode     string // "rtu" or "tcp"
	Address  string // serial device path or host:port
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration

	ScanFirst uint8
	ScanLast  uint8

	StatusRegister   uint16
	ControlRegister  uint16
	SetpointRegister uint16
}

// registers is the subset of modbus.Client the bus uses.
type registers interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// Bus is a serialized Modbus link to all drives.
// Requests share one handler and mutate its slave id per call.
type Bus struct {
	mu       sync.Mutex
	cfg      Config
	client   registers
	setSlave func(id uint8)
	close    func() error
}

// Open connects to the bus described by cfg.
func Open(cfg Config) (*Bus, error) {
	if cfg.Address == "" {
		return nil, errors.New("modbusbus: address required")
	}

	switch cfg.Mode {
	case "rtu", "":
		h := modbus.NewRTUClientHandler(cfg.Address)
		h.BaudRate = cfg.BaudRate
		h.DataBits = cfg.DataBits
		h.Parity = cfg.Parity
		h.StopBits = cfg.StopBits
		h.Timeout = cfg.Timeout
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("modbusbus: open %s: %w", cfg.Address, err)
		}
		return &Bus{
			cfg:      cfg,
			client:   modbus.NewClient(h),
			setSlave: func(id uint8) { h.SlaveId = id },
			close:    h.Close,
		}, nil

	case "tcp":
		h := modbus.NewTCPClientHandler(cfg.Address)
		h.Timeout = cfg.Timeout
		if err := h.Connect(); err != nil {
			return nil, fmt.Errorf("modbusbus: dial %s: %w", cfg.Address, err)
		}
		return &Bus{
			cfg:      cfg,
			client:   modbus.NewClient(h),
			setSlave: func(id uint8) { h.SlaveId = id },
			close:    h.Close,
		}, nil

	default:
		return nil, fmt.Errorf("modbusbus: unknown mode %q", cfg.Mode)
	}
}

// Scan probes every address in [ScanFirst, ScanLast] by reading its status
// register. Addresses that do not answer within the timeout are skipped.
func (b *Bus) Scan() ([]uint8, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ids []uint8
	for id := int(b.cfg.ScanFirst); id <= int(b.cfg.ScanLast); id++ {
		b.setSlave(uint8(id))
		if _, err := b.client.ReadHoldingRegisters(b.cfg.StatusRegister, 1); err == nil {
			ids = append(ids, uint8(id))
		}
	}
	return ids, nil
}

// Start confirms the drive answers. Modbus has no separate operational mode.
func (b *Bus) Start(id uint8) error {
	_, err := b.ReadStatus(id)
	return err
}

func (b *Bus) ReadStatus(id uint8) (device.StatusWord, error) {
	raw, err := b.read(id, b.cfg.StatusRegister, 1)
	if err != nil {
		return 0, fmt.Errorf("modbusbus: read status of %d: %w", id, err)
	}
	return device.StatusWord(raw), nil
}

func (b *Bus) ReadAnalog(id uint8, p device.Point) (float64, error) {
	raw, err := b.read(id, p.Register, p.WordCount())
	if err != nil {
		return 0, fmt.Errorf("modbusbus: read register %#04x of %d: %w", p.Register, id, err)
	}
	return p.Decode(raw), nil
}

func (b *Bus) WriteControl(id uint8, w device.ControlWord) error {
	if err := b.write(id, b.cfg.ControlRegister, uint16(w)); err != nil {
		return fmt.Errorf("modbusbus: write control of %d: %w", id, err)
	}
	return nil
}

func (b *Bus) WriteSetpoint(id uint8, v int16) error {
	if err := b.write(id, b.cfg.SetpointRegister, uint16(v)); err != nil {
		return fmt.Errorf("modbusbus: write setpoint of %d: %w", id, err)
	}
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.close == nil {
		return nil
	}
	return b.close()
}

func (b *Bus) read(id uint8, addr, qty uint16) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setSlave(id)
	data, err := b.client.ReadHoldingRegisters(addr, qty)
	if err != nil {
		return 0, err
	}
	return unpackWords(data, qty)
}

func (b *Bus) write(id uint8, addr, value uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setSlave(id)
	_, err := b.client.WriteSingleRegister(addr, value)
	return err
}

// unpackWords joins qty big-endian registers, high word first.
func unpackWords(data []byte, qty uint16) (uint32, error) {
	if len(data) < int(qty)*2 {
		return 0, fmt.Errorf("short response: %d bytes for %d registers", len(data), qty)
	}
	var v uint32
	for i := 0; i < int(qty); i++ {
		v = v<<16 | uint32(data[2*i])<<8 | uint32(data[2*i+1])
	}
	return v, nil
}
