package device

// Bus is the field-bus boundary the fleet manager drives.
// Implementations bound every call by their own I/O timeout.
type Bus interface {
	// Scan returns the bus addresses of all responding drives.
	Scan() ([]uint8, error)

	// Start brings a drive into operational communication mode.
	Start(id uint8) error

	ReadStatus(id uint8) (StatusWord, error)
	ReadAnalog(id uint8, p Point) (float64, error)
	WriteControl(id uint8, w ControlWord) error
	WriteSetpoint(id uint8, v int16) error

	Close() error
}

// Point locates one sensor value on a drive.
type Point struct {
	Register uint16
	Words    int     // 1 or 2 registers; two-word values are high word first
	Bit      *uint   // if set, the value is this single bit of the raw word
	Scale    float64 // raw-to-engineering factor; 0 means 1
	Signed   bool
}

// WordCount returns the number of registers to read for p.
func (p Point) WordCount() uint16 {
	if p.Words == 2 {
		return 2
	}
	return 1
}

// Decode converts a raw register value to an engineering value.
func (p Point) Decode(raw uint32) float64 {
	if p.Bit != nil {
		return float64((raw >> *p.Bit) & 1)
	}

	var v float64
	switch {
	case p.Signed && p.WordCount() == 1:
		v = float64(int16(uint16(raw)))
	case p.Signed:
		v = float64(int32(raw))
	default:
		v = float64(raw)
	}

	scale := p.Scale
	if scale == 0 {
		scale = 1
	}
	return v * scale
}
