// Package alarm drives the station's alarm relay output.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package alarm

// Output sets the alarm relay.
type Output interface {
	// Set energizes (true) or releases (false) the relay.
	Set(on bool) error

	// Close releases the relay and GPIO resources.
	Close() error
}
