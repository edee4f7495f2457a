//go:build !linux

package alarm

import "errors"

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(chipName string, line int, activeLow bool) (*RealOutput, error) {
	return nil, errors.New("alarm: gpio not supported on this platform (requires Linux)")
}

func (o *RealOutput) Set(on bool) error {
	return errors.New("alarm: gpio not supported")
}

func (o *RealOutput) Close() error {
	return nil
}
