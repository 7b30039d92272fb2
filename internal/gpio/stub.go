//go:build !linux

package gpio

import "errors"

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(chipName string, pin int, activeLow bool) (*RealOutput, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Energize is not implemented on non-Linux platforms.
func (o *RealOutput) Energize() error {
	return errors.New("gpio: not supported")
}

// DeEnergize is not implemented on non-Linux platforms.
func (o *RealOutput) DeEnergize() error {
	return errors.New("gpio: not supported")
}

// Energized always reports false on non-Linux platforms.
func (o *RealOutput) Energized() bool {
	return false
}

// Close is not implemented on non-Linux platforms.
func (o *RealOutput) Close() error {
	return nil
}
