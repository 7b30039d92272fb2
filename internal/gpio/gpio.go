// Package gpio drives the digital output that switches the supervised
// device's power path.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Output is a single switched power output.
type Output interface {
	// Energize drives the output to the "power on" level.
	// Calling it while already energized is harmless.
	Energize() error

	// DeEnergize drives the output to the "power off" level.
	DeEnergize() error

	// Energized reports the last level successfully driven.
	Energized() bool

	// Close releases GPIO resources.
	Close() error
}

// Defaults (BCM numbering). GPIO16 is the MOSFET gate on the reference board.
const (
	DefaultChip = "gpiochip0"
	DefaultPin  = 16
)

// rawLevel maps a logical level to the physical line value.
func rawLevel(on, activeLow bool) int {
	if on != activeLow {
		return 1
	}
	return 0
}
