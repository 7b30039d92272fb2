//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// RealOutput drives a GPIO line through the Linux GPIO character device.
type RealOutput struct {
	mu        sync.Mutex
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
	activeLow bool
	energized bool
}

// NewRealOutput requests pin on chip as an output and drives it energized,
// matching the power-on default of the supervised device.
// With activeLow the physical level is inverted: energized = 0.
func NewRealOutput(chipName string, pin int, activeLow bool) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(rawLevel(true, activeLow)),
		gpiocdev.WithConsumer("power-watchdog"))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request output pin %d: %w", pin, err)
	}

	return &RealOutput{
		chip:      chip,
		line:      line,
		activeLow: activeLow,
		energized: true,
	}, nil
}

// Energize sets the line to the "on" level.
func (o *RealOutput) Energize() error {
	return o.set(true)
}

// DeEnergize sets the line to the "off" level.
func (o *RealOutput) DeEnergize() error {
	return o.set(false)
}

func (o *RealOutput) set(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.line.SetValue(rawLevel(on, o.activeLow)); err != nil {
		return fmt.Errorf("set pin %d: %w", o.line.Offset(), err)
	}
	o.energized = on
	return nil
}

// Energized reports the last level successfully driven.
func (o *RealOutput) Energized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.energized
}

// Close releases the line and chip. The line is not driven to any
// particular level first: powering the device off because the
// watchdog process exits would defeat the point of the watchdog.
func (o *RealOutput) Close() error {
	var errs []error
	if o.line != nil {
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close line: %w", err))
		}
	}
	if o.chip != nil {
		if err := o.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
