package gpio

import "sync"

// FakeOutput is a test double that records every level it is driven to.
// It is also used by --dry-run.
type FakeOutput struct {
	mu sync.Mutex

	on bool

	// History holds every level requested, in order (true = energized).
	History []bool

	// Closed tracks if Close was called.
	Closed bool

	// SetError, if set, is returned by Energize and DeEnergize
	// and the level is left unchanged.
	SetError error
}

// NewFakeOutput creates a FakeOutput starting at the given level.
func NewFakeOutput(energized bool) *FakeOutput {
	return &FakeOutput{on: energized}
}

// Energize records an "on" request.
func (f *FakeOutput) Energize() error {
	return f.set(true)
}

// DeEnergize records an "off" request.
func (f *FakeOutput) DeEnergize() error {
	return f.set(false)
}

func (f *FakeOutput) set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.on = on
	f.History = append(f.History, on)
	return nil
}

// Energized returns the current level.
func (f *FakeOutput) Energized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Transitions returns a copy of History.
func (f *FakeOutput) Transitions() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bool, len(f.History))
	copy(out, f.History)
	return out
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset clears recorded history and errors.
func (f *FakeOutput) Reset() {
	f.mu.Lock()
	f.History = nil
	f.Closed = false
	f.SetError = nil
	f.mu.Unlock()
}
