package gpio

import (
	"errors"
	"sync"
	"time"
)

// ErrNoSamples is returned by FakeInput when no values are scripted.
var ErrNoSamples = errors.New("no samples configured")

// FakeInput is a test double that returns scripted line values.
type FakeInput struct {
	mu sync.Mutex

	// Values contains scripted values to return.
	// Each call to Value() consumes the next one; the last repeats.
	Values []bool

	index int

	// Reads counts calls to Value.
	Reads int

	// ReadError, if set, will be returned by Value().
	ReadError error

	Closed bool
}

// NewFakeInput creates a FakeInput with the given values.
func NewFakeInput(values ...bool) *FakeInput {
	return &FakeInput{Values: values}
}

// Value returns the next scripted value.
func (f *FakeInput) Value() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.Values) == 0 {
		return false, ErrNoSamples
	}
	v := f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return v, nil
}

// Close marks the input as closed.
func (f *FakeInput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// FakeOutput records every value driven onto it.
type FakeOutput struct {
	mu      sync.Mutex
	history []bool
	changed chan struct{}

	// SetError, if set, will be returned by Set().
	SetError error

	Closed bool
}

// NewFakeOutput creates a FakeOutput that starts low.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{changed: make(chan struct{}, 1)}
}

// Set records the value.
func (f *FakeOutput) Set(on bool) error {
	f.mu.Lock()
	if f.SetError != nil {
		f.mu.Unlock()
		return f.SetError
	}
	f.history = append(f.history, on)
	f.mu.Unlock()
	select {
	case f.changed <- struct{}{}:
	default:
	}
	return nil
}

// On reports the last value driven (false if never driven).
func (f *FakeOutput) On() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) == 0 {
		return false
	}
	return f.history[len(f.history)-1]
}

// History returns a copy of every value driven so far.
func (f *FakeOutput) History() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.history...)
}

// Changed is signalled (coalesced) after each Set.
func (f *FakeOutput) Changed() <-chan struct{} {
	return f.changed
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// FakeCapture delivers edges on demand.
type FakeCapture struct {
	mu      sync.Mutex
	handler func(ts time.Duration)

	// WatchError, if set, will be returned by Watch().
	WatchError error

	Closed bool
}

// Watch stores the handler for Fire.
func (f *FakeCapture) Watch(handler func(ts time.Duration)) error {
	if f.WatchError != nil {
		return f.WatchError
	}
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	return nil
}

// Fire delivers one rising edge with timestamp ts. It is a no-op before Watch.
func (f *FakeCapture) Fire(ts time.Duration) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ts)
	}
}

// Close stops delivery.
func (f *FakeCapture) Close() error {
	f.mu.Lock()
	f.handler = nil
	f.Closed = true
	f.mu.Unlock()
	return nil
}
