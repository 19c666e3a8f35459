package adc

import (
	"errors"
	"sync"
)

// FakeConverter returns scripted results.
type FakeConverter struct {
	mu sync.Mutex

	// Values are returned by Read in order; the last repeats.
	Values []int8
	index  int

	// StuckConversions is the number of upcoming conversions that never
	// report Done.
	StuckConversions int
	stuck            bool

	// TriggerError, if set, will be returned by Trigger().
	TriggerError error

	Triggers int
}

// NewFakeConverter creates a converter that returns values in order.
func NewFakeConverter(values ...int8) *FakeConverter {
	return &FakeConverter{Values: values}
}

// Trigger starts a fake conversion.
func (f *FakeConverter) Trigger() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TriggerError != nil {
		return f.TriggerError
	}
	f.Triggers++
	f.stuck = f.StuckConversions > 0
	if f.stuck {
		f.StuckConversions--
	}
	return nil
}

// Done is false for stuck conversions.
func (f *FakeConverter) Done() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.stuck, nil
}

// Read returns the next scripted value.
func (f *FakeConverter) Read() (int8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Values) == 0 {
		return 0, errors.New("no values configured")
	}
	v := f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return v, nil
}

// WaveConverter produces a triangle wave between -Amplitude and +Amplitude,
// moving Step per conversion. Amplitudes above 58 leave the valid range at
// the peaks.
type WaveConverter struct {
	mu        sync.Mutex
	Amplitude int
	Step      int
	v         int
	dir       int
}

// NewWaveConverter creates a wave starting at 0 and rising.
func NewWaveConverter(amplitude, step int) *WaveConverter {
	if amplitude > 127 {
		amplitude = 127
	}
	if step <= 0 {
		step = 1
	}
	return &WaveConverter{Amplitude: amplitude, Step: step, dir: 1}
}

// Trigger advances the wave.
func (w *WaveConverter) Trigger() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.v += w.dir * w.Step
	if w.v >= w.Amplitude {
		w.v, w.dir = w.Amplitude, -1
	} else if w.v <= -w.Amplitude {
		w.v, w.dir = -w.Amplitude, 1
	}
	return nil
}

// Done is always true.
func (w *WaveConverter) Done() (bool, error) { return true, nil }

// Read returns the current wave value.
func (w *WaveConverter) Read() (int8, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int8(w.v), nil
}
