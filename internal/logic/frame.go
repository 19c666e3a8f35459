package logic

// EncodeFrame packs the clock bit and the low 5 bits of level into one byte.
func EncodeFrame(clock bool, level Level) Frame {
	f := Frame(level & LevelMask)
	if clock {
		f |= ClockMask
	}
	return f
}

// Level returns the 5 data bits of the frame.
func (f Frame) Level() Level {
	return Level(f & LevelMask)
}

// Clock reports whether the clock bit is set.
func (f Frame) Clock() bool {
	return f&ClockMask != 0
}

// Transmitter owns the clock bit. The first frame carries clock 0 and
// every subsequent call toggles it.
// Not safe for concurrent use; it belongs to the transmit tick alone.
type Transmitter struct {
	clock bool
	sent  int
}

// Next builds the frame for this tick and toggles the clock bit.
func (t *Transmitter) Next(level Level) Frame {
	f := EncodeFrame(t.clock, level)
	t.clock = !t.clock
	t.sent++
	return f
}

// Sent returns the number of frames built so far.
func (t *Transmitter) Sent() int {
	return t.sent
}
