package logic

// Quantize validates raw against [ValidMin, ValidMax] and maps it to a 5-bit level
// as floor(raw/1024)+16. Samples outside the interval return ErrOutOfRange.
func Quantize(raw RawSample) (Level, error) {
	if raw < ValidMin || raw > ValidMax {
		return 0, ErrOutOfRange
	}
	return Level(floorDiv(int(raw), LevelDivisor) + LevelOffset), nil
}

// floorDiv divides rounding toward negative infinity. Go's / truncates toward zero.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// DutyCycle maps the level bits of a bus byte to an actuator duty value.
// Only the low 5 bits are used; the clock bit is ignored.
func DutyCycle(bus byte) uint8 {
	return uint8(DutyBase + int(bus&LevelMask)*DutySpan/DutyLevels)
}

// TimeDelta returns the elapsed ticks from previous to current on a
// free-running 16-bit counter, accounting for a single wraparound.
func TimeDelta(current, previous uint16) uint16 {
	if current >= previous {
		return current - previous
	}
	return uint16(uint32(current) + (65536 - uint32(previous)))
}
