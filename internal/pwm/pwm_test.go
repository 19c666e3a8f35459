package pwm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairDrivesBothChannels(t *testing.T) {
	a, b := &FakeChannel{}, &FakeChannel{}
	p := Pair{a, b}

	require.NoError(t, p.SetDuty(14))
	require.NoError(t, p.SetDuty(22))

	require.Equal(t, []uint8{14, 22}, a.Values())
	require.Equal(t, []uint8{14, 22}, b.Values())
}

func TestPairContinuesAfterError(t *testing.T) {
	a, b := &FakeChannel{SetError: errors.New("stalled")}, &FakeChannel{}
	p := Pair{a, b}

	err := p.SetDuty(14)
	require.Error(t, err)
	require.Contains(t, err.Error(), "channel 0")

	v, ok := b.Last()
	require.True(t, ok)
	require.Equal(t, uint8(14), v)
}
