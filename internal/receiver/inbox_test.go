package receiver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/signal-link/internal/logic"
)

func TestInboxEmpty(t *testing.T) {
	b := NewInbox()
	_, ok := b.Take()
	require.False(t, ok)
	require.Zero(t, b.Overruns())
}

func TestInboxPostTake(t *testing.T) {
	b := NewInbox()
	ev := logic.CaptureEvent{Timestamp: 42, Bus: 0x90}
	require.False(t, b.Post(ev))

	select {
	case <-b.Ready():
	default:
		t.Fatal("expected ready signal")
	}
	got, ok := b.Take()
	require.True(t, ok)
	require.Equal(t, ev, got)

	_, ok = b.Take()
	require.False(t, ok, "take re-arms the slot")
}

func TestInboxOverwriteCountsOverrun(t *testing.T) {
	b := NewInbox()
	require.False(t, b.Post(logic.CaptureEvent{Timestamp: 1, Bus: 0x01}))
	require.True(t, b.Post(logic.CaptureEvent{Timestamp: 2, Bus: 0x02}))
	require.True(t, b.Post(logic.CaptureEvent{Timestamp: 3, Bus: 0x03}))
	require.Equal(t, 2, b.Overruns())

	got, ok := b.Take()
	require.True(t, ok)
	require.Equal(t, logic.CaptureEvent{Timestamp: 3, Bus: 0x03}, got)

	require.False(t, b.Post(logic.CaptureEvent{Timestamp: 4}))
	require.Equal(t, 2, b.Overruns())
}

func TestInboxReadyCoalesces(t *testing.T) {
	b := NewInbox()
	b.Post(logic.CaptureEvent{Timestamp: 1})
	b.Post(logic.CaptureEvent{Timestamp: 2})

	<-b.Ready()
	select {
	case <-b.Ready():
		t.Fatal("signals should coalesce")
	default:
	}
}
