package sampler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/signal-link/internal/adc"
	"github.com/sweeney/signal-link/internal/gpio"
	"github.com/sweeney/signal-link/internal/logic"
	"github.com/sweeney/signal-link/internal/metrics"
	"github.com/sweeney/signal-link/internal/mqtt"
	"github.com/sweeney/signal-link/internal/status"
)

type result struct {
	raw logic.RawSample
	err error
}

// scriptedAcquirer returns its results in order, then blocks until cancelled.
type scriptedAcquirer struct {
	mu      sync.Mutex
	results []result
	calls   int
	before  func(call int)
}

func (s *scriptedAcquirer) Sample(ctx context.Context) (logic.RawSample, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if s.before != nil {
		s.before(i)
	}
	if i >= len(s.results) {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.results[i].raw, s.results[i].err
}

func (s *scriptedAcquirer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingBus keeps every byte written. Writes fail while err is set.
type recordingBus struct {
	mu     sync.Mutex
	frames []byte
	err    error
}

func (b *recordingBus) WriteByte(c byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.frames = append(b.frames, c)
	return nil
}

func (b *recordingBus) Frames() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.frames...)
}

func testConfig() Config {
	return Config{
		TxPeriod:      200 * time.Microsecond,
		FaultCooldown: 2 * time.Millisecond,
		TriggerPoll:   time.Millisecond,
	}
}

type harness struct {
	node    *Node
	acq     *scriptedAcquirer
	trigger *gpio.FakeInput
	fault   *gpio.FakeOutput
	bus     *recordingBus
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
}

func newHarness(results ...result) *harness {
	h := &harness{
		acq:     &scriptedAcquirer{results: results},
		trigger: gpio.NewFakeInput(false, true, false),
		fault:   gpio.NewFakeOutput(),
		bus:     &recordingBus{},
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Now(), status.Config{Node: NodeName}),
	}
	h.node = New(testConfig(), h.acq, h.trigger, h.fault, h.bus, h.pub, h.tracker)
	return h
}

func (h *harness) run(t *testing.T) (cancel func()) {
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.node.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("node did not stop")
		}
	}
}

func TestWaitForTriggerHighThenLow(t *testing.T) {
	in := gpio.NewFakeInput(false, false, true, true, false)
	require.NoError(t, WaitForTrigger(context.Background(), in, time.Microsecond))
	require.Equal(t, 5, in.Reads)
}

func TestWaitForTriggerNeedsFallingEdge(t *testing.T) {
	in := gpio.NewFakeInput(true) // held high forever
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, WaitForTrigger(ctx, in, time.Millisecond), context.DeadlineExceeded)
}

func TestWaitForTriggerReadError(t *testing.T) {
	in := gpio.NewFakeInput(false)
	in.ReadError = fmt.Errorf("line gone")
	err := WaitForTrigger(context.Background(), in, time.Millisecond)
	require.ErrorContains(t, err, "line gone")
}

func TestNodeStaysIdleUntilTriggered(t *testing.T) {
	h := newHarness(result{raw: 0})
	h.trigger.Values = []bool{false}
	stop := h.run(t)

	time.Sleep(10 * time.Millisecond)
	require.False(t, h.node.Enabled())
	require.Zero(t, h.acq.Calls())
	require.Empty(t, h.bus.Frames())
	stop()
}

func TestNodeTransmitsAlternatingClock(t *testing.T) {
	h := newHarness(result{raw: 0})
	stop := h.run(t)

	require.Eventually(t, func() bool {
		frames := h.bus.Frames()
		return len(frames) >= 20 && logic.Frame(frames[len(frames)-1]).Level() == 16
	}, time.Second, time.Millisecond)
	stop()

	require.True(t, h.node.Enabled())
	frames := h.bus.Frames()
	for i, f := range frames {
		wantClock := i%2 == 1
		require.Equal(t, wantClock, logic.Frame(f).Clock(), "frame %d", i)
	}
	require.Equal(t, logic.EventArmed, h.pub.EventTypes()[0])
	snap := h.tracker.Snapshot()
	require.NotNil(t, snap.Sampler)
	require.True(t, snap.Sampler.Armed)
	require.Equal(t, logic.Level(16), snap.Sampler.Level)
}

func TestNodeCountsBusWriteErrors(t *testing.T) {
	h := newHarness(result{raw: 0})
	h.bus.err = fmt.Errorf("line request closed")
	before := testutil.ToFloat64(metrics.BusWriteErrorsTotal)
	stop := h.run(t)

	require.Eventually(t, func() bool { return h.node.Counts().BusWriteErrors >= 5 }, time.Second, time.Millisecond)
	stop()

	c := h.node.Counts()
	require.Zero(t, c.Frames)
	require.Empty(t, h.bus.Frames())
	require.GreaterOrEqual(t, testutil.ToFloat64(metrics.BusWriteErrorsTotal)-before, float64(c.BusWriteErrors))
}

func TestNodeOutOfRangeKeepsLastLevel(t *testing.T) {
	h := newHarness(result{raw: 0}, result{raw: 16000}, result{raw: 15000})
	var levels []logic.Level
	h.acq.before = func(call int) { levels = append(levels, h.node.Level()) }
	stop := h.run(t)

	require.Eventually(t, func() bool { return h.acq.Calls() >= 4 }, time.Second, time.Millisecond)
	stop()

	// Level before each call: initial 0, 16 after raw 0, still 16 after the
	// rejected 16000, 30 after 15000.
	require.Equal(t, []logic.Level{0, 16, 16, 30}, levels[:4])
	require.Equal(t, []bool{true, false}, h.fault.History())

	events := h.pub.Events()
	require.Len(t, events, 2)
	require.Equal(t, logic.EventSampleOutOfRange, events[1].Type)
	require.Equal(t, logic.RawSample(16000), events[1].Raw)
	require.Equal(t, NodeName, events[1].Node)

	c := h.node.Counts()
	require.Equal(t, 2, c.Samples)
	require.Equal(t, 1, c.Faults)
}

func TestNodeAcquisitionTimeout(t *testing.T) {
	timeout := fmt.Errorf("%w after 3 attempts", adc.ErrConversionTimeout)
	h := newHarness(result{err: timeout}, result{raw: -1024})
	stop := h.run(t)

	require.Eventually(t, func() bool { return h.node.Level() == 15 }, time.Second, time.Millisecond)
	stop()

	require.Equal(t, []logic.EventType{logic.EventArmed, logic.EventAcquisitionTimeout}, h.pub.EventTypes())
	require.Equal(t, []bool{true, false}, h.fault.History())
	require.Equal(t, 1, h.node.Counts().Timeouts)
}

func TestNodePublishErrorsDoNotStopLoop(t *testing.T) {
	h := newHarness(result{raw: 16000}, result{raw: 1024})
	h.pub.PublishError = fmt.Errorf("broker down")
	stop := h.run(t)

	require.Eventually(t, func() bool { return h.node.Level() == 17 }, time.Second, time.Millisecond)
	stop()
}
