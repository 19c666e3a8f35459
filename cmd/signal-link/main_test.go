package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/signal-link/internal/adc"
	"github.com/sweeney/signal-link/internal/config"
	"github.com/sweeney/signal-link/internal/logic"
	"github.com/sweeney/signal-link/internal/mqtt"
	"github.com/sweeney/signal-link/internal/status"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type loopResult struct {
	err     error
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
}

// runRunLoop drives runLoop for nTicks and then delivers either a signal or
// a node error.
func runRunLoop(t *testing.T, pub *mqtt.FakePublisher, heartbeat time.Duration, clock func() time.Time, nTicks int, sig os.Signal, nodeErr error) loopResult {
	t.Helper()
	tracker := status.NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), status.Config{Node: "sampler"})
	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)

	var publisher mqtt.Publisher
	var conn mqtt.ConnectionStatus
	if pub != nil {
		publisher, conn = pub, pub
	}

	done := make(chan error, 1)
	go func() {
		done <- runLoop(publisher, conn, tracker, heartbeat, clock, tick, sigCh, errCh)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	if sig != nil {
		sigCh <- sig
	} else {
		errCh <- nodeErr
	}

	select {
	case err := <-done:
		return loopResult{err: err, pub: pub, tracker: tracker}
	case <-time.After(time.Second):
		t.Fatal("runLoop did not return")
		return loopResult{}
	}
}

func TestRunLoopShutdownOnSIGTERM(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	res := runRunLoop(t, pub, 0, clock, 3, syscall.SIGTERM, nil)
	if res.err != nil {
		t.Fatalf("runLoop returned error: %v", res.err)
	}

	events := pub.SystemEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(events))
	}
	if events[0].Event != "SHUTDOWN" {
		t.Errorf("expected SHUTDOWN event, got %q", events[0].Event)
	}
	if events[0].Reason != "SIGTERM" {
		t.Errorf("expected reason SIGTERM, got %q", events[0].Reason)
	}
	if !events[0].Retained {
		t.Error("SHUTDOWN should be retained")
	}
}

func TestRunLoopShutdownPayload(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	runRunLoop(t, pub, 0, clock, 0, syscall.SIGINT, nil)

	payloads := pub.SystemPayloads()
	if len(payloads) != 1 {
		t.Fatalf("expected 1 system payload, got %d", len(payloads))
	}
	var got status.StatusJSON
	if err := json.Unmarshal(payloads[0], &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if got.Status.Event != "SHUTDOWN" || got.Status.Reason != "SIGINT" {
		t.Errorf("got event=%q reason=%q, want SHUTDOWN/SIGINT", got.Status.Event, got.Status.Reason)
	}
	if got.Status.Node != "sampler" {
		t.Errorf("node: got %q, want sampler", got.Status.Node)
	}
}

func TestRunLoopNodeErrorIsReturned(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
	boom := errors.New("watch capture line: busy")

	res := runRunLoop(t, pub, 0, clock, 1, nil, boom)
	if !errors.Is(res.err, boom) {
		t.Fatalf("expected node error, got %v", res.err)
	}
	events := pub.SystemEvents()
	if len(events) != 1 || events[0].Event != "SHUTDOWN" || events[0].Reason != "ERROR" {
		t.Fatalf("expected SHUTDOWN/ERROR, got %+v", events)
	}
}

func TestRunLoopNodeStoppingIsAnError(t *testing.T) {
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)
	res := runRunLoop(t, mqtt.NewFakePublisher(), 0, clock, 0, nil, nil)
	if res.err == nil {
		t.Fatal("expected error when node returns nil on its own")
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)

	runRunLoop(t, pub, time.Minute, clock, 3, syscall.SIGTERM, nil)

	var types []string
	for _, e := range pub.SystemEvents() {
		types = append(types, e.Event)
		if e.Event == "HEARTBEAT" && e.Retained {
			t.Error("HEARTBEAT should not be retained")
		}
	}
	want := "HEARTBEAT,HEARTBEAT,HEARTBEAT,SHUTDOWN"
	if got := strings.Join(types, ","); got != want {
		t.Errorf("system events: got %s, want %s", got, want)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour)

	runRunLoop(t, pub, 0, clock, 5, syscall.SIGTERM, nil)

	if n := len(pub.SystemEvents()); n != 1 {
		t.Errorf("expected only SHUTDOWN, got %d system events", n)
	}
}

func TestRunLoopTracksMQTTConnection(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	res := runRunLoop(t, pub, 0, clock, 1, syscall.SIGTERM, nil)
	if !res.tracker.Snapshot().MQTTConnected {
		t.Error("expected tracker to record MQTT connected")
	}
}

func TestRunLoopWithoutPublisher(t *testing.T) {
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)
	res := runRunLoop(t, nil, time.Minute, clock, 2, syscall.SIGTERM, nil)
	if res.err != nil {
		t.Fatalf("runLoop returned error: %v", res.err)
	}
}

func TestRunLoopShutdownPublishFailure(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("broker gone")
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Second)

	res := runRunLoop(t, pub, 0, clock, 0, syscall.SIGTERM, nil)
	if res.err != nil {
		t.Fatalf("publish failure must not fail shutdown: %v", res.err)
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGINT); got != "SIGINT" {
		t.Errorf("got %q", got)
	}
	if got := signalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("got %q", got)
	}
	if got := signalName(syscall.SIGHUP); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("got %q", got)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	var names []string
	for _, c := range newRootCmd().Commands() {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	if got := strings.Join(names, ","); got != "receiver,sampler,sim" {
		t.Errorf("subcommands: got %s", got)
	}
}

func flagCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "")
	cmd.Flags().StringVar(&opts.broker, "broker", "", "")
	cmd.Flags().StringVar(&opts.httpAddr, "http", "", "")
	cmd.Flags().DurationVar(&opts.heartbeat, "heartbeat", 0, "")
	return cmd
}

func TestOptionsLoadDefaults(t *testing.T) {
	opts := &options{}
	cmd := flagCommand(opts)
	if err := cmd.Flags().Parse(nil); err != nil {
		t.Fatal(err)
	}
	cfg, err := opts.load(cmd)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := config.Default()
	if cfg.MQTT.Broker != def.MQTT.Broker || cfg.HTTP.Addr != def.HTTP.Addr || cfg.Heartbeat != def.Heartbeat {
		t.Errorf("unset flags should keep defaults, got %+v", cfg)
	}
}

func TestOptionsLoadFlagsOverride(t *testing.T) {
	opts := &options{}
	cmd := flagCommand(opts)
	if err := cmd.Flags().Parse([]string{"--broker", "off", "--http", ":9090", "--heartbeat", "0s"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := opts.load(cmd)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MQTT.Broker != "" {
		t.Errorf("broker: got %q, want disabled", cfg.MQTT.Broker)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("http: got %q", cfg.HTTP.Addr)
	}
	if cfg.Heartbeat != 0 {
		t.Errorf("heartbeat: got %v", cfg.Heartbeat.D())
	}
}

func TestOptionsLoadRejectsNegativeHeartbeat(t *testing.T) {
	opts := &options{}
	cmd := flagCommand(opts)
	if err := cmd.Flags().Parse([]string{"--heartbeat", "-1s"}); err != nil {
		t.Fatal(err)
	}
	if _, err := opts.load(cmd); err == nil {
		t.Fatal("expected validation error")
	}
}

func fastADC() adc.Config {
	return adc.Config{PollInterval: 10 * time.Microsecond, ConversionTimeout: time.Millisecond}
}

func TestSampleOnce(t *testing.T) {
	var buf bytes.Buffer
	ch := adc.NewChannel(adc.NewFakeConverter(4), fastADC())
	if err := sampleOnce(context.Background(), ch, &buf); err != nil {
		t.Fatalf("sampleOnce: %v", err)
	}
	if got, want := buf.String(), "raw: 1024, level: 17, frame: 0x11\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSampleOnceOutOfRange(t *testing.T) {
	var buf bytes.Buffer
	ch := adc.NewChannel(adc.NewFakeConverter(-64), fastADC())
	if err := sampleOnce(context.Background(), ch, &buf); err != nil {
		t.Fatalf("sampleOnce: %v", err)
	}
	if !strings.Contains(buf.String(), "raw: -16384 (out of range") {
		t.Errorf("got %q", buf.String())
	}
}

func TestSampleOnceTimeout(t *testing.T) {
	conv := adc.NewFakeConverter(4)
	conv.StuckConversions = 10
	ch := adc.NewChannel(conv, fastADC())
	err := sampleOnce(context.Background(), ch, &bytes.Buffer{})
	if !errors.Is(err, adc.ErrConversionTimeout) {
		t.Fatalf("expected conversion timeout, got %v", err)
	}
}

func TestSimChannelKeepsOnlyLastDuty(t *testing.T) {
	var c simChannel
	if _, ok := c.Last(); ok {
		t.Fatal("expected no duty before the first write")
	}
	for d := 0; d < 10000; d++ {
		if err := c.SetDuty(uint8(d)); err != nil {
			t.Fatalf("SetDuty: %v", err)
		}
	}
	if d, ok := c.Last(); !ok || d != 9999%256 {
		t.Errorf("expected last duty %d, got %d (set=%v)", 9999%256, d, ok)
	}
	if err := c.SetDuty(0); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if d, ok := c.Last(); !ok || d != 0 {
		t.Errorf("a zero duty must still read as set, got %d (set=%v)", d, ok)
	}
}

func TestSimLinkCarriesLevelToActuators(t *testing.T) {
	cfg := config.Default()
	cfg.Sampler.TriggerPoll = config.Duration(time.Millisecond)
	cfg.Sampler.ADC.SettleDelay = 0
	cfg.Sampler.TxPeriod = config.Duration(200 * time.Microsecond)

	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(time.Now(), status.Config{Node: simNode})
	// Constant input: raw 2048, level 18.
	link := newSimLink(cfg, adc.NewFakeConverter(8), pub, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- link.Run(ctx) }()

	want := logic.DutyCycle(byte(logic.EncodeFrame(true, 18)))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d, ok := link.right.Last(); ok && d == want && link.Counts().Captures >= 5 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("sim returned error: %v", err)
	}

	c := link.Counts()
	if c.Captures < 5 {
		t.Fatalf("expected captures, got %+v", c)
	}
	if d, _ := link.left.Last(); d != want {
		t.Errorf("left duty: got %d, want %d", d, want)
	}
	if c.Samples == 0 || c.Frames == 0 {
		t.Errorf("expected sampler activity, got %+v", c)
	}
	if link.alert.On() {
		t.Error("alert should not be raised while frames flow")
	}
	if types := pub.EventTypes(); len(types) == 0 || types[0] != logic.EventArmed {
		t.Errorf("expected ARMED first, got %v", types)
	}
}
