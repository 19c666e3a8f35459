// Command signal-link runs one end of a clocked parallel link: the sampler
// digitizes an analog input and streams it over an 8-bit bus, the receiver
// decodes the bus into actuator duty and raises an alert when the link
// goes quiet.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/signal-link/internal/config"
	"github.com/sweeney/signal-link/internal/logic"
	"github.com/sweeney/signal-link/internal/mqtt"
	"github.com/sweeney/signal-link/internal/status"
	"github.com/sweeney/signal-link/internal/web"
)

// statusTick is how often the lifecycle loop refreshes status and checks
// the heartbeat.
const statusTick = time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// options are the flags shared by every subcommand. Set flags override the
// configuration file.
type options struct {
	configPath string
	broker     string
	httpAddr   string
	heartbeat  time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "signal-link",
		Short:         "Clocked parallel link between a sampling node and a receiving node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&opts.broker, "broker", "", `MQTT broker address ("off" disables publishing)`)
	pf.StringVar(&opts.httpAddr, "http", "", `HTTP status address ("off" disables the server)`)
	pf.DurationVar(&opts.heartbeat, "heartbeat", 0, "Heartbeat interval (0 to disable)")

	root.AddCommand(newSamplerCmd(opts), newReceiverCmd(opts), newSimCmd(opts))
	return root
}

// load reads the configuration file and applies the shared flags that were
// set on cmd.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("broker") {
		cfg.MQTT.Broker = offToEmpty(o.broker)
	}
	if flags.Changed("http") {
		cfg.HTTP.Addr = offToEmpty(o.httpAddr)
	}
	if flags.Changed("heartbeat") {
		cfg.Heartbeat = config.Duration(o.heartbeat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func offToEmpty(s string) string {
	if s == "off" {
		return ""
	}
	return s
}

// publisherFor connects to the broker, or returns nil when publishing is
// disabled.
func publisherFor(cfg *config.Config, node string) *mqtt.RealPublisher {
	if cfg.MQTT.Broker == "" {
		log.Printf("mqtt: publishing disabled")
		return nil
	}
	return mqtt.NewRealPublisher(cfg.MQTT.Broker, node)
}

// baseStatusConfig fills the display fields common to every node.
func baseStatusConfig(cfg *config.Config, node string) status.Config {
	return status.Config{
		Node:        node,
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
		HeartbeatMs: cfg.Heartbeat.D().Milliseconds(),
	}
}

// nodeFunc runs a node until ctx is cancelled.
type nodeFunc func(ctx context.Context) error

// serve is the process lifecycle shared by every subcommand: publish
// STARTUP, start the status server, run the node, heartbeat, and publish
// SHUTDOWN on a signal or node failure.
func serve(cfg *config.Config, pub *mqtt.RealPublisher, tracker *status.Tracker, run nodeFunc) error {
	var (
		publisher  mqtt.Publisher
		connStatus mqtt.ConnectionStatus
	)
	if pub != nil {
		defer pub.Close()
		publisher, connStatus = pub, pub
	}

	publishSystem(publisher, tracker, connStatus, "STARTUP", "", time.Now())

	if addr := cfg.HTTP.Addr; addr != "" {
		srv := web.New(addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", addr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	nodeErr := make(chan error, 1)
	go func() { nodeErr <- run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(statusTick)
	defer ticker.Stop()

	err := runLoop(publisher, connStatus, tracker, cfg.Heartbeat.D(), time.Now, ticker.C, sigCh, nodeErr)
	cancel()
	select {
	case <-nodeErr:
	case <-time.After(2 * time.Second):
		log.Printf("node did not stop within 2s")
	}
	return err
}

// runLoop supervises a running node. It returns nil after a signal, or the
// node's error if the node stops on its own.
func runLoop(publisher mqtt.Publisher, connStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, nodeErr <-chan error) error {
	hb := logic.NewHeartbeat(now())
	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			publishSystem(publisher, tracker, connStatus, "SHUTDOWN", signalName(s), now())
			return nil

		case err := <-nodeErr:
			if err == nil {
				err = errors.New("node stopped")
			}
			log.Printf("node failed: %v", err)
			publishSystem(publisher, tracker, connStatus, "SHUTDOWN", "ERROR", now())
			return err

		case <-tick:
			if connStatus != nil {
				tracker.SetMQTTConnected(connStatus.IsConnected())
			}
			t := now()
			snap := tracker.Snapshot()
			if hbData := hb.Check(t, heartbeat, snap.Counts); hbData != nil {
				c := hbData.Counts
				log.Printf("heartbeat: uptime=%v samples=%d faults=%d frames=%d captures=%d alerts=%d bus_errors=%d/%d",
					hbData.Uptime.Round(time.Second), c.Samples, c.Faults, c.Frames, c.Captures, c.Alerts,
					c.BusWriteErrors, c.BusReadErrors)
				publishSystem(publisher, tracker, connStatus, "HEARTBEAT", "", hbData.Timestamp)
			}
		}
	}
}

// publishSystem publishes a lifecycle event carrying a full status snapshot.
// Lifecycle events are retained except heartbeats.
func publishSystem(publisher mqtt.Publisher, tracker *status.Tracker, connStatus mqtt.ConnectionStatus, event, reason string, at time.Time) {
	if publisher == nil {
		return
	}
	if connStatus != nil {
		tracker.SetMQTTConnected(connStatus.IsConnected())
	}
	ev := mqtt.SystemEvent{
		Timestamp:  at,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(tracker.Snapshot(), event, reason),
	}
	if err := publisher.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return fmt.Sprintf("UNKNOWN(%v)", s)
}
