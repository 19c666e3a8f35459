package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/signal-link/internal/gpio"
	"github.com/sweeney/signal-link/internal/logic"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signal-link.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Millisecond, cfg.SamplerConfig().TxPeriod)
	assert.Equal(t, time.Second, cfg.SamplerConfig().FaultCooldown)
	assert.Equal(t, time.Millisecond, cfg.ReceiverConfig().DiagPoll)
	assert.Equal(t, logic.AlertThreshold, cfg.ReceiverConfig().Threshold)
	assert.Equal(t, time.Millisecond, cfg.ADCConfig().SettleDelay)
	assert.Equal(t, 20*time.Millisecond, cfg.ThresholdDuration())
	assert.Equal(t, gpio.DefaultBusPins, cfg.GPIO.Bus)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker: tcp://10.0.0.5:1883
heartbeat: 1m
sampler:
  tx_period: 500us
  adc:
    retries: 5
receiver:
  threshold_ticks: 30000
  tick_period: 2us
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tcp://10.0.0.5:1883", cfg.MQTT.Broker)
	assert.Equal(t, time.Minute, cfg.Heartbeat.D())
	assert.Equal(t, 500*time.Microsecond, cfg.SamplerConfig().TxPeriod)
	assert.Equal(t, 5, cfg.ADCConfig().Retries)
	assert.Equal(t, uint16(30000), cfg.ReceiverConfig().Threshold)
	assert.Equal(t, 60*time.Millisecond, cfg.ThresholdDuration())

	// untouched keys keep their defaults
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, time.Second, cfg.SamplerConfig().FaultCooldown)
	assert.Equal(t, gpio.DefaultPinTrigger, cfg.GPIO.Trigger)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "sampler:\n  tx_period: fast\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "line 2")
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "sampler:\n  tx_period: 0s\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "sampler.tx_period must be positive")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Receiver.DiagPoll = 0
	cfg.Receiver.Threshold = 0
	cfg.Receiver.PWM = []string{"GPIO12"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "receiver.diag_poll")
	assert.Contains(t, err.Error(), "receiver.threshold_ticks")
	assert.Contains(t, err.Error(), "receiver.pwm needs 2 pins")
}

func TestValidateGPIO(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*GPIO)
		want   string
	}{
		{"short bus", func(g *GPIO) { g.Bus = g.Bus[:7] }, "needs 8 pins"},
		{"negative", func(g *GPIO) { g.Alert = -1 }, "negative offset"},
		{"shared line", func(g *GPIO) { g.Fault = g.Bus[3] }, "already used by bus[3]"},
		{"no chip", func(g *GPIO) { g.Chip = "" }, "gpio.chip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg.GPIO)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestMarshalWritesDurationStrings(t *testing.T) {
	out, err := yaml.Marshal(Default())
	require.NoError(t, err)
	assert.Contains(t, string(out), "tx_period: 1ms")
	assert.Contains(t, string(out), "heartbeat: 15m0s")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, *Default(), back)
}
