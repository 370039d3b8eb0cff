package samewatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestMinBufferDuration(t *testing.T) {
	// Longest burst: 16 preamble bytes plus 268 framed characters is
	// 2808 bits, about 5.39 s on air, plus the gap and margin.
	assert.InDelta(t, 7.39, MinBufferDuration().Seconds(), 0.01)

	var cfg = DefaultConfig()
	assert.Greater(t, cfg.Buffer(), MinBufferDuration())
	assert.LessOrEqual(t, cfg.Interval(), cfg.Buffer())
}

func TestConfigValidateRejects(t *testing.T) {
	var cases = []struct {
		name   string
		mutate func(*Config)
	}{
		{"sample rate too low", func(c *Config) { c.SampleRate = 4000 }},
		{"sample rate too high", func(c *Config) { c.SampleRate = 400000 }},
		{"buffer below coverage minimum", func(c *Config) { c.BufferSec = 5 }},
		{"zero interval", func(c *Config) { c.IntervalSec = 0 }},
		{"interval exceeds buffer", func(c *Config) { c.IntervalSec = 20 }},
		{"zero budget", func(c *Config) { c.BudgetSec = 0 }},
		{"budget exceeds interval", func(c *Config) { c.BudgetSec = 11 }},
		{"floor above one", func(c *Config) { c.Floor = 1.5 }},
		{"negative floor", func(c *Config) { c.Floor = -0.1 }},
		{"negative dedupe", func(c *Config) { c.DedupeSec = -1 }},
		{"unnamed source", func(c *Config) {
			c.Sources = []SourceConfig{{Type: "portaudio"}}
		}},
		{"duplicate source names", func(c *Config) {
			c.Sources = []SourceConfig{
				{Name: "a", Type: "portaudio"},
				{Name: "a", Type: "portaudio"},
			}
		}},
		{"wav source without path", func(c *Config) {
			c.Sources = []SourceConfig{{Name: "a", Type: "wav"}}
		}},
		{"pcm source without path", func(c *Config) {
			c.Sources = []SourceConfig{{Name: "a", Type: "pcm"}}
		}},
		{"unknown source type", func(c *Config) {
			c.Sources = []SourceConfig{{Name: "a", Type: "alsa"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cfg = DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigSourceRateDefaults(t *testing.T) {
	var cfg = DefaultConfig()
	cfg.Sources = []SourceConfig{
		{Name: "live", Type: "portaudio"},
		{Name: "pipe", Type: "pcm", Path: "/tmp/fifo", Rate: 22050},
	}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 48000, cfg.Sources[0].Rate)
	assert.Equal(t, 22050, cfg.Sources[1].Rate)
}

func TestLoadConfig(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "samewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sample_rate: 44100
scan_interval_seconds: 8
scan_budget_seconds: 4
confidence_floor: 0.9
log_level: debug
kafka_brokers: [localhost:9092]
sources:
  - name: scanner
    type: portaudio
`), 0o644))

	var cfg, err = LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 8*time.Second, cfg.Interval())
	assert.Equal(t, 4*time.Second, cfg.Budget())
	assert.Equal(t, 0.9, cfg.Floor)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)

	// Unset keys keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Buffer())
	assert.Equal(t, "same-candidates", cfg.KafkaTopic)

	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, 44100, cfg.Sources[0].Rate)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("buffer_seconds: 2\n"), 0o644))

	var _, err = LoadConfig(path)
	assert.ErrorContains(t, err, "coverage minimum")

	var _, missingErr = LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, missingErr)
}
