package samewatch

/*------------------------------------------------------------------
 *
 * Purpose:	Validated configuration for the daemon.
 *
 * Description:	Buffer length and scan cadence are not free choices.  The
 *		header goes out three times with one second gaps, so a
 *		message is guaranteed to be caught when
 *
 *		    buffer_duration >= burst_duration + gap + margin
 *		    scan_interval   <= buffer_duration
 *
 *		The first condition makes at least one complete burst fit
 *		in a window wherever it starts; the second leaves no
 *		coverage hole between consecutive windows.  The minimum
 *		buffer is computed from the worst case burst (a header
 *		with all 31 location codes), never hardcoded.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const coverageMargin = time.Second

// maxBurstDuration is the on-air time of the longest legal header burst:
// preamble plus a maximum length message at 520.83 bits per second.
func maxBurstDuration() time.Duration {
	var bits = preambleCount*8 + maxHeaderLen*frameBits
	return time.Duration(float64(bits) / SameBaud * float64(time.Second))
}

// MinBufferDuration is the smallest rolling buffer that still guarantees a
// complete burst is visible in some window.
func MinBufferDuration() time.Duration {
	return maxBurstDuration() + interBurstGap + coverageMargin
}

// SourceConfig selects and parameterizes one capture backend.
type SourceConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // portaudio, wav or pcm
	Path string `yaml:"path"` // wav: file to replay; pcm: fifo path
	Rate int    `yaml:"sample_rate"`
}

// Config is the daemon configuration.  Zero values are filled in from
// DefaultConfig before validation.
type Config struct {
	SampleRate   int      `yaml:"sample_rate"`           // 8000..192000
	BufferSec    float64  `yaml:"buffer_seconds"`        // >= MinBufferDuration
	IntervalSec  float64  `yaml:"scan_interval_seconds"` // 0 < interval <= buffer
	BudgetSec    float64  `yaml:"scan_budget_seconds"`   // 0 < budget <= interval
	Floor        float64  `yaml:"confidence_floor"`      // 0..1
	DedupeSec    float64  `yaml:"dedupe_window_seconds"` // >= 0
	LogLevel     string   `yaml:"log_level"`
	MetricsAddr  string   `yaml:"metrics_listen"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	RecordDir     string `yaml:"record_directory"`
	RecordPattern string `yaml:"record_pattern"`

	Sources []SourceConfig `yaml:"sources"`
}

func DefaultConfig() *Config {
	// Ten second windows comfortably exceed the computed minimum
	// (about 7.4 s) and the cadence matches the buffer, the largest
	// value with no coverage gap.
	return &Config{
		SampleRate:    48000,
		BufferSec:     10,
		IntervalSec:   10,
		BudgetSec:     10,
		Floor:         0.80,
		DedupeSec:     10,
		LogLevel:      "info",
		MetricsAddr:   "",
		KafkaTopic:    "same-candidates",
		RecordPattern: "%Y%m%d-%H%M%S-same.wav",
	}
}

// LoadConfig reads a YAML file over the defaults and validates.
func LoadConfig(path string) (*Config, error) {
	var cfg = DefaultConfig()
	var data, readErr = os.ReadFile(path)
	if readErr != nil {
		return nil, readErr
	}
	var unmarshalErr = yaml.Unmarshal(data, cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("config %s: %w", path, unmarshalErr)
	}
	var validateErr = cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("config %s: %w", path, validateErr)
	}
	return cfg, nil
}

func (c *Config) Buffer() time.Duration   { return secs(c.BufferSec) }
func (c *Config) Interval() time.Duration { return secs(c.IntervalSec) }
func (c *Config) Budget() time.Duration   { return secs(c.BudgetSec) }
func (c *Config) Dedupe() time.Duration   { return secs(c.DedupeSec) }

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c *Config) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("sample_rate %d outside 8000..192000", c.SampleRate)
	}

	if c.Buffer() < MinBufferDuration() {
		return fmt.Errorf("buffer_seconds %.1f is below the coverage minimum %.1f (longest burst + gap + margin)",
			c.BufferSec, MinBufferDuration().Seconds())
	}
	if c.IntervalSec <= 0 {
		return fmt.Errorf("scan_interval_seconds %.1f must be positive", c.IntervalSec)
	}
	if c.Interval() > c.Buffer() {
		return fmt.Errorf("scan_interval_seconds %.1f exceeds buffer_seconds %.1f, leaving coverage gaps",
			c.IntervalSec, c.BufferSec)
	}
	if c.BudgetSec <= 0 || c.Budget() > c.Interval() {
		return fmt.Errorf("scan_budget_seconds %.1f must be in (0, scan_interval_seconds]", c.BudgetSec)
	}

	if c.Floor < 0 || c.Floor > 1 {
		return fmt.Errorf("confidence_floor %.2f outside 0..1", c.Floor)
	}
	if c.DedupeSec < 0 {
		return fmt.Errorf("dedupe_window_seconds %.1f must not be negative", c.DedupeSec)
	}

	var names = make(map[string]bool)
	for i := range c.Sources {
		var s = &c.Sources[i]
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = true

		switch s.Type {
		case "portaudio":
			if s.Rate == 0 {
				s.Rate = c.SampleRate
			}
		case "wav":
			if s.Path == "" {
				return fmt.Errorf("source %q: wav type requires a path", s.Name)
			}
		case "pcm":
			if s.Path == "" {
				return fmt.Errorf("source %q: pcm type requires a path", s.Name)
			}
			if s.Rate == 0 {
				s.Rate = c.SampleRate
			}
		default:
			return fmt.Errorf("source %q: unknown type %q", s.Name, s.Type)
		}
	}

	return nil
}
