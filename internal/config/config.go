// Package config holds the player's tunables: built-in defaults, overlaid
// by an optional YAML file, then by environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete player configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Reader   ReaderConfig   `yaml:"reader"`
	Seek     SeekConfig     `yaml:"seek"`
	Audio    AudioConfig    `yaml:"audio"`
	Playback PlaybackConfig `yaml:"playback"`
}

// LogConfig selects the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ReaderConfig tunes the page reader: the size of each read and the
// initial window of the backward scan for the last page.
type ReaderConfig struct {
	ChunkSize   int   `yaml:"chunk_size"`
	EndScanStep int64 `yaml:"end_scan_step"`
}

// SeekConfig bounds the bisection seek.
type SeekConfig struct {
	// Step is the bracket width in bytes at which bisection stops.
	Step    int64 `yaml:"step"`
	MaxHops int   `yaml:"max_hops"`
}

// AudioConfig sizes the audio output path.
type AudioConfig struct {
	// Buffer is how far audio may be written ahead of playback.
	Buffer     time.Duration `yaml:"buffer"`
	QueueDepth int           `yaml:"queue_depth"`
}

// PlaybackConfig controls where playback starts and progress reporting.
type PlaybackConfig struct {
	// StartAt seeks to this many seconds before playback begins.
	StartAt float64 `yaml:"start_at"`
	// StatsInterval is how often progress is logged; zero disables it.
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Reader: ReaderConfig{
			ChunkSize:   4096,
			EndScanStep: 5000,
		},
		Seek: SeekConfig{
			Step:    5000,
			MaxHops: 64,
		},
		Audio: AudioConfig{
			Buffer:     250 * time.Millisecond,
			QueueDepth: 64,
		},
		Playback: PlaybackConfig{
			StatsInterval: 5 * time.Second,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path, if path is
// not empty, and then with the environment.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyEnv overrides fields from PLOGG_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PLOGG_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("PLOGG_SEEK_STEP"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: PLOGG_SEEK_STEP: %w", err)
		}
		c.Seek.Step = n
	}
	if v, ok := lookup("PLOGG_START_AT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: PLOGG_START_AT: %w", err)
		}
		c.Playback.StartAt = f
	}
	if v, ok := lookup("PLOGG_AUDIO_BUFFER"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: PLOGG_AUDIO_BUFFER: %w", err)
		}
		c.Audio.Buffer = d
	}
	return nil
}

// Validate checks every field for a usable value.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q (must be debug, info, warn or error)", ErrInvalid, c.Log.Level)
	}
	if c.Reader.ChunkSize < 512 {
		return fmt.Errorf("%w: reader chunk_size %d (must be at least 512)", ErrInvalid, c.Reader.ChunkSize)
	}
	if c.Reader.EndScanStep <= 0 {
		return fmt.Errorf("%w: reader end_scan_step %d (must be positive)", ErrInvalid, c.Reader.EndScanStep)
	}
	if c.Seek.Step <= 0 {
		return fmt.Errorf("%w: seek step %d (must be positive)", ErrInvalid, c.Seek.Step)
	}
	if c.Seek.MaxHops < 0 {
		return fmt.Errorf("%w: seek max_hops %d (must be non-negative)", ErrInvalid, c.Seek.MaxHops)
	}
	if c.Audio.Buffer < 10*time.Millisecond || c.Audio.Buffer > 10*time.Second {
		return fmt.Errorf("%w: audio buffer %v (must be between 10ms and 10s)", ErrInvalid, c.Audio.Buffer)
	}
	if c.Audio.QueueDepth <= 0 {
		return fmt.Errorf("%w: audio queue_depth %d (must be positive)", ErrInvalid, c.Audio.QueueDepth)
	}
	if c.Playback.StartAt < 0 {
		return fmt.Errorf("%w: playback start_at %v (must be non-negative)", ErrInvalid, c.Playback.StartAt)
	}
	if c.Playback.StatsInterval < 0 {
		return fmt.Errorf("%w: playback stats_interval %v (must be non-negative)", ErrInvalid, c.Playback.StatsInterval)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
