// Package config loads the callnotes YAML configuration.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Segment    SegmentConfig    `yaml:"segment"`
	Restart    RestartConfig    `yaml:"restart"`
	Notes      NotesConfig      `yaml:"notes"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LogConfig controls the zerolog logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// File overrides the log file used in TUI mode.
	File string `yaml:"file"`
}

// RecognizerKind selects the recognition source implementation.
type RecognizerKind string

const (
	RecognizerScript    RecognizerKind = "script"
	RecognizerDaemon    RecognizerKind = "daemon"
	RecognizerWebSocket RecognizerKind = "websocket"
)

// IsValid reports whether k is a known kind.
func (k RecognizerKind) IsValid() bool {
	switch k {
	case RecognizerScript, RecognizerDaemon, RecognizerWebSocket:
		return true
	}
	return false
}

// RecognizerConfig describes the external speech recognizer.
type RecognizerConfig struct {
	Kind           RecognizerKind `yaml:"kind"`
	Language       string         `yaml:"language"`
	Continuous     *bool          `yaml:"continuous"`
	InterimResults *bool          `yaml:"interim_results"`

	// Script is the NDJSON file replayed by the script recognizer.
	Script string `yaml:"script"`
	// Socket is the Unix socket of the recognizer daemon.
	Socket string `yaml:"socket"`
	// Listen is the HTTP address of the browser bridge.
	Listen string `yaml:"listen"`
}

// SegmentConfig holds the segmentation timing.
type SegmentConfig struct {
	Silence      Duration `yaml:"silence"`
	TickInterval Duration `yaml:"tick_interval"`
}

// RestartConfig governs restarts after the source ends on its own. The zero
// value restarts immediately and without limit.
type RestartConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	Backoff    Duration `yaml:"backoff"`
	MaxBackoff Duration `yaml:"max_backoff"`
	// FailureDelay is the least wait after a restart that failed to start.
	FailureDelay Duration `yaml:"failure_delay"`
}

// NotesBackend selects the NoteStore implementation.
type NotesBackend string

const (
	NotesMemory NotesBackend = "memory"
	NotesSQLite NotesBackend = "sqlite"
)

// NotesConfig selects where notes are kept.
type NotesConfig struct {
	Backend NotesBackend `yaml:"backend"`
	DSN     string       `yaml:"dsn"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// UnmarshalYAML parses strings such as "1500ms" or "1s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes d as a duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
