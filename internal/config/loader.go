package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	clog "github.com/jwulff/callnotes/internal/log"
	"github.com/jwulff/callnotes/internal/recognizer"
	"github.com/jwulff/callnotes/internal/segment"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvLanguage = "CALLNOTES_LANG"
	EnvLogLevel = "CALLNOTES_LOG_LEVEL"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	rc := recognizer.DefaultConfig()
	return &Config{
		Log: LogConfig{Level: "info"},
		Recognizer: RecognizerConfig{
			Kind:           RecognizerWebSocket,
			Language:       rc.Language,
			Continuous:     recognizer.BoolPtr(rc.Continuous),
			InterimResults: recognizer.BoolPtr(rc.InterimResults),
			Listen:         "127.0.0.1:8787",
		},
		Segment: SegmentConfig{
			Silence:      Duration(segment.DefaultSilence),
			TickInterval: Duration(segment.DefaultTickInterval),
		},
		Restart: RestartConfig{FailureDelay: Duration(time.Second)},
		Notes:   NotesConfig{Backend: NotesMemory},
	}
}

// Load reads the YAML file at path over the defaults. The result is not
// validated; callers apply their overrides and then call Validate.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults. Unknown keys are
// rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvLanguage); v != "" {
		cfg.Recognizer.Language = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}

// Validate returns all problems found in cfg joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := clog.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	rc := cfg.Recognizer
	if !rc.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("recognizer.kind %q is invalid; valid values: script, daemon, websocket", rc.Kind))
	}
	if rc.Kind == RecognizerScript && rc.Script == "" {
		errs = append(errs, errors.New("recognizer.script is required when kind is script"))
	}
	if rc.Kind == RecognizerWebSocket && rc.Listen == "" {
		errs = append(errs, errors.New("recognizer.listen is required when kind is websocket"))
	}

	if cfg.Segment.Silence <= 0 {
		errs = append(errs, fmt.Errorf("segment.silence must be positive, got %s", cfg.Segment.Silence.D()))
	}
	if cfg.Segment.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("segment.tick_interval must be positive, got %s", cfg.Segment.TickInterval.D()))
	}

	if cfg.Restart.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("restart.max_retries must not be negative, got %d", cfg.Restart.MaxRetries))
	}
	if cfg.Restart.Backoff < 0 || cfg.Restart.MaxBackoff < 0 || cfg.Restart.FailureDelay < 0 {
		errs = append(errs, errors.New("restart.backoff, restart.max_backoff and restart.failure_delay must not be negative"))
	}

	switch cfg.Notes.Backend {
	case NotesMemory, NotesSQLite:
	default:
		errs = append(errs, fmt.Errorf("notes.backend %q is invalid; valid values: memory, sqlite", cfg.Notes.Backend))
	}
	if !InMemoryDSN(cfg.Notes.DSN) {
		errs = append(errs, fmt.Errorf("notes.dsn %q must name an in-memory database (\":memory:\" or file::memory:); notes do not outlive the process", cfg.Notes.DSN))
	}

	return errors.Join(errs...)
}

// RecognizerSettings converts the recognizer section into a
// recognizer.Config.
func (c *Config) RecognizerSettings() recognizer.Config {
	rc := recognizer.DefaultConfig()
	if c.Recognizer.Language != "" {
		rc.Language = c.Recognizer.Language
	}
	if c.Recognizer.Continuous != nil {
		rc.Continuous = *c.Recognizer.Continuous
	}
	if c.Recognizer.InterimResults != nil {
		rc.InterimResults = *c.Recognizer.InterimResults
	}
	return rc
}

// Rules returns the segmentation rules from the segment section.
func (c *Config) Rules() segment.Rules {
	return segment.Rules{Silence: c.Segment.Silence.D()}
}

// InMemoryDSN reports whether dsn opens an SQLite database that lives only
// as long as the process. Empty means the default ":memory:".
func InMemoryDSN(dsn string) bool {
	switch {
	case dsn == "", dsn == ":memory:":
		return true
	case strings.HasPrefix(dsn, "file::memory:"):
		return true
	case strings.HasPrefix(dsn, "file:") && strings.Contains(dsn, "mode=memory"):
		return true
	}
	return false
}
