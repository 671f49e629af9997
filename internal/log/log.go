// Package log builds the zerolog logger shared by callnotes components.
//
// In TUI mode the terminal belongs to bubbletea, so diagnostics go to a file;
// headless and MCP modes log to stderr (stdout carries the MCP protocol).
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// EnvPath overrides the default log file location.
const EnvPath = "CALLNOTES_LOG_PATH"

const fileName = "callnotes_log.txt"

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// File, when set, receives the log instead of Out.
	File string
	// Out is used when File is empty. Defaults to stderr.
	Out io.Writer
	// NoColor disables ANSI colors in console output.
	NoColor bool
}

// New returns a console-formatted logger. The returned closer releases the
// log file, if any, and is never nil.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var closer io.Closer = nopCloser{}
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	noColor := opts.NoColor
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log file: %w", err)
		}
		out, closer, noColor = f, f, true
	}

	cw := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    noColor,
	}
	logger := zerolog.New(cw).Level(level).With().Timestamp().Int("pid", os.Getpid()).Logger()
	return logger, closer, nil
}

// ParseLevel maps a config level name to a zerolog level.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// ResolvePath picks the log file location: explicit path first, then the
// CALLNOTES_LOG_PATH environment variable, then the user cache directory.
func ResolvePath(flagPath string) (string, error) {
	if flagPath != "" {
		return absolute(flagPath)
	}
	if env := os.Getenv(EnvPath); env != "" {
		return absolute(env)
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "callnotes", fileName), nil
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
