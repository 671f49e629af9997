package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwulff/callnotes/internal/config"
	"github.com/jwulff/callnotes/internal/daemon"
	"github.com/jwulff/callnotes/internal/db"
	"github.com/jwulff/callnotes/internal/recognizer"
	"github.com/jwulff/callnotes/internal/session"
	"github.com/jwulff/callnotes/internal/wsbridge"
)

// loadConfig reads path (or the defaults), then applies the environment and
// command-line overrides before validating.
func loadConfig(path, script, lang string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.ApplyEnv(cfg)
	if script != "" {
		cfg.Recognizer.Kind = config.RecognizerScript
		cfg.Recognizer.Script = script
	}
	if lang != "" {
		cfg.Recognizer.Language = lang
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func openNotes(cfg *config.Config) (db.NoteStore, error) {
	switch cfg.Notes.Backend {
	case config.NotesSQLite:
		s, err := db.Open(cfg.Notes.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return db.NewMemoryStore(), nil
	}
}

func restartPolicy(cfg *config.Config) session.RestartPolicy {
	return session.RestartPolicy{
		MaxRetries:   cfg.Restart.MaxRetries,
		Backoff:      cfg.Restart.Backoff.D(),
		MaxBackoff:   cfg.Restart.MaxBackoff.D(),
		FailureDelay: cfg.Restart.FailureDelay.D(),
	}
}

// source is a recognizer plus whatever the process must serve for it.
type source struct {
	recognizer.Source
	// Handler is served on recognizer.listen when non-nil.
	Handler http.Handler
	// Hint tells the user where recognition comes from.
	Hint string
	// Ready, when set, blocks until the source can accept a start.
	Ready func(context.Context) error
}

func buildSource(cfg *config.Config, logger zerolog.Logger) (*source, error) {
	rc := cfg.Recognizer
	switch rc.Kind {
	case config.RecognizerScript:
		s, err := recognizer.LoadScript(rc.Script)
		if err != nil {
			return nil, err
		}
		return &source{Source: s, Hint: "script " + rc.Script}, nil

	case config.RecognizerDaemon:
		path := rc.Socket
		if path == "" {
			path = daemon.SocketPath()
		}
		return &source{
			Source: daemon.NewSource(path, logger),
			Hint:   "daemon " + path,
		}, nil

	case config.RecognizerWebSocket:
		b := wsbridge.New(logger)
		return &source{
			Source:  b,
			Handler: b.Handler(),
			Hint:    "open " + bridgeURL(rc.Listen) + " in Chrome",
			Ready:   b.WaitConnected,
		}, nil
	}
	return nil, fmt.Errorf("unknown recognizer kind %q", rc.Kind)
}

// bridgeURL turns a listen address into a URL a browser can open.
func bridgeURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// serveHTTP runs an HTTP server on addr until ctx ends.
func serveHTTP(ctx context.Context, name, addr string, h http.Handler, logger zerolog.Logger) func() error {
	return func() error {
		srv := &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("%s: listen %s: %w", name, addr, err)
		}
		logger.Info().Str("server", name).Str("addr", ln.Addr().String()).Msg("listening")

		errc := make(chan error, 1)
		go func() { errc <- srv.Serve(ln) }()

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("%s: %w", name, err)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Str("server", name).Msg("shutdown")
			}
			return nil
		}
	}
}
