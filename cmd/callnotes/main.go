// Command callnotes turns live speech recognition into timestamped notes.
//
// Usage:
//
//	callnotes [flags] [tui|run|mcp]
//
// tui (the default) shows the live text and saved notes and toggles listening
// with Space. run listens headless until interrupted and prints the notes on
// exit. mcp serves the session as MCP tools on stdin/stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/jwulff/callnotes/internal/app"
	"github.com/jwulff/callnotes/internal/config"
	clog "github.com/jwulff/callnotes/internal/log"
	"github.com/jwulff/callnotes/internal/mcpserver"
	"github.com/jwulff/callnotes/internal/observe"
	"github.com/jwulff/callnotes/internal/session"
)

var version = "dev"

const (
	modeTUI = "tui"
	modeRun = "run"
	modeMCP = "mcp"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("callnotes", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	logPath := fs.String("log", "", "log file for tui mode (default $"+clog.EnvPath+" or the user cache dir)")
	script := fs.String("script", "", "replay an NDJSON recognition script instead of the configured recognizer")
	lang := fs.String("lang", "", "recognition language tag, e.g. ja-JP or en-US")
	runFor := fs.Duration("for", 0, "run mode: stop listening after this long (0 waits for an interrupt)")
	showVersion := fs.Bool("version", false, "print the version and exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: callnotes [flags] [%s|%s|%s]\n\n", modeTUI, modeRun, modeMCP)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintln(stdout, "callnotes", version)
		return 0
	}

	mode := modeTUI
	if fs.NArg() > 0 {
		mode = fs.Arg(0)
	}
	if fs.NArg() > 1 || (mode != modeTUI && mode != modeRun && mode != modeMCP) {
		fs.Usage()
		return 2
	}

	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *script, *lang)
	if err != nil {
		fmt.Fprintf(stderr, "callnotes: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logOpts := clog.Options{Level: cfg.Log.Level, Out: stderr, NoColor: !isTerminal(stderr)}
	if mode == modeTUI {
		path := cfg.Log.File
		if *logPath != "" || path == "" {
			if path, err = clog.ResolvePath(*logPath); err != nil {
				fmt.Fprintf(stderr, "callnotes: %v\n", err)
				return 1
			}
		}
		logOpts.File = path
	}
	logger, logCloser, err := clog.New(logOpts)
	if err != nil {
		fmt.Fprintf(stderr, "callnotes: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", version).
		Str("mode", mode).
		Str("recognizer", string(cfg.Recognizer.Kind)).
		Str("lang", cfg.Recognizer.Language).
		Str("notes", string(cfg.Notes.Backend)).
		Msg("callnotes starting")

	// ── Signal context ────────────────────────────────────────────────────────
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Listen != "" {
		shutdown, err := observe.InitProvider()
		if err != nil {
			logger.Error().Err(err).Msg("init metrics")
			return 1
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = shutdown(shutdownCtx)
		}()
	}
	metrics := observe.DefaultMetrics()

	// ── Notes and recognizer ──────────────────────────────────────────────────
	notes, err := openNotes(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("open note store")
		fmt.Fprintf(stderr, "callnotes: %v\n", err)
		return 1
	}
	defer notes.Close()

	src, err := buildSource(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("build recognizer")
		fmt.Fprintf(stderr, "callnotes: %v\n", err)
		return 1
	}
	defer src.Close()

	ctrl := session.New(session.Options{
		Source:     src.Source,
		Notes:      notes,
		Rules:      cfg.Rules(),
		Recognizer: cfg.RecognizerSettings(),
		Restart:    restartPolicy(cfg),
		Logger:     logger.With().Str("component", "session").Logger(),
		Metrics:    metrics,
	})

	g, gctx := errgroup.WithContext(ctx)
	if src.Handler != nil {
		g.Go(serveHTTP(gctx, "recognizer bridge", cfg.Recognizer.Listen, src.Handler, logger))
	}
	if cfg.Metrics.Listen != "" {
		g.Go(serveHTTP(gctx, "metrics", cfg.Metrics.Listen, observe.Handler(), logger))
	}

	// ── Driver ────────────────────────────────────────────────────────────────
	tick := cfg.Segment.TickInterval.D()
	switch mode {
	case modeTUI:
		g.Go(func() error {
			defer cancel()
			return runTUI(gctx, ctrl, cfg, src.Hint, tick)
		})

	case modeRun:
		loop := session.NewLoop(ctrl, tick)
		g.Go(func() error {
			defer cancel()
			return ignoreCanceled(loop.Run(gctx))
		})
		g.Go(func() error {
			return startHeadless(gctx, loop, src, *runFor, cancel, logger)
		})

	case modeMCP:
		loop := session.NewLoop(ctrl, tick)
		g.Go(func() error {
			defer cancel()
			return ignoreCanceled(loop.Run(gctx))
		})
		g.Go(func() error {
			defer cancel()
			return mcpserver.New(loop, version, logger).Serve(gctx, os.Stdin, stdout)
		})
	}

	err = g.Wait()

	if mode == modeRun {
		printNotes(stdout, ctrl)
	}
	if err != nil {
		logger.Error().Err(err).Msg("callnotes stopped with error")
		fmt.Fprintf(stderr, "callnotes: %v\n", err)
		return 1
	}
	logger.Info().Msg("goodbye")
	return 0
}

// runTUI runs the bubbletea program until the user quits or ctx ends. A
// session still listening when the program is killed is stopped here so its
// pending text is saved.
func runTUI(ctx context.Context, ctrl *session.Controller, cfg *config.Config, hint string, tick time.Duration) error {
	model := app.New(app.Options{
		Controller:   ctrl,
		TickInterval: tick,
		Language:     cfg.Recognizer.Language,
		SourceHint:   hint,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()

	if ctrl.IsListening() {
		_ = ctrl.Stop()
	}
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// startHeadless begins listening as soon as the recognizer can accept a start
// and, when d is positive, ends the run after d.
func startHeadless(ctx context.Context, loop *session.Loop, src *source, d time.Duration, cancel context.CancelFunc, logger zerolog.Logger) error {
	if src.Ready != nil {
		logger.Info().Str("hint", src.Hint).Msg("waiting for the recognizer page")
		if err := src.Ready(ctx); err != nil {
			return ignoreCanceled(err)
		}
	}
	listening, err := loop.Toggle(ctx)
	if err != nil {
		cancel()
		if errors.Is(err, session.ErrLoopClosed) {
			return nil
		}
		return ignoreCanceled(fmt.Errorf("start listening: %w", err))
	}
	if !listening {
		return nil
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		logger.Info().Dur("after", d).Msg("run time elapsed")
		cancel()
	case <-ctx.Done():
	}
	return nil
}

func printNotes(w io.Writer, ctrl *session.Controller) {
	for _, n := range ctrl.Notes() {
		fmt.Fprintln(w, n)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
