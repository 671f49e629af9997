// Package session implements the listening state machine that sits between
// a recognition source and the note store.
//
// A Controller is not safe for concurrent use. One goroutine owns it and
// feeds it source events, safety-net ticks and user commands one at a time:
// the bubbletea program loop in the TUI, or [Loop] in headless and MCP modes.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jwulff/callnotes/internal/clock"
	"github.com/jwulff/callnotes/internal/db"
	"github.com/jwulff/callnotes/internal/observe"
	"github.com/jwulff/callnotes/internal/recognizer"
	"github.com/jwulff/callnotes/internal/segment"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyListening is returned by Start while a session is active.
	ErrAlreadyListening = errors.New("session: already listening")
	// ErrNotListening is returned by Stop while idle.
	ErrNotListening = errors.New("session: not listening")
)

// State is the controller's top-level state.
type State int

const (
	Idle State = iota
	Listening
)

func (s State) String() string {
	if s == Listening {
		return "listening"
	}
	return "idle"
}

// RestartPolicy governs restarts after the source ends while listening.
// The zero value restarts immediately and forever.
type RestartPolicy struct {
	// MaxRetries is the number of consecutive restarts allowed without an
	// intervening result. Zero means unlimited.
	MaxRetries int
	// Backoff is the delay before the first restart; it doubles for each
	// consecutive attempt. Zero means restart immediately.
	Backoff time.Duration
	// MaxBackoff caps the delay. Zero means uncapped.
	MaxBackoff time.Duration
	// FailureDelay is the least wait after a restart attempt whose start
	// failed, so an absent daemon or page is not redialled in a tight loop.
	FailureDelay time.Duration
}

// Delay returns the wait before consecutive restart attempt n (1-based).
func (p RestartPolicy) Delay(n int) time.Duration {
	if p.Backoff <= 0 || n <= 0 {
		return 0
	}
	d := p.Backoff
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Options configures a Controller. Source and Notes are required.
type Options struct {
	Source     recognizer.Source
	Notes      db.NoteStore
	Clock      clock.Clock
	Rules      segment.Rules
	Recognizer recognizer.Config
	Restart    RestartPolicy
	Logger     zerolog.Logger
	Metrics    *observe.Metrics
}

// Controller is the Idle/Listening state machine.
type Controller struct {
	source  recognizer.Source
	notes   db.NoteStore
	clock   clock.Clock
	rules   segment.Rules
	rcfg    recognizer.Config
	policy  RestartPolicy
	log     zerolog.Logger
	metrics *observe.Metrics

	state          State
	st             segment.State
	restarts       int
	restartPending bool
	restartGen     int
}

// New returns an idle Controller.
func New(opts Options) *Controller {
	c := &Controller{
		source:  opts.Source,
		notes:   opts.Notes,
		clock:   opts.Clock,
		rules:   opts.Rules,
		rcfg:    opts.Recognizer,
		policy:  opts.Restart,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.rules.Silence <= 0 {
		c.rules = segment.DefaultRules()
	}
	if c.rcfg.Language == "" {
		c.rcfg = recognizer.DefaultConfig()
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Start begins a listening session. The source is started before any state
// changes, so a source that cannot start leaves the controller idle.
func (c *Controller) Start(ctx context.Context) error {
	if c.state == Listening {
		return ErrAlreadyListening
	}
	if err := c.source.Start(ctx, c.rcfg); err != nil {
		return fmt.Errorf("start recognizer: %w", err)
	}
	now := c.clock.Now()
	c.st = segment.NewState(now)
	c.state = Listening
	c.restarts = 0
	c.restartPending = false
	c.metrics.SetListening(ctx, true)
	c.log.Info().Str("language", c.rcfg.Language).Msg("listening started")
	return nil
}

// Stop ends the session. The current segment is flushed if it holds unsaved
// text, then the segment and live text are cleared.
func (c *Controller) Stop() error {
	if c.state != Listening {
		return ErrNotListening
	}
	if err := c.source.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("stop recognizer")
	}
	c.finish(context.Background())
	return nil
}

// Toggle starts when idle and stops when listening.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.state == Listening {
		return c.Stop()
	}
	return c.Start(ctx)
}

func (c *Controller) finish(ctx context.Context) {
	var n segment.Note
	var ok bool
	if c.st, n, ok = segment.Flush(c.st, c.clock.Now(), segment.TriggerStop); ok {
		c.record(ctx, n)
	}
	c.st = segment.State{}
	c.state = Idle
	c.restarts = 0
	c.restartPending = false
	c.metrics.SetListening(ctx, false)
	c.log.Info().Msg("listening stopped")
}

// HandleEvent dispatches one source event. When the returned restart is
// true the caller must call Restart after waiting delay.
func (c *Controller) HandleEvent(ctx context.Context, ev recognizer.Event) (delay time.Duration, restart bool) {
	switch ev.Kind {
	case recognizer.KindResult:
		c.Ingest(ctx, ev.Result)
		return 0, false
	case recognizer.KindEnd:
		return c.SourceEnded(ctx)
	default:
		return 0, false
	}
}

// Ingest applies a recognition result. Ignored while idle.
func (c *Controller) Ingest(ctx context.Context, res recognizer.Result) {
	if c.state != Listening {
		return
	}
	c.restarts = 0
	c.metrics.RecordEvent(ctx, recognizer.KindResult.String())

	var notes []segment.Note
	c.st, notes = c.rules.Ingest(c.st, res, c.clock.Now())
	for _, n := range notes {
		c.record(ctx, n)
	}
}

// Tick runs the safety-net check. Ignored while idle.
func (c *Controller) Tick(ctx context.Context) {
	if c.state != Listening {
		return
	}
	var n segment.Note
	var ok bool
	if c.st, n, ok = c.rules.Check(c.st, c.clock.Now()); ok {
		c.record(ctx, n)
	}
}

// SourceEnded handles an end notification from the source. While idle it is
// ignored. While listening the segment, live text and notes are left alone
// and a restart is requested after the policy's delay. When the policy's
// retry limit is exhausted the session is stopped instead.
func (c *Controller) SourceEnded(ctx context.Context) (delay time.Duration, restart bool) {
	if c.state != Listening {
		return 0, false
	}
	c.metrics.RecordEvent(ctx, recognizer.KindEnd.String())
	c.restarts++
	if c.policy.MaxRetries > 0 && c.restarts > c.policy.MaxRetries {
		c.log.Error().Int("attempts", c.restarts-1).Msg("recognizer keeps ending; giving up")
		if err := c.source.Stop(); err != nil {
			c.log.Warn().Err(err).Msg("stop recognizer")
		}
		c.finish(ctx)
		return 0, false
	}
	c.restartPending = true
	c.restartGen++
	delay = c.policy.Delay(c.restarts)
	c.log.Warn().Int("attempt", c.restarts).Dur("delay", delay).Msg("recognizer ended; restarting")
	return delay, true
}

// Restart restarts the source after an end notification. It does nothing
// unless a restart is pending, so a restart scheduled before Stop (or before
// a later Start) is dropped. A failed start counts as another end.
//
// Drivers that wait before calling Restart must tag the wait with
// RestartGen and drop it when the generation has moved on; otherwise a timer
// from an earlier session could cut a later backoff short.
func (c *Controller) Restart(ctx context.Context) (delay time.Duration, restart bool) {
	if c.state != Listening || !c.restartPending {
		return 0, false
	}
	c.restartPending = false
	if err := c.source.Start(ctx, c.rcfg); err != nil {
		c.log.Warn().Err(err).Int("attempt", c.restarts).Msg("restart recognizer")
		delay, restart = c.SourceEnded(ctx)
		if restart && delay < c.policy.FailureDelay {
			delay = c.policy.FailureDelay
		}
		return delay, restart
	}
	c.metrics.RecordRestart(ctx)
	return 0, false
}

func (c *Controller) record(ctx context.Context, n segment.Note) {
	c.metrics.RecordFlush(ctx, string(n.Trigger))
	c.log.Info().
		Str("trigger", string(n.Trigger)).
		Dur("elapsed", n.Elapsed).
		Str("note", n.Content).
		Msg("note saved")
	if err := c.notes.Prepend(n); err != nil {
		c.log.Error().Err(err).Str("note", n.Content).Msg("store note")
	}
}

// Events is the source's event channel. Whoever drives the controller
// receives from it and passes each event to HandleEvent.
func (c *Controller) Events() <-chan recognizer.Event { return c.source.Events() }

// RestartGen identifies the most recently requested restart. It changes
// every time HandleEvent, SourceEnded or Restart asks for a new restart.
func (c *Controller) RestartGen() int { return c.restartGen }

// State returns Idle or Listening.
func (c *Controller) State() State { return c.state }

// IsListening reports whether a session is active.
func (c *Controller) IsListening() bool { return c.state == Listening }

// LiveText is the in-progress text: the current segment plus the latest
// interim fragments.
func (c *Controller) LiveText() string { return c.st.Live }

// Segment returns the current segment.
func (c *Controller) Segment() segment.Segment { return c.st.Current }

// Elapsed is the time since the session started, or zero while idle.
func (c *Controller) Elapsed() time.Duration {
	if c.state != Listening {
		return 0
	}
	return c.clock.Now().Sub(c.st.SessionStart)
}

// Notes returns the formatted notes, newest first.
func (c *Controller) Notes() []string {
	notes, err := c.notes.Notes()
	if err != nil {
		c.log.Error().Err(err).Msg("load notes")
		return nil
	}
	out := make([]string, len(notes))
	for i, n := range notes {
		out[i] = n.Content
	}
	return out
}
