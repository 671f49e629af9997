package session

import (
	"context"
	"errors"
	"time"

	"github.com/jwulff/callnotes/internal/segment"
)

// ErrLoopClosed is returned by Do once Run has returned.
var ErrLoopClosed = errors.New("session: loop closed")

// Loop drives a Controller from a single goroutine without a UI. It selects
// over source events, the safety-net ticker, scheduled restarts and commands
// submitted with Do, running each to completion before taking the next.
type Loop struct {
	ctrl     *Controller
	interval time.Duration

	cmds     chan func(context.Context, *Controller)
	restarts chan int
	done     chan struct{}
}

// NewLoop returns a Loop ticking every interval while listening.
func NewLoop(ctrl *Controller, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = segment.DefaultTickInterval
	}
	return &Loop{
		ctrl:     ctrl,
		interval: interval,
		cmds:     make(chan func(context.Context, *Controller)),
		restarts: make(chan int),
		done:     make(chan struct{}),
	}
}

// Run processes inputs until ctx is cancelled or the source's event channel
// is closed. An active session is stopped, with its final flush, on return.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	var ticker *time.Ticker
	var tickC <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		if l.ctrl.IsListening() {
			_ = l.ctrl.Stop()
		}
	}()

	events := l.ctrl.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if delay, restart := l.ctrl.HandleEvent(ctx, ev); restart {
				l.scheduleRestart(delay, l.ctrl.RestartGen())
			}

		case <-tickC:
			l.ctrl.Tick(ctx)

		case gen := <-l.restarts:
			if gen != l.ctrl.RestartGen() {
				break
			}
			if delay, restart := l.ctrl.Restart(ctx); restart {
				l.scheduleRestart(delay, l.ctrl.RestartGen())
			}

		case fn := <-l.cmds:
			fn(ctx, l.ctrl)
		}

		// The ticker only runs while listening; stopping it is how Stop
		// cancels the pending safety-net check.
		switch {
		case l.ctrl.IsListening() && ticker == nil:
			ticker = time.NewTicker(l.interval)
			tickC = ticker.C
		case !l.ctrl.IsListening() && ticker != nil:
			ticker.Stop()
			ticker, tickC = nil, nil
		}
	}
}

// scheduleRestart delivers restart generation gen to the loop after delay.
// Even an immediate restart goes through the channel so that a source
// failing in a tight loop cannot starve ticks and commands.
func (l *Loop) scheduleRestart(delay time.Duration, gen int) {
	signal := func() {
		select {
		case l.restarts <- gen:
		case <-l.done:
		}
	}
	if delay <= 0 {
		go signal()
		return
	}
	time.AfterFunc(delay, signal)
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func(context.Context, *Controller)) error {
	finished := make(chan struct{})
	wrapped := func(ctx context.Context, c *Controller) {
		defer close(finished)
		fn(ctx, c)
	}
	select {
	case l.cmds <- wrapped:
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Snapshot is a copy of the controller's read side.
type Snapshot struct {
	Listening bool
	LiveText  string
	Notes     []string
	Elapsed   time.Duration
}

// Snapshot reads the controller state on the loop goroutine.
func (l *Loop) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := l.Do(ctx, func(_ context.Context, c *Controller) {
		s = Snapshot{
			Listening: c.IsListening(),
			LiveText:  c.LiveText(),
			Notes:     c.Notes(),
			Elapsed:   c.Elapsed(),
		}
	})
	return s, err
}

// Toggle flips the listening state on the loop goroutine.
func (l *Loop) Toggle(ctx context.Context) (listening bool, err error) {
	doErr := l.Do(ctx, func(ctx context.Context, c *Controller) {
		err = c.Toggle(ctx)
		listening = c.IsListening()
	})
	if doErr != nil {
		return false, doErr
	}
	return listening, err
}
