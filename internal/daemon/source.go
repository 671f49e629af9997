package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwulff/callnotes/internal/recognizer"
)

// Source is a recognizer.Source backed by the daemon. It holds two
// connections: one subscribed to the event stream and one for commands.
// Both are dialed lazily on Start and redialed after the daemon goes away.
type Source struct {
	path       string
	log        zerolog.Logger
	cmdTimeout time.Duration

	events chan recognizer.Event
	done   chan struct{}

	mu        sync.Mutex
	cmd       *Client
	sub       *Client
	listening bool
	closed    bool
	wg        sync.WaitGroup
}

// NewSource returns a Source that dials socketPath on first Start.
func NewSource(socketPath string, log zerolog.Logger) *Source {
	return &Source{
		path:       socketPath,
		log:        log.With().Str("component", "daemon").Logger(),
		cmdTimeout: DefaultCommandTimeout,
		events:     make(chan recognizer.Event, 64),
		done:       make(chan struct{}),
	}
}

// Events returns the channel recognition events are delivered on.
func (s *Source) Events() <-chan recognizer.Event { return s.events }

// Start subscribes to the daemon's event stream if needed and asks it to
// begin recognizing with cfg.
func (s *Source) Start(ctx context.Context, cfg recognizer.Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return recognizer.ErrClosed
	}
	if err := s.ensureConnectedLocked(); err != nil {
		return err
	}

	resp, err := s.cmd.SendCommand(recognizer.StartCommand(cfg))
	if err != nil {
		s.dropLocked()
		return fmt.Errorf("send start: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("daemon refused start: %s", resp.Error)
	}
	if resp.Listening != nil && !*resp.Listening {
		return fmt.Errorf("daemon accepted start but is not listening (status %q)", resp.Status)
	}
	if resp.Language != "" && resp.Language != cfg.Language {
		s.log.Warn().Str("requested", cfg.Language).Str("lang", resp.Language).Msg("daemon recognizes a different language")
	}

	s.listening = true
	s.log.Debug().Str("lang", cfg.Language).Str("status", resp.Status).Msg("recognition started")
	return nil
}

// Stop asks the daemon to stop recognizing. Events that arrive afterwards
// are discarded.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listening {
		return nil
	}
	s.listening = false
	if s.cmd == nil {
		return nil
	}

	resp, err := s.cmd.SendCommand(recognizer.StopCommand())
	if err != nil {
		s.dropLocked()
		return fmt.Errorf("send stop: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("daemon refused stop: %s", resp.Error)
	}
	return nil
}

// Close releases both connections and closes the event channel.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.listening = false
	close(s.done)
	s.dropLocked()
	s.mu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

func (s *Source) ensureConnectedLocked() error {
	if s.sub == nil {
		sub, err := Connect(s.path)
		if err != nil {
			return err
		}
		sub.Timeout = s.cmdTimeout
		resp, err := sub.SendCommand(SubscribeCommand())
		if err != nil {
			sub.Close()
			return fmt.Errorf("subscribe: %w", err)
		}
		if !resp.OK {
			sub.Close()
			return fmt.Errorf("daemon refused subscribe: %s", resp.Error)
		}
		s.sub = sub
		s.wg.Add(1)
		go s.pump(sub)
	}
	if s.cmd == nil {
		cmd, err := Connect(s.path)
		if err != nil {
			return err
		}
		cmd.Timeout = s.cmdTimeout
		s.cmd = cmd
	}
	return nil
}

// dropLocked closes both connections. The pump notices and exits.
func (s *Source) dropLocked() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
	if s.cmd != nil {
		s.cmd.Close()
		s.cmd = nil
	}
}

func (s *Source) pump(sub *Client) {
	defer s.wg.Done()

	for {
		msg, err := sub.ReadMessage()
		if errors.Is(err, ErrMalformedMessage) {
			s.log.Warn().Err(err).Msg("skipping daemon message")
			continue
		}
		if err != nil {
			s.lost(sub, err)
			return
		}

		ev, ok, err := msg.ToEvent()
		if err != nil {
			s.log.Warn().Err(err).Msg("recognizer error")
			continue
		}
		if !ok {
			continue
		}

		s.mu.Lock()
		deliver := s.listening && s.sub == sub
		if deliver && ev.Kind == recognizer.KindEnd {
			s.listening = false
		}
		s.mu.Unlock()

		if deliver && !s.send(ev) {
			return
		}
	}
}

// lost handles a dead event connection. If recognition was active the
// session sees an end so it can restart, which redials.
func (s *Source) lost(sub *Client, err error) {
	s.mu.Lock()
	current := s.sub == sub
	wasListening := current && s.listening
	if current {
		s.listening = false
		s.dropLocked()
	}
	s.mu.Unlock()

	if !current {
		return
	}
	if !errors.Is(err, ErrConnectionClosed) {
		s.log.Warn().Err(err).Msg("daemon event stream failed")
	} else {
		s.log.Info().Msg("daemon hung up")
	}
	if wasListening {
		s.send(recognizer.Event{Kind: recognizer.KindEnd})
	}
}

func (s *Source) send(ev recognizer.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

var _ recognizer.Source = (*Source)(nil)
