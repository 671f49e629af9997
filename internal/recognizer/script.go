package recognizer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Step is one line of a replay script: a wire Message delivered After the
// previous step.
type Step struct {
	After string `json:"after,omitempty"`
	Message

	delay time.Duration
}

// ScriptSource replays a recorded sequence of recognizer messages. It stands
// in for a live recognizer in demos and tests: an "end" step emits an end
// notification and pauses the replay until the next Start, and running out
// of steps leaves the source silent, the way a stalled recognizer would.
type ScriptSource struct {
	steps  []Step
	events chan Event

	mu      sync.Mutex
	pos     int
	stop    chan struct{}
	wg      sync.WaitGroup
	closed  bool
	running bool
}

// LoadScript reads a replay script from path.
func LoadScript(path string) (*ScriptSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return ParseScript(f)
}

// ParseScript reads NDJSON steps from r. Blank lines are skipped.
func ParseScript(r io.Reader) (*ScriptSource, error) {
	var steps []Step
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		var st Step
		if err := json.Unmarshal(data, &st); err != nil {
			return nil, fmt.Errorf("script line %d: %w", line, err)
		}
		if st.After != "" {
			d, err := time.ParseDuration(st.After)
			if err != nil {
				return nil, fmt.Errorf("script line %d: after: %w", line, err)
			}
			st.delay = d
		}
		if st.Event != "result" && st.Event != "end" {
			return nil, fmt.Errorf("script line %d: unknown event %q", line, st.Event)
		}
		steps = append(steps, st)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return NewScriptSource(steps), nil
}

// NewScriptSource replays steps. Step delays must already be parsed, so
// callers building steps in code should use StepAfter.
func NewScriptSource(steps []Step) *ScriptSource {
	return &ScriptSource{
		steps:  steps,
		events: make(chan Event, 16),
	}
}

// StepAfter builds a step delivering m after d.
func StepAfter(d time.Duration, m Message) Step {
	return Step{After: d.String(), Message: m, delay: d}
}

// Start resumes the replay from where it last stopped. A replay that is
// still running is stopped first.
func (s *ScriptSource) Start(ctx context.Context, _ Config) error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.running = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.replay(ctx, s.stop)
	return nil
}

func (s *ScriptSource) replay(ctx context.Context, stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if s.pos >= len(s.steps) {
			s.mu.Unlock()
			return
		}
		st := s.steps[s.pos]
		s.mu.Unlock()

		timer := time.NewTimer(st.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ev, ok, _ := st.Message.ToEvent()

		s.mu.Lock()
		s.pos++
		s.mu.Unlock()

		if ok {
			select {
			case s.events <- ev:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
		if ev.Kind == KindEnd {
			return
		}
	}
}

// Stop pauses the replay. No events are delivered until the next Start.
func (s *ScriptSource) Stop() error {
	s.mu.Lock()
	if s.running {
		close(s.stop)
		s.running = false
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// Events returns the event channel.
func (s *ScriptSource) Events() <-chan Event { return s.events }

// Close stops the replay and closes the event channel.
func (s *ScriptSource) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Remaining returns the number of steps not yet replayed.
func (s *ScriptSource) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps) - s.pos
}

var _ Source = (*ScriptSource)(nil)
