// Package segment holds the segmentation and save rules that turn a stream
// of recognition results into timestamped notes.
//
// Everything here is a pure function of (State, input, now): nothing reads a
// clock, starts a timer or touches a store. The session controller owns the
// single State value and applies these functions one at a time.
package segment

import (
	"fmt"
	"strings"
	"time"

	"github.com/jwulff/callnotes/internal/recognizer"
)

// Default timing rules.
const (
	DefaultSilence      = 1500 * time.Millisecond
	DefaultTickInterval = 1000 * time.Millisecond
)

// Trigger names what caused a flush.
type Trigger string

const (
	TriggerGap       Trigger = "gap"
	TriggerSafetyNet Trigger = "safety_net"
	TriggerStop      Trigger = "stop"
)

// Segment is the current in-progress unit of speech. Text is the
// concatenation of finalized fragments, each followed by a single space.
type Segment struct {
	Text  string
	Saved bool
}

// Pending reports whether the segment holds text that has not produced a
// Note yet.
func (s Segment) Pending() bool {
	return !s.Saved && strings.TrimSpace(s.Text) != ""
}

// Append returns a copy of s with final appended and marked unsaved.
func (s Segment) Append(final string) Segment {
	return Segment{Text: s.Text + final + " "}
}

// Note is a finalized, immutable record of one segment.
type Note struct {
	Content   string
	CreatedAt time.Time
	Elapsed   time.Duration
	Trigger   Trigger
}

func (n Note) String() string { return n.Content }

// State is everything the segmenter needs for one listening session.
type State struct {
	SessionStart time.Time
	LastSpeech   time.Time
	Current      Segment
	Live         string
}

// NewState starts a session at now with an empty segment.
func NewState(now time.Time) State {
	return State{SessionStart: now, LastSpeech: now}
}

// Rules are the timing parameters of the segmenter.
type Rules struct {
	// Silence is the gap after which the next event starts a new segment.
	Silence time.Duration
}

// DefaultRules returns the rules with the standard 1500ms silence threshold.
func DefaultRules() Rules {
	return Rules{Silence: DefaultSilence}
}

// Ingest applies one recognition result at now. It returns the new state and
// the note produced by closing the previous segment, if any.
func (r Rules) Ingest(st State, res recognizer.Result, now time.Time) (State, []Note) {
	var notes []Note

	// The boundary check runs before the new text is appended so that speech
	// following a long silence never joins the old segment.
	gap := now.Sub(st.LastSpeech)
	if gap > r.Silence || st.Current.Text == "" || st.Current.Saved {
		var n Note
		var ok bool
		if st, n, ok = Flush(st, now, TriggerGap); ok {
			notes = append(notes, n)
		}
		st.Current = Segment{}
	}

	final, interim := res.Split()
	if final != "" {
		st.Current = st.Current.Append(final)
	}
	st.Live = st.Current.Text + interim
	st.LastSpeech = now
	return st, notes
}

// Check is the safety-net test run on every tick. It flushes a pending
// segment once the silence threshold has passed with no new event.
func (r Rules) Check(st State, now time.Time) (State, Note, bool) {
	if now.Sub(st.LastSpeech) <= r.Silence || !st.Current.Pending() {
		return st, Note{}, false
	}
	return Flush(st, now, TriggerSafetyNet)
}

// Flush converts the current segment into a Note. It is a no-op when the
// segment is empty, whitespace-only or already saved, so the same segment
// may be offered any number of times and is saved at most once.
func Flush(st State, now time.Time, trigger Trigger) (State, Note, bool) {
	if !st.Current.Pending() {
		return st, Note{}, false
	}
	elapsed := now.Sub(st.SessionStart)
	if elapsed < 0 {
		elapsed = 0
	}
	n := Note{
		Content:   Stamp(elapsed) + " " + strings.TrimSpace(st.Current.Text),
		CreatedAt: now,
		Elapsed:   elapsed,
		Trigger:   trigger,
	}
	st.Current.Saved = true
	return st, n, true
}

// Stamp formats d as "[MM:SS]" using whole elapsed seconds. Minutes are not
// wrapped into hours.
func Stamp(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("[%02d:%02d]", secs/60, secs%60)
}
