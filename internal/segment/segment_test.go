package segment

import (
	"testing"
	"time"

	"github.com/jwulff/callnotes/internal/recognizer"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

func final(text string) recognizer.Result {
	return recognizer.Result{Entries: []recognizer.Entry{{Transcript: text, IsFinal: true}}}
}

func interim(text string) recognizer.Result {
	return recognizer.Result{Entries: []recognizer.Entry{{Transcript: text}}}
}

func TestStamp(t *testing.T) {
	tests := []struct {
		secs int
		want string
	}{
		{0, "[00:00]"},
		{9, "[00:09]"},
		{65, "[01:05]"},
		{599, "[09:59]"},
		{3661, "[61:01]"},
		{6000, "[100:00]"},
	}
	for _, tt := range tests {
		if got := Stamp(time.Duration(tt.secs) * time.Second); got != tt.want {
			t.Errorf("Stamp(%ds) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

func TestStampTruncatesPartialSeconds(t *testing.T) {
	if got := Stamp(65*time.Second + 999*time.Millisecond); got != "[01:05]" {
		t.Errorf("Stamp = %q, want [01:05]", got)
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	st := NewState(t0)
	st.Current = Segment{Text: "hello "}

	st, n, ok := Flush(st, at(65_000), TriggerStop)
	if !ok {
		t.Fatal("first flush should produce a note")
	}
	if n.Content != "[01:05] hello" {
		t.Errorf("content = %q, want %q", n.Content, "[01:05] hello")
	}
	if !n.CreatedAt.Equal(at(65_000)) {
		t.Errorf("createdAt = %v", n.CreatedAt)
	}
	if n.Trigger != TriggerStop {
		t.Errorf("trigger = %q", n.Trigger)
	}
	if !st.Current.Saved {
		t.Error("segment should be marked saved")
	}

	if _, _, ok := Flush(st, at(66_000), TriggerStop); ok {
		t.Error("second flush of the same segment must be a no-op")
	}
}

func TestFlushSkipsBlankText(t *testing.T) {
	for _, text := range []string{"", " ", "   \t "} {
		st := NewState(t0)
		st.Current = Segment{Text: text}
		if _, _, ok := Flush(st, at(1000), TriggerStop); ok {
			t.Errorf("Flush(%q) produced a note", text)
		}
	}
}

func TestFlushUsesFlushTimeNotSegmentStart(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	st, _ = r.Ingest(st, final("early"), at(100))

	_, n, ok := Flush(st, at(125_000), TriggerStop)
	if !ok {
		t.Fatal("expected a note")
	}
	if n.Content != "[02:05] early" {
		t.Errorf("content = %q", n.Content)
	}
}

func TestIngestScenario(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)

	st, notes := r.Ingest(st, final("hello"), at(200))
	if len(notes) != 0 {
		t.Fatalf("notes = %v, want none", notes)
	}
	if st.Live != "hello " {
		t.Errorf("live = %q, want %q", st.Live, "hello ")
	}

	st, notes = r.Ingest(st, final("world"), at(2200))
	if len(notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(notes))
	}
	// The marker comes from the flush instant (2200ms), not the segment start.
	if notes[0].Content != "[00:02] hello" {
		t.Errorf("content = %q", notes[0].Content)
	}
	if notes[0].Trigger != TriggerGap {
		t.Errorf("trigger = %q, want gap", notes[0].Trigger)
	}
	if st.Current.Text != "world " || st.Current.Saved {
		t.Errorf("current = %+v, want fresh segment with %q", st.Current, "world ")
	}
}

func TestIngestScenarioAtSessionStartMarker(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	st, _ = r.Ingest(st, final("hello"), at(200))
	// A flush triggered before a full second has elapsed carries [00:00].
	_, n, ok := Flush(st, at(900), TriggerStop)
	if !ok || n.Content != "[00:00] hello" {
		t.Errorf("note = %q, %v; want [00:00] hello", n.Content, ok)
	}
}

func TestIngestContinuousSpeechStaysInOneSegment(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	var all []Note

	steps := []struct {
		ms  int
		res recognizer.Result
	}{
		{100, interim("he")},
		{600, interim("hello")},
		{1100, final("hello")},
		{2000, interim("wor")},
		{3000, final("world")},
	}
	for _, s := range steps {
		var notes []Note
		st, notes = r.Ingest(st, s.res, at(s.ms))
		all = append(all, notes...)
	}
	if len(all) != 0 {
		t.Fatalf("notes = %v, want none", all)
	}
	if st.Current.Text != "hello world " {
		t.Errorf("text = %q", st.Current.Text)
	}
}

func TestIngestInterimNeverSaves(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	for i := 1; i <= 50; i++ {
		var notes []Note
		st, notes = r.Ingest(st, interim("partial words"), at(i*1400))
		if len(notes) != 0 {
			t.Fatalf("interim event %d produced %v", i, notes)
		}
		if _, n, ok := r.Check(st, at(i*1400+1000)); ok {
			t.Fatalf("safety net saved %q from interim-only input", n.Content)
		}
	}
	if st.Current.Text != "" {
		t.Errorf("interim text leaked into segment: %q", st.Current.Text)
	}
	if st.Live != "partial words" {
		t.Errorf("live = %q", st.Live)
	}
}

func TestIngestInterimKeepsPauseTimerAlive(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	st, _ = r.Ingest(st, final("one"), at(0))
	st, _ = r.Ingest(st, interim("tw"), at(1400))
	st, notes := r.Ingest(st, final("two"), at(2800))
	if len(notes) != 0 {
		t.Fatalf("notes = %v, want none", notes)
	}
	if st.Current.Text != "one two " {
		t.Errorf("text = %q", st.Current.Text)
	}
}

func TestIngestGapExactlyAtThresholdDoesNotSplit(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	st, _ = r.Ingest(st, final("a"), at(0))
	st, notes := r.Ingest(st, final("b"), at(1500))
	if len(notes) != 0 {
		t.Fatalf("gap of exactly 1500ms split the segment: %v", notes)
	}
	if st.Current.Text != "a b " {
		t.Errorf("text = %q", st.Current.Text)
	}
}

func TestIngestOnlyProcessesFreshEntries(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	st, _ = r.Ingest(st, final("first"), at(100))

	res := recognizer.Result{
		Index: 1,
		Entries: []recognizer.Entry{
			{Transcript: "first", IsFinal: true},
			{Transcript: "second", IsFinal: true},
			{Transcript: " third?"},
		},
	}
	st, _ = r.Ingest(st, res, at(500))
	if st.Current.Text != "first second " {
		t.Errorf("text = %q", st.Current.Text)
	}
	if st.Live != "first second  third?" {
		t.Errorf("live = %q", st.Live)
	}
}

func TestIngestConcatenatesFinalsInOrder(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	res := recognizer.Result{Entries: []recognizer.Entry{
		{Transcript: "a", IsFinal: true},
		{Transcript: "x"},
		{Transcript: "b", IsFinal: true},
		{Transcript: "y"},
	}}
	st, _ = r.Ingest(st, res, at(10))
	if st.Current.Text != "ab " {
		t.Errorf("text = %q, want %q", st.Current.Text, "ab ")
	}
	if st.Live != "ab xy" {
		t.Errorf("live = %q, want %q", st.Live, "ab xy")
	}
}

func TestIngestIgnoresPunctuation(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	st, _ = r.Ingest(st, final("Done."), at(0))
	st, notes := r.Ingest(st, final("Next!"), at(300))
	if len(notes) != 0 {
		t.Fatalf("sentence punctuation split the segment: %v", notes)
	}
	if st.Current.Text != "Done. Next! " {
		t.Errorf("text = %q", st.Current.Text)
	}
}

func TestIngestAfterSafetyNetStartsNewSegment(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	st, _ = r.Ingest(st, final("hello"), at(0))

	st, n, ok := r.Check(st, at(2000))
	if !ok {
		t.Fatal("safety net should flush")
	}
	if n.Trigger != TriggerSafetyNet {
		t.Errorf("trigger = %q", n.Trigger)
	}

	st, notes := r.Ingest(st, final("again"), at(2100))
	if len(notes) != 0 {
		t.Fatalf("saved segment flushed twice: %v", notes)
	}
	if st.Current.Text != "again " || st.Current.Saved {
		t.Errorf("current = %+v", st.Current)
	}
}

func TestCheckBoundedLatency(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	st, _ = r.Ingest(st, final("pending"), at(0))

	// Ticks every 1000ms starting at an arbitrary phase.
	for tick := 700; tick <= 5000; tick += int(DefaultTickInterval / time.Millisecond) {
		var ok bool
		var n Note
		st, n, ok = r.Check(st, at(tick))
		if !ok {
			continue
		}
		if tick <= 1500 || tick > 2500 {
			t.Fatalf("flushed at %dms, want within (1500, 2500]", tick)
		}
		if n.Content != "[00:01] pending" {
			t.Errorf("content = %q", n.Content)
		}
		return
	}
	t.Fatal("safety net never flushed")
}

func TestCheckDoesNothingWithinThreshold(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	st, _ = r.Ingest(st, final("x"), at(0))
	if _, _, ok := r.Check(st, at(1500)); ok {
		t.Error("check at exactly the threshold must not flush")
	}
}

func TestGapSplitProducesTwoNotes(t *testing.T) {
	r := DefaultRules()
	st := NewState(t0)
	var notes []Note

	st, got := r.Ingest(st, final("one"), at(0))
	notes = append(notes, got...)
	st, got = r.Ingest(st, final("two"), at(1600))
	notes = append(notes, got...)
	_, n, ok := Flush(st, at(1700), TriggerStop)
	if ok {
		notes = append(notes, n)
	}

	if len(notes) != 2 {
		t.Fatalf("notes = %d, want 2", len(notes))
	}
	if notes[0].Content != "[00:01] one" || notes[1].Content != "[00:01] two" {
		t.Errorf("notes = %q, %q", notes[0].Content, notes[1].Content)
	}
}

func TestCustomSilence(t *testing.T) {
	r := Rules{Silence: 500 * time.Millisecond}
	st := NewState(t0)
	st, _ = r.Ingest(st, final("a"), at(0))
	_, notes := r.Ingest(st, final("b"), at(600))
	if len(notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(notes))
	}
}
