package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jwulff/callnotes/internal/db"
	"github.com/jwulff/callnotes/internal/observe"
	"github.com/jwulff/callnotes/internal/recognizer"
	"github.com/jwulff/callnotes/internal/recognizer/mock"
	"github.com/jwulff/callnotes/internal/segment"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric/noop"
)

// startLoop runs a Loop over a mock source with a short silence threshold
// and tick interval on the real clock.
func startLoop(t *testing.T, policy RestartPolicy) (*Loop, *mock.Source, *db.MemoryStore, func() error) {
	t.Helper()
	met, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	src := mock.New()
	notes := db.NewMemoryStore()
	ctrl := New(Options{
		Source:  src,
		Notes:   notes,
		Rules:   segment.Rules{Silence: 60 * time.Millisecond},
		Restart: policy,
		Logger:  zerolog.Nop(),
		Metrics: met,
	})
	loop := NewLoop(ctrl, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- loop.Run(ctx) }()
	stop := sync.OnceValue(func() error {
		cancel()
		return <-errc
	})
	t.Cleanup(func() {
		stop()
		src.Close()
	})
	return loop, src, notes, stop
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoopSafetyNetFlushesWithoutFurtherEvents(t *testing.T) {
	loop, src, _, _ := startLoop(t, RestartPolicy{})
	ctx := context.Background()

	listening, err := loop.Toggle(ctx)
	if err != nil || !listening {
		t.Fatalf("Toggle: listening=%v err=%v", listening, err)
	}
	src.EmitResult(0, recognizer.Entry{Transcript: "quiet after this", IsFinal: true})

	waitFor(t, "safety-net note", func() bool {
		s, err := loop.Snapshot(ctx)
		return err == nil && len(s.Notes) == 1
	})
	s, _ := loop.Snapshot(ctx)
	if s.Notes[0] != "[00:00] quiet after this" {
		t.Errorf("note = %q", s.Notes[0])
	}
	if !s.Listening {
		t.Error("safety net must not stop the session")
	}
}

func TestLoopRestartsSourceOnEnd(t *testing.T) {
	loop, src, _, _ := startLoop(t, RestartPolicy{})
	ctx := context.Background()

	loop.Toggle(ctx)
	src.EmitResult(0, recognizer.Entry{Transcript: "partial"})
	src.EmitEnd()

	waitFor(t, "source restart", func() bool { return src.StartCount() == 2 })
	s, err := loop.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Listening || s.LiveText != "partial" {
		t.Errorf("snapshot after restart = %+v", s)
	}
}

func TestLoopRetriesFailingSourceWithoutStarving(t *testing.T) {
	loop, src, _, _ := startLoop(t, RestartPolicy{})
	ctx := context.Background()

	loop.Toggle(ctx)
	src.SetStartErr(errors.New("offline"))
	src.EmitEnd()

	waitFor(t, "repeated restart attempts", func() bool { return src.StartCount() > 5 })

	// Commands still get through while the source keeps failing.
	listening, err := loop.Toggle(ctx)
	if err != nil || listening {
		t.Fatalf("stop during retry storm: listening=%v err=%v", listening, err)
	}
	n := src.StartCount()
	time.Sleep(50 * time.Millisecond)
	if src.StartCount() != n {
		t.Errorf("restarts continued after stop: %d -> %d", n, src.StartCount())
	}
}

func TestLoopCancelFlushesActiveSession(t *testing.T) {
	loop, src, notes, stop := startLoop(t, RestartPolicy{})
	ctx := context.Background()

	loop.Toggle(ctx)
	src.EmitResult(0, recognizer.Entry{Transcript: "goodbye", IsFinal: true})
	waitFor(t, "live text", func() bool {
		s, err := loop.Snapshot(ctx)
		return err == nil && s.LiveText == "goodbye "
	})

	if err := stop(); !errors.Is(err, context.Canceled) {
		t.Errorf("Run err = %v", err)
	}

	got, _ := notes.Notes()
	if len(got) != 1 || got[0].Content != "[00:00] goodbye" {
		t.Errorf("notes = %+v", got)
	}
	if _, err := loop.Snapshot(ctx); !errors.Is(err, ErrLoopClosed) {
		t.Errorf("Snapshot after Run = %v, want ErrLoopClosed", err)
	}
}

func TestLoopDropsRestartFromEarlierSession(t *testing.T) {
	loop, src, _, _ := startLoop(t, RestartPolicy{Backoff: time.Hour})
	ctx := context.Background()

	restartGen := func() int {
		var g int
		if err := loop.Do(ctx, func(_ context.Context, c *Controller) { g = c.RestartGen() }); err != nil {
			t.Fatal(err)
		}
		return g
	}

	loop.Toggle(ctx)
	src.EmitEnd()
	waitFor(t, "first restart request", func() bool { return restartGen() == 1 })

	loop.Toggle(ctx)
	loop.Toggle(ctx)
	src.EmitEnd()
	waitFor(t, "second restart request", func() bool { return restartGen() == 2 })

	loop.restarts <- 1
	restartGen()
	if src.StartCount() != 2 {
		t.Errorf("source starts = %d after a stale restart, want 2", src.StartCount())
	}

	loop.restarts <- 2
	restartGen()
	if src.StartCount() != 3 {
		t.Errorf("source starts = %d, want 3", src.StartCount())
	}
}
