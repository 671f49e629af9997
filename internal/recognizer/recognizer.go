// Package recognizer defines the contract between callnotes and an external
// speech recognition source.
//
// A Source is started and stopped by the session controller and delivers an
// ordered stream of Events on a single channel: result batches carrying
// interim and final fragments, and end notifications when the source stops
// producing results on its own (for example after a provider-side timeout).
// Keeping both kinds on one channel guarantees that a result can never
// overtake the end notification that followed it.
package recognizer

import (
	"context"
	"errors"
	"strings"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("recognizer: source closed")

// Entry is one recognized fragment within a result batch.
type Entry struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"isFinal"`
}

// Result is an ordered batch of entries. Index is the position of the first
// entry that is new since the previous Result; earlier entries were already
// delivered and must not be processed again.
type Result struct {
	Index   int
	Entries []Entry
}

// Fresh returns the entries from Index onward, clamping an out-of-range
// Index to the bounds of Entries.
func (r Result) Fresh() []Entry {
	i := r.Index
	if i < 0 {
		i = 0
	}
	if i > len(r.Entries) {
		i = len(r.Entries)
	}
	return r.Entries[i:]
}

// Split concatenates the fresh entries into final and interim text,
// preserving entry order within each.
func (r Result) Split() (final, interim string) {
	var fb, ib strings.Builder
	for _, e := range r.Fresh() {
		if e.IsFinal {
			fb.WriteString(e.Transcript)
		} else {
			ib.WriteString(e.Transcript)
		}
	}
	return fb.String(), ib.String()
}

// Kind distinguishes the events a Source emits.
type Kind int

const (
	// KindResult carries a Result.
	KindResult Kind = iota
	// KindEnd reports that the source stopped producing results.
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is a single item on a Source's event channel.
type Event struct {
	Kind   Kind
	Result Result
}

// Config is passed to Source.Start.
type Config struct {
	// Language is the BCP-47 tag the recognizer should listen for.
	Language string
	// Continuous keeps the recognizer running across utterances.
	Continuous bool
	// InterimResults enables non-final fragments.
	InterimResults bool
}

// DefaultConfig mirrors how the browser recognizer was originally set up.
func DefaultConfig() Config {
	return Config{
		Language:       "ja-JP",
		Continuous:     true,
		InterimResults: true,
	}
}

// Source is an external speech recognizer.
//
// Start may be called again after an end notification or after Stop; Events
// returns the same channel for the whole lifetime of the Source. Close
// releases all resources and closes the Events channel.
type Source interface {
	Start(ctx context.Context, cfg Config) error
	Stop() error
	Events() <-chan Event
	Close() error
}
