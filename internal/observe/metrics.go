// Package observe provides the OpenTelemetry metric instruments callnotes
// records and the Prometheus exporter that makes them scrapeable.
//
// Components take a *Metrics explicitly; tests should build one with
// [NewMetrics] over an sdkmetric ManualReader instead of using
// [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all callnotes metrics.
const meterName = "github.com/jwulff/callnotes"

// Metrics holds the metric instruments. Safe for concurrent use.
type Metrics struct {
	// NotesFlushed counts notes produced, by attribute "trigger".
	NotesFlushed metric.Int64Counter

	// EventsIngested counts recognition events, by attribute "kind".
	EventsIngested metric.Int64Counter

	// SourceRestarts counts restarts of the recognition source after it
	// ended on its own.
	SourceRestarts metric.Int64Counter

	// Listening is 1 while a session is listening.
	Listening metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.NotesFlushed, err = m.Int64Counter("callnotes.notes.flushed",
		metric.WithDescription("Notes produced from finished segments."),
	); err != nil {
		return nil, err
	}
	if met.EventsIngested, err = m.Int64Counter("callnotes.events.ingested",
		metric.WithDescription("Recognition events processed by the segmenter."),
	); err != nil {
		return nil, err
	}
	if met.SourceRestarts, err = m.Int64Counter("callnotes.source.restarts",
		metric.WithDescription("Recognition source restarts after an unrequested end."),
	); err != nil {
		return nil, err
	}
	if met.Listening, err = m.Int64UpDownCounter("callnotes.listening",
		metric.WithDescription("Whether a listening session is active."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide instance built on the global meter
// provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordFlush increments NotesFlushed for trigger.
func (m *Metrics) RecordFlush(ctx context.Context, trigger string) {
	m.NotesFlushed.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordEvent increments EventsIngested for kind.
func (m *Metrics) RecordEvent(ctx context.Context, kind string) {
	m.EventsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRestart increments SourceRestarts.
func (m *Metrics) RecordRestart(ctx context.Context) {
	m.SourceRestarts.Add(ctx, 1)
}

// SetListening moves the Listening gauge by +1 or -1.
func (m *Metrics) SetListening(ctx context.Context, on bool) {
	if on {
		m.Listening.Add(ctx, 1)
	} else {
		m.Listening.Add(ctx, -1)
	}
}
