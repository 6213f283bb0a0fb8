// Package observe provides application-wide observability primitives for
// Callsight: OpenTelemetry metrics and a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Callsight metrics.
const meterName = "github.com/callsight/callsight"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// EventsProcessed counts inbound provider events. Use with attributes:
	//   attribute.String("category", ...), attribute.String("status", ...)
	// where status is one of "ok", "ignored", "error".
	EventsProcessed metric.Int64Counter

	// EventDuration tracks end-to-end processing latency of one inbound
	// event, commit included, broadcast excluded.
	EventDuration metric.Float64Histogram

	// BroadcastDeliveries counts frames delivered to dashboard connections.
	// Use with attribute.String("kind", "state"|"transcript").
	BroadcastDeliveries metric.Int64Counter

	// DeadConnections counts connections torn down after a failed or
	// timed-out send.
	DeadConnections metric.Int64Counter

	// RecordingArchives counts end-of-call recording archive attempts.
	// Use with attribute.String("status", "ok"|"fetch_error"|"store_error").
	RecordingArchives metric.Int64Counter

	// ActiveConnections tracks currently registered dashboard connections.
	ActiveConnections metric.Int64UpDownCounter

	// ActiveRelays tracks live audio relay sessions.
	ActiveRelays metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for event-ingestion latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.EventsProcessed, err = m.Int64Counter("callsight.events.processed",
		metric.WithDescription("Total inbound provider events by category and status."),
	); err != nil {
		return nil, err
	}
	if met.EventDuration, err = m.Float64Histogram("callsight.events.duration",
		metric.WithDescription("Processing latency of one inbound event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BroadcastDeliveries, err = m.Int64Counter("callsight.broadcast.deliveries",
		metric.WithDescription("Frames delivered to dashboard connections by kind."),
	); err != nil {
		return nil, err
	}
	if met.DeadConnections, err = m.Int64Counter("callsight.broadcast.dead_connections",
		metric.WithDescription("Connections torn down after a failed or timed-out send."),
	); err != nil {
		return nil, err
	}
	if met.RecordingArchives, err = m.Int64Counter("callsight.recordings.archives",
		metric.WithDescription("End-of-call recording archive attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("callsight.active_connections",
		metric.WithDescription("Currently registered dashboard connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveRelays, err = m.Int64UpDownCounter("callsight.active_relays",
		metric.WithDescription("Live audio relay sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
