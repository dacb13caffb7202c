// Package observe provides application-wide observability primitives for
// Lugha: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Lugha metrics.
const meterName = "github.com/MrWong99/lugha"

// Capture frame outcomes recorded by [Metrics.RecordCaptureFrame].
const (
	FrameSent    = "sent"
	FrameDropped = "dropped"
	FrameFailed  = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Sessions ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionOutcomes counts ended sessions. Use with attribute:
	//   attribute.String("outcome", "stopped"|"error")
	SessionOutcomes metric.Int64Counter

	// ConnectDuration tracks how long a session spends in CONNECTING.
	ConnectDuration metric.Float64Histogram

	// --- Capture ---

	// CaptureFrames counts microphone blocks by status (sent, dropped, failed).
	CaptureFrames metric.Int64Counter

	// --- Playback ---

	// PlaybackScheduled counts audio buffers handed to the output device.
	PlaybackScheduled metric.Int64Counter

	// PlaybackStopped counts pending buffers cut off by an interruption.
	PlaybackStopped metric.Int64Counter

	// Interruptions counts barge-in signals received from the transport.
	Interruptions metric.Int64Counter

	// SchedulingDelay tracks the gap between a buffer's arrival and its
	// scheduled start, i.e. how much audio was queued ahead of it.
	SchedulingDelay metric.Float64Histogram

	// DecodeErrors counts inbound audio chunks dropped as undecodable.
	DecodeErrors metric.Int64Counter

	// --- Transcripts ---

	// TranscriptFragments counts transcript fragments. Use with attribute:
	//   attribute.String("role", "user"|"model")
	TranscriptFragments metric.Int64Counter

	// TurnsFinalized counts turns closed by a turn-complete signal.
	TurnsFinalized metric.Int64Counter

	// --- Errors ---

	// TransportErrors counts fatal transport failures. Use with attribute:
	//   attribute.String("provider", ...)
	TransportErrors metric.Int64Counter

	// ArchiveErrors counts failed transcript archive writes.
	ArchiveErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Sessions.
	if met.ActiveSessions, err = m.Int64UpDownCounter("lugha.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("lugha.session.outcomes",
		metric.WithDescription("Total ended sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("lugha.session.connect.duration",
		metric.WithDescription("Time from start until the transport is open."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Capture.
	if met.CaptureFrames, err = m.Int64Counter("lugha.capture.frames",
		metric.WithDescription("Total microphone blocks by status."),
	); err != nil {
		return nil, err
	}

	// Playback.
	if met.PlaybackScheduled, err = m.Int64Counter("lugha.playback.scheduled",
		metric.WithDescription("Total audio buffers scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStopped, err = m.Int64Counter("lugha.playback.stopped",
		metric.WithDescription("Total pending audio buffers stopped by interruptions."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("lugha.playback.interruptions",
		metric.WithDescription("Total barge-in interruptions."),
	); err != nil {
		return nil, err
	}
	if met.SchedulingDelay, err = m.Float64Histogram("lugha.playback.scheduling_delay",
		metric.WithDescription("Delay between a buffer's arrival and its scheduled start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("lugha.playback.decode_errors",
		metric.WithDescription("Total inbound audio chunks dropped as undecodable."),
	); err != nil {
		return nil, err
	}

	// Transcripts.
	if met.TranscriptFragments, err = m.Int64Counter("lugha.transcript.fragments",
		metric.WithDescription("Total transcript fragments by role."),
	); err != nil {
		return nil, err
	}
	if met.TurnsFinalized, err = m.Int64Counter("lugha.transcript.turns_finalized",
		metric.WithDescription("Total transcript turns finalized."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TransportErrors, err = m.Int64Counter("lugha.transport.errors",
		metric.WithDescription("Total fatal transport errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.ArchiveErrors, err = m.Int64Counter("lugha.archive.errors",
		metric.WithDescription("Total failed transcript archive writes."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lugha.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCaptureFrame counts one microphone block with the given status.
func (m *Metrics) RecordCaptureFrame(ctx context.Context, status string) {
	m.CaptureFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTranscriptFragment counts one transcript fragment for role.
func (m *Metrics) RecordTranscriptFragment(ctx context.Context, role string) {
	m.TranscriptFragments.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordSessionOutcome counts an ended session.
func (m *Metrics) RecordSessionOutcome(ctx context.Context, outcome string) {
	m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordTransportError counts a fatal transport failure for provider.
func (m *Metrics) RecordTransportError(ctx context.Context, provider string) {
	m.TransportErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
