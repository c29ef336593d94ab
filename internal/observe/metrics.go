// Package observe provides observability primitives for Auricle:
// OpenTelemetry metrics, tracing, and HTTP middleware for the admin server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported via
// the Prometheus bridge set up by [InitProvider], so the admin /metrics
// endpoint keeps serving the usual scrape format. A package-level default
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

// meterName is the instrumentation scope name used for all Auricle metrics.
const meterName = "github.com/hearthware/auricle"

// Metrics holds all OpenTelemetry metric instruments for the assistant.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// RouteDuration tracks one routing pass (feature match, recovery,
	// LLM, tools) end to end.
	RouteDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// InteractionDuration tracks a full interaction from end of speech to
	// start of reply playback. This is the number the household actually
	// feels.
	InteractionDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Interactions counts completed interactions. Use with attributes:
	//   attribute.String("handler", ...), attribute.String("outcome", ...)
	Interactions metric.Int64Counter

	// WakeDetections counts wake-word activations. Use with attribute:
	//   attribute.String("model", ...)
	WakeDetections metric.Int64Counter

	// BargeIns counts interrupted playbacks. Use with attribute:
	//   attribute.String("policy", ...)
	BargeIns metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveInteractions tracks interactions currently in flight. The
	// pipeline serves one at a time, so this reads as a busy flag.
	ActiveInteractions metric.Int64UpDownCounter

	// HUDClients tracks connected HUD websocket clients.
	HUDClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request processing time. Use
	// with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("auricle.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RouteDuration, err = m.Float64Histogram("auricle.route.duration",
		metric.WithDescription("Latency of one routing pass."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("auricle.llm.duration",
		metric.WithDescription("Latency of LLM completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("auricle.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InteractionDuration, err = m.Float64Histogram("auricle.interaction.duration",
		metric.WithDescription("End of speech to start of reply playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("auricle.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Interactions, err = m.Int64Counter("auricle.interactions",
		metric.WithDescription("Total interactions by handler and outcome."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("auricle.wake.detections",
		metric.WithDescription("Total wake-word activations by model."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("auricle.barge_ins",
		metric.WithDescription("Total interrupted playbacks by policy."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("auricle.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("auricle.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("auricle.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveInteractions, err = m.Int64UpDownCounter("auricle.active_interactions",
		metric.WithDescription("Interactions currently in flight."),
	); err != nil {
		return nil, err
	}
	if met.HUDClients, err = m.Int64UpDownCounter("auricle.hud.clients",
		metric.WithDescription("Connected HUD websocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("auricle.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
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

// RecordInteraction records a completed interaction with the standard
// attribute set. handler names what answered (grocery, reminder, llm, ...);
// outcome is ok, error, no_speech, or timeout.
func (m *Metrics) RecordInteraction(ctx context.Context, handler, outcome string) {
	m.Interactions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("handler", handler),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordWake records a wake-word activation for the given model.
func (m *Metrics) RecordWake(ctx context.Context, model string) {
	m.WakeDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("model", model)),
	)
}

// RecordBargeIn records an interrupted playback under the given policy.
func (m *Metrics) RecordBargeIn(ctx context.Context, policy string) {
	m.BargeIns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("policy", policy)),
	)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
