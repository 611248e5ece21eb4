// Package observe provides OpenTelemetry instrumentation for the call
// handler: per-stage latency histograms, provider/tool counters, active-call
// gauges, and TTS phrase-cache hit/miss counters.
package observe

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every instrument recorded during a call's lifetime.
type Metrics struct {
	STTDuration           metric.Float64Histogram
	LLMDuration           metric.Float64Histogram
	TTSDuration           metric.Float64Histogram
	ToolExecutionDuration metric.Float64Histogram

	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter
	ToolCalls        metric.Int64Counter

	TTSCacheHits   metric.Int64Counter
	TTSCacheMisses metric.Int64Counter

	ActiveCalls metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics registers every instrument against mp's meter named
// "voxline/callhandler".
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("voxline/callhandler")
	m := &Metrics{}

	var err error
	record := func(name string, e error) {
		if e != nil {
			err = fmt.Errorf("observe: create %s: %w", name, e)
		}
	}

	var e error
	m.STTDuration, e = meter.Float64Histogram(
		"voxline.stt.duration",
		metric.WithDescription("Latency of STT partial/final transcript delivery, in seconds"),
		metric.WithUnit("s"),
	)
	record("voxline.stt.duration", e)

	m.LLMDuration, e = meter.Float64Histogram(
		"voxline.llm.duration",
		metric.WithDescription("Latency of an LLM completion call, in seconds"),
		metric.WithUnit("s"),
	)
	record("voxline.llm.duration", e)

	m.TTSDuration, e = meter.Float64Histogram(
		"voxline.tts.duration",
		metric.WithDescription("Latency of TTS synthesis for a sentence chunk, in seconds"),
		metric.WithUnit("s"),
	)
	record("voxline.tts.duration", e)

	m.ToolExecutionDuration, e = meter.Float64Histogram(
		"voxline.tool_execution.duration",
		metric.WithDescription("Latency of a tool handler invocation, in seconds"),
		metric.WithUnit("s"),
	)
	record("voxline.tool_execution.duration", e)

	m.ProviderRequests, e = meter.Int64Counter(
		"voxline.provider.requests",
		metric.WithDescription("Count of outbound requests to LLM/STT/TTS providers"),
	)
	record("voxline.provider.requests", e)

	m.ProviderErrors, e = meter.Int64Counter(
		"voxline.provider.errors",
		metric.WithDescription("Count of failed provider requests, by provider and stage"),
	)
	record("voxline.provider.errors", e)

	m.ToolCalls, e = meter.Int64Counter(
		"voxline.tool.calls",
		metric.WithDescription("Count of tool invocations by name and outcome"),
	)
	record("voxline.tool.calls", e)

	m.TTSCacheHits, e = meter.Int64Counter(
		"voxline.tts.cache_hits",
		metric.WithDescription("Count of TTS phrase-cache hits"),
	)
	record("voxline.tts.cache_hits", e)

	m.TTSCacheMisses, e = meter.Int64Counter(
		"voxline.tts.cache_misses",
		metric.WithDescription("Count of TTS phrase-cache misses"),
	)
	record("voxline.tts.cache_misses", e)

	m.ActiveCalls, e = meter.Int64UpDownCounter(
		"voxline.active_calls",
		metric.WithDescription("Number of calls currently in progress"),
	)
	record("voxline.active_calls", e)

	m.HTTPRequestDuration, e = meter.Float64Histogram(
		"voxline.http.request.duration",
		metric.WithDescription("Latency of HTTP requests served by the health/metrics server, in seconds"),
		metric.WithUnit("s"),
	)
	record("voxline.http.request.duration", e)

	if err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns a process-wide Metrics instance backed by the
// global OTel meter provider, creating it on first use.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// The global meter provider's no-op default never errors on
			// instrument creation, so this should be unreachable.
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordProviderRequest records a single outbound provider request.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError records a single failed provider request.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordToolCall records a single tool invocation outcome.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordTTSCacheHit records a phrase-cache hit for voice.
func (m *Metrics) RecordTTSCacheHit(ctx context.Context, voice string) {
	m.TTSCacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("voice", voice)))
}

// RecordTTSCacheMiss records a phrase-cache miss for voice.
func (m *Metrics) RecordTTSCacheMiss(ctx context.Context, voice string) {
	m.TTSCacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("voice", voice)))
}
