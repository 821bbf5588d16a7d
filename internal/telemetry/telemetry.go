// Package telemetry wires OpenTelemetry tracing and metrics for the query
// pipeline. When disabled it hands out no-op providers so callers never
// branch on telemetry being configured.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config controls telemetry setup.
type Config struct {
	Enabled  bool
	Endpoint string // OTLP/HTTP host:port
	Service  string
	Version  string
}

// Provider wires tracer/meter providers and exposes helpers.
type Provider struct {
	Enabled bool
	tracer  trace.Tracer
	meter   metric.Meter

	queriesCounter    metric.Int64Counter
	queryDuration     metric.Float64Histogram
	retrievalDuration metric.Float64Histogram
	judgeDuration     metric.Float64Histogram
	agentDuration     metric.Float64Histogram
	verdictsCounter   metric.Int64Counter

	shutdownTraceProvider func(context.Context) error
	shutdownMeterProvider func(context.Context) error
}

// NewProvider configures OTLP exporters + providers. When disabled, returns
// no-op providers.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.Enabled {
		no := &Provider{
			Enabled: false,
			tracer:  tracenoop.NewTracerProvider().Tracer(""),
			meter:   metricnoop.NewMeterProvider().Meter(""),
		}
		no.initInstruments()
		return no, nil
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			attribute.String("service.name", cfg.Service),
			attribute.String("service.version", cfg.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(cfg.Endpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
	)
	otel.SetMeterProvider(mp)

	p := &Provider{
		Enabled:               true,
		tracer:                tp.Tracer("ragguard"),
		meter:                 mp.Meter("ragguard"),
		shutdownTraceProvider: tp.Shutdown,
		shutdownMeterProvider: mp.Shutdown,
	}
	p.initInstruments()
	return p, nil
}

func (p *Provider) initInstruments() {
	if p == nil {
		return
	}
	// Instrument creation errors are ignored; telemetry is best-effort.
	p.queriesCounter, _ = p.meter.Int64Counter("ragguard_queries_total")
	p.queryDuration, _ = p.meter.Float64Histogram("ragguard_query_duration_ms")
	p.retrievalDuration, _ = p.meter.Float64Histogram("ragguard_retrieval_duration_ms")
	p.judgeDuration, _ = p.meter.Float64Histogram("ragguard_judge_duration_ms")
	p.agentDuration, _ = p.meter.Float64Histogram("ragguard_agent_duration_ms")
	p.verdictsCounter, _ = p.meter.Int64Counter("ragguard_verdicts_total")
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil {
		return tracenoop.NewTracerProvider().Tracer("")
	}
	return p.tracer
}

// Shutdown flushes providers.
func (p *Provider) Shutdown(ctx context.Context) {
	if p == nil {
		return
	}
	if p.shutdownTraceProvider != nil {
		_ = p.shutdownTraceProvider(ctx)
	}
	if p.shutdownMeterProvider != nil {
		_ = p.shutdownMeterProvider(ctx)
	}
}

// RecordQueryMetrics emits the per-query counters and stage histograms.
func (p *Provider) RecordQueryMetrics(outcome string, guardrail bool, totalMs, retrievalMs, judgeMs, agentMs float64) {
	if p == nil {
		return
	}
	labels := []attribute.KeyValue{
		attribute.String("ragguard.outcome", outcome),
		attribute.Bool("ragguard.guardrail", guardrail),
	}
	p.queriesCounter.Add(context.Background(), 1, metric.WithAttributes(labels...))
	p.queryDuration.Record(context.Background(), totalMs, metric.WithAttributes(labels...))
	if retrievalMs > 0 {
		p.retrievalDuration.Record(context.Background(), retrievalMs, metric.WithAttributes(labels...))
	}
	if judgeMs > 0 {
		p.judgeDuration.Record(context.Background(), judgeMs, metric.WithAttributes(labels...))
	}
	if agentMs > 0 {
		p.agentDuration.Record(context.Background(), agentMs, metric.WithAttributes(labels...))
	}
}

// RecordVerdict counts one guardrail verdict.
func (p *Provider) RecordVerdict(verdict string) {
	if p == nil {
		return
	}
	p.verdictsCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("ragguard.verdict", verdict),
	))
}
