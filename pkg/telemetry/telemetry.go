// Package telemetry is the engine's observability plane: the storage counters
// every component reports through, backed by an OpenTelemetry meter with a
// Prometheus endpoint, and a sampled tracer.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Config selects whether the engine exports metrics and traces, and where.
type Config struct {
	// Enabled toggles the exporters. When false the engine counters still
	// exist, backed by no-op instruments.
	Enabled bool `yaml:"enabled"`
	// ServiceName labels exported metrics and traces.
	ServiceName string `yaml:"service_name"`
	// PrometheusPort is where /metrics is served.
	PrometheusPort int `yaml:"prometheus_port"`
	// TraceSampleRatio is the fraction of traces kept; zero, negative, and
	// above-one values mean sample everything.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Telemetry owns the engine's instruments and the machinery behind them.
// Engine carries the counters the buffer pool, disk manager, and tree report
// into; callers that need ad-hoc instruments use Meter directly.
type Telemetry struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Engine *EngineMetrics

	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metricsServer  *http.Server
}

// New builds the telemetry plane. Disabled configurations get no-op providers
// so callers never branch on telemetry being off.
func New(cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		meter := noop.NewMeterProvider().Meter(cfg.ServiceName)
		engine, err := NewEngineMetrics(meter)
		if err != nil {
			return nil, err
		}
		return &Telemetry{
			Tracer: nooptrace.NewTracerProvider().Tracer(cfg.ServiceName),
			Meter:  meter,
			Engine: engine,
		}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	meter := meterProvider.Meter(cfg.ServiceName)
	engine, err := NewEngineMetrics(meter)
	if err != nil {
		_ = meterProvider.Shutdown(context.Background())
		return nil, err
	}

	ratio := cfg.TraceSampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1.0
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.PrometheusPort), Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			otel.Handle(fmt.Errorf("metrics endpoint failed: %w", err))
		}
	}()

	return &Telemetry{
		Tracer:         tracerProvider.Tracer(cfg.ServiceName),
		Meter:          meter,
		Engine:         engine,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		metricsServer:  server,
	}, nil
}

// Shutdown stops the metrics endpoint and flushes both providers. Safe to
// call on a disabled plane.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.meterProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var errs []error
	if err := t.metricsServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop metrics endpoint: %w", err))
	}
	if err := t.tracerProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
	}
	if err := t.meterProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
	}
	return errors.Join(errs...)
}
