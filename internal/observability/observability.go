// Package observability wires optional prometheus metrics and OTLP tracing
// for channel operations. Every hook is a safe no-op until Init enables it,
// so the library never forces an app to carry either.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "dxlstream"

type Config struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	Insecure       bool    `yaml:"insecure"`
	SampleRatio    float64 `yaml:"sample_ratio"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
}

// metrics bundles the channel instruments on a dedicated registry, so Init
// never collides with collectors the host app registered globally.
type metrics struct {
	reg     *prometheus.Registry
	ops     *prometheus.CounterVec
	errs    *prometheus.CounterVec
	retries *prometheus.CounterVec
	latency *prometheus.HistogramVec
	srv     *http.Server
}

var (
	mtr       atomic.Pointer[metrics]
	tracingOn atomic.Bool
	tracer    trace.Tracer
)

func newMetrics() *metrics {
	m := &metrics{
		reg: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dxlstream_ops_total",
			Help: "Number of channel operations",
		}, []string{"op"}),
		errs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dxlstream_errors_total",
			Help: "Errors by operation and kind",
		}, []string{"op", "kind"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dxlstream_retries_total",
			Help: "Retries scheduled by the retry driver",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dxlstream_request_latency_seconds",
			Help:    "HTTP round-trip latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	m.reg.MustRegister(m.ops, m.errs, m.retries, m.latency)

	return m
}

func (m *metrics) serve(cfg MetricsConfig, l *slog.Logger) {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	m.srv = &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Error("metrics http server", "err", err)
		}
	}()
	l.Info("metrics server started", "addr", cfg.Addr, "path", path)
}

func newTracerProvider(ctx context.Context, cfg TracingConfig) (*sdktrace.TracerProvider, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	), nil
}

// Init enables whatever cfg asks for and returns a shutdown func. Tracing
// failures are logged and skipped rather than fatal: the client works fine
// without an exporter.
func Init(ctx context.Context, cfg Config, l *slog.Logger) (func(context.Context) error, error) {
	var m *metrics
	var tp *sdktrace.TracerProvider

	if cfg.Metrics.Enabled {
		m = newMetrics()
		m.serve(cfg.Metrics, l)
		mtr.Store(m)
	}

	if cfg.Tracing.Enabled {
		var err error
		tp, err = newTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			l.Error("init tracing", "err", err)
			tp = nil
		} else {
			otel.SetTracerProvider(tp)
			tracer = tp.Tracer(scopeName)
			tracingOn.Store(true)
		}
	}

	return func(ctx context.Context) error {
		var errs []error
		if tp != nil {
			tracingOn.Store(false)
			errs = append(errs, tp.Shutdown(ctx))
		}
		if m != nil {
			mtr.Store(nil)
			errs = append(errs, m.srv.Shutdown(ctx))
		}
		return errors.Join(errs...)
	}, nil
}

func TracingEnabled() bool {
	return tracingOn.Load()
}

func Tracer() trace.Tracer {
	if t := tracer; t != nil {
		return t
	}
	return otel.Tracer(scopeName)
}

func IncOp(op string) {
	if m := mtr.Load(); m != nil {
		m.ops.WithLabelValues(op).Inc()
	}
}

func IncError(op, kind string) {
	if m := mtr.Load(); m != nil {
		m.errs.WithLabelValues(op, kind).Inc()
	}
}

func IncRetry(op string) {
	if m := mtr.Load(); m != nil {
		m.retries.WithLabelValues(op).Inc()
	}
}

func ObserveRequestLatency(op string, d time.Duration) {
	if m := mtr.Load(); m != nil {
		m.latency.WithLabelValues(op).Observe(d.Seconds())
	}
}
