package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ValerySidorin/nsqc/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const DefaultServiceName = "nsqc"

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled      bool           `yaml:"enabled"`
	OTLPEndpoint string         `yaml:"otlp_endpoint"`
	Insecure     bool           `yaml:"insecure"`
	SampleRatio  float64        `yaml:"sample_ratio"`
	Resource     ResourceConfig `yaml:"resource"`
}

type ResourceConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

type Config struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

func (c *Config) SetDefaults() {
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}

	if c.Tracing.Resource.ServiceName == "" {
		c.Tracing.Resource.ServiceName = DefaultServiceName
	}
}

// Metrics implements client.Metrics on its own registry.
type Metrics struct {
	reg *prometheus.Registry

	opsTotal          *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	publishLatencySec prometheus.Histogram
	inFlight          prometheus.Gauge
}

var _ client.Metrics = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsqc_ops_total",
			Help: "Number of protocol commands sent and messages received",
		}, []string{"op"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsqc_errors_total",
			Help: "Errors by stage",
		}, []string{"stage"}),
		publishLatencySec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nsqc_publish_latency_seconds",
			Help:    "Time from PUB/DPUB to acknowledgment",
			Buckets: prometheus.DefBuckets,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nsqc_messages_in_flight",
			Help: "Delivered messages not settled yet",
		}),
	}

	m.reg.MustRegister(
		m.opsTotal,
		m.errorsTotal,
		m.publishLatencySec,
		m.inFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) IncOp(op string) {
	m.opsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) IncError(stage string) {
	m.errorsTotal.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObservePublishLatency(d time.Duration) {
	m.publishLatencySec.Observe(d.Seconds())
}

func (m *Metrics) AddInFlight(delta float64) {
	m.inFlight.Add(delta)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Provider holds the metrics and tracer built from Config. Zero-valued parts
// are disabled.
type Provider struct {
	Metrics *Metrics
	Tracer  trace.Tracer

	shutdownFns []func(context.Context) error
}

func Init(ctx context.Context, cfg Config, l *slog.Logger) (*Provider, error) {
	cfg.SetDefaults()

	p := &Provider{}

	if cfg.Metrics.Enabled {
		p.Metrics = NewMetrics()

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, p.Metrics.Handler())
		httpSrv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Error("metrics http server", "err", err)
			}
		}()
		l.Info("metrics server started", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
		p.shutdownFns = append(p.shutdownFns, httpSrv.Shutdown)
	}

	if cfg.Tracing.Enabled {
		var opts []otlptracegrpc.Option
		if cfg.Tracing.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Tracing.OTLPEndpoint))
		}
		if cfg.Tracing.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}

		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			l.Error("init otlp exporter", "err", err)
		} else {
			sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Tracing.SampleRatio))
			res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
				"",
				attribute.String("service.name", cfg.Tracing.Resource.ServiceName),
				attribute.String("service.version", cfg.Tracing.Resource.ServiceVersion),
				attribute.String("deployment.environment", cfg.Tracing.Resource.Environment),
			))
			tp := sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exp),
				sdktrace.WithSampler(sampler),
				sdktrace.WithResource(res),
			)
			p.Tracer = tp.Tracer(DefaultServiceName)
			p.shutdownFns = append(p.shutdownFns, tp.Shutdown)
		}
	}

	return p, nil
}

// ClientOptions wires the enabled parts into a client.Conn.
func (p *Provider) ClientOptions() []client.Option {
	var opts []client.Option
	if p.Metrics != nil {
		opts = append(opts, client.WithMetrics(p.Metrics))
	}
	if p.Tracer != nil {
		opts = append(opts, client.WithTracer(p.Tracer))
	}
	return opts
}

// Shutdown stops the metrics server and flushes pending spans, in reverse
// start order.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdownFns) - 1; i >= 0; i-- {
		if err := p.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdownFns = nil
	return errors.Join(errs...)
}
