// Package telemetry exports traces and metrics over OTLP/gRPC when a
// collector is configured.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const exportTimeout = 5 * time.Second

type Config struct {
	Enabled         bool
	ServiceName     string
	ServiceVersion  string
	Environment     string
	Endpoint        string
	Insecure        bool
	Sampler         string
	SamplerRatio    float64
	MetricsInterval time.Duration
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadConfig reads the standard OTEL_* variables. Export stays off unless
// OTEL_EXPORTER_OTLP_ENDPOINT is set.
func LoadConfig(serviceName string) Config {
	cfg := Config{
		ServiceName:     getenv("OTEL_SERVICE_NAME", serviceName),
		ServiceVersion:  getenv("OTEL_SERVICE_VERSION", "dev"),
		Environment:     getenv("ENVIRONMENT", "development"),
		Endpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:        getenv("OTEL_EXPORTER_OTLP_INSECURE", "true") == "true",
		Sampler:         getenv("OTEL_TRACES_SAMPLER", "parentbased_always_on"),
		SamplerRatio:    1,
		MetricsInterval: 30 * time.Second,
	}
	cfg.Enabled = cfg.Endpoint != ""

	if v, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64); err == nil && v >= 0 && v <= 1 {
		cfg.SamplerRatio = v
	}
	if d, err := time.ParseDuration(os.Getenv("OTEL_METRICS_EXPORT_INTERVAL")); err == nil && d > 0 {
		cfg.MetricsInterval = d
	}
	return cfg
}

// sampler maps the OTEL_TRACES_SAMPLER names onto SDK samplers. Unknown
// names sample everything.
func (c Config) sampler() trace.Sampler {
	switch c.Sampler {
	case "always_off":
		return trace.NeverSample()
	case "traceidratio":
		return trace.TraceIDRatioBased(c.SamplerRatio)
	case "parentbased_always_off":
		return trace.ParentBased(trace.NeverSample())
	case "parentbased_traceidratio":
		return trace.ParentBased(trace.TraceIDRatioBased(c.SamplerRatio))
	case "always_on":
		return trace.AlwaysSample()
	}
	return trace.ParentBased(trace.AlwaysSample())
}

func (c Config) dialOption() grpc.DialOption {
	if c.Insecure {
		return grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	return grpc.WithTransportCredentials(credentials.NewClientTLSFromCert(nil, ""))
}

type Provider struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
	logger         *zap.Logger
}

// InitProvider installs the W3C propagator and, when enabled, the OTLP
// tracer and meter providers. An exporter that cannot be built is logged
// and skipped so the service still starts.
func InitProvider(ctx context.Context, cfg Config, logger *zap.Logger) (*Provider, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	p := &Provider{logger: logger}
	if !cfg.Enabled {
		logger.Info("telemetry export disabled")
		return p, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()

	spans, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithDialOption(cfg.dialOption()),
		otlptracegrpc.WithTimeout(exportTimeout),
	)
	if err != nil {
		logger.Warn("continuing without trace export", zap.Error(err))
	} else {
		p.TracerProvider = trace.NewTracerProvider(
			trace.WithResource(res),
			trace.WithSampler(cfg.sampler()),
			trace.WithBatcher(spans),
		)
		otel.SetTracerProvider(p.TracerProvider)
	}

	metrics, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithDialOption(cfg.dialOption()),
		otlpmetricgrpc.WithTimeout(exportTimeout),
	)
	if err != nil {
		logger.Warn("continuing without metric export", zap.Error(err))
	} else {
		p.MeterProvider = metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(metrics, metric.WithInterval(cfg.MetricsInterval))),
		)
		otel.SetMeterProvider(p.MeterProvider)
	}

	logger.Info("telemetry export enabled",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("sampler", cfg.Sampler))
	return p, nil
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		p.logger.Error("telemetry shutdown failed", zap.Error(err))
	}
	return err
}
