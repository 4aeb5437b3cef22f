package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultExportInterval = 15 * time.Second

// ProviderConfig describes where telemetry goes and how the service
// identifies itself.
type ProviderConfig struct {
	Endpoint    string
	Insecure    bool
	ServiceName string
	Version     string
	// Attributes are added to the resource, e.g. the backing database.
	Attributes []attribute.KeyValue
	// ExportInterval defaults to 15s.
	ExportInterval time.Duration
}

// Provider owns the global OTEL trace and metric providers.
type Provider struct {
	tracer  *sdktrace.TracerProvider
	meter   *sdkmetric.MeterProvider
	conn    *grpc.ClientConn
	closers []func(context.Context) error
}

// NewResource builds the resource describing this process.
func NewResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceNamespace("tutorials"),
	}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	attrs = append(attrs, cfg.Attributes...)

	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcess(),
	)
}

// InitProvider installs global trace and metric providers exporting over
// one lazily dialled OTLP/gRPC connection, so an unreachable collector does
// not fail startup.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("otel: endpoint is required")
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = defaultExportInterval
	}

	res, err := NewResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building OTEL resource: %w", err)
	}

	var dialOpts []grpc.DialOption
	if cfg.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(cfg.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating gRPC client for OTEL: %w", err)
	}
	p := &Provider{conn: conn}

	if err := p.startTracing(ctx, res); err != nil {
		p.Shutdown(ctx) //nolint:errcheck
		return nil, err
	}
	if err := p.startMetrics(ctx, res, cfg.ExportInterval); err != nil {
		p.Shutdown(ctx) //nolint:errcheck
		return nil, err
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		slog.Warn("otel export error", "err", err)
	}))
	return p, nil
}

func (p *Provider) startTracing(ctx context.Context, res *resource.Resource) error {
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(p.conn))
	if err != nil {
		return fmt.Errorf("creating trace exporter: %w", err)
	}
	p.tracer = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	p.closers = append(p.closers, p.tracer.Shutdown)
	otel.SetTracerProvider(p.tracer)
	return nil
}

func (p *Provider) startMetrics(ctx context.Context, res *resource.Resource, every time.Duration) error {
	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(p.conn))
	if err != nil {
		return fmt.Errorf("creating metric exporter: %w", err)
	}
	p.meter = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(every))),
		sdkmetric.WithResource(res),
	)
	// Metrics flush before traces on shutdown.
	p.closers = append([]func(context.Context) error{p.meter.Shutdown}, p.closers...)
	otel.SetMeterProvider(p.meter)
	return nil
}

// Shutdown flushes the providers and closes the connection. Export errors
// are logged; only the connection close is returned. ctx should carry a
// deadline.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	for _, closeFn := range p.closers {
		if err := closeFn(ctx); err != nil {
			slog.Warn("otel flush failed", "err", err)
		}
	}
	p.closers = nil
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
