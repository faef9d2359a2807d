package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// Tracer wraps the OpenTelemetry tracer of a broker member.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TracingConfig
}

// NewTracer creates a tracer and installs its provider globally, so that
// packages using otel.Tracer, such as the federation transport, export
// through it.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment, member string) (*Tracer, error) {
	if !cfg.Enabled {
		provider := sdktrace.NewTracerProvider()
		return &Tracer{
			provider: provider,
			tracer:   provider.Tracer(serviceName),
			config:   cfg,
		}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			semconv.ServiceInstanceIDKey.String(member),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		// spans are sampled but never exported
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(
			exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		config:   cfg,
	}, nil
}

func createOTLPExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartOrderSpan starts a span for work on one order.
func (t *Tracer) StartOrderSpan(ctx context.Context, operation string, order engine.OrderSnapshot) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "order."+operation, trace.WithAttributes(
		AttrOrderID.String(order.ID),
		AttrOrderState.String(string(order.State)),
		AttrResourceType.String(string(order.ResourceType)),
		AttrRequestingMember.String(order.RequestingMember),
		AttrProvidingMember.String(order.ProvidingMember),
	))
}

// RecordError records err on span and marks it failed. Taxonomy errors also
// carry their kind.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	if kind, ok := engine.KindOf(err); ok {
		span.SetAttributes(AttrErrorKind.String(string(kind)))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Span attribute keys.
var (
	AttrOrderID          = attribute.Key("order.id")
	AttrOrderState       = attribute.Key("order.state")
	AttrResourceType     = attribute.Key("order.resource_type")
	AttrRequestingMember = attribute.Key("order.requesting_member")
	AttrProvidingMember  = attribute.Key("order.providing_member")
	AttrErrorKind        = attribute.Key("error.kind")
)
