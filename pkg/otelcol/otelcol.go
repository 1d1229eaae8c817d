// Package otelcol wires the OpenTelemetry trace pipeline.
package otelcol

import (
	"context"
	"fmt"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("otelcol",
	fx.Provide(NewTracerProvider),
)

func Resource(cfg *config.Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.AppName),
			semconv.ServiceVersion(cfg.AppVersion),
			semconv.ServiceNamespace(cfg.AppNamespace),
			semconv.DeploymentEnvironment(cfg.AppEnv),
		),
	)
}

func NewExporter(cfg *config.Config) (sdktrace.SpanExporter, error) {
	switch cfg.Otel.Protocol {
	case "", "grpc":
		return exporters.ProvideGrpc(cfg)
	case "http":
		return exporters.ProvideHttp(cfg)
	default:
		return nil, fmt.Errorf("unsupported otel protocol %q", cfg.Otel.Protocol)
	}
}

func ProvideTrace(exporter sdktrace.SpanExporter, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	if len(opts) == 0 {
		opts = []sdktrace.TracerProviderOption{sdktrace.WithResource(resource.Default())}
	}

	opts = append(opts, sdktrace.WithBatcher(exporter))

	return sdktrace.NewTracerProvider(opts...)
}

// NewTracerProvider installs the global tracer provider. Without an
// collector address tracing is a no-op.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config) (trace.TracerProvider, error) {
	if cfg.Otel.Addr == "" {
		zap.L().Info("otel collector address not set, tracing disabled")
		return noop.NewTracerProvider(), nil
	}

	exporter, err := NewExporter(cfg)
	if err != nil {
		zap.L().Error("failed to create otel exporter", zap.Error(err))
		return nil, err
	}

	res, err := Resource(cfg)
	if err != nil {
		return nil, err
	}

	tp := ProvideTrace(exporter, sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	zap.L().Info("otel tracing enabled", zap.String("addr", cfg.Otel.Addr), zap.String("protocol", cfg.Otel.Protocol))
	return tp, nil
}
