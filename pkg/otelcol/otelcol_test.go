package otelcol

import (
	"context"
	"testing"

	"licensing-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx/fxtest"
)

func TestNewTracerProviderDisabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)

	tp, err := NewTracerProvider(lc, &config.Config{})
	require.NoError(t, err)
	require.IsType(t, noop.TracerProvider{}, tp)
}

func TestNewExporterRejectsUnknownProtocol(t *testing.T) {
	cfg := &config.Config{}
	cfg.Otel.Addr = "localhost:4317"
	cfg.Otel.Protocol = "carrier-pigeon"

	_, err := NewExporter(cfg)
	require.Error(t, err)
}

func TestProvideTraceExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	cfg := &config.Config{AppName: "licensing", AppEnv: "test"}

	res, err := Resource(cfg)
	require.NoError(t, err)

	tp := ProvideTrace(exporter, sdktrace.WithResource(res))
	_, span := tp.Tracer("test").Start(context.Background(), "license.create")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "license.create", spans[0].Name)
	require.NoError(t, tp.Shutdown(context.Background()))
}
