package cmd

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nextlevelbuilder/golaw/internal/config"
)

// initTelemetry wires the OTLP trace exporter when telemetry is enabled.
// Agent runs and tool executions carry spans regardless; without an
// exporter they are no-ops. Returns a shutdown func, or nil when disabled.
func initTelemetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) func(context.Context) error {
	tc := cfg.Telemetry
	if !tc.Enabled || tc.Endpoint == "" {
		return nil
	}

	serviceName := tc.ServiceName
	if serviceName == "" {
		serviceName = "golaw-gateway"
	}

	exporter, err := newSpanExporter(ctx, tc)
	if err != nil {
		logger.Warn("telemetry disabled: exporter init failed", "error", err)
		return nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", Version),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Info("telemetry enabled", "endpoint", tc.Endpoint, "protocol", exporterProtocol(tc), "service", serviceName)
	return provider.Shutdown
}

func newSpanExporter(ctx context.Context, tc config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	if exporterProtocol(tc) == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(tc.Endpoint)}
		if tc.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(tc.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(tc.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(tc.Endpoint)}
	if tc.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(tc.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(tc.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func exporterProtocol(tc config.TelemetryConfig) string {
	if tc.Protocol == "http" {
		return "http"
	}
	return "grpc"
}
