// Package observability настраивает трассировку OpenTelemetry.
package observability

import (
	"context"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/annel0/voxel-world/internal/logging"
)

// InitTelemetry настраивает OTLP экспортер и устанавливает глобальный
// TracerProvider. Адрес коллектора берётся из WORLD_OTLP_ENDPOINT
// (по умолчанию localhost:4318), доля сэмплируемых корневых трейсов —
// из WORLD_TRACE_RATIO (по умолчанию 1.0). Возвращает функцию shutdown,
// которую нужно вызвать при завершении приложения.
func InitTelemetry(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	var expOpts []otlptracehttp.Option
	if endpoint := os.Getenv("WORLD_OTLP_ENDPOINT"); endpoint != "" {
		expOpts = append(expOpts, otlptracehttp.WithEndpoint(endpoint))
	}
	exp, err := otlptracehttp.New(ctx, expOpts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("world.engine", "regional-sync"),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(traceRatio()))),
	)

	otel.SetTracerProvider(tp)
	logging.Info("📡 OpenTelemetry инициализирован (service=%s, ratio=%.2f)", serviceName, traceRatio())

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}
	return shutdown, nil
}

// traceRatio читает долю сэмплирования из окружения, клампит в [0, 1].
func traceRatio() float64 {
	env := os.Getenv("WORLD_TRACE_RATIO")
	if env == "" {
		return 1.0
	}
	ratio, err := strconv.ParseFloat(env, 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1.0
	}
	return ratio
}
