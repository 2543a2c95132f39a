// Package telemetry builds the process logger and tracer provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"omiebridge/internal/config"
	"omiebridge/internal/logsink"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Telemetry owns the exporters started by Setup.
type Telemetry struct {
	Logger   *slog.Logger
	shutdown []func(context.Context) error
}

// Setup logs JSON to stdout and, when configured, to the blob log sink and an OTLP
// collector. Traces are exported only when an OTLP endpoint is set.
func Setup(ctx context.Context, cfg *config.Config) (*Telemetry, error) {
	t := &Telemetry{}
	level := cfg.Server.Level()
	var extra []slog.Handler

	if cfg.LogSink.Enabled() {
		sink, err := logsink.New(ctx, cfg.LogSink, cfg.Server.ServiceName, level)
		if err != nil {
			return nil, err
		}
		extra = append(extra, sink)
		t.shutdown = append(t.shutdown, func(context.Context) error { return sink.Close() })
	}

	if cfg.Telemetry.Enabled() {
		res := resource.NewSchemaless(attribute.String("service.name", cfg.Server.ServiceName))

		traceExp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Telemetry.OTLPEndpoint))
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		t.shutdown = append(t.shutdown, tp.Shutdown)

		logExp, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(cfg.Telemetry.OTLPEndpoint))
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, fmt.Errorf("otlp log exporter: %w", err)
		}
		lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
		t.shutdown = append(t.shutdown, lp.Shutdown)
		extra = append(extra, otelslog.NewHandler(cfg.Server.ServiceName, otelslog.WithLoggerProvider(lp)))
	}

	t.Logger = NewLogger(os.Stdout, level, extra...)
	return t, nil
}

// Shutdown flushes exporters in reverse start order.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, t.shutdown[i](ctx))
	}
	t.shutdown = nil
	return errors.Join(errs...)
}

// NewLogger writes JSON lines at level to w and copies every record to extra.
func NewLogger(w io.Writer, level slog.Leveler, extra ...slog.Handler) *slog.Logger {
	var h slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	if len(extra) > 0 {
		h = fanout(append([]slog.Handler{h}, extra...))
	}
	return slog.New(h)
}

type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
