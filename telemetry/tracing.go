package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys shared by the sync path and the HTTP surface.
const (
	attrUser      = attribute.Key("spotify_tg.user")
	attrChannel   = attribute.Key("telegram.channel")
	attrPlaying   = attribute.Key("spotify.playing")
	attrTrack     = attribute.Key("spotify.track_id")
	attrWriteKind = attribute.Key("channel.write.kind")
	attrResult    = attribute.Key("result")
	attrUsers     = attribute.Key("cycle.users")
	attrFailed    = attribute.Key("cycle.failed")
)

var tracingEnabled bool

// TracingConfig controls the OTLP exporter. A zero Endpoint leaves tracing off.
type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	Environment string
}

// TracingConfigFromEnv reads OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE,
// OTEL_TRACES_SAMPLE_RATIO and DEPLOY_ENV. A malformed or out of range ratio
// falls back to sampling every cycle.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "1",
		SampleRatio: 1,
		Environment: os.Getenv("DEPLOY_ENV"),
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLE_RATIO"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			slog.Warn("invalid OTEL_TRACES_SAMPLE_RATIO, sampling everything", slog.String("value", v))
		} else {
			cfg.SampleRatio = f
		}
	}
	return cfg
}

func (c TracingConfig) sampler() sdktrace.Sampler {
	switch {
	case c.SampleRatio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case c.SampleRatio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
	}
}

func (c TracingConfig) resourceAttrs(service, version string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
	}
	if c.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(c.Environment))
	}
	return attrs
}

// InitTracing installs the global tracer provider. The returned func flushes
// pending spans and must run before exit.
func InitTracing(cfg TracingConfig, service, version string) (func(), error) {
	if cfg.Endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(cfg.resourceAttrs(service, version)...))
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(tp)
	tracingEnabled = true
	slog.Info("tracing initialized",
		slog.String("endpoint", cfg.Endpoint),
		slog.Float64("sample_ratio", cfg.SampleRatio),
		slog.String("env", cfg.Environment))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("flush traces", slog.Any("err", err))
		}
	}, nil
}

// IsTracingEnabled reports whether InitTracing installed an exporter.
func IsTracingEnabled() bool { return tracingEnabled }

// StartSpan starts a span on the named tracer, tagged with the context's
// correlation id when there is one.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// StartSyncSpan opens the span covering one user's channel synchronization.
func StartSyncSpan(ctx context.Context, userID, channel string, playing bool) (context.Context, trace.Span) {
	return StartSpan(ctx, "channelsync", "synchronize",
		attrUser.String(userID),
		attrChannel.String(channel),
		attrPlaying.Bool(playing),
	)
}

// StartCycleSpan opens the span covering one polling cycle.
func StartCycleSpan(ctx context.Context) (context.Context, trace.Span) {
	return StartSpan(ctx, "poller", "run_cycle")
}

// EndCycleSpan tags the cycle span with its counts and outcome.
func EndCycleSpan(span trace.Span, users, failed int, err error) {
	span.SetAttributes(attrUsers.Int(users), attrFailed.Int(failed))
	SetSpanResult(span, err)
}

// SetTrack tags the span in ctx with the track the channel is moving to.
func SetTrack(ctx context.Context, trackID string) {
	if trackID != "" {
		trace.SpanFromContext(ctx).SetAttributes(attrTrack.String(trackID))
	}
}

// writeEvent adds a channel.write event to the span in ctx, if any.
func writeEvent(ctx context.Context, kind string, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{attrWriteKind.String(kind), attrResult.String(result(err))}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	span.AddEvent("channel.write", trace.WithAttributes(attrs...))
}

// SetSpanResult marks span failed with err, or OK when err is nil.
func SetSpanResult(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartHTTPSpan opens a server span for one request.
func StartHTTPSpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http-server", method+" "+path,
		semconv.HTTPMethod(method),
		semconv.HTTPRoute(path),
	)
}

// EndHTTPSpan records the response status; 4xx and 5xx mark the span failed.
func EndHTTPSpan(span trace.Span, status int) {
	span.SetAttributes(semconv.HTTPStatusCode(status))
	if status >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
	}
}
