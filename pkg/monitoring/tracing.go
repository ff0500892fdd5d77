package monitoring

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// tracerName is the instrumentation scope name registered with OTel.
const tracerName = "tenant-operator"

// Annotation keys used to propagate trace context through Kubernetes objects.
// The webhook injects these on admission; the reconciler extracts them so a
// reconcile triggered by a user action joins the originating trace.
const (
	annotationTraceparent   = "tenant.rezenkai.com/traceparent"
	annotationTraceparentTS = "tenant.rezenkai.com/traceparent-ts"
	annotationTracestate    = "tenant.rezenkai.com/tracestate"
)

// traceContextMaxAge bounds how long an injected trace context stays linkable.
// Reconciles triggered by resync rather than the original admission should not
// attach to a long-finished trace.
const traceContextMaxAge = 10 * time.Minute

// Tracer is the package-level OTel tracer for the operator.
// It returns a noop tracer when no TracerProvider is registered,
// making instrumentation zero-cost in the default configuration.
var Tracer = otel.Tracer(tracerName)

// InitTracing configures the global OTel tracer provider from the standard
// OTEL_* environment variables. When OTEL_EXPORTER_OTLP_ENDPOINT is unset the
// function is a no-op and returns a no-op shutdown, keeping tracing off by
// default. The returned shutdown must be called before process exit to flush
// buffered spans.
func InitTracing(ctx context.Context, serviceName, serviceVersion string) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := autoexport.NewSpanExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// Re-acquire the package tracer now that a real provider is registered.
	Tracer = otel.Tracer(tracerName)

	return provider.Shutdown, nil
}

// StartReconcileSpan starts a new span for a controller reconciliation.
// The span is annotated with the Kubernetes resource name, namespace, and kind.
// Callers must call span.End() when the operation completes.
func StartReconcileSpan(ctx context.Context, spanName, name, namespace, kind string) (context.Context, trace.Span) {
	ctx, span := Tracer.Start(ctx, spanName,
		trace.WithAttributes(
			attribute.String("k8s.resource.name", name),
			attribute.String("k8s.namespace", namespace),
			attribute.String("k8s.resource.kind", kind),
		),
	)
	return ctx, span
}

// StartChildSpan starts a child span under the current trace context.
// Use this for sub-operations within a reconciliation (e.g., EnsureDatabase,
// UpdateStatus).
func StartChildSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, spanName)
}

// RecordSpanError records an error on a span and sets the span status to Error.
// If err is nil, this is a no-op.
func RecordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InjectTraceContext writes the current trace context into the given
// annotations map under operator-scoped keys, together with an injection
// timestamp. No-op when the context carries no valid span.
func InjectTraceContext(ctx context.Context, annotations map[string]string) {
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	if tp, ok := carrier["traceparent"]; ok {
		annotations[annotationTraceparent] = tp
		annotations[annotationTraceparentTS] = strconv.FormatInt(time.Now().Unix(), 10)
	}
	if ts, ok := carrier["tracestate"]; ok {
		annotations[annotationTracestate] = ts
	}
}

// ExtractTraceContext reads a previously injected trace context from the
// annotations map. The second return reports staleness: a context older than
// traceContextMaxAge (or with a missing or unparsable timestamp) should be
// treated as a link rather than a parent. When no trace context is present,
// a background context and false are returned.
func ExtractTraceContext(annotations map[string]string) (context.Context, bool) {
	tp, ok := annotations[annotationTraceparent]
	if !ok {
		return context.Background(), false
	}

	stale := true
	if raw, ok := annotations[annotationTraceparentTS]; ok {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			stale = time.Since(time.Unix(ts, 0)) > traceContextMaxAge
		}
	}

	carrier := propagation.MapCarrier{"traceparent": tp}
	if ts, ok := annotations[annotationTracestate]; ok {
		carrier["tracestate"] = ts
	}
	return otel.GetTextMapPropagator().Extract(context.Background(), carrier), stale
}

// EnrichLoggerWithTrace returns a context whose logger carries the current
// trace and span IDs, correlating controller logs with traces. Returns the
// context unchanged when no valid span is present.
func EnrichLoggerWithTrace(ctx context.Context) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ctx
	}
	logger := log.FromContext(ctx).WithValues(
		"trace_id", sc.TraceID().String(),
		"span_id", sc.SpanID().String(),
	)
	return log.IntoContext(ctx, logger)
}
