package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans from this module. Spans go to the global provider,
// which is a no-op until the embedding program installs one.
const TracerName = "github.com/danmuck/atrpc"

func tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartDispatchSpan opens a server span around one registry call.
func StartDispatchSpan(ctx context.Context, fn string, seq uint32, connID uint64) (context.Context, trace.Span) {
	return tracer().Start(ctx, "atrpc.dispatch "+fn,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("atrpc.func", fn),
			attribute.Int64("atrpc.sequence", int64(seq)),
			attribute.Int64("atrpc.conn_id", int64(connID)),
		),
	)
}

// StartCallSpan opens a client span around one request/response exchange.
func StartCallSpan(ctx context.Context, fn, addr string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "atrpc.call "+fn,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("atrpc.func", fn),
			attribute.String("net.peer.addr", addr),
		),
	)
}

// EndSpan records err on span and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
