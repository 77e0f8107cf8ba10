package wsadapters

import (
	"context"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Decorator which traces every call made to a WebsocketConnectionAdapterInterface
// implementation. The engine wraps the adapter it receives with this decorator unless it is
// already decorated.
type WebsocketConnectionAdapterInstrumentationDecorator struct {
	// Decorated adapter
	decorated WebsocketConnectionAdapterInterface
	// Tracer used for instrumentation
	tracer trace.Tracer
}

// # Description
//
// Wrap the provided adapter in a decorator which records a span for each call.
//
// # Inputs
//
//   - decorated: Adapter to instrument. Must not be nil.
//   - tracerProvider: Tracer provider to use. If nil, the global tracer provider is used.
func NewWebsocketConnectionAdapterInstrumentationDecorator(
	decorated WebsocketConnectionAdapterInterface,
	tracerProvider trace.TracerProvider,
) *WebsocketConnectionAdapterInstrumentationDecorator {
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	return &WebsocketConnectionAdapterInstrumentationDecorator{
		decorated: decorated,
		tracer:    tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
	}
}

// Trace Dial calls.
func (decorator *WebsocketConnectionAdapterInstrumentationDecorator) Dial(ctx context.Context, target url.URL) (*http.Response, error) {
	ctx, span := decorator.tracer.Start(ctx, spanDial,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(attrUrl, target.String()),
		))
	defer span.End()
	resp, err := decorator.decorated.Dial(ctx, target)
	recordError(span, err)
	return resp, err
}

// Trace Close calls.
func (decorator *WebsocketConnectionAdapterInstrumentationDecorator) Close(ctx context.Context, code StatusCode, reason string) error {
	ctx, span := decorator.tracer.Start(ctx, spanClose,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int(attrCloseCode, int(code)),
			attribute.String(attrCloseReason, reason),
		))
	defer span.End()
	err := decorator.decorated.Close(ctx, code, reason)
	recordError(span, err)
	return err
}

// Trace Ping calls.
func (decorator *WebsocketConnectionAdapterInstrumentationDecorator) Ping(ctx context.Context) error {
	ctx, span := decorator.tracer.Start(ctx, spanPing, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	err := decorator.decorated.Ping(ctx)
	recordError(span, err)
	return err
}

// Trace Read calls. A received event is added to the span when a message has been read.
func (decorator *WebsocketConnectionAdapterInstrumentationDecorator) Read(ctx context.Context) (MessageType, []byte, error) {
	ctx, span := decorator.tracer.Start(ctx, spanRead, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	msgType, msg, err := decorator.decorated.Read(ctx)
	if err != nil {
		recordError(span, err)
		return msgType, msg, err
	}
	span.AddEvent(eventReceived, trace.WithAttributes(
		attribute.Int(attrMessageByteSize, len(msg)),
		attribute.String(attrMessageType, msgType.String()),
	))
	return msgType, msg, nil
}

// Trace Write calls.
func (decorator *WebsocketConnectionAdapterInstrumentationDecorator) Write(ctx context.Context, msgType MessageType, msg []byte) error {
	ctx, span := decorator.tracer.Start(ctx, spanWrite,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int(attrMessageByteSize, len(msg)),
			attribute.String(attrMessageType, msgType.String()),
		))
	defer span.End()
	err := decorator.decorated.Write(ctx, msgType, msg)
	recordError(span, err)
	return err
}

// Simple proxy for non-instrumented getter
func (decorator *WebsocketConnectionAdapterInstrumentationDecorator) GetUnderlyingWebsocketConnection() any {
	return decorator.decorated.GetUnderlyingWebsocketConnection()
}

// Record a non nil error in the span and flag the span status as failed.
func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, codes.Error.String())
	}
}
