package wscengine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"github.com/gbdevw/gowschat/wscengine/wsclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Package private decorator used to trace user provided callbacks
type websocketClientInstrumentationDecorator struct {
	// Tracer used to instrument code
	tracer trace.Tracer
	// Decorated WebsocketClientInterface implementation
	decorated wsclient.WebsocketClientInterface
}

// # Description
//
// Build and return a new decorator which instrument a provided WebsocketClientInterface
// implementation.
//
// # Inputs
//
//   - decorated: The WebsocketClientInterface implementation to decorate. Must not be nil.
//   - tracerProvider: Tracer provider used to get a tracer. If nil, global tracer provider will
//     be used.
//
// # Returns
//
// A new instrumentation decorator for the provided WebsocketClientInterface implementation or
// an error if decorated is nil.
func newWebsocketClientInstrumentationDecorator(decorated wsclient.WebsocketClientInterface, tracerProvider trace.TracerProvider) (*websocketClientInstrumentationDecorator, error) {
	if decorated == nil {
		return nil, fmt.Errorf("provided decorated is nil")
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	return &websocketClientInstrumentationDecorator{
		decorated: decorated,
		tracer:    tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
	}, nil
}

// Instrument decorated.OnOpen call
func (decorator *websocketClientInstrumentationDecorator) OnOpen(
	ctx context.Context,
	resp *http.Response,
	requestWritable func(),
	exit context.CancelFunc) error {
	ctx, span := decorator.tracer.Start(ctx, spanEngineOnOpen,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	err := decorator.decorated.OnOpen(ctx, resp, requestWritable, exit)
	return handlePotentialError(err, span)
}

// Instrument decorated.OnWritable call
func (decorator *websocketClientInstrumentationDecorator) OnWritable(
	ctx context.Context,
	writer wsclient.FrameWriter) error {
	ctx, span := decorator.tracer.Start(ctx, spanEngineOnWritable,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	err := decorator.decorated.OnWritable(ctx, writer)
	return handlePotentialError(err, span)
}

// Instrument decorated.OnMessage call
func (decorator *websocketClientInstrumentationDecorator) OnMessage(
	ctx context.Context,
	exit context.CancelFunc,
	sessionId string,
	msgType wsadapters.MessageType,
	msg []byte) {
	ctx, span := decorator.tracer.Start(ctx, spanEngineOnMessage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrSessionId, sessionId),
			attribute.String(attrMsgType, msgType.String()),
			attribute.Int(attrMsgLength, len(msg)),
		))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	decorator.decorated.OnMessage(ctx, exit, sessionId, msgType, msg)
}

// Instrument decorated.OnReadError call
func (decorator *websocketClientInstrumentationDecorator) OnReadError(
	ctx context.Context,
	err error) {
	ctx, span := decorator.tracer.Start(ctx, spanEngineOnReadError,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.RecordError(err)
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	decorator.decorated.OnReadError(ctx, err)
}

// Instument decorated.OnClose call
func (decorator *websocketClientInstrumentationDecorator) OnClose(
	ctx context.Context,
	closeMessage *wsclient.CloseMessageDetails) *wsclient.CloseMessageDetails {
	ctx, span := decorator.tracer.Start(ctx, spanEngineOnClose,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Bool(attrHasCloseMessage, closeMessage != nil),
		))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	return decorator.decorated.OnClose(ctx, closeMessage)
}

// Instrument decorated.OnCloseError call
func (decorator *websocketClientInstrumentationDecorator) OnCloseError(
	ctx context.Context,
	err error) {
	ctx, span := decorator.tracer.Start(ctx, spanEngineOnCloseError,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.RecordError(err)
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	decorator.decorated.OnCloseError(ctx, err)
}
