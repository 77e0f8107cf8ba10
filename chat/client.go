package chat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"github.com/gbdevw/gowschat/wscengine/wsclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	instrumentationName = "gowschat.chat"
	// Banner printed on the display sink once the connection is open
	ConnectionEstablishedBanner = "Connection established"
	// Banner printed on the display sink once the connection is closed
	ConnectionClosedBanner = "Connection closed"
)

// Chat client plugged into the websocket engine. It drains the mailbox when the connection is
// writable and prints received messages on a display sink.
type ChatClient struct {
	// Pending outbound message
	mailbox *Mailbox
	// Display sink for received messages and connection banners
	sink io.Writer
	// Serialize writes to the sink
	sinkMu sync.Mutex
	// Logger
	logger *zap.Logger
	// Tracer
	tracer trace.Tracer
	// Number of inbound and outbound frames which have been dropped
	droppedFrames metric.Int64Counter
}

// # Description
//
// Factory which creates a new ChatClient.
//
// # Inputs
//
//   - mailbox: Mailbox shared with the input producer. Must not be nil.
//   - sink: Display sink for received messages. Must not be nil.
//   - logger: Logger used to report dropped frames and errors. Use a Nop logger if nil.
//   - tracerProvider: Tracer provider used to trace sent and received messages. Use global
//     tracer provider if nil.
//   - meterProvider: Meter provider used to count dropped frames. Use global meter provider if
//     nil.
//
// # Returns
//
// A new ChatClient or an error if the mailbox or the sink is missing or if the instruments
// could not be created.
func NewChatClient(
	mailbox *Mailbox,
	sink io.Writer,
	logger *zap.Logger,
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider) (*ChatClient, error) {
	if mailbox == nil {
		return nil, fmt.Errorf("mailbox cannot be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("display sink cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	dropped, err := meterProvider.Meter(instrumentationName).Int64Counter(
		"chat.frames.dropped",
		metric.WithDescription("Number of chat frames dropped because they could not be encoded or decoded"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped frames counter: %w", err)
	}
	return &ChatClient{
		mailbox:       mailbox,
		sink:          sink,
		sinkMu:        sync.Mutex{},
		logger:        logger,
		tracer:        tracerProvider.Tracer(instrumentationName),
		droppedFrames: dropped,
	}, nil
}

// Print the connection banner.
func (client *ChatClient) OnOpen(
	ctx context.Context,
	resp *http.Response,
	requestWritable func(),
	exit context.CancelFunc) error {
	client.logger.Info("connected to chat server")
	client.display(ConnectionEstablishedBanner)
	return nil
}

// # Description
//
// Take the pending message from the mailbox, if any, encode it and write it. Nothing is written
// when the mailbox is empty. A message which cannot be encoded is dropped and reported: the
// connection is not affected.
//
// # Returns
//
// An error only if the write failed. The engine treats it as fatal.
func (client *ChatClient) OnWritable(ctx context.Context, writer wsclient.FrameWriter) error {
	msg, ok := client.mailbox.Take()
	if !ok {
		return nil
	}
	ctx, span := client.tracer.Start(ctx, "chat.send", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	payload, err := Encode(msg)
	if err != nil {
		client.dropped(ctx, "outbound")
		client.logger.Warn("outbound message dropped", zap.Error(err), zap.Int("text.length", len(msg.Text)))
		span.RecordError(err)
		span.SetStatus(codes.Ok, "message dropped")
		return nil
	}
	span.SetAttributes(attribute.Int("message.length", len(payload)))
	if err := writer.Write(ctx, wsadapters.Text, payload); err != nil {
		return handleError(span, fmt.Errorf("failed to send chat message: %w", err))
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}

// Decode a received frame and print it as "[username]: text". Text and binary frames are decoded
// alike. Malformed frames are discarded.
func (client *ChatClient) OnMessage(
	ctx context.Context,
	exit context.CancelFunc,
	sessionId string,
	msgType wsadapters.MessageType,
	msg []byte) {
	ctx, span := client.tracer.Start(ctx, "chat.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.Int("message.length", len(msg))))
	defer span.End()
	span.SetAttributes(attribute.String("message.type", msgType.String()))
	decoded, err := Decode(msg)
	if err != nil {
		client.dropped(ctx, "inbound")
		client.logger.Warn("malformed frame discarded", zap.Error(err), zap.Int("message.length", len(msg)))
		span.RecordError(err)
		span.SetStatus(codes.Ok, "malformed frame discarded")
		return
	}
	client.display(fmt.Sprintf("[%s]: %s", decoded.Username, decoded.Text))
	span.SetStatus(codes.Ok, codes.Ok.String())
}

func (client *ChatClient) OnReadError(ctx context.Context, err error) {
	client.logger.Error("failed to read from chat server", zap.Error(err))
}

// Print the closing banner and reply with a normal closure.
func (client *ChatClient) OnClose(
	ctx context.Context,
	closeMessage *wsclient.CloseMessageDetails) *wsclient.CloseMessageDetails {
	if closeMessage != nil {
		client.logger.Info("connection closed by chat server",
			zap.Int("close.code", int(closeMessage.CloseReason)),
			zap.String("close.reason", closeMessage.CloseMessage))
	} else {
		client.logger.Info("connection closed")
	}
	client.display(ConnectionClosedBanner)
	return &wsclient.CloseMessageDetails{
		CloseReason:  wsadapters.NormalClosure,
		CloseMessage: "",
	}
}

func (client *ChatClient) OnCloseError(ctx context.Context, err error) {
	client.logger.Warn("failed to close connection", zap.Error(err))
}

// Write a line on the display sink.
func (client *ChatClient) display(line string) {
	client.sinkMu.Lock()
	defer client.sinkMu.Unlock()
	if _, err := fmt.Fprintln(client.sink, line); err != nil {
		client.logger.Warn("failed to write on display sink", zap.Error(err))
	}
}

func (client *ChatClient) dropped(ctx context.Context, direction string) {
	client.droppedFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("direction", direction)))
}

// Record the error on the span, set an error status and return the error as is.
func handleError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, codes.Error.String())
	return err
}
