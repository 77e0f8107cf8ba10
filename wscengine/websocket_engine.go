// Package wscengine contains a websocket client engine: an event loop which owns a single
// connection to a websocket server, turns transport events into client callbacks and is the only
// goroutine allowed to write to the connection.
package wscengine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"github.com/gbdevw/gowschat/wscengine/wsclient"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine which manages a websocket connection: it dials the server, reads incoming messages,
// serves writability requests and calls the appropriate client callbacks from a single event
// loop goroutine.
//
// An engine is single use: once the connection reaches a terminal state (Closed or Failed) the
// engine cannot be started again. There is no automatic reconnection.
type WebsocketEngine struct {
	// Target websocket server URL.
	target *url.URL
	// Websocket connection adapter used by engine to establish and use the websocket connection.
	conn wsadapters.WebsocketConnectionAdapterInterface
	// User defined callbacks called by the websocket engine.
	wsclient wsclient.WebsocketClientInterface
	// Configuration options used by the engine.
	engineCfgOpts *WebsocketEngineConfigurationOptions
	// Tracer used to instrument websocket engine code.
	tracer trace.Tracer
	// Engine counters.
	metrics *engineMetrics
	// Logger
	logger *zap.Logger
	// Protects Start/Stop methods and the started flag.
	startMutex sync.Mutex
	// Whether Start has been called.
	started bool
	// Protects state, failure and sessionId.
	stateMutex sync.RWMutex
	// Current connection state.
	state ConnectionState
	// Reason why the engine failed, if it did.
	failure error
	// Set when the client wants OnWritable to be called.
	writableRequested atomic.Bool
	// Wakes the event loop up early when writability is requested.
	wakeup chan struct{}
	// Context bound to the event loop lifetime. Canceled to stop the engine.
	engineCtx context.Context
	// Cancel function associated to engineCtx and used to stop the engine.
	engineStopFunc context.CancelFunc
	// Unique identifier of the connection.
	sessionId string
	// Closed when the engine has definitely stopped.
	done chan struct{}
	// Ensures done is closed once.
	doneOnce sync.Once
}

// Event forwarded by the reader goroutine to the event loop.
type readEvent struct {
	msgType wsadapters.MessageType
	msg     []byte
	err     error
}

// # Description
//
// Factory - Return a new, not started websocket engine.
//
// # Inputs
//   - url: Target websocket server URL.
//   - conn: Websocket connection adapter engine will use to connect to the target server.
//   - wsclient: User provided callbacks which will be called by the websocket engine.
//   - opts: Engine configuration options. If nil, default options are used.
//   - tracerProvider: OpenTelemetry tracer provider to use. If nil, global TracerProvider is used.
//   - meterProvider: OpenTelemetry meter provider to use. If nil, global MeterProvider is used.
//   - logger: Logger to use. If nil, a Nop logger is used.
//
// # Return
//
// Factory returns a new, non-started websocket engine in case of success. If provided options
// are invalid, factory will return nil and an error.
func NewWebsocketEngine(
	url *url.URL,
	conn wsadapters.WebsocketConnectionAdapterInterface,
	wsclient wsclient.WebsocketClientInterface,
	opts *WebsocketEngineConfigurationOptions,
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider,
	logger *zap.Logger) (*WebsocketEngine, error) {
	if url == nil {
		return nil, fmt.Errorf("provided url is nil")
	}
	if wsclient == nil {
		return nil, fmt.Errorf("provided websocket client is nil")
	}
	if conn == nil {
		return nil, fmt.Errorf("provided connection adapter is nil")
	}
	if opts == nil {
		opts = NewWebsocketEngineConfigurationOptions()
	}
	err := Validate(opts)
	if err != nil {
		return nil, err
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Decorate provided connection adapter if needed
	if _, ok := conn.(*wsadapters.WebsocketConnectionAdapterInstrumentationDecorator); !ok {
		conn = wsadapters.NewWebsocketConnectionAdapterInstrumentationDecorator(conn, tracerProvider)
	}
	decorated, err := newWebsocketClientInstrumentationDecorator(wsclient, tracerProvider)
	if err != nil {
		return nil, err
	}
	metrics, err := newEngineMetrics(meterProvider.Meter(pkgName, metric.WithInstrumentationVersion(pkgVersion)))
	if err != nil {
		return nil, err
	}
	return &WebsocketEngine{
		target:         url,
		conn:           conn,
		wsclient:       decorated,
		engineCfgOpts:  opts,
		tracer:         tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
		metrics:        metrics,
		logger:         logger.With(zap.String("target", url.String())),
		state:          Connecting,
		wakeup:         make(chan struct{}, 1),
		engineCtx:      context.Background(),
		engineStopFunc: func() {},
		done:           make(chan struct{}),
	}, nil
}

// # Description
//
// Start the websocket engine: open a connection to the server, call OnOpen callback and then
// start the event loop.
//
// The Start method blocks until the connection is open and OnOpen has completed, or until an
// error or a timeout (OnOpenTimeoutMs) occurs.
//
// # Inputs
//
//   - ctx: context used for tracing purpose and to cancel the start phase. Canceling it after
//     Start returns has no effect on the running engine.
//
// # Return
//
// The method will return nil on success. Otherwise, it returns an EngineStartError and the
// engine is Failed:
//   - Provided context is canceled.
//   - Engine has already been started.
//   - The engine fails to open a connection to the websocket server.
//   - OnOpen returned an error: In this case, returned error embed error returned by OnOpen.
//   - A timeout occured during startup phase.
//
// The engine does not retry: a failed engine cannot be started again.
func (wsengine *WebsocketEngine) Start(ctx context.Context) error {
	wsengine.startMutex.Lock()
	defer wsengine.startMutex.Unlock()
	ctx, span := wsengine.tracer.Start(ctx, spanEngineStart,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	if wsengine.started {
		err := EngineStartError{Err: fmt.Errorf("engine has already started")}
		return handleError(err, span, codes.Error, codes.Error.String())
	}
	wsengine.started = true
	select {
	case <-ctx.Done():
		return wsengine.abortStart(ctx, span, ctx.Err())
	default:
	}
	// Separate context so the timeout does not apply to the running engine
	startCtx := ctx
	if wsengine.engineCfgOpts.OnOpenTimeoutMs > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, millis(wsengine.engineCfgOpts.OnOpenTimeoutMs))
		defer cancel()
	}
	wsengine.logger.Debug("opening websocket connection")
	resp, err := wsengine.conn.Dial(startCtx, *wsengine.target)
	if err != nil {
		return wsengine.abortStart(ctx, span, err)
	}
	wsengine.stateMutex.Lock()
	wsengine.sessionId = uuid.New().String()
	wsengine.stateMutex.Unlock()
	span.SetAttributes(attribute.String(attrSessionId, wsengine.sessionId))
	wsengine.logger = wsengine.logger.With(zap.String("session", wsengine.sessionId))
	wsengine.engineCtx, wsengine.engineStopFunc = context.WithCancel(context.Background())
	wsengine.transition(ctx, Open, nil)
	// First write opportunity is requested as soon as the connection is open
	wsengine.RequestWritable()
	err = wsengine.wsclient.OnOpen(startCtx, resp, wsengine.RequestWritable, wsengine.engineStopFunc)
	if err == nil {
		err = startCtx.Err()
	}
	if err != nil {
		rsn := "websocket client failed to start"
		rsnCode := wsadapters.GoingAway
		span.AddEvent(eventConnectionClosed, trace.WithAttributes(
			attribute.Int(attrCloseCode, int(rsnCode)),
			attribute.String(attrCloseReason, rsn),
		))
		if errClose := wsengine.conn.Close(ctx, rsnCode, rsn); errClose != nil {
			span.RecordError(errClose)
		}
		wsengine.engineStopFunc()
		return wsengine.abortStart(ctx, span, err)
	}
	// Start the reader and the event loop
	events := make(chan readEvent)
	readerCtx, cancelReader := context.WithCancel(context.Background())
	go wsengine.readMessages(readerCtx, events)
	go wsengine.runEngine(wsengine.engineCtx, events, cancelReader)
	wsengine.logger.Info("websocket engine started")
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}

// # Description
//
// Stop the websocket engine. The method will block until the engine has stopped: the engine
// calls OnClose callback, closes the websocket connection and exits.
//
// Calling Stop on an engine which has already reached a terminal state returns immediately.
//
// # Return
//
// The method returns nil on success or an error if:
//   - the websocket engine is not started.
//   - a timeout has occured while waiting for the engine to stop (if enabled).
func (wsengine *WebsocketEngine) Stop(ctx context.Context) error {
	wsengine.startMutex.Lock()
	defer wsengine.startMutex.Unlock()
	ctx, span := wsengine.tracer.Start(ctx, spanEngineStop,
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	if !wsengine.started {
		return handleError(fmt.Errorf("websocket engine is not started"), span, codes.Error, codes.Error.String())
	}
	if wsengine.engineCfgOpts.StopTimeoutMs > 0 {
		var stopCancel context.CancelFunc
		ctx, stopCancel = context.WithTimeout(ctx, millis(wsengine.engineCfgOpts.StopTimeoutMs))
		defer stopCancel()
	}
	// Event loop performs the shutdown
	wsengine.engineStopFunc()
	select {
	case <-ctx.Done():
		return handleError(ctx.Err(), span, codes.Error, codes.Error.String())
	case <-wsengine.done:
		span.SetStatus(codes.Ok, codes.Ok.String())
		return nil
	}
}

// # Description
//
// Request OnWritable to be called on the next event loop iteration. The method never blocks,
// is safe for concurrent use and does nothing once the connection has reached a terminal state.
func (wsengine *WebsocketEngine) RequestWritable() {
	if !wsengine.armWritable() {
		return
	}
	select {
	case wsengine.wakeup <- struct{}{}:
	default:
		// A wake up is already pending
	}
}

// Set the writability flag unless the connection is terminal. The state lock is held so a
// concurrent move to a terminal state cannot be followed by a stale request.
func (wsengine *WebsocketEngine) armWritable() bool {
	wsengine.stateMutex.RLock()
	defer wsengine.stateMutex.RUnlock()
	if wsengine.state.IsTerminal() {
		return false
	}
	wsengine.writableRequested.Store(true)
	return true
}

/*************************************************************************************************/
/* STATE ACCESSORS                                                                               */
/*************************************************************************************************/

// Return the current connection state.
func (wsengine *WebsocketEngine) State() ConnectionState {
	wsengine.stateMutex.RLock()
	defer wsengine.stateMutex.RUnlock()
	return wsengine.state
}

// Return the reason why the engine failed or nil if it has not failed.
func (wsengine *WebsocketEngine) Err() error {
	wsengine.stateMutex.RLock()
	defer wsengine.stateMutex.RUnlock()
	return wsengine.failure
}

// Return a channel closed when the engine has definitely stopped.
func (wsengine *WebsocketEngine) Done() <-chan struct{} {
	return wsengine.done
}

// # Description
//
// Block until the engine has definitely stopped or the provided context is done.
//
// # Returns
//
// The reason why the engine failed, nil if the connection was closed normally, or the context
// error.
func (wsengine *WebsocketEngine) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wsengine.done:
		return wsengine.Err()
	}
}

// Return the identifier of the current connection. Empty until the connection is open.
func (wsengine *WebsocketEngine) SessionId() string {
	wsengine.stateMutex.RLock()
	defer wsengine.stateMutex.RUnlock()
	return wsengine.sessionId
}

/*************************************************************************************************/
/* WEBSOCKET ENGINE                                                                              */
/*************************************************************************************************/

// Fail the engine during the start phase.
func (wsengine *WebsocketEngine) abortStart(ctx context.Context, span trace.Span, reason error) error {
	err := EngineStartError{Err: reason}
	wsengine.transition(ctx, Failed, err)
	wsengine.logger.Error("websocket engine failed to start", zap.Error(reason))
	wsengine.closeDone()
	return handleError(err, span, codes.Error, codes.Error.String())
}

// # Description
//
// Reader goroutine: continuously read messages from the connection and forward them to the
// event loop. The goroutine exits after forwarding an error or when ctx is canceled.
//
// Reads use a fresh context: some adapters close the connection when the read context is
// canceled.
func (wsengine *WebsocketEngine) readMessages(ctx context.Context, events chan<- readEvent) {
	for {
		msgType, msg, err := wsengine.conn.Read(context.Background())
		select {
		case events <- readEvent{msgType: msgType, msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// # Description
//
// Event loop. The loop waits for a transport event, a writability request, a heartbeat tick or
// the poll interval, dispatches the event and then serves pending writability requests. The loop
// is the only goroutine which writes to the connection.
//
// The loop exits once the connection reaches a terminal state.
func (wsengine *WebsocketEngine) runEngine(engineCtx context.Context, events <-chan readEvent, cancelReader context.CancelFunc) {
	defer wsengine.closeDone()
	defer cancelReader()
	poll := time.NewTicker(millis(wsengine.engineCfgOpts.PollIntervalMs))
	defer poll.Stop()
	var heartbeat <-chan time.Time
	if wsengine.engineCfgOpts.HeartbeatIntervalMs > 0 {
		ticker := time.NewTicker(millis(wsengine.engineCfgOpts.HeartbeatIntervalMs))
		defer ticker.Stop()
		heartbeat = ticker.C
	}
	// Pings run in their own goroutine: the reader must keep reading to process the pong
	pongs := make(chan error, 1)
	pingInFlight := false
	for {
		wsengine.serviceWritable()
		if wsengine.State().IsTerminal() {
			return
		}
		select {
		case <-engineCtx.Done():
			wsengine.shutdownEngine(nil, false)
			return
		case evt := <-events:
			if evt.err != nil {
				closeErr := new(wsadapters.WebsocketCloseError)
				if errors.As(evt.err, closeErr) {
					wsengine.shutdownEngine(&wsclient.CloseMessageDetails{
						CloseReason:  closeErr.Code,
						CloseMessage: closeErr.Reason,
					}, true)
					return
				}
				wsengine.wsclient.OnReadError(context.Background(), evt.err)
				wsengine.failEngine(EngineFailedError{Op: "read", Err: evt.err})
				return
			}
			wsengine.metrics.recordReceived(context.Background(), evt.msgType.String())
			wsengine.wsclient.OnMessage(context.Background(), wsengine.engineStopFunc, wsengine.sessionId, evt.msgType, evt.msg)
		case <-wsengine.wakeup:
		case <-poll.C:
		case <-heartbeat:
			if !pingInFlight {
				pingInFlight = true
				go wsengine.ping(pongs)
			}
		case err := <-pongs:
			pingInFlight = false
			if err != nil {
				wsengine.failEngine(EngineFailedError{Op: "heartbeat", Err: err})
				return
			}
		}
	}
}

// Send a heartbeat ping and publish the result.
func (wsengine *WebsocketEngine) ping(results chan<- error) {
	ctx, cancel := context.WithTimeout(context.Background(), millis(wsengine.engineCfgOpts.HeartbeatTimeoutMs))
	defer cancel()
	ctx, span := wsengine.tracer.Start(ctx, spanEngineHeartbeat,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String(attrSessionId, wsengine.sessionId)))
	defer span.End()
	results <- handlePotentialError(wsengine.conn.Ping(ctx), span)
}

// # Description
//
// Call OnWritable if the connection is open and writability has been requested. Writability is
// re-armed after each successful call so the client is polled again on the next iteration. An
// error returned by OnWritable fails the engine.
func (wsengine *WebsocketEngine) serviceWritable() {
	if wsengine.State() != Open || !wsengine.writableRequested.CompareAndSwap(true, false) {
		return
	}
	ctx := context.Background()
	wsengine.metrics.recordWritable(ctx)
	writer := &frameWriter{engine: wsengine}
	err := wsengine.wsclient.OnWritable(ctx, writer)
	writer.revoked.Store(true)
	if err != nil {
		wsengine.failEngine(EngineFailedError{Op: "write", Err: err})
		return
	}
	wsengine.armWritable()
}

// # Description
//
// Method called when the connection has to be closed normally: following a Stop call, a call to
// the exit function or a close message from the server. Method calls OnClose callback, closes the
// websocket connection if required with the returned close message (default: 1000 "Normal
// Closure") and moves the connection to the Closed state.
//
// # Inputs
//
//   - closeMessage: Close message received from the server. nil if the client closes.
//   - skipWebsocketClose: Skip connection close (because connection is already closed).
func (wsengine *WebsocketEngine) shutdownEngine(
	closeMessage *wsclient.CloseMessageDetails,
	skipWebsocketClose bool) {
	ctx, span := wsengine.tracer.Start(context.Background(), spanEngineShutdown,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(attrSessionId, wsengine.sessionId),
			attribute.Bool(attrHasCloseMessage, (closeMessage != nil)),
			attribute.Bool(attrSkipCloseConnection, skipWebsocketClose),
		))
	defer span.End()
	defer span.SetStatus(codes.Ok, codes.Ok.String())
	if !skipWebsocketClose {
		wsengine.transition(ctx, Closing, nil)
	}
	cmsg := wsengine.wsclient.OnClose(ctx, closeMessage)
	if skipWebsocketClose {
		cmsg = closeMessage
	} else {
		if cmsg == nil {
			cmsg = &wsclient.CloseMessageDetails{
				CloseReason:  wsadapters.NormalClosure,
				CloseMessage: "",
			}
		}
		err := wsengine.conn.Close(ctx, cmsg.CloseReason, cmsg.CloseMessage)
		if err != nil {
			span.RecordError(err)
			wsengine.logger.Warn("failed to close websocket connection", zap.Error(err))
			wsengine.wsclient.OnCloseError(ctx, err)
		}
	}
	span.AddEvent(eventConnectionClosed, trace.WithAttributes(
		attribute.String(attrCloseReason, cmsg.CloseMessage),
		attribute.Int(attrCloseCode, int(cmsg.CloseReason)),
	))
	wsengine.transition(ctx, Closed, nil)
	wsengine.logger.Info("websocket connection closed",
		zap.Int("code", int(cmsg.CloseReason)),
		zap.String("reason", cmsg.CloseMessage))
	span.AddEvent(eventEngineExit)
}

// # Description
//
// Method called when the open connection hits an unrecoverable error. Method moves the
// connection to the Failed state, calls OnClose callback and closes the connection with 1011
// "Internal Error" on a best effort basis.
func (wsengine *WebsocketEngine) failEngine(reason error) {
	ctx, span := wsengine.tracer.Start(context.Background(), spanEngineShutdown,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String(attrSessionId, wsengine.sessionId)))
	defer span.End()
	handleError(reason, span, codes.Error, codes.Error.String())
	wsengine.transition(ctx, Failed, reason)
	wsengine.logger.Error("websocket engine failed", zap.Error(reason))
	wsengine.wsclient.OnClose(ctx, nil)
	if err := wsengine.conn.Close(ctx, wsadapters.InternalError, "websocket client failure"); err != nil {
		// Connection is often already gone at this point
		wsengine.logger.Debug("failed to close websocket connection", zap.Error(err))
		wsengine.wsclient.OnCloseError(ctx, err)
	}
	span.AddEvent(eventEngineExit)
}

// # Description
//
// Move the connection to the next state if the transition is allowed. The failure reason is
// recorded when moving to Failed.
//
// # Returns
//
// true if the transition has been applied.
func (wsengine *WebsocketEngine) transition(ctx context.Context, next ConnectionState, reason error) bool {
	wsengine.stateMutex.Lock()
	current := wsengine.state
	if !current.CanTransitionTo(next) {
		wsengine.stateMutex.Unlock()
		wsengine.logger.Warn("invalid connection state transition ignored",
			zap.Stringer("from", current),
			zap.Stringer("to", next))
		return false
	}
	wsengine.state = next
	if next == Failed {
		wsengine.failure = reason
	}
	if next.IsTerminal() {
		wsengine.writableRequested.Store(false)
		select {
		case <-wsengine.wakeup:
		default:
		}
	}
	wsengine.stateMutex.Unlock()
	trace.SpanFromContext(ctx).AddEvent(eventStateTransition, trace.WithAttributes(
		attribute.String(attrStateFrom, current.String()),
		attribute.String(attrStateTo, next.String()),
	))
	wsengine.metrics.recordTransition(ctx, current, next)
	wsengine.logger.Debug("connection state changed",
		zap.Stringer("from", current),
		zap.Stringer("to", next))
	return true
}

// Close the done channel once.
func (wsengine *WebsocketEngine) closeDone() {
	wsengine.doneOnce.Do(func() { close(wsengine.done) })
}

/*************************************************************************************************/
/* FRAME WRITER                                                                                  */
/*************************************************************************************************/

// FrameWriter handed to OnWritable. It is revoked when the callback returns.
type frameWriter struct {
	engine  *WebsocketEngine
	revoked atomic.Bool
}

// Write a single data message to the server.
func (writer *frameWriter) Write(ctx context.Context, msgType wsadapters.MessageType, msg []byte) error {
	if writer.revoked.Load() {
		return ErrWriterRevoked
	}
	if state := writer.engine.State(); state != Open {
		return fmt.Errorf("%w: connection is %s", ErrConnectionNotOpen, state)
	}
	if err := writer.engine.conn.Write(ctx, msgType, msg); err != nil {
		return err
	}
	writer.engine.metrics.recordSent(ctx, msgType.String())
	return nil
}
