package wscengine

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

/*************************************************************************************************/
/* TRACING                                                                                       */
/*************************************************************************************************/

const (
	// Instrumentation scope used for the engine tracer and meter
	pkgName    = "gowschat.wscengine"
	pkgVersion = "0.1.0"

	namespace       = "wscengine"
	loopNamespace   = namespace + ".loop"
	clientNamespace = namespace + ".client"
)

// Span names
const (
	spanEngineStart        = namespace + ".start"
	spanEngineStop         = namespace + ".stop"
	spanEngineOnOpen       = clientNamespace + ".on_open"
	spanEngineOnWritable   = clientNamespace + ".on_writable"
	spanEngineOnReadError  = clientNamespace + ".on_read_error"
	spanEngineOnMessage    = clientNamespace + ".on_message"
	spanEngineOnClose      = clientNamespace + ".on_close"
	spanEngineOnCloseError = clientNamespace + ".on_close_error"
	spanEngineShutdown     = loopNamespace + ".shutdown"
	spanEngineHeartbeat    = loopNamespace + ".heartbeat"
)

// Event names
const (
	eventConnectionClosed = namespace + ".connection_closed"
	eventStateTransition  = namespace + ".state_transition"
	eventEngineExit       = namespace + ".exit"
)

// Attribute keys
const (
	attrCloseCode   = namespace + ".close.code"
	attrCloseReason = namespace + ".close.reason"
	attrSessionId   = namespace + ".session_id"
	// Set on shutdown when the server already closed the connection
	attrSkipCloseConnection = namespace + ".close.skipped"
	attrHasCloseMessage     = namespace + ".close.received"
	attrMsgLength           = namespace + ".message.length"
	attrMsgType             = namespace + ".message.type"
	attrStateFrom           = namespace + ".state.from"
	attrStateTo             = namespace + ".state.to"
)

// Record err on span, set the span status with code and description, and return err as is.
func handleError(err error, span trace.Span, code codes.Code, description string) error {
	span.RecordError(err)
	span.SetStatus(code, description)
	return err
}

// Set an Ok status on span if err is nil. Otherwise, record err and set an Error status. err is
// returned as is.
func handlePotentialError(err error, span trace.Span) error {
	if err != nil {
		return handleError(err, span, codes.Error, codes.Error.String())
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}
