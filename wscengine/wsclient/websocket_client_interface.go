// Package wsclient defines the callbacks the websocket engine uses to hand connection events
// to the application.
package wsclient

import (
	"context"
	"net/http"

	"github.com/gbdevw/gowschat/wscengine/wsadapters"
)

// Structure which holds data for a websocket close message.
type CloseMessageDetails struct {
	// Close reason code
	CloseReason wsadapters.StatusCode
	// Close reason message. Can be empty.
	CloseMessage string
}

// Write access to the connection. A FrameWriter is only handed to OnWritable and must not be
// retained: it refuses to write once the callback returns or the connection leaves the Open
// state.
type FrameWriter interface {
	// Write a single data message to the server.
	Write(ctx context.Context, msgType wsadapters.MessageType, msg []byte) error
}

// Interface which defines callbacks called by the websocket engine.
//
// All callbacks are called from the engine event loop goroutine, one at a time. Callbacks must
// not block for long: no other event is processed until they return.
type WebsocketClientInterface interface {
	// # Description
	//
	// Callback called once when the engine has opened the connection to the websocket server.
	//
	// # Inputs
	//
	//   - ctx: context bound to the OnOpen call. Done when OnOpenTimeoutMs elapses.
	//   - resp: Server response to the opening handshake. Can be nil.
	//   - requestWritable: Function to call to get OnWritable called on the next loop
	//     iteration. Safe for concurrent use.
	//   - exit: Function to call to stop the engine.
	//
	// # Returns
	//
	// nil in case of success. An error makes the engine close the connection and fail.
	OnOpen(
		ctx context.Context,
		resp *http.Response,
		requestWritable func(),
		exit context.CancelFunc) error

	// # Description
	//
	// Callback called when the connection can accept a write and writability has been
	// requested since the last call. Writability has to be requested again to get another call.
	//
	// # Returns
	//
	// nil in case of success. An error is unrecoverable: the engine stops writing and fails.
	OnWritable(
		ctx context.Context,
		writer FrameWriter) error

	// # Description
	//
	// Callback called when a message is read from the server.
	//
	// # Inputs
	//
	//   - ctx: context bound to the OnMessage call.
	//   - exit: Function to call to stop the engine.
	//   - sessionId: Unique identifier produced by the engine for the connection.
	//   - msgType: Message type returned by read function.
	//   - msg: Received message. Owned by the callee.
	OnMessage(
		ctx context.Context,
		exit context.CancelFunc,
		sessionId string,
		msgType wsadapters.MessageType,
		msg []byte)

	// # Description
	//
	// Callback called when a read operation fails for another reason than a connection
	// closure. The engine fails after the callback completes.
	OnReadError(
		ctx context.Context,
		err error)

	// # Description
	//
	// Callback called once when the session ends: the connection has been closed by the
	// server, is about to be closed following a Stop call or an exit call, or the engine failed.
	//
	// # Inputs
	//
	//   - ctx: context bound to the OnClose call.
	//   - closeMessage: Close message received from the server. nil when the connection is
	//     closed by the client or when the engine failed.
	//
	// # Returns
	//
	// The close message to send to the server when the client closes the connection. If nil,
	// 1000 "Normal Closure" is used. Ignored when the server closed the connection or when the
	// engine failed.
	OnClose(
		ctx context.Context,
		closeMessage *CloseMessageDetails) *CloseMessageDetails

	// # Description
	//
	// Callback called in case an error has occured when the engine closed the connection.
	OnCloseError(
		ctx context.Context,
		err error)
}
