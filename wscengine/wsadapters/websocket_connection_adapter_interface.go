// Package wsadapters defines the transport collaborator used by the websocket engine: an
// interface that 3rd party websocket libraries are adapted to, the RFC6455 constants shared by
// adapters and an instrumentation decorator.
package wsadapters

import (
	"context"
	"net/http"
	"net/url"
)

// Interface which describes what the websocket engine expects from the underlying websocket
// library. The engine never manages sockets, TLS or the HTTP upgrade itself: it only uses the
// methods below.
//
// Adapters must be safe for concurrent use: the engine reads from one goroutine while it writes
// and closes from another one.
type WebsocketConnectionAdapterInterface interface {
	// # Description
	//
	// Dial opens a connection to the websocket server and performs the opening handshake.
	//
	// # Expected behaviour
	//
	//   - Dial MUST block until the handshake completes or fails. TLS and the HTTP upgrade are
	//     handled by the adapter or by the underlying library.
	//
	//   - Dial MUST keep the opened connection internally so it can be used by the other
	//     adapter methods. The connection is never returned to the caller.
	//
	//   - Dial MUST return an error if a connection is already open and Close has not been
	//     called since.
	//
	// # Inputs
	//
	//   - ctx: Context used for tracing/timeout purpose
	//   - target: Target server URL
	//
	// # Returns
	//
	// The server response to the handshake (can be nil if the library does not expose it) or an
	// error if the connection could not be established.
	Dial(ctx context.Context, target url.URL) (*http.Response, error)
	// # Description
	//
	// Send a close frame with the provided status code and optional reason, then drop the
	// connection.
	//
	// # Expected behaviour
	//
	//   - Close MUST block until the close frame has been written.
	//   - Close MUST drop the connection even if writing the close frame failed.
	//   - Close MUST return an error if there is no open connection.
	//
	// # Inputs
	//
	//   - ctx: Context used for tracing purpose
	//   - code: Status code to use in the close frame
	//   - reason: Optional close reason. Can be empty.
	//
	// # Returns
	//
	// nil in case of success or an error (no connection, server unreachable, ...).
	Close(ctx context.Context, code StatusCode, reason string) error
	// # Description
	//
	// Send a ping frame and block until the matching pong is received, the context expires or
	// the connection closes.
	//
	// # Expected behaviour
	//
	//   - A concurrent goroutine calling Read may be required for pongs to be processed. The
	//     engine always has one.
	//
	//   - Ping MUST return the context error when the context expires first.
	//
	// # Inputs
	//
	//   - ctx: Context used for tracing/timeout purpose.
	//
	// # Returns
	//
	// nil when a pong has been received, an error otherwise.
	Ping(ctx context.Context) error
	// # Description
	//
	// Read a single data message from the server. Read blocks until a message is received or the
	// connection closes.
	//
	// # Expected behaviour
	//
	//   - Read MUST reassemble fragmented messages and MUST handle control frames internally:
	//     close, ping, pong and continuation frames are never returned.
	//
	//   - Read MUST return a WebsocketCloseError when a close frame is received or when the
	//     connection drops. In the later case the 1006 status code MUST be used. The adapter
	//     drops the connection in both cases.
	//
	// # Inputs
	//
	//   - ctx: Context used for tracing purpose
	//
	// # Returns
	//
	//   - MessageType: received message type (Text | Binary)
	//   - []byte: message content
	//   - error: connection closure or failure
	Read(ctx context.Context) (MessageType, []byte, error)
	// # Description
	//
	// Write a single data message to the server. Write blocks until the message has been
	// written or an error occurs.
	//
	// # Expected behaviour
	//
	//   - Write MUST handle framing and masking of client frames.
	//   - Write MUST NOT be used to send control frames.
	//
	// # Inputs
	//
	//   - ctx: Context used for tracing/timeout purpose
	//   - msgType: Message type (Text | Binary)
	//   - msg: Message content
	//
	// # Returns
	//
	// nil on success, an error if the connection is closed, the context expired or the write
	// failed.
	Write(ctx context.Context, msgType MessageType, msg []byte) error
	// # Description
	//
	// Return the underlying websocket connection if any. Returned value has to be type asserted.
	GetUnderlyingWebsocketConnection() any
}
