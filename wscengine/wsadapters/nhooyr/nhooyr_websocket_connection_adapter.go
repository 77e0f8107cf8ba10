// Package wsadapternhooyr contains a WebsocketConnectionAdapterInterface implementation for the
// nhooyr/websocket library (https://github.com/nhooyr/websocket).
package wsadapternhooyr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"nhooyr.io/websocket"
)

// Read limit applied to connections when none is provided.
const DefaultReadLimit int64 = 32768

// Adapter for nhooyr/websocket library
type NhooyrWebsocketConnectionAdapter struct {
	// Underlying websocket connection
	conn *websocket.Conn
	// Dial options to use when opening a connection
	opts *websocket.DialOptions
	// Maximum size in bytes of a message read from the server
	readLimit int64
	// Internal mutex
	mu sync.Mutex
}

// # Description
//
// Factory which creates a new NhooyrWebsocketConnectionAdapter.
//
// # Inputs
//
//   - opts: Optional dial options to use when calling Dial method. Can be nil.
//   - readLimit: Maximum size of an incoming message. DefaultReadLimit is used if lower than 1.
//     Messages bigger than the limit make the library close the connection with 1009.
//
// # Returns
//
// New NhooyrWebsocketConnectionAdapter
func NewNhooyrWebsocketConnectionAdapter(opts *websocket.DialOptions, readLimit int64) *NhooyrWebsocketConnectionAdapter {
	if readLimit < 1 {
		readLimit = DefaultReadLimit
	}
	return &NhooyrWebsocketConnectionAdapter{
		conn:      nil,
		opts:      opts,
		readLimit: readLimit,
		mu:        sync.Mutex{},
	}
}

// # Description
//
// Dial opens a connection to the websocket server and performs the opening handshake.
//
// # Returns
//
// The server response to the handshake or an error if any.
func (adapter *NhooyrWebsocketConnectionAdapter) Dial(ctx context.Context, target url.URL) (*http.Response, error) {
	select {
	case <-ctx.Done():
		// Shortcut if context is done (timeout/cancel)
		return nil, ctx.Err()
	default:
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		if adapter.conn != nil {
			return nil, fmt.Errorf("a connection has already been established")
		}
		conn, res, err := websocket.Dial(ctx, target.String(), adapter.opts)
		if err != nil {
			return res, err
		}
		conn.SetReadLimit(adapter.readLimit)
		adapter.conn = conn
		return res, nil
	}
}

// # Description
//
// Send a close frame with the provided status code and optional reason and drop the
// connection.
func (adapter *NhooyrWebsocketConnectionAdapter) Close(ctx context.Context, code wsadapters.StatusCode, reason string) error {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.conn == nil {
		return fmt.Errorf("close failed because no connection is up: %w", net.ErrClosed)
	}
	err := adapter.conn.Close(convertToNhooyrStatusCodes(code), reason)
	// Void connection in any case
	adapter.conn = nil
	if err != nil && err.Error() == "failed to close WebSocket: already wrote close" {
		err = fmt.Errorf("failed to close WebSocket: %w", net.ErrClosed)
	}
	return err
}

// # Description
//
// Send a ping frame and block until the pong is received. A concurrent goroutine must call Read
// so the pong can be processed by the library.
func (adapter *NhooyrWebsocketConnectionAdapter) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		conn := adapter.current()
		if conn == nil {
			return fmt.Errorf("ping failed because no connection is up")
		}
		return conn.Ping(ctx)
	}
}

// # Description
//
// Read a single message from the server. Read blocks until a message is received or the
// connection closes.
//
// # Returns
//
// The message type and content, or a WebsocketCloseError if the connection has been closed.
func (adapter *NhooyrWebsocketConnectionAdapter) Read(ctx context.Context) (wsadapters.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return -1, nil, ctx.Err()
	default:
		conn := adapter.current()
		if conn == nil {
			return -1, nil, fmt.Errorf("read failed because no connection is up")
		}
		nhooyrMsgType, msg, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				// Error is not because connection was closed
				return -1, nil, err
			}
			// Drop the connection so a new one can be established
			adapter.drop(conn)
			if status != -1 {
				return -1, nil, wsadapters.WebsocketCloseError{
					Code:   convertFromNhooyrStatusCodes(status),
					Reason: err.Error(),
					Err:    err,
				}
			}
			return -1, nil, wsadapters.WebsocketCloseError{
				Code:   wsadapters.AbnormalClosure,
				Reason: "websocket connection abnormal closure",
				Err:    err,
			}
		}
		return convertFromNhooyrMsgTypes(nhooyrMsgType), msg, nil
	}
}

// # Description
//
// Write a single message to the server. Write blocks until the message has been written or an
// error occurs.
func (adapter *NhooyrWebsocketConnectionAdapter) Write(ctx context.Context, msgType wsadapters.MessageType, msg []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		conn := adapter.current()
		if conn == nil {
			return fmt.Errorf("write failed because no connection is up")
		}
		return conn.Write(ctx, convertToNhooyrMsgTypes(msgType), msg)
	}
}

// Return the underlying *websocket.Conn if any (nil otherwise).
func (adapter *NhooyrWebsocketConnectionAdapter) GetUnderlyingWebsocketConnection() any {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.conn == nil {
		return nil
	}
	return adapter.conn
}

/*************************************************************************************************/
/* UTILS                                                                                         */
/*************************************************************************************************/

// Get the current connection reference so the lock is not held during blocking calls.
func (adapter *NhooyrWebsocketConnectionAdapter) current() *websocket.Conn {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	return adapter.conn
}

// Drop the provided connection if it is still the current one.
func (adapter *NhooyrWebsocketConnectionAdapter) drop(conn *websocket.Conn) {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.conn == conn {
		adapter.conn = nil
	}
}

// Convert a status code to nhooyr enum. Unknown codes are converted to StatusAbnormalClosure.
func convertToNhooyrStatusCodes(code wsadapters.StatusCode) websocket.StatusCode {
	switch code {
	case wsadapters.NormalClosure:
		return websocket.StatusNormalClosure
	case wsadapters.GoingAway:
		return websocket.StatusGoingAway
	case wsadapters.ProtocolError:
		return websocket.StatusProtocolError
	case wsadapters.UnsupportedData:
		return websocket.StatusUnsupportedData
	case wsadapters.NoStatusReceived:
		return websocket.StatusNoStatusRcvd
	case wsadapters.InvalidFramePayloadData:
		return websocket.StatusInvalidFramePayloadData
	case wsadapters.PolicyViolation:
		return websocket.StatusPolicyViolation
	case wsadapters.MessageTooBig:
		return websocket.StatusMessageTooBig
	case wsadapters.MandatoryExtension:
		return websocket.StatusMandatoryExtension
	case wsadapters.InternalError:
		return websocket.StatusInternalError
	case wsadapters.TLSHandshake:
		return websocket.StatusTLSHandshake
	default:
		return websocket.StatusAbnormalClosure
	}
}

// Convert a status code from nhooyr enum. Unknown codes are converted to AbnormalClosure.
func convertFromNhooyrStatusCodes(code websocket.StatusCode) wsadapters.StatusCode {
	switch code {
	case websocket.StatusNormalClosure:
		return wsadapters.NormalClosure
	case websocket.StatusGoingAway:
		return wsadapters.GoingAway
	case websocket.StatusProtocolError:
		return wsadapters.ProtocolError
	case websocket.StatusUnsupportedData:
		return wsadapters.UnsupportedData
	case websocket.StatusNoStatusRcvd:
		return wsadapters.NoStatusReceived
	case websocket.StatusInvalidFramePayloadData:
		return wsadapters.InvalidFramePayloadData
	case websocket.StatusPolicyViolation:
		return wsadapters.PolicyViolation
	case websocket.StatusMessageTooBig:
		return wsadapters.MessageTooBig
	case websocket.StatusMandatoryExtension:
		return wsadapters.MandatoryExtension
	case websocket.StatusInternalError:
		return wsadapters.InternalError
	case websocket.StatusTLSHandshake:
		return wsadapters.TLSHandshake
	default:
		return wsadapters.AbnormalClosure
	}
}

// Convert message types to nhooyr types. Defaults to binary.
func convertToNhooyrMsgTypes(msgType wsadapters.MessageType) websocket.MessageType {
	if msgType == wsadapters.Text {
		return websocket.MessageText
	}
	return websocket.MessageBinary
}

// Convert message types from nhooyr types. Defaults to binary.
func convertFromNhooyrMsgTypes(msgType websocket.MessageType) wsadapters.MessageType {
	if msgType == websocket.MessageText {
		return wsadapters.Text
	}
	return wsadapters.Binary
}
