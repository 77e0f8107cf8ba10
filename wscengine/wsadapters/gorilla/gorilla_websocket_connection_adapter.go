// Package wsadaptergorilla contains a WebsocketConnectionAdapterInterface implementation for
// the gorilla/websocket library (https://github.com/gorilla/websocket).
package wsadaptergorilla

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"github.com/gorilla/websocket"
)

// Read limit applied to connections when none is provided.
const DefaultReadLimit int64 = 32768

// Deadline used when writing control frames.
const controlWriteTimeout = 10 * time.Second

// Adapter for gorilla/websocket library
type GorillaWebsocketConnectionAdapter struct {
	// Underlying websocket connection
	conn *websocket.Conn
	// Dialer to use when opening a connection
	dialer *websocket.Dialer
	// Headers to use when opening a connection
	requestHeader http.Header
	// Maximum size in bytes of a message read from the server
	readLimit int64
	// Internal mutex
	mu sync.Mutex
	// Serializes data frame writes: gorilla supports one concurrent writer
	writeMu sync.Mutex
	// Pending ping calls. Each channel waits for a pong or an error.
	pingRequests chan chan error
}

// # Description
//
// Factory which creates a new GorillaWebsocketConnectionAdapter.
//
// # Inputs
//
//   - dialer: Optional dialer to use when using Dial method. If nil, the default dialer
//     defined by gorilla library will be used.
//
//   - requestHeader: Headers which will be used during Dial to specify the origin (Origin),
//     subprotocols (Sec-WebSocket-Protocol) and cookies (Cookie)
//
//   - readLimit: Maximum size of an incoming message. DefaultReadLimit is used if lower than 1.
//
// # Returns
//
// New GorillaWebsocketConnectionAdapter
func NewGorillaWebsocketConnectionAdapter(dialer *websocket.Dialer, requestHeader http.Header, readLimit int64) *GorillaWebsocketConnectionAdapter {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if readLimit < 1 {
		readLimit = DefaultReadLimit
	}
	return &GorillaWebsocketConnectionAdapter{
		conn:          nil,
		dialer:        dialer,
		requestHeader: requestHeader,
		readLimit:     readLimit,
		mu:            sync.Mutex{},
		writeMu:       sync.Mutex{},
		// Capacity allows ping requests to be recorded before the ping frame is sent
		pingRequests: make(chan chan error, 10),
	}
}

// # Description
//
// Dial opens a connection to the websocket server and performs the opening handshake.
//
// # Returns
//
// The server response to the handshake or an error if any.
func (adapter *GorillaWebsocketConnectionAdapter) Dial(ctx context.Context, target url.URL) (*http.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		if adapter.conn != nil {
			return nil, fmt.Errorf("a connection has already been established")
		}
		conn, res, err := adapter.dialer.DialContext(ctx, target.String(), adapter.requestHeader)
		if err != nil {
			return res, err
		}
		conn.SetReadLimit(adapter.readLimit)
		// Pongs are consumed by gorilla before ReadMessage returns: use the handler to unlock
		// pending Ping calls.
		conn.SetPongHandler(func(string) error {
			propagateToFirstActiveListener(adapter.pingRequests, nil)
			return nil
		})
		adapter.conn = conn
		return res, nil
	}
}

// # Description
//
// Send a close frame with the provided status code and optional reason and drop the
// connection. Pending Ping calls are unlocked with a WebsocketCloseError.
func (adapter *GorillaWebsocketConnectionAdapter) Close(ctx context.Context, code wsadapters.StatusCode, reason string) error {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.conn == nil {
		return fmt.Errorf("close failed because no connection is up: %w", net.ErrClosed)
	}
	err := adapter.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(int(code), reason),
		time.Now().Add(controlWriteTimeout))
	propagateToAllActiveListener(adapter.pingRequests, wsadapters.WebsocketCloseError{
		Code:   code,
		Reason: reason,
		Err:    fmt.Errorf("client closed the connection"),
	})
	// Unblocks a pending ReadMessage
	adapter.conn.Close()
	adapter.conn = nil
	return err
}

// # Description
//
// Send a ping frame and block until a pong is received. A concurrent goroutine must call Read
// so the pong can be processed.
func (adapter *GorillaWebsocketConnectionAdapter) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		conn := adapter.current()
		if conn == nil {
			return fmt.Errorf("ping failed because no connection is up")
		}
		// Buffered so a pong received before the select below is not lost
		pong := make(chan error, 1)
		adapter.pingRequests <- pong
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteTimeout))
		if err != nil {
			return fmt.Errorf("ping failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-pong:
			return err
		}
	}
}

// # Description
//
// Read a single data message from the server. Control frames are processed by gorilla
// handlers: pings are answered, pongs unlock pending Ping calls and close frames are turned
// into a WebsocketCloseError.
func (adapter *GorillaWebsocketConnectionAdapter) Read(ctx context.Context) (wsadapters.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return -1, nil, ctx.Err()
	default:
		conn := adapter.current()
		if conn == nil {
			return -1, nil, fmt.Errorf("read failed because no connection is up")
		}
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			var closeErr wsadapters.WebsocketCloseError
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce):
				closeErr = wsadapters.WebsocketCloseError{
					Code:   wsadapters.StatusCode(ce.Code),
					Reason: ce.Text,
					Err:    err,
				}
			case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) ||
				strings.Contains(strings.ToLower(err.Error()), "use of closed network connection"):
				closeErr = wsadapters.WebsocketCloseError{
					Code:   wsadapters.AbnormalClosure,
					Reason: "websocket connection abnormal closure",
					Err:    err,
				}
			default:
				// Read limit exceeded, protocol errors, ...: gorilla connection cannot be read
				// anymore after an error.
				adapter.drop(conn)
				propagateToAllActiveListener(adapter.pingRequests, err)
				return -1, nil, err
			}
			adapter.drop(conn)
			propagateToAllActiveListener(adapter.pingRequests, closeErr)
			return -1, nil, closeErr
		}
		if msgType == websocket.TextMessage {
			return wsadapters.Text, msg, nil
		}
		return wsadapters.Binary, msg, nil
	}
}

// # Description
//
// Write a single data message to the server.
func (adapter *GorillaWebsocketConnectionAdapter) Write(ctx context.Context, msgType wsadapters.MessageType, msg []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		conn := adapter.current()
		if conn == nil {
			return fmt.Errorf("write failed because no connection is up")
		}
		gorillaMsgType := websocket.BinaryMessage
		if msgType == wsadapters.Text {
			gorillaMsgType = websocket.TextMessage
		}
		adapter.writeMu.Lock()
		defer adapter.writeMu.Unlock()
		if deadline, ok := ctx.Deadline(); ok {
			conn.SetWriteDeadline(deadline)
			defer conn.SetWriteDeadline(time.Time{})
		}
		return conn.WriteMessage(gorillaMsgType, msg)
	}
}

// Return the underlying *websocket.Conn if any (nil otherwise).
func (adapter *GorillaWebsocketConnectionAdapter) GetUnderlyingWebsocketConnection() any {
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
func (adapter *GorillaWebsocketConnectionAdapter) current() *websocket.Conn {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	return adapter.conn
}

// Drop and close the provided connection if it is still the current one.
func (adapter *GorillaWebsocketConnectionAdapter) drop(conn *websocket.Conn) {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.conn == conn {
		conn.Close()
		adapter.conn = nil
	}
}

// Propagate a notification to the first writeable (non-blocking write) channel received.
//
// The function returns false if no listener could be notified.
func propagateToFirstActiveListener(listeners chan chan error, notification error) bool {
	for {
		select {
		case listener := <-listeners:
			select {
			case listener <- notification:
				return true
			default:
				continue
			}
		default:
			return false
		}
	}
}

// Propagate a notification to all writeable (non-blocking write) channels received through
// the provided channel.
func propagateToAllActiveListener(listeners chan chan error, notification error) {
	for {
		select {
		case listener := <-listeners:
			select {
			case listener <- notification:
			default:
			}
		default:
			return
		}
	}
}
