// Package wsadaptergobwas contains a WebsocketConnectionAdapterInterface implementation for the
// gobwas/ws library (https://github.com/gobwas/ws).
//
// gobwas/ws is a low level library: the adapter handles frame reassembly, control frames and
// write serialization on top of the raw net.Conn returned by the library dialer.
package wsadaptergobwas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Read limit applied to connections when none is provided.
const DefaultReadLimit int64 = 32768

// Deadline used when writing control frames.
const controlWriteTimeout = 10 * time.Second

// Error returned by Read when a message exceeds the read limit.
var ErrReadLimitExceeded = errors.New("read limit exceeded")

// Adapter for gobwas/ws library
type GobwasWebsocketConnectionAdapter struct {
	// Underlying connection
	conn net.Conn
	// Source for frames: the buffered reader returned by the dialer or the connection
	source io.Reader
	// Dialer used to open connections
	dialer ws.Dialer
	// Maximum size in bytes of a message read from the server
	readLimit int64
	// Internal mutex
	mu sync.Mutex
	// Serializes frame writes on the connection
	writeMu sync.Mutex
	// Pending ping calls. Each channel waits for a pong or an error.
	pingRequests chan chan error
}

// # Description
//
// Factory which creates a new GobwasWebsocketConnectionAdapter.
//
// # Inputs
//
//   - dialer: Dialer to use. The zero value is a valid dialer.
//   - readLimit: Maximum size of an incoming message. DefaultReadLimit is used if lower than 1.
//
// # Returns
//
// New GobwasWebsocketConnectionAdapter
func NewGobwasWebsocketConnectionAdapter(dialer ws.Dialer, readLimit int64) *GobwasWebsocketConnectionAdapter {
	if readLimit < 1 {
		readLimit = DefaultReadLimit
	}
	return &GobwasWebsocketConnectionAdapter{
		dialer:       dialer,
		readLimit:    readLimit,
		mu:           sync.Mutex{},
		writeMu:      sync.Mutex{},
		pingRequests: make(chan chan error, 10),
	}
}

// # Description
//
// Dial opens a connection to the websocket server and performs the opening handshake.
//
// # Returns
//
// Always a nil response as gobwas/ws does not expose the handshake response, and an error if
// the connection could not be established.
func (adapter *GobwasWebsocketConnectionAdapter) Dial(ctx context.Context, target url.URL) (*http.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		if adapter.conn != nil {
			return nil, fmt.Errorf("a connection has already been established")
		}
		conn, br, _, err := adapter.dialer.Dial(ctx, target.String())
		if err != nil {
			return nil, err
		}
		adapter.conn = conn
		adapter.source = conn
		if br != nil {
			// Server may have sent frames along with the handshake response
			adapter.source = br
		}
		return nil, nil
	}
}

// # Description
//
// Send a close frame with the provided status code and optional reason and drop the
// connection. Pending Ping calls are unlocked with a WebsocketCloseError.
func (adapter *GobwasWebsocketConnectionAdapter) Close(ctx context.Context, code wsadapters.StatusCode, reason string) error {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.conn == nil {
		return fmt.Errorf("close failed because no connection is up: %w", net.ErrClosed)
	}
	err := adapter.writeFrame(adapter.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusCode(code), reason), time.Now().Add(controlWriteTimeout))
	propagateToAllActiveListener(adapter.pingRequests, wsadapters.WebsocketCloseError{
		Code:   code,
		Reason: reason,
		Err:    fmt.Errorf("client closed the connection"),
	})
	adapter.conn.Close()
	adapter.conn = nil
	adapter.source = nil
	return err
}

// # Description
//
// Send a ping frame and block until a pong is received. A concurrent goroutine must call Read
// so the pong can be processed.
func (adapter *GobwasWebsocketConnectionAdapter) Ping(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		conn, _ := adapter.current()
		if conn == nil {
			return fmt.Errorf("ping failed because no connection is up")
		}
		pong := make(chan error, 1)
		adapter.pingRequests <- pong
		if err := adapter.writeFrame(conn, ws.OpPing, nil, time.Now().Add(controlWriteTimeout)); err != nil {
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
// Read a single data message from the server. Fragmented messages are reassembled and control
// frames are handled: pings are answered, pongs unlock pending Ping calls and close frames are
// answered and turned into a WebsocketCloseError.
//
// Messages bigger than the read limit make the adapter close the connection with 1009 and
// return ErrReadLimitExceeded.
func (adapter *GobwasWebsocketConnectionAdapter) Read(ctx context.Context) (wsadapters.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return -1, nil, ctx.Err()
	default:
		conn, source := adapter.current()
		if conn == nil {
			return -1, nil, fmt.Errorf("read failed because no connection is up")
		}
		onControl := func(hdr ws.Header, payload io.Reader) error {
			return adapter.handleControlFrame(conn, hdr, payload)
		}
		rd := &wsutil.Reader{
			Source:         source,
			State:          ws.StateClientSide,
			CheckUTF8:      false,
			OnIntermediate: onControl,
		}
		for {
			hdr, err := rd.NextFrame()
			if err != nil {
				return -1, nil, adapter.fail(conn, err)
			}
			if hdr.OpCode.IsControl() {
				if err := onControl(hdr, rd); err != nil {
					return -1, nil, adapter.fail(conn, err)
				}
				continue
			}
			msgType := wsadapters.Binary
			if hdr.OpCode == ws.OpText {
				msgType = wsadapters.Text
			}
			msg, err := io.ReadAll(io.LimitReader(rd, adapter.readLimit+1))
			if err != nil {
				return -1, nil, adapter.fail(conn, err)
			}
			if int64(len(msg)) > adapter.readLimit {
				adapter.writeFrame(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusMessageTooBig, ""), time.Now().Add(controlWriteTimeout))
				return -1, nil, adapter.fail(conn, fmt.Errorf("%w: message bigger than %d bytes", ErrReadLimitExceeded, adapter.readLimit))
			}
			return msgType, msg, nil
		}
	}
}

// # Description
//
// Write a single data message to the server.
func (adapter *GobwasWebsocketConnectionAdapter) Write(ctx context.Context, msgType wsadapters.MessageType, msg []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		conn, _ := adapter.current()
		if conn == nil {
			return fmt.Errorf("write failed because no connection is up")
		}
		op := ws.OpBinary
		if msgType == wsadapters.Text {
			op = ws.OpText
		}
		deadline, _ := ctx.Deadline()
		return adapter.writeFrame(conn, op, msg, deadline)
	}
}

// Return the underlying net.Conn if any (nil otherwise).
func (adapter *GobwasWebsocketConnectionAdapter) GetUnderlyingWebsocketConnection() any {
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

// Get the current connection and frame source.
func (adapter *GobwasWebsocketConnectionAdapter) current() (net.Conn, io.Reader) {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	return adapter.conn, adapter.source
}

// Write a single masked frame. A zero deadline means no deadline.
func (adapter *GobwasWebsocketConnectionAdapter) writeFrame(conn net.Conn, op ws.OpCode, payload []byte, deadline time.Time) error {
	adapter.writeMu.Lock()
	defer adapter.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	defer conn.SetWriteDeadline(time.Time{})
	return wsutil.WriteClientMessage(conn, op, payload)
}

// Process a control frame. Replies produced by the library handler are buffered then written
// in one piece so they do not interleave with data frames.
func (adapter *GobwasWebsocketConnectionAdapter) handleControlFrame(conn net.Conn, hdr ws.Header, payload io.Reader) error {
	if hdr.OpCode == ws.OpPong {
		if _, err := io.Copy(io.Discard, payload); err != nil {
			return err
		}
		propagateToFirstActiveListener(adapter.pingRequests, nil)
		return nil
	}
	reply := new(bytes.Buffer)
	handlerErr := wsutil.ControlFrameHandler(reply, ws.StateClientSide)(hdr, payload)
	if reply.Len() > 0 {
		adapter.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
		_, err := conn.Write(reply.Bytes())
		conn.SetWriteDeadline(time.Time{})
		adapter.writeMu.Unlock()
		if err != nil && handlerErr == nil {
			return err
		}
	}
	return handlerErr
}

// Drop the connection after a read failure and convert the error: closures are reported with
// a WebsocketCloseError, other errors are returned as is.
func (adapter *GobwasWebsocketConnectionAdapter) fail(conn net.Conn, err error) error {
	adapter.mu.Lock()
	if adapter.conn == conn {
		conn.Close()
		adapter.conn = nil
		adapter.source = nil
	}
	adapter.mu.Unlock()
	var ce wsutil.ClosedError
	switch {
	case errors.As(err, &ce):
		err = wsadapters.WebsocketCloseError{
			Code:   wsadapters.StatusCode(ce.Code),
			Reason: ce.Reason,
			Err:    err,
		}
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed):
		err = wsadapters.WebsocketCloseError{
			Code:   wsadapters.AbnormalClosure,
			Reason: "websocket connection abnormal closure",
			Err:    err,
		}
	}
	propagateToAllActiveListener(adapter.pingRequests, err)
	return err
}

// Propagate a notification to the first writeable (non-blocking write) channel received.
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

// Propagate a notification to all writeable (non-blocking write) channels received.
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
