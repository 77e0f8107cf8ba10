// Package relaywsserver contains a small websocket relay used as a live peer by the test
// suites: every message received from a client is forwarded to all the other connected
// clients, and optionally echoed back to its sender.
package relaywsserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// A client connected to the relay.
type relayClient struct {
	// Identifier used in logs
	id string
	// Underlying connection
	conn *websocket.Conn
	// Serializes writes: gorilla connections support one concurrent writer
	writeMu sync.Mutex
}

// Write a message to the client.
func (client *relayClient) write(msgType int, msg []byte) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	return client.conn.WriteMessage(msgType, msg)
}

// Relay websocket server. The server implements http.Handler and can be mounted on any HTTP
// server, httptest.Server included.
type RelayWebsocketServer struct {
	// Websocket upgrader
	upgrader websocket.Upgrader
	// Whether messages are echoed back to their sender
	echo bool
	// Whether relayed messages are sent as binary frames whatever their original type
	binary bool
	// Connected clients
	clients map[string]*relayClient
	// Protects clients
	mu sync.Mutex
	// Context bound to the server lifetime
	serverCtx context.Context
	// Cancel function used to stop the server
	cancelServerCtx context.CancelFunc
	// Logger
	logger *zap.Logger
}

// # Description
//
// Factory which creates a new RelayWebsocketServer.
//
// # Inputs
//
//   - echo: If true, a message is also sent back to the client that sent it.
//   - logger: Logger to use. A Nop logger is used if nil.
func NewRelayWebsocketServer(echo bool, logger *zap.Logger) *RelayWebsocketServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RelayWebsocketServer{
		upgrader:        websocket.Upgrader{},
		echo:            echo,
		clients:         map[string]*relayClient{},
		serverCtx:       ctx,
		cancelServerCtx: cancel,
		logger:          logger,
	}
}

// # Description
//
// Relay every message as a binary frame, as some chat servers do.
func (srv *RelayWebsocketServer) SetBinaryRelay(enabled bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.binary = enabled
}

// # Description
//
// Close all client connections and refuse new ones.
func (srv *RelayWebsocketServer) Close() {
	srv.cancelServerCtx()
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for id, client := range srv.clients {
		client.conn.Close()
		delete(srv.clients, id)
	}
}

// # Description
//
// Close all client connections with a close frame carrying the provided code and reason. Used
// to simulate a server initiated close.
func (srv *RelayWebsocketServer) CloseClients(code int, reason string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, client := range srv.clients {
		client.writeMu.Lock()
		err := client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		client.writeMu.Unlock()
		if err != nil {
			srv.logger.Warn("failed to send close frame", zap.String("client", client.id), zap.Error(err))
		}
	}
}

// # Description
//
// Send a raw text message to every connected client.
func (srv *RelayWebsocketServer) Broadcast(msg []byte) {
	srv.forward("", websocket.TextMessage, msg)
}

// Return the number of connected clients.
func (srv *RelayWebsocketServer) ClientCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.clients)
}

// # Description
//
// Server handler which accepts incoming websocket connections.
func (srv *RelayWebsocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if srv.serverCtx.Err() != nil {
		http.Error(w, "server is closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Warn("an error occured while accepting client connection", zap.Error(err))
		return
	}
	client := &relayClient{id: uuid.NewString(), conn: conn}
	srv.mu.Lock()
	srv.clients[client.id] = client
	srv.mu.Unlock()
	srv.logger.Info("new client connected", zap.String("client", client.id))
	go srv.runClientSession(client)
}

// Read messages from a client and relay them until the connection is closed.
func (srv *RelayWebsocketServer) runClientSession(client *relayClient) {
	defer func() {
		srv.mu.Lock()
		delete(srv.clients, client.id)
		srv.mu.Unlock()
		client.conn.Close()
		srv.logger.Info("client disconnected", zap.String("client", client.id))
	}()
	for {
		msgType, msg, err := client.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
				strings.Contains(strings.ToLower(err.Error()), "use of closed network connection") {
				srv.logger.Debug("connection closed", zap.String("client", client.id), zap.Error(err))
				return
			}
			srv.logger.Warn("read error", zap.String("client", client.id), zap.Error(err))
			return
		}
		srv.logger.Debug("received", zap.String("client", client.id), zap.ByteString("message", msg))
		srv.forward(client.id, msgType, msg)
	}
}

// Forward a message to all clients except the sender (unless echo is enabled).
func (srv *RelayWebsocketServer) forward(senderId string, msgType int, msg []byte) {
	srv.mu.Lock()
	if srv.binary {
		msgType = websocket.BinaryMessage
	}
	targets := make([]*relayClient, 0, len(srv.clients))
	for id, client := range srv.clients {
		if id == senderId && !srv.echo {
			continue
		}
		targets = append(targets, client)
	}
	srv.mu.Unlock()
	for _, client := range targets {
		if err := client.write(msgType, msg); err != nil {
			srv.logger.Warn("write error", zap.String("client", client.id), zap.Error(err))
		}
	}
}
