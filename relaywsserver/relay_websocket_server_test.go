package relaywsserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"nhooyr.io/websocket"
)

/*************************************************************************************************/
/* TEST SUITE                                                                                    */
/*************************************************************************************************/

// Test suite for RelayWebsocketServer
type RelayWebsocketServerTestSuite struct {
	suite.Suite
}

// Run RelayWebsocketServerTestSuite test suite
func TestRelayWebsocketServerTestSuite(t *testing.T) {
	suite.Run(t, new(RelayWebsocketServerTestSuite))
}

// Connect a nhooyr client to the provided httptest server.
func (suite *RelayWebsocketServerTestSuite) dial(srv *httptest.Server) *websocket.Conn {
	conn, _, err := websocket.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(suite.T(), err)
	return conn
}

/*************************************************************************************************/
/* TESTS                                                                                         */
/*************************************************************************************************/

// # Description
//
// Test a message sent by one client is relayed to the other client but not echoed back.
func (suite *RelayWebsocketServerTestSuite) TestRelayToOtherClients() {
	relay := NewRelayWebsocketServer(false, nil)
	srv := httptest.NewServer(relay)
	defer srv.Close()
	defer relay.Close()
	// Connect two clients
	alice := suite.dial(srv)
	defer alice.Close(websocket.StatusNormalClosure, "")
	bob := suite.dial(srv)
	defer bob.Close(websocket.StatusNormalClosure, "")
	require.Eventually(suite.T(), func() bool { return relay.ClientCount() == 2 }, 5*time.Second, 10*time.Millisecond)
	// Alice sends a message
	payload := []byte(`{"username":"Alice","message":"Hello, World!"}`)
	err := alice.Write(context.Background(), websocket.MessageText, payload)
	require.NoError(suite.T(), err)
	// Bob receives it
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgType, msg, err := bob.Read(ctx)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), websocket.MessageText, msgType)
	require.Equal(suite.T(), payload, msg)
	// Alice does not receive her own message
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer shortCancel()
	_, _, err = alice.Read(shortCtx)
	require.Error(suite.T(), err)
}

// # Description
//
// Test echo mode sends messages back to their sender.
func (suite *RelayWebsocketServerTestSuite) TestEcho() {
	relay := NewRelayWebsocketServer(true, nil)
	srv := httptest.NewServer(relay)
	defer srv.Close()
	defer relay.Close()
	conn := suite.dial(srv)
	defer conn.Close(websocket.StatusNormalClosure, "")
	err := conn.Write(context.Background(), websocket.MessageText, []byte("ping"))
	require.NoError(suite.T(), err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, msg, err := conn.Read(ctx)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), []byte("ping"), msg)
}

// # Description
//
// Test CloseClients sends a close frame with the provided code to connected clients.
func (suite *RelayWebsocketServerTestSuite) TestCloseClients() {
	relay := NewRelayWebsocketServer(false, nil)
	srv := httptest.NewServer(relay)
	defer srv.Close()
	defer relay.Close()
	conn := suite.dial(srv)
	require.Eventually(suite.T(), func() bool { return relay.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	relay.CloseClients(int(websocket.StatusGoingAway), "server shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(suite.T(), err)
	require.Equal(suite.T(), websocket.StatusGoingAway, websocket.CloseStatus(err))
}

// # Description
//
// Test binary relay mode forwards text messages as binary frames.
func (suite *RelayWebsocketServerTestSuite) TestBinaryRelay() {
	relay := NewRelayWebsocketServer(true, nil)
	relay.SetBinaryRelay(true)
	srv := httptest.NewServer(relay)
	defer srv.Close()
	defer relay.Close()
	conn := suite.dial(srv)
	defer conn.Close(websocket.StatusNormalClosure, "")
	err := conn.Write(context.Background(), websocket.MessageText, []byte("ping"))
	require.NoError(suite.T(), err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgType, msg, err := conn.Read(ctx)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), websocket.MessageBinary, msgType)
	require.Equal(suite.T(), []byte("ping"), msg)
}
