// Package wsadapterstest contains a test suite every WebsocketConnectionAdapterInterface
// implementation is expected to pass. The suite runs the adapter against a live relay server.
package wsadapterstest

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/gbdevw/gowschat/relaywsserver"
	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// Read limit used by adapters created by the suite.
const ReadLimit int64 = 1024

// Factory used by the suite to create a fresh, non connected adapter.
type AdapterFactory func(readLimit int64) wsadapters.WebsocketConnectionAdapterInterface

// Conformance test suite. Embed or run it with suite.Run and a factory.
type AdapterConformanceTestSuite struct {
	suite.Suite
	// Factory used to create adapters
	Factory AdapterFactory
	// Relay server in echo mode
	relay *relaywsserver.RelayWebsocketServer
	// HTTP test server hosting the relay
	srv *httptest.Server
	// Relay URL
	srvUrl *url.URL
}

// Create a new conformance suite for adapters built by the provided factory.
func NewAdapterConformanceTestSuite(factory AdapterFactory) *AdapterConformanceTestSuite {
	return &AdapterConformanceTestSuite{Factory: factory}
}

// Before each test: start a fresh relay.
func (suite *AdapterConformanceTestSuite) SetupTest() {
	suite.relay = relaywsserver.NewRelayWebsocketServer(true, nil)
	suite.srv = httptest.NewServer(suite.relay)
	u, err := url.Parse("ws" + strings.TrimPrefix(suite.srv.URL, "http"))
	require.NoError(suite.T(), err)
	suite.srvUrl = u
}

// After each test: stop the relay.
func (suite *AdapterConformanceTestSuite) TearDownTest() {
	suite.relay.Close()
	suite.srv.Close()
}

// Start a goroutine which reads from the adapter and publishes results on the returned channel.
func readInBackground(adapter wsadapters.WebsocketConnectionAdapterInterface) chan readResult {
	results := make(chan readResult, 16)
	go func() {
		for {
			msgType, msg, err := adapter.Read(context.Background())
			results <- readResult{msgType: msgType, msg: msg, err: err}
			if err != nil {
				return
			}
		}
	}()
	return results
}

// Result of a background read.
type readResult struct {
	msgType wsadapters.MessageType
	msg     []byte
	err     error
}

// Wait for the next read result.
func (suite *AdapterConformanceTestSuite) next(results chan readResult) readResult {
	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		suite.FailNow("timed out waiting for a read result")
		return readResult{}
	}
}

/*************************************************************************************************/
/* TESTS                                                                                         */
/*************************************************************************************************/

// # Description
//
// Test Dial, Ping, Close and GetUnderlyingWebsocketConnection.
//
// Test will succeed if:
//   - GetUnderlyingWebsocketConnection returns nil before Dial and after Close.
//   - Dial succeeds and a second Dial fails while the connection is up.
//   - Ping succeeds while a concurrent goroutine reads.
//   - Close succeeds and a second Close fails.
func (suite *AdapterConformanceTestSuite) TestControlMethods() {
	adapter := suite.Factory(ReadLimit)
	require.Nil(suite.T(), adapter.GetUnderlyingWebsocketConnection())
	// Connect
	_, err := adapter.Dial(context.Background(), *suite.srvUrl)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), adapter.GetUnderlyingWebsocketConnection())
	_, err = adapter.Dial(context.Background(), *suite.srvUrl)
	require.Error(suite.T(), err)
	// Ping with a concurrent reader
	results := readInBackground(adapter)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(suite.T(), adapter.Ping(ctx))
	// Close twice
	require.NoError(suite.T(), adapter.Close(context.Background(), wsadapters.NormalClosure, "bye"))
	require.Error(suite.T(), adapter.Close(context.Background(), wsadapters.NormalClosure, "bye"))
	require.Nil(suite.T(), adapter.GetUnderlyingWebsocketConnection())
	// Background reader exits with an error
	require.Error(suite.T(), suite.next(results).err)
}

// # Description
//
// Test methods error paths when no connection is set.
func (suite *AdapterConformanceTestSuite) TestMethodsErrorPathsWhenNoConnectionIsSet() {
	adapter := suite.Factory(ReadLimit)
	require.Error(suite.T(), adapter.Close(context.Background(), wsadapters.GoingAway, ""))
	require.Error(suite.T(), adapter.Ping(context.Background()))
	msgType, raw, err := adapter.Read(context.Background())
	require.Error(suite.T(), err)
	require.Equal(suite.T(), -1, int(msgType))
	require.Nil(suite.T(), raw)
	require.Error(suite.T(), adapter.Write(context.Background(), wsadapters.Text, []byte("Hello")))
}

// # Description
//
// Test methods return the context error when called with a canceled context.
func (suite *AdapterConformanceTestSuite) TestMethodsErrorPathsWhenCtxIsCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	adapter := suite.Factory(ReadLimit)
	_, err := adapter.Dial(ctx, *suite.srvUrl)
	require.ErrorIs(suite.T(), err, context.Canceled)
	require.ErrorIs(suite.T(), adapter.Ping(ctx), context.Canceled)
	_, _, err = adapter.Read(ctx)
	require.ErrorIs(suite.T(), err, context.Canceled)
	require.ErrorIs(suite.T(), adapter.Write(ctx, wsadapters.Text, []byte("Hello")), context.Canceled)
}

// # Description
//
// Test Dial fails when no server listens on the target.
func (suite *AdapterConformanceTestSuite) TestDialFailure() {
	adapter := suite.Factory(ReadLimit)
	u, err := url.Parse("ws://127.0.0.1:1/none")
	require.NoError(suite.T(), err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = adapter.Dial(ctx, *u)
	require.Error(suite.T(), err)
	require.Nil(suite.T(), adapter.GetUnderlyingWebsocketConnection())
}

// # Description
//
// Test a text message written to the echo relay is read back unchanged.
func (suite *AdapterConformanceTestSuite) TestReadAndWrite() {
	adapter := suite.Factory(ReadLimit)
	_, err := adapter.Dial(context.Background(), *suite.srvUrl)
	require.NoError(suite.T(), err)
	results := readInBackground(adapter)
	payload := []byte(`{"username":"Alice","message":"Hello, World!"}`)
	require.NoError(suite.T(), adapter.Write(context.Background(), wsadapters.Text, payload))
	res := suite.next(results)
	require.NoError(suite.T(), res.err)
	require.Equal(suite.T(), wsadapters.Text, res.msgType)
	require.Equal(suite.T(), payload, res.msg)
	require.NoError(suite.T(), adapter.Close(context.Background(), wsadapters.NormalClosure, ""))
}

// # Description
//
// Test Read returns a WebsocketCloseError when the server closes the connection and that the
// adapter can dial again afterwards.
func (suite *AdapterConformanceTestSuite) TestServerInitiatedClose() {
	adapter := suite.Factory(ReadLimit)
	_, err := adapter.Dial(context.Background(), *suite.srvUrl)
	require.NoError(suite.T(), err)
	results := readInBackground(adapter)
	require.Eventually(suite.T(), func() bool { return suite.relay.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	suite.relay.CloseClients(int(wsadapters.GoingAway), "server shutdown")
	res := suite.next(results)
	closeErr := new(wsadapters.WebsocketCloseError)
	require.ErrorAs(suite.T(), res.err, closeErr)
	require.True(suite.T(), closeErr.Code == wsadapters.GoingAway || closeErr.Code == wsadapters.AbnormalClosure)
	// Connection has been dropped: write fails and a new connection can be opened
	require.Error(suite.T(), adapter.Write(context.Background(), wsadapters.Text, []byte("Hello")))
	_, err = adapter.Dial(context.Background(), *suite.srvUrl)
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), adapter.Close(context.Background(), wsadapters.NormalClosure, ""))
}

// # Description
//
// Test Read fails when the server sends a message bigger than the read limit.
func (suite *AdapterConformanceTestSuite) TestReadLimit() {
	adapter := suite.Factory(ReadLimit)
	_, err := adapter.Dial(context.Background(), *suite.srvUrl)
	require.NoError(suite.T(), err)
	results := readInBackground(adapter)
	require.Eventually(suite.T(), func() bool { return suite.relay.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	suite.relay.Broadcast([]byte(strings.Repeat("a", int(ReadLimit)+1)))
	require.Error(suite.T(), suite.next(results).err)
}

// # Description
//
// Test a text message which is not valid UTF-8 is returned as is and does not break the
// connection. Validating the payload is left to the caller.
func (suite *AdapterConformanceTestSuite) TestReadInvalidUTF8Text() {
	adapter := suite.Factory(ReadLimit)
	_, err := adapter.Dial(context.Background(), *suite.srvUrl)
	require.NoError(suite.T(), err)
	results := readInBackground(adapter)
	require.Eventually(suite.T(), func() bool { return suite.relay.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	suite.relay.Broadcast([]byte("\xff\xfe"))
	res := suite.next(results)
	require.NoError(suite.T(), res.err)
	require.Equal(suite.T(), wsadapters.Text, res.msgType)
	require.Equal(suite.T(), []byte("\xff\xfe"), res.msg)
	// The connection is still usable
	payload := []byte(`{"username":"Alice","message":"still here"}`)
	require.NoError(suite.T(), adapter.Write(context.Background(), wsadapters.Text, payload))
	res = suite.next(results)
	require.NoError(suite.T(), res.err)
	require.Equal(suite.T(), payload, res.msg)
	require.NoError(suite.T(), adapter.Close(context.Background(), wsadapters.NormalClosure, ""))
}
