package wscengine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"github.com/gbdevw/gowschat/wscengine/wsclient"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for WebsocketEngine unit tests
type WebsocketEngineUnitTestSuite struct {
	suite.Suite
	// Released at the end of each test to unblock mocked Read calls
	release chan struct{}
}

// Run WebsocketEngineUnitTestSuite test suite
func TestWebsocketEngineUnitTestSuite(t *testing.T) {
	suite.Run(t, new(WebsocketEngineUnitTestSuite))
}

// Before each test
func (suite *WebsocketEngineUnitTestSuite) SetupTest() {
	suite.release = make(chan struct{})
}

// After each test
func (suite *WebsocketEngineUnitTestSuite) TearDownTest() {
	close(suite.release)
}

// Create an engine with a short poll interval.
func (suite *WebsocketEngineUnitTestSuite) newEngine(
	conn wsadapters.WebsocketConnectionAdapterInterface,
	client wsclient.WebsocketClientInterface) *WebsocketEngine {
	return suite.newEngineWithOpts(conn, client, NewWebsocketEngineConfigurationOptions().WithPollIntervalMs(10))
}

// Create an engine with the provided options.
func (suite *WebsocketEngineUnitTestSuite) newEngineWithOpts(
	conn wsadapters.WebsocketConnectionAdapterInterface,
	client wsclient.WebsocketClientInterface,
	opts *WebsocketEngineConfigurationOptions) *WebsocketEngine {
	target, err := url.Parse("ws://localhost:3001/")
	require.NoError(suite.T(), err)
	engine, err := NewWebsocketEngine(target, conn, client, opts, nil, nil, nil)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), engine)
	return engine
}

// Configure a mocked Read which blocks until the end of the test.
func (suite *WebsocketEngineUnitTestSuite) blockingRead(conn *wsadapters.WebsocketConnectionAdapterInterfaceMock) {
	release := suite.release
	conn.On("Read", mock.Anything).Return(-1, nil, fmt.Errorf("test is over")).Run(func(args mock.Arguments) {
		<-release
	})
}

// Wait for the engine to stop.
func (suite *WebsocketEngineUnitTestSuite) waitDone(engine *WebsocketEngine) {
	select {
	case <-engine.Done():
	case <-time.After(5 * time.Second):
		suite.FailNow("engine did not stop in time")
	}
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// Test factory with invalid parameters.
func (suite *WebsocketEngineUnitTestSuite) TestEngineFactoryInvalidParameters() {
	target, err := url.Parse("ws://localhost")
	require.NoError(suite.T(), err)
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	client := wsclient.NewWebsocketClientMock()
	_, err = NewWebsocketEngine(nil, conn, client, nil, nil, nil, nil)
	require.Error(suite.T(), err)
	_, err = NewWebsocketEngine(target, nil, client, nil, nil, nil, nil)
	require.Error(suite.T(), err)
	_, err = NewWebsocketEngine(target, conn, nil, nil, nil, nil, nil)
	require.Error(suite.T(), err)
	_, err = NewWebsocketEngine(target, conn, client, NewWebsocketEngineConfigurationOptions().WithPollIntervalMs(0), nil, nil, nil)
	require.Error(suite.T(), err)
	// Defaults
	engine, err := NewWebsocketEngine(target, conn, client, nil, nil, nil, nil)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), Connecting, engine.State())
	require.NoError(suite.T(), engine.Err())
	require.Empty(suite.T(), engine.SessionId())
}

// # Description
//
// Test a dial failure is fatal.
//
// Test will succeed if:
//   - Start returns an EngineStartError which wraps the dial error.
//   - The engine is Failed, done and does not accept writability requests anymore.
//   - OnOpen is never called.
//   - The engine cannot be started again and Stop returns immediately.
func (suite *WebsocketEngineUnitTestSuite) TestStartWithDialFailure() {
	dialErr := fmt.Errorf("connection refused")
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	conn.On("Dial", mock.Anything, mock.Anything).Return(nil, dialErr)
	client := wsclient.NewWebsocketClientMock()
	engine := suite.newEngine(conn, client)
	err := engine.Start(context.Background())
	startErr := new(EngineStartError)
	require.ErrorAs(suite.T(), err, startErr)
	require.ErrorIs(suite.T(), err, dialErr)
	require.Equal(suite.T(), Failed, engine.State())
	require.ErrorIs(suite.T(), engine.Err(), dialErr)
	suite.waitDone(engine)
	require.ErrorIs(suite.T(), engine.Wait(context.Background()), dialErr)
	// Terminal state
	engine.RequestWritable()
	require.False(suite.T(), engine.writableRequested.Load())
	require.ErrorAs(suite.T(), engine.Start(context.Background()), startErr)
	require.NoError(suite.T(), engine.Stop(context.Background()))
	client.AssertNotCalled(suite.T(), "OnOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	conn.AssertNumberOfCalls(suite.T(), "Dial", 1)
}

// Test Start with a canceled context does not dial.
func (suite *WebsocketEngineUnitTestSuite) TestStartWithCanceledCtx() {
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	client := wsclient.NewWebsocketClientMock()
	engine := suite.newEngine(conn, client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := engine.Start(ctx)
	require.ErrorIs(suite.T(), err, context.Canceled)
	require.Equal(suite.T(), Failed, engine.State())
	conn.AssertNotCalled(suite.T(), "Dial", mock.Anything, mock.Anything)
}

// Test Stop on a engine which has not been started.
func (suite *WebsocketEngineUnitTestSuite) TestStopWithEngineNotStarted() {
	engine := suite.newEngine(wsadapters.NewWebsocketConnectionAdapterInterfaceMock(), wsclient.NewWebsocketClientMock())
	require.Error(suite.T(), engine.Stop(context.Background()))
}

// Test an error returned by OnOpen closes the connection and fails the engine.
func (suite *WebsocketEngineUnitTestSuite) TestStartWithOnOpenError() {
	onOpenErr := fmt.Errorf("on open failed")
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	conn.On("Dial", mock.Anything, mock.Anything).Return(nil, nil)
	conn.On("Close", mock.Anything, wsadapters.GoingAway, "websocket client failed to start").Return(nil)
	client := wsclient.NewWebsocketClientMock()
	client.On("OnOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(onOpenErr)
	engine := suite.newEngine(conn, client)
	err := engine.Start(context.Background())
	require.ErrorIs(suite.T(), err, onOpenErr)
	require.Equal(suite.T(), Failed, engine.State())
	suite.waitDone(engine)
	conn.AssertNumberOfCalls(suite.T(), "Close", 1)
	conn.AssertNotCalled(suite.T(), "Read", mock.Anything)
}

// # Description
//
// Test the open connection lifecycle up to a local Stop.
//
// Test will succeed if:
//   - OnWritable is called without any explicit writability request after Start.
//   - OnWritable keeps being called: writability is re-armed after each call even when nothing
//     is written. The state stays Open.
//   - A writer used after OnWritable returned is refused.
//   - Stop moves the connection to Closed, calls OnClose without a close message and closes the
//     connection with 1000.
func (suite *WebsocketEngineUnitTestSuite) TestOpenWritableAndStop() {
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	conn.On("Dial", mock.Anything, mock.Anything).Return(nil, nil)
	conn.On("Close", mock.Anything, wsadapters.NormalClosure, "").Return(nil)
	suite.blockingRead(conn)
	writers := make(chan wsclient.FrameWriter, 100)
	client := wsclient.NewWebsocketClientMock()
	client.On("OnOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	client.On("OnWritable", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		select {
		case writers <- args.Get(1).(wsclient.FrameWriter):
		default:
		}
	})
	client.On("OnClose", mock.Anything, (*wsclient.CloseMessageDetails)(nil)).Return(nil)
	engine := suite.newEngine(conn, client)
	require.NoError(suite.T(), engine.Start(context.Background()))
	require.Equal(suite.T(), Open, engine.State())
	require.NotEmpty(suite.T(), engine.SessionId())
	// Re-armed writability
	require.Eventually(suite.T(), func() bool { return len(writers) >= 2 }, 5*time.Second, 5*time.Millisecond)
	require.Equal(suite.T(), Open, engine.State())
	// Stale writer
	stale := <-writers
	require.ErrorIs(suite.T(), stale.Write(context.Background(), wsadapters.Text, []byte("late")), ErrWriterRevoked)
	// Stop
	require.NoError(suite.T(), engine.Stop(context.Background()))
	require.Equal(suite.T(), Closed, engine.State())
	require.NoError(suite.T(), engine.Wait(context.Background()))
	client.AssertNumberOfCalls(suite.T(), "OnClose", 1)
	conn.AssertNumberOfCalls(suite.T(), "Close", 1)
	conn.AssertNotCalled(suite.T(), "Write", mock.Anything, mock.Anything, mock.Anything)
	// No writability after terminal state
	engine.RequestWritable()
	require.False(suite.T(), engine.writableRequested.Load())
}

// # Description
//
// Test a write failure is unrecoverable.
//
// Test will succeed if:
//   - OnWritable writes through the provided writer and the adapter write fails.
//   - The engine is Failed with an EngineFailedError for the write operation.
//   - OnClose is called and the connection is closed with 1011.
//   - No other OnWritable call or write happens after the failure.
func (suite *WebsocketEngineUnitTestSuite) TestWriteFailure() {
	writeErr := fmt.Errorf("broken pipe")
	payload := []byte(`{"username":"Alice","message":"Hello, World!"}`)
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	conn.On("Dial", mock.Anything, mock.Anything).Return(nil, nil)
	conn.On("Write", mock.Anything, wsadapters.Text, payload).Return(writeErr)
	conn.On("Close", mock.Anything, wsadapters.InternalError, mock.Anything).Return(nil)
	suite.blockingRead(conn)
	client := wsclient.NewWebsocketClientMock()
	client.On("OnOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	client.On("OnWritable", mock.Anything, mock.Anything).Return(writeErr).Run(func(args mock.Arguments) {
		args.Get(1).(wsclient.FrameWriter).Write(args.Get(0).(context.Context), wsadapters.Text, payload)
	})
	client.On("OnClose", mock.Anything, (*wsclient.CloseMessageDetails)(nil)).Return(nil)
	engine := suite.newEngine(conn, client)
	require.NoError(suite.T(), engine.Start(context.Background()))
	suite.waitDone(engine)
	require.Equal(suite.T(), Failed, engine.State())
	failedErr := new(EngineFailedError)
	require.ErrorAs(suite.T(), engine.Err(), failedErr)
	require.Equal(suite.T(), "write", failedErr.Op)
	require.ErrorIs(suite.T(), engine.Err(), writeErr)
	require.False(suite.T(), engine.writableRequested.Load())
	engine.RequestWritable()
	require.False(suite.T(), engine.writableRequested.Load())
	time.Sleep(50 * time.Millisecond)
	client.AssertNumberOfCalls(suite.T(), "OnWritable", 1)
	conn.AssertNumberOfCalls(suite.T(), "Write", 1)
	client.AssertNumberOfCalls(suite.T(), "OnClose", 1)
	conn.AssertNumberOfCalls(suite.T(), "Close", 1)
}

// # Description
//
// Test a close message from the server.
//
// Test will succeed if:
//   - The message read before the close message is delivered to OnMessage.
//   - OnClose receives the close message from the server.
//   - The engine does not close the connection itself and ends Closed without error.
func (suite *WebsocketEngineUnitTestSuite) TestRemoteClose() {
	closeErr := wsadapters.WebsocketCloseError{Code: wsadapters.GoingAway, Reason: "server shutdown"}
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	conn.On("Dial", mock.Anything, mock.Anything).Return(nil, nil)
	conn.On("Read", mock.Anything).Return(int(wsadapters.Text), []byte("hello"), nil).Once()
	conn.On("Read", mock.Anything).Return(-1, nil, closeErr).Once()
	client := wsclient.NewWebsocketClientMock()
	client.On("OnOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	client.On("OnWritable", mock.Anything, mock.Anything).Return(nil).Maybe()
	client.On("OnMessage", mock.Anything, mock.Anything, mock.Anything, wsadapters.Text, []byte("hello")).Return()
	client.On("OnClose", mock.Anything, &wsclient.CloseMessageDetails{
		CloseReason:  wsadapters.GoingAway,
		CloseMessage: "server shutdown",
	}).Return(nil)
	engine := suite.newEngine(conn, client)
	require.NoError(suite.T(), engine.Start(context.Background()))
	suite.waitDone(engine)
	require.Equal(suite.T(), Closed, engine.State())
	require.NoError(suite.T(), engine.Err())
	client.AssertNumberOfCalls(suite.T(), "OnMessage", 1)
	client.AssertNumberOfCalls(suite.T(), "OnClose", 1)
	conn.AssertNotCalled(suite.T(), "Close", mock.Anything, mock.Anything, mock.Anything)
}

// Test a read error which is not a closure fails the engine after OnReadError.
func (suite *WebsocketEngineUnitTestSuite) TestReadFailure() {
	readErr := fmt.Errorf("read limited at 32769 bytes")
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	conn.On("Dial", mock.Anything, mock.Anything).Return(nil, nil)
	conn.On("Read", mock.Anything).Return(-1, nil, readErr).Once()
	conn.On("Close", mock.Anything, wsadapters.InternalError, mock.Anything).Return(fmt.Errorf("already closed"))
	client := wsclient.NewWebsocketClientMock()
	client.On("OnOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	client.On("OnWritable", mock.Anything, mock.Anything).Return(nil).Maybe()
	client.On("OnReadError", mock.Anything, readErr).Return()
	client.On("OnClose", mock.Anything, (*wsclient.CloseMessageDetails)(nil)).Return(nil)
	client.On("OnCloseError", mock.Anything, mock.Anything).Return()
	engine := suite.newEngine(conn, client)
	require.NoError(suite.T(), engine.Start(context.Background()))
	suite.waitDone(engine)
	require.Equal(suite.T(), Failed, engine.State())
	failedErr := new(EngineFailedError)
	require.ErrorAs(suite.T(), engine.Err(), failedErr)
	require.Equal(suite.T(), "read", failedErr.Op)
	client.AssertNumberOfCalls(suite.T(), "OnReadError", 1)
	client.AssertNumberOfCalls(suite.T(), "OnCloseError", 1)
}

// Test the exit function provided to OnMessage stops the engine with the close message
// returned by OnClose.
func (suite *WebsocketEngineUnitTestSuite) TestExitFromOnMessage() {
	closeMsg := &wsclient.CloseMessageDetails{CloseReason: wsadapters.GoingAway, CloseMessage: "bye"}
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	conn.On("Dial", mock.Anything, mock.Anything).Return(nil, nil)
	conn.On("Read", mock.Anything).Return(int(wsadapters.Text), []byte("quit"), nil).Once()
	suite.blockingRead(conn)
	conn.On("Close", mock.Anything, wsadapters.GoingAway, "bye").Return(nil)
	client := wsclient.NewWebsocketClientMock()
	client.On("OnOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	client.On("OnWritable", mock.Anything, mock.Anything).Return(nil).Maybe()
	client.On("OnMessage", mock.Anything, mock.Anything, mock.Anything, wsadapters.Text, []byte("quit")).Return().Run(func(args mock.Arguments) {
		args.Get(1).(context.CancelFunc)()
	})
	client.On("OnClose", mock.Anything, (*wsclient.CloseMessageDetails)(nil)).Return(closeMsg)
	engine := suite.newEngine(conn, client)
	require.NoError(suite.T(), engine.Start(context.Background()))
	suite.waitDone(engine)
	require.Equal(suite.T(), Closed, engine.State())
	conn.AssertNumberOfCalls(suite.T(), "Close", 1)
}

// Test a failed heartbeat fails the engine.
func (suite *WebsocketEngineUnitTestSuite) TestHeartbeatFailure() {
	pingErr := errors.New("pong not received")
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	conn.On("Dial", mock.Anything, mock.Anything).Return(nil, nil)
	conn.On("Ping", mock.Anything).Return(pingErr)
	conn.On("Close", mock.Anything, wsadapters.InternalError, mock.Anything).Return(nil)
	suite.blockingRead(conn)
	client := wsclient.NewWebsocketClientMock()
	client.On("OnOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	client.On("OnWritable", mock.Anything, mock.Anything).Return(nil).Maybe()
	client.On("OnClose", mock.Anything, (*wsclient.CloseMessageDetails)(nil)).Return(nil)
	opts := NewWebsocketEngineConfigurationOptions().
		WithPollIntervalMs(10).
		WithHeartbeatIntervalMs(20).
		WithHeartbeatTimeoutMs(100)
	engine := suite.newEngineWithOpts(conn, client, opts)
	require.NoError(suite.T(), engine.Start(context.Background()))
	suite.waitDone(engine)
	failedErr := new(EngineFailedError)
	require.ErrorAs(suite.T(), engine.Err(), failedErr)
	require.Equal(suite.T(), "heartbeat", failedErr.Op)
	require.ErrorIs(suite.T(), engine.Err(), pingErr)
}

// Test a close error during Stop is reported to OnCloseError and the engine still ends Closed.
func (suite *WebsocketEngineUnitTestSuite) TestStopWithCloseError() {
	closeErr := errors.New("close failed")
	conn := wsadapters.NewWebsocketConnectionAdapterInterfaceMock()
	conn.On("Dial", mock.Anything, mock.Anything).Return(nil, nil)
	conn.On("Close", mock.Anything, wsadapters.NormalClosure, "").Return(closeErr)
	suite.blockingRead(conn)
	client := wsclient.NewWebsocketClientMock()
	client.On("OnOpen", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	client.On("OnWritable", mock.Anything, mock.Anything).Return(nil).Maybe()
	client.On("OnClose", mock.Anything, (*wsclient.CloseMessageDetails)(nil)).Return(nil)
	client.On("OnCloseError", mock.Anything, closeErr).Return()
	engine := suite.newEngine(conn, client)
	require.NoError(suite.T(), engine.Start(context.Background()))
	require.NoError(suite.T(), engine.Stop(context.Background()))
	require.Equal(suite.T(), Closed, engine.State())
	client.AssertNumberOfCalls(suite.T(), "OnCloseError", 1)
}

// Test writes are refused when the connection is not open.
func (suite *WebsocketEngineUnitTestSuite) TestFrameWriterRefusesWhenNotOpen() {
	engine := suite.newEngine(wsadapters.NewWebsocketConnectionAdapterInterfaceMock(), wsclient.NewWebsocketClientMock())
	writer := &frameWriter{engine: engine}
	require.ErrorIs(suite.T(), writer.Write(context.Background(), wsadapters.Text, []byte("hello")), ErrConnectionNotOpen)
}

// Test invalid transitions are ignored.
func (suite *WebsocketEngineUnitTestSuite) TestInvalidTransitionIgnored() {
	engine := suite.newEngine(wsadapters.NewWebsocketConnectionAdapterInterfaceMock(), wsclient.NewWebsocketClientMock())
	require.False(suite.T(), engine.transition(context.Background(), Closed, nil))
	require.Equal(suite.T(), Connecting, engine.State())
	require.True(suite.T(), engine.transition(context.Background(), Failed, errors.New("boom")))
	require.False(suite.T(), engine.transition(context.Background(), Open, nil))
	require.Equal(suite.T(), Failed, engine.State())
	require.EqualError(suite.T(), engine.Err(), "boom")
}
