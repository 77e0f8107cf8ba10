package chat

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"github.com/gbdevw/gowschat/wscengine/wsclient"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* UNIT TEST SUITE                                                                               */
/*************************************************************************************************/

// Unit test suite for ChatClient
type ChatClientUnitTestSuite struct {
	suite.Suite
	mailbox *Mailbox
	sink    *bytes.Buffer
	client  *ChatClient
}

// Run ChatClientUnitTestSuite test suite
func TestChatClientUnitTestSuite(t *testing.T) {
	suite.Run(t, new(ChatClientUnitTestSuite))
}

func (suite *ChatClientUnitTestSuite) SetupTest() {
	suite.mailbox = NewMailbox()
	suite.sink = new(bytes.Buffer)
	client, err := NewChatClient(suite.mailbox, suite.sink, nil, nil, nil)
	require.NoError(suite.T(), err)
	suite.client = client
}

/*************************************************************************************************/
/* TESTS                                                                                         */
/*************************************************************************************************/

// Test ChatClient implements the callback interface.
func (suite *ChatClientUnitTestSuite) TestInterfaceCompliance() {
	var instance interface{} = suite.client
	_, ok := instance.(wsclient.WebsocketClientInterface)
	require.True(suite.T(), ok)
}

// Test factory with missing parameters.
func (suite *ChatClientUnitTestSuite) TestFactoryInvalidParameters() {
	_, err := NewChatClient(nil, suite.sink, nil, nil, nil)
	require.Error(suite.T(), err)
	_, err = NewChatClient(suite.mailbox, nil, nil, nil, nil)
	require.Error(suite.T(), err)
}

// Test OnOpen prints the banner.
func (suite *ChatClientUnitTestSuite) TestOnOpen() {
	err := suite.client.OnOpen(context.Background(), nil, func() {}, func() {})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), ConnectionEstablishedBanner+"\n", suite.sink.String())
}

// Test nothing is written when the mailbox is empty.
func (suite *ChatClientUnitTestSuite) TestOnWritableWithEmptyMailbox() {
	writer := wsclient.NewFrameWriterMock()
	err := suite.client.OnWritable(context.Background(), writer)
	require.NoError(suite.T(), err)
	writer.AssertNotCalled(suite.T(), "Write", mock.Anything, mock.Anything, mock.Anything)
}

// Test the pending message is encoded, written as a text frame and removed from the mailbox.
func (suite *ChatClientUnitTestSuite) TestOnWritableSendsPendingMessage() {
	suite.mailbox.Put(Message{Username: "Alice", Text: "Hello, World!"})
	writer := wsclient.NewFrameWriterMock()
	writer.On("Write", mock.Anything, wsadapters.Text, []byte(`{"username":"Alice","message":"Hello, World!"}`)).Return(nil)
	err := suite.client.OnWritable(context.Background(), writer)
	require.NoError(suite.T(), err)
	writer.AssertNumberOfCalls(suite.T(), "Write", 1)
	_, ok := suite.mailbox.Take()
	require.False(suite.T(), ok)
	// Second call has nothing to send
	err = suite.client.OnWritable(context.Background(), writer)
	require.NoError(suite.T(), err)
	writer.AssertNumberOfCalls(suite.T(), "Write", 1)
}

// Test a message which does not fit in a frame is dropped without failing the connection.
func (suite *ChatClientUnitTestSuite) TestOnWritableDropsOversizedMessage() {
	suite.mailbox.Put(Message{Username: "Alice", Text: strings.Repeat("x", MaxFrameSize)})
	writer := wsclient.NewFrameWriterMock()
	err := suite.client.OnWritable(context.Background(), writer)
	require.NoError(suite.T(), err)
	writer.AssertNotCalled(suite.T(), "Write", mock.Anything, mock.Anything, mock.Anything)
	_, ok := suite.mailbox.Take()
	require.False(suite.T(), ok)
}

// Test a write failure is returned to the engine.
func (suite *ChatClientUnitTestSuite) TestOnWritableWriteFailure() {
	suite.mailbox.Put(Message{Username: "Alice", Text: "hi"})
	writer := wsclient.NewFrameWriterMock()
	writer.On("Write", mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("broken pipe"))
	err := suite.client.OnWritable(context.Background(), writer)
	require.Error(suite.T(), err)
	require.Contains(suite.T(), err.Error(), "broken pipe")
}

// Test received messages are printed as "[username]: text".
func (suite *ChatClientUnitTestSuite) TestOnMessage() {
	suite.client.OnMessage(context.Background(), func() {}, "session", wsadapters.Text, []byte(`{"username":"Alice","message":"Hello, World!"}`))
	suite.client.OnMessage(context.Background(), func() {}, "session", wsadapters.Text, []byte(`{"username":"Bob","message":"Hi \"Alice\""}`))
	require.Equal(suite.T(), "[Alice]: Hello, World!\n[Bob]: Hi \"Alice\"\n", suite.sink.String())
}

// Test binary frames carrying a chat message are decoded like text frames.
func (suite *ChatClientUnitTestSuite) TestOnMessageBinaryFrame() {
	exit := func() { suite.FailNow("exit must not be called") }
	suite.client.OnMessage(context.Background(), exit, "session", wsadapters.Binary, []byte(`{"username":"Alice","message":"hi"}`))
	require.Equal(suite.T(), "[Alice]: hi\n", suite.sink.String())
}

// Test malformed frames are discarded whatever their type.
func (suite *ChatClientUnitTestSuite) TestOnMessageDiscardsInvalidFrames() {
	exit := func() { suite.FailNow("exit must not be called") }
	suite.client.OnMessage(context.Background(), exit, "session", wsadapters.Binary, []byte("\xff\xfe"))
	suite.client.OnMessage(context.Background(), exit, "session", wsadapters.Binary, []byte(`{"username":"Alice"}`))
	suite.client.OnMessage(context.Background(), exit, "session", wsadapters.Text, []byte(`{"username":"Bob"}`))
	suite.client.OnMessage(context.Background(), exit, "session", wsadapters.Text, []byte("\xff\xfe"))
	require.Empty(suite.T(), suite.sink.String())
}

// Test OnClose prints the banner and replies with a normal closure.
func (suite *ChatClientUnitTestSuite) TestOnClose() {
	reply := suite.client.OnClose(context.Background(), &wsclient.CloseMessageDetails{
		CloseReason:  wsadapters.GoingAway,
		CloseMessage: "server shutdown",
	})
	require.NotNil(suite.T(), reply)
	require.Equal(suite.T(), wsadapters.NormalClosure, reply.CloseReason)
	require.Equal(suite.T(), ConnectionClosedBanner+"\n", suite.sink.String())
	// Also called without close message when the connection is closed locally
	reply = suite.client.OnClose(context.Background(), nil)
	require.Equal(suite.T(), wsadapters.NormalClosure, reply.CloseReason)
}

// Test error callbacks do not write on the display sink.
func (suite *ChatClientUnitTestSuite) TestErrorCallbacks() {
	suite.client.OnReadError(context.Background(), fmt.Errorf("read failed"))
	suite.client.OnCloseError(context.Background(), fmt.Errorf("close failed"))
	require.Empty(suite.T(), suite.sink.String())
}
