package wsclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"github.com/stretchr/testify/mock"
)

/*************************************************************************************************/
/* WEBSOCKET CLIENT MOCK                                                                         */
/*************************************************************************************************/

// Mock for WebsocketClientInterface.
type WebsocketClientMock struct {
	mock.Mock
}

// Factory for WebsocketClientMock
func NewWebsocketClientMock() *WebsocketClientMock {
	return &WebsocketClientMock{
		Mock: mock.Mock{},
	}
}

// Mocked OnOpen method
func (mock *WebsocketClientMock) OnOpen(
	ctx context.Context,
	resp *http.Response,
	requestWritable func(),
	exit context.CancelFunc) error {
	args := mock.Called(ctx, resp, requestWritable, exit)
	return args.Error(0)
}

// Mocked OnWritable method
func (mock *WebsocketClientMock) OnWritable(
	ctx context.Context,
	writer FrameWriter) error {
	args := mock.Called(ctx, writer)
	return args.Error(0)
}

// Mocked OnMessage method
func (mock *WebsocketClientMock) OnMessage(
	ctx context.Context,
	exit context.CancelFunc,
	sessionId string,
	msgType wsadapters.MessageType,
	msg []byte) {
	mock.Called(ctx, exit, sessionId, msgType, msg)
}

// Mocked OnReadError method
func (mock *WebsocketClientMock) OnReadError(
	ctx context.Context,
	err error) {
	mock.Called(ctx, err)
}

// Mocked OnClose method
func (mock *WebsocketClientMock) OnClose(
	ctx context.Context,
	closeMessage *CloseMessageDetails) *CloseMessageDetails {
	args := mock.Called(ctx, closeMessage)
	if args.Get(0) == nil {
		return nil
	}
	msg, ok := args.Get(0).(*CloseMessageDetails)
	if !ok {
		panic(fmt.Sprintf("mocked OnClose returned value is not nil or a *CloseMessageDetails. Got %T", args.Get(0)))
	}
	return msg
}

// Mocked OnCloseError method
func (mock *WebsocketClientMock) OnCloseError(
	ctx context.Context,
	err error) {
	mock.Called(ctx, err)
}

/*************************************************************************************************/
/* FRAME WRITER MOCK                                                                             */
/*************************************************************************************************/

// Mock for FrameWriter.
type FrameWriterMock struct {
	mock.Mock
}

// Factory for FrameWriterMock
func NewFrameWriterMock() *FrameWriterMock {
	return &FrameWriterMock{
		Mock: mock.Mock{},
	}
}

// Mocked Write method
func (mock *FrameWriterMock) Write(ctx context.Context, msgType wsadapters.MessageType, msg []byte) error {
	args := mock.Called(ctx, msgType, msg)
	return args.Error(0)
}
