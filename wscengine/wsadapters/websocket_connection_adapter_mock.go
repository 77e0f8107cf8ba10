package wsadapters

import (
	"context"
	"net/http"
	"net/url"

	"github.com/stretchr/testify/mock"
)

// Mock for WebsocketConnectionAdapterInterface
type WebsocketConnectionAdapterInterfaceMock struct {
	mock.Mock
}

// Factory
func NewWebsocketConnectionAdapterInterfaceMock() *WebsocketConnectionAdapterInterfaceMock {
	return &WebsocketConnectionAdapterInterfaceMock{
		Mock: mock.Mock{},
	}
}

// Mocked Dial method. A nil *http.Response can be configured as first return value.
func (mock *WebsocketConnectionAdapterInterfaceMock) Dial(ctx context.Context, target url.URL) (*http.Response, error) {
	args := mock.Called(ctx, target)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

// Mocked Close method
func (mock *WebsocketConnectionAdapterInterfaceMock) Close(ctx context.Context, code StatusCode, reason string) error {
	args := mock.Called(ctx, code, reason)
	return args.Error(0)
}

// Mocked Ping method
func (mock *WebsocketConnectionAdapterInterfaceMock) Ping(ctx context.Context) error {
	args := mock.Called(ctx)
	return args.Error(0)
}

// Mocked Read method. The message type is configured as an int.
func (mock *WebsocketConnectionAdapterInterfaceMock) Read(ctx context.Context) (MessageType, []byte, error) {
	args := mock.Called(ctx)
	msg, _ := args.Get(1).([]byte)
	return MessageType(args.Int(0)), msg, args.Error(2)
}

// Mocked Write method
func (mock *WebsocketConnectionAdapterInterfaceMock) Write(ctx context.Context, msgType MessageType, msg []byte) error {
	args := mock.Called(ctx, msgType, msg)
	return args.Error(0)
}

// Mocked GetUnderlyingWebsocketConnection method
func (mock *WebsocketConnectionAdapterInterfaceMock) GetUnderlyingWebsocketConnection() any {
	args := mock.Called()
	return args.Get(0)
}
