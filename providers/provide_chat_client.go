package providers

import (
	"github.com/gbdevw/gowschat/chat"
	"github.com/gbdevw/gowschat/wscengine/wsclient"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Provide the chat client callbacks used by the engine.
func ProvideChatClient(
	mailbox *chat.Mailbox,
	terminal Terminal,
	logger *zap.Logger,
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider) (wsclient.WebsocketClientInterface, error) {
	return chat.NewChatClient(mailbox, terminal.Output, logger.Named("chat"), tracerProvider, meterProvider)
}
