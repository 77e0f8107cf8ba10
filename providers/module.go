// Package providers contains the fx providers which assemble the chat client: configuration,
// logger, tracing, terminal, websocket connection adapter, chat client, engine and input
// producer.
package providers

import (
	"github.com/gbdevw/gowschat/chat"
	"github.com/gbdevw/gowschat/configuration"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// Options which build and run the chat client. The input producer is invoked last so its hooks
// run after the engine has started.
var Options = fx.Options(
	fx.Provide(configuration.LoadConfiguration),
	fx.Provide(ProvideLogger),
	fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: logger.Named("fx")}
	}),
	fx.Provide(ProvideTracerProvider),
	fx.Provide(ProvideMeterProvider),
	fx.Provide(ProvideTerminal),
	fx.Provide(ProvideUsername),
	fx.Provide(ProvideWebsocketConnectionAdapter),
	fx.Provide(chat.NewMailbox),
	fx.Provide(ProvideChatClient),
	fx.Provide(ProvideWebsocketEngine),
	fx.Invoke(ProvideInputProducer),
)
