package providers

import (
	"context"

	"github.com/gbdevw/gowschat/chat"
	"github.com/gbdevw/gowschat/wscengine"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// # Description
//
// Provide the input producer and register hooks to run it once the engine has started. End of
// input shuts the application down, which closes the connection normally.
func ProvideInputProducer(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	terminal Terminal,
	username Username,
	mailbox *chat.Mailbox,
	engine *wscengine.WebsocketEngine,
	logger *zap.Logger) (*chat.InputProducer, error) {
	producer, err := chat.NewInputProducer(string(username), terminal.Input, mailbox, engine, terminal.Output, logger.Named("input"))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				err := producer.Run(ctx)
				if ctx.Err() != nil {
					// Application is stopping
					return
				}
				select {
				case <-engine.Done():
					// Engine watcher decides the exit code
					return
				default:
				}
				code := 0
				if err != nil {
					logger.Error("failed to read input", zap.Error(err))
					code = 1
				}
				if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
					logger.Debug("shutdown already in progress", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return producer, nil
}
