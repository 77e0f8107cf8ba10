package providers

import (
	"context"
	"net/url"

	"github.com/gbdevw/gowschat/configuration"
	"github.com/gbdevw/gowschat/wscengine"
	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	"github.com/gbdevw/gowschat/wscengine/wsclient"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// # Description
//
// Provide the websocket engine and register hooks to start and stop it. Once started, the
// application is shut down as soon as the engine stops: exit code is 0 when the connection was
// closed and 1 when the engine failed.
//
// A start failure (server unreachable, handshake failure) fails the application start. There
// is no retry.
func ProvideWebsocketEngine(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	config configuration.Configuration,
	conn wsadapters.WebsocketConnectionAdapterInterface,
	client wsclient.WebsocketClientInterface,
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider,
	logger *zap.Logger) (*wscengine.WebsocketEngine, error) {
	u, err := url.Parse(config.ServerUrl)
	if err != nil {
		return nil, err
	}
	opts := wscengine.NewWebsocketEngineConfigurationOptions().
		WithPollIntervalMs(config.PollIntervalMs).
		WithHeartbeatIntervalMs(config.HeartbeatIntervalMs)
	engine, err := wscengine.NewWebsocketEngine(u, conn, client, opts, tracerProvider, meterProvider, logger.Named("engine"))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := engine.Start(ctx); err != nil {
				return err
			}
			go watchEngine(engine, shutdowner, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return engine.Stop(ctx)
		},
	})
	return engine, nil
}

// Wait for the engine to stop and shut the application down.
func watchEngine(engine *wscengine.WebsocketEngine, shutdowner fx.Shutdowner, logger *zap.Logger) {
	<-engine.Done()
	code := 0
	if err := engine.Err(); err != nil {
		logger.Error("chat session failed", zap.Error(err))
		code = 1
	}
	if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
		logger.Debug("shutdown already in progress", zap.Error(err))
	}
}
