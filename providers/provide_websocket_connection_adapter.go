package providers

import (
	"fmt"

	"github.com/gbdevw/gowschat/configuration"
	"github.com/gbdevw/gowschat/wscengine/wsadapters"
	wsadaptergobwas "github.com/gbdevw/gowschat/wscengine/wsadapters/gobwas"
	wsadaptergorilla "github.com/gbdevw/gowschat/wscengine/wsadapters/gorilla"
	wsadapternhooyr "github.com/gbdevw/gowschat/wscengine/wsadapters/nhooyr"
	"github.com/gobwas/ws"
)

// Provide the websocket connection adapter for the configured library.
func ProvideWebsocketConnectionAdapter(config configuration.Configuration) (wsadapters.WebsocketConnectionAdapterInterface, error) {
	switch config.Adapter {
	case configuration.AdapterNhooyr:
		return wsadapternhooyr.NewNhooyrWebsocketConnectionAdapter(nil, config.ReadLimitBytes), nil
	case configuration.AdapterGorilla:
		return wsadaptergorilla.NewGorillaWebsocketConnectionAdapter(nil, nil, config.ReadLimitBytes), nil
	case configuration.AdapterGobwas:
		return wsadaptergobwas.NewGobwasWebsocketConnectionAdapter(ws.DefaultDialer, config.ReadLimitBytes), nil
	default:
		return nil, fmt.Errorf("unknown websocket adapter: %s", config.Adapter)
	}
}
