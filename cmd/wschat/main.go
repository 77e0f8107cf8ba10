// Command wschat is a terminal chat client. It prompts for a username, sends each typed line to
// the chat server and prints received messages as "[username]: text".
//
// Configuration is read from WSCHAT_* environment variables and from the optional file
// referenced by WSCHAT_CONFIG_FILE. The server defaults to ws://localhost:3001/.
package main

import (
	"github.com/gbdevw/gowschat/providers"
	"go.uber.org/fx"
)

func main() {
	fx.New(providers.Options).Run()
}
