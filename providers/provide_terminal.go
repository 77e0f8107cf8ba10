package providers

import (
	"bufio"
	"io"
	"os"

	"github.com/gbdevw/gowschat/chat"
)

// Terminal the chat client interacts with.
type Terminal struct {
	// Lines typed by the user
	Input *bufio.Reader
	// Chat display
	Output io.Writer
}

// Username used for every message sent by the client.
type Username string

// Provide a terminal bound to stdin and stdout.
func ProvideTerminal() Terminal {
	return Terminal{
		Input:  bufio.NewReader(os.Stdin),
		Output: os.Stdout,
	}
}

// Prompt the user for its username. The prompt happens before the connection is opened.
func ProvideUsername(terminal Terminal) (Username, error) {
	username, err := chat.PromptUsername(terminal.Input, terminal.Output)
	if err != nil {
		return "", err
	}
	return Username(username), nil
}
