package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gbdevw/gowschat/wscengine"
	"go.uber.org/zap"
)

// Prompt printed once to ask for the username.
const UsernamePrompt = "Enter your username: "

const (
	// Maximum delay to wait for the last message to be sent on end of input
	flushTimeout = 5 * time.Second
	flushPeriod  = 10 * time.Millisecond
)

// What the input producer needs from the websocket engine.
type Engine interface {
	// Ask the engine to call OnWritable on its next iteration
	RequestWritable()
	// Current connection state
	State() wscengine.ConnectionState
	// Closed when the engine reaches a terminal state
	Done() <-chan struct{}
}

// Reads lines from the terminal and hands them to the engine through the mailbox. The input
// producer never writes to the connection itself.
type InputProducer struct {
	username string
	reader   *bufio.Reader
	mailbox  *Mailbox
	engine   Engine
	// Sink used to report messages which are not sent
	sink   io.Writer
	logger *zap.Logger
}

// # Description
//
// Factory which creates a new InputProducer.
//
// # Inputs
//
//   - username: Username used for every message sent by this producer.
//   - reader: Source of lines. Must not be nil.
//   - mailbox: Mailbox shared with the chat client. Must not be nil.
//   - engine: Engine to notify when a message is pending. Must not be nil.
//   - sink: Sink used to report dropped messages to the user. Dropped messages are only logged
//     if nil.
//   - logger: Logger. Use a Nop logger if nil.
//
// # Returns
//
// A new InputProducer or an error if a mandatory parameter is missing.
func NewInputProducer(
	username string,
	reader io.Reader,
	mailbox *Mailbox,
	engine Engine,
	sink io.Writer,
	logger *zap.Logger) (*InputProducer, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}
	if mailbox == nil {
		return nil, fmt.Errorf("mailbox cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	br, ok := reader.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(reader)
	}
	return &InputProducer{
		username: username,
		reader:   br,
		mailbox:  mailbox,
		engine:   engine,
		sink:     sink,
		logger:   logger,
	}, nil
}

type lineResult struct {
	line    string
	tooLong bool
	err     error
}

// # Description
//
// Read lines until end of input, context cancellation or until the engine reaches a terminal
// state. Each line is put in the mailbox, replacing any message not sent yet, and writability is
// requested. Lines which would not fit in a frame are dropped and reported.
//
// On end of input, Run waits for the engine to take the pending message before returning.
//
// Lines are read from a separate goroutine. When Run returns because of the context or the
// engine, that goroutine stays blocked until the pending read returns.
//
// # Returns
//
//   - nil on end of input or when the engine is done.
//   - The context error when the context is cancelled.
//   - The read error for any other failure.
func (producer *InputProducer) Run(ctx context.Context) error {
	lines := make(chan lineResult)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			line, tooLong, err := readLine(producer.reader, MaxTextLength)
			select {
			case lines <- lineResult{line: line, tooLong: tooLong, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-producer.engine.Done():
			producer.logger.Debug("engine is done, input producer stops")
			return nil
		case res := <-lines:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					producer.logger.Debug("end of input")
					producer.flush(ctx)
					return nil
				}
				return fmt.Errorf("failed to read input: %w", res.err)
			}
			if producer.engine.State().IsTerminal() {
				return nil
			}
			producer.submit(res)
		}
	}
}

// Wait until the pending message, if any, has been taken by the engine.
func (producer *InputProducer) flush(ctx context.Context) {
	timeout := time.NewTimer(flushTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(flushPeriod)
	defer ticker.Stop()
	for producer.mailbox.Pending() {
		select {
		case <-ctx.Done():
			return
		case <-producer.engine.Done():
			return
		case <-timeout.C:
			producer.logger.Warn("last message not sent before end of input")
			return
		case <-ticker.C:
		}
	}
}

// Put a line in the mailbox and request writability.
func (producer *InputProducer) submit(res lineResult) {
	msg := Message{Username: producer.username, Text: res.line}
	if res.tooLong {
		producer.reject(fmt.Errorf("%w: line is longer than %d bytes", ErrMessageTooLarge, MaxTextLength))
		return
	}
	// Escaping may grow the payload past the frame size
	if _, err := Encode(msg); err != nil {
		producer.reject(err)
		return
	}
	if producer.mailbox.Put(msg) {
		producer.logger.Debug("pending message replaced before it was sent")
	}
	producer.engine.RequestWritable()
}

func (producer *InputProducer) reject(err error) {
	producer.logger.Warn("message not sent", zap.Error(err))
	if producer.sink != nil {
		fmt.Fprintf(producer.sink, "Message not sent: %v\n", err)
	}
}

// # Description
//
// Print the username prompt and read the username from the first line of input.
//
// # Returns
//
// The username without its trailing newline or an error if the input ends before a line is read,
// if the username is longer than MaxUsernameLength bytes or if it is not valid UTF-8.
func PromptUsername(reader *bufio.Reader, prompt io.Writer) (string, error) {
	if _, err := io.WriteString(prompt, UsernamePrompt); err != nil {
		return "", fmt.Errorf("failed to prompt username: %w", err)
	}
	username, tooLong, err := readLine(reader, MaxUsernameLength)
	if err != nil {
		return "", fmt.Errorf("failed to read username: %w", err)
	}
	if tooLong {
		return "", fmt.Errorf("%w: username is longer than %d bytes", ErrMessageTooLarge, MaxUsernameLength)
	}
	if _, err := Encode(Message{Username: username}); err != nil {
		return "", err
	}
	return username, nil
}

// # Description
//
// Read a line without its line terminator while keeping at most limit bytes in memory. The
// remaining of a longer line is consumed and discarded.
//
// # Returns
//
// The line, true if it was longer than limit (line is then empty) and an error if any. io.EOF is
// only returned when no byte has been read.
func readLine(reader *bufio.Reader, limit int) (string, bool, error) {
	var sb strings.Builder
	tooLong := false
	read := false
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && read {
				break
			}
			return "", false, err
		}
		read = true
		if !tooLong {
			if sb.Len()+len(chunk) > limit {
				tooLong = true
				sb.Reset()
			} else {
				sb.Write(chunk)
			}
		}
		if !isPrefix {
			break
		}
	}
	if tooLong {
		return "", true, nil
	}
	return sb.String(), false, nil
}
