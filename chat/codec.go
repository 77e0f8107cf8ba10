// Package chat contains the chat application built on top of the websocket engine: the wire
// codec, the outbound mailbox, the engine callbacks and the terminal input producer.
package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

const (
	// Maximum size in bytes of an encoded message.
	MaxFrameSize = 512
	// Maximum size in bytes of a username.
	MaxUsernameLength = 64
	// Size of the JSON envelope around the two values.
	jsonOverhead = len(`{"username":"","message":""}`)
	// Maximum size in bytes of a decoded message text.
	MaxTextLength = MaxFrameSize - jsonOverhead
)

// A chat message as exchanged on the wire.
type Message struct {
	// Sender name
	Username string `json:"username"`
	// Message content
	Text string `json:"message"`
}

// # Description
//
// Encode a message as {"username":"...","message":"..."}. Quotes, backslashes and control
// characters are escaped, HTML characters are not.
//
// # Returns
//
// The encoded message or an *EncodeError which wraps:
//   - ErrInvalidEncoding if the username or the text is not valid UTF-8.
//   - ErrMessageTooLarge if the username is longer than MaxUsernameLength bytes or if the
//     encoded message is longer than MaxFrameSize bytes. Messages are never truncated.
func Encode(msg Message) ([]byte, error) {
	if !utf8.ValidString(msg.Username) || !utf8.ValidString(msg.Text) {
		return nil, &EncodeError{Err: ErrInvalidEncoding}
	}
	if len(msg.Username) > MaxUsernameLength {
		return nil, &EncodeError{Err: fmt.Errorf("%w: username is %d bytes long (max %d)", ErrMessageTooLarge, len(msg.Username), MaxUsernameLength)}
	}
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, &EncodeError{Err: err}
	}
	// Encoder terminates each value with a newline
	payload := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	if len(payload) > MaxFrameSize {
		return nil, &EncodeError{Err: fmt.Errorf("%w: encoded message is %d bytes long (max %d)", ErrMessageTooLarge, len(payload), MaxFrameSize)}
	}
	return payload, nil
}

// # Description
//
// Decode a message from a received payload. The payload is scanned for the "username" and
// "message" keys; unknown fields are ignored. When a key appears several times, the first
// occurrence followed by a colon wins.
//
// The scan never reads outside of the provided slice and the payload is neither modified nor
// retained.
//
// # Returns
//
// The decoded message or a *DecodeError which wraps:
//   - ErrInvalidEncoding if the payload is not valid UTF-8.
//   - ErrMalformedPayload if a key is missing, a value is not a string, a string is not
//     terminated within MaxFrameSize bytes, an escape sequence is invalid or a value is longer
//     than MaxUsernameLength (username) or MaxTextLength (message) bytes.
func Decode(payload []byte) (Message, error) {
	if !utf8.Valid(payload) {
		return Message{}, &DecodeError{Err: ErrInvalidEncoding}
	}
	username, err := extractField(payload, "username", MaxUsernameLength)
	if err != nil {
		return Message{}, err
	}
	text, err := extractField(payload, "message", MaxTextLength)
	if err != nil {
		return Message{}, err
	}
	return Message{Username: username, Text: text}, nil
}

// # Description
//
// Locate "key": "value" among the members of the top level object and return the unescaped
// value. Strings are skipped as a whole and keys of nested objects are ignored. The first
// occurrence of a duplicated key wins.
func extractField(payload []byte, key string, limit int) (string, error) {
	needle := []byte(`"` + key + `"`)
	depth := 0
	topLevelObject := false
	for pos := 0; pos < len(payload); pos++ {
		switch payload[pos] {
		case '{', '[':
			if depth == 0 {
				topLevelObject = payload[pos] == '{'
			}
			depth++
		case '}', ']':
			depth--
			if depth <= 0 {
				// Anything past the top level value is ignored
				return "", malformed("key %q not found", key)
			}
		case '"':
			end, ok := findClosingQuote(payload, pos+1, MaxFrameSize)
			if !ok {
				return "", malformed("string at offset %d is not terminated", pos)
			}
			start := pos
			pos = end
			if depth != 1 || !topLevelObject || !bytes.Equal(payload[start:end+1], needle) {
				continue
			}
			colon := skipSpaces(payload, end+1)
			if colon >= len(payload) || payload[colon] != ':' {
				// Not a key: the needle is a value
				continue
			}
			return extractValue(payload, skipSpaces(payload, colon+1), key, limit)
		}
	}
	return "", malformed("key %q not found", key)
}

// Unescape the string value starting at pos and check it against limit.
func extractValue(payload []byte, pos int, key string, limit int) (string, error) {
	if pos >= len(payload) || payload[pos] != '"' {
		return "", malformed("value of %q is not a string", key)
	}
	end, ok := findClosingQuote(payload, pos+1, MaxFrameSize)
	if !ok {
		return "", malformed("value of %q is not terminated", key)
	}
	var value string
	if err := json.Unmarshal(payload[pos:end+1], &value); err != nil {
		return "", malformed("value of %q is invalid: %v", key, err)
	}
	if len(value) > limit {
		return "", malformed("value of %q is %d bytes long (max %d)", key, len(value), limit)
	}
	return value, nil
}

// Return the index of the first byte at or after pos which is not a JSON whitespace.
func skipSpaces(payload []byte, pos int) int {
	for pos < len(payload) {
		switch payload[pos] {
		case ' ', '\t', '\r', '\n':
			pos++
		default:
			return pos
		}
	}
	return pos
}

// # Description
//
// Find the first unescaped double quote in payload[from:], looking at no more than window
// bytes.
//
// # Returns
//
// The index of the quote and true, or -1 and false if there is none within the window.
func findClosingQuote(payload []byte, from int, window int) (int, bool) {
	limit := len(payload)
	if from+window < limit {
		limit = from + window
	}
	for i := from; i < limit; i++ {
		switch payload[i] {
		case '\\':
			// Skip the escaped byte
			i++
		case '"':
			return i, true
		}
	}
	return -1, false
}
