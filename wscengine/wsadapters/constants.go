package wsadapters

/*************************************************************************************************/
/* WEBSOCKET RELATED CONSTANTS                                                                   */
/*************************************************************************************************/

// Close status codes defined by RFC6455.
//
// RFC: https://www.rfc-editor.org/rfc/rfc6455.html#section-7.4.1
//
// Code names follow https://www.iana.org/assignments/websocket/websocket.xhtml
type StatusCode int

const (
	// 1000 indicates a normal closure: the purpose of the connection has been fulfilled.
	NormalClosure StatusCode = 1000
	// 1001 indicates that an endpoint is going away (server shutdown, client exiting, ...).
	GoingAway StatusCode = 1001
	// 1002 indicates that an endpoint terminates the connection because of a protocol error.
	ProtocolError StatusCode = 1002
	// 1003 indicates that an endpoint received a type of data it cannot accept.
	UnsupportedData StatusCode = 1003
	// 1005 is reserved and MUST NOT be sent in a close frame. It denotes a close frame that
	// carried no status code.
	NoStatusReceived StatusCode = 1005
	// 1006 is reserved and MUST NOT be sent in a close frame. It denotes a connection that was
	// dropped without a close frame.
	AbnormalClosure StatusCode = 1006
	// 1007 indicates that an endpoint received data inconsistent with the message type (e.g.
	// non UTF-8 data in a text message).
	InvalidFramePayloadData StatusCode = 1007
	// 1008 indicates that an endpoint received a message that violates its policy.
	PolicyViolation StatusCode = 1008
	// 1009 indicates that an endpoint received a message too big for it to process.
	MessageTooBig StatusCode = 1009
	// 1010 indicates that the client expected the server to negotiate an extension.
	MandatoryExtension StatusCode = 1010
	// 1011 indicates that the server hit an unexpected condition.
	InternalError StatusCode = 1011
	// 1015 is reserved and MUST NOT be sent in a close frame. It denotes a failed TLS handshake.
	TLSHandshake StatusCode = 1015
)

// Websocket message types which can be exchanged with the server.
//
// Values mimic RFC6455 data frame opcodes. Control frames (continuation, close, ping, pong) are
// excluded because adapters handle them internally.
//
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.6
type MessageType int

const (
	// Denotes a text message
	Text MessageType = iota + 1
	// Denotes a binary message
	Binary
)

// Return a human readable name for the message type.
func (msgType MessageType) String() string {
	switch msgType {
	case Text:
		return "text"
	case Binary:
		return "binary"
	default:
		return "unknown"
	}
}
