package wsadapters

import "fmt"

/*************************************************************************************************/
/* WEBSOCKET CLOSE ERROR                                                                         */
/*************************************************************************************************/

// Error returned by adapters Read method to signal the connection has been closed, either by a
// close frame or because the underlying connection dropped.
type WebsocketCloseError struct {
	// Status code received in the close frame. AbnormalClosure (1006) is used when the
	// connection dropped without a close frame.
	//
	// https://www.rfc-editor.org/rfc/rfc6455.html#section-7.1.5
	Code StatusCode
	// Optional close reason received in the close frame.
	//
	// https://www.rfc-editor.org/rfc/rfc6455.html#section-7.1.6
	Reason string
	// Error returned by the underlying websocket library, if any.
	Err error
}

func (err WebsocketCloseError) Error() string {
	return fmt.Sprintf("connection has been closed: %d - %s", err.Code, err.Reason)
}

func (err WebsocketCloseError) Unwrap() error {
	return err.Err
}
