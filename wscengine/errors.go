package wscengine

import (
	"errors"
	"fmt"
)

/*************************************************************************************************/
/* ENGINE START ERROR                                                                            */
/*************************************************************************************************/

// Specific error type for errors which occurs when engine starts: dial failure, OnOpen error,
// start timeout, ...
type EngineStartError struct {
	// Embedded error
	Err error
}

func (err EngineStartError) Error() string {
	return fmt.Sprintf("websocket engine failed to start: %v", err.Err)
}

func (err EngineStartError) Unwrap() error {
	return err.Err
}

/*************************************************************************************************/
/* ENGINE FAILED ERROR                                                                           */
/*************************************************************************************************/

// Error recorded when an open connection fails: write, read or heartbeat failure.
type EngineFailedError struct {
	// Operation which failed
	Op string
	// Embedded error
	Err error
}

func (err EngineFailedError) Error() string {
	return fmt.Sprintf("websocket engine failed during %s: %v", err.Op, err.Err)
}

func (err EngineFailedError) Unwrap() error {
	return err.Err
}

/*************************************************************************************************/
/* FRAME WRITER ERRORS                                                                           */
/*************************************************************************************************/

var (
	// Returned by a FrameWriter when the connection is not in the Open state.
	ErrConnectionNotOpen = errors.New("connection is not open")
	// Returned by a FrameWriter used after the OnWritable call it was provided to.
	ErrWriterRevoked = errors.New("frame writer used outside of OnWritable")
)
