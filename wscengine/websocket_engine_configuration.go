package wscengine

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Defines configuration options for the websocket engine.
//
// Use the factory function to get a new instance of the struct with nice defaults and then modify
// settings using With*** methods.
type WebsocketEngineConfigurationOptions struct {
	// Maximum delay (milliseconds) the event loop waits for an event before checking for pending
	// writability requests again.
	//
	// Defaults to 1000. Must be at least 1.
	PollIntervalMs int64 `validate:"gte=1"`
	// Delay to open websocket connection, call and complete OnOpen callback (milliseconds).
	//
	// Default to 300000 (5 minutes) - 0 disables the timeout.
	OnOpenTimeoutMs int64 `validate:"gte=0"`
	// Delay (milliseconds) to complete Stop() method. This includes triggering engine shutdown and
	// wait for the engine to stop: call & complete OnClose callback and close the connection.
	//
	// Default to 300000 (5 minutes) - 0 disables the timeout.
	StopTimeoutMs int64 `validate:"gte=0"`
	// Interval (milliseconds) between two heartbeat pings.
	//
	// Defaults to 0 which disables heartbeats. Must be at least 0.
	HeartbeatIntervalMs int64 `validate:"gte=0"`
	// Delay (milliseconds) to receive a pong after a heartbeat ping. A missed pong fails the
	// engine.
	//
	// Defaults to 10000. Must be at least 1.
	HeartbeatTimeoutMs int64 `validate:"gte=1"`
}

// # Description
//
// Set opts.PollIntervalMs and return the modified object. Method does not validate inputs.
//
// # PollIntervalMs
//
// This option defines the maximum delay the event loop waits for a transport event or a
// writability request before it checks for pending writes again.
//
// Defaults to 1000. Must be greater or equal to 1.
func (opts *WebsocketEngineConfigurationOptions) WithPollIntervalMs(
	value int64) *WebsocketEngineConfigurationOptions {
	opts.PollIntervalMs = value
	return opts
}

// # Description
//
// Set opts.OnOpenTimeoutMs and return the modified object.
// The method does not validate inputs.
//
// # OnOpenTimeoutMs
//
// This option defines the maximum delay (milliseconds) to open websocket connection, call and
// complete OnOpen callback. A value of 0 disables the timeout.
//
// Must be greater or equal to 0. Defaults to 5 minutes (= 300000).
//
// # Return
//
// The modified options.
func (opts *WebsocketEngineConfigurationOptions) WithOnOpenTimeoutMs(
	value int64) *WebsocketEngineConfigurationOptions {
	opts.OnOpenTimeoutMs = value
	return opts
}

// # Description
//
// Set opts.StopTimeoutMs and return the modified object. The method does not validate inputs.
//
// # StopTimeoutMs
//
// This option defines the maximum delay (milliseconds) to stop websocket engine. A value of 0
// disables the timeout.
//
// Must be greater or equal to 0. Defaults to 5 minutes (= 300000).
//
// # Return
//
// The modified options.
func (opts *WebsocketEngineConfigurationOptions) WithStopTimeoutMs(
	value int64) *WebsocketEngineConfigurationOptions {
	opts.StopTimeoutMs = value
	return opts
}

// Set opts.HeartbeatIntervalMs and return the modified object. 0 disables heartbeats.
func (opts *WebsocketEngineConfigurationOptions) WithHeartbeatIntervalMs(
	value int64) *WebsocketEngineConfigurationOptions {
	opts.HeartbeatIntervalMs = value
	return opts
}

// Set opts.HeartbeatTimeoutMs and return the modified object.
func (opts *WebsocketEngineConfigurationOptions) WithHeartbeatTimeoutMs(
	value int64) *WebsocketEngineConfigurationOptions {
	opts.HeartbeatTimeoutMs = value
	return opts
}

// # Description
//
// Factory which creates a new WebsocketEngineConfigurationOptions object with nice defaults.
// Settings can then be modified by the user by using With*** methods.
//
// # Default settings
//
//   - PollIntervalMs = 1000 (1 second).
//   - OnOpenTimeoutMs = 300000 (5 minutes).
//   - StopTimeoutMs = 300000 (5 minutes).
//   - HeartbeatIntervalMs = 0 (disabled).
//   - HeartbeatTimeoutMs = 10000 (10 seconds).
func NewWebsocketEngineConfigurationOptions() *WebsocketEngineConfigurationOptions {
	return &WebsocketEngineConfigurationOptions{
		PollIntervalMs:      1000,
		OnOpenTimeoutMs:     300000,
		StopTimeoutMs:       300000,
		HeartbeatIntervalMs: 0,
		HeartbeatTimeoutMs:  10000,
	}
}

// # Description
//
// Helper function which validates WebsocketEngineConfigurationOptions.
//
// # Returns
//
// InvalidValidationError for bad values passed in and nil or ValidationErrors as error otherwise.
// You will need to assert the error if it's not nil eg. err.(validator.ValidationErrors) to access
// the array of errors.
func Validate(opts *WebsocketEngineConfigurationOptions) error {
	return validator.New().Struct(opts)
}

// Convert a duration in milliseconds to a time.Duration.
func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
