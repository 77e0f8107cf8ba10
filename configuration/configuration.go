// Package configuration loads the chat client configuration from the environment and from an
// optional configuration file.
package configuration

import (
	"fmt"
	"net/url"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	// Prefix of the environment variables read by LoadConfiguration
	EnvPrefix = "WSCHAT"
	// Environment variable which holds the path to an optional configuration file
	ConfigFileEnv = "WSCHAT_CONFIG_FILE"
)

// Names of the supported websocket libraries
const (
	AdapterNhooyr  = "nhooyr"
	AdapterGorilla = "gorilla"
	AdapterGobwas  = "gobwas"
)

// Chat client configuration.
type Configuration struct {
	// URL of the chat server
	ServerUrl string `mapstructure:"server_url" validate:"required,wsurl"`
	// Websocket library used to connect to the server
	Adapter string `mapstructure:"adapter" validate:"oneof=nhooyr gorilla gobwas"`
	// Maximum size in bytes of a received message
	ReadLimitBytes int64 `mapstructure:"read_limit_bytes" validate:"gte=1"`
	// Maximum delay between two event loop iterations
	PollIntervalMs int64 `mapstructure:"poll_interval_ms" validate:"gte=1"`
	// Delay between two heartbeat pings. 0 disables the heartbeat.
	HeartbeatIntervalMs int64 `mapstructure:"heartbeat_interval_ms" validate:"gte=0"`
	// Indicates whether tracing is enabled or not
	TracingEnabled bool `mapstructure:"tracing_enabled"`
	// OTLP HTTP endpoint (host:port) of the tracing backend
	TracingEndpoint string `mapstructure:"tracing_endpoint" validate:"required_if=TracingEnabled true"`
	// Minimum log level
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	// Log encoding
	LogFormat string `mapstructure:"log_format" validate:"oneof=console json"`
}

// Default values
var defaults = map[string]any{
	"server_url":            "ws://localhost:3001/",
	"adapter":               AdapterNhooyr,
	"read_limit_bytes":      32768,
	"poll_interval_ms":      1000,
	"heartbeat_interval_ms": 30000,
	"tracing_enabled":       false,
	"tracing_endpoint":      "",
	"log_level":             "warn",
	"log_format":            "console",
}

// # Description
//
// Load the configuration. Values are taken, by order of precedence, from the WSCHAT_*
// environment variables (ex: WSCHAT_SERVER_URL), from the configuration file referenced by
// WSCHAT_CONFIG_FILE if any, then from the defaults.
//
// # Returns
//
// The validated configuration or an error if the file cannot be read or if the configuration is
// invalid.
func LoadConfiguration() (Configuration, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Configuration{}, fmt.Errorf("failed to read configuration file %s: %w", path, err)
		}
	}
	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return Configuration{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Configuration{}, err
	}
	return config, nil
}

// Validate the configuration.
func (config Configuration) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("wsurl", validateWebsocketUrl); err != nil {
		return err
	}
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Check the field is an absolute URL with a ws or wss scheme.
func validateWebsocketUrl(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "ws" || u.Scheme == "wss") && u.Host != ""
}
