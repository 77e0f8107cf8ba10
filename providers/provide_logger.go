package providers

import (
	"fmt"

	"github.com/gbdevw/gowschat/configuration"
	"go.uber.org/zap"
)

// Build the logger. Logs go to stderr: stdout is the chat display.
func ProvideLogger(config configuration.Configuration) (*zap.Logger, error) {
	var zc zap.Config
	if config.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
