package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line and reported by /health.
const ServiceName = "forecast-cache-service"

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger() (*zap.Logger, error) {
	return loggerConfig(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).Build()
}

// loggerConfig returns a production config with ISO8601 timestamps. format "console"
// selects the human-readable encoder; anything else keeps JSON.
func loggerConfig(level, format string) zap.Config {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(level)
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.Sampling = nil
	}
	config.InitialFields = map[string]interface{}{"service": ServiceName}
	return config
}

// parseLogLevel accepts the zap level names case-insensitively; unknown values fall back to info.
func parseLogLevel(s string) zap.AtomicLevel {
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		level = zapcore.InfoLevel
	}
	return zap.NewAtomicLevelAt(level)
}
