package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env    string
		expect zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"debug", zap.DebugLevel},
		{"  Warn ", zap.WarnLevel},
		{"ERROR", zap.ErrorLevel},
		{"verbose", zap.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.env).Level(); got != tt.expect {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.env, got, tt.expect)
		}
	}
}

func TestLoggerConfig(t *testing.T) {
	tests := []struct {
		name         string
		level        string
		format       string
		wantEncoding string
		wantLevel    zapcore.Level
	}{
		{"production default", "", "", "json", zap.InfoLevel},
		{"console for local runs", "debug", "CONSOLE", "console", zap.DebugLevel},
		{"unknown format keeps json", "error", "pretty", "json", zap.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loggerConfig(tt.level, tt.format)
			if cfg.Encoding != tt.wantEncoding {
				t.Errorf("Encoding = %q, want %q", cfg.Encoding, tt.wantEncoding)
			}
			if got := cfg.Level.Level(); got != tt.wantLevel {
				t.Errorf("Level = %v, want %v", got, tt.wantLevel)
			}
			if cfg.EncoderConfig.TimeKey != "timestamp" {
				t.Errorf("TimeKey = %q, want timestamp", cfg.EncoderConfig.TimeKey)
			}
			if cfg.InitialFields["service"] != ServiceName {
				t.Errorf("service field = %v, want %s", cfg.InitialFields["service"], ServiceName)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("LOG_LEVEL", "warn")
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zap.WarnLevel) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestFlushTelemetry(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	if err := FlushTelemetry(context.Background(), zap.New(core)); err != nil {
		t.Errorf("FlushTelemetry() error = %v", err)
	}
	if err := FlushTelemetry(context.Background(), nil); err != nil {
		t.Errorf("FlushTelemetry(nil logger) error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := FlushTelemetry(ctx, zap.NewNop()); !errors.Is(err, context.Canceled) {
		t.Errorf("FlushTelemetry(canceled) error = %v, want context.Canceled", err)
	}
}

func TestIsUnsyncableConsole(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("sync /dev/stderr: %w", syscall.EINVAL), true},
		{fmt.Errorf("sync /dev/stdout: %w", syscall.ENOTTY), true},
		{syscall.EIO, false},
		{errors.New("disk full"), false},
	}
	for _, tt := range tests {
		if got := isUnsyncableConsole(tt.err); got != tt.want {
			t.Errorf("isUnsyncableConsole(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
