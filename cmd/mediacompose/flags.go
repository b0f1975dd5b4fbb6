package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
)

// cliFlags holds the flags shared by every command. Each falls back to a
// MEDIACOMPOSE_* environment variable.
type cliFlags struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

func defaultFlags() *cliFlags {
	return &cliFlags{
		ConfigPath:      getEnv("MEDIACOMPOSE_CONFIG", "mediacompose.yaml"),
		LogLevel:        getEnv("MEDIACOMPOSE_LOG_LEVEL", "info"),
		LogFormat:       getEnv("MEDIACOMPOSE_LOG_FORMAT", defaultLogFormat()),
		ShutdownTimeout: getEnvDuration("MEDIACOMPOSE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func (f *cliFlags) validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(f.LogLevel)) {
		return fmt.Errorf("invalid log level: %s", f.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(f.LogFormat)) {
		return fmt.Errorf("invalid log format: %s", f.LogFormat)
	}
	if f.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", f.ShutdownTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
