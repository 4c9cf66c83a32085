package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all runtime configuration for the exchange server.
type Config struct {
	Address     string
	Port        int
	HTTPPort    int
	Workers     uint
	ReadTimeout time.Duration
	LogLevel    zerolog.Level
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	address := getStr("FENRIR_ADDRESS", "0.0.0.0")

	port, err := getPort("FENRIR_PORT", 9001)
	if err != nil {
		return nil, err
	}

	httpPort, err := getPort("FENRIR_HTTP_PORT", 9002)
	if err != nil {
		return nil, err
	}
	if httpPort == port && port != 0 {
		return nil, fmt.Errorf("FENRIR_HTTP_PORT must differ from FENRIR_PORT, both are %d", port)
	}

	workers, err := getInt("FENRIR_WORKERS", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid FENRIR_WORKERS: %w", err)
	}
	if workers < 1 {
		return nil, fmt.Errorf("invalid FENRIR_WORKERS: %d, must be at least 1", workers)
	}

	readTimeout, err := getDuration("FENRIR_READ_TIMEOUT", 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("invalid FENRIR_READ_TIMEOUT: %w", err)
	}
	if readTimeout <= 0 {
		return nil, fmt.Errorf("invalid FENRIR_READ_TIMEOUT: %v, must be positive", readTimeout)
	}

	logLevel, err := zerolog.ParseLevel(getStr("FENRIR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid FENRIR_LOG_LEVEL: %w", err)
	}

	return &Config{
		Address:     address,
		Port:        port,
		HTTPPort:    httpPort,
		Workers:     uint(workers),
		ReadTimeout: readTimeout,
		LogLevel:    logLevel,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getPort(key string, defaultVal int) (int, error) {
	port, err := getInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid %s: %d, must be within 0-65535", key, port)
	}
	return port, nil
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}
