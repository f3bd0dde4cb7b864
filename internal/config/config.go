// Package config holds daemon settings with environment-variable defaults.
// Command-line flags in cmd/agrod override these.
package config

import (
	"os"
	"time"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string

	LedgerPath     string
	LedgerInMemory bool
	SchemaPath     string
	MachineSeed    string

	DeviceBaseURL string
	DeviceTimeout time.Duration

	NATSURL string

	SettleDelay   time.Duration
	DataInterval  time.Duration
	ImageInterval time.Duration
}

// FromEnv builds a Config from AGROX_* environment variables, falling back
// to built-in defaults.
func FromEnv() Config {
	return Config{
		HTTPAddr:      envStr("AGROX_HTTP_ADDR", ":8080"),
		MetricsAddr:   envStr("AGROX_METRICS_ADDR", ":9090"),
		LedgerPath:    envStr("AGROX_LEDGER_PATH", "./data/ledger"),
		SchemaPath:    envStr("AGROX_SCHEMA_PATH", ""),
		MachineSeed:   envStr("AGROX_MACHINE_SEED", "machine"),
		DeviceBaseURL: envStr("AGROX_DEVICE_URL", "http://localhost:5000"),
		DeviceTimeout: envDur("AGROX_DEVICE_TIMEOUT", 10*time.Second),
		NATSURL:       envStr("AGROX_NATS_URL", ""),
		SettleDelay:   envDur("AGROX_SETTLE_DELAY", 10*time.Second),
		DataInterval:  envDur("AGROX_DATA_INTERVAL", 10*time.Second),
		ImageInterval: envDur("AGROX_IMAGE_INTERVAL", 10*time.Minute),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
