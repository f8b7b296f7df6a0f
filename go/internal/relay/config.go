package relay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML configuration for the relay binary.
// Every field has a usable default; a file only needs the values being
// overridden. Timeouts are whole seconds.
type FileConfig struct {
	Addr            string `yaml:"addr"`
	MaxConnections  int    `yaml:"max_connections"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	PingIntervalSec int    `yaml:"ping_interval_sec"`
	MaxMessageSize  int64  `yaml:"max_message_size"`
}

// DefaultFileConfig returns the defaults used when no file is present.
func DefaultFileConfig() FileConfig {
	conn := DefaultConnectionConfig()
	return FileConfig{
		Addr:            ":3000",
		MaxConnections:  256,
		WriteTimeoutSec: int(conn.WriteTimeout / time.Second),
		ReadTimeoutSec:  int(conn.ReadTimeout / time.Second),
		PingIntervalSec: int(conn.PingInterval / time.Second),
		MaxMessageSize:  conn.MaxMessageSize,
	}
}

// LoadFileConfig reads a YAML config file over the defaults.
func LoadFileConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ConnectionConfig converts the file settings into per-connection
// WebSocket tuning.
func (c FileConfig) ConnectionConfig() ConnectionConfig {
	conn := DefaultConnectionConfig()
	conn.WriteTimeout = time.Duration(c.WriteTimeoutSec) * time.Second
	conn.ReadTimeout = time.Duration(c.ReadTimeoutSec) * time.Second
	conn.PingInterval = time.Duration(c.PingIntervalSec) * time.Second
	conn.MaxMessageSize = c.MaxMessageSize
	return conn
}
