package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	HTTPPort      int    `toml:"http_port"` // Websocket transport port (0 = disabled)
	MetricsPort   int    `toml:"metrics_port"`
	DatabasePath  string `toml:"database_path"`
	Backend       string `toml:"backend"` // "sqlite" or "memory"
	StopShutsDown bool   `toml:"stop_shuts_down"`
}

type LimitsSection struct {
	MaxMessageLength int `toml:"max_message_length"`
	InboxCapacity    int `toml:"inbox_capacity"`
}

// DefaultTOMLConfig returns the default configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Host:          "127.0.0.1",
			Port:          65432,
			HTTPPort:      8080,
			MetricsPort:   9090,
			DatabasePath:  "~/.postbox/postbox.db",
			Backend:       "sqlite",
			StopShutsDown: false,
		},
		Limits: LimitsSection{
			MaxMessageLength: 255,
			InboxCapacity:    5,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates a default file if
// none exists, and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Can't write (permissions?) — still run with defaults
			return applyEnvOverrides(config), nil
		}
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	config = fillConfigDefaults(config)
	return applyEnvOverrides(config), nil
}

// fillConfigDefaults backfills zero values so a sparse config file still
// yields a runnable server
func fillConfigDefaults(config TOMLConfig) TOMLConfig {
	defaults := DefaultTOMLConfig()
	if config.Server.Host == "" {
		config.Server.Host = defaults.Server.Host
	}
	if config.Server.Port == 0 {
		config.Server.Port = defaults.Server.Port
	}
	if config.Server.DatabasePath == "" {
		config.Server.DatabasePath = defaults.Server.DatabasePath
	}
	if config.Server.Backend == "" {
		config.Server.Backend = defaults.Server.Backend
	}
	if config.Limits.MaxMessageLength == 0 {
		config.Limits.MaxMessageLength = defaults.Limits.MaxMessageLength
	}
	if config.Limits.InboxCapacity == 0 {
		config.Limits.InboxCapacity = defaults.Limits.InboxCapacity
	}
	return config
}

// applyEnvOverrides applies environment variable overrides to the config.
// Variables follow the pattern POSTBOX_SECTION_KEY, e.g. POSTBOX_SERVER_PORT.
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("POSTBOX_SERVER_HOST"); val != "" {
		config.Server.Host = val
	}
	if val := os.Getenv("POSTBOX_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.Port = port
		}
	}
	if val := os.Getenv("POSTBOX_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("POSTBOX_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("POSTBOX_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}
	if val := os.Getenv("POSTBOX_SERVER_BACKEND"); val != "" {
		config.Server.Backend = val
	}
	if val := os.Getenv("POSTBOX_SERVER_STOP_SHUTS_DOWN"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Server.StopShutsDown = b
		}
	}
	if val := os.Getenv("POSTBOX_LIMITS_MAX_MESSAGE_LENGTH"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxMessageLength = limit
		}
	}
	if val := os.Getenv("POSTBOX_LIMITS_INBOX_CAPACITY"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.InboxCapacity = limit
		}
	}
	return config
}

// writeDefaultConfig writes the default config file with comments
func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	content := fmt.Sprintf(`# Postbox server configuration

[server]
host = "%s"
port = %d
# Websocket transport port (0 = disabled)
http_port = %d
# Prometheus metrics + health endpoint (internal only)
metrics_port = %d
database_path = "%s"
# "sqlite" or "memory"
backend = "%s"
# When true, a stop command shuts the whole server down instead of just
# closing the issuing connection
stop_shuts_down = %t

[limits]
max_message_length = %d
inbox_capacity = %d
`,
		config.Server.Host,
		config.Server.Port,
		config.Server.HTTPPort,
		config.Server.MetricsPort,
		config.Server.DatabasePath,
		config.Server.Backend,
		config.Server.StopShutsDown,
		config.Limits.MaxMessageLength,
		config.Limits.InboxCapacity,
	)

	return os.WriteFile(path, []byte(content), 0644)
}

// expandHome expands a leading ~/ to the user's home directory
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
