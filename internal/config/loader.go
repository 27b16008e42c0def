package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// LoadServer loads server configuration from a file path and applies
// environment variable overrides. Validation is deferred so CLI flag
// overrides can be applied first.
func LoadServer(configPath string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("HOMEGRAPH_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("HOMEGRAPH_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("HOMEGRAPH_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("HOMEGRAPH_DEV_MODE"); v == "true" || v == "1" {
		cfg.DevMode = true
	}
	if v := os.Getenv("HOMEGRAPH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HOMEGRAPH_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	return cfg, nil
}

// LoadAgent loads agent configuration from a file path and applies
// environment variable overrides
func LoadAgent(configPath string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("HOMEGRAPH_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("HOMEGRAPH_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("HOMEGRAPH_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("HOMEGRAPH_LOCK_PATH"); v != "" {
		cfg.LockPath = v
	}
	if v := os.Getenv("HOMEGRAPH_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("HOMEGRAPH_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("HOMEGRAPH_SYNC_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SyncInterval = Seconds(n)
		}
	}
	if v := os.Getenv("HOMEGRAPH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HOMEGRAPH_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}

	return cfg, nil
}

// loadFromFile reads a JSON config file over the defaults already in cfg
func loadFromFile(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrConfigFileNotFound
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfigFormat, err)
	}
	return nil
}
