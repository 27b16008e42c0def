// Package config loads JSON configuration files for the server and the
// agent, with environment variable overrides layered on top.
package config

import "time"

// ServerConfig holds all configuration for the authoritative server
type ServerConfig struct {
	ListenAddr  string `json:"listenAddr"`
	DatabaseURL string `json:"databaseUrl"`
	JWTSecret   string `json:"jwtSecret"`
	DevMode     bool   `json:"devMode"` // enables X-Debug-Sub header fallback
	LogLevel    string `json:"logLevel"`
	LogFile     string `json:"logFile"` // rotated file logging when set
}

// DefaultServerConfig returns server defaults suitable for local dev
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr: ":8080",
		LogLevel:   "info",
	}
}

// Validate checks if the server configuration is valid
func (c *ServerConfig) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.JWTSecret == "" && !c.DevMode {
		return ErrMissingJWTSecret
	}
	return nil
}

// AgentConfig holds all configuration for the offline-capable agent
type AgentConfig struct {
	ServerURL    string `json:"serverUrl"`
	Token        string `json:"token"`
	DatabasePath string `json:"databasePath"`
	LockPath     string `json:"lockPath"`
	ClientID     string `json:"clientId"`
	UserID       string `json:"userId"`
	SyncInterval Seconds `json:"syncIntervalSeconds"`
	LogLevel     string `json:"logLevel"`
	LogFile      string `json:"logFile"`
}

// Seconds is a duration carried as an integer second count in JSON
type Seconds int

// Duration converts the second count to a time.Duration
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// DefaultAgentConfig returns agent defaults suitable for local dev
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		DatabasePath: "homegraph.db",
		SyncInterval: 300,
		LogLevel:     "info",
	}
}

// Validate checks if the agent configuration is valid
func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return ErrMissingServerURL
	}
	if c.DatabasePath == "" {
		return ErrMissingDatabasePath
	}
	return nil
}

// EffectiveLockPath returns the sync lock file path, derived from the
// database path when not configured explicitly
func (c *AgentConfig) EffectiveLockPath() string {
	if c.LockPath != "" {
		return c.LockPath
	}
	return c.DatabasePath + ".lock"
}
