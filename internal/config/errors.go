package config

import "errors"

var (
	// ErrConfigFileNotFound indicates that the config file was not found
	ErrConfigFileNotFound = errors.New("configuration file not found")

	// ErrInvalidConfigFormat indicates that the config file has invalid JSON
	ErrInvalidConfigFormat = errors.New("invalid configuration file format")

	// ErrMissingDatabaseURL indicates that the server has no postgres URL
	ErrMissingDatabaseURL = errors.New("databaseUrl is required")

	// ErrMissingJWTSecret indicates that the server has no signing secret and
	// dev mode is off
	ErrMissingJWTSecret = errors.New("jwtSecret is required when not in dev mode")

	// ErrMissingServerURL indicates that the agent has no server to sync with
	ErrMissingServerURL = errors.New("serverUrl is required")

	// ErrMissingDatabasePath indicates that the agent has no local database
	ErrMissingDatabasePath = errors.New("databasePath is required")
)
