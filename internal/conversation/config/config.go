// Package config loads the conversation API configuration.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds the conversation API configuration
type Config struct {
	Addr     string // Address to bind the HTTP listener
	LogLevel string

	// TeamRemoteURL is the base URL of the remote agent team service.
	TeamRemoteURL string
	// TeamID names the askable on the remote side.
	TeamID string

	// RedisAddr enables the distributed conversation store when non-empty.
	RedisAddr string
}

// Load loads configuration from command line flags and environment variables.
// A .env file in the working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Overload()

	cfg := &Config{}

	flag.StringVar(&cfg.Addr, "addr", ":8081", "HTTP listen address")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	if addr := os.Getenv("ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}

	cfg.TeamRemoteURL = os.Getenv("TEAM_REMOTE_URL")
	cfg.TeamID = os.Getenv("TEAM_ID")
	if cfg.TeamID == "" {
		cfg.TeamID = "telco-team"
	}
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")

	if cfg.TeamRemoteURL == "" {
		return nil, fmt.Errorf("TEAM_REMOTE_URL is required")
	}

	return cfg, nil
}
