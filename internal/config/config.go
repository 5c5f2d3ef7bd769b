// Package config loads server configuration from environment variables and
// an optional YAML file for the lobby tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/meetplay/lobby/internal/models"
	"gopkg.in/yaml.v3"
)

// DBConfig holds Postgres connection settings.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDBConfigFromEnv reads DB_* environment variables (with defaults).
func NewDBConfigFromEnv() DBConfig {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	return DBConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "lobby"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// ServerConfig holds the process-level settings read from the environment.
type ServerConfig struct {
	Port    string
	NATSURL string
	DB      DBConfig
	// LobbyConfigPath optionally points at a YAML lobby config file.
	LobbyConfigPath string
}

// NewServerConfigFromEnv reads server settings with defaults.
func NewServerConfigFromEnv() ServerConfig {
	return ServerConfig{
		Port:            getEnv("PORT", "8080"),
		NATSURL:         getEnv("NATS_URL", "nats://localhost:4222"),
		DB:              NewDBConfigFromEnv(),
		LobbyConfigPath: getEnv("LOBBY_CONFIG", ""),
	}
}

// LobbyConfig holds the lobby tunables and the game catalog.
type LobbyConfig struct {
	DefaultMinPlayers int           `yaml:"default_min_players"`
	ReapThreshold     time.Duration `yaml:"reap_threshold"`
	ReapScanInterval  time.Duration `yaml:"reap_scan_interval"`
	Games             []models.Game `yaml:"games"`
}

// DefaultLobbyConfig returns the built-in tunables used when no YAML file is
// supplied.
func DefaultLobbyConfig() LobbyConfig {
	return LobbyConfig{
		DefaultMinPlayers: 2,
		ReapThreshold:     10 * time.Minute,
		ReapScanInterval:  time.Minute,
	}
}

// LoadLobbyConfig reads a YAML lobby config. Fields left out of the file
// keep their defaults; an empty path returns the defaults unchanged.
func LoadLobbyConfig(path string) (LobbyConfig, error) {
	cfg := DefaultLobbyConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read lobby config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse lobby config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
