package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds all application configuration
type Config struct {
	ListenAddress string   `json:"listenAddress"`
	DeviceID      string   `json:"deviceId"`
	DeviceIDFile  string   `json:"deviceIdFile"`
	DatabasePath  string   `json:"databasePath"`
	DatabaseURL   string   `json:"databaseUrl"`
	LogLevel      string   `json:"logLevel"`
	Security      Security `json:"security"`
	Session       Session  `json:"session"`
}

// Security configuration
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHash   string `json:"apiKeyHash"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// Session tunables for join retry, observer quiescence and the
// inactivity janitor.
type Session struct {
	JoinInitialBackoffMS   int `json:"joinInitialBackoffMs"`
	JoinMaxBackoffMS       int `json:"joinMaxBackoffMs"`
	JoinMaxAttempts        int `json:"joinMaxAttempts"`
	QuiescenceSeconds      int `json:"quiescenceSeconds"`
	InactivityMinutes      int `json:"inactivityMinutes"`
	JanitorIntervalMinutes int `json:"janitorIntervalMinutes"`
}

// UsePostgres returns true if PostgreSQL should be used
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// JoinInitialBackoff returns the first join retry delay.
func (s Session) JoinInitialBackoff() time.Duration {
	return time.Duration(s.JoinInitialBackoffMS) * time.Millisecond
}

// JoinMaxBackoff returns the join retry delay cap.
func (s Session) JoinMaxBackoff() time.Duration {
	return time.Duration(s.JoinMaxBackoffMS) * time.Millisecond
}

// Quiescence returns the post-ended observer window.
func (s Session) Quiescence() time.Duration {
	return time.Duration(s.QuiescenceSeconds) * time.Second
}

// InactivityTimeout returns the presenter inactivity timeout.
func (s Session) InactivityTimeout() time.Duration {
	return time.Duration(s.InactivityMinutes) * time.Minute
}

// JanitorInterval returns how often the inactivity sweep runs.
func (s Session) JanitorInterval() time.Duration {
	return time.Duration(s.JanitorIntervalMinutes) * time.Minute
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ListenAddress: ":5100",
		DeviceIDFile:  "device_id",
		DatabasePath:  "syncslides.db",
		LogLevel:      "info",
		Security: Security{
			APIKey:       "CHANGE_THIS_TO_A_SECURE_API_KEY_AT_LEAST_32_CHARS",
			APIKeyHeader: "X-API-Key",
		},
		Session: Session{
			JoinInitialBackoffMS:   100,
			JoinMaxBackoffMS:       2000,
			JoinMaxAttempts:        8,
			QuiescenceSeconds:      5,
			InactivityMinutes:      30,
			JanitorIntervalMinutes: 5,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("LISTEN_ADDRESS"); addr != "" {
		cfg.ListenAddress = addr
	}
	if deviceID := os.Getenv("DEVICE_ID"); deviceID != "" {
		cfg.DeviceID = deviceID
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.DatabaseURL = dbURL
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}
	if hash := os.Getenv("API_KEY_HASH"); hash != "" {
		cfg.Security.APIKeyHash = hash
	}
	if attempts := os.Getenv("JOIN_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil && n > 0 {
			cfg.Session.JoinMaxAttempts = n
		}
	}
	if minutes := os.Getenv("INACTIVITY_MINUTES"); minutes != "" {
		if n, err := strconv.Atoi(minutes); err == nil && n > 0 {
			cfg.Session.InactivityMinutes = n
		}
	}

	if err := cfg.ensureDeviceID(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureDeviceID gives the device a stable identity across restarts:
// an explicit DeviceID wins, otherwise one is read from the identity
// file, generated and persisted on first run.
func (c *Config) ensureDeviceID() error {
	if c.DeviceID != "" {
		return nil
	}

	if data, err := os.ReadFile(c.DeviceIDFile); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			c.DeviceID = id
			return nil
		}
	}

	c.DeviceID = uuid.New().String()
	return os.WriteFile(c.DeviceIDFile, []byte(c.DeviceID+"\n"), 0600)
}
