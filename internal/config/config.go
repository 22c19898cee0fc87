// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Telegram settings
	BotToken     string
	BotOwnerID   int64
	AdminIDs     []int64
	AdminGroupID int64

	// Public channel links shown by /links and /vouches
	OwnerChannel string
	AdminChannel string
	VouchChannel string

	// Escrow settings
	FeePercent    string // decimal percentage, e.g. "5" or "2.5"
	SessionExpiry time.Duration
	ReapInterval  time.Duration

	// Transaction monitoring
	PollInterval    time.Duration
	MonitorRetryMax int

	// External services
	ExplorerBaseURL string // BlockCypher-compatible API root
	ExplorerToken   string
	GatewayBaseURL  string // NOWPayments-compatible API root
	GatewayAPIKey   string

	// Block list persistence
	BlockListPath string

	// Ops HTTP server (health, metrics, stats)
	OpsAddr string

	// Logging
	LogLevel  string
	LogFormat string // "text" or "json"
}

// Defaults
const (
	DefaultFeePercent      = "5"
	DefaultSessionExpiry   = 24 * time.Hour
	DefaultReapInterval    = time.Hour
	DefaultPollInterval    = 60 * time.Second
	DefaultMonitorRetryMax = 3
	DefaultExplorerBaseURL = "https://api.blockcypher.com/v1"
	DefaultGatewayBaseURL  = "https://api.nowpayments.io/v1"
	DefaultBlockListPath   = "blocked_users.json"
	DefaultOpsAddr         = ":9090"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BotToken:        os.Getenv("BOT_TOKEN"), // Required, no default
		BotOwnerID:      getEnvInt64("BOT_OWNER_ID", 0),
		AdminIDs:        getEnvInt64List("ADMIN_IDS"),
		AdminGroupID:    getEnvInt64("ADMIN_GROUP_ID", 0),
		OwnerChannel:    getEnv("OWNER_CHANNEL", "https://t.me/your_owner_channel"),
		AdminChannel:    getEnv("ADMIN_CHANNEL", "https://t.me/your_admin_channel"),
		VouchChannel:    getEnv("VOUCH_CHANNEL", "https://t.me/your_vouch_channel"),
		FeePercent:      getEnv("ESCROW_FEE_PERCENTAGE", DefaultFeePercent),
		SessionExpiry:   getEnvDuration("SESSION_EXPIRY", DefaultSessionExpiry),
		ReapInterval:    getEnvDuration("REAP_INTERVAL", DefaultReapInterval),
		PollInterval:    getEnvDuration("MONITORING_INTERVAL", DefaultPollInterval),
		MonitorRetryMax: int(getEnvInt64("MONITOR_RETRY_MAX", DefaultMonitorRetryMax)),
		ExplorerBaseURL: getEnv("EXPLORER_BASE_URL", DefaultExplorerBaseURL),
		ExplorerToken:   os.Getenv("EXPLORER_TOKEN"),
		GatewayBaseURL:  getEnv("GATEWAY_BASE_URL", DefaultGatewayBaseURL),
		GatewayAPIKey:   os.Getenv("NOWPAYMENTS_API_KEY"), // Required, no default
		BlockListPath:   getEnv("BLOCKED_USERS_FILE", DefaultBlockListPath),
		OpsAddr:         getEnv("OPS_ADDR", DefaultOpsAddr),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:       getEnv("LOG_FORMAT", DefaultLogFormat),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN is required")
	}
	if c.GatewayAPIKey == "" {
		return fmt.Errorf("NOWPAYMENTS_API_KEY is required")
	}
	if fee, err := strconv.ParseFloat(c.FeePercent, 64); err != nil || fee < 0 || fee >= 100 {
		return fmt.Errorf("ESCROW_FEE_PERCENTAGE must be a percentage in [0, 100), got %q", c.FeePercent)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("MONITORING_INTERVAL must be positive")
	}
	if c.MonitorRetryMax <= 0 {
		return fmt.Errorf("MONITOR_RETRY_MAX must be positive")
	}
	return nil
}

// IsAdmin reports whether userID is in the configured admin set.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsOwner reports whether userID is the bot owner.
func (c *Config) IsOwner(userID int64) bool {
	return c.BotOwnerID != 0 && userID == c.BotOwnerID
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64List(key string) []int64 {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, i)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are seconds, matching the legacy deployment env.
		if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
