// Package config provides configuration for the chat sync daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sherzod992/Ta-Go-sub000/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSAllowedOrigins []string

	// Remote marketplace API
	APIBaseURL string
	APIToken   string
	APITimeout time.Duration

	// NATS settings
	NATSURL          string
	NATSCAFile       string
	NATSCertFile     string
	NATSKeyFile      string
	NATSToken        string
	NATSStream       string
	NATSEnsureStream bool

	// Identity of the chat participant this daemon acts for
	UserID   string
	UserRole model.Role

	// Sync settings
	MessagePageSize     int
	RoomPageSize        int
	MessagePollInterval time.Duration
	RoomPollInterval    time.Duration
	PresenceTTL         time.Duration
	TypingTTL           time.Duration

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// fileConfig mirrors the optional YAML file. Zero values leave defaults alone.
type fileConfig struct {
	Server struct {
		Port         string        `yaml:"port"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		CORSOrigins  []string      `yaml:"cors_origins"`
	} `yaml:"server"`
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	NATS struct {
		URL          string `yaml:"url"`
		Stream       string `yaml:"stream"`
		EnsureStream bool   `yaml:"ensure_stream"`
	} `yaml:"nats"`
	User struct {
		ID   string `yaml:"id"`
		Role string `yaml:"role"`
	} `yaml:"user"`
	Sync struct {
		MessagePageSize     int           `yaml:"message_page_size"`
		RoomPageSize        int           `yaml:"room_page_size"`
		MessagePollInterval time.Duration `yaml:"message_poll_interval"`
		RoomPollInterval    time.Duration `yaml:"room_poll_interval"`
		PresenceTTL         time.Duration `yaml:"presence_ttl"`
		TypingTTL           time.Duration `yaml:"typing_ttl"`
	} `yaml:"sync"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load resolves configuration in priority order: defaults, then the YAML file
// named by CONFIG_FILE (config.yaml if unset, skipped when absent), then
// environment variables. A local .env file is loaded into the environment first.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	path := getEnv("CONFIG_FILE", "config.yaml")
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.applyFile(raw); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 120 * time.Second,
		CORSAllowedOrigins: []string{"*"},

		APIBaseURL: "http://localhost:3000/api",
		APITimeout: 10 * time.Second,

		NATSURL:    "nats://localhost:4222",
		NATSStream: "CHAT",

		UserRole: model.RoleUser,

		MessagePageSize:     50,
		RoomPageSize:        100,
		MessagePollInterval: 3 * time.Second,
		RoomPollInterval:    30 * time.Second,
		PresenceTTL:         2 * time.Minute,
		TypingTTL:           8 * time.Second,

		JWTSecret: "development-secret-change-in-production",

		RateLimitRequests: 120,
		RateLimitWindow:   time.Minute,

		LogLevel: "info",

		TracingEndpoint: "localhost:4318",
	}
}

func (c *Config) applyFile(raw []byte) error {
	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return err
	}

	if f.Server.Port != "" {
		c.ServerPort = f.Server.Port
	}
	if f.Server.ReadTimeout > 0 {
		c.ServerReadTimeout = f.Server.ReadTimeout
	}
	if f.Server.WriteTimeout > 0 {
		c.ServerWriteTimeout = f.Server.WriteTimeout
	}
	if len(f.Server.CORSOrigins) > 0 {
		c.CORSAllowedOrigins = f.Server.CORSOrigins
	}
	if f.API.BaseURL != "" {
		c.APIBaseURL = f.API.BaseURL
	}
	if f.API.Timeout > 0 {
		c.APITimeout = f.API.Timeout
	}
	if f.NATS.URL != "" {
		c.NATSURL = f.NATS.URL
	}
	if f.NATS.Stream != "" {
		c.NATSStream = f.NATS.Stream
	}
	if f.NATS.EnsureStream {
		c.NATSEnsureStream = true
	}
	if f.User.ID != "" {
		c.UserID = f.User.ID
	}
	if f.User.Role != "" {
		c.UserRole = model.Role(strings.ToUpper(f.User.Role))
	}
	if f.Sync.MessagePageSize > 0 {
		c.MessagePageSize = f.Sync.MessagePageSize
	}
	if f.Sync.RoomPageSize > 0 {
		c.RoomPageSize = f.Sync.RoomPageSize
	}
	if f.Sync.MessagePollInterval > 0 {
		c.MessagePollInterval = f.Sync.MessagePollInterval
	}
	if f.Sync.RoomPollInterval > 0 {
		c.RoomPollInterval = f.Sync.RoomPollInterval
	}
	if f.Sync.PresenceTTL > 0 {
		c.PresenceTTL = f.Sync.PresenceTTL
	}
	if f.Sync.TypingTTL > 0 {
		c.TypingTTL = f.Sync.TypingTTL
	}
	if f.Log.Level != "" {
		c.LogLevel = f.Log.Level
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.ServerPort = getEnv("PORT", c.ServerPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.CORSAllowedOrigins = getCSVEnv("CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)

	// Remote API
	c.APIBaseURL = getEnv("CHAT_API_URL", c.APIBaseURL)
	c.APIToken = getEnv("CHAT_API_TOKEN", c.APIToken)
	c.APITimeout = getDurationEnv("CHAT_API_TIMEOUT", c.APITimeout)

	// NATS
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)
	c.NATSStream = getEnv("NATS_STREAM", c.NATSStream)
	c.NATSEnsureStream = getBoolEnv("NATS_ENSURE_STREAM", c.NATSEnsureStream)

	// Identity
	c.UserID = getEnv("CHAT_USER_ID", c.UserID)
	c.UserRole = model.Role(strings.ToUpper(getEnv("CHAT_USER_ROLE", string(c.UserRole))))

	// Sync
	c.MessagePageSize = getIntEnv("MESSAGE_PAGE_SIZE", c.MessagePageSize)
	c.RoomPageSize = getIntEnv("ROOM_PAGE_SIZE", c.RoomPageSize)
	c.MessagePollInterval = getDurationEnv("MESSAGE_POLL_INTERVAL", c.MessagePollInterval)
	c.RoomPollInterval = getDurationEnv("ROOM_POLL_INTERVAL", c.RoomPollInterval)
	c.PresenceTTL = getDurationEnv("PRESENCE_TTL", c.PresenceTTL)
	c.TypingTTL = getDurationEnv("TYPING_TTL", c.TypingTTL)

	// JWT
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)

	// Rate limiting
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	switch {
	case c.UserID == "":
		return errors.New("CHAT_USER_ID is required")
	case !c.UserRole.Valid():
		return fmt.Errorf("CHAT_USER_ROLE must be USER or AGENT, got %q", c.UserRole)
	case c.APIBaseURL == "":
		return errors.New("CHAT_API_URL is required")
	case c.MessagePageSize <= 0 || c.RoomPageSize <= 0:
		return errors.New("page sizes must be positive")
	case c.MessagePollInterval <= 0 || c.RoomPollInterval <= 0:
		return errors.New("poll intervals must be positive")
	case c.PresenceTTL < 0 || c.TypingTTL < 0:
		return errors.New("presence and typing TTLs must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getCSVEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
