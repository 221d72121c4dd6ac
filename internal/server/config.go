package server

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/gochat-relay/internal/hub"
)

// Run modes.
const (
	RunModeLocal = "local"
	RunModeProd  = "prod"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// PresenceConfig holds the presence policies handed to the hub.
type PresenceConfig struct {
	CloseSuperseded   bool `yaml:"close_superseded"`
	BroadcastUserList bool `yaml:"broadcast_user_list"`
}

// Config holds the relay configuration.
type Config struct {
	Port           string          `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	SendBufferSize int             `yaml:"send_buffer_size"`

	RunMode   string `yaml:"run_mode"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// SeedFile is a YAML fixture of users, conversations and groups loaded
	// into the in-memory store in local mode.
	SeedFile    string `yaml:"seed_file"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`

	NATSURL           string `yaml:"nats_url"`
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`

	// NotifyToken guards the /api/notify endpoints. Empty disables the check,
	// which prod mode only accepts together with NotifyInsecure.
	NotifyToken    string `yaml:"notify_token"`
	NotifyInsecure bool   `yaml:"notify_insecure"`

	Presence PresenceConfig `yaml:"presence"`
}

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		Port:           ":8080",
		AllowedOrigins: []string{"http://localhost:8080"},
		MaxMessageSize: 512,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SendBufferSize:    256,
		RunMode:           RunModeLocal,
		LogLevel:          "info",
		NATSSubjectPrefix: "chat.events",
		Presence: PresenceConfig{
			BroadcastUserList: true,
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, applies
// environment overrides, fills zero values and validates the result. An
// empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnvOverrides()
	cfg = cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides replaces settings with any of the environment variables
// that are set. Unparseable numbers are ignored.
func (c *Config) ApplyEnvOverrides() {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		c.MaxMessageSize = parseMaxMessageSize(maxSize, c.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		c.RateLimit.Burst = parseIntValue(burst, c.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		c.RateLimit.RefillInterval = parseRefillInterval(interval, c.RateLimit.RefillInterval)
	}
	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		c.SendBufferSize = parseIntValue(size, c.SendBufferSize)
	}
	if insecure := os.Getenv("NOTIFY_INSECURE"); insecure != "" {
		if v, err := strconv.ParseBool(insecure); err == nil {
			c.NotifyInsecure = v
		}
	}

	stringOverrides := map[string]*string{
		"RUN_MODE":            &c.RunMode,
		"LOG_LEVEL":           &c.LogLevel,
		"POSTGRES_DSN":        &c.PostgresDSN,
		"REDIS_ADDR":          &c.RedisAddr,
		"NATS_URL":            &c.NATSURL,
		"NATS_SUBJECT_PREFIX": &c.NATSSubjectPrefix,
		"NOTIFY_TOKEN":        &c.NotifyToken,
	}
	for key, field := range stringOverrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
}

// Sanitize fills zero or negative values with defaults.
func (c Config) Sanitize() Config {
	def := DefaultConfig()
	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	c.RunMode = strings.ToLower(strings.TrimSpace(c.RunMode))
	if c.RunMode == "" {
		c.RunMode = def.RunMode
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	c.NATSSubjectPrefix = strings.Trim(c.NATSSubjectPrefix, ". ")
	if c.NATSSubjectPrefix == "" {
		c.NATSSubjectPrefix = def.NATSSubjectPrefix
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// Validate checks settings that have no safe default.
func (c Config) Validate() error {
	switch c.RunMode {
	case RunModeLocal:
	case RunModeProd:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: run mode %q requires postgres_dsn", ErrInvalidConfig, c.RunMode)
		}
		if c.NotifyToken == "" && !c.NotifyInsecure {
			return fmt.Errorf("%w: run mode %q requires notify_token (or notify_insecure: true)", ErrInvalidConfig, c.RunMode)
		}
	default:
		return fmt.Errorf("%w: unknown run mode %q", ErrInvalidConfig, c.RunMode)
	}
	return nil
}

// HubOptions returns the presence policies for hub.New.
func (c Config) HubOptions() hub.Options {
	return hub.Options{
		CloseSuperseded:   c.Presence.CloseSuperseded,
		BroadcastUserList: c.Presence.BroadcastUserList,
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts whole seconds ("2") or a Go duration ("500ms").
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
