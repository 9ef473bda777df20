package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the VoiceCore engine.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir          string
	HTTPPort         int
	LogLevel         string
	LogFormat        string // log output format: "text" or "json"
	FingerprintKey   string // hex-encoded 32-byte key for caller number fingerprinting
	JWTSecret        string // hex-encoded 32-byte secret for analytics API tokens
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	TelephonyBaseURL string // base URL of the telephony provider's call-control API
	TelephonyToken   string // bearer token for the telephony provider
	AuditPostgresDSN string // optional PostgreSQL DSN for the audit mirror
	AITimeoutSecs    int    // default per-turn AI timeout for tenants without an override
	QueueMaxDepth    int    // default wait-queue depth limit
	QueueMaxWaitSecs int    // default max hold time before voicemail
	WebhookRate      float64
	WebhookBurst     int
}

// defaults
const (
	defaultDataDir          = "./data"
	defaultHTTPPort         = 8080
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultAITimeoutSecs    = 5
	defaultQueueMaxDepth    = 50
	defaultQueueMaxWaitSecs = 300
	defaultWebhookRate      = 10.0
	defaultWebhookBurst     = 30
)

// envPrefix is the prefix for all VoiceCore environment variables.
const envPrefix = "VOICECORE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("voicecore", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.FingerprintKey, "fingerprint-key", "", "hex-encoded 32-byte key for caller number fingerprinting (auto-generated if empty)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for analytics API token signing (auto-generated if empty)")
	fs.StringVar(&cfg.OpenAIAPIKey, "openai-api-key", "", "API key for the conversational AI provider")
	fs.StringVar(&cfg.OpenAIBaseURL, "openai-base-url", "", "override base URL for the AI provider (empty for default)")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", defaultOpenAIModel, "chat model used for receptionist turns")
	fs.StringVar(&cfg.TelephonyBaseURL, "telephony-base-url", "", "base URL of the telephony provider call-control API")
	fs.StringVar(&cfg.TelephonyToken, "telephony-token", "", "bearer token for the telephony provider")
	fs.StringVar(&cfg.AuditPostgresDSN, "audit-postgres-dsn", "", "optional PostgreSQL DSN for mirroring audit events to analytics")
	fs.IntVar(&cfg.AITimeoutSecs, "ai-timeout", defaultAITimeoutSecs, "default per-turn AI provider timeout in seconds")
	fs.IntVar(&cfg.QueueMaxDepth, "queue-max-depth", defaultQueueMaxDepth, "default wait-queue depth limit per tenant")
	fs.IntVar(&cfg.QueueMaxWaitSecs, "queue-max-wait", defaultQueueMaxWaitSecs, "default max hold time in seconds before voicemail fallback")
	fs.Float64Var(&cfg.WebhookRate, "webhook-rate", defaultWebhookRate, "webhook requests allowed per second per tenant")
	fs.IntVar(&cfg.WebhookBurst, "webhook-burst", defaultWebhookBurst, "webhook request burst size per tenant")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":           envPrefix + "DATA_DIR",
		"http-port":          envPrefix + "HTTP_PORT",
		"log-level":          envPrefix + "LOG_LEVEL",
		"log-format":         envPrefix + "LOG_FORMAT",
		"fingerprint-key":    envPrefix + "FINGERPRINT_KEY",
		"jwt-secret":         envPrefix + "JWT_SECRET",
		"openai-api-key":     envPrefix + "OPENAI_API_KEY",
		"openai-base-url":    envPrefix + "OPENAI_BASE_URL",
		"openai-model":       envPrefix + "OPENAI_MODEL",
		"telephony-base-url": envPrefix + "TELEPHONY_BASE_URL",
		"telephony-token":    envPrefix + "TELEPHONY_TOKEN",
		"audit-postgres-dsn": envPrefix + "AUDIT_POSTGRES_DSN",
		"ai-timeout":         envPrefix + "AI_TIMEOUT",
		"queue-max-depth":    envPrefix + "QUEUE_MAX_DEPTH",
		"queue-max-wait":     envPrefix + "QUEUE_MAX_WAIT",
		"webhook-rate":       envPrefix + "WEBHOOK_RATE",
		"webhook-burst":      envPrefix + "WEBHOOK_BURST",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "fingerprint-key":
			cfg.FingerprintKey = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "openai-api-key":
			cfg.OpenAIAPIKey = val
		case "openai-base-url":
			cfg.OpenAIBaseURL = val
		case "openai-model":
			cfg.OpenAIModel = val
		case "telephony-base-url":
			cfg.TelephonyBaseURL = val
		case "telephony-token":
			cfg.TelephonyToken = val
		case "audit-postgres-dsn":
			cfg.AuditPostgresDSN = val
		case "ai-timeout":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.AITimeoutSecs = v
			}
		case "queue-max-depth":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.QueueMaxDepth = v
			}
		case "queue-max-wait":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.QueueMaxWaitSecs = v
			}
		case "webhook-rate":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.WebhookRate = v
			}
		case "webhook-burst":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.WebhookBurst = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.AITimeoutSecs < 1 || c.AITimeoutSecs > 30 {
		return fmt.Errorf("ai-timeout must be between 1 and 30 seconds, got %d", c.AITimeoutSecs)
	}
	if c.QueueMaxDepth < 1 {
		return fmt.Errorf("queue-max-depth must be at least 1, got %d", c.QueueMaxDepth)
	}
	if c.QueueMaxWaitSecs < 1 {
		return fmt.Errorf("queue-max-wait must be at least 1 second, got %d", c.QueueMaxWaitSecs)
	}
	if c.WebhookRate <= 0 {
		return fmt.Errorf("webhook-rate must be positive, got %v", c.WebhookRate)
	}
	if c.WebhookBurst < 1 {
		return fmt.Errorf("webhook-burst must be at least 1, got %d", c.WebhookBurst)
	}

	return nil
}

// AITimeout returns the default AI provider timeout as a duration.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutSecs) * time.Second
}

// QueueMaxWait returns the default queue hold limit as a duration.
func (c *Config) QueueMaxWait() time.Duration {
	return time.Duration(c.QueueMaxWaitSecs) * time.Second
}

// FingerprintKeyBytes returns the decoded 32-byte fingerprint key.
// If no key is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) FingerprintKeyBytes() ([]byte, error) {
	return c.keyBytes(&c.FingerprintKey, "fingerprint-key",
		"no fingerprint-key configured, generated ephemeral key (fingerprints will not match across restarts)")
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret, generating
// an ephemeral one when unset.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	return c.keyBytes(&c.JWTSecret, "jwt-secret",
		"no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
}

// keyBytes decodes a hex-encoded 32-byte key, generating one if empty.
func (c *Config) keyBytes(field *string, name, warnMsg string) ([]byte, error) {
	if *field == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating %s: %w", name, err)
		}
		*field = hex.EncodeToString(key)
		slog.Warn(warnMsg)
		return key, nil
	}
	key, err := hex.DecodeString(*field)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", name, len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
