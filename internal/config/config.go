// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (abuse tracking; empty falls back to in-memory tracking)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// JWT Authentication. JWTSecretPrevious, when set, keeps tokens
	// signed with the prior secret valid during a rotation window.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTSecretPrevious string `koanf:"jwt_secret_previous"`

	// Two-person approval workflow
	ApprovalTTL           time.Duration `koanf:"approval_ttl"`
	ApprovalSweepInterval time.Duration `koanf:"approval_sweep_interval"`

	// Risk classification
	TierOverrideTTL time.Duration `koanf:"tier_override_ttl"`

	// Readiness evaluation. BlockingConflictSeverity is the lowest
	// conflict severity that blocks readiness and the publish gate.
	MinFieldLength           int    `koanf:"min_field_length"`
	BlockingConflictSeverity string `koanf:"blocking_conflict_severity"`

	// Abuse detection
	AbuseEnabled       bool          `koanf:"abuse_enabled"`
	AbuseWindow        time.Duration `koanf:"abuse_window"`
	AbuseThreshold     int           `koanf:"abuse_threshold"`
	AbuseAlertCooldown time.Duration `koanf:"abuse_alert_cooldown"`

	// OpenAI (optional field-quality scoring)
	OpenAIAPIKey  string `koanf:"openai_api_key"`
	OpenAIModel   string `koanf:"openai_model"`
	OpenAIBaseURL string `koanf:"openai_base_url"`

	// Slack (abuse alert notifications)
	SlackToken        string `koanf:"slack_token"`
	SlackAlertChannel string `koanf:"slack_alert_channel"`

	// S3 audit archive (optional; all fields required together)
	ArchiveBucket          string `koanf:"archive_bucket"`
	ArchiveRegion          string `koanf:"archive_region"`
	ArchiveAccessKeyID     string `koanf:"archive_access_key_id"`
	ArchiveSecretAccessKey string `koanf:"archive_secret_access_key"`
	ArchiveEndpoint        string `koanf:"archive_endpoint"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporter     string  `koanf:"tracing_exporter"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`

	// CORS (comma-separated origin list; empty disables CORS entirely)
	CORSAllowedOrigins string `koanf:"cors_allowed_origins"`

	// Profiling (pprof endpoints; refused outside development)
	ProfilingEnabled bool `koanf:"profiling_enabled"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL         = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret           = errors.New("JWT_SECRET is required")
	ErrMissingSlackAlertChannel   = errors.New("SLACK_ALERT_CHANNEL is required when SLACK_TOKEN is set")
	ErrMissingArchiveBucket       = errors.New("ARCHIVE_BUCKET is required")
	ErrMissingArchiveRegion       = errors.New("ARCHIVE_REGION is required")
	ErrMissingArchiveAccessKey    = errors.New("ARCHIVE_ACCESS_KEY_ID is required")
	ErrMissingArchiveSecretKey    = errors.New("ARCHIVE_SECRET_ACCESS_KEY is required")
	ErrInvalidPort                = errors.New("PORT must be a valid integer")
	ErrInvalidApprovalTTL         = errors.New("APPROVAL_TTL must be positive")
	ErrInvalidAbuseThreshold      = errors.New("ABUSE_THRESHOLD must be positive")
	ErrInvalidTracingSamplingRate = errors.New("TRACING_SAMPLING_RATE must be between 0 and 1")
	ErrInvalidBlockingSeverity    = errors.New("BLOCKING_CONFLICT_SEVERITY must be one of: low, medium, high, critical")
)

// Default values for non-secret configuration.
const (
	DefaultPort                  = 8080
	DefaultEnv                   = "development"
	DefaultApprovalTTL           = 30 * time.Minute
	DefaultApprovalSweepInterval = time.Minute
	DefaultTierOverrideTTL       = 2 * time.Hour
	DefaultMinFieldLength        = 5
	DefaultBlockingSeverity      = "high"
	DefaultAbuseEnabled          = true
	DefaultAbuseWindow           = 10 * time.Minute
	DefaultAbuseThreshold        = 5
	DefaultAbuseAlertCooldown    = 15 * time.Minute
	DefaultOpenAIModel           = "gpt-4o-mini"
	DefaultTracingSamplingRate   = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try INTEGRITYKIT_PORT first, then PORT for plain deployments
	port, portErr := getEnvIntOrDefaultMulti([]string{"INTEGRITYKIT_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	minFieldLength, minFieldErr := getEnvIntOrDefault("MIN_FIELD_LENGTH", k.Int("min_field_length"), DefaultMinFieldLength)
	if minFieldErr != nil {
		loadErrs = append(loadErrs, minFieldErr)
	}

	abuseThreshold, thresholdErr := getEnvIntOrDefault("ABUSE_THRESHOLD", k.Int("abuse_threshold"), DefaultAbuseThreshold)
	if thresholdErr != nil {
		loadErrs = append(loadErrs, thresholdErr)
	}

	approvalTTL, ttlErr := getEnvDurationOrDefault("APPROVAL_TTL", k.Duration("approval_ttl"), DefaultApprovalTTL)
	if ttlErr != nil {
		loadErrs = append(loadErrs, ttlErr)
	}
	sweepInterval, sweepErr := getEnvDurationOrDefault("APPROVAL_SWEEP_INTERVAL", k.Duration("approval_sweep_interval"), DefaultApprovalSweepInterval)
	if sweepErr != nil {
		loadErrs = append(loadErrs, sweepErr)
	}
	overrideTTL, overrideErr := getEnvDurationOrDefault("TIER_OVERRIDE_TTL", k.Duration("tier_override_ttl"), DefaultTierOverrideTTL)
	if overrideErr != nil {
		loadErrs = append(loadErrs, overrideErr)
	}
	abuseWindow, windowErr := getEnvDurationOrDefault("ABUSE_WINDOW", k.Duration("abuse_window"), DefaultAbuseWindow)
	if windowErr != nil {
		loadErrs = append(loadErrs, windowErr)
	}
	abuseCooldown, cooldownErr := getEnvDurationOrDefault("ABUSE_ALERT_COOLDOWN", k.Duration("abuse_alert_cooldown"), DefaultAbuseAlertCooldown)
	if cooldownErr != nil {
		loadErrs = append(loadErrs, cooldownErr)
	}

	samplingRate, samplingErr := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if samplingErr != nil {
		loadErrs = append(loadErrs, samplingErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:                     port,
		Env:                      getEnvOrDefaultMulti([]string{"INTEGRITYKIT_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:              getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:                getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword:            getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		JWTSecret:                getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTSecretPrevious:        getEnvOrKoanf("JWT_SECRET_PREVIOUS", k, "jwt_secret_previous"),
		ApprovalTTL:              approvalTTL,
		ApprovalSweepInterval:    sweepInterval,
		TierOverrideTTL:          overrideTTL,
		MinFieldLength:           minFieldLength,
		BlockingConflictSeverity: getEnvOrDefault("BLOCKING_CONFLICT_SEVERITY", k.String("blocking_conflict_severity"), DefaultBlockingSeverity),
		AbuseEnabled:             getEnvBoolOrDefault("ABUSE_ENABLED", k, "abuse_enabled", DefaultAbuseEnabled),
		AbuseWindow:              abuseWindow,
		AbuseThreshold:           abuseThreshold,
		AbuseAlertCooldown:       abuseCooldown,
		OpenAIAPIKey:             getEnvOrKoanf("OPENAI_API_KEY", k, "openai_api_key"),
		OpenAIModel:              getEnvOrDefault("OPENAI_MODEL", k.String("openai_model"), DefaultOpenAIModel),
		OpenAIBaseURL:            getEnvOrKoanf("OPENAI_BASE_URL", k, "openai_base_url"),
		SlackToken:               getEnvOrKoanf("SLACK_TOKEN", k, "slack_token"),
		SlackAlertChannel:        getEnvOrKoanf("SLACK_ALERT_CHANNEL", k, "slack_alert_channel"),
		ArchiveBucket:            getEnvOrKoanf("ARCHIVE_BUCKET", k, "archive_bucket"),
		ArchiveRegion:            getEnvOrKoanf("ARCHIVE_REGION", k, "archive_region"),
		ArchiveAccessKeyID:       getEnvOrKoanf("ARCHIVE_ACCESS_KEY_ID", k, "archive_access_key_id"),
		ArchiveSecretAccessKey:   getEnvOrKoanf("ARCHIVE_SECRET_ACCESS_KEY", k, "archive_secret_access_key"),
		ArchiveEndpoint:          getEnvOrKoanf("ARCHIVE_ENDPOINT", k, "archive_endpoint"),
		TracingEnabled:           getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporter:          getEnvOrKoanf("TRACING_EXPORTER", k, "tracing_exporter"),
		TracingOTLPEndpoint:      getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate:      samplingRate,
		TracingInsecure:          getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),
		CORSAllowedOrigins:       getEnvOrKoanf("CORS_ALLOWED_ORIGINS", k, "cors_allowed_origins"),
		ProfilingEnabled:         getEnvBoolOrDefault("PROFILING_ENABLED", k, "profiling_enabled", false),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable as a duration if set,
// otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration (e.g. 30m): %w", envKey, err)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault returns the environment variable as bool if set,
// otherwise the koanf value if present, or default.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	if k.Exists(koanfKey) {
		return k.Bool(koanfKey)
	}
	return defaultVal
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.ApprovalTTL <= 0 {
		errs = append(errs, ErrInvalidApprovalTTL)
	}
	if c.AbuseThreshold <= 0 {
		errs = append(errs, ErrInvalidAbuseThreshold)
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidTracingSamplingRate)
	}
	switch c.BlockingConflictSeverity {
	case "low", "medium", "high", "critical":
	default:
		errs = append(errs, ErrInvalidBlockingSeverity)
	}

	// Slack is optional, but a token without a channel cannot deliver.
	if c.SlackToken != "" && c.SlackAlertChannel == "" {
		errs = append(errs, ErrMissingSlackAlertChannel)
	}

	// Archive configuration is optional. Only validate fields if any value is set.
	if c.ArchiveBucket != "" || c.ArchiveAccessKeyID != "" || c.ArchiveSecretAccessKey != "" || c.ArchiveRegion != "" {
		if c.ArchiveBucket == "" {
			errs = append(errs, ErrMissingArchiveBucket)
		}
		if c.ArchiveRegion == "" {
			errs = append(errs, ErrMissingArchiveRegion)
		}
		if c.ArchiveAccessKeyID == "" {
			errs = append(errs, ErrMissingArchiveAccessKey)
		}
		if c.ArchiveSecretAccessKey == "" {
			errs = append(errs, ErrMissingArchiveSecretKey)
		}
	}

	return errs
}

// GetJWTSecrets returns the current and previous JWT signing secrets.
// The previous secret is empty unless a rotation is in progress.
func (c *Config) GetJWTSecrets() (current, previous string) {
	return c.JWTSecret, c.JWTSecretPrevious
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                       fmt.Sprintf("%d", c.Port),
		"env":                        c.Env,
		"database_url":               maskDatabaseURL(c.DatabaseURL),
		"redis_addr":                 c.RedisAddr,
		"jwt_secret":                 maskSecret(c.JWTSecret),
		"approval_ttl":               c.ApprovalTTL.String(),
		"approval_sweep_interval":    c.ApprovalSweepInterval.String(),
		"tier_override_ttl":          c.TierOverrideTTL.String(),
		"min_field_length":           fmt.Sprintf("%d", c.MinFieldLength),
		"blocking_conflict_severity": c.BlockingConflictSeverity,
		"abuse_enabled":              fmt.Sprintf("%t", c.AbuseEnabled),
		"abuse_window":               c.AbuseWindow.String(),
		"abuse_threshold":            fmt.Sprintf("%d", c.AbuseThreshold),
		"abuse_alert_cooldown":       c.AbuseAlertCooldown.String(),
		"openai_api_key":             maskSecret(c.OpenAIAPIKey),
		"openai_model":               c.OpenAIModel,
		"slack_token":                maskSecret(c.SlackToken),
		"slack_alert_channel":        c.SlackAlertChannel,
		"archive_bucket":             c.ArchiveBucket,
		"archive_region":             c.ArchiveRegion,
		"archive_access_key_id":      maskSecret(c.ArchiveAccessKeyID),
		"archive_secret_key":         maskSecret(c.ArchiveSecretAccessKey),
		"archive_endpoint":           c.ArchiveEndpoint,
		"tracing_enabled":            fmt.Sprintf("%t", c.TracingEnabled),
		"tracing_sampling_rate":      fmt.Sprintf("%g", c.TracingSamplingRate),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
