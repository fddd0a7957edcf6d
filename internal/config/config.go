// Package config loads homeapi configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file, then
// environment variables. Lambda functions usually run with environment only:
//
//	cfg, err := config.Load(os.Getenv("HOMEAPI_CONFIG"))
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// maxRetries is the most retries the store will make.
const maxRetries = 10

// Config is the complete homeapi configuration.
type Config struct {
	Table   TableConfig   `yaml:"table"`
	AWS     AWSConfig     `yaml:"aws"`
	API     APIConfig     `yaml:"api"`
	Auth    AuthConfig    `yaml:"auth"`
	Remo    RemoConfig    `yaml:"remo"`
	Logging LoggingConfig `yaml:"logging"`
}

// TableConfig describes the DynamoDB table.
type TableConfig struct {
	Name             string `yaml:"name"`
	APIKeyIndex      string `yaml:"api_key_index"`
	APIKeyIndexAttr  string `yaml:"api_key_index_attr"`
	MaxRetries       int    `yaml:"max_retries"`
	RetryBaseDelayMS int    `yaml:"retry_base_delay_ms"`

	// ExpiredKeyRetentionDays is how long expired API keys are kept before
	// DynamoDB TTL removes them.
	ExpiredKeyRetentionDays int `yaml:"expired_key_retention_days"`
}

// AWSConfig overrides the SDK defaults.
type AWSConfig struct {
	Region string `yaml:"region"`

	// Endpoint points the DynamoDB client elsewhere, e.g. DynamoDB Local.
	Endpoint string `yaml:"endpoint"`
}

// APIConfig configures the HTTP listener and GraphQL limits.
type APIConfig struct {
	Host            string           `yaml:"host"`
	Port            int              `yaml:"port"`
	Timeouts        APITimeoutConfig `yaml:"timeouts"`
	CORS            CORSConfig       `yaml:"cors"`
	DefaultPageSize int              `yaml:"default_page_size"`
	MaxPageSize     int              `yaml:"max_page_size"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig configures OAuth verification and write access.
type AuthConfig struct {
	GoogleClientID string   `yaml:"google_client_id"`
	JWKSURL        string   `yaml:"jwks_url"`
	Issuers        []string `yaml:"issuers"`

	// JWKSRefreshSeconds is the minimum interval between key set refetches.
	JWKSRefreshSeconds int `yaml:"jwks_refresh_seconds"`

	// RequireRegisteredUsers rejects callers without a USER item.
	RequireRegisteredUsers bool `yaml:"require_registered_users"`

	// WritePolicy is "authenticated" or "allowlist".
	WritePolicy string   `yaml:"write_policy"`
	Writers     []string `yaml:"writers"`
}

// RemoConfig configures the Nature Remo importer.
type RemoConfig struct {
	Token          string `yaml:"token"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	DefaultPlace   string `yaml:"default_place"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration. An empty path skips the file and uses defaults
// plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Table: TableConfig{
			Name:                    "homeapi",
			APIKeyIndex:             "user_email-index",
			APIKeyIndexAttr:         "user_email",
			MaxRetries:              3,
			RetryBaseDelayMS:        50,
			ExpiredKeyRetentionDays: 30,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			DefaultPageSize: 20,
			MaxPageSize:     100,
		},
		Auth: AuthConfig{
			JWKSURL:            "https://www.googleapis.com/oauth2/v3/certs",
			Issuers:            []string{"https://accounts.google.com", "accounts.google.com"},
			JWKSRefreshSeconds: 60,
			WritePolicy:        "authenticated",
		},
		Remo: RemoConfig{
			BaseURL:        "https://api.nature.global",
			TimeoutSeconds: 10,
			DefaultPlace:   "unknown",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variables on top of file values.
func applyEnvOverrides(cfg *Config) error {
	// TABLE_NAME is what the deployment template sets for the functions.
	if v := os.Getenv("TABLE_NAME"); v != "" {
		cfg.Table.Name = v
	}
	if v := os.Getenv("HOMEAPI_TABLE_NAME"); v != "" {
		cfg.Table.Name = v
	}
	if v := os.Getenv("HOMEAPI_API_KEY_INDEX"); v != "" {
		cfg.Table.APIKeyIndex = v
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("HOMEAPI_DYNAMODB_ENDPOINT"); v != "" {
		cfg.AWS.Endpoint = v
	}

	if v := os.Getenv("HOMEAPI_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HOMEAPI_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HOMEAPI_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("HOMEAPI_WRITE_POLICY"); v != "" {
		cfg.Auth.WritePolicy = v
	}
	if v := os.Getenv("HOMEAPI_WRITERS"); v != "" {
		cfg.Auth.Writers = splitList(v)
	}

	if v := os.Getenv("HOMEAPI_REQUIRE_REGISTERED_USERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("HOMEAPI_REQUIRE_REGISTERED_USERS: %w", err)
		}
		cfg.Auth.RequireRegisteredUsers = b
	}

	if v := os.Getenv("NATURE_REMO_TOKEN"); v != "" {
		cfg.Remo.Token = v
	}

	if v := os.Getenv("HOMEAPI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HOMEAPI_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Table.Name == "" {
		errs = append(errs, "table.name is required")
	}
	if c.Table.APIKeyIndex == "" || c.Table.APIKeyIndexAttr == "" {
		errs = append(errs, "table.api_key_index and table.api_key_index_attr are required")
	}
	if c.Table.MaxRetries < 1 || c.Table.MaxRetries > maxRetries {
		errs = append(errs, fmt.Sprintf("table.max_retries must be between 1 and %d", maxRetries))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.DefaultPageSize < 1 || c.API.MaxPageSize < c.API.DefaultPageSize {
		errs = append(errs, "api.default_page_size must be between 1 and api.max_page_size")
	}

	switch c.Auth.WritePolicy {
	case "authenticated":
	case "allowlist":
		if len(c.Auth.Writers) == 0 {
			errs = append(errs, "auth.writers is required when auth.write_policy is allowlist")
		}
	default:
		errs = append(errs, fmt.Sprintf("auth.write_policy %q must be authenticated or allowlist", c.Auth.WritePolicy))
	}
	if len(c.Auth.Issuers) == 0 {
		errs = append(errs, "auth.issuers cannot be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GetReadTimeout returns the read timeout as a Duration.
func (c APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the write timeout as a Duration.
func (c APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the idle timeout as a Duration.
func (c APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}

// ListenAddr returns the host:port the HTTP server binds.
func (c APIConfig) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
