// Package config loads service settings from the environment and an optional
// config file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// Storage backends accepted in STORAGE_BACKEND.
const (
	// BackendSQLite keeps boards in a local SQLite file.
	BackendSQLite = "sqlite"
	// BackendTables keeps boards in Azure Table Storage.
	BackendTables = "tables"
)

// Config holds the service configuration. Keys match the environment
// variable names in lower case.
type Config struct {
	Port  string `mapstructure:"port"`
	Debug bool   `mapstructure:"debug"`

	StorageBackend          string `mapstructure:"storage_backend"`
	SQLitePath              string `mapstructure:"sqlite_path"`
	StorageConnectionString string `mapstructure:"storage_connection_string"`
	TasksTable              string `mapstructure:"tasks_table"`
	ProjectsTable           string `mapstructure:"projects_table"`
	EventsQueue             string `mapstructure:"events_queue"`

	RedisConnectionString string        `mapstructure:"redis_connection_string"`
	RedisEventsChannel    string        `mapstructure:"redis_events_channel"`
	BoardCacheTTL         time.Duration `mapstructure:"board_cache_ttl"`
	DeduperTTL            time.Duration `mapstructure:"deduper_ttl"`

	SessionBuffer int `mapstructure:"session_buffer"`
	ExportWorkers int `mapstructure:"export_workers"`
	ExportBuffer  int `mapstructure:"export_buffer"`

	Auth0Domain           string        `mapstructure:"auth0_domain"`
	Auth0Audience         string        `mapstructure:"auth0_audience"`
	Auth0TestMode         bool          `mapstructure:"auth0_test_mode"`
	TestJWTSecret         string        `mapstructure:"test_jwt_secret"`
	LocalAuthMode         string        `mapstructure:"local_auth_mode"`
	LocalAuthSharedSecret string        `mapstructure:"local_auth_shared_secret"`
	JWKSCacheTTL          time.Duration `mapstructure:"jwks_cache_ttl"`

	// Read only by storage-init.
	SeedProjectID   string `mapstructure:"seed_project_id"`
	SeedProjectName string `mapstructure:"seed_project_name"`
	SeedOwner       string `mapstructure:"seed_owner"`
}

var defaults = map[string]any{
	"port":                      "8080",
	"debug":                     false,
	"storage_backend":           BackendSQLite,
	"sqlite_path":               "taskboard.db",
	"storage_connection_string": "",
	"tasks_table":               "tasks",
	"projects_table":            "projects",
	"events_queue":              "",
	"redis_connection_string":   "",
	"redis_events_channel":      "board-events",
	"board_cache_ttl":           "30s",
	"deduper_ttl":               "24h",
	"session_buffer":            32,
	"export_workers":            4,
	"export_buffer":             256,
	"auth0_domain":              "",
	"auth0_audience":            "",
	"auth0_test_mode":           false,
	"test_jwt_secret":           "",
	"local_auth_mode":           "",
	"local_auth_shared_secret":  "",
	"jwks_cache_ttl":            "15m",
	"seed_project_id":           "",
	"seed_project_name":         "",
	"seed_owner":                "",
}

// Load reads and validates the service configuration.
func Load() (Config, error) {
	c, err := Read()
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Read loads configuration from the environment without validating it.
// TASKBOARD_CONFIG may point at a yaml or toml file whose values the
// environment overrides.
func Read() (Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("TASKBOARD_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	// Azure Functions custom handlers receive their port here.
	if port := os.Getenv("FUNCTIONS_CUSTOMHANDLER_PORT"); port != "" {
		v.Set("port", port)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	c.LocalAuthMode = strings.ToLower(strings.TrimSpace(c.LocalAuthMode))
	return c, nil
}

// Validate reports the first invalid or missing setting.
func (c Config) Validate() error {
	switch c.StorageBackend {
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendTables:
		if c.StorageConnectionString == "" || c.TasksTable == "" || c.ProjectsTable == "" {
			return errors.New("missing storage config")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.EventsQueue != "" && c.StorageConnectionString == "" {
		return errors.New("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	if c.SessionBuffer <= 0 || c.ExportWorkers <= 0 || c.ExportBuffer <= 0 {
		return errors.New("SESSION_BUFFER, EXPORT_WORKERS and EXPORT_BUFFER must be greater than zero")
	}
	if c.DeduperTTL <= 0 || c.JWKSCacheTTL <= 0 || c.BoardCacheTTL < 0 {
		return errors.New("invalid cache ttl")
	}

	switch c.LocalAuthMode {
	case "":
	case "hs256":
		if c.LocalAuthSharedSecret == "" {
			return errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
	default:
		return fmt.Errorf("unsupported LOCAL_AUTH_MODE value %q", c.LocalAuthMode)
	}
	if c.Auth0TestMode && c.TestJWTSecret == "" {
		return errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
	}
	if c.SharedSecret() == "" && (c.Auth0Domain == "" || c.Auth0Audience == "") {
		return errors.New("missing Auth0 config")
	}
	return nil
}

// SharedSecret returns the HS256 secret when a local or test auth mode is
// enabled, and an empty string when tokens are verified against Auth0.
func (c Config) SharedSecret() string {
	if c.LocalAuthMode == "hs256" {
		return c.LocalAuthSharedSecret
	}
	if c.Auth0TestMode {
		return c.TestJWTSecret
	}
	return ""
}

// Issuer is the expected token issuer for Auth0 verification.
func (c Config) Issuer() string {
	if c.Auth0Domain == "" {
		return ""
	}
	return "https://" + c.Auth0Domain + "/"
}

// JWKSURL is the Auth0 key set location.
func (c Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

// RedisOptions parses REDIS_CONNECTION_STRING. Both redis:// URLs and the
// Azure form "host:port,password=...,ssl=True" are accepted. It returns nil
// when Redis is not configured.
func (c Config) RedisOptions() *redis.Options {
	conn := strings.TrimSpace(c.RedisConnectionString)
	if conn == "" {
		return nil
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}
