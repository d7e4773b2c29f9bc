package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setAuth(t *testing.T) {
	t.Helper()
	t.Setenv("LOCAL_AUTH_MODE", "hs256")
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setAuth(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.StorageBackend != BackendSQLite || cfg.SQLitePath != "taskboard.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BoardCacheTTL != 30*time.Second || cfg.DeduperTTL != 24*time.Hour || cfg.JWKSCacheTTL != 15*time.Minute {
		t.Fatalf("unexpected ttl defaults: %+v", cfg)
	}
	if cfg.SessionBuffer != 32 || cfg.RedisEventsChannel != "board-events" {
		t.Fatalf("unexpected broadcaster defaults: %+v", cfg)
	}
	if cfg.SharedSecret() != "secret" {
		t.Fatalf("unexpected shared secret: %q", cfg.SharedSecret())
	}
	if cfg.RedisOptions() != nil {
		t.Fatalf("redis must be disabled without a connection string")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	setAuth(t)
	t.Setenv("STORAGE_BACKEND", "Tables")
	t.Setenv("STORAGE_CONNECTION_STRING", "UseDevelopmentStorage=true")
	t.Setenv("TASKS_TABLE", "boardtasks")
	t.Setenv("BOARD_CACHE_TTL", "2m")
	t.Setenv("SESSION_BUFFER", "64")
	t.Setenv("DEBUG", "true")
	t.Setenv("FUNCTIONS_CUSTOMHANDLER_PORT", "7071")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageBackend != BackendTables || cfg.TasksTable != "boardtasks" || cfg.ProjectsTable != "projects" {
		t.Fatalf("unexpected storage config: %+v", cfg)
	}
	if cfg.BoardCacheTTL != 2*time.Minute || cfg.SessionBuffer != 64 || !cfg.Debug {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Port != "7071" {
		t.Fatalf("expected functions port override, got %s", cfg.Port)
	}
}

func TestLoadConfigFile(t *testing.T) {
	setAuth(t)
	path := filepath.Join(t.TempDir(), "taskboard.yaml")
	if err := os.WriteFile(path, []byte("sqlite_path: /data/board.db\nport: \"9000\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TASKBOARD_CONFIG", path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SQLitePath != "/data/board.db" {
		t.Fatalf("file value not applied: %+v", cfg)
	}
	if cfg.Port != "9100" {
		t.Fatalf("environment must override the file, got %s", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		StorageBackend: BackendSQLite,
		SQLitePath:     "x.db",
		SessionBuffer:  1,
		ExportWorkers:  1,
		ExportBuffer:   1,
		DeduperTTL:     time.Hour,
		JWKSCacheTTL:   time.Minute,
		Auth0Domain:    "tenant.auth0.com",
		Auth0Audience:  "api://board",
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	cases := map[string]func(*Config){
		"unknown backend":      func(c *Config) { c.StorageBackend = "mongo" },
		"tables without conn":  func(c *Config) { c.StorageBackend = BackendTables },
		"queue without conn":   func(c *Config) { c.EventsQueue = "events" },
		"zero buffer":          func(c *Config) { c.SessionBuffer = 0 },
		"missing auth0":        func(c *Config) { c.Auth0Domain = "" },
		"hs256 without secret": func(c *Config) { c.LocalAuthMode = "hs256" },
		"unknown auth mode":    func(c *Config) { c.LocalAuthMode = "rs512" },
		"test mode no secret":  func(c *Config) { c.Auth0TestMode = true },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestAuthHelpers(t *testing.T) {
	cfg := Config{Auth0Domain: "tenant.auth0.com"}
	if cfg.Issuer() != "https://tenant.auth0.com/" {
		t.Fatalf("unexpected issuer: %s", cfg.Issuer())
	}
	if cfg.JWKSURL() != "https://tenant.auth0.com/.well-known/jwks.json" {
		t.Fatalf("unexpected jwks url: %s", cfg.JWKSURL())
	}
	cfg = Config{Auth0TestMode: true, TestJWTSecret: "t"}
	if cfg.SharedSecret() != "t" {
		t.Fatalf("expected test secret")
	}
}

func TestRedisOptions(t *testing.T) {
	opts := Config{RedisConnectionString: "redis://:pw@localhost:6380/2"}.RedisOptions()
	if opts == nil || opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %+v", opts)
	}

	opts = Config{RedisConnectionString: "cache.redis.net:6380,password=secret,ssl=True,abortConnect=False"}.RedisOptions()
	if opts == nil || opts.Addr != "cache.redis.net:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected azure options: %+v", opts)
	}
}
