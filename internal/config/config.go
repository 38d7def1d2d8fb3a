package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// HTTP listener and the externally reachable origin of this gateway.
	// PublicURL is what the identity provider redirects back to.
	Server ServerConfig `yaml:"server"`

	// Identity provider (Keycloak-compatible OIDC) configuration
	Provider ProviderConfig `yaml:"provider"`

	// Workflow engine REST API configuration
	Engine EngineConfig `yaml:"engine"`

	// Audit trail storage and retention
	Audit AuditConfig `yaml:"audit"`

	// Dashboard stats polling
	Stats StatsConfig `yaml:"stats"`

	// Logging Configuration
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	PublicURL  string `yaml:"public_url"`
	CORSOrigin string `yaml:"cors_origin"`
}

// ProviderConfig holds identity provider configuration
type ProviderConfig struct {
	URL      string `yaml:"url"`
	Realm    string `yaml:"realm"`
	ClientID string `yaml:"client_id"`
}

// EngineConfig holds workflow engine API configuration
type EngineConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	DatabaseURL   string `yaml:"database_url"`
	RetentionDays int    `yaml:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule"` // cron expression
}

// StatsConfig holds stats collector configuration
type StatsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// Load loads configuration from an optional YAML file plus environment
// variables. Environment variables always win over file values.
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	cfg := defaults()

	path := os.Getenv("ORUN_CONFIG_FILE")
	if path == "" {
		path = "orun.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Provider.URL == "" || cfg.Provider.Realm == "" || cfg.Provider.ClientID == "" {
		return nil, fmt.Errorf("identity provider configuration incomplete: KEYCLOAK_URL, KEYCLOAK_REALM and KEYCLOAK_CLIENT_ID are required")
	}
	if cfg.Engine.BaseURL == "" {
		return nil, fmt.Errorf("ENGINE_API_URL is required")
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			PublicURL:  "http://localhost:8080",
			CORSOrigin: "http://localhost:5173",
		},
		Engine: EngineConfig{
			Timeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			DatabaseURL:   "orun.sqlite",
			RetentionDays: 90,
			PruneSchedule: "0 3 * * *",
		},
		Stats: StatsConfig{
			PollInterval: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "ORUN_LISTEN_ADDR")
	setString(&cfg.Server.PublicURL, "ORUN_PUBLIC_URL")
	setString(&cfg.Server.CORSOrigin, "ORUN_CORS_ORIGIN")

	setString(&cfg.Provider.URL, "KEYCLOAK_URL")
	setString(&cfg.Provider.Realm, "KEYCLOAK_REALM")
	setString(&cfg.Provider.ClientID, "KEYCLOAK_CLIENT_ID")

	setString(&cfg.Engine.BaseURL, "ENGINE_API_URL")
	setDuration(&cfg.Engine.Timeout, "ENGINE_API_TIMEOUT")

	setString(&cfg.Audit.DatabaseURL, "DATABASE_URL")
	setInt(&cfg.Audit.RetentionDays, "AUDIT_RETENTION_DAYS")
	setString(&cfg.Audit.PruneSchedule, "AUDIT_PRUNE_SCHEDULE")

	setDuration(&cfg.Stats.PollInterval, "STATS_POLL_INTERVAL")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
