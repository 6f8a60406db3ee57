// Package config provides configuration management for the firefly server.
//
// Secrets come exclusively from the environment, optionally seeded from a
// .env file. Non-secret settings may additionally be supplied in a
// firefly.yaml next to the binary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPort is the HTTP port the original server listened on.
	DefaultPort = 8080

	// DefaultJudgeModel is the chat model used for relevance scoring.
	DefaultJudgeModel = "claude-3-5-haiku-20241022"

	// DefaultEmbeddingModel is the encoder the fragment store targets.
	// all-mpnet-base-v2 and its hosted equivalents produce 768-dim vectors.
	DefaultEmbeddingModel = "all-mpnet-base-v2"

	// EmbeddingDim is the fragment embedding dimension.
	EmbeddingDim = 768

	// DefaultMaxConns bounds the database pool.
	DefaultMaxConns = 10

	// DefaultDataDir holds embeddings and runtime markers.
	DefaultDataDir = "data"
)

// Config holds the full server configuration.
type Config struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`

	// Database settings. DSN wins when set; otherwise one is assembled
	// from the DB_* parts. SQLitePath switches the store to the embedded
	// database for single-node deployments and tests.
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlite_path"`
	MaxConns   int    `yaml:"max_conns"`

	// RestartCommand, when set, is run once if the database is
	// unreachable at startup (e.g. "pg_ctl start -D /var/lib/postgres").
	RestartCommand string `yaml:"restart_command"`

	// Judge settings.
	JudgeModel   string        `yaml:"judge_model"`
	JudgeTimeout time.Duration `yaml:"judge_timeout"`

	// Embedding encoder settings.
	EmbeddingModel   string        `yaml:"embedding_model"`
	EmbeddingBaseURL string        `yaml:"embedding_base_url"`
	EmbeddingTimeout time.Duration `yaml:"embedding_timeout"`

	// Push settings.
	APNSBundleID   string `yaml:"apns_bundle_id"`
	APNSUseSandbox bool   `yaml:"apns_use_sandbox"`

	// Secrets, environment-only.
	AnthropicAPIKey string `yaml:"-"`
	EmbeddingAPIKey string `yaml:"-"`
	APNSAuthToken   string `yaml:"-"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Port:             DefaultPort,
		DataDir:          DefaultDataDir,
		MaxConns:         DefaultMaxConns,
		JudgeModel:       DefaultJudgeModel,
		JudgeTimeout:     60 * time.Second,
		EmbeddingModel:   DefaultEmbeddingModel,
		EmbeddingTimeout: 30 * time.Second,
		APNSBundleID:     "com.miso.noobtest",
		APNSUseSandbox:   true,
	}
}

// SettingsPath is the optional non-secret settings file.
const SettingsPath = "firefly.yaml"

// Load reads .env (if present), the optional yaml settings file, and the
// environment, in that order of increasing precedence for secrets.
func Load() (*Config, error) {
	// godotenv does not override variables already set in the process.
	_ = godotenv.Load()

	cfg := Default()

	if data, err := os.ReadFile(SettingsPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", SettingsPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", SettingsPath, err)
	}

	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.EmbeddingAPIKey = os.Getenv("EMBEDDING_API_KEY")
	cfg.APNSAuthToken = os.Getenv("APNS_AUTH_TOKEN")

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Port = p
		}
	}
	if v := os.Getenv("FIREFLY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DSN = v
	}
	if cfg.DSN == "" && cfg.SQLitePath == "" {
		cfg.DSN = postgresDSNFromEnv()
	}
	if cfg.MaxConns <= 0 || cfg.MaxConns > DefaultMaxConns {
		cfg.MaxConns = DefaultMaxConns
	}

	return cfg, nil
}

// postgresDSNFromEnv assembles a DSN from the discrete DB_* variables the
// original server used.
func postgresDSNFromEnv() string {
	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	name := envOr("DB_NAME", "firefly")
	user := envOr("DB_USER", "firefly_user")
	pass := envOr("DB_PASSWORD", "firefly_pass")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		user, pass, host, port, name)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EmbeddingsDir returns the directory holding per-post embedding files.
func (c *Config) EmbeddingsDir() string {
	return c.DataDir + "/embeddings"
}

// ShutdownMarkerPath is the file written on intentional shutdown so the
// watchdog can tell a crash from a clean exit.
func (c *Config) ShutdownMarkerPath() string {
	return c.DataDir + "/.clean-shutdown"
}
