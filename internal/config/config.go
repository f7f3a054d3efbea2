package config

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "GALCHAT_"

const (
	BlobBackendDisk      = "disk"
	BlobBackendJetStream = "jetstream"
)

type Config struct {
	ServerAddr     string   `env:"ADDR" envDefault:"localhost:8000"`
	DatabaseDriver string   `env:"DB_DRIVER" envDefault:"sqlite"`
	DatabaseDSN    string   `env:"DB_DSN" envDefault:"galchat.db"`
	SigningSecret  string   `env:"SIGNING_KEY" envDefault:"wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="`
	SigningKey     []byte
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	TrustProxy     bool     `env:"TRUST_PROXY"`
	DeleteHistory  bool     `env:"DELETE_HISTORY"`
	ShareText      string   `env:"SHARE_TEXT" envDefault:"Come chat with me on GalChat!"`

	// An empty backup driver means the primary's driver.
	BackupDriver   string        `env:"BACKUP_DRIVER"`
	BackupDSN      string        `env:"BACKUP_DSN" envDefault:"backup/galchat_backup.db"`
	BackupInterval time.Duration `env:"BACKUP_INTERVAL" envDefault:"60m"`
	BackupTimeout  time.Duration `env:"BACKUP_TIMEOUT" envDefault:"5m"`

	BlobBackend string `env:"BLOB_BACKEND" envDefault:"disk"`
	BlobDir     string `env:"BLOB_DIR" envDefault:"resources/uploads"`
	NatsURL     string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NatsBucket  string `env:"NATS_BUCKET" envDefault:"galchat-blobs"`

	LLMURL     string        `env:"LLM_URL"`
	LLMAPIKey  string        `env:"LLM_API_KEY"`
	LLMModel   string        `env:"LLM_MODEL" envDefault:"deepseek-chat"`
	LLMTimeout time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`
}

type stringSliceFlag struct {
	values *[]string
	set    bool
}

func (s *stringSliceFlag) String() string {
	if s.values == nil {
		return ""
	}
	return strings.Join(*s.values, ",")
}

// Set replaces values taken from the environment on first use and appends
// afterwards, so the flag can be repeated.
func (s *stringSliceFlag) Set(value string) error {
	if !s.set {
		*s.values = nil
		s.set = true
	}
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*s.values = append(*s.values, v)
		}
	}
	return nil
}

// Load reads the configuration from GALCHAT_ prefixed environment variables
// and then applies command line flags on top.
func Load(args []string) (*Config, error) {
	return load(args, nil)
}

func load(args []string, environment map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      envPrefix,
		Environment: environment,
	}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("galchat", flag.ContinueOnError)
	fs.StringVar(&cfg.ServerAddr, "addr", cfg.ServerAddr, "server address")
	fs.StringVar(&cfg.DatabaseDriver, "db-driver", cfg.DatabaseDriver, "primary database driver (postgres or sqlite)")
	fs.StringVar(&cfg.DatabaseDSN, "dsn", cfg.DatabaseDSN, "primary database connection string")
	fs.StringVar(&cfg.SigningSecret, "signing-key", cfg.SigningSecret, "base64 encoded signing key")
	fs.Var(&stringSliceFlag{values: &cfg.AllowedOrigins}, "allowed-origins", "comma-separated list of allowed origins for CORS")
	fs.BoolVar(&cfg.TrustProxy, "trust-proxy", cfg.TrustProxy, "take the client address from X-Forwarded-For")
	fs.BoolVar(&cfg.DeleteHistory, "delete-history", cfg.DeleteHistory, "drop all stored history on start")
	fs.StringVar(&cfg.BackupDriver, "backup-driver", cfg.BackupDriver, "backup database driver, defaults to the primary driver")
	fs.StringVar(&cfg.BackupDSN, "backup-dsn", cfg.BackupDSN, "backup database connection string")
	fs.DurationVar(&cfg.BackupInterval, "backup-interval", cfg.BackupInterval, "time between backups, 0 disables")
	fs.StringVar(&cfg.BlobBackend, "blob-backend", cfg.BlobBackend, "blob storage backend (disk or jetstream)")
	fs.StringVar(&cfg.BlobDir, "blob-dir", cfg.BlobDir, "directory for the disk blob backend")
	fs.StringVar(&cfg.NatsURL, "nats-url", cfg.NatsURL, "NATS server for the jetstream blob backend")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.BackupDriver == "" {
		cfg.BackupDriver = cfg.DatabaseDriver
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, errors.New("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func (c *Config) validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN cannot be empty")
	}

	for _, d := range []string{c.DatabaseDriver, c.BackupDriver} {
		switch d {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("unknown database driver %q", d)
		}
	}

	switch c.BlobBackend {
	case BlobBackendDisk:
		if c.BlobDir == "" {
			return fmt.Errorf("blob directory cannot be empty")
		}
	case BlobBackendJetStream:
		if c.NatsURL == "" || c.NatsBucket == "" {
			return fmt.Errorf("jetstream backend needs a NATS url and bucket")
		}
	default:
		return fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}

	if c.BackupInterval > 0 && c.BackupDSN == "" {
		return fmt.Errorf("backup DSN cannot be empty when backups are enabled")
	}

	key, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = key

	return nil
}
