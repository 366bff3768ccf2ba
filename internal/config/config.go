// Package config loads service settings from config.yml, .env and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/WailSalutem-Health-Care/clinical-records-service/internal/db"
	"github.com/hengadev/errsx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "config.yml"

type Config struct {
	ServiceName    string            `yaml:"service_name"`
	Server         ServerConfig      `yaml:"server"`
	Database       db.Config         `yaml:"database"`
	Crypto         CryptoConfig      `yaml:"crypto"`
	Attachments    AttachmentsConfig `yaml:"attachments"`
	Auth           AuthConfig        `yaml:"auth"`
	Redis          RedisConfig       `yaml:"redis"`
	RabbitMQ       RabbitMQConfig    `yaml:"rabbitmq"`
	Log            LogConfig         `yaml:"log"`
	Bootstrap      BootstrapConfig   `yaml:"bootstrap"`
	AllowedOrigins []string          `yaml:"allowed_origins"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type CryptoConfig struct {
	KeyFile string `yaml:"key_file"`
}

type AttachmentsConfig struct {
	Root        string        `yaml:"root"`
	OrphanGrace time.Duration `yaml:"orphan_grace"`
}

// AuthConfig holds token and password settings. An empty PermissionsFile
// keeps the built-in role permissions.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	Issuer          string        `yaml:"issuer"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
	PermissionsFile string        `yaml:"permissions_file"`
}

// RedisConfig is optional; an empty Addr keeps token revocation in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RabbitMQConfig is optional; an empty URL disables event publishing.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BootstrapConfig names the administrator seeded into an empty users table.
type BootstrapConfig struct {
	AdminUsername string `yaml:"admin_username"`
	AdminPassword string `yaml:"admin_password"`
	AdminFullName string `yaml:"admin_full_name"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		ServiceName: "clinical-records-service",
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: db.Config{
			Driver: db.SQLite,
			Path:   "data/records.db",
		},
		Crypto:      CryptoConfig{KeyFile: "data/records.key"},
		Attachments: AttachmentsConfig{Root: "data/uploads", OrphanGrace: 24 * time.Hour},
		Auth: AuthConfig{
			Issuer:     "clinical-records-service",
			TokenTTL:   8 * time.Hour,
			BcryptCost: 12,
		},
		RabbitMQ: RabbitMQConfig{Exchange: "clinical.events"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Bootstrap: BootstrapConfig{
			AdminUsername: "admin",
			AdminPassword: "admin",
			AdminFullName: "Administrador Principal",
		},
		AllowedOrigins: []string{"http://localhost:3000"},
	}
}

// Load reads .env (if present), then the YAML file at path, then the
// environment. An empty path falls back to CONFIG_FILE and then to
// config.yml; only an explicitly named file is required to exist.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("CONFIG_FILE")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigFile
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.ServiceName, "SERVICE_NAME")
	setString(&c.Server.Port, "PORT")

	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = db.Dialect(v)
	}
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSLMODE")
	setString(&c.Database.Path, "DB_PATH")

	setString(&c.Crypto.KeyFile, "CRYPTO_KEY_FILE")
	setString(&c.Attachments.Root, "ATTACHMENTS_ROOT")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.Issuer, "JWT_ISSUER")
	if err := setDuration(&c.Auth.TokenTTL, "TOKEN_TTL"); err != nil {
		return err
	}
	if err := setInt(&c.Auth.BcryptCost, "BCRYPT_COST"); err != nil {
		return err
	}
	setString(&c.Auth.PermissionsFile, "PERMISSIONS_FILE")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	if err := setInt(&c.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}

	setString(&c.RabbitMQ.URL, "RABBITMQ_URL")
	setString(&c.RabbitMQ.Exchange, "RABBITMQ_EXCHANGE")

	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	setString(&c.Bootstrap.AdminUsername, "ADMIN_USERNAME")
	setString(&c.Bootstrap.AdminPassword, "ADMIN_PASSWORD")

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.AllowedOrigins = append(c.AllowedOrigins, origin)
			}
		}
	}
	return nil
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs errsx.Map

	if c.Database.Driver != db.Postgres && c.Database.Driver != db.SQLite {
		errs.Set("database.driver", fmt.Sprintf("unsupported driver %q", c.Database.Driver))
	}
	if _, err := c.Database.DSN(); err != nil && (c.Database.Driver == db.Postgres || c.Database.Driver == db.SQLite) {
		errs.Set("database", err)
	}
	if c.Crypto.KeyFile == "" {
		errs.Set("crypto.key_file", "key file path is required")
	}
	if c.Attachments.Root == "" {
		errs.Set("attachments.root", "attachments root is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		errs.Set("auth.jwt_secret", "jwt secret must be at least 32 characters")
	}
	if c.Auth.TokenTTL <= 0 {
		errs.Set("auth.token_ttl", "token ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs.Set("auth.bcrypt_cost", "bcrypt cost must be between 4 and 31")
	}
	if c.Server.Port == "" {
		errs.Set("server.port", "port is required")
	}

	return errs.AsError()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
