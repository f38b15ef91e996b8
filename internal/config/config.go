// Package config loads certreq configuration from YAML, a .env file and
// CERTREQ_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverBbolt    = "bbolt"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CERTREQ_"

// Config is the complete certreq configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Expiry  ExpiryConfig  `yaml:"expiry"`
	Webhook WebhookConfig `yaml:"webhook"`
	Issuer  IssuerConfig  `yaml:"issuer"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

type StorageConfig struct {
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	DSN       string `yaml:"dsn"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

type ExpiryConfig struct {
	NotificationWindow string `yaml:"notification_window"`
	ScanInterval       string `yaml:"scan_interval"`
}

type WebhookConfig struct {
	URL        string `yaml:"url"`
	AuthHeader string `yaml:"auth_header"`
}

// IssuerConfig configures the development issuer used by "catalog issue".
// Without a CA certificate and key an ephemeral CA is generated per run.
type IssuerConfig struct {
	CACert   string `yaml:"ca_cert"`
	CAKey    string `yaml:"ca_key"`
	Validity string `yaml:"validity"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev"`
}

// Default returns the configuration used when nothing else is specified.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load reads the YAML file at path, if any, applies environment overrides,
// fills defaults for anything still unset, and validates the result. An empty path skips the
// file. A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverBbolt
	}
	if c.Storage.Driver == DriverBbolt && c.Storage.Path == "" {
		c.Storage.Path = "./data/certreq.db"
	}
	if c.Expiry.NotificationWindow == "" {
		c.Expiry.NotificationWindow = "24h"
	}
	if c.Expiry.ScanInterval == "" {
		c.Expiry.ScanInterval = "1m"
	}
	if c.Issuer.Validity == "" {
		c.Issuer.Validity = "2160h" // 90d
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"SERVER_ADDR":                &c.Server.Addr,
		"SERVER_TLS_CERT":            &c.Server.TLSCert,
		"SERVER_TLS_KEY":             &c.Server.TLSKey,
		"STORAGE_DRIVER":             &c.Storage.Driver,
		"STORAGE_PATH":               &c.Storage.Path,
		"STORAGE_DSN":                &c.Storage.DSN,
		"STORAGE_REDIS_ADDR":         &c.Storage.RedisAddr,
		"EXPIRY_NOTIFICATION_WINDOW": &c.Expiry.NotificationWindow,
		"EXPIRY_SCAN_INTERVAL":       &c.Expiry.ScanInterval,
		"WEBHOOK_URL":                &c.Webhook.URL,
		"WEBHOOK_AUTH_HEADER":        &c.Webhook.AuthHeader,
		"ISSUER_CA_CERT":             &c.Issuer.CACert,
		"ISSUER_CA_KEY":              &c.Issuer.CAKey,
		"ISSUER_VALIDITY":            &c.Issuer.Validity,
		"LOG_LEVEL":                  &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := getEnvStr(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if s, ok := getEnvStr(EnvPrefix + "STORAGE_REDIS_DB"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%sSTORAGE_REDIS_DB: %w", EnvPrefix, err)
		}
		c.Storage.RedisDB = n
	}
	if s, ok := getEnvStr(EnvPrefix + "LOG_DEV"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%sLOG_DEV: %w", EnvPrefix, err)
		}
		c.Log.Dev = b
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverBbolt:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the bbolt driver"))
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	for key, value := range map[string]string{
		"expiry.notification_window": c.Expiry.NotificationWindow,
		"expiry.scan_interval":       c.Expiry.ScanInterval,
		"issuer.validity":            c.Issuer.Validity,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, value))
		}
	}

	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key must be set together"))
	}
	if (c.Issuer.CACert == "") != (c.Issuer.CAKey == "") {
		errs = append(errs, errors.New("issuer.ca_cert and issuer.ca_key must be set together"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

// NotificationWindow returns expiry.notification_window. Call only on a
// validated Config.
func (c *Config) NotificationWindow() time.Duration {
	return mustDuration(c.Expiry.NotificationWindow)
}

// ScanInterval returns expiry.scan_interval. Call only on a validated Config.
func (c *Config) ScanInterval() time.Duration {
	return mustDuration(c.Expiry.ScanInterval)
}

// IssuerValidity returns issuer.validity. Call only on a validated Config.
func (c *Config) IssuerValidity() time.Duration {
	return mustDuration(c.Issuer.Validity)
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q: %v", s, err))
	}
	return d
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
