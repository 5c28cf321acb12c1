package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/moderation"
	"github.com/MarcoPoloResearchLab/modledger/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix               = "MODLEDGER"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultLogLevel         = "info"
	defaultStoreBackend     = store.BackendSQLite
	defaultStoreTimeout     = store.DefaultTimeout
	defaultRedisURL         = "redis://localhost:6379/0"
	defaultSQLitePath       = "modledger.db"
	defaultMongoURI         = "mongodb://localhost:27017"
	defaultMongoDatabase    = "modledger"
	defaultIssuer           = "modledger"
	defaultAudience         = "modledger-api"
	defaultTokenTTLMinutes  = 30
	defaultCookieName       = "modledger_session"
	defaultMinAccountAgeDay = 90
)

// AppConfig captures runtime configuration for the service and CLI.
type AppConfig struct {
	HTTPAddress   string
	LogLevel      string
	StoreBackend  string
	StoreTimeout  time.Duration
	RedisURL      string
	SQLitePath    string
	MongoURI      string
	MongoDatabase string

	SigningSecret string
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	CookieName    string

	Admins             []string
	AutomationAccounts []string
	MinAccountAgeDays  int
}

// LoadDotEnv loads path into the process environment when the file exists. Variables
// already set in the environment are left alone.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("store.backend", defaultStoreBackend)
	configViper.SetDefault("store.timeout", defaultStoreTimeout)
	configViper.SetDefault("redis.url", defaultRedisURL)
	configViper.SetDefault("sqlite.path", defaultSQLitePath)
	configViper.SetDefault("mongo.uri", defaultMongoURI)
	configViper.SetDefault("mongo.database", defaultMongoDatabase)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.audience", defaultAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("moderation.admins", []string{})
	configViper.SetDefault("moderation.automation_accounts", []string{})
	configViper.SetDefault("moderation.min_account_age_days", defaultMinAccountAgeDay)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        strings.TrimSpace(configViper.GetString("http.address")),
		LogLevel:           configViper.GetString("log.level"),
		StoreBackend:       strings.ToLower(strings.TrimSpace(configViper.GetString("store.backend"))),
		StoreTimeout:       configViper.GetDuration("store.timeout"),
		RedisURL:           strings.TrimSpace(configViper.GetString("redis.url")),
		SQLitePath:         strings.TrimSpace(configViper.GetString("sqlite.path")),
		MongoURI:           strings.TrimSpace(configViper.GetString("mongo.uri")),
		MongoDatabase:      strings.TrimSpace(configViper.GetString("mongo.database")),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		Issuer:             strings.TrimSpace(configViper.GetString("auth.issuer")),
		Audience:           strings.TrimSpace(configViper.GetString("auth.audience")),
		TokenTTL:           time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		CookieName:         strings.TrimSpace(configViper.GetString("auth.cookie_name")),
		Admins:             splitList(configViper.GetStringSlice("moderation.admins")),
		AutomationAccounts: splitList(configViper.GetStringSlice("moderation.automation_accounts")),
		MinAccountAgeDays:  configViper.GetInt("moderation.min_account_age_days"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RequireSigningSecret reports an error when no session signing secret is configured.
// Only the commands that issue or validate tokens need one.
func (c AppConfig) RequireSigningSecret() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	return nil
}

// StoreConfig maps the store.* and backend keys onto store.Config.
func (c AppConfig) StoreConfig() store.Config {
	return store.Config{
		Backend:       c.StoreBackend,
		Timeout:       c.StoreTimeout,
		RedisURL:      c.RedisURL,
		SQLitePath:    c.SQLitePath,
		MongoURI:      c.MongoURI,
		MongoDatabase: c.MongoDatabase,
	}
}

func (c AppConfig) Policy() moderation.Policy {
	return moderation.Policy{
		Admins:             append([]string(nil), c.Admins...),
		AutomationAccounts: append([]string(nil), c.AutomationAccounts...),
		MinAccountAgeDays:  c.MinAccountAgeDays,
	}
}

func (c AppConfig) validate() error {
	switch c.StoreBackend {
	case store.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis.url is required for the redis backend")
		}
	case store.BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite backend")
		}
	case store.BackendMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return fmt.Errorf("mongo.uri and mongo.database are required for the mongo backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of redis, sqlite, mongo", c.StoreBackend)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store.timeout must be positive")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if c.Issuer == "" || c.Audience == "" {
		return fmt.Errorf("auth.issuer and auth.audience are required")
	}
	if c.CookieName == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.MinAccountAgeDays < 0 {
		return fmt.Errorf("moderation.min_account_age_days must not be negative")
	}
	return nil
}

// splitList accepts both list values and comma separated env strings.
func splitList(values []string) []string {
	items := []string{}
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
	}
	return items
}
