package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`       // public guest endpoints
	AdminAddr   string `yaml:"admin_addr"` // /health, /metrics
	FrontendURL string `yaml:"frontend_url"`
	ReturnURL   string `yaml:"return_url"`   // gateway redirects the payer here
	CallbackURL string `yaml:"callback_url"` // gateway posts the webhook here
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MulticardConfig struct {
	BaseURL       string `yaml:"base_url"`
	ApplicationID string `yaml:"application_id"`
	Secret        string `yaml:"secret"`
	StoreID       int64  `yaml:"store_id"`
}

type AccessConfig struct {
	PriceTiyin     int64         `yaml:"price_tiyin"` // gateway amounts are in tiyin
	AccessTTL      time.Duration `yaml:"access_ttl"`  // how long a paid grant stays redeemable
	SessionSecret  string        `yaml:"session_secret"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	SecureCookie   bool          `yaml:"secure_cookie"`
	PaymentSystems []string      `yaml:"payment_systems"`
	RateLimit      int           `yaml:"rate_limit"`
	RateWindow     time.Duration `yaml:"rate_window"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Multicard MulticardConfig `yaml:"multicard"`
	Access    AccessConfig    `yaml:"access"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file, applies environment overrides for the
// secrets that are deployed outside the file, fills defaults and validates.
// Missing required values are a fatal startup condition, not a per-request
// error, so validation failures here abort the process in main.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnv(&cfg)

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.AdminAddr == "" {
		cfg.Server.AdminAddr = ":9090"
	}
	if cfg.Multicard.BaseURL == "" {
		cfg.Multicard.BaseURL = "https://mesh.multicard.uz"
	}
	if cfg.Access.PriceTiyin <= 0 {
		cfg.Access.PriceTiyin = 5000 * 100 // 5000 soum
	}
	if cfg.Access.AccessTTL <= 0 {
		cfg.Access.AccessTTL = time.Hour
	}
	if cfg.Access.SessionTTL <= 0 {
		cfg.Access.SessionTTL = time.Hour
	}
	if len(cfg.Access.PaymentSystems) == 0 {
		cfg.Access.PaymentSystems = []string{"click", "payme", "uzum", "xazna", "anorbank", "alif"}
	}
	if cfg.Access.RateLimit <= 0 {
		cfg.Access.RateLimit = 10
	}
	if cfg.Access.RateWindow <= 0 {
		cfg.Access.RateWindow = time.Minute
	}

	// Minimal validation
	if cfg.Multicard.ApplicationID == "" {
		return nil, errors.New("multicard.application_id is required")
	}
	if cfg.Multicard.Secret == "" {
		return nil, errors.New("multicard.secret is required")
	}
	if cfg.Multicard.StoreID == 0 {
		return nil, errors.New("multicard.store_id is required")
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Access.SessionSecret == "" {
		return nil, errors.New("access.session_secret is required")
	}
	if cfg.Server.ReturnURL == "" {
		return nil, errors.New("server.return_url is required")
	}
	if cfg.Server.CallbackURL == "" {
		return nil, errors.New("server.callback_url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MULTICARD_BASE_URL"); v != "" {
		cfg.Multicard.BaseURL = v
	}
	if v := os.Getenv("MULTICARD_APPLICATION_ID"); v != "" {
		cfg.Multicard.ApplicationID = v
	}
	if v := os.Getenv("MULTICARD_SECRET"); v != "" {
		cfg.Multicard.Secret = v
	}
	if v := os.Getenv("MULTICARD_STORE_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Multicard.StoreID = id
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Access.SessionSecret = v
	}
}
