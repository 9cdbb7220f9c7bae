// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
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

// AdminConfig configures the operational HTTP surface (chain inspection,
// stats, metrics, health).
type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"` // bearer key guarding the ops API
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// GatewayConfig points at the deduction provider. An empty base_url selects
// the in-process noop gateway, which is only useful in dev.
type GatewayConfig struct {
	BaseURL     string `yaml:"base_url"`
	MerchantKey string `yaml:"merchant_key"`
}

// EngineConfig holds the chain engine's tunables.
type EngineConfig struct {
	RenewWindowDays int           `yaml:"renew_window_days"` // start charging this close to expiry
	RetrySchedule   []int         `yaml:"retry_schedule"`    // retry delays in days
	MaxRetries      int           `yaml:"max_retries"`
	ShortRetryDelay time.Duration `yaml:"short_retry_delay"` // for transient provider failures
	LockTTL         time.Duration `yaml:"lock_ttl"`
	GatewayTimeout  time.Duration `yaml:"gateway_timeout"`
}

// WorkerConfig paces the background sweeps.
type WorkerConfig struct {
	ExpiryInterval     time.Duration `yaml:"expiry_interval"`
	ActivationInterval time.Duration `yaml:"activation_interval"`
	RenewalInterval    time.Duration `yaml:"renewal_interval"`
	AuditInterval      time.Duration `yaml:"audit_interval"`
	AuditWindow        time.Duration `yaml:"audit_window"` // how far back the auditor looks for touched users
	BatchSize          int           `yaml:"batch_size"`
	AutoRepair         bool          `yaml:"auto_repair"` // let the auditor fix broken chains
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Engine   EngineConfig   `yaml:"engine"`
	Worker   WorkerConfig   `yaml:"worker"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string = ""
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port <= 0 {
		cfg.Admin.Port = 8081
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Engine.RenewWindowDays <= 0 {
		cfg.Engine.RenewWindowDays = 7
	}
	if len(cfg.Engine.RetrySchedule) == 0 {
		cfg.Engine.RetrySchedule = []int{1, 3, 7}
	}
	if cfg.Engine.MaxRetries <= 0 {
		cfg.Engine.MaxRetries = len(cfg.Engine.RetrySchedule)
	}
	if cfg.Engine.ShortRetryDelay <= 0 {
		cfg.Engine.ShortRetryDelay = 2 * time.Hour
	}
	if cfg.Engine.LockTTL <= 0 {
		cfg.Engine.LockTTL = 30 * time.Second
	}
	if cfg.Engine.GatewayTimeout <= 0 {
		cfg.Engine.GatewayTimeout = 10 * time.Second
	}

	if cfg.Worker.ExpiryInterval <= 0 {
		cfg.Worker.ExpiryInterval = time.Minute
	}
	if cfg.Worker.ActivationInterval <= 0 {
		cfg.Worker.ActivationInterval = time.Minute
	}
	if cfg.Worker.RenewalInterval <= 0 {
		cfg.Worker.RenewalInterval = 15 * time.Minute
	}
	if cfg.Worker.AuditInterval <= 0 {
		cfg.Worker.AuditInterval = time.Hour
	}
	if cfg.Worker.AuditWindow <= 0 {
		cfg.Worker.AuditWindow = 24 * time.Hour
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 200
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Gateway.BaseURL == "" && !dev {
		return nil, errors.New("gateway.base_url is required outside dev mode")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

// RetryScheduleDurations converts the day-based ladder into durations.
func (e EngineConfig) RetryScheduleDurations() []time.Duration {
	out := make([]time.Duration, 0, len(e.RetrySchedule))
	for _, d := range e.RetrySchedule {
		out = append(out, time.Duration(d)*24*time.Hour)
	}
	return out
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
