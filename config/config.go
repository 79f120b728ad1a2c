package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Signing     SigningConfig     `yaml:"signing"`
	Machines    map[string]string `yaml:"machines"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Kiosk       KioskConfig       `yaml:"kiosk"`
	Whitelist   WhitelistConfig   `yaml:"whitelist"`
	TimeService TimeServiceConfig `yaml:"time_service"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
	Scanner     ScannerConfig     `yaml:"scanner"`
	Auth        AuthConfig        `yaml:"auth"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// SigningConfig holds the shared secret used to authenticate device commands.
type SigningConfig struct {
	Secret   string `yaml:"secret"`
	Timezone string `yaml:"timezone"`
}

// Location resolves the timezone windowed commands are rendered in.
func (s SigningConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// DispatchConfig bounds every request sent to a machine.
type DispatchConfig struct {
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// KioskConfig holds the pickup flow timings.
type KioskConfig struct {
	SettleMillis      int           `yaml:"settle_ms"`
	DwellMillis       int           `yaml:"dwell_ms"`
	SessionTTLMinutes int           `yaml:"session_ttl_minutes"`
	Settle            time.Duration `yaml:"-"`
	Dwell             time.Duration `yaml:"-"`
	SessionTTL        time.Duration `yaml:"-"`
}

// WhitelistConfig holds the validity window of whitelist refresh commands.
type WhitelistConfig struct {
	WindowMinutes int           `yaml:"window_minutes"`
	Window        time.Duration `yaml:"-"`
}

// TimeServiceConfig points at the trusted time service used for command stamps.
type TimeServiceConfig struct {
	URL            string        `yaml:"url"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	CacheSeconds   int           `yaml:"cache_seconds"`
	Timeout        time.Duration `yaml:"-"`
	CacheFor       time.Duration `yaml:"-"`
}

// NotifierConfig points at the pickup notification service.
type NotifierConfig struct {
	URL            string        `yaml:"url"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size  int `yaml:"size"`
	Queue int `yaml:"queue"`
}

// ScannerConfig holds the slot inventory scanner configuration.
type ScannerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	SlotsPerMachine int           `yaml:"slots_per_machine"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// AuthConfig holds the bearer token settings for admin and owner routes.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	AdminRole string `yaml:"admin_role"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 5
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 10
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Signing.Timezone == "" {
		cfg.Signing.Timezone = "Local"
	}

	if cfg.Dispatch.TimeoutSeconds <= 0 {
		cfg.Dispatch.TimeoutSeconds = 5
	}
	cfg.Dispatch.Timeout = time.Duration(cfg.Dispatch.TimeoutSeconds) * time.Second

	if cfg.Kiosk.SettleMillis <= 0 {
		cfg.Kiosk.SettleMillis = 2000
	}
	if cfg.Kiosk.DwellMillis <= 0 {
		cfg.Kiosk.DwellMillis = 5000
	}
	if cfg.Kiosk.SessionTTLMinutes <= 0 {
		cfg.Kiosk.SessionTTLMinutes = 30
	}
	cfg.Kiosk.Settle = time.Duration(cfg.Kiosk.SettleMillis) * time.Millisecond
	cfg.Kiosk.Dwell = time.Duration(cfg.Kiosk.DwellMillis) * time.Millisecond
	cfg.Kiosk.SessionTTL = time.Duration(cfg.Kiosk.SessionTTLMinutes) * time.Minute

	if cfg.Whitelist.WindowMinutes <= 0 {
		cfg.Whitelist.WindowMinutes = 10
	}
	cfg.Whitelist.Window = time.Duration(cfg.Whitelist.WindowMinutes) * time.Minute

	if cfg.TimeService.TimeoutSeconds <= 0 {
		cfg.TimeService.TimeoutSeconds = 3
	}
	if cfg.TimeService.CacheSeconds <= 0 {
		cfg.TimeService.CacheSeconds = 300
	}
	cfg.TimeService.Timeout = time.Duration(cfg.TimeService.TimeoutSeconds) * time.Second
	cfg.TimeService.CacheFor = time.Duration(cfg.TimeService.CacheSeconds) * time.Second

	if cfg.Notifier.TimeoutSeconds <= 0 {
		cfg.Notifier.TimeoutSeconds = 10
	}
	cfg.Notifier.Timeout = time.Duration(cfg.Notifier.TimeoutSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.Queue <= 0 {
		cfg.WorkerPool.Queue = 16
	}

	if cfg.Scanner.IntervalSeconds <= 0 {
		cfg.Scanner.IntervalSeconds = 300
	}
	cfg.Scanner.Interval = time.Duration(cfg.Scanner.IntervalSeconds) * time.Second
	if cfg.Scanner.SlotsPerMachine <= 0 {
		cfg.Scanner.SlotsPerMachine = 8
	}

	if cfg.Auth.AdminRole == "" {
		cfg.Auth.AdminRole = "admin"
	}
}
