package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Address           string   `yaml:"address"`
		AllowedOrigins    []string `yaml:"allowed_origins"`
		BookingsPerMinute int      `yaml:"bookings_per_minute"`
	} `yaml:"http"`

	Clinic struct {
		Name                string `yaml:"name"`
		Location            string `yaml:"location"`
		Timezone            string `yaml:"timezone"`
		RulesPath           string `yaml:"rules_path"`
		ReloadSeconds       int    `yaml:"reload_seconds"`
		ReminderHoursBefore int    `yaml:"reminder_hours_before"`
	} `yaml:"clinic"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`

		Offsite struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket"`
			Prefix    string `yaml:"prefix"`
			UseSSL    bool   `yaml:"use_ssl"`
		} `yaml:"offsite"`
	} `yaml:"backup"`

	Redis struct {
		Address             string `yaml:"address"`
		Password            string `yaml:"password"`
		DB                  int    `yaml:"db"`
		LockTTLSeconds      int    `yaml:"lock_ttl_seconds"`
		SlotCacheTTLSeconds int    `yaml:"slot_cache_ttl_seconds"`
	} `yaml:"redis"`

	SMS struct {
		Enabled        bool    `yaml:"enabled"`
		RelayURL       string  `yaml:"relay_url"`
		RatePerSecond  float64 `yaml:"rate_per_second"`
		Burst          int     `yaml:"burst"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		MaxRetries     int     `yaml:"max_retries"`
	} `yaml:"sms"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Notifications struct {
		QueueSize int `yaml:"queue_size"`
		Workers   int `yaml:"workers"`
	} `yaml:"notifications"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
	} `yaml:"sheets"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

// Load reads the service configuration. Variables from a .env file in the
// working directory are exported first so ${VAR} placeholders can use them.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	// A missing .env is normal in production.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/eyeclinic.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Clinic.RulesPath == "" {
		c.Clinic.RulesPath = "configs/clinic.yaml"
	}
	if c.Clinic.Timezone == "" {
		c.Clinic.Timezone = "Europe/London"
	}
}

// Location returns the clinic time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Clinic.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clinic.timezone %q: %w", c.Clinic.Timezone, err)
	}
	return loc, nil
}

func (c *Config) ReminderLead() time.Duration {
	if c.Clinic.ReminderHoursBefore <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Clinic.ReminderHoursBefore) * time.Hour
}

func (c *Config) RulesReloadInterval() time.Duration {
	if c.Clinic.ReloadSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Clinic.ReloadSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) LockTTL() time.Duration {
	if c.Redis.LockTTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}

// SlotCacheTTL is zero when slot caching is off.
func (c *Config) SlotCacheTTL() time.Duration {
	if c.Redis.SlotCacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Redis.SlotCacheTTLSeconds) * time.Second
}

func (c *Config) SMSTimeout() time.Duration {
	if c.SMS.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.SMS.TimeoutSeconds) * time.Second
}
