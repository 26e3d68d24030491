package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "CONTRACTWATCH_CONFIG"
	databasePathEnv   = "DATABASE_PATH"
	upstreamURLEnv    = "UPSTREAM_BASE_URL"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
)

// WatermarkPolicy controls how far the high-water mark advances when the
// batch cap drops freshly discovered contracts.
type WatermarkPolicy string

const (
	// WatermarkPersisted advances only past ids actually persisted, so
	// capped-out contracts are retried on the next pass.
	WatermarkPersisted WatermarkPolicy = "persisted"
	// WatermarkObserved advances to the largest id seen, accepting that
	// capped-out contracts are skipped for good.
	WatermarkObserved WatermarkPolicy = "observed"
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Upstream      UpstreamConfig     `yaml:"upstream"`
	Discovery     DiscoveryConfig    `yaml:"discovery"`
	Revalidation  RevalidationConfig `yaml:"revalidation"`
	Downtime      DowntimeConfig     `yaml:"downtime"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// DatabaseConfig describes where the SQLite file lives.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// UpstreamConfig describes the listing API endpoint.
type UpstreamConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	UserAgent      string `yaml:"userAgent"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// DiscoveryConfig defines the region enumeration and batch shaping of the
// discovery pass.
type DiscoveryConfig struct {
	RegionStart     int64           `yaml:"regionStart"`
	RegionEnd       int64           `yaml:"regionEnd"` // exclusive
	ExcludedRegions []int64         `yaml:"excludedRegions"`
	BatchSize       int             `yaml:"batchSize"`
	SkipPages       bool            `yaml:"skipPages"`
	IntervalMinutes int             `yaml:"intervalMinutes"`
	WatermarkPolicy WatermarkPolicy `yaml:"watermarkPolicy"`
}

// RevalidationConfig shapes the reactive scheduler core.
type RevalidationConfig struct {
	BatchCap         int `yaml:"batchCap"`
	ErrorBudgetFloor int `yaml:"errorBudgetFloor"`
}

// DowntimeConfig is the daily window during which upstream is assumed
// unreliable; checks landing inside it are deferred.
type DowntimeConfig struct {
	Hour    int `yaml:"hour"`
	Minutes int `yaml:"minutes"`
}

// NotificationConfig encapsulates outbound operator channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires the data required to send alerts.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// LoggingConfig controls slog verbosity.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databasePathEnv); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv(upstreamURLEnv); v != "" {
		c.Upstream.BaseURL = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Database.Path != "" {
		base.Database = override.Database
	}

	if override.Upstream.BaseURL != "" {
		base.Upstream.BaseURL = override.Upstream.BaseURL
	}
	if override.Upstream.UserAgent != "" {
		base.Upstream.UserAgent = override.Upstream.UserAgent
	}
	if override.Upstream.TimeoutSeconds > 0 {
		base.Upstream.TimeoutSeconds = override.Upstream.TimeoutSeconds
	}

	if override.Discovery.RegionStart > 0 {
		base.Discovery.RegionStart = override.Discovery.RegionStart
	}
	if override.Discovery.RegionEnd > 0 {
		base.Discovery.RegionEnd = override.Discovery.RegionEnd
	}
	if len(override.Discovery.ExcludedRegions) > 0 {
		base.Discovery.ExcludedRegions = override.Discovery.ExcludedRegions
	}
	if override.Discovery.BatchSize > 0 {
		base.Discovery.BatchSize = override.Discovery.BatchSize
	}
	if override.Discovery.SkipPages {
		base.Discovery.SkipPages = true
	}
	if override.Discovery.IntervalMinutes > 0 {
		base.Discovery.IntervalMinutes = override.Discovery.IntervalMinutes
	}
	if override.Discovery.WatermarkPolicy != "" {
		base.Discovery.WatermarkPolicy = override.Discovery.WatermarkPolicy
	}

	if override.Revalidation.BatchCap > 0 {
		base.Revalidation.BatchCap = override.Revalidation.BatchCap
	}
	if override.Revalidation.ErrorBudgetFloor > 0 {
		base.Revalidation.ErrorBudgetFloor = override.Revalidation.ErrorBudgetFloor
	}

	if override.Downtime.Hour > 0 {
		base.Downtime.Hour = override.Downtime.Hour
	}
	if override.Downtime.Minutes > 0 {
		base.Downtime.Minutes = override.Downtime.Minutes
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Path: "contractwatch.db"},
		Upstream: UpstreamConfig{
			BaseURL:        "https://esi.evetech.net",
			UserAgent:      "contractwatch/1.0",
			TimeoutSeconds: 20,
		},
		Discovery: DiscoveryConfig{
			RegionStart:     10000001,
			RegionEnd:       10000070,
			ExcludedRegions: []int64{10000024, 10000026}, // non-existent regions
			BatchSize:       1000,
			IntervalMinutes: 30,
			WatermarkPolicy: WatermarkPersisted,
		},
		Revalidation: RevalidationConfig{
			BatchCap:         100,
			ErrorBudgetFloor: 100,
		},
		Downtime: DowntimeConfig{Hour: 11, Minutes: 10},
		Logging:  LoggingConfig{Level: "info"},
	}
}
