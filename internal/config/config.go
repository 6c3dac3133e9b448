package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pm-embed/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gamma     GammaConfig     `mapstructure:"gamma"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Watcher   WatcherConfig   `mapstructure:"watcher"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Embed     EmbedConfig     `mapstructure:"embed"`
	Evidence  EvidenceConfig  `mapstructure:"evidence"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// GammaConfig points at the upstream market-data API.
type GammaConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// CacheConfig selects the lookup cache used by read endpoints.
type CacheConfig struct {
	Driver        string        `mapstructure:"driver"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// WatcherConfig tunes the diff engine.
type WatcherConfig struct {
	MaxSlugs           int      `mapstructure:"max_slugs"`
	ExtraSlugs         []string `mapstructure:"extra_slugs"`
	PriceJumpThreshold float64  `mapstructure:"price_jump_threshold"`
}

// SchedulerConfig governs periodic watch runs.
type SchedulerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	Cron          string        `mapstructure:"cron"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
}

// AuthConfig holds the shared secrets of the authorization gate.
type AuthConfig struct {
	AdminAPIKey string `mapstructure:"admin_api_key"`
	CronSecret  string `mapstructure:"cron_secret"`
}

// EmbedConfig covers publisher tokens and tracking origins.
type EmbedConfig struct {
	SigningSecret  string        `mapstructure:"signing_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// EvidenceConfig bounds evidence capture.
type EvidenceConfig struct {
	MaxHTMLChars int           `mapstructure:"max_html_chars"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// AlertingConfig defines change notification routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	SkipKinds []string       `mapstructure:"skip_kinds"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	Days int `mapstructure:"days"`
}

// legacyEnv maps config keys to the bare variable names older deployments use.
var legacyEnv = map[string]string{
	"auth.admin_api_key":    "ADMIN_API_KEY",
	"auth.cron_secret":      "CRON_SECRET",
	"embed.signing_secret":  "EMBED_SIGNING_SECRET",
	"embed.allowed_origins": "ALLOWED_ORIGINS",
	"database.dsn":          "DATABASE_URL",
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PMEMBED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := "PMEMBED_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pm-embed")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "5m")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x706d7761))

	v.SetDefault("gamma.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("gamma.request_timeout", "10s")
	v.SetDefault("gamma.user_agent", "pm-embed/1.0")

	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("watcher.max_slugs", 1000)
	v.SetDefault("watcher.extra_slugs", []string{})
	v.SetDefault("watcher.price_jump_threshold", 0.0)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("embed.token_ttl", "720h")
	v.SetDefault("embed.allowed_origins", []string{})

	v.SetDefault("evidence.max_html_chars", 120000)
	v.SetDefault("evidence.fetch_timeout", "15s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.skip_kinds", []string{"watch_initialized"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.days", 30)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Gamma.BaseURL == "" {
		return fmt.Errorf("gamma.base_url is required")
	}
	if c.Gamma.RequestTimeout <= 0 {
		return fmt.Errorf("gamma.request_timeout must be greater than zero")
	}
	switch strings.ToLower(c.Cache.Driver) {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required when cache.driver is redis")
		}
	default:
		return fmt.Errorf("cache.driver must be one of: memory, redis, none")
	}
	if c.Watcher.MaxSlugs <= 0 {
		return fmt.Errorf("watcher.max_slugs must be greater than zero")
	}
	if c.Watcher.PriceJumpThreshold < 0 {
		return fmt.Errorf("watcher.price_jump_threshold cannot be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Cron == "" && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Embed.TokenTTL <= 0 {
		return fmt.Errorf("embed.token_ttl must be greater than zero")
	}
	if c.Evidence.MaxHTMLChars <= 0 {
		return fmt.Errorf("evidence.max_html_chars must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ResolveDays returns either the CLI override or config default.
func (c *Config) ResolveDays(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.Days
}
