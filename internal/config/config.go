package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Generator GeneratorConfig `mapstructure:"generator"`
	RCON      RCONConfig      `mapstructure:"rcon"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	API       APIConfig       `mapstructure:"api"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

type StoreConfig struct {
	Driver        string `mapstructure:"driver"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	LeaseKey        string `mapstructure:"lease_key"`
	LeaseTTLSeconds int    `mapstructure:"lease_ttl_seconds"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c RedisConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

type SchedulerConfig struct {
	CaptureWindowSeconds     int `mapstructure:"capture_window_seconds"`
	MinSleepSeconds          int `mapstructure:"min_sleep_seconds"`
	MaxSleepSeconds          int `mapstructure:"max_sleep_seconds"`
	FastPollThresholdSeconds int `mapstructure:"fast_poll_threshold_seconds"`
	SettleDelaySeconds       int `mapstructure:"settle_delay_seconds"`
}

type GeneratorConfig struct {
	ScoreboardIntervalSeconds int `mapstructure:"scoreboard_interval_seconds"`
}

type RCONConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	Password            string `mapstructure:"password"`
	DialTimeoutSeconds  int    `mapstructure:"dial_timeout_seconds"`
	DeadlineSeconds     int    `mapstructure:"deadline_seconds"`
	HealthCheckSchedule string `mapstructure:"health_check_schedule"`
}

func (c RCONConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type TemplatesConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

type NotifyConfig struct {
	Driver     string         `mapstructure:"driver"`
	RatePerSec int            `mapstructure:"rate_per_sec"`
	Telegram   TelegramConfig `mapstructure:"telegram"`
	Webhook    WebhookConfig  `mapstructure:"webhook"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type WebhookConfig struct {
	URL            string `mapstructure:"url"`
	MaxRetries     int    `mapstructure:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type APIConfig struct {
	Port     int    `mapstructure:"port"`
	AdminKey string `mapstructure:"admin_key"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// LoadConfig loads the configuration from file, environment variables, and command-line arguments.
// Order of precedence: defaults < config file < env vars < cmd flags.
// Flags not known to the loader are ignored so commands can define their own.
func LoadConfig(configPath string, args []string) (*Config, error) {
	v := viper.New()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "data/events.db")
	v.SetDefault("store.busy_timeout_ms", 5000)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "event_scheduler")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.lease_key", "event-scheduler:leader")
	v.SetDefault("redis.lease_ttl_seconds", 30)
	v.SetDefault("scheduler.capture_window_seconds", 30)
	v.SetDefault("scheduler.min_sleep_seconds", 1)
	v.SetDefault("scheduler.max_sleep_seconds", 120)
	v.SetDefault("scheduler.fast_poll_threshold_seconds", 240)
	v.SetDefault("scheduler.settle_delay_seconds", 3)
	v.SetDefault("generator.scoreboard_interval_seconds", 600)
	v.SetDefault("rcon.host", "localhost")
	v.SetDefault("rcon.port", 25575)
	v.SetDefault("rcon.dial_timeout_seconds", 5)
	v.SetDefault("rcon.deadline_seconds", 5)
	v.SetDefault("rcon.health_check_schedule", "@every 5m")
	v.SetDefault("templates.dir", "events")
	v.SetDefault("templates.watch", true)
	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.rate_per_sec", 1)
	v.SetDefault("notify.webhook.max_retries", 3)
	v.SetDefault("notify.webhook.timeout_seconds", 10)
	v.SetDefault("api.port", 8080)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "otlp-http")
	v.SetDefault("telemetry.service_name", "rcon-event-scheduler")
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("log.level", "info")

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Err(err).Str("config_path", configPath).Msg("Failed to read config file, relying on defaults, env, and flags")
	}

	bindEnvOrPanic(v, "store.driver", "STORE_DRIVER")
	bindEnvOrPanic(v, "store.sqlite_path", "DATABASE_FILE")
	bindEnvOrPanic(v, "mongo.uri", "MONGO_URI")
	bindEnvOrPanic(v, "mongo.database", "MONGO_DATABASE")
	bindEnvOrPanic(v, "redis.enabled", "REDIS_ENABLED")
	bindEnvOrPanic(v, "redis.host", "REDIS_HOST")
	bindEnvOrPanic(v, "redis.port", "REDIS_PORT")
	bindEnvOrPanic(v, "scheduler.capture_window_seconds", "SCHEDULER_CAPTURE_WINDOW_SECONDS")
	bindEnvOrPanic(v, "scheduler.min_sleep_seconds", "SCHEDULER_MIN_SLEEP_SECONDS")
	bindEnvOrPanic(v, "scheduler.max_sleep_seconds", "SCHEDULER_MAX_SLEEP_SECONDS")
	bindEnvOrPanic(v, "scheduler.fast_poll_threshold_seconds", "SCHEDULER_FAST_POLL_THRESHOLD_SECONDS")
	bindEnvOrPanic(v, "generator.scoreboard_interval_seconds", "SCOREBOARD_INTERVAL_SECONDS")
	bindEnvOrPanic(v, "rcon.host", "RCON_HOST")
	bindEnvOrPanic(v, "rcon.port", "RCON_PORT")
	bindEnvOrPanic(v, "rcon.password", "RCON_PASS")
	bindEnvOrPanic(v, "templates.dir", "EVENTS_JSON_PATH")
	bindEnvOrPanic(v, "notify.driver", "NOTIFY_DRIVER")
	bindEnvOrPanic(v, "notify.telegram.token", "TELEGRAM_TOKEN")
	bindEnvOrPanic(v, "notify.telegram.chat_id", "TELEGRAM_CHAT_ID")
	bindEnvOrPanic(v, "notify.webhook.url", "WEBHOOK_URL")
	bindEnvOrPanic(v, "api.port", "API_PORT")
	bindEnvOrPanic(v, "api.admin_key", "ADMIN_API_KEY")
	bindEnvOrPanic(v, "telemetry.enabled", "OTEL_ENABLED")
	bindEnvOrPanic(v, "telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	bindEnvOrPanic(v, "log.level", "LOG_LEVEL")

	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	fs.String("store-driver", "", "Override store driver (sqlite, mongo)")
	fs.String("sqlite-path", "", "Override SQLite database path")
	fs.Int("min-sleep-seconds", 0, "Override scheduler minimum sleep")
	fs.Int("max-sleep-seconds", 0, "Override scheduler maximum sleep")
	fs.String("notify-driver", "", "Override notification driver (log, telegram, webhook)")
	fs.Int("api-port", 0, "Override API listen port")
	fs.String("log-level", "", "Override log level")
	if err := fs.Parse(args); err != nil {
		log.Warn().Err(err).Msg("Failed to parse command-line flags")
	}

	bindFlag(v, fs, "store.driver", "store-driver")
	bindFlag(v, fs, "store.sqlite_path", "sqlite-path")
	bindFlag(v, fs, "scheduler.min_sleep_seconds", "min-sleep-seconds")
	bindFlag(v, fs, "scheduler.max_sleep_seconds", "max-sleep-seconds")
	bindFlag(v, fs, "notify.driver", "notify-driver")
	bindFlag(v, fs, "api.port", "api-port")
	bindFlag(v, fs, "log.level", "log-level")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func bindEnvOrPanic(v *viper.Viper, key, env string) {
	if err := v.BindEnv(key, env); err != nil {
		log.Fatal().Err(err).Msgf("Failed to bind environment variable %s to key %s", env, key)
	}
}

// bindFlag only lets a flag win when it was set explicitly.
func bindFlag(v *viper.Viper, fs *pflag.FlagSet, key, name string) {
	if f := fs.Lookup(name); f != nil && f.Changed {
		if err := v.BindPFlag(key, f); err != nil {
			log.Fatal().Err(err).Msgf("Failed to bind flag %s to key %s", name, key)
		}
	}
}

func validateConfig(cfg *Config) error {
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			return fmt.Errorf("store sqlite_path must be set for the sqlite driver")
		}
	case "mongo":
		if cfg.Mongo.URI == "" {
			log.Warn().Msg("MONGO_URI not provided, using default")
		}
	default:
		return fmt.Errorf("unknown store driver %q (supported: sqlite, mongo)", cfg.Store.Driver)
	}

	s := cfg.Scheduler
	if s.CaptureWindowSeconds < 0 {
		return fmt.Errorf("scheduler capture_window_seconds must be >= 0, got %d", s.CaptureWindowSeconds)
	}
	if s.MinSleepSeconds <= 0 {
		return fmt.Errorf("scheduler min_sleep_seconds must be > 0, got %d", s.MinSleepSeconds)
	}
	if s.MaxSleepSeconds < s.MinSleepSeconds {
		return fmt.Errorf("scheduler max_sleep_seconds (%d) must be >= min_sleep_seconds (%d)", s.MaxSleepSeconds, s.MinSleepSeconds)
	}
	if s.SettleDelaySeconds < 0 {
		return fmt.Errorf("scheduler settle_delay_seconds must be >= 0, got %d", s.SettleDelaySeconds)
	}

	if cfg.Generator.ScoreboardIntervalSeconds <= 0 {
		log.Warn().Int("scoreboard_interval_seconds", cfg.Generator.ScoreboardIntervalSeconds).
			Msg("Scoreboard interval disabled, events will get no display tasks by default")
	}

	if cfg.RCON.Password == "" {
		log.Warn().Msg("RCON_PASS not provided, remote commands will fail to authenticate")
	}

	switch cfg.Notify.Driver {
	case "log":
	case "telegram":
		if cfg.Notify.Telegram.Token == "" || cfg.Notify.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram notifier requires TELEGRAM_TOKEN and TELEGRAM_CHAT_ID")
		}
	case "webhook":
		if cfg.Notify.Webhook.URL == "" {
			return fmt.Errorf("webhook notifier requires WEBHOOK_URL")
		}
	default:
		return fmt.Errorf("unknown notify driver %q (supported: log, telegram, webhook)", cfg.Notify.Driver)
	}

	if cfg.Redis.Enabled && cfg.Redis.LeaseTTLSeconds <= 0 {
		return fmt.Errorf("redis lease_ttl_seconds must be > 0, got %d", cfg.Redis.LeaseTTLSeconds)
	}

	return nil
}

// Scheduler timing accessors.

func (c SchedulerConfig) CaptureWindow() time.Duration {
	return time.Duration(c.CaptureWindowSeconds) * time.Second
}

func (c SchedulerConfig) MinSleep() time.Duration {
	return time.Duration(c.MinSleepSeconds) * time.Second
}

func (c SchedulerConfig) MaxSleep() time.Duration {
	return time.Duration(c.MaxSleepSeconds) * time.Second
}

func (c SchedulerConfig) FastPollThreshold() time.Duration {
	return time.Duration(c.FastPollThresholdSeconds) * time.Second
}

func (c SchedulerConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelaySeconds) * time.Second
}
