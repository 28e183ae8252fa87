// Package config provides configuration loading, validation, and management
// for the usebot application. It reads config.yaml, applies defaults, merges
// USEBOT_* environment overrides, and validates the result.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all components
// of the usebot system: logging, storage, delivery, the funnel engine, budgets,
// and scheduled tasks.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds SQLite connection settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// TelegramConfig holds delivery transport settings.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
}

// HTTPConfig holds the reporting/ops API listener settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// EngineConfig tunes the funnel engine: tick cadence, worker fan-out,
// delivery retries, and catalog refresh.
type EngineConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"     validate:"min=1s,max=10m"`
	MaxWorkers      int           `mapstructure:"max_workers"       validate:"min=1,max=256"`
	TickBatchSize   int           `mapstructure:"tick_batch_size"   validate:"min=1,max=10000"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"      validate:"min=1s,max=5m"`
	RecorderTimeout time.Duration `mapstructure:"recorder_timeout"  validate:"min=100ms,max=1m"`
	MaxSendAttempts int           `mapstructure:"max_send_attempts" validate:"min=1,max=10"`
	InitialBackoff  time.Duration `mapstructure:"initial_backoff"   validate:"min=10ms"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"       validate:"min=1s"`
	CatalogTTL      time.Duration `mapstructure:"catalog_ttl"       validate:"min=1s,max=1h"`
	DefaultMinPause time.Duration `mapstructure:"default_min_pause" validate:"min=0"`
	DefaultMaxPause time.Duration `mapstructure:"default_max_pause" validate:"min=0,gtefield=DefaultMinPause"`
	CTAStage        int           `mapstructure:"cta_stage"         validate:"min=0"`
}

// BudgetConfig controls the per-user daily outreach caps. The time zone
// determines where the day boundary falls for counter keys.
type BudgetConfig struct {
	Timezone        string `mapstructure:"timezone"           validate:"required"`
	DailyDMLimit    int    `mapstructure:"daily_dm_limit"     validate:"min=0"`
	ChatPostsPerDay int    `mapstructure:"chat_posts_per_day" validate:"min=0"`
}

// TaskConfig describes one scheduled background task. Either a cron
// expression or a fixed interval must be set for an enabled task.
type TaskConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	Every    time.Duration `mapstructure:"every"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// Load reads configuration from the given YAML file, sets defaults for
// optional fields, applies environment overrides, and validates the result.
// A missing config file is not an error; defaults plus environment variables
// may form a complete configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("USEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	return strings.Contains(err.Error(), "no such file")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("database.path", "usebot.db")

	// Registered empty so USEBOT_TELEGRAM_TOKEN resolves without a file.
	v.SetDefault("telegram.token", "")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("engine.tick_interval", 15*time.Second)
	v.SetDefault("engine.max_workers", 16)
	v.SetDefault("engine.tick_batch_size", 200)
	v.SetDefault("engine.send_timeout", 30*time.Second)
	v.SetDefault("engine.recorder_timeout", 2*time.Second)
	v.SetDefault("engine.max_send_attempts", 4)
	v.SetDefault("engine.initial_backoff", 500*time.Millisecond)
	v.SetDefault("engine.max_backoff", 30*time.Second)
	v.SetDefault("engine.catalog_ttl", 30*time.Second)
	v.SetDefault("engine.default_min_pause", 30*time.Second)
	v.SetDefault("engine.default_max_pause", 120*time.Second)
	v.SetDefault("engine.cta_stage", 3)

	v.SetDefault("budget.timezone", "UTC")
	v.SetDefault("budget.daily_dm_limit", 7)
	v.SetDefault("budget.chat_posts_per_day", 3)

	v.SetDefault("scheduler.tasks.engine_tick.enabled", true)
	v.SetDefault("scheduler.tasks.engine_tick.every", 15*time.Second)
	v.SetDefault("scheduler.tasks.auto_post.enabled", true)
	v.SetDefault("scheduler.tasks.auto_post.every", 30*time.Minute)
	v.SetDefault("scheduler.tasks.budget_prune.enabled", true)
	v.SetDefault("scheduler.tasks.budget_prune.schedule", "0 4 * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 5 * * 0")
}
