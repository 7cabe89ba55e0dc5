// Package config loads retrack's service configuration via Viper,
// grounded on the JakeFAU-realtime-cpi-crawler corpus's internal/config
// Load/setDefaults/Validate shape. github.com/joho/godotenv (teacher)
// still loads a local .env first, as the teacher's cmd/goflow-migrate
// and internal/testutil already do.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DBConfig is the Postgres connection the Persistence Layer opens.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// DSN returns the libpq connection string for this DBConfig.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// ComponentsConfig addresses the external worker the Page Target
// Executor delegates browser rendering to (spec.md §4.4).
type ComponentsConfig struct {
	WebScraperURL string `mapstructure:"web_scraper_url"`
}

// SMTPConfig is the outbound mail relay the email task handler binds to.
type SMTPConfig struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// TrackersConfig is the Job Scheduler's tracker-facing knobs (spec.md §6).
type TrackersConfig struct {
	MaxRevisions           int      `mapstructure:"max_revisions"`
	MinScheduleIntervalMS  int64    `mapstructure:"min_schedule_interval_ms"`
	SchedulesWhitelist     []string `mapstructure:"schedules_whitelist"`
}

// MinScheduleInterval converts MinScheduleIntervalMS to a time.Duration.
func (c TrackersConfig) MinScheduleInterval() time.Duration {
	return time.Duration(c.MinScheduleIntervalMS) * time.Millisecond
}

// TaskQueueConfig is the Task Queue's dispatcher tuning (spec.md §6).
type TaskQueueConfig struct {
	PollIntervalMS int `mapstructure:"poll_interval_ms"`
	WorkerCount    int `mapstructure:"worker_count"`
}

// PollInterval converts PollIntervalMS to a time.Duration.
func (c TaskQueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Config captures every enumerated configuration key of spec.md §6.
type Config struct {
	Port       int               `mapstructure:"port"`
	DB         DBConfig          `mapstructure:"db"`
	Components ComponentsConfig  `mapstructure:"components"`
	SMTP       SMTPConfig        `mapstructure:"smtp"`
	Trackers   TrackersConfig    `mapstructure:"trackers"`
	TaskQueue  TaskQueueConfig   `mapstructure:"task_queue"`
	LogLevel   string            `mapstructure:"log_level"`
	LogFormat  string            `mapstructure:"log_format"`
}

// Load builds a Config from config.yaml (if path is non-empty and
// present), a local .env, and RETRACK_-prefixed environment overrides.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env is optional in production; RETRACK_* env vars still apply.
	}

	v := viper.New()
	v.SetEnvPrefix("RETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "retrack")
	v.SetDefault("db.user", "retrack")
	v.SetDefault("trackers.max_revisions", 10)
	v.SetDefault("trackers.min_schedule_interval_ms", 60_000)
	v.SetDefault("trackers.schedules_whitelist", []string{})
	v.SetDefault("task_queue.poll_interval_ms", 1_000)
	v.SetDefault("task_queue.worker_count", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Validate enforces the bounds spec.md §6/§7 treat as Fatal at startup.
func (c Config) Validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("config: port must be > 0")
	}
	if c.Trackers.MaxRevisions <= 0 {
		return fmt.Errorf("config: trackers.max_revisions must be > 0")
	}
	if c.TaskQueue.WorkerCount <= 0 {
		return fmt.Errorf("config: task_queue.worker_count must be > 0")
	}
	if c.TaskQueue.PollIntervalMS <= 0 {
		return fmt.Errorf("config: task_queue.poll_interval_ms must be > 0")
	}
	return nil
}
