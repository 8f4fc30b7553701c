package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	TelegramToken string           `yaml:"telegram_token"`
	AdminUserID   int64            `yaml:"admin_user_id"`
	DatabasePath  string           `yaml:"database_path"`
	RedisURL      string           `yaml:"redis_url"`
	LogLevel      string           `yaml:"log_level"`
	RetentionDays int              `yaml:"retention_days"`
	Health        HealthConfig     `yaml:"health"`
	RateLimits    RateLimitConfig  `yaml:"rate_limits"`
	Spam          SpamConfig       `yaml:"spam"`
	Screening     ScreeningConfig  `yaml:"screening"`
	Punishment    PunishmentConfig `yaml:"punishment"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Ceiling bounds an action class to Limit events per WindowSeconds.
// A zero or negative limit means the class is unlimited.
type Ceiling struct {
	Limit         int `yaml:"limit"`
	WindowSeconds int `yaml:"window_seconds"`
}

type RateLimitConfig struct {
	Message   Ceiling `yaml:"message"`
	Download  Ceiling `yaml:"download"`
	Broadcast Ceiling `yaml:"broadcast"`
}

type SpamConfig struct {
	RepeatCount         int `yaml:"repeat_count"`
	RepeatWindowSeconds int `yaml:"repeat_window_seconds"`
	MaxLinks            int `yaml:"max_links"`
	MessagesPerMinute   int `yaml:"messages_per_minute"`
}

type ScreeningConfig struct {
	Joins         int `yaml:"joins"`
	WindowSeconds int `yaml:"window_seconds"`
}

// PunishmentConfig is the strike threshold table. WarnAt, MuteAt and BanAt
// are strike counts; the table must be monotonic (WarnAt <= MuteAt <= BanAt).
type PunishmentConfig struct {
	WarnAt      int `yaml:"warn_at"`
	MuteAt      int `yaml:"mute_at"`
	BanAt       int `yaml:"ban_at"`
	MuteMinutes int `yaml:"mute_minutes"`
	WindowHours int `yaml:"window_hours"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:  "/data/groupwarden.db",
		LogLevel:      "info",
		RetentionDays: 30,
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		RateLimits: RateLimitConfig{
			Message:   Ceiling{Limit: 20, WindowSeconds: 60},
			Download:  Ceiling{Limit: 10, WindowSeconds: 3600},
			Broadcast: Ceiling{Limit: 5, WindowSeconds: 86400},
		},
		Spam: SpamConfig{
			RepeatCount:         3,
			RepeatWindowSeconds: 60,
			MaxLinks:            2,
			MessagesPerMinute:   10,
		},
		Screening: ScreeningConfig{Joins: 6, WindowSeconds: 10},
		Punishment: PunishmentConfig{
			WarnAt:      1,
			MuteAt:      2,
			BanAt:       3,
			MuteMinutes: 60,
			WindowHours: 24,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.TelegramToken == "" {
		return Config{}, errors.New("TELEGRAM_TOKEN is required")
	}
	if err := cfg.Punishment.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (p PunishmentConfig) Validate() error {
	if p.WarnAt < 1 {
		return fmt.Errorf("punishment warn_at must be at least 1, got %d", p.WarnAt)
	}
	if p.MuteAt < p.WarnAt || p.BanAt < p.MuteAt {
		return fmt.Errorf("punishment thresholds must be monotonic: warn_at=%d mute_at=%d ban_at=%d", p.WarnAt, p.MuteAt, p.BanAt)
	}
	if p.MuteMinutes < 1 {
		return fmt.Errorf("punishment mute_minutes must be at least 1, got %d", p.MuteMinutes)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.TelegramToken = envString("TELEGRAM_TOKEN", cfg.TelegramToken)
	cfg.AdminUserID = envInt64("ADMIN_USER_ID", cfg.AdminUserID)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.RedisURL = envString("REDIS_URL", cfg.RedisURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.RateLimits.Message.Limit = envInt("RATE_MESSAGE_LIMIT", cfg.RateLimits.Message.Limit)
	cfg.RateLimits.Message.WindowSeconds = envInt("RATE_MESSAGE_WINDOW_SECONDS", cfg.RateLimits.Message.WindowSeconds)
	cfg.RateLimits.Download.Limit = envInt("RATE_DOWNLOAD_LIMIT", cfg.RateLimits.Download.Limit)
	cfg.RateLimits.Download.WindowSeconds = envInt("RATE_DOWNLOAD_WINDOW_SECONDS", cfg.RateLimits.Download.WindowSeconds)
	cfg.RateLimits.Broadcast.Limit = envInt("RATE_BROADCAST_LIMIT", cfg.RateLimits.Broadcast.Limit)
	cfg.RateLimits.Broadcast.WindowSeconds = envInt("RATE_BROADCAST_WINDOW_SECONDS", cfg.RateLimits.Broadcast.WindowSeconds)
	cfg.Spam.RepeatCount = envInt("SPAM_REPEAT_COUNT", cfg.Spam.RepeatCount)
	cfg.Spam.RepeatWindowSeconds = envInt("SPAM_REPEAT_WINDOW_SECONDS", cfg.Spam.RepeatWindowSeconds)
	cfg.Spam.MaxLinks = envInt("SPAM_MAX_LINKS", cfg.Spam.MaxLinks)
	cfg.Spam.MessagesPerMinute = envInt("SPAM_MESSAGES_PER_MINUTE", cfg.Spam.MessagesPerMinute)
	cfg.Screening.Joins = envInt("SCREENING_JOINS", cfg.Screening.Joins)
	cfg.Screening.WindowSeconds = envInt("SCREENING_WINDOW_SECONDS", cfg.Screening.WindowSeconds)
	cfg.Punishment.WarnAt = envInt("PUNISHMENT_WARN_AT", cfg.Punishment.WarnAt)
	cfg.Punishment.MuteAt = envInt("PUNISHMENT_MUTE_AT", cfg.Punishment.MuteAt)
	cfg.Punishment.BanAt = envInt("PUNISHMENT_BAN_AT", cfg.Punishment.BanAt)
	cfg.Punishment.MuteMinutes = envInt("PUNISHMENT_MUTE_MINUTES", cfg.Punishment.MuteMinutes)
	cfg.Punishment.WindowHours = envInt("PUNISHMENT_WINDOW_HOURS", cfg.Punishment.WindowHours)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
