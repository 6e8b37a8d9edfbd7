package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"bc-assistant/core/internal/apperrors"
)

// Config is the assistant core's runtime configuration, loaded from a
// .env file and the environment.
type Config struct {
	AssistantURL string `mapstructure:"ASSISTANT_URL" validate:"required,url"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"oneof=json console"`

	// StorageBackend selects where the minimized-view query snapshot is
	// kept. "none" disables local persistence entirely.
	StorageBackend string `mapstructure:"STORAGE_BACKEND" validate:"oneof=sqlite redis none"`
	DatabasePath   string `mapstructure:"DATABASE_PATH" validate:"required_if=StorageBackend sqlite"`
	RedisAddr      string `mapstructure:"REDIS_ADDR" validate:"required_if=StorageBackend redis"`
	// StorageConsent mirrors the page's consent-level check; without it
	// snapshot writes are no-ops.
	StorageConsent bool `mapstructure:"STORAGE_CONSENT"`

	FeedbackArmWindow      time.Duration `mapstructure:"FEEDBACK_ARM_WINDOW" validate:"gt=0"`
	FeedbackFollowUpWindow time.Duration `mapstructure:"FEEDBACK_FOLLOWUP_WINDOW" validate:"gt=0"`

	// MetricsAddr is the listen address for the Prometheus exposition
	// endpoint; empty disables it.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
}

func Load() (*Config, error) {
	viper.SetDefault("ASSISTANT_URL", "http://localhost:8000")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "console")
	viper.SetDefault("STORAGE_BACKEND", "sqlite")
	viper.SetDefault("DATABASE_PATH", "data/assistant.db")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("STORAGE_CONSENT", true)
	viper.SetDefault("FEEDBACK_ARM_WINDOW", "90s")
	viper.SetDefault("FEEDBACK_FOLLOWUP_WINDOW", "20s")
	viper.SetDefault("METRICS_ADDR", "")

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validateConfig(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validateConfig() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %s", apperrors.ErrValidation, err.Error())
	}
	var messages []string
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("field '%s' failed on the '%s' tag", fieldErr.Field(), fieldErr.Tag()))
	}
	return fmt.Errorf("%w: %s", apperrors.ErrValidation, strings.Join(messages, "; "))
}
