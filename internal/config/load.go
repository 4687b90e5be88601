package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config.yaml in the working directory. Environment variables use the
// VISIARCH_ prefix with underscores for nesting (e.g. VISIARCH_KLING_ACCESS_KEY)
// and take precedence over file values. Returns a validated Config or an
// error describing what is missing or out of range.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VISIARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers the documented defaults. Queue tuning defaults
// (2s tick, 5 concurrent checks, error threshold 10, 30s/5s visibility)
// are part of the queue's behavioral contract.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	// Credentials default to empty so viper registers the keys; without a
	// registered key AutomaticEnv values are invisible to Unmarshal.
	v.SetDefault("kling.access_key", "")
	v.SetDefault("kling.secret_key", "")
	v.SetDefault("kling.base_url", "https://api.klingai.com")
	v.SetDefault("kling.token_lifetime_minutes", 30)
	v.SetDefault("kling.token_refresh_buffer_minutes", 5)
	v.SetDefault("kling.request_timeout_seconds", 30)

	v.SetDefault("fal.api_key", "")
	v.SetDefault("fal.priority_key", "")
	v.SetDefault("fal.base_url", "https://queue.fal.run")
	v.SetDefault("fal.text_to_video_model", "fal-ai/kling-video/v1.6/standard/text-to-video")
	v.SetDefault("fal.image_to_video_model", "fal-ai/kling-video/v1.6/standard/image-to-video")
	v.SetDefault("fal.request_timeout_seconds", 30)

	v.SetDefault("queue.tick_interval_ms", 2000)
	v.SetDefault("queue.max_concurrent_checks", 5)
	v.SetDefault("queue.max_consecutive_errors", 10)
	v.SetDefault("queue.success_visibility_seconds", 30)
	v.SetDefault("queue.failure_visibility_seconds", 5)
}
