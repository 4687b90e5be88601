package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server ServerConfig `mapstructure:"server" validate:"required"`
	Kling  KlingConfig  `mapstructure:"kling"  validate:"required"`
	Fal    FalConfig    `mapstructure:"fal"    validate:"required"`
	Queue  QueueConfig  `mapstructure:"queue"  validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// KlingConfig contains credentials and tuning for the Kling video API.
// Kling authenticates every request with a short-lived HS256 bearer
// token signed from the access/secret key pair.
type KlingConfig struct {
	AccessKey string `mapstructure:"access_key" validate:"required"`
	SecretKey string `mapstructure:"secret_key" validate:"required,min=16"`
	BaseURL   string `mapstructure:"base_url"   validate:"required,url"`

	// TokenLifetimeMinutes is how long each signed bearer token is valid.
	TokenLifetimeMinutes int `mapstructure:"token_lifetime_minutes" validate:"gt=0"`

	// TokenRefreshBufferMinutes is the remaining-validity floor below
	// which a cached token is reissued instead of reused.
	TokenRefreshBufferMinutes int `mapstructure:"token_refresh_buffer_minutes" validate:"gte=0"`

	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" validate:"gt=0"`
}

// FalConfig contains credentials and tuning for the fal.ai queue API.
type FalConfig struct {
	APIKey  string `mapstructure:"api_key"  validate:"required"`
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// PriorityKey is an optional billing credential. When set it is used
	// in place of APIKey so submissions land on the priority quota.
	PriorityKey string `mapstructure:"priority_key"`

	TextToVideoModel  string `mapstructure:"text_to_video_model"  validate:"required"`
	ImageToVideoModel string `mapstructure:"image_to_video_model" validate:"required"`

	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" validate:"gt=0"`
}

// QueueConfig contains tuning for the video task queue driver loop.
type QueueConfig struct {
	// TickIntervalMs is the driver loop period in milliseconds.
	TickIntervalMs int `mapstructure:"tick_interval_ms" validate:"gt=0"`

	// MaxConcurrentChecks caps how many status checks a single tick may
	// have in flight at once.
	MaxConcurrentChecks int `mapstructure:"max_concurrent_checks" validate:"gt=0"`

	// MaxConsecutiveErrors is the number of back-to-back failed status
	// checks after which an item is force-failed.
	MaxConsecutiveErrors int `mapstructure:"max_consecutive_errors" validate:"gt=0"`

	// SuccessVisibilitySeconds / FailureVisibilitySeconds control how
	// long a terminal item stays queryable before removal.
	SuccessVisibilitySeconds int `mapstructure:"success_visibility_seconds" validate:"gt=0"`
	FailureVisibilitySeconds int `mapstructure:"failure_visibility_seconds" validate:"gt=0"`
}
