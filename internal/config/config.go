/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables (with an
 * optional .env file), providing a centralized way to manage settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */
package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the entitlement service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix  string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	ClerkJWKSURL          string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey        string `mapstructure:"INTERNAL_API_KEY"`
	ProviderWebhookSecret string `mapstructure:"PROVIDER_WEBHOOK_SECRET"`

	DayPassDurationHours int `mapstructure:"DAY_PASS_DURATION_HOURS"`

	SweepSchedule              string `mapstructure:"SWEEP_SCHEDULE"`
	ExpiryWarningSchedule      string `mapstructure:"EXPIRY_WARNING_SCHEDULE"`
	ExpiryWarningWindowMinutes int    `mapstructure:"EXPIRY_WARNING_WINDOW_MINUTES"`

	WebhookReprocessSchedule       string `mapstructure:"WEBHOOK_REPROCESS_SCHEDULE"`
	WebhookRetryMaxAgeDays         int    `mapstructure:"WEBHOOK_RETRY_MAX_AGE_DAYS"`
	WebhookUnresolvedAlertAttempts int    `mapstructure:"WEBHOOK_UNRESOLVED_ALERT_ATTEMPTS"`

	RedeemRateLimitPerMinute int `mapstructure:"REDEEM_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "entitlement:rate_limit")
	viper.SetDefault("DAY_PASS_DURATION_HOURS", 24)
	// Day passes are hour-granular but a sub-hour cadence keeps the window
	// between expiry and sweep small.
	viper.SetDefault("SWEEP_SCHEDULE", "* * * * *")
	viper.SetDefault("EXPIRY_WARNING_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("EXPIRY_WARNING_WINDOW_MINUTES", 60)
	viper.SetDefault("WEBHOOK_REPROCESS_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("WEBHOOK_RETRY_MAX_AGE_DAYS", 7)
	viper.SetDefault("WEBHOOK_UNRESOLVED_ALERT_ATTEMPTS", 5)
	viper.SetDefault("REDEEM_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "ENTITLEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PROVIDER_WEBHOOK_SECRET")
	_ = viper.BindEnv("DAY_PASS_DURATION_HOURS")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("EXPIRY_WARNING_SCHEDULE")
	_ = viper.BindEnv("EXPIRY_WARNING_WINDOW_MINUTES")
	_ = viper.BindEnv("WEBHOOK_REPROCESS_SCHEDULE")
	_ = viper.BindEnv("WEBHOOK_RETRY_MAX_AGE_DAYS")
	_ = viper.BindEnv("WEBHOOK_UNRESOLVED_ALERT_ATTEMPTS")
	_ = viper.BindEnv("REDEEM_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("ENTITLEMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "entitlement:rate_limit"
	}

	if config.DayPassDurationHours <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive day pass duration configured; using 24h\" hours=%d", config.DayPassDurationHours)
		config.DayPassDurationHours = 24
	}
	if config.ExpiryWarningWindowMinutes <= 0 {
		config.ExpiryWarningWindowMinutes = 60
	}
	if config.WebhookRetryMaxAgeDays <= 0 {
		config.WebhookRetryMaxAgeDays = 7
	}
	if config.WebhookUnresolvedAlertAttempts <= 0 {
		config.WebhookUnresolvedAlertAttempts = 5
	}
	if config.RedeemRateLimitPerMinute <= 0 {
		config.RedeemRateLimitPerMinute = 10
	}

	return
}
