package config

import (
	"testing"

	"github.com/spf13/viper"
)

func setEnvWithCleanup(t *testing.T, key, value string) {
	t.Helper()
	t.Setenv(key, value)
}

func loadForTest(t *testing.T) Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	return cfg
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadForTest(t)

	if cfg.ServerPort != "8086" {
		t.Fatalf("expected default port 8086, got %q", cfg.ServerPort)
	}
	if cfg.DayPassDurationHours != 24 {
		t.Fatalf("expected 24h day pass default, got %d", cfg.DayPassDurationHours)
	}
	if cfg.SweepSchedule != "* * * * *" {
		t.Fatalf("expected every-minute sweep default, got %q", cfg.SweepSchedule)
	}
	if cfg.ExpiryWarningWindowMinutes != 60 {
		t.Fatalf("expected 60m warning window default, got %d", cfg.ExpiryWarningWindowMinutes)
	}
	if cfg.WebhookUnresolvedAlertAttempts != 5 {
		t.Fatalf("expected 5 alert attempts default, got %d", cfg.WebhookUnresolvedAlertAttempts)
	}
	if cfg.WebhookRetryMaxAgeDays != 7 {
		t.Fatalf("expected 7d retry max age default, got %d", cfg.WebhookRetryMaxAgeDays)
	}
	if cfg.RedeemRateLimitPerMinute != 10 {
		t.Fatalf("expected redeem limit 10 default, got %d", cfg.RedeemRateLimitPerMinute)
	}
	if cfg.RedisRateLimitPrefix != "entitlement:rate_limit" {
		t.Fatalf("expected default rate limit prefix, got %q", cfg.RedisRateLimitPrefix)
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	setEnvWithCleanup(t, "SERVER_PORT", "9090")
	setEnvWithCleanup(t, "DATABASE_URL", "postgres://localhost:5432/entitlements")
	setEnvWithCleanup(t, "DAY_PASS_DURATION_HOURS", "12")
	setEnvWithCleanup(t, "WEBHOOK_UNRESOLVED_ALERT_ATTEMPTS", "3")

	cfg := loadForTest(t)

	if cfg.ServerPort != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.ServerPort)
	}
	if cfg.DatabaseURL != "postgres://localhost:5432/entitlements" {
		t.Fatalf("unexpected database URL %q", cfg.DatabaseURL)
	}
	if cfg.DayPassDurationHours != 12 {
		t.Fatalf("expected 12h day pass, got %d", cfg.DayPassDurationHours)
	}
	if cfg.WebhookUnresolvedAlertAttempts != 3 {
		t.Fatalf("expected 3 alert attempts, got %d", cfg.WebhookUnresolvedAlertAttempts)
	}
}

func TestLoadConfig_PlatformPortWins(t *testing.T) {
	// Hosting platforms inject PORT; it takes precedence over SERVER_PORT.
	setEnvWithCleanup(t, "SERVER_PORT", "9090")
	setEnvWithCleanup(t, "PORT", "10000")

	cfg := loadForTest(t)

	if cfg.ServerPort != "10000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_InternalKeyAlias(t *testing.T) {
	setEnvWithCleanup(t, "ENTITLEMENT_SERVICE_INTERNAL_API_KEY", "shared-key")

	cfg := loadForTest(t)

	if cfg.InternalAPIKey != "shared-key" {
		t.Fatalf("expected aliased internal key, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_SanitizesNonPositiveTunables(t *testing.T) {
	setEnvWithCleanup(t, "DAY_PASS_DURATION_HOURS", "0")
	setEnvWithCleanup(t, "EXPIRY_WARNING_WINDOW_MINUTES", "-5")
	setEnvWithCleanup(t, "REDEEM_RATE_LIMIT_PER_MINUTE", "0")

	cfg := loadForTest(t)

	if cfg.DayPassDurationHours != 24 {
		t.Fatalf("expected day pass fallback 24, got %d", cfg.DayPassDurationHours)
	}
	if cfg.ExpiryWarningWindowMinutes != 60 {
		t.Fatalf("expected warning window fallback 60, got %d", cfg.ExpiryWarningWindowMinutes)
	}
	if cfg.RedeemRateLimitPerMinute != 10 {
		t.Fatalf("expected redeem limit fallback 10, got %d", cfg.RedeemRateLimitPerMinute)
	}
}
