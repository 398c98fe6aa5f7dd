/**
 * @description
 * Scheduled job implementations: the expiration sweep that clears expired
 * overlays, the expiry-warning emitter, and the reprocessing pass for webhook
 * events that arrived before their account existed. Every job is idempotent
 * and safe to run concurrently with itself, so the cron schedule and the
 * on-demand admin trigger can overlap freely.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/rreusch2/parleyapp-sub015/internal/store"
)

// SweeperConfig carries the tunables for the scheduled jobs.
type SweeperConfig struct {
	ExpiryWarningWindow time.Duration
	ReprocessMaxAge     time.Duration
	ReprocessBatchSize  int
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo      store.Repository
	processor *WebhookProcessor
	publisher EventPublisher
	logger    *slog.Logger
	config    SweeperConfig
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, processor *WebhookProcessor, publisher EventPublisher, logger *slog.Logger, cfg SweeperConfig) *Jobs {
	if cfg.ExpiryWarningWindow <= 0 {
		cfg.ExpiryWarningWindow = time.Hour
	}
	if cfg.ReprocessMaxAge <= 0 {
		cfg.ReprocessMaxAge = 7 * 24 * time.Hour
	}
	if cfg.ReprocessBatchSize <= 0 {
		cfg.ReprocessBatchSize = 100
	}
	return &Jobs{
		repo:      repo,
		processor: processor,
		publisher: publisher,
		logger:    logger,
		config:    cfg,
	}
}

// RunExpirationSweep clears expired day passes and reward overrides.
// Restoration is implicit: once an overlay is gone, Resolve falls through to
// the next-lower priority source, so the sweep never recomputes tiers.
func (j *Jobs) RunExpirationSweep() {
	ctx := context.Background()
	now := time.Now()

	dayPasses, err := j.repo.ClearExpiredDayPasses(ctx, now)
	if err != nil {
		j.logger.Error("failed to clear expired day passes", "error", err)
	}

	overrides, err := j.repo.ClearExpiredOverrides(ctx, now)
	if err != nil {
		j.logger.Error("failed to clear expired overrides", "error", err)
	}

	if dayPasses > 0 || overrides > 0 {
		j.logger.Info("expiration sweep finished", "day_passes_cleared", dayPasses, "overrides_cleared", overrides)
	}
}

// RunExpiryWarnings publishes a notification for each overlay inside the
// warning window. The repository marks rows warned as it returns them, so each
// overlay is announced at most once.
func (j *Jobs) RunExpiryWarnings() {
	ctx := context.Background()

	overlays, err := j.repo.ListExpiringOverlays(ctx, time.Now(), j.config.ExpiryWarningWindow)
	if err != nil {
		j.logger.Error("failed to list expiring overlays", "error", err)
		return
	}
	if len(overlays) == 0 {
		return
	}

	for _, overlay := range overlays {
		if j.publisher == nil {
			continue
		}
		if err := j.publisher.Publish(ctx, AuditExchange, RoutingKeyOverlayExpiring, overlay); err != nil {
			j.logger.Warn("failed to publish overlay expiry warning",
				"account_id", overlay.AccountID, "source", overlay.Source, "error", err)
		}
	}
	j.logger.Info("expiry warnings published", "count", len(overlays))
}

// RunWebhookReprocessing retries parked webhook events whose account did not
// exist at delivery time.
func (j *Jobs) RunWebhookReprocessing() {
	ctx := context.Background()

	events, err := j.repo.ListUnresolvedWebhookEvents(ctx, j.config.ReprocessMaxAge, j.config.ReprocessBatchSize)
	if err != nil {
		j.logger.Error("failed to list unresolved webhook events", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	applied := j.processor.ReprocessUnresolved(ctx, events)
	j.logger.Info("webhook reprocessing finished", "candidates", len(events), "applied", applied)
}
