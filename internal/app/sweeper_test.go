package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rreusch2/parleyapp-sub015/internal/domain"
	"github.com/rreusch2/parleyapp-sub015/internal/store"
)

type jobsRepoStub struct {
	store.Repository

	dayPassesCleared  int64
	overridesCleared  int64
	clearDayPassesErr error

	overlays    []domain.ExpiringOverlay
	overlaysErr error

	unresolved       []domain.WebhookEvent
	listedMaxAge     time.Duration
	listedBatchLimit int
}

func (s *jobsRepoStub) ClearExpiredDayPasses(ctx context.Context, now time.Time) (int64, error) {
	if s.clearDayPassesErr != nil {
		return 0, s.clearDayPassesErr
	}
	return s.dayPassesCleared, nil
}

func (s *jobsRepoStub) ClearExpiredOverrides(ctx context.Context, now time.Time) (int64, error) {
	return s.overridesCleared, nil
}

func (s *jobsRepoStub) ListExpiringOverlays(ctx context.Context, now time.Time, window time.Duration) ([]domain.ExpiringOverlay, error) {
	if s.overlaysErr != nil {
		return nil, s.overlaysErr
	}
	return s.overlays, nil
}

func (s *jobsRepoStub) ListUnresolvedWebhookEvents(ctx context.Context, maxAge time.Duration, limit int) ([]domain.WebhookEvent, error) {
	s.listedMaxAge = maxAge
	s.listedBatchLimit = limit
	return s.unresolved, nil
}

func newTestJobs(repo store.Repository, processor *WebhookProcessor, publisher EventPublisher, cfg SweeperConfig) *Jobs {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewJobs(repo, processor, publisher, logger, cfg)
}

func TestRunExpirationSweep_ClearsBothOverlayKinds(t *testing.T) {
	repo := &jobsRepoStub{dayPassesCleared: 3, overridesCleared: 2}
	jobs := newTestJobs(repo, nil, nil, SweeperConfig{})

	// Clearing is delegated to the repository and the job never errors; running
	// it twice models overlapping cron fires against an already-swept table.
	jobs.RunExpirationSweep()
	repo.dayPassesCleared = 0
	repo.overridesCleared = 0
	jobs.RunExpirationSweep()
}

func TestRunExpirationSweep_PartialFailureStillClearsOverrides(t *testing.T) {
	repo := &jobsRepoStub{
		clearDayPassesErr: errors.New("deadlock detected"),
		overridesCleared:  1,
	}
	jobs := newTestJobs(repo, nil, nil, SweeperConfig{})

	// A day-pass clearing failure must not stop the override pass.
	jobs.RunExpirationSweep()
}

func TestRunExpiryWarnings_PublishesOnePerOverlay(t *testing.T) {
	repo := &jobsRepoStub{overlays: []domain.ExpiringOverlay{
		{AccountID: uuid.New(), ClerkUserID: "user_1", Source: domain.SourceDayPass, Tier: domain.TierElite, ExpiresAt: time.Now().Add(30 * time.Minute)},
		{AccountID: uuid.New(), ClerkUserID: "user_2", Source: domain.SourceReward, Tier: domain.TierPro, ExpiresAt: time.Now().Add(45 * time.Minute)},
	}}
	publisher := &publisherStub{}
	jobs := newTestJobs(repo, nil, publisher, SweeperConfig{ExpiryWarningWindow: time.Hour})

	jobs.RunExpiryWarnings()

	if len(publisher.published) != 2 {
		t.Fatalf("expected 2 warnings, got %d", len(publisher.published))
	}
	for _, key := range publisher.published {
		if key != RoutingKeyOverlayExpiring {
			t.Fatalf("expected routing key %q, got %q", RoutingKeyOverlayExpiring, key)
		}
	}
}

func TestRunExpiryWarnings_NoOverlaysPublishesNothing(t *testing.T) {
	publisher := &publisherStub{}
	jobs := newTestJobs(&jobsRepoStub{}, nil, publisher, SweeperConfig{})

	jobs.RunExpiryWarnings()

	if len(publisher.published) != 0 {
		t.Fatalf("expected no warnings, got %v", publisher.published)
	}
}

func TestRunWebhookReprocessing_AppliesParkedEvents(t *testing.T) {
	accountID := uuid.New()
	raw := []byte(`{"event_type":"RENEWAL","dedupe_key":"evt_late","account_aliases":["user_late"],"entitlement_ids":["pro_monthly"]}`)

	processorRepo := &processorRepoStub{accounts: map[string]uuid.UUID{"user_late": accountID}}
	processor := newTestProcessor(processorRepo, nil, 5)

	jobsRepo := &jobsRepoStub{unresolved: []domain.WebhookEvent{
		{ID: uuid.New(), DedupeKey: "evt_late", RawPayload: raw},
	}}
	jobs := newTestJobs(jobsRepo, processor, nil, SweeperConfig{
		ReprocessMaxAge:    48 * time.Hour,
		ReprocessBatchSize: 25,
	})

	jobs.RunWebhookReprocessing()

	if jobsRepo.listedMaxAge != 48*time.Hour || jobsRepo.listedBatchLimit != 25 {
		t.Fatalf("expected configured listing bounds, got maxAge=%v limit=%d", jobsRepo.listedMaxAge, jobsRepo.listedBatchLimit)
	}
	if !processorRepo.applyCalled || processorRepo.appliedAccountID != accountID {
		t.Fatal("expected parked event applied to the late-created account")
	}
}

func TestNewJobs_DefaultsZeroConfig(t *testing.T) {
	jobs := newTestJobs(&jobsRepoStub{}, nil, nil, SweeperConfig{})

	if jobs.config.ExpiryWarningWindow != time.Hour {
		t.Fatalf("expected 1h warning window default, got %v", jobs.config.ExpiryWarningWindow)
	}
	if jobs.config.ReprocessMaxAge != 7*24*time.Hour {
		t.Fatalf("expected 7d reprocess max age default, got %v", jobs.config.ReprocessMaxAge)
	}
	if jobs.config.ReprocessBatchSize != 100 {
		t.Fatalf("expected batch size 100 default, got %d", jobs.config.ReprocessBatchSize)
	}
}
