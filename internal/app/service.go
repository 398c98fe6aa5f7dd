/**
 * @description
 * This file contains the core business logic for entitlement reads, day pass
 * purchases, and reward redemption. The Service layer orchestrates data from
 * the repository and applies the resolver's priority rules.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rreusch2/parleyapp-sub015/internal/domain"
	"github.com/rreusch2/parleyapp-sub015/internal/store"
)

// ErrInvalidTier is returned when a day pass purchase names an unknown or
// non-purchasable tier.
var ErrInvalidTier = errors.New("invalid tier")

// EventPublisher is the interface implemented by the RabbitMQ producer for the
// audit/notification hook.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// AuditExchange is the exchange all entitlement audit events are published to.
const AuditExchange = "entitlement_events"

// Routing keys for the audit/notification hook.
const (
	RoutingKeyClaimRedeemed     = "entitlement.claim.redeemed"
	RoutingKeyOverlayExpiring   = "entitlement.overlay.expiring"
	RoutingKeyWebhookUnresolved = "entitlement.webhook.unresolved"
)

// Service provides the business logic for entitlement management.
type Service struct {
	repo            store.Repository
	publisher       EventPublisher
	logger          *slog.Logger
	dayPassDuration time.Duration
}

// NewService creates a new entitlement service.
func NewService(repo store.Repository, publisher EventPublisher, logger *slog.Logger, dayPassDuration time.Duration) *Service {
	if dayPassDuration <= 0 {
		dayPassDuration = 24 * time.Hour
	}
	return &Service{
		repo:            repo,
		publisher:       publisher,
		logger:          logger,
		dayPassDuration: dayPassDuration,
	}
}

// GetEffectiveTier resolves the caller's effective entitlement. Access-control
// reads must degrade gracefully rather than fail the caller, so any lookup
// failure resolves to the free tier.
func (s *Service) GetEffectiveTier(ctx context.Context, clerkUserID string) domain.Entitlement {
	acct, err := s.repo.FindAccountByClerkUserID(ctx, clerkUserID)
	if err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			s.logger.Error("entitlement lookup failed, defaulting to free", "clerk_user_id", clerkUserID, "error", err)
		}
		return domain.Entitlement{Tier: domain.TierFree, Source: domain.SourceDefault}
	}
	return domain.Resolve(acct, time.Now())
}

// GrantDayPass installs a day pass on the caller's account and returns the new
// effective entitlement. Payment confirmation happens upstream; this is the
// fulfillment step.
func (s *Service) GrantDayPass(ctx context.Context, clerkUserID string, tier domain.Tier) (*domain.Entitlement, error) {
	if !tier.IsValid() || tier == domain.TierFree {
		return nil, ErrInvalidTier
	}

	acct, err := s.repo.FindAccountByClerkUserID(ctx, clerkUserID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updated, err := s.repo.SetDayPass(ctx, acct.ID, tier, now.Add(s.dayPassDuration))
	if err != nil {
		return nil, err
	}

	entitlement := domain.Resolve(updated, now)
	return &entitlement, nil
}

// ListRewards returns the active reward catalog.
func (s *Service) ListRewards(ctx context.Context) ([]domain.RewardCatalogEntry, error) {
	return s.repo.ListActiveCatalogEntries(ctx)
}

// Redeem exchanges points for a reward claim. The debit, claim insert, and
// override install are one atomic unit in the repository; the new override is
// visible to the very next resolve call.
func (s *Service) Redeem(ctx context.Context, clerkUserID string, catalogEntryID uuid.UUID) (*domain.RewardClaim, error) {
	acct, err := s.repo.FindAccountByClerkUserID(ctx, clerkUserID)
	if err != nil {
		return nil, err
	}

	claim, err := s.repo.RedeemReward(ctx, acct.ID, catalogEntryID, time.Now())
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, AuditExchange, RoutingKeyClaimRedeemed, claim); err != nil {
			// Audit publishing is best-effort; the redemption already committed.
			s.logger.Warn("failed to publish claim redeemed event", "claim_id", claim.ID, "error", err)
		}
	}

	return claim, nil
}
