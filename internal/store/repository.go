/**
 * @description
 * This file defines the repository interface consumed by the application layer
 * and the sentinel errors the storage layer can return. The concrete
 * PostgreSQL implementation lives in postgres_repository.go.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rreusch2/parleyapp-sub015/internal/domain"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientPoints   = errors.New("insufficient points")
	ErrUnknownCatalogEntry  = errors.New("unknown catalog entry")
	ErrWebhookEventNotFound = errors.New("webhook event not found")
)

// Repository is the storage contract for the entitlement service.
type Repository interface {
	// Accounts.
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByClerkUserID(ctx context.Context, clerkUserID string) (*domain.Account, error)
	// FindAccountIDByAlias resolves a provider-supplied alias (internal UUID
	// or Clerk user id) to an internal account id.
	FindAccountIDByAlias(ctx context.Context, alias string) (uuid.UUID, error)
	SetDayPass(ctx context.Context, accountID uuid.UUID, tier domain.Tier, expiresAt time.Time) (*domain.Account, error)

	// Webhook events.
	// InsertWebhookEvent persists the raw event keyed by (source, dedupe_key).
	// When a row with that key already exists it returns the existing row and
	// inserted=false; callers short-circuit if the existing row is processed.
	InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) (stored *domain.WebhookEvent, inserted bool, err error)
	// MarkWebhookEventUnresolved parks an event for a later reprocessing run,
	// incrementing its retry counter. Returns the new retry count.
	MarkWebhookEventUnresolved(ctx context.Context, eventID uuid.UUID, reason string) (int, error)
	// MarkWebhookEventProcessed stamps processed_at without an account
	// mutation (unhandled event types).
	MarkWebhookEventProcessed(ctx context.Context, eventID uuid.UUID, note *string) error
	// ApplyProviderTransition applies the account mutation and stamps the
	// event processed in one transaction; the event is never marked processed
	// if the account update does not commit.
	ApplyProviderTransition(ctx context.Context, eventID, accountID uuid.UUID, mutation domain.ProviderMutation) error
	ListUnresolvedWebhookEvents(ctx context.Context, maxAge time.Duration, limit int) ([]domain.WebhookEvent, error)

	// Reward catalog and claims.
	ListActiveCatalogEntries(ctx context.Context) ([]domain.RewardCatalogEntry, error)
	// RedeemReward atomically debits the points balance, supersedes any prior
	// active claim, inserts the new claim, and installs the override (or
	// upgrades the base tier for permanent rewards).
	RedeemReward(ctx context.Context, accountID, catalogEntryID uuid.UUID, now time.Time) (*domain.RewardClaim, error)

	// Expiration sweep.
	ClearExpiredDayPasses(ctx context.Context, now time.Time) (int64, error)
	ClearExpiredOverrides(ctx context.Context, now time.Time) (int64, error)
	// ListExpiringOverlays returns overlays expiring within the window that
	// have not been warned about yet, and marks them warned.
	ListExpiringOverlays(ctx context.Context, now time.Time, window time.Duration) ([]domain.ExpiringOverlay, error)
}
