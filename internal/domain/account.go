/**
 * @description
 * This file defines the core domain models for user accounts and their
 * entitlement sources. An account carries a base tier (owned via the payment
 * provider relationship), the provider's latest entitlement flags, and up to
 * two time-boxed overlays: a purchased day pass and a reward-claim override.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tier is an access level granted to an account.
type Tier string

const (
	TierFree  Tier = "free"
	TierPro   Tier = "pro"
	TierElite Tier = "elite"
)

// IsValid reports whether t is one of the known tiers.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPro, TierElite:
		return true
	}
	return false
}

// BaseStatus describes whether the base tier is currently honored.
type BaseStatus string

const (
	BaseStatusActive      BaseStatus = "active"
	BaseStatusGracePeriod BaseStatus = "grace_period"
	BaseStatusPastDue     BaseStatus = "past_due"
	BaseStatusCancelled   BaseStatus = "cancelled"
	BaseStatusExpired     BaseStatus = "expired"
	BaseStatusRefunded    BaseStatus = "refunded"
)

// HonorsBaseTier reports whether the base tier counts toward the effective
// entitlement. Only active and grace_period qualify; past_due deliberately
// does not keep paid access.
func (s BaseStatus) HonorsBaseTier() bool {
	return s == BaseStatusActive || s == BaseStatusGracePeriod
}

// Account represents one user's entitlement state in the database.
type Account struct {
	ID                   uuid.UUID       `json:"id"`
	ClerkUserID          string          `json:"clerk_user_id"`
	BaseTier             Tier            `json:"base_tier"`
	BaseStatus           BaseStatus      `json:"base_status"`
	ProviderEntitlements map[string]bool `json:"provider_entitlements"`
	DayPassTier          *Tier           `json:"day_pass_tier,omitempty"`
	DayPassExpiresAt     *time.Time      `json:"day_pass_expires_at,omitempty"`
	OverrideTier         *Tier           `json:"override_tier,omitempty"`
	OverrideExpiresAt    *time.Time      `json:"override_expires_at,omitempty"`
	OverrideClaimID      *uuid.UUID      `json:"override_claim_id,omitempty"`
	PointsBalance        int             `json:"points_balance"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// ExpiringOverlay identifies one overlay that is inside the expiry-warning
// window, for the notification hook.
type ExpiringOverlay struct {
	AccountID   uuid.UUID         `json:"account_id"`
	ClerkUserID string            `json:"clerk_user_id"`
	Source      EntitlementSource `json:"source"`
	Tier        Tier              `json:"tier"`
	ExpiresAt   time.Time         `json:"expires_at"`
}
