/**
 * @description
 * Domain models for the points reward catalog and reward claims. A claim is
 * the audit record of one redemption; it is never deleted, only deactivated
 * when it expires or a newer claim supersedes it.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// RewardCatalogEntry is an immutable catalog row describing a redeemable reward.
type RewardCatalogEntry struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	PointsCost int       `json:"points_cost"`
	GrantsTier Tier      `json:"grants_tier"`
	// DurationMinutes is nil for permanent rewards, which upgrade the base
	// tier instead of creating a time-boxed override.
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsPermanent reports whether redeeming this entry grants the tier outright.
func (e *RewardCatalogEntry) IsPermanent() bool {
	return e.DurationMinutes == nil
}

// RewardClaim records one redemption of a catalog entry by an account.
type RewardClaim struct {
	ID             uuid.UUID  `json:"id"`
	AccountID      uuid.UUID  `json:"account_id"`
	CatalogEntryID uuid.UUID  `json:"catalog_entry_id"`
	PointsSpent    int        `json:"points_spent"`
	ClaimedAt      time.Time  `json:"claimed_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	// OriginalTierSnapshot is the effective tier at claim time, kept for audit.
	// Restoration itself is implicit: clearing the override lets Resolve fall
	// through to the next source.
	OriginalTierSnapshot Tier `json:"original_tier_snapshot"`
}
