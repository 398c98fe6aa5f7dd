/**
 * @description
 * This file implements the entitlement resolver: a pure function that collapses
 * an account's overlapping entitlement sources into the single effective tier.
 * It performs no I/O so the same function serves read-time display and
 * write-time validation (e.g. snapshotting the pre-override tier during a
 * reward redemption).
 */
package domain

import "time"

// EntitlementSource names which source won the priority resolution.
type EntitlementSource string

const (
	SourceDayPass  EntitlementSource = "daypass"
	SourceReward   EntitlementSource = "reward"
	SourceProvider EntitlementSource = "provider"
	SourceLegacy   EntitlementSource = "legacy"
	SourceDefault  EntitlementSource = "default"
)

// Entitlement is the resolved effective access level for an account.
type Entitlement struct {
	Tier      Tier              `json:"tier"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Source    EntitlementSource `json:"source"`
}

// Resolve computes the effective entitlement for an account at the given
// instant. Priority, highest first: unexpired day pass, unexpired reward
// override, provider entitlement flags (elite outranks pro), base tier while
// its status honors it, free. An expired overlay is ignored even before the
// sweeper has cleared it, so repeated calls are monotonic across an expiry.
func Resolve(acct *Account, now time.Time) Entitlement {
	if acct == nil {
		return Entitlement{Tier: TierFree, Source: SourceDefault}
	}

	if acct.DayPassTier != nil && acct.DayPassExpiresAt != nil && acct.DayPassExpiresAt.After(now) {
		expires := *acct.DayPassExpiresAt
		return Entitlement{Tier: *acct.DayPassTier, ExpiresAt: &expires, Source: SourceDayPass}
	}

	if acct.OverrideTier != nil && acct.OverrideExpiresAt != nil && acct.OverrideExpiresAt.After(now) {
		expires := *acct.OverrideExpiresAt
		return Entitlement{Tier: *acct.OverrideTier, ExpiresAt: &expires, Source: SourceReward}
	}

	// Provider flags carry no expiry of their own; the provider is the source
	// of truth for "currently active".
	if acct.ProviderEntitlements[string(TierElite)] {
		return Entitlement{Tier: TierElite, Source: SourceProvider}
	}
	if acct.ProviderEntitlements[string(TierPro)] {
		return Entitlement{Tier: TierPro, Source: SourceProvider}
	}

	if acct.BaseStatus.HonorsBaseTier() && acct.BaseTier != "" && acct.BaseTier != TierFree {
		return Entitlement{Tier: acct.BaseTier, Source: SourceLegacy}
	}

	return Entitlement{Tier: TierFree, Source: SourceDefault}
}
