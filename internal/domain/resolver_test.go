package domain

import (
	"testing"
	"time"
)

func tierPtr(t Tier) *Tier           { return &t }
func timePtr(t time.Time) *time.Time { return &t }

func TestResolve_PriorityOrder(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(6 * time.Hour)
	past := now.Add(-1 * time.Hour)

	tests := []struct {
		name       string
		acct       *Account
		wantTier   Tier
		wantSource EntitlementSource
	}{
		{
			name:       "nil account falls back to free",
			acct:       nil,
			wantTier:   TierFree,
			wantSource: SourceDefault,
		},
		{
			name: "day pass beats everything",
			acct: &Account{
				BaseTier:             TierPro,
				BaseStatus:           BaseStatusActive,
				ProviderEntitlements: map[string]bool{"elite": true},
				DayPassTier:          tierPtr(TierElite),
				DayPassExpiresAt:     timePtr(future),
				OverrideTier:         tierPtr(TierElite),
				OverrideExpiresAt:    timePtr(future),
			},
			wantTier:   TierElite,
			wantSource: SourceDayPass,
		},
		{
			name: "override beats provider and base",
			acct: &Account{
				BaseTier:             TierPro,
				BaseStatus:           BaseStatusActive,
				ProviderEntitlements: map[string]bool{"pro": true},
				OverrideTier:         tierPtr(TierElite),
				OverrideExpiresAt:    timePtr(future),
			},
			wantTier:   TierElite,
			wantSource: SourceReward,
		},
		{
			name: "expired day pass falls through to unexpired override",
			acct: &Account{
				DayPassTier:       tierPtr(TierElite),
				DayPassExpiresAt:  timePtr(past),
				OverrideTier:      tierPtr(TierPro),
				OverrideExpiresAt: timePtr(future),
			},
			wantTier:   TierPro,
			wantSource: SourceReward,
		},
		{
			name: "elite provider flag outranks pro regardless of order",
			acct: &Account{
				ProviderEntitlements: map[string]bool{"pro": true, "elite": true},
			},
			wantTier:   TierElite,
			wantSource: SourceProvider,
		},
		{
			name: "pro provider flag wins over base tier",
			acct: &Account{
				BaseTier:             TierElite,
				BaseStatus:           BaseStatusActive,
				ProviderEntitlements: map[string]bool{"pro": true, "elite": false},
			},
			wantTier:   TierPro,
			wantSource: SourceProvider,
		},
		{
			name: "base tier honored while active",
			acct: &Account{
				BaseTier:   TierPro,
				BaseStatus: BaseStatusActive,
			},
			wantTier:   TierPro,
			wantSource: SourceLegacy,
		},
		{
			name: "base tier honored in grace period",
			acct: &Account{
				BaseTier:   TierElite,
				BaseStatus: BaseStatusGracePeriod,
			},
			wantTier:   TierElite,
			wantSource: SourceLegacy,
		},
		{
			name: "past_due does not keep paid access",
			acct: &Account{
				BaseTier:   TierPro,
				BaseStatus: BaseStatusPastDue,
			},
			wantTier:   TierFree,
			wantSource: SourceDefault,
		},
		{
			name: "cancelled base without provider flags resolves free",
			acct: &Account{
				BaseTier:   TierElite,
				BaseStatus: BaseStatusCancelled,
			},
			wantTier:   TierFree,
			wantSource: SourceDefault,
		},
		{
			name: "free base with active status still resolves default source",
			acct: &Account{
				BaseTier:   TierFree,
				BaseStatus: BaseStatusActive,
			},
			wantTier:   TierFree,
			wantSource: SourceDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.acct, now)
			if got.Tier != tt.wantTier {
				t.Fatalf("expected tier %q, got %q", tt.wantTier, got.Tier)
			}
			if got.Source != tt.wantSource {
				t.Fatalf("expected source %q, got %q", tt.wantSource, got.Source)
			}
		})
	}
}

func TestResolve_DayPassExpiryIsMonotonic(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	expiry := start.Add(24 * time.Hour)
	acct := &Account{
		BaseTier:         TierPro,
		BaseStatus:       BaseStatusActive,
		DayPassTier:      tierPtr(TierElite),
		DayPassExpiresAt: timePtr(expiry),
	}

	before := Resolve(acct, expiry.Add(-time.Minute))
	if before.Tier != TierElite || before.Source != SourceDayPass {
		t.Fatalf("expected active day pass before expiry, got %+v", before)
	}

	// Once expired the day pass never wins again, even before any sweep.
	for _, offset := range []time.Duration{0, time.Second, time.Hour, 48 * time.Hour} {
		got := Resolve(acct, expiry.Add(offset))
		if got.Tier != TierPro || got.Source != SourceLegacy {
			t.Fatalf("expected fall-through to base tier at expiry+%v, got %+v", offset, got)
		}
	}
}

func TestResolve_ExpirationWebhookDuringActiveDayPass(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	passExpiry := now.Add(12 * time.Hour)

	// Provider expired the subscription mid-pass: the pass is still honored,
	// and after it lapses the account falls through to free.
	acct := &Account{
		BaseTier:             TierPro,
		BaseStatus:           BaseStatusExpired,
		ProviderEntitlements: map[string]bool{},
		DayPassTier:          tierPtr(TierElite),
		DayPassExpiresAt:     timePtr(passExpiry),
	}

	during := Resolve(acct, now)
	if during.Tier != TierElite || during.Source != SourceDayPass {
		t.Fatalf("expected day pass to survive base expiration, got %+v", during)
	}

	after := Resolve(acct, passExpiry.Add(time.Minute))
	if after.Tier != TierFree || after.Source != SourceDefault {
		t.Fatalf("expected free after day pass lapsed, got %+v", after)
	}
}

func TestResolve_ReturnsOverlayExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(3 * time.Hour)
	acct := &Account{
		OverrideTier:      tierPtr(TierElite),
		OverrideExpiresAt: timePtr(expiry),
	}

	got := Resolve(acct, now)
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(expiry) {
		t.Fatalf("expected expiry %v, got %v", expiry, got.ExpiresAt)
	}

	// Provider and legacy sources carry no expiry.
	legacy := Resolve(&Account{BaseTier: TierPro, BaseStatus: BaseStatusActive}, now)
	if legacy.ExpiresAt != nil {
		t.Fatalf("expected nil expiry for legacy source, got %v", legacy.ExpiresAt)
	}
}
