/**
 * @description
 * Domain models for payment-provider webhook ingestion. Every received
 * notification is persisted as a WebhookEvent before any business logic runs;
 * the (source, dedupe_key) unique constraint in the database is the sole
 * deduplication mechanism under at-least-once delivery.
 */
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Provider event types, matching the payment provider's webhook vocabulary.
const (
	EventInitialPurchase = "INITIAL_PURCHASE"
	EventRenewal         = "RENEWAL"
	EventProductChange   = "PRODUCT_CHANGE"
	EventCancellation    = "CANCELLATION"
	EventExpiration      = "EXPIRATION"
	EventBillingIssue    = "BILLING_ISSUE"
	EventRefund          = "REFUND"
)

// ProviderEnvelope is the decoded webhook payload. Signature verification and
// decoding of the raw signed body happen at the API boundary; the pipeline
// trusts this envelope.
type ProviderEnvelope struct {
	EventType      string     `json:"event_type"`
	DedupeKey      string     `json:"dedupe_key"`
	AccountAliases []string   `json:"account_aliases"`
	EntitlementIDs []string   `json:"entitlement_ids"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// WebhookEvent is the persisted record of one received notification.
type WebhookEvent struct {
	ID                uuid.UUID       `json:"id"`
	Source            string          `json:"source"`
	EventType         string          `json:"event_type"`
	RawPayload        json.RawMessage `json:"raw_payload"`
	DedupeKey         string          `json:"dedupe_key"`
	ResolvedAccountID *uuid.UUID      `json:"resolved_account_id,omitempty"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty"`
	ProcessingError   *string         `json:"processing_error,omitempty"`
	Retries           int             `json:"retries"`
	ReceivedAt        time.Time       `json:"received_at"`
}

// ProviderMutation is the account-state change derived from one webhook event.
// SetEntitlements distinguishes "replace the entitlement map" from "leave it
// untouched" (a nil map with SetEntitlements=true clears all flags).
type ProviderMutation struct {
	SetEntitlements bool
	Entitlements    map[string]bool
	BaseStatus      BaseStatus
}
