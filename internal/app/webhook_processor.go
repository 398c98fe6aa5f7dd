/**
 * @description
 * This file implements the webhook ingestion pipeline for payment-provider
 * notifications. The contract, in order:
 *
 *  1. Persist-first: the raw event is stored keyed by (source, dedupe_key)
 *     before any business logic runs. A duplicate of an already processed
 *     event short-circuits to success, which tolerates at-least-once delivery.
 *  2. Identity resolution: the provider's account aliases are matched against
 *     internal accounts; the first alias that resolves wins. Events that
 *     resolve to no account are parked with an incremented retry counter for
 *     the reprocessing job (the account may not exist yet at delivery time).
 *  3. State transition dispatched by event type, written as last-writer-wins
 *     field updates (the provider is the source of truth for its own state).
 *  4. The account mutation and the processed_at stamp commit atomically.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/rreusch2/parleyapp-sub015/internal/domain"
	"github.com/rreusch2/parleyapp-sub015/internal/store"
)

var (
	// ErrUnresolvedAccount marks an event parked for later reprocessing; it is
	// not a hard failure.
	ErrUnresolvedAccount = errors.New("webhook event could not be resolved to an account")
	// ErrInvalidEnvelope marks a payload missing its event type or dedupe key.
	ErrInvalidEnvelope = errors.New("invalid webhook envelope")
)

// WebhookProcessor ingests decoded provider envelopes.
type WebhookProcessor struct {
	repo       store.Repository
	publisher  EventPublisher
	logger     *slog.Logger
	source     string
	alertAfter int
}

// NewWebhookProcessor creates a processor for one provider source. alertAfter
// is the retry count at which an unresolved event triggers the manual
// follow-up notification.
func NewWebhookProcessor(repo store.Repository, publisher EventPublisher, logger *slog.Logger, source string, alertAfter int) *WebhookProcessor {
	if alertAfter <= 0 {
		alertAfter = 5
	}
	return &WebhookProcessor{
		repo:       repo,
		publisher:  publisher,
		logger:     logger,
		source:     source,
		alertAfter: alertAfter,
	}
}

// ProcessEnvelope runs the full ingestion pipeline for one decoded envelope.
func (p *WebhookProcessor) ProcessEnvelope(ctx context.Context, env domain.ProviderEnvelope) error {
	if strings.TrimSpace(env.EventType) == "" || strings.TrimSpace(env.DedupeKey) == "" {
		return ErrInvalidEnvelope
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	stored, inserted, err := p.repo.InsertWebhookEvent(ctx, &domain.WebhookEvent{
		Source:     p.source,
		EventType:  env.EventType,
		RawPayload: raw,
		DedupeKey:  env.DedupeKey,
	})
	if err != nil {
		return err
	}
	if !inserted && stored.ProcessedAt != nil {
		// Idempotent short-circuit for a duplicate delivery.
		p.logger.Info("duplicate webhook delivery ignored",
			"source", p.source, "dedupe_key", env.DedupeKey, "event_type", env.EventType)
		return nil
	}

	return p.apply(ctx, stored.ID, env)
}

// ReprocessUnresolved re-runs parked events, typically after the missing
// account has been created. Returns how many events were applied.
func (p *WebhookProcessor) ReprocessUnresolved(ctx context.Context, events []domain.WebhookEvent) int {
	applied := 0
	for _, evt := range events {
		var env domain.ProviderEnvelope
		if err := json.Unmarshal(evt.RawPayload, &env); err != nil {
			p.logger.Error("stored webhook payload is not a valid envelope", "event_id", evt.ID, "error", err)
			continue
		}
		if err := p.apply(ctx, evt.ID, env); err != nil {
			if !errors.Is(err, ErrUnresolvedAccount) {
				p.logger.Error("webhook reprocessing failed", "event_id", evt.ID, "error", err)
			}
			continue
		}
		applied++
	}
	return applied
}

func (p *WebhookProcessor) apply(ctx context.Context, eventID uuid.UUID, env domain.ProviderEnvelope) error {
	accountID, err := p.resolveAccount(ctx, env.AccountAliases)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return p.parkUnresolved(ctx, eventID, env)
		}
		return err
	}

	mutation, handled := transitionFor(env)
	if !handled {
		note := fmt.Sprintf("unhandled event type %q", env.EventType)
		p.logger.Info("webhook event type carries no state transition",
			"event_id", eventID, "event_type", env.EventType)
		return p.repo.MarkWebhookEventProcessed(ctx, eventID, &note)
	}

	return p.repo.ApplyProviderTransition(ctx, eventID, accountID, mutation)
}

// resolveAccount maps provider aliases to an internal account id; the first
// alias that matches a known identifier wins.
func (p *WebhookProcessor) resolveAccount(ctx context.Context, aliases []string) (uuid.UUID, error) {
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		id, err := p.repo.FindAccountIDByAlias(ctx, alias)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrAccountNotFound) {
			return uuid.Nil, err
		}
	}
	return uuid.Nil, store.ErrAccountNotFound
}

func (p *WebhookProcessor) parkUnresolved(ctx context.Context, eventID uuid.UUID, env domain.ProviderEnvelope) error {
	retries, err := p.repo.MarkWebhookEventUnresolved(ctx, eventID, "account not found")
	if err != nil {
		if errors.Is(err, store.ErrWebhookEventNotFound) {
			// A concurrent delivery resolved and processed the event already.
			return nil
		}
		return err
	}

	p.logger.Warn("webhook event parked, no matching account",
		"event_id", eventID, "dedupe_key", env.DedupeKey, "retries", retries)

	if retries >= p.alertAfter && p.publisher != nil {
		alert := map[string]interface{}{
			"event_id":   eventID,
			"source":     p.source,
			"event_type": env.EventType,
			"dedupe_key": env.DedupeKey,
			"aliases":    env.AccountAliases,
			"retries":    retries,
		}
		if err := p.publisher.Publish(ctx, AuditExchange, RoutingKeyWebhookUnresolved, alert); err != nil {
			p.logger.Warn("failed to publish unresolved webhook alert", "event_id", eventID, "error", err)
		}
	}

	return ErrUnresolvedAccount
}

// transitionFor maps a provider event type to the account mutation it implies.
// The second return value is false for event types that carry no transition.
func transitionFor(env domain.ProviderEnvelope) (domain.ProviderMutation, bool) {
	switch env.EventType {
	case domain.EventInitialPurchase, domain.EventRenewal, domain.EventProductChange:
		return domain.ProviderMutation{
			SetEntitlements: true,
			Entitlements:    entitlementFlags(env.EntitlementIDs),
			BaseStatus:      domain.BaseStatusActive,
		}, true
	case domain.EventCancellation:
		// Auto-renew turned off; access is honored until the provider emits
		// EXPIRATION, so entitlement flags stay untouched.
		return domain.ProviderMutation{BaseStatus: domain.BaseStatusCancelled}, true
	case domain.EventExpiration:
		return domain.ProviderMutation{
			SetEntitlements: true,
			BaseStatus:      domain.BaseStatusExpired,
		}, true
	case domain.EventBillingIssue:
		return domain.ProviderMutation{BaseStatus: domain.BaseStatusPastDue}, true
	case domain.EventRefund:
		return domain.ProviderMutation{
			SetEntitlements: true,
			BaseStatus:      domain.BaseStatusRefunded,
		}, true
	}
	return domain.ProviderMutation{}, false
}

// entitlementFlags normalizes provider product identifiers onto the two
// entitlement keys. Exactly one of elite/pro ends up true for a purchase of a
// paid product; elite product keys take precedence over pro ones.
func entitlementFlags(entitlementIDs []string) map[string]bool {
	flags := map[string]bool{
		string(domain.TierElite): false,
		string(domain.TierPro):   false,
	}
	for _, id := range entitlementIDs {
		normalized := strings.ToLower(strings.TrimSpace(id))
		switch {
		case strings.Contains(normalized, string(domain.TierElite)):
			flags[string(domain.TierElite)] = true
		case strings.Contains(normalized, string(domain.TierPro)):
			flags[string(domain.TierPro)] = true
		}
	}
	if flags[string(domain.TierElite)] {
		flags[string(domain.TierPro)] = false
	}
	return flags
}
