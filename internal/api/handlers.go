/**
 * @description
 * This file contains the HTTP handler functions for the entitlement service.
 * Handlers parse incoming requests, call the service layer, and map domain
 * errors onto HTTP status codes. The provider webhook handler additionally
 * verifies the HMAC signature of the raw body before decoding the envelope.
 */
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rreusch2/parleyapp-sub015/internal/app"
	"github.com/rreusch2/parleyapp-sub015/internal/domain"
	"github.com/rreusch2/parleyapp-sub015/internal/store"
)

const redemptionRateLimitScope = "redeem"

// Handler holds the application services that handlers interact with.
type Handler struct {
	service           *app.Service
	processor         *app.WebhookProcessor
	jobs              *app.Jobs
	limiter           *app.RedisRateLimiter
	logger            *slog.Logger
	webhookSecret     string
	redeemLimitPerMin int
}

// NewHandler creates a new Handler.
func NewHandler(service *app.Service, processor *app.WebhookProcessor, jobs *app.Jobs, limiter *app.RedisRateLimiter, logger *slog.Logger, webhookSecret string, redeemLimitPerMin int) *Handler {
	return &Handler{
		service:           service,
		processor:         processor,
		jobs:              jobs,
		limiter:           limiter,
		logger:            logger,
		webhookSecret:     webhookSecret,
		redeemLimitPerMin: redeemLimitPerMin,
	}
}

// handleGetEntitlement resolves the caller's effective tier. This endpoint is
// the single source of truth for access control, so it always answers with at
// least the free tier.
func (h *Handler) handleGetEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	entitlement := h.service.GetEffectiveTier(r.Context(), userID)
	respondWithJSON(w, http.StatusOK, entitlement)
}

// handleListRewards returns the active reward catalog.
func (h *Handler) handleListRewards(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListRewards(r.Context())
	if err != nil {
		h.logger.Error("failed to list rewards", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []domain.RewardCatalogEntry{}
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// handleRedeem exchanges points for a reward claim.
func (h *Handler) handleRedeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if h.limiter != nil && h.redeemLimitPerMin > 0 {
		count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), redemptionRateLimitScope, userID, h.redeemLimitPerMin, time.Minute)
		if err != nil {
			// Redis being down must not block redemptions.
			h.logger.Warn("redemption rate limiter unavailable", "error", err)
		} else if count > h.redeemLimitPerMin {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			http.Error(w, "Too many redemption attempts", http.StatusTooManyRequests)
			return
		}
	}

	var req struct {
		CatalogEntryID string `json:"catalog_entry_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	entryID, err := uuid.Parse(req.CatalogEntryID)
	if err != nil {
		http.Error(w, "Invalid catalog entry id", http.StatusBadRequest)
		return
	}

	claim, err := h.service.Redeem(r.Context(), userID, entryID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientPoints):
			http.Error(w, "Insufficient points", http.StatusConflict)
		case errors.Is(err, store.ErrUnknownCatalogEntry):
			http.Error(w, "Unknown reward", http.StatusNotFound)
		case errors.Is(err, store.ErrAccountNotFound):
			http.Error(w, "Account not found", http.StatusNotFound)
		default:
			h.logger.Error("redemption failed", "clerk_user_id", userID, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, claim)
}

// handleBuyDayPass installs a day pass on the caller's account.
func (h *Handler) handleBuyDayPass(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetClerkUserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entitlement, err := h.service.GrantDayPass(r.Context(), userID, domain.Tier(req.Tier))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidTier):
			http.Error(w, "Invalid tier", http.StatusBadRequest)
		case errors.Is(err, store.ErrAccountNotFound):
			http.Error(w, "Account not found", http.StatusNotFound)
		default:
			h.logger.Error("day pass grant failed", "clerk_user_id", userID, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, entitlement)
}

// handleProviderWebhook verifies the signature of an incoming provider
// notification, decodes the envelope, and runs the ingestion pipeline.
// Duplicates and parked events both acknowledge so the provider stops
// retrying; retries of parked events are driven internally.
func (h *Handler) handleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if !h.isValidSignature(r.Header.Get("X-Provider-Signature"), body) {
		h.logger.Warn("webhook rejected, invalid signature", "remote_addr", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var env domain.ProviderEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if err := h.processor.ProcessEnvelope(r.Context(), env); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidEnvelope):
			http.Error(w, "Invalid webhook envelope", http.StatusBadRequest)
		case errors.Is(err, app.ErrUnresolvedAccount):
			// Parked for internal reprocessing; acknowledge the delivery.
			respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "parked"})
		default:
			h.logger.Error("webhook processing failed", "event_type", env.EventType, "dedupe_key", env.DedupeKey, "error", err)
			http.Error(w, "Internal server error during event processing", http.StatusInternalServerError)
		}
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// handleSweep triggers the expiration sweep on demand. The sweep is idempotent
// and safe to overlap with the scheduled run.
func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	h.jobs.RunExpirationSweep()
	h.jobs.RunExpiryWarnings()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReprocessWebhooks triggers a reprocessing pass over parked webhook
// events.
func (h *Handler) handleReprocessWebhooks(w http.ResponseWriter, r *http.Request) {
	h.jobs.RunWebhookReprocessing()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// isValidSignature checks the HMAC-SHA256 hex signature of the webhook body.
func (h *Handler) isValidSignature(signatureHeader string, body []byte) bool {
	if h.webhookSecret == "" {
		h.logger.Warn("PROVIDER_WEBHOOK_SECRET is not set, skipping signature validation")
		return true
	}

	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return false
	}
	header = strings.TrimPrefix(strings.ToLower(header), "sha256=")

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, expected)
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
