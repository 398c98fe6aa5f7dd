/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. All SQL for accounts, the reward catalog, reward claims, and
 * webhook events lives here.
 *
 * Concurrency notes:
 * - The account row is the single point of mutation contention. Redemption
 *   locks it with FOR UPDATE and debits points with a guarded conditional
 *   update so a concurrent redemption can never overdraw the balance.
 * - The (source, dedupe_key) unique constraint on webhook_events is the sole
 *   deduplication mechanism; it survives concurrent duplicate deliveries
 *   because it is enforced by the database, not application code.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Domain models used for data transfer.
 */
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rreusch2/parleyapp-sub015/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `
	id, clerk_user_id, base_tier, base_status, provider_entitlements,
	day_pass_tier, day_pass_expires_at,
	override_tier, override_expires_at, override_claim_id,
	points_balance, created_at, updated_at
`

// rowScanner covers pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		acct         domain.Account
		entitlements []byte
		dayPassTier  *string
		overrideTier *string
	)
	err := row.Scan(
		&acct.ID,
		&acct.ClerkUserID,
		&acct.BaseTier,
		&acct.BaseStatus,
		&entitlements,
		&dayPassTier,
		&acct.DayPassExpiresAt,
		&overrideTier,
		&acct.OverrideExpiresAt,
		&acct.OverrideClaimID,
		&acct.PointsBalance,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(entitlements) > 0 {
		if err := json.Unmarshal(entitlements, &acct.ProviderEntitlements); err != nil {
			return nil, err
		}
	}
	if dayPassTier != nil {
		t := domain.Tier(*dayPassTier)
		acct.DayPassTier = &t
	}
	if overrideTier != nil {
		t := domain.Tier(*overrideTier)
		acct.OverrideTier = &t
	}
	return &acct, nil
}

// FindAccountByID retrieves an account by its internal id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	acct, err := scanAccount(r.db.QueryRow(ctx, query, accountID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return acct, nil
}

// FindAccountByClerkUserID retrieves an account by its Clerk user id.
func (r *PostgresRepository) FindAccountByClerkUserID(ctx context.Context, clerkUserID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE clerk_user_id = $1`
	acct, err := scanAccount(r.db.QueryRow(ctx, query, clerkUserID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return acct, nil
}

// FindAccountIDByAlias resolves a provider-supplied alias to an internal
// account id. An alias that parses as a UUID is matched against the primary
// key; anything else is treated as a Clerk user id.
func (r *PostgresRepository) FindAccountIDByAlias(ctx context.Context, alias string) (uuid.UUID, error) {
	var id uuid.UUID
	var err error
	if parsed, parseErr := uuid.Parse(alias); parseErr == nil {
		err = r.db.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1`, parsed).Scan(&id)
	} else {
		err = r.db.QueryRow(ctx, `SELECT id FROM accounts WHERE clerk_user_id = $1`, alias).Scan(&id)
	}
	if err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, ErrAccountNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// SetDayPass installs or replaces the account's day pass and returns the
// updated account. Re-purchasing overwrites the previous pass.
func (r *PostgresRepository) SetDayPass(ctx context.Context, accountID uuid.UUID, tier domain.Tier, expiresAt time.Time) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET day_pass_tier = $2,
		    day_pass_expires_at = $3,
		    day_pass_warned_at = NULL,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns
	acct, err := scanAccount(r.db.QueryRow(ctx, query, accountID, string(tier), expiresAt))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return acct, nil
}

// InsertWebhookEvent persists the raw event before any business logic runs.
// On a dedupe-key conflict it returns the already stored row with
// inserted=false so the caller can short-circuit duplicates.
func (r *PostgresRepository) InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	insert := `
		INSERT INTO webhook_events (id, source, event_type, raw_payload, dedupe_key, retries, received_at)
		VALUES ($1, $2, $3, $4, $5, 0, NOW())
		ON CONFLICT (source, dedupe_key) DO NOTHING
		RETURNING received_at
	`
	id := event.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var receivedAt time.Time
	err := r.db.QueryRow(ctx, insert, id, event.Source, event.EventType, event.RawPayload, event.DedupeKey).Scan(&receivedAt)
	if err == nil {
		stored := *event
		stored.ID = id
		stored.ReceivedAt = receivedAt
		return &stored, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, err
	}

	// Duplicate delivery: return the existing row.
	existing, err := r.findWebhookEventByDedupeKey(ctx, event.Source, event.DedupeKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

const webhookEventColumns = `
	id, source, event_type, raw_payload, dedupe_key,
	resolved_account_id, processed_at, processing_error, retries, received_at
`

func scanWebhookEvent(row rowScanner) (*domain.WebhookEvent, error) {
	var evt domain.WebhookEvent
	err := row.Scan(
		&evt.ID,
		&evt.Source,
		&evt.EventType,
		&evt.RawPayload,
		&evt.DedupeKey,
		&evt.ResolvedAccountID,
		&evt.ProcessedAt,
		&evt.ProcessingError,
		&evt.Retries,
		&evt.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

func (r *PostgresRepository) findWebhookEventByDedupeKey(ctx context.Context, source, dedupeKey string) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE source = $1 AND dedupe_key = $2`
	evt, err := scanWebhookEvent(r.db.QueryRow(ctx, query, source, dedupeKey))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWebhookEventNotFound
		}
		return nil, err
	}
	return evt, nil
}

// MarkWebhookEventUnresolved parks an event for a later reprocessing run.
func (r *PostgresRepository) MarkWebhookEventUnresolved(ctx context.Context, eventID uuid.UUID, reason string) (int, error) {
	query := `
		UPDATE webhook_events
		SET processing_error = $2, retries = retries + 1
		WHERE id = $1 AND processed_at IS NULL
		RETURNING retries
	`
	var retries int
	err := r.db.QueryRow(ctx, query, eventID, reason).Scan(&retries)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrWebhookEventNotFound
		}
		return 0, err
	}
	return retries, nil
}

// MarkWebhookEventProcessed stamps processed_at without an account mutation.
// Used for event types that carry no state transition.
func (r *PostgresRepository) MarkWebhookEventProcessed(ctx context.Context, eventID uuid.UUID, note *string) error {
	query := `
		UPDATE webhook_events
		SET processed_at = NOW(), processing_error = $2
		WHERE id = $1 AND processed_at IS NULL
	`
	_, err := r.db.Exec(ctx, query, eventID, note)
	return err
}

// ApplyProviderTransition applies the account mutation and marks the event
// processed in one transaction. If another worker already processed the event
// (concurrent duplicate delivery) the transaction rolls back and the call is a
// no-op.
func (r *PostgresRepository) ApplyProviderTransition(ctx context.Context, eventID, accountID uuid.UUID, mutation domain.ProviderMutation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Claim the event first; FOR UPDATE serializes concurrent workers on the
	// same dedupe key so exactly one of them applies the transition.
	var processedAt *time.Time
	err = tx.QueryRow(ctx,
		`SELECT processed_at FROM webhook_events WHERE id = $1 FOR UPDATE`, eventID,
	).Scan(&processedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrWebhookEventNotFound
		}
		return err
	}
	if processedAt != nil {
		// Already applied by a concurrent delivery.
		return nil
	}

	if mutation.SetEntitlements {
		entitlements := mutation.Entitlements
		if entitlements == nil {
			entitlements = map[string]bool{}
		}
		payload, err := json.Marshal(entitlements)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE accounts
			SET provider_entitlements = $2, base_status = $3, updated_at = NOW()
			WHERE id = $1
		`, accountID, payload, string(mutation.BaseStatus)); err != nil {
			return err
		}
	} else if mutation.BaseStatus != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE accounts
			SET base_status = $2, updated_at = NOW()
			WHERE id = $1
		`, accountID, string(mutation.BaseStatus)); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE webhook_events
		SET processed_at = NOW(), resolved_account_id = $2, processing_error = NULL
		WHERE id = $1
	`, eventID, accountID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListUnresolvedWebhookEvents returns parked events younger than maxAge for
// the reprocessing job, oldest first.
func (r *PostgresRepository) ListUnresolvedWebhookEvents(ctx context.Context, maxAge time.Duration, limit int) ([]domain.WebhookEvent, error) {
	query := `
		SELECT ` + webhookEventColumns + `
		FROM webhook_events
		WHERE processed_at IS NULL
		  AND received_at > NOW() - ($1 * INTERVAL '1 second')
		ORDER BY received_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, int(maxAge.Seconds()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		evt, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *evt)
	}
	return events, rows.Err()
}

// ListActiveCatalogEntries returns the redeemable reward catalog.
func (r *PostgresRepository) ListActiveCatalogEntries(ctx context.Context) ([]domain.RewardCatalogEntry, error) {
	query := `
		SELECT id, title, points_cost, grants_tier, duration_minutes, active, created_at
		FROM reward_catalog
		WHERE active = TRUE
		ORDER BY points_cost ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.RewardCatalogEntry
	for rows.Next() {
		var entry domain.RewardCatalogEntry
		if err := rows.Scan(
			&entry.ID, &entry.Title, &entry.PointsCost, &entry.GrantsTier,
			&entry.DurationMinutes, &entry.Active, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RedeemReward performs the whole redemption as a single transaction: lock the
// account row, snapshot the pre-override effective tier, debit points with a
// balance guard, supersede the prior claim, insert the new claim, and install
// the override. Two concurrent redemptions against a balance that covers only
// one of them serialize on the row lock; the loser fails the balance guard.
func (r *PostgresRepository) RedeemReward(ctx context.Context, accountID, catalogEntryID uuid.UUID, now time.Time) (*domain.RewardClaim, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var entry domain.RewardCatalogEntry
	err = tx.QueryRow(ctx, `
		SELECT id, title, points_cost, grants_tier, duration_minutes, active, created_at
		FROM reward_catalog
		WHERE id = $1
	`, catalogEntryID).Scan(
		&entry.ID, &entry.Title, &entry.PointsCost, &entry.GrantsTier,
		&entry.DurationMinutes, &entry.Active, &entry.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUnknownCatalogEntry
		}
		return nil, err
	}
	if !entry.Active {
		return nil, ErrUnknownCatalogEntry
	}

	acct, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	// Snapshot the tier the account would hold without this redemption.
	snapshot := domain.Resolve(acct, now).Tier

	// Guarded debit: the WHERE clause is the compare-and-swap that makes a
	// lost or double debit impossible even without the row lock.
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET points_balance = points_balance - $2, updated_at = NOW()
		WHERE id = $1 AND points_balance >= $2
	`, accountID, entry.PointsCost)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInsufficientPoints
	}

	// Supersede any previously active claim; its account-level override is
	// replaced below, the claim row stays for audit.
	if _, err := tx.Exec(ctx, `
		UPDATE reward_claims SET is_active = FALSE
		WHERE account_id = $1 AND is_active = TRUE
	`, accountID); err != nil {
		return nil, err
	}

	claim := &domain.RewardClaim{
		ID:                   uuid.New(),
		AccountID:            accountID,
		CatalogEntryID:       entry.ID,
		PointsSpent:          entry.PointsCost,
		ClaimedAt:            now,
		IsActive:             true,
		OriginalTierSnapshot: snapshot,
	}
	if !entry.IsPermanent() {
		expiresAt := now.Add(time.Duration(*entry.DurationMinutes) * time.Minute)
		claim.ExpiresAt = &expiresAt
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO reward_claims (id, account_id, catalog_entry_id, points_spent, claimed_at, expires_at, is_active, original_tier_snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
	`, claim.ID, claim.AccountID, claim.CatalogEntryID, claim.PointsSpent, claim.ClaimedAt, claim.ExpiresAt, string(claim.OriginalTierSnapshot)); err != nil {
		return nil, err
	}

	if entry.IsPermanent() {
		// Permanent rewards upgrade the base tier outright; there is nothing
		// to restore later, so no override is installed.
		if _, err := tx.Exec(ctx, `
			UPDATE accounts
			SET base_tier = $2, base_status = $3,
			    override_tier = NULL, override_expires_at = NULL,
			    override_claim_id = NULL, override_warned_at = NULL,
			    updated_at = NOW()
			WHERE id = $1
		`, accountID, string(entry.GrantsTier), string(domain.BaseStatusActive)); err != nil {
			return nil, err
		}
	} else {
		if _, err := tx.Exec(ctx, `
			UPDATE accounts
			SET override_tier = $2, override_expires_at = $3,
			    override_claim_id = $4, override_warned_at = NULL,
			    updated_at = NOW()
			WHERE id = $1
		`, accountID, string(entry.GrantsTier), claim.ExpiresAt, claim.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claim, nil
}

// ClearExpiredDayPasses removes expired day passes. Clearing an already-null
// overlay matches no rows, so the sweep is idempotent by construction.
func (r *PostgresRepository) ClearExpiredDayPasses(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET day_pass_tier = NULL, day_pass_expires_at = NULL,
		    day_pass_warned_at = NULL, updated_at = NOW()
		WHERE day_pass_expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ClearExpiredOverrides removes expired reward overrides and deactivates the
// expired claims. Claims superseded earlier are already inactive; the WHERE
// clause makes re-deactivation a no-op.
func (r *PostgresRepository) ClearExpiredOverrides(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE reward_claims
		SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`, now); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET override_tier = NULL, override_expires_at = NULL,
		    override_claim_id = NULL, override_warned_at = NULL,
		    updated_at = NOW()
		WHERE override_expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListExpiringOverlays finds overlays inside the warning window that have not
// been warned about and marks them warned in the same statement, so concurrent
// warning runs cannot emit the same overlay twice.
func (r *PostgresRepository) ListExpiringOverlays(ctx context.Context, now time.Time, window time.Duration) ([]domain.ExpiringOverlay, error) {
	deadline := now.Add(window)
	var overlays []domain.ExpiringOverlay

	collect := func(rows pgx.Rows, source domain.EntitlementSource) error {
		defer rows.Close()
		for rows.Next() {
			var o domain.ExpiringOverlay
			var tier string
			if err := rows.Scan(&o.AccountID, &o.ClerkUserID, &tier, &o.ExpiresAt); err != nil {
				return err
			}
			o.Tier = domain.Tier(tier)
			o.Source = source
			overlays = append(overlays, o)
		}
		return rows.Err()
	}

	dayPassRows, err := r.db.Query(ctx, `
		UPDATE accounts
		SET day_pass_warned_at = $1
		WHERE day_pass_expires_at > $1 AND day_pass_expires_at <= $2
		  AND day_pass_warned_at IS NULL
		RETURNING id, clerk_user_id, day_pass_tier, day_pass_expires_at
	`, now, deadline)
	if err != nil {
		return nil, err
	}
	if err := collect(dayPassRows, domain.SourceDayPass); err != nil {
		return nil, err
	}

	overrideRows, err := r.db.Query(ctx, `
		UPDATE accounts
		SET override_warned_at = $1
		WHERE override_expires_at > $1 AND override_expires_at <= $2
		  AND override_warned_at IS NULL
		RETURNING id, clerk_user_id, override_tier, override_expires_at
	`, now, deadline)
	if err != nil {
		return nil, err
	}
	if err := collect(overrideRows, domain.SourceReward); err != nil {
		return nil, err
	}

	return overlays, nil
}
