package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the slot ledger schema. Statements are idempotent so the
// migration can run on every boot.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS coordinator_slot_accounts (
			coordinator_id        BIGINT NOT NULL,
			chapter_id            BIGINT NOT NULL,
			available_slots       INT NOT NULL DEFAULT 0 CHECK (available_slots >= 0),
			used_slots            INT NOT NULL DEFAULT 0,
			total_purchased_slots INT NOT NULL DEFAULT 0,
			last_purchase_date    TIMESTAMPTZ,
			last_usage_date       TIMESTAMPTZ,
			updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (coordinator_id, chapter_id)
		)`,
		`CREATE TABLE IF NOT EXISTS slot_purchase_orders (
			payment_reference      TEXT PRIMARY KEY,
			coordinator_id         BIGINT NOT NULL,
			chapter_id             BIGINT NOT NULL,
			package_id             BIGINT NOT NULL,
			slots_requested        INT NOT NULL CHECK (slots_requested > 0),
			amount_expected        BIGINT NOT NULL,
			status                 TEXT NOT NULL DEFAULT 'pending',
			gateway_transaction_id TEXT,
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finalized_at           TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slot_purchase_orders_coordinator
			ON slot_purchase_orders (coordinator_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_slot_purchase_orders_pending
			ON slot_purchase_orders (created_at) WHERE status = 'pending'`,
		`CREATE TABLE IF NOT EXISTS slot_usage_history (
			id               BIGSERIAL PRIMARY KEY,
			coordinator_id   BIGINT NOT NULL,
			slots_used       INT NOT NULL,
			usage_type       TEXT NOT NULL,
			registration_id  BIGINT,
			notes            TEXT NOT NULL DEFAULT '',
			before_available INT NOT NULL,
			after_available  INT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slot_usage_history_coordinator
			ON slot_usage_history (coordinator_id, created_at DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_slot_usage_history_registration
			ON slot_usage_history (registration_id) WHERE usage_type = 'registration'`,
		`CREATE TABLE IF NOT EXISTS slot_packages (
			id         BIGSERIAL PRIMARY KEY,
			name       TEXT NOT NULL,
			slot_count INT NOT NULL CHECK (slot_count > 0),
			is_active  BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS chapters (
			id       BIGSERIAL PRIMARY KEY,
			name     TEXT NOT NULL,
			amount   BIGINT NOT NULL DEFAULT 300000
		)`,
		`CREATE TABLE IF NOT EXISTS chapter_split_codes (
			chapter_id BIGINT NOT NULL,
			package_id BIGINT NOT NULL,
			split_code TEXT NOT NULL,
			is_active  BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (chapter_id, package_id)
		)`,
		`CREATE TABLE IF NOT EXISTS notification_outbox (
			id           UUID PRIMARY KEY,
			event_type   TEXT NOT NULL,
			payload      JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			published_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_outbox_unpublished
			ON notification_outbox (created_at) WHERE published_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS student_registrations (
			id             BIGSERIAL PRIMARY KEY,
			coordinator_id BIGINT NOT NULL,
			chapter_id     BIGINT NOT NULL,
			student_name   TEXT NOT NULL,
			exam_code      TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'draft',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate slot ledger schema: %w", err)
		}
	}
	return nil
}
