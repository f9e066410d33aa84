package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
	txcontext "examreg/pkg/platform/tx"
)

// EventSlotPurchaseCompleted is emitted once per completed purchase credit.
const EventSlotPurchaseCompleted = "slots.purchase.completed"

// PostgresOutbox persists purchase events in the notification_outbox table.
// Append honors a transaction in context so queueing is atomic with the
// ledger credit that produced the event.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (o *PostgresOutbox) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return o.db
}

func (o *PostgresOutbox) Append(ctx context.Context, event models.PurchaseEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal purchase event: %w", err)
	}

	query := `
		INSERT INTO notification_outbox (id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = o.execer(ctx).ExecContext(ctx, query,
		uuid.New(), EventSlotPurchaseCompleted, payload, time.Now())
	if err != nil {
		return fmt.Errorf("append outbox entry: %w", err)
	}
	return nil
}

func (o *PostgresOutbox) Unpublished(ctx context.Context, limit int) ([]ports.OutboxEntry, error) {
	query := `
		SELECT id, event_type, payload, created_at
		FROM notification_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := o.execer(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []ports.OutboxEntry
	for rows.Next() {
		var entry ports.OutboxEntry
		if err := rows.Scan(&entry.ID, &entry.EventType, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

func (o *PostgresOutbox) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE notification_outbox
		SET published_at = $2
		WHERE id = ANY($1)
	`
	if _, err := o.execer(ctx).ExecContext(ctx, query, pq.Array(ids), time.Now()); err != nil {
		return fmt.Errorf("mark outbox entries published: %w", err)
	}
	return nil
}
