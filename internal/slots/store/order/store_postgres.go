package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"examreg/internal/slots/models"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
	txcontext "examreg/pkg/platform/tx"
)

// PostgresStore persists purchase orders in PostgreSQL. The completed
// transition lives in the ledger store so crediting stays atomic with it;
// this store owns creation and the failed/abandoned transitions.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, order *models.PurchaseOrder) error {
	status := order.Status
	if status == "" {
		status = models.OrderPending
	}
	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO slot_purchase_orders
			(payment_reference, coordinator_id, chapter_id, package_id,
			 slots_requested, amount_expected, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		string(order.Reference), int64(order.CoordinatorID), int64(order.ChapterID),
		int64(order.PackageID), order.SlotsRequested, order.AmountExpected,
		string(status), createdAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create purchase order: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, reference id.PaymentReference) (*models.PurchaseOrder, error) {
	query := `
		SELECT payment_reference, coordinator_id, chapter_id, package_id, slots_requested,
		       amount_expected, status, gateway_transaction_id, created_at, finalized_at
		FROM slot_purchase_orders
		WHERE payment_reference = $1
	`
	return scanOrder(s.execer(ctx).QueryRowContext(ctx, query, string(reference)))
}

func (s *PostgresStore) FailIfPending(ctx context.Context, reference id.PaymentReference, gatewayTxID string) (bool, error) {
	query := `
		UPDATE slot_purchase_orders
		SET status = 'failed', gateway_transaction_id = $2, finalized_at = $3
		WHERE payment_reference = $1 AND status = 'pending'
	`
	result, err := s.execer(ctx).ExecContext(ctx, query, string(reference), gatewayTxID, time.Now())
	if err != nil {
		return false, fmt.Errorf("fail purchase order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail purchase order: %w", err)
	}
	if affected == 0 {
		// Distinguish an already-terminal order from an unknown reference.
		if _, err := s.Get(ctx, reference); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) AbandonOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE slot_purchase_orders
		SET status = 'abandoned', finalized_at = $2
		WHERE status = 'pending' AND created_at < $1
	`
	result, err := s.execer(ctx).ExecContext(ctx, query, cutoff, time.Now())
	if err != nil {
		return 0, fmt.Errorf("abandon stale purchase orders: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("abandon stale purchase orders: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) HistoryByCoordinator(ctx context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.PurchaseOrder, error) {
	query := `
		SELECT payment_reference, coordinator_id, chapter_id, package_id, slots_requested,
		       amount_expected, status, gateway_transaction_id, created_at, finalized_at
		FROM slot_purchase_orders
		WHERE coordinator_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, int64(coordinatorID), limit)
	if err != nil {
		return nil, fmt.Errorf("query purchase history: %w", err)
	}
	defer rows.Close()

	var orders []models.PurchaseOrder
	for rows.Next() {
		order, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase history: %w", err)
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row *sql.Row) (*models.PurchaseOrder, error) {
	order, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return order, err
}

func scanOrderRows(rows *sql.Rows) (*models.PurchaseOrder, error) {
	return scanInto(rows)
}

func scanInto(row rowScanner) (*models.PurchaseOrder, error) {
	var order models.PurchaseOrder
	var gatewayTxID sql.NullString
	var finalizedAt sql.NullTime
	err := row.Scan(&order.Reference, &order.CoordinatorID, &order.ChapterID, &order.PackageID,
		&order.SlotsRequested, &order.AmountExpected, &order.Status, &gatewayTxID,
		&order.CreatedAt, &finalizedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan purchase order: %w", err)
	}
	order.GatewayTransactionID = gatewayTxID.String
	if finalizedAt.Valid {
		order.FinalizedAt = &finalizedAt.Time
	}
	return &order, nil
}
