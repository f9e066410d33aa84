package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
	txcontext "examreg/pkg/platform/tx"
)

// PostgresStore persists balances and usage history in PostgreSQL. Balance
// mutations are single conditional UPDATEs, so two concurrent debits can
// never both pass a stale balance check: the WHERE clause re-evaluates
// against the committed row under row-level locking.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed ledger store.
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

func (s *PostgresStore) Initialize(ctx context.Context, coordinatorID id.CoordinatorID, chapterID id.ChapterID) error {
	query := `
		INSERT INTO coordinator_slot_accounts (coordinator_id, chapter_id, available_slots, used_slots, total_purchased_slots, updated_at)
		VALUES ($1, $2, 0, 0, 0, $3)
		ON CONFLICT (coordinator_id, chapter_id) DO NOTHING
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query, int64(coordinatorID), int64(chapterID), time.Now()); err != nil {
		return fmt.Errorf("initialize slot account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, coordinatorID id.CoordinatorID) (*models.AccountBalance, error) {
	query := `
		SELECT coordinator_id, chapter_id, available_slots, used_slots, total_purchased_slots,
		       last_purchase_date, last_usage_date
		FROM coordinator_slot_accounts
		WHERE coordinator_id = $1
	`
	return s.scanBalance(s.execer(ctx).QueryRowContext(ctx, query, int64(coordinatorID)))
}

// Credit applies the purchase identified by reference. The conditional order
// UPDATE is the idempotency guard: only the call that moves the order out of
// pending increments the balance, and both statements ride the caller's
// transaction when one is in context.
func (s *PostgresStore) Credit(ctx context.Context, reference id.PaymentReference, gatewayTxID string) (*models.CreditResult, error) {
	exec := s.execer(ctx)
	now := time.Now()

	transition := `
		UPDATE slot_purchase_orders
		SET status = 'completed', gateway_transaction_id = $2, finalized_at = $3
		WHERE payment_reference = $1 AND status = 'pending'
		RETURNING coordinator_id, chapter_id, package_id, slots_requested, amount_expected, created_at
	`
	var order models.PurchaseOrder
	order.Reference = reference
	order.GatewayTransactionID = gatewayTxID
	err := exec.QueryRowContext(ctx, transition, string(reference), gatewayTxID, now).Scan(
		&order.CoordinatorID, &order.ChapterID, &order.PackageID,
		&order.SlotsRequested, &order.AmountExpected, &order.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return s.duplicateCredit(ctx, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("complete purchase order: %w", err)
	}
	order.Status = models.OrderCompleted
	order.FinalizedAt = &now

	// Account is created lazily on first purchase.
	if err := s.Initialize(ctx, order.CoordinatorID, order.ChapterID); err != nil {
		return nil, err
	}

	credit := `
		UPDATE coordinator_slot_accounts
		SET available_slots = available_slots + $3,
		    total_purchased_slots = total_purchased_slots + $3,
		    last_purchase_date = $4,
		    updated_at = $4
		WHERE coordinator_id = $1 AND chapter_id = $2
		RETURNING coordinator_id, chapter_id, available_slots, used_slots, total_purchased_slots,
		          last_purchase_date, last_usage_date
	`
	balance, err := s.scanBalance(exec.QueryRowContext(ctx, credit,
		int64(order.CoordinatorID), int64(order.ChapterID), order.SlotsRequested, now))
	if err != nil {
		return nil, fmt.Errorf("credit slot account: %w", err)
	}

	if err := s.appendUsage(ctx, models.UsageRecord{
		CoordinatorID:   order.CoordinatorID,
		SlotsUsed:       -order.SlotsRequested,
		UsageType:       models.UsageAdjustment,
		Notes:           fmt.Sprintf("credited %d slots via payment %s", order.SlotsRequested, reference),
		BeforeAvailable: balance.Available - order.SlotsRequested,
		AfterAvailable:  balance.Available,
		CreatedAt:       now,
	}); err != nil {
		return nil, err
	}

	return &models.CreditResult{Order: order, Balance: *balance, Credited: true}, nil
}

// duplicateCredit resolves a credit call that lost the order transition:
// the order is already terminal (or unknown), so the balance is returned
// unchanged.
func (s *PostgresStore) duplicateCredit(ctx context.Context, reference id.PaymentReference) (*models.CreditResult, error) {
	exec := s.execer(ctx)

	query := `
		SELECT payment_reference, coordinator_id, chapter_id, package_id, slots_requested,
		       amount_expected, status, gateway_transaction_id, created_at, finalized_at
		FROM slot_purchase_orders
		WHERE payment_reference = $1
	`
	order, err := scanOrder(exec.QueryRowContext(ctx, query, string(reference)))
	if err != nil {
		return nil, err
	}

	result := &models.CreditResult{Order: *order, Credited: false}
	balance, err := s.GetBalance(ctx, order.CoordinatorID)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		result.Balance = models.AccountBalance{CoordinatorID: order.CoordinatorID, ChapterID: order.ChapterID}
	case err != nil:
		return nil, err
	default:
		result.Balance = *balance
	}
	return result, nil
}

func (s *PostgresStore) Debit(ctx context.Context, coordinatorID id.CoordinatorID, req ports.DebitRequest) (*models.DebitResult, error) {
	if req.Slots <= 0 || !req.UsageType.IsValid() {
		return nil, models.ErrInvalidUsageRequest
	}
	exec := s.execer(ctx)
	now := time.Now()

	// A registration already recorded must not be charged twice.
	if req.RegistrationID != nil && req.UsageType == models.UsageRegistration {
		var seen bool
		dupQuery := `
			SELECT EXISTS (
				SELECT 1 FROM slot_usage_history
				WHERE registration_id = $1 AND usage_type = 'registration'
			)
		`
		if err := exec.QueryRowContext(ctx, dupQuery, int64(*req.RegistrationID)).Scan(&seen); err != nil {
			return nil, fmt.Errorf("check duplicate registration debit: %w", err)
		}
		if seen {
			balance, err := s.GetBalance(ctx, coordinatorID)
			if err != nil {
				return nil, err
			}
			return &models.DebitResult{Balance: *balance, Applied: false}, nil
		}
	}

	debit := `
		UPDATE coordinator_slot_accounts
		SET available_slots = available_slots - $2,
		    used_slots = used_slots + $2,
		    last_usage_date = $3,
		    updated_at = $3
		WHERE coordinator_id = $1 AND available_slots >= $2
		RETURNING coordinator_id, chapter_id, available_slots, used_slots, total_purchased_slots,
		          last_purchase_date, last_usage_date
	`
	balance, err := s.scanBalance(exec.QueryRowContext(ctx, debit, int64(coordinatorID), req.Slots, now))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, s.classifyRejectedDebit(ctx, coordinatorID, req.Slots)
	}
	if err != nil {
		return nil, fmt.Errorf("debit slot account: %w", err)
	}
	if err := verifyInvariants(balance); err != nil {
		return nil, err
	}

	if err := s.appendUsage(ctx, models.UsageRecord{
		CoordinatorID:   coordinatorID,
		SlotsUsed:       req.Slots,
		UsageType:       req.UsageType,
		RegistrationID:  req.RegistrationID,
		Notes:           req.Notes,
		BeforeAvailable: balance.Available + req.Slots,
		AfterAvailable:  balance.Available,
		CreatedAt:       now,
	}); err != nil {
		return nil, err
	}

	return &models.DebitResult{Balance: *balance, Applied: true}, nil
}

// classifyRejectedDebit distinguishes a missing account from an insufficient
// balance after the conditional UPDATE matched no row.
func (s *PostgresStore) classifyRejectedDebit(ctx context.Context, coordinatorID id.CoordinatorID, requested int) error {
	balance, err := s.GetBalance(ctx, coordinatorID)
	if err != nil {
		return err
	}
	if err := verifyInvariants(balance); err != nil {
		return err
	}
	return &models.InsufficientSlotsError{Available: balance.Available, Requested: requested}
}

func (s *PostgresStore) Adjust(ctx context.Context, coordinatorID id.CoordinatorID, delta int, notes string) (*models.AccountBalance, error) {
	if delta == 0 {
		return nil, models.ErrInvalidUsageRequest
	}
	exec := s.execer(ctx)
	now := time.Now()

	var query string
	var amount int
	if delta > 0 {
		amount = delta
		query = `
			UPDATE coordinator_slot_accounts
			SET available_slots = available_slots + $2,
			    total_purchased_slots = total_purchased_slots + $2,
			    last_purchase_date = $3,
			    updated_at = $3
			WHERE coordinator_id = $1
			RETURNING coordinator_id, chapter_id, available_slots, used_slots, total_purchased_slots,
			          last_purchase_date, last_usage_date
		`
	} else {
		amount = -delta
		query = `
			UPDATE coordinator_slot_accounts
			SET available_slots = available_slots - $2,
			    used_slots = used_slots + $2,
			    last_usage_date = $3,
			    updated_at = $3
			WHERE coordinator_id = $1 AND available_slots >= $2
			RETURNING coordinator_id, chapter_id, available_slots, used_slots, total_purchased_slots,
			          last_purchase_date, last_usage_date
		`
	}

	balance, err := s.scanBalance(exec.QueryRowContext(ctx, query, int64(coordinatorID), amount, now))
	if errors.Is(err, sentinel.ErrNotFound) && delta < 0 {
		return nil, s.classifyRejectedDebit(ctx, coordinatorID, amount)
	}
	if err != nil {
		return nil, fmt.Errorf("adjust slot account: %w", err)
	}

	before := balance.Available - delta
	if err := s.appendUsage(ctx, models.UsageRecord{
		CoordinatorID:   coordinatorID,
		SlotsUsed:       -delta,
		UsageType:       models.UsageAdjustment,
		Notes:           notes,
		BeforeAvailable: before,
		AfterAvailable:  balance.Available,
		CreatedAt:       now,
	}); err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *PostgresStore) UsageHistory(ctx context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.UsageRecord, error) {
	query := `
		SELECT id, coordinator_id, slots_used, usage_type, registration_id, notes,
		       before_available, after_available, created_at
		FROM slot_usage_history
		WHERE coordinator_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, int64(coordinatorID), limit)
	if err != nil {
		return nil, fmt.Errorf("query usage history: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		var regID sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.CoordinatorID, &rec.SlotsUsed, &rec.UsageType,
			&regID, &rec.Notes, &rec.BeforeAvailable, &rec.AfterAvailable, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if regID.Valid {
			rid := id.RegistrationID(regID.Int64)
			rec.RegistrationID = &rid
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage history: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) appendUsage(ctx context.Context, rec models.UsageRecord) error {
	query := `
		INSERT INTO slot_usage_history
			(coordinator_id, slots_used, usage_type, registration_id, notes,
			 before_available, after_available, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var regID sql.NullInt64
	if rec.RegistrationID != nil {
		regID = sql.NullInt64{Int64: int64(*rec.RegistrationID), Valid: true}
	}
	if _, err := s.execer(ctx).ExecContext(ctx, query,
		int64(rec.CoordinatorID), rec.SlotsUsed, string(rec.UsageType), regID, rec.Notes,
		rec.BeforeAvailable, rec.AfterAvailable, rec.CreatedAt); err != nil {
		// Two concurrent debits for the same registration can both pass the
		// duplicate pre-check; the unique index then stops the loser here.
		// Surfacing it as a conflict lets the caller retry and take the
		// duplicate-skip path.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("append usage record: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanBalance(row rowScanner) (*models.AccountBalance, error) {
	var balance models.AccountBalance
	var lastPurchase, lastUsage sql.NullTime
	err := row.Scan(&balance.CoordinatorID, &balance.ChapterID, &balance.Available,
		&balance.Used, &balance.TotalPurchased, &lastPurchase, &lastUsage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan slot account: %w", err)
	}
	if lastPurchase.Valid {
		balance.LastPurchaseDate = &lastPurchase.Time
	}
	if lastUsage.Valid {
		balance.LastUsageDate = &lastUsage.Time
	}
	return &balance, nil
}

func scanOrder(row rowScanner) (*models.PurchaseOrder, error) {
	var order models.PurchaseOrder
	var gatewayTxID sql.NullString
	var finalizedAt sql.NullTime
	err := row.Scan(&order.Reference, &order.CoordinatorID, &order.ChapterID, &order.PackageID,
		&order.SlotsRequested, &order.AmountExpected, &order.Status, &gatewayTxID,
		&order.CreatedAt, &finalizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan purchase order: %w", err)
	}
	order.GatewayTransactionID = gatewayTxID.String
	if finalizedAt.Valid {
		order.FinalizedAt = &finalizedAt.Time
	}
	return &order, nil
}

// verifyInvariants halts an operation that observes corrupted balance state
// rather than silently repairing it.
func verifyInvariants(balance *models.AccountBalance) error {
	if balance.Available < 0 || balance.Available != balance.TotalPurchased-balance.Used {
		return fmt.Errorf("account %s: available=%d used=%d purchased=%d: %w",
			balance.CoordinatorID, balance.Available, balance.Used, balance.TotalPurchased, sentinel.ErrCorrupted)
	}
	return nil
}
