// Package ports defines the interfaces between the slot ledger core and its
// stores and external collaborators. Services depend on these, never on
// concrete store types.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"examreg/internal/slots/models"
	id "examreg/pkg/domain"
)

// DebitRequest describes one slot debit. Slots must be positive.
type DebitRequest struct {
	Slots          int
	UsageType      models.UsageType
	RegistrationID *id.RegistrationID
	Notes          string
}

// LedgerStore is the sole writer of balance state. All mutations are atomic
// with respect to each other; two concurrent debits can never both succeed
// when only one fits the balance.
type LedgerStore interface {
	// Initialize creates a zeroed account if none exists. Idempotent; an
	// existing account is never an error.
	Initialize(ctx context.Context, coordinatorID id.CoordinatorID, chapterID id.ChapterID) error

	// GetBalance returns the current balance or sentinel.ErrNotFound.
	GetBalance(ctx context.Context, coordinatorID id.CoordinatorID) (*models.AccountBalance, error)

	// Credit applies the purchase identified by reference to the ledger.
	// The "already credited" check and the balance increment are one atomic
	// operation, guarded by the order's own pending → completed transition:
	// the call that wins the transition increments the balance and appends
	// the audit record; every other call observes Credited=false and the
	// unchanged balance. Slot count and account come from the order row.
	// Returns sentinel.ErrNotFound when no order has that reference.
	Credit(ctx context.Context, reference id.PaymentReference, gatewayTxID string) (*models.CreditResult, error)

	// Debit atomically verifies available >= slots, moves the balance, and
	// appends the usage record; either all three happen or none do.
	// Returns sentinel.ErrNotFound when no account exists and
	// *models.InsufficientSlotsError when the check fails. A debit that
	// repeats a registration already recorded is skipped (Applied=false).
	Debit(ctx context.Context, coordinatorID id.CoordinatorID, req DebitRequest) (*models.DebitResult, error)

	// Adjust moves the balance by delta outside the purchase flow (admin
	// top-ups and corrections). Positive delta raises available and
	// totalPurchased; negative delta lowers available, subject to the same
	// non-negativity guard as Debit. Appends an adjustment record.
	Adjust(ctx context.Context, coordinatorID id.CoordinatorID, delta int, notes string) (*models.AccountBalance, error)

	// UsageHistory lists the most recent usage records, newest first.
	UsageHistory(ctx context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.UsageRecord, error)
}

// OrderStore owns purchase order rows. The completed transition is not here:
// it lives inside LedgerStore.Credit so the credit stays atomic with it.
type OrderStore interface {
	// Create inserts a pending order. Returns sentinel.ErrConflict when the
	// reference already exists.
	Create(ctx context.Context, order *models.PurchaseOrder) error

	// Get returns the order or sentinel.ErrNotFound.
	Get(ctx context.Context, reference id.PaymentReference) (*models.PurchaseOrder, error)

	// FailIfPending performs pending → failed. Reports false when the order
	// had already reached a terminal state.
	FailIfPending(ctx context.Context, reference id.PaymentReference, gatewayTxID string) (bool, error)

	// AbandonOlderThan performs pending → abandoned for every order created
	// before cutoff, returning how many moved.
	AbandonOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// HistoryByCoordinator lists recent orders, newest first.
	HistoryByCoordinator(ctx context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.PurchaseOrder, error)
}

// PackageCatalog resolves static packages priced per chapter.
type PackageCatalog interface {
	// QuoteForChapter prices one package for a chapter, including its split
	// code. Returns sentinel.ErrNotFound for unknown or inactive entries.
	QuoteForChapter(ctx context.Context, chapterID id.ChapterID, packageID id.PackageID) (*models.PackageQuote, error)

	// ListForChapter lists all active packages priced for the chapter.
	ListForChapter(ctx context.Context, chapterID id.ChapterID) ([]models.PackageQuote, error)
}

// GatewayStatus is the adapter's view of a charge.
type GatewayStatus string

const (
	GatewaySuccess GatewayStatus = "success"
	GatewayFailed  GatewayStatus = "failed"
	GatewayPending GatewayStatus = "pending"
)

// GatewayInitialization carries the parameters the payer is redirected with.
type GatewayInitialization struct {
	AuthorizationURL string
	AccessCode       string
	Reference        id.PaymentReference
}

// GatewayCharge is the verified state of a charge.
type GatewayCharge struct {
	Status        GatewayStatus
	Amount        int64
	TransactionID string
	PaidAt        *time.Time
}

// GatewayInitializeRequest describes the charge to set up.
type GatewayInitializeRequest struct {
	Email     string
	Amount    int64
	Reference id.PaymentReference
	SplitCode string
	Metadata  map[string]string
}

// PaymentGateway is the external payment provider, consumed only. CheckStatus
// must be called with a bounded timeout and never while holding ledger state.
type PaymentGateway interface {
	Initialize(ctx context.Context, req GatewayInitializeRequest) (*GatewayInitialization, error)
	CheckStatus(ctx context.Context, reference id.PaymentReference) (*GatewayCharge, error)
}

// OutboxEntry is a queued notification awaiting publication.
type OutboxEntry struct {
	ID        uuid.UUID
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

// NotificationOutbox buffers purchase events. Append runs inside the credit
// transaction; publishing happens later and can never affect ledger state.
type NotificationOutbox interface {
	Append(ctx context.Context, event models.PurchaseEvent) error
	Unpublished(ctx context.Context, limit int) ([]OutboxEntry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// TxRunner provides the transactional boundary for multi-store mutations.
// The SQL implementation opens a database transaction and stores it in
// context; the in-memory implementation serializes on a mutex shard selected
// by key. Key should be the coordinator id so cross-coordinator operations
// never contend.
type TxRunner interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// RegistrationStore is the saga's view of the out-of-scope registration
// workflow: create a draft row, confirm it once the slot debit lands, or
// delete it as the compensating action.
type RegistrationStore interface {
	CreateDraft(ctx context.Context, draft models.RegistrationDraft) (id.RegistrationID, error)
	Confirm(ctx context.Context, regID id.RegistrationID) error
	Delete(ctx context.Context, regID id.RegistrationID) error
}
