package models

import (
	"time"

	id "examreg/pkg/domain"
)

// AccountBalance is the balance state for one coordinator within a chapter.
// Invariant for all readers: Available = TotalPurchased - Used - Adjusted-out,
// and Available >= 0 at all times.
type AccountBalance struct {
	CoordinatorID  id.CoordinatorID
	ChapterID      id.ChapterID
	Available      int
	Used           int
	TotalPurchased int

	LastPurchaseDate *time.Time
	LastUsageDate    *time.Time
}

// OrderStatus is the lifecycle state of a purchase order. Every state except
// pending is terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
	OrderAbandoned OrderStatus = "abandoned"
)

func (s OrderStatus) IsTerminal() bool { return s != OrderPending }

// PurchaseOrder is one payment attempt, keyed by its payment reference.
// The pending → completed transition is the only event that may credit the
// ledger, and it happens at most once per reference.
type PurchaseOrder struct {
	Reference      id.PaymentReference
	CoordinatorID  id.CoordinatorID
	ChapterID      id.ChapterID
	PackageID      id.PackageID
	SlotsRequested int
	// AmountExpected is in the currency's minor unit (kobo).
	AmountExpected       int64
	Status               OrderStatus
	GatewayTransactionID string
	CreatedAt            time.Time
	FinalizedAt          *time.Time
}

// UsageType classifies a usage record.
type UsageType string

const (
	UsageRegistration UsageType = "registration"
	UsageAdjustment   UsageType = "adjustment"
)

func (t UsageType) IsValid() bool {
	return t == UsageRegistration || t == UsageAdjustment
}

// UsageRecord is an append-only audit entry written whenever the balance
// moves. Debits carry positive SlotsUsed; credits are recorded as adjustments
// with negative SlotsUsed. Records are never mutated or deleted; corrections
// append a compensating record.
type UsageRecord struct {
	ID             int64
	CoordinatorID  id.CoordinatorID
	SlotsUsed      int
	UsageType      UsageType
	RegistrationID *id.RegistrationID
	Notes          string

	// Before/after balances make the usage table a self-contained audit log.
	BeforeAvailable int
	AfterAvailable  int

	CreatedAt time.Time
}

// SlotPackage is a static catalog entry. Read-only from the ledger's
// perspective; price is derived per chapter, not stored here.
type SlotPackage struct {
	ID        id.PackageID
	Name      string
	SlotCount int
	Active    bool
}

// PackageQuote is a package priced for a specific chapter. Price is
// SlotCount * the chapter's per-slot amount, in the minor unit.
type PackageQuote struct {
	Package   SlotPackage
	ChapterID id.ChapterID
	Price     int64
	SplitCode string
}

// CreditResult reports the outcome of an order-guarded credit.
// Credited is false when the order had already left pending; the balance is
// then returned unchanged (duplicate finalization is a successful no-op).
type CreditResult struct {
	Order    PurchaseOrder
	Balance  AccountBalance
	Credited bool
}

// DebitResult reports the outcome of a debit. Applied is false when the debit
// was recognized as a duplicate for the same registration and skipped.
type DebitResult struct {
	Balance AccountBalance
	Applied bool
}

// PurchaseEvent is emitted once per successful completed transition and
// handed to the notification dispatcher. Dispatch failures never roll back
// the ledger.
type PurchaseEvent struct {
	CoordinatorID  id.CoordinatorID    `json:"coordinatorId"`
	ChapterID      id.ChapterID        `json:"chapterId"`
	PackageName    string              `json:"packageName"`
	SlotsPurchased int                 `json:"slotsPurchased"`
	AmountPaid     int64               `json:"amountPaid"`
	Reference      id.PaymentReference `json:"reference"`
	NewBalance     int                 `json:"newBalance"`
}

// RegistrationDraft is the minimal shape of a registration row the saga
// creates before consuming a slot. The full registration schema belongs to
// the surrounding workflow.
type RegistrationDraft struct {
	CoordinatorID id.CoordinatorID
	ChapterID     id.ChapterID
	StudentName   string
	ExamCode      string
}
