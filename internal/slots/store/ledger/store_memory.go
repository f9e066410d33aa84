package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
)

// orderFinalizer is the narrow slice of the order store a credit needs: the
// conditional pending → completed transition that guards against double
// crediting, plus a read for duplicate calls.
type orderFinalizer interface {
	CompleteIfPending(ctx context.Context, reference id.PaymentReference, gatewayTxID string) (*models.PurchaseOrder, bool, error)
	Get(ctx context.Context, reference id.PaymentReference) (*models.PurchaseOrder, error)
}

// InMemoryStore keeps balances and usage history in maps guarded by a single
// mutex, so every mutation is a serialized check-and-set. Used by unit tests
// and local runs; PostgresStore is the production implementation.
type InMemoryStore struct {
	mu       sync.Mutex
	accounts map[id.CoordinatorID]*models.AccountBalance
	usage    map[id.CoordinatorID][]models.UsageRecord
	seenRegs map[id.RegistrationID]struct{}
	orders   orderFinalizer
	nextID   int64
}

// NewMemory constructs an in-memory ledger store. The order finalizer is the
// in-memory order store; credits transition orders through it.
func NewMemory(orders orderFinalizer) *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[id.CoordinatorID]*models.AccountBalance),
		usage:    make(map[id.CoordinatorID][]models.UsageRecord),
		seenRegs: make(map[id.RegistrationID]struct{}),
		orders:   orders,
	}
}

func (s *InMemoryStore) Initialize(_ context.Context, coordinatorID id.CoordinatorID, chapterID id.ChapterID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[coordinatorID]; exists {
		return nil
	}
	s.accounts[coordinatorID] = &models.AccountBalance{
		CoordinatorID: coordinatorID,
		ChapterID:     chapterID,
	}
	return nil
}

func (s *InMemoryStore) GetBalance(_ context.Context, coordinatorID id.CoordinatorID) (*models.AccountBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[coordinatorID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	balance := *acct
	return &balance, nil
}

func (s *InMemoryStore) Credit(ctx context.Context, reference id.PaymentReference, gatewayTxID string) (*models.CreditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, won, err := s.orders.CompleteIfPending(ctx, reference, gatewayTxID)
	if err != nil {
		return nil, err
	}

	if !won {
		result := &models.CreditResult{Order: *order, Credited: false}
		if acct, exists := s.accounts[order.CoordinatorID]; exists {
			result.Balance = *acct
		} else {
			result.Balance = models.AccountBalance{
				CoordinatorID: order.CoordinatorID,
				ChapterID:     order.ChapterID,
			}
		}
		return result, nil
	}

	// Account is created lazily on first purchase.
	acct, exists := s.accounts[order.CoordinatorID]
	if !exists {
		acct = &models.AccountBalance{
			CoordinatorID: order.CoordinatorID,
			ChapterID:     order.ChapterID,
		}
		s.accounts[order.CoordinatorID] = acct
	}

	now := time.Now()
	before := acct.Available
	acct.Available += order.SlotsRequested
	acct.TotalPurchased += order.SlotsRequested
	acct.LastPurchaseDate = &now

	s.appendUsage(models.UsageRecord{
		CoordinatorID:   order.CoordinatorID,
		SlotsUsed:       -order.SlotsRequested,
		UsageType:       models.UsageAdjustment,
		Notes:           fmt.Sprintf("credited %d slots via payment %s", order.SlotsRequested, reference),
		BeforeAvailable: before,
		AfterAvailable:  acct.Available,
		CreatedAt:       now,
	})

	balance := *acct
	return &models.CreditResult{Order: *order, Balance: balance, Credited: true}, nil
}

func (s *InMemoryStore) Debit(_ context.Context, coordinatorID id.CoordinatorID, req ports.DebitRequest) (*models.DebitResult, error) {
	if req.Slots <= 0 || !req.UsageType.IsValid() {
		return nil, models.ErrInvalidUsageRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[coordinatorID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	if err := checkInvariants(acct); err != nil {
		return nil, err
	}

	// A registration already recorded must not be charged twice.
	if req.RegistrationID != nil && req.UsageType == models.UsageRegistration {
		if _, seen := s.seenRegs[*req.RegistrationID]; seen {
			balance := *acct
			return &models.DebitResult{Balance: balance, Applied: false}, nil
		}
	}

	if acct.Available < req.Slots {
		return nil, &models.InsufficientSlotsError{Available: acct.Available, Requested: req.Slots}
	}

	now := time.Now()
	before := acct.Available
	acct.Available -= req.Slots
	acct.Used += req.Slots
	acct.LastUsageDate = &now

	s.appendUsage(models.UsageRecord{
		CoordinatorID:   coordinatorID,
		SlotsUsed:       req.Slots,
		UsageType:       req.UsageType,
		RegistrationID:  req.RegistrationID,
		Notes:           req.Notes,
		BeforeAvailable: before,
		AfterAvailable:  acct.Available,
		CreatedAt:       now,
	})
	if req.RegistrationID != nil && req.UsageType == models.UsageRegistration {
		s.seenRegs[*req.RegistrationID] = struct{}{}
	}

	balance := *acct
	return &models.DebitResult{Balance: balance, Applied: true}, nil
}

func (s *InMemoryStore) Adjust(_ context.Context, coordinatorID id.CoordinatorID, delta int, notes string) (*models.AccountBalance, error) {
	if delta == 0 {
		return nil, models.ErrInvalidUsageRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, exists := s.accounts[coordinatorID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	if err := checkInvariants(acct); err != nil {
		return nil, err
	}

	now := time.Now()
	before := acct.Available
	if delta > 0 {
		acct.Available += delta
		acct.TotalPurchased += delta
		acct.LastPurchaseDate = &now
	} else {
		removed := -delta
		if acct.Available < removed {
			return nil, &models.InsufficientSlotsError{Available: acct.Available, Requested: removed}
		}
		acct.Available -= removed
		acct.Used += removed
		acct.LastUsageDate = &now
	}

	s.appendUsage(models.UsageRecord{
		CoordinatorID:   coordinatorID,
		SlotsUsed:       -delta,
		UsageType:       models.UsageAdjustment,
		Notes:           notes,
		BeforeAvailable: before,
		AfterAvailable:  acct.Available,
		CreatedAt:       now,
	})

	balance := *acct
	return &balance, nil
}

func (s *InMemoryStore) UsageHistory(_ context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.usage[coordinatorID]
	out := make([]models.UsageRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// appendUsage assigns the next record id and appends. Caller holds the lock.
func (s *InMemoryStore) appendUsage(record models.UsageRecord) {
	s.nextID++
	record.ID = s.nextID
	s.usage[record.CoordinatorID] = append(s.usage[record.CoordinatorID], record)
}

// checkInvariants halts an operation that finds corrupted balance state
// rather than silently repairing it.
func checkInvariants(acct *models.AccountBalance) error {
	if acct.Available < 0 || acct.Available != acct.TotalPurchased-acct.Used {
		return fmt.Errorf("account %d: available=%d used=%d purchased=%d: %w",
			acct.CoordinatorID, acct.Available, acct.Used, acct.TotalPurchased, sentinel.ErrCorrupted)
	}
	return nil
}
