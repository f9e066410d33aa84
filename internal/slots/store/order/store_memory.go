package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"examreg/internal/slots/models"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
)

// InMemoryStore keeps purchase orders in a map guarded by a mutex. Status
// transitions are check-and-set under the lock, mirroring the conditional
// UPDATEs of the postgres store.
type InMemoryStore struct {
	mu     sync.Mutex
	orders map[id.PaymentReference]*models.PurchaseOrder
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{orders: make(map[id.PaymentReference]*models.PurchaseOrder)}
}

func (s *InMemoryStore) Create(_ context.Context, order *models.PurchaseOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.Reference]; exists {
		return sentinel.ErrConflict
	}
	stored := *order
	if stored.Status == "" {
		stored.Status = models.OrderPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.orders[order.Reference] = &stored
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, reference id.PaymentReference) (*models.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(reference)
}

func (s *InMemoryStore) getLocked(reference id.PaymentReference) (*models.PurchaseOrder, error) {
	order, exists := s.orders[reference]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

// CompleteIfPending performs the pending → completed transition. Exactly one
// caller per reference observes won=true; everyone else gets the stored
// terminal order back.
func (s *InMemoryStore) CompleteIfPending(_ context.Context, reference id.PaymentReference, gatewayTxID string) (*models.PurchaseOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[reference]
	if !exists {
		return nil, false, sentinel.ErrNotFound
	}
	if order.Status != models.OrderPending {
		copied := *order
		return &copied, false, nil
	}

	now := time.Now()
	order.Status = models.OrderCompleted
	order.GatewayTransactionID = gatewayTxID
	order.FinalizedAt = &now
	copied := *order
	return &copied, true, nil
}

func (s *InMemoryStore) FailIfPending(_ context.Context, reference id.PaymentReference, gatewayTxID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.orders[reference]
	if !exists {
		return false, sentinel.ErrNotFound
	}
	if order.Status != models.OrderPending {
		return false, nil
	}

	now := time.Now()
	order.Status = models.OrderFailed
	order.GatewayTransactionID = gatewayTxID
	order.FinalizedAt = &now
	return true, nil
}

func (s *InMemoryStore) AbandonOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	now := time.Now()
	for _, order := range s.orders {
		if order.Status == models.OrderPending && order.CreatedAt.Before(cutoff) {
			order.Status = models.OrderAbandoned
			order.FinalizedAt = &now
			moved++
		}
	}
	return moved, nil
}

func (s *InMemoryStore) HistoryByCoordinator(_ context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PurchaseOrder
	for _, order := range s.orders {
		if order.CoordinatorID == coordinatorID {
			out = append(out, *order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
