package registration

import (
	"context"
	"sync"
	"time"

	"examreg/internal/slots/models"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
)

type record struct {
	draft     models.RegistrationDraft
	confirmed bool
	createdAt time.Time
}

// InMemoryStore keeps registration rows in memory for tests and local runs.
type InMemoryStore struct {
	mu     sync.Mutex
	rows   map[id.RegistrationID]*record
	nextID int64
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{rows: make(map[id.RegistrationID]*record)}
}

func (s *InMemoryStore) CreateDraft(_ context.Context, draft models.RegistrationDraft) (id.RegistrationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	regID := id.RegistrationID(s.nextID)
	s.rows[regID] = &record{draft: draft, createdAt: time.Now()}
	return regID, nil
}

func (s *InMemoryStore) Confirm(_ context.Context, regID id.RegistrationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.rows[regID]
	if !exists {
		return sentinel.ErrNotFound
	}
	row.confirmed = true
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, regID id.RegistrationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[regID]; !exists {
		return sentinel.ErrNotFound
	}
	delete(s.rows, regID)
	return nil
}

// Confirmed reports whether the registration exists and was confirmed.
func (s *InMemoryStore) Confirmed(regID id.RegistrationID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.rows[regID]
	return exists && row.confirmed
}

// Count returns how many registration rows exist, confirmed or not.
func (s *InMemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
