package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
)

// InMemoryOutbox queues purchase events in memory. Used in tests and in
// deployments without a database.
type InMemoryOutbox struct {
	mu      sync.Mutex
	entries []outboxRow
}

type outboxRow struct {
	entry     ports.OutboxEntry
	published bool
}

func NewMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{}
}

func (o *InMemoryOutbox) Append(_ context.Context, event models.PurchaseEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal purchase event: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, outboxRow{entry: ports.OutboxEntry{
		ID:        uuid.New(),
		EventType: EventSlotPurchaseCompleted,
		Payload:   payload,
		CreatedAt: time.Now(),
	}})
	return nil
}

func (o *InMemoryOutbox) Unpublished(_ context.Context, limit int) ([]ports.OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []ports.OutboxEntry
	for _, row := range o.entries {
		if row.published {
			continue
		}
		out = append(out, row.entry)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (o *InMemoryOutbox) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	marked := make(map[uuid.UUID]bool, len(ids))
	for _, entryID := range ids {
		marked[entryID] = true
	}
	for i := range o.entries {
		if marked[o.entries[i].entry.ID] {
			o.entries[i].published = true
		}
	}
	return nil
}
