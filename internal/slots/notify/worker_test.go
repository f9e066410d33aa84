package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examreg/internal/slots/models"
)

type recordingProducer struct {
	events  []string
	failFor map[string]bool
}

func (p *recordingProducer) Publish(_ context.Context, eventType string, payload []byte) error {
	if p.failFor[string(payload)] {
		return errors.New("broker unavailable")
	}
	p.events = append(p.events, string(payload))
	return nil
}

func TestDrainPublishesAndMarks(t *testing.T) {
	ctx := context.Background()
	outbox := NewMemoryOutbox()
	producer := &recordingProducer{}
	worker := NewWorker(outbox, producer, time.Second)

	require.NoError(t, outbox.Append(ctx, models.PurchaseEvent{SlotsPurchased: 50, Reference: "SLOTS-a"}))
	require.NoError(t, outbox.Append(ctx, models.PurchaseEvent{SlotsPurchased: 100, Reference: "SLOTS-b"}))

	require.NoError(t, worker.Drain(ctx))
	assert.Len(t, producer.events, 2)

	// A second drain finds nothing left.
	require.NoError(t, worker.Drain(ctx))
	assert.Len(t, producer.events, 2)
}

func TestDrainKeepsFailedEntriesQueued(t *testing.T) {
	ctx := context.Background()
	outbox := NewMemoryOutbox()
	producer := &recordingProducer{failFor: map[string]bool{}}
	worker := NewWorker(outbox, producer, time.Second)

	require.NoError(t, outbox.Append(ctx, models.PurchaseEvent{SlotsPurchased: 50, Reference: "SLOTS-a"}))

	entries, err := outbox.Unpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	producer.failFor[string(entries[0].Payload)] = true

	require.NoError(t, worker.Drain(ctx))
	assert.Empty(t, producer.events)

	// Broker recovers; entry is still queued and goes through.
	producer.failFor = nil
	require.NoError(t, worker.Drain(ctx))
	assert.Len(t, producer.events, 1)

	remaining, err := outbox.Unpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
