package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examreg/internal/slots/models"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
)

func pendingOrder(coordinatorID id.CoordinatorID) *models.PurchaseOrder {
	return &models.PurchaseOrder{
		Reference:      id.NewPaymentReference(),
		CoordinatorID:  coordinatorID,
		ChapterID:      7,
		PackageID:      1,
		SlotsRequested: 50,
		AmountExpected: 15000000,
		CreatedAt:      time.Now(),
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	order := pendingOrder(42)

	require.NoError(t, store.Create(ctx, order))

	got, err := store.Get(ctx, order.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)
	assert.Equal(t, order.SlotsRequested, got.SlotsRequested)

	_, err = store.Get(ctx, "SLOTS-missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestCreateDuplicateReference(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	order := pendingOrder(42)

	require.NoError(t, store.Create(ctx, order))
	assert.ErrorIs(t, store.Create(ctx, order), sentinel.ErrConflict)
}

func TestCompleteIfPendingSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	order := pendingOrder(42)
	require.NoError(t, store.Create(ctx, order))

	completed, won, err := store.CompleteIfPending(ctx, order.Reference, "gw-1")
	require.NoError(t, err)
	assert.True(t, won)
	assert.Equal(t, models.OrderCompleted, completed.Status)
	assert.Equal(t, "gw-1", completed.GatewayTransactionID)
	require.NotNil(t, completed.FinalizedAt)

	again, won, err := store.CompleteIfPending(ctx, order.Reference, "gw-2")
	require.NoError(t, err)
	assert.False(t, won)
	// The stored terminal state is returned untouched.
	assert.Equal(t, "gw-1", again.GatewayTransactionID)
}

func TestFailIfPending(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	order := pendingOrder(42)
	require.NoError(t, store.Create(ctx, order))

	moved, err := store.FailIfPending(ctx, order.Reference, "gw-1")
	require.NoError(t, err)
	assert.True(t, moved)

	// Terminal states never move again.
	moved, err = store.FailIfPending(ctx, order.Reference, "gw-2")
	require.NoError(t, err)
	assert.False(t, moved)

	_, won, err := store.CompleteIfPending(ctx, order.Reference, "gw-3")
	require.NoError(t, err)
	assert.False(t, won)

	_, err = store.FailIfPending(ctx, "SLOTS-missing", "")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestAbandonOlderThan(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	stale := pendingOrder(42)
	stale.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Create(ctx, stale))

	fresh := pendingOrder(42)
	require.NoError(t, store.Create(ctx, fresh))

	completedStale := pendingOrder(42)
	completedStale.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Create(ctx, completedStale))
	_, won, err := store.CompleteIfPending(ctx, completedStale.Reference, "gw-1")
	require.NoError(t, err)
	require.True(t, won)

	moved, err := store.AbandonOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	got, err := store.Get(ctx, stale.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAbandoned, got.Status)

	got, err = store.Get(ctx, fresh.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, got.Status)

	got, err = store.Get(ctx, completedStale.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, got.Status)
}

func TestHistoryByCoordinator(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	for i := 0; i < 5; i++ {
		order := pendingOrder(42)
		order.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Create(ctx, order))
	}
	require.NoError(t, store.Create(ctx, pendingOrder(99)))

	history, err := store.HistoryByCoordinator(ctx, 42, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt))
	assert.True(t, history[1].CreatedAt.After(history[2].CreatedAt))
	for _, order := range history {
		assert.Equal(t, id.CoordinatorID(42), order.CoordinatorID)
	}
}
