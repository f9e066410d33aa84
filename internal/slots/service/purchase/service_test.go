package purchase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examreg/internal/slots/models"
	"examreg/internal/slots/notify"
	"examreg/internal/slots/ports"
	"examreg/internal/slots/store/catalog"
	"examreg/internal/slots/store/ledger"
	"examreg/internal/slots/store/order"
	"examreg/internal/slots/store/runner"
	id "examreg/pkg/domain"
)

type fakeGateway struct {
	mu       sync.Mutex
	statuses map[id.PaymentReference]ports.GatewayStatus
	amounts  map[id.PaymentReference]int64
	calls    int
	initErr  error
	checkErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		statuses: make(map[id.PaymentReference]ports.GatewayStatus),
		amounts:  make(map[id.PaymentReference]int64),
	}
}

func (g *fakeGateway) Initialize(_ context.Context, req ports.GatewayInitializeRequest) (*ports.GatewayInitialization, error) {
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &ports.GatewayInitialization{
		AuthorizationURL: "https://checkout.test/" + string(req.Reference),
		AccessCode:       "ac_" + string(req.Reference),
		Reference:        req.Reference,
	}, nil
}

func (g *fakeGateway) CheckStatus(_ context.Context, reference id.PaymentReference) (*ports.GatewayCharge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.checkErr != nil {
		return nil, g.checkErr
	}
	status, ok := g.statuses[reference]
	if !ok {
		status = ports.GatewayPending
	}
	return &ports.GatewayCharge{
		Status:        status,
		Amount:        g.amounts[reference],
		TransactionID: "gw-" + string(reference),
	}, nil
}

func (g *fakeGateway) settle(reference id.PaymentReference, status ports.GatewayStatus, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[reference] = status
	g.amounts[reference] = amount
}

type failingOutbox struct {
	notify.InMemoryOutbox
	fail bool
}

func (o *failingOutbox) Append(ctx context.Context, event models.PurchaseEvent) error {
	if o.fail {
		return errors.New("outbox down")
	}
	return o.InMemoryOutbox.Append(ctx, event)
}

type fixture struct {
	service *Service
	ledger  *ledger.InMemoryStore
	orders  *order.InMemoryStore
	gateway *fakeGateway
	outbox  *notify.InMemoryOutbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orders := order.NewMemory()
	ledgerStore := ledger.NewMemory(orders)
	gateway := newFakeGateway()
	outbox := notify.NewMemoryOutbox()
	cat := catalog.NewMemory(
		[]models.SlotPackage{
			{ID: 1, Name: "Starter", SlotCount: 50, Active: true},
			{ID: 2, Name: "Growth", SlotCount: 100, Active: true},
		},
		map[id.ChapterID]catalog.ChapterPricing{
			7: {Amount: 300000, SplitCodes: map[id.PackageID]string{1: "SPL_a", 2: "SPL_b"}},
		},
	)
	service := New(ledgerStore, orders, cat, gateway, outbox, runner.NewMemory(), Settings{
		VerifyAttempts: 3,
		VerifyBackoff:  time.Millisecond,
		AbandonAfter:   24 * time.Hour,
		SweepInterval:  time.Minute,
		GatewayTimeout: time.Second,
	})
	return &fixture{service: service, ledger: ledgerStore, orders: orders, gateway: gateway, outbox: outbox}
}

func TestInitiateCreatesPendingOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	init, err := f.service.Initiate(ctx, 11, 7, 1, "coordinator@example.com")
	require.NoError(t, err)
	assert.Equal(t, 50, init.Order.SlotsRequested)
	assert.Equal(t, int64(50*300000), init.Order.AmountExpected)
	assert.NotEmpty(t, init.AuthorizationURL)

	stored, err := f.orders.Get(ctx, init.Order.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, stored.Status)
}

func TestInitiateGatewayFailureMarksOrderFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.initErr = models.ErrGatewayUnavailable

	_, err := f.service.Initiate(ctx, 11, 7, 1, "coordinator@example.com")
	require.Error(t, err)

	history, err := f.orders.HistoryByCoordinator(ctx, 11, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.OrderFailed, history[0].Status)
}

func TestVerifyCreditsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	init, err := f.service.Initiate(ctx, 11, 7, 1, "coordinator@example.com")
	require.NoError(t, err)
	f.gateway.settle(init.Order.Reference, ports.GatewaySuccess, init.Order.AmountExpected)

	first, err := f.service.Verify(ctx, init.Order.Reference)
	require.NoError(t, err)
	assert.True(t, first.Credited)
	assert.Equal(t, models.OrderCompleted, first.Order.Status)
	assert.Equal(t, 50, first.Balance.Available)

	// Verifying again and again changes nothing; the gateway is not consulted.
	callsAfterFirst := f.gateway.calls
	for i := 0; i < 3; i++ {
		outcome, err := f.service.Verify(ctx, init.Order.Reference)
		require.NoError(t, err)
		assert.False(t, outcome.Credited)
		assert.Equal(t, 50, outcome.Balance.Available)
	}
	assert.Equal(t, callsAfterFirst, f.gateway.calls)

	// Exactly one notification was queued.
	entries, err := f.outbox.Unpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestVerifyFailedCharge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	init, err := f.service.Initiate(ctx, 11, 7, 1, "coordinator@example.com")
	require.NoError(t, err)
	f.gateway.settle(init.Order.Reference, ports.GatewayFailed, 0)

	outcome, err := f.service.Verify(ctx, init.Order.Reference)
	require.NoError(t, err)
	assert.False(t, outcome.Credited)
	assert.Equal(t, models.OrderFailed, outcome.Order.Status)

	// No balance was ever created.
	_, err = f.ledger.GetBalance(ctx, 11)
	require.Error(t, err)
}

func TestVerifyAmountMismatchFailsOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	init, err := f.service.Initiate(ctx, 11, 7, 1, "coordinator@example.com")
	require.NoError(t, err)
	f.gateway.settle(init.Order.Reference, ports.GatewaySuccess, init.Order.AmountExpected-1)

	outcome, err := f.service.Verify(ctx, init.Order.Reference)
	require.NoError(t, err)
	assert.False(t, outcome.Credited)
	assert.Equal(t, models.OrderFailed, outcome.Order.Status)
}

func TestVerifyStillPendingAfterRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	init, err := f.service.Initiate(ctx, 11, 7, 1, "coordinator@example.com")
	require.NoError(t, err)

	outcome, err := f.service.Verify(ctx, init.Order.Reference)
	require.NoError(t, err)
	assert.True(t, outcome.StillPending)
	assert.Equal(t, models.OrderPending, outcome.Order.Status)
	assert.Equal(t, 3, f.gateway.calls)
}

func TestVerifyConcurrentCreditsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	init, err := f.service.Initiate(ctx, 11, 7, 2, "coordinator@example.com")
	require.NoError(t, err)
	f.gateway.settle(init.Order.Reference, ports.GatewaySuccess, init.Order.AmountExpected)

	const goroutines = 8
	credits := make(chan bool, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.service.Verify(ctx, init.Order.Reference)
			if err == nil {
				credits <- outcome.Credited
			}
		}()
	}
	wg.Wait()
	close(credits)

	credited := 0
	for c := range credits {
		if c {
			credited++
		}
	}
	assert.Equal(t, 1, credited)

	balance, err := f.ledger.GetBalance(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, 100, balance.Available)
	assert.Equal(t, 100, balance.TotalPurchased)
}

func TestSweepAbandonsStaleOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	stale := models.PurchaseOrder{
		Reference:      id.NewPaymentReference(),
		CoordinatorID:  11,
		ChapterID:      7,
		PackageID:      1,
		SlotsRequested: 50,
		AmountExpected: 15000000,
		CreatedAt:      time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, f.orders.Create(ctx, &stale))

	fresh, err := f.service.Initiate(ctx, 12, 7, 1, "other@example.com")
	require.NoError(t, err)

	moved, err := f.service.SweepAbandoned(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	abandoned, err := f.orders.Get(ctx, stale.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.OrderAbandoned, abandoned.Status)

	// A late verify never credits an abandoned order.
	f.gateway.settle(stale.Reference, ports.GatewaySuccess, stale.AmountExpected)
	outcome, err := f.service.Verify(ctx, stale.Reference)
	require.NoError(t, err)
	assert.False(t, outcome.Credited)
	assert.Equal(t, models.OrderAbandoned, outcome.Order.Status)

	pending, err := f.orders.Get(ctx, fresh.Order.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, pending.Status)
}

func TestVerifyOutboxFailureRollsBackNothingPermanent(t *testing.T) {
	ctx := context.Background()
	orders := order.NewMemory()
	ledgerStore := ledger.NewMemory(orders)
	gateway := newFakeGateway()
	outbox := &failingOutbox{fail: true}
	cat := catalog.NewMemory(
		[]models.SlotPackage{{ID: 1, Name: "Starter", SlotCount: 50, Active: true}},
		map[id.ChapterID]catalog.ChapterPricing{7: {Amount: 300000}},
	)
	service := New(ledgerStore, orders, cat, gateway, outbox, runner.NewMemory(), Settings{
		VerifyAttempts: 1,
		VerifyBackoff:  time.Millisecond,
		AbandonAfter:   24 * time.Hour,
		SweepInterval:  time.Minute,
		GatewayTimeout: time.Second,
	})

	init, err := service.Initiate(ctx, 11, 7, 1, "coordinator@example.com")
	require.NoError(t, err)
	gateway.settle(init.Order.Reference, ports.GatewaySuccess, init.Order.AmountExpected)

	// The enqueue fails inside the same unit of work; verify surfaces the
	// error and the caller retries.
	_, err = service.Verify(ctx, init.Order.Reference)
	require.Error(t, err)

	// On retry the order is already completed, so the gateway is skipped and
	// the balance is intact.
	outbox.fail = false
	outcome, err := service.Verify(ctx, init.Order.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, outcome.Order.Status)
	require.NotNil(t, outcome.Balance)
	assert.Equal(t, 50, outcome.Balance.Available)

	// The memory runner commits the credit even though the enqueue failed, so
	// the retry does not re-append and the event stays lost. The SQL runner
	// rolls the whole unit back instead, and the retry credits and enqueues
	// together.
	entries, err := outbox.Unpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
