package registration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examreg/internal/slots/models"
	"examreg/internal/slots/service/guard"
	"examreg/internal/slots/store/ledger"
	"examreg/internal/slots/store/order"
	regstore "examreg/internal/slots/store/registration"
	"examreg/internal/slots/store/runner"
	id "examreg/pkg/domain"
)

type confirmFailingStore struct {
	*regstore.InMemoryStore
	failConfirm bool
}

func (s *confirmFailingStore) Confirm(ctx context.Context, regID id.RegistrationID) error {
	if s.failConfirm {
		return errors.New("workflow store unavailable")
	}
	return s.InMemoryStore.Confirm(ctx, regID)
}

func setup(t *testing.T, slots int) (*Service, *regstore.InMemoryStore, *guard.Service) {
	t.Helper()
	orders := order.NewMemory()
	ledgerStore := ledger.NewMemory(orders)
	guardSvc := guard.New(ledgerStore, runner.NewMemory(), 3)
	registrations := regstore.NewMemory()

	if slots > 0 {
		ctx := context.Background()
		ref := id.NewPaymentReference()
		require.NoError(t, orders.Create(ctx, &models.PurchaseOrder{
			Reference:      ref,
			CoordinatorID:  42,
			ChapterID:      7,
			PackageID:      1,
			SlotsRequested: slots,
			AmountExpected: int64(slots) * 300000,
			CreatedAt:      time.Now(),
		}))
		result, err := ledgerStore.Credit(ctx, ref, "gw-test")
		require.NoError(t, err)
		require.True(t, result.Credited)
	}
	return New(registrations, guardSvc), registrations, guardSvc
}

func draft() models.RegistrationDraft {
	return models.RegistrationDraft{
		CoordinatorID: 42,
		ChapterID:     7,
		StudentName:   "Ada Obi",
		ExamCode:      "JSCE-2026",
	}
}

func TestRegisterHappyPath(t *testing.T) {
	ctx := context.Background()
	service, registrations, guardSvc := setup(t, 5)

	result, err := service.Register(ctx, draft())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Balance.Available)
	assert.True(t, registrations.Confirmed(result.RegistrationID))

	balance, err := guardSvc.Balance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, balance.Used)
}

func TestRegisterNoSlotsDeletesDraft(t *testing.T) {
	ctx := context.Background()
	service, registrations, _ := setup(t, 0)

	_, err := service.Register(ctx, draft())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrAccountNotInitialized)
	assert.Zero(t, registrations.Count())
}

func TestRegisterExhaustedDeletesDraft(t *testing.T) {
	ctx := context.Background()
	service, registrations, _ := setup(t, 1)

	_, err := service.Register(ctx, draft())
	require.NoError(t, err)

	_, err = service.Register(ctx, models.RegistrationDraft{
		CoordinatorID: 42, ChapterID: 7, StudentName: "Bisi Ade",
	})
	require.Error(t, err)
	assert.True(t, models.IsInsufficientSlots(err))
	assert.Equal(t, 1, registrations.Count())
}

func TestRegisterConfirmFailureKeepsDebit(t *testing.T) {
	ctx := context.Background()
	orders := order.NewMemory()
	ledgerStore := ledger.NewMemory(orders)
	guardSvc := guard.New(ledgerStore, runner.NewMemory(), 3)
	failing := &confirmFailingStore{InMemoryStore: regstore.NewMemory(), failConfirm: true}
	service := New(failing, guardSvc)

	ref := id.NewPaymentReference()
	require.NoError(t, orders.Create(ctx, &models.PurchaseOrder{
		Reference: ref, CoordinatorID: 42, ChapterID: 7, PackageID: 1,
		SlotsRequested: 5, AmountExpected: 1500000, CreatedAt: time.Now(),
	}))
	_, err := ledgerStore.Credit(ctx, ref, "gw-test")
	require.NoError(t, err)

	_, err = service.Register(ctx, draft())
	require.Error(t, err)

	// Draft and debit both survive so the confirm can be retried.
	assert.Equal(t, 1, failing.Count())
	balance, err := guardSvc.Balance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 4, balance.Available)
	assert.Equal(t, 1, balance.Used)
}
