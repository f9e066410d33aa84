//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	platformredis "examreg/internal/platform/redis"
	"examreg/internal/slots/cache"
	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
	"examreg/internal/slots/store/ledger"
	"examreg/internal/slots/store/order"
	id "examreg/pkg/domain"
	"examreg/pkg/testutil/containers"
)

type CachedLedgerSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	ledger *ledger.InMemoryStore
	orders *order.InMemoryStore
	cached ports.LedgerStore
}

func TestCachedLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CachedLedgerSuite))
}

func (s *CachedLedgerSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *CachedLedgerSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.orders = order.NewMemory()
	s.ledger = ledger.NewMemory(s.orders)
	s.cached = cache.NewCachedLedger(s.ledger,
		&platformredis.Client{Client: s.redis.Client}, 30*time.Second)
}

func (s *CachedLedgerSuite) fund(coordinatorID id.CoordinatorID, slots int) {
	ctx := context.Background()
	ref := id.NewPaymentReference()
	s.Require().NoError(s.orders.Create(ctx, &models.PurchaseOrder{
		Reference:      ref,
		CoordinatorID:  coordinatorID,
		ChapterID:      7,
		PackageID:      1,
		SlotsRequested: slots,
		AmountExpected: int64(slots) * 300000,
		CreatedAt:      time.Now(),
	}))
	result, err := s.cached.Credit(ctx, ref, "gw-test")
	s.Require().NoError(err)
	s.Require().True(result.Credited)
}

func (s *CachedLedgerSuite) TestReadThrough() {
	ctx := context.Background()
	s.fund(42, 50)

	first, err := s.cached.GetBalance(ctx, 42)
	s.Require().NoError(err)
	s.Equal(50, first.Available)

	// Second read is served from Redis; mutate the inner store directly to
	// prove it.
	_, err = s.ledger.Adjust(ctx, 42, -10, "behind the cache")
	s.Require().NoError(err)

	cachedRead, err := s.cached.GetBalance(ctx, 42)
	s.Require().NoError(err)
	s.Equal(50, cachedRead.Available)
}

func (s *CachedLedgerSuite) TestMutationsInvalidate() {
	ctx := context.Background()
	s.fund(42, 50)

	balance, err := s.cached.GetBalance(ctx, 42)
	s.Require().NoError(err)
	s.Equal(50, balance.Available)

	regID := id.RegistrationID(1)
	result, err := s.cached.Debit(ctx, 42, ports.DebitRequest{
		Slots:          1,
		UsageType:      models.UsageRegistration,
		RegistrationID: &regID,
	})
	s.Require().NoError(err)
	s.True(result.Applied)

	// The debit invalidated the cached entry; the next read is fresh.
	balance, err = s.cached.GetBalance(ctx, 42)
	s.Require().NoError(err)
	s.Equal(49, balance.Available)

	_, err = s.cached.Adjust(ctx, 42, 5, "grant")
	s.Require().NoError(err)

	balance, err = s.cached.GetBalance(ctx, 42)
	s.Require().NoError(err)
	s.Equal(54, balance.Available)
}

func (s *CachedLedgerSuite) TestCreditInvalidates() {
	ctx := context.Background()
	s.fund(42, 50)

	balance, err := s.cached.GetBalance(ctx, 42)
	s.Require().NoError(err)
	s.Equal(50, balance.Available)

	s.fund(42, 100)

	balance, err = s.cached.GetBalance(ctx, 42)
	s.Require().NoError(err)
	s.Equal(150, balance.Available)
}
