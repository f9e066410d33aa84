// Package cache decorates the ledger store with a Redis balance cache.
// Reads are served from Redis when fresh; every mutation invalidates the
// entry. Invalidation runs with the mutation, which may still be inside an
// enclosing transaction, so a read racing a write can re-cache the prior
// balance; staleness is bounded by the TTL, not eliminated.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	platformredis "examreg/internal/platform/redis"
	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
	id "examreg/pkg/domain"
)

type CachedLedger struct {
	inner  ports.LedgerStore
	client *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*CachedLedger)

func WithLogger(logger *slog.Logger) Option {
	return func(c *CachedLedger) { c.logger = logger }
}

func NewCachedLedger(inner ports.LedgerStore, client *platformredis.Client, ttl time.Duration, opts ...Option) *CachedLedger {
	c := &CachedLedger{inner: inner, client: client, ttl: ttl, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func balanceKey(coordinatorID id.CoordinatorID) string {
	return "examreg:balance:" + strconv.FormatInt(int64(coordinatorID), 10)
}

func (c *CachedLedger) GetBalance(ctx context.Context, coordinatorID id.CoordinatorID) (*models.AccountBalance, error) {
	key := balanceKey(coordinatorID)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var balance models.AccountBalance
		if err := json.Unmarshal(raw, &balance); err == nil {
			return &balance, nil
		}
		// Unreadable entry; fall through and rewrite it.
	} else if err != goredis.Nil {
		c.logger.Warn("balance cache read failed", "error", err)
	}

	balance, err := c.inner.GetBalance(ctx, coordinatorID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(balance); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("balance cache write failed", "error", err)
		}
	}
	return balance, nil
}

func (c *CachedLedger) invalidate(ctx context.Context, coordinatorID id.CoordinatorID) {
	if err := c.client.Del(ctx, balanceKey(coordinatorID)).Err(); err != nil {
		c.logger.Warn("balance cache invalidation failed", "error", err)
	}
}

func (c *CachedLedger) Initialize(ctx context.Context, coordinatorID id.CoordinatorID, chapterID id.ChapterID) error {
	return c.inner.Initialize(ctx, coordinatorID, chapterID)
}

func (c *CachedLedger) Credit(ctx context.Context, reference id.PaymentReference, gatewayTxID string) (*models.CreditResult, error) {
	result, err := c.inner.Credit(ctx, reference, gatewayTxID)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, result.Order.CoordinatorID)
	return result, nil
}

func (c *CachedLedger) Debit(ctx context.Context, coordinatorID id.CoordinatorID, req ports.DebitRequest) (*models.DebitResult, error) {
	result, err := c.inner.Debit(ctx, coordinatorID, req)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, coordinatorID)
	return result, nil
}

func (c *CachedLedger) Adjust(ctx context.Context, coordinatorID id.CoordinatorID, delta int, notes string) (*models.AccountBalance, error) {
	balance, err := c.inner.Adjust(ctx, coordinatorID, delta, notes)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, coordinatorID)
	return balance, nil
}

func (c *CachedLedger) UsageHistory(ctx context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.UsageRecord, error) {
	return c.inner.UsageHistory(ctx, coordinatorID, limit)
}

var _ ports.LedgerStore = (*CachedLedger)(nil)

// Wrap returns the inner store untouched when no Redis client is configured.
func Wrap(inner ports.LedgerStore, client *platformredis.Client, ttl time.Duration, opts ...Option) ports.LedgerStore {
	if client == nil {
		return inner
	}
	return NewCachedLedger(inner, client, ttl, opts...)
}
