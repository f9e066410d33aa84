// Package guard enforces the slot balance at consumption time. A student
// registration costs one slot; bulk operations may debit more. Every debit is
// an atomic conditional operation in the store; the pre-check in Validate is
// advisory only.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"examreg/internal/slots/metrics"
	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
)

const slotsPerRegistration = 1

type Service struct {
	ledger          ports.LedgerStore
	txRunner        ports.TxRunner
	conflictRetries int
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(ledger ports.LedgerStore, txRunner ports.TxRunner, conflictRetries int, opts ...Option) *Service {
	s := &Service{
		ledger:          ledger,
		txRunner:        txRunner,
		conflictRetries: conflictRetries,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validation is the advisory answer to "can this coordinator register a
// student right now". It can go stale immediately; Consume re-checks
// atomically.
type Validation struct {
	CanRegister    bool
	AvailableSlots int
	Message        string
}

// Validate reports whether the coordinator currently has at least one slot.
// Never mutates anything.
func (s *Service) Validate(ctx context.Context, coordinatorID id.CoordinatorID) (*Validation, error) {
	balance, err := s.ledger.GetBalance(ctx, coordinatorID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return &Validation{
			CanRegister: false,
			Message:     "no slot account; purchase a slot package to begin registering students",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if balance.Available < slotsPerRegistration {
		return &Validation{
			AvailableSlots: balance.Available,
			Message:        "no slots available; purchase more slots to continue registering students",
		}, nil
	}
	return &Validation{
		CanRegister:    true,
		AvailableSlots: balance.Available,
		Message:        fmt.Sprintf("%d slots available", balance.Available),
	}, nil
}

// Consume debits slots for a registration or other tracked usage. The
// availability check and the debit are a single atomic operation in the store;
// a conflict from transaction contention is retried a bounded number of times,
// while insufficient balance is returned immediately and never retried. A zero
// registrationID records the usage without a registration link.
func (s *Service) Consume(ctx context.Context, coordinatorID id.CoordinatorID, registrationID id.RegistrationID, slots int, usageType models.UsageType, notes string) (*models.DebitResult, error) {
	req := ports.DebitRequest{
		Slots:     slots,
		UsageType: usageType,
		Notes:     notes,
	}
	if registrationID != 0 {
		req.RegistrationID = &registrationID
	}

	key := strconv.FormatInt(int64(coordinatorID), 10)
	var result *models.DebitResult
	var lastErr error
	for attempt := 0; attempt <= s.conflictRetries; attempt++ {
		lastErr = s.txRunner.RunInTx(ctx, key, func(ctx context.Context) error {
			var err error
			result, err = s.ledger.Debit(ctx, coordinatorID, req)
			return err
		})
		if lastErr == nil {
			break
		}
		if !errors.Is(lastErr, sentinel.ErrConflict) {
			break
		}
		s.logger.Warn("slot debit conflict, retrying",
			"coordinator_id", coordinatorID, "attempt", attempt+1)
	}
	if lastErr != nil {
		if errors.Is(lastErr, sentinel.ErrNotFound) {
			return nil, models.ErrAccountNotInitialized
		}
		if models.IsInsufficientSlots(lastErr) {
			s.metrics.IncrementInsufficient()
		}
		return nil, lastErr
	}

	if result.Applied {
		s.metrics.AddSlotsDebited(slots)
		s.logger.Info("slot consumed",
			"coordinator_id", coordinatorID,
			"registration_id", registrationID,
			"available", result.Balance.Available)
	}
	return result, nil
}

// Adjust applies an administrative balance change. Positive delta grants
// slots; negative delta removes them, bounded below by zero availability.
func (s *Service) Adjust(ctx context.Context, coordinatorID id.CoordinatorID, chapterID id.ChapterID, delta int, notes string) (*models.AccountBalance, error) {
	key := strconv.FormatInt(int64(coordinatorID), 10)
	var balance *models.AccountBalance
	err := s.txRunner.RunInTx(ctx, key, func(ctx context.Context) error {
		// Top-ups may target coordinators who never purchased.
		if delta > 0 {
			if err := s.ledger.Initialize(ctx, coordinatorID, chapterID); err != nil {
				return err
			}
		}
		var err error
		balance, err = s.ledger.Adjust(ctx, coordinatorID, delta, notes)
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, models.ErrAccountNotInitialized
		}
		return nil, err
	}

	s.logger.Info("slot balance adjusted",
		"coordinator_id", coordinatorID, "delta", delta, "available", balance.Available)
	return balance, nil
}

// Balance returns the current balance, mapping a missing account to the
// domain error callers present to coordinators.
func (s *Service) Balance(ctx context.Context, coordinatorID id.CoordinatorID) (*models.AccountBalance, error) {
	balance, err := s.ledger.GetBalance(ctx, coordinatorID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, models.ErrAccountNotInitialized
	}
	return balance, err
}

// UsageHistory lists recent usage records, newest first.
func (s *Service) UsageHistory(ctx context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.UsageRecord, error) {
	return s.ledger.UsageHistory(ctx, coordinatorID, limit)
}
