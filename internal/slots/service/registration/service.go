// Package registration coordinates student registration with the slot debit.
// The registration row and the debit live in different stores, so the flow is
// a small saga: create the draft, consume the slot, confirm; if any later
// step fails, earlier steps are compensated in reverse order.
package registration

import (
	"context"
	"log/slog"

	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
	"examreg/internal/slots/service/guard"
	id "examreg/pkg/domain"
)

type Service struct {
	registrations ports.RegistrationStore
	guard         *guard.Service
	logger        *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(registrations ports.RegistrationStore, guardSvc *guard.Service, opts ...Option) *Service {
	s := &Service{
		registrations: registrations,
		guard:         guardSvc,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is a confirmed registration together with the balance it left behind.
type Result struct {
	RegistrationID id.RegistrationID
	Balance        models.AccountBalance
}

// Register runs the saga. A failed debit deletes the draft so no half-made
// registration survives. A failed confirm keeps both the draft and the debit,
// which share the registration id; Confirm can be retried for that id without
// a second charge because the ledger skips duplicate registration debits.
func (s *Service) Register(ctx context.Context, draft models.RegistrationDraft) (*Result, error) {
	var compensations []func()

	compensate := func() {
		for i := len(compensations) - 1; i >= 0; i-- {
			compensations[i]()
		}
	}

	regID, err := s.registrations.CreateDraft(ctx, draft)
	if err != nil {
		return nil, err
	}
	compensations = append(compensations, func() {
		// Compensation runs on a fresh context; the original may be dead.
		cleanupCtx := context.WithoutCancel(ctx)
		if err := s.registrations.Delete(cleanupCtx, regID); err != nil {
			s.logger.Error("failed to delete draft registration during compensation",
				"registration_id", regID, "error", err)
		}
	})

	debit, err := s.guard.Consume(ctx, draft.CoordinatorID, regID, 1,
		models.UsageRegistration, "student: "+draft.StudentName)
	if err != nil {
		compensate()
		return nil, err
	}

	if err := s.registrations.Confirm(ctx, regID); err != nil {
		// Deleting the draft here would leak the slot already debited for
		// this registration id. Keep both and surface the error.
		s.logger.Error("failed to confirm registration after slot debit",
			"registration_id", regID, "error", err)
		return nil, err
	}

	s.logger.Info("student registered",
		"registration_id", regID,
		"coordinator_id", draft.CoordinatorID,
		"available", debit.Balance.Available)
	return &Result{RegistrationID: regID, Balance: debit.Balance}, nil
}
