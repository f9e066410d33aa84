// Package purchase drives the purchase order lifecycle: initiation against
// the payment gateway, verification that credits the ledger exactly once, and
// the sweep that abandons orders nobody ever paid for.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"examreg/internal/slots/metrics"
	"examreg/internal/slots/models"
	"examreg/internal/slots/ports"
	id "examreg/pkg/domain"
	"examreg/pkg/platform/sentinel"
)

// Settings bounds the verification loop and the abandonment sweep.
type Settings struct {
	VerifyAttempts int
	VerifyBackoff  time.Duration
	AbandonAfter   time.Duration
	SweepInterval  time.Duration
	GatewayTimeout time.Duration
}

type Service struct {
	ledger   ports.LedgerStore
	orders   ports.OrderStore
	catalog  ports.PackageCatalog
	gateway  ports.PaymentGateway
	outbox   ports.NotificationOutbox
	txRunner ports.TxRunner
	settings Settings
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(ledger ports.LedgerStore, orders ports.OrderStore, catalog ports.PackageCatalog,
	gateway ports.PaymentGateway, outbox ports.NotificationOutbox, txRunner ports.TxRunner,
	settings Settings, opts ...Option) *Service {

	if settings.VerifyAttempts < 1 {
		settings.VerifyAttempts = 1
	}
	s := &Service{
		ledger:   ledger,
		orders:   orders,
		catalog:  catalog,
		gateway:  gateway,
		outbox:   outbox,
		txRunner: txRunner,
		settings: settings,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initiation is what the caller needs to send the payer to the gateway.
type Initiation struct {
	Order            models.PurchaseOrder
	AuthorizationURL string
	AccessCode       string
}

// Initiate quotes the package, records a pending order and sets up the charge
// with the gateway. The order is created before the gateway call; if the
// gateway rejects the setup the order is marked failed immediately.
func (s *Service) Initiate(ctx context.Context, coordinatorID id.CoordinatorID, chapterID id.ChapterID, packageID id.PackageID, email string) (*Initiation, error) {
	quote, err := s.catalog.QuoteForChapter(ctx, chapterID, packageID)
	if err != nil {
		return nil, err
	}

	order := models.PurchaseOrder{
		Reference:      id.NewPaymentReference(),
		CoordinatorID:  coordinatorID,
		ChapterID:      chapterID,
		PackageID:      packageID,
		SlotsRequested: quote.Package.SlotCount,
		AmountExpected: quote.Price,
		Status:         models.OrderPending,
		CreatedAt:      time.Now(),
	}
	if err := s.orders.Create(ctx, &order); err != nil {
		return nil, fmt.Errorf("record purchase order: %w", err)
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, s.settings.GatewayTimeout)
	defer cancel()
	init, err := s.gateway.Initialize(gatewayCtx, ports.GatewayInitializeRequest{
		Email:     email,
		Amount:    quote.Price,
		Reference: order.Reference,
		SplitCode: quote.SplitCode,
		Metadata: map[string]string{
			"coordinator_id": strconv.FormatInt(int64(coordinatorID), 10),
			"chapter_id":     strconv.FormatInt(int64(chapterID), 10),
			"package":        quote.Package.Name,
			"slots":          strconv.Itoa(quote.Package.SlotCount),
		},
	})
	if err != nil {
		if _, failErr := s.orders.FailIfPending(ctx, order.Reference, ""); failErr != nil {
			s.logger.Error("failed to mark order failed after gateway rejection",
				"reference", order.Reference, "error", failErr)
		} else {
			s.metrics.IncrementOrderFinalized(string(models.OrderFailed))
		}
		return nil, err
	}

	s.logger.Info("purchase initiated",
		"reference", order.Reference,
		"coordinator_id", coordinatorID,
		"slots", order.SlotsRequested,
		"amount", order.AmountExpected)
	return &Initiation{
		Order:            order,
		AuthorizationURL: init.AuthorizationURL,
		AccessCode:       init.AccessCode,
	}, nil
}

// VerifyOutcome reports where the order landed after a verification pass.
// StillPending means the gateway had no final answer within the retry budget;
// the caller should try again later.
type VerifyOutcome struct {
	Order        models.PurchaseOrder
	Balance      *models.AccountBalance
	Credited     bool
	StillPending bool
}

// Verify resolves a purchase order against the gateway. Calling it any number
// of times, concurrently or not, credits the ledger at most once: orders
// already terminal are answered from local state without touching the
// gateway, and the credit itself is guarded by the order's own transition.
func (s *Service) Verify(ctx context.Context, reference id.PaymentReference) (*VerifyOutcome, error) {
	order, err := s.orders.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return s.terminalOutcome(ctx, order)
	}

	for attempt := 0; ; attempt++ {
		charge, err := s.checkGateway(ctx, reference)
		if err != nil {
			return nil, err
		}

		switch charge.Status {
		case ports.GatewaySuccess:
			return s.settle(ctx, order, charge)
		case ports.GatewayFailed:
			return s.fail(ctx, order, charge.TransactionID)
		}

		if attempt+1 >= s.settings.VerifyAttempts {
			s.logger.Info("charge still pending after retries", "reference", reference)
			return &VerifyOutcome{Order: *order, StillPending: true}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.settings.VerifyBackoff):
		}
	}
}

func (s *Service) checkGateway(ctx context.Context, reference id.PaymentReference) (*ports.GatewayCharge, error) {
	gatewayCtx, cancel := context.WithTimeout(ctx, s.settings.GatewayTimeout)
	defer cancel()
	return s.gateway.CheckStatus(gatewayCtx, reference)
}

func (s *Service) terminalOutcome(ctx context.Context, order *models.PurchaseOrder) (*VerifyOutcome, error) {
	outcome := &VerifyOutcome{Order: *order}
	if order.Status == models.OrderCompleted {
		balance, err := s.ledger.GetBalance(ctx, order.CoordinatorID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		outcome.Balance = balance
	}
	return outcome, nil
}

// settle credits the ledger for a successful charge. The credit and the
// notification enqueue ride one unit of work, which on the SQL backend
// commits or rolls back as a whole; only the call that wins the
// pending → completed transition appends the event.
func (s *Service) settle(ctx context.Context, order *models.PurchaseOrder, charge *ports.GatewayCharge) (*VerifyOutcome, error) {
	if charge.Amount < order.AmountExpected {
		s.logger.Error("charge amount below expected",
			"reference", order.Reference,
			"expected", order.AmountExpected,
			"received", charge.Amount)
		return s.fail(ctx, order, charge.TransactionID)
	}

	var result *models.CreditResult
	key := strconv.FormatInt(int64(order.CoordinatorID), 10)
	err := s.txRunner.RunInTx(ctx, key, func(ctx context.Context) error {
		var err error
		result, err = s.ledger.Credit(ctx, order.Reference, charge.TransactionID)
		if err != nil {
			return err
		}
		if !result.Credited {
			return nil
		}
		return s.outbox.Append(ctx, s.purchaseEvent(ctx, result))
	})
	if err != nil {
		return nil, err
	}

	if result.Credited {
		s.metrics.AddSlotsCredited(result.Order.SlotsRequested)
		s.metrics.IncrementOrderFinalized(string(models.OrderCompleted))
		s.logger.Info("purchase credited",
			"reference", order.Reference,
			"coordinator_id", order.CoordinatorID,
			"slots", result.Order.SlotsRequested,
			"available", result.Balance.Available)
	}
	return &VerifyOutcome{
		Order:    result.Order,
		Balance:  &result.Balance,
		Credited: result.Credited,
	}, nil
}

func (s *Service) purchaseEvent(ctx context.Context, result *models.CreditResult) models.PurchaseEvent {
	event := models.PurchaseEvent{
		CoordinatorID:  result.Order.CoordinatorID,
		ChapterID:      result.Order.ChapterID,
		SlotsPurchased: result.Order.SlotsRequested,
		AmountPaid:     result.Order.AmountExpected,
		Reference:      result.Order.Reference,
		NewBalance:     result.Balance.Available,
	}
	if quote, err := s.catalog.QuoteForChapter(ctx, result.Order.ChapterID, result.Order.PackageID); err == nil {
		event.PackageName = quote.Package.Name
	}
	return event
}

func (s *Service) fail(ctx context.Context, order *models.PurchaseOrder, gatewayTxID string) (*VerifyOutcome, error) {
	moved, err := s.orders.FailIfPending(ctx, order.Reference, gatewayTxID)
	if err != nil {
		return nil, err
	}
	if moved {
		s.metrics.IncrementOrderFinalized(string(models.OrderFailed))
		s.logger.Info("purchase failed", "reference", order.Reference)
	}
	failed, err := s.orders.Get(ctx, order.Reference)
	if err != nil {
		return nil, err
	}
	return s.terminalOutcome(ctx, failed)
}

// PurchaseHistory lists the coordinator's recent orders, newest first.
func (s *Service) PurchaseHistory(ctx context.Context, coordinatorID id.CoordinatorID, limit int) ([]models.PurchaseOrder, error) {
	return s.orders.HistoryByCoordinator(ctx, coordinatorID, limit)
}

// Packages lists the active packages priced for the chapter.
func (s *Service) Packages(ctx context.Context, chapterID id.ChapterID) ([]models.PackageQuote, error) {
	return s.catalog.ListForChapter(ctx, chapterID)
}

// SweepAbandoned moves every order pending for longer than the abandonment
// window to abandoned. Abandoned orders never credit slots.
func (s *Service) SweepAbandoned(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.settings.AbandonAfter)
	moved, err := s.orders.AbandonOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for i := 0; i < moved; i++ {
		s.metrics.IncrementOrderFinalized(string(models.OrderAbandoned))
	}
	if moved > 0 {
		s.logger.Info("abandoned stale purchase orders", "count", moved)
	}
	return moved, nil
}

// StartSweep runs the abandonment sweep until the context is canceled.
func (s *Service) StartSweep(ctx context.Context) {
	ticker := time.NewTicker(s.settings.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepAbandoned(ctx); err != nil {
				s.logger.Error("abandonment sweep failed", "error", err)
			}
		}
	}
}
