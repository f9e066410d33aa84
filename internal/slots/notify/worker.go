package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"examreg/internal/slots/metrics"
	"examreg/internal/slots/ports"
)

const publishBatchSize = 100

// Producer publishes serialized events to the message broker.
type Producer interface {
	Publish(ctx context.Context, eventType string, payload []byte) error
}

// Worker drains the notification outbox into the producer. Publishing is
// strictly decoupled from ledger writes; a broker outage only delays delivery.
type Worker struct {
	outbox   ports.NotificationOutbox
	producer Producer
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(outbox ports.NotificationOutbox, producer Producer, interval time.Duration, opts ...WorkerOption) *Worker {
	w := &Worker{
		outbox:   outbox,
		producer: producer,
		interval: interval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil {
				w.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

// Drain publishes one batch of unpublished entries. Entries that fail to
// publish stay queued for the next pass.
func (w *Worker) Drain(ctx context.Context) error {
	entries, err := w.outbox.Unpublished(ctx, publishBatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	published := make([]uuid.UUID, 0, len(entries))
	for _, entry := range entries {
		if err := w.producer.Publish(ctx, entry.EventType, entry.Payload); err != nil {
			w.logger.Error("publish notification failed", "entry_id", entry.ID, "error", err)
			break
		}
		published = append(published, entry.ID)
		w.metrics.IncrementOutboxPublished()
	}
	if len(published) == 0 {
		return nil
	}
	return w.outbox.MarkPublished(ctx, published)
}
