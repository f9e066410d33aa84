package notify

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"examreg/internal/platform/config"
)

// KafkaProducer publishes outbox events to a Kafka topic. The event type
// rides as the record key so consumers can partition and filter by it.
type KafkaProducer struct {
	client *kgo.Client
	topic  string
}

func NewKafkaProducer(cfg config.KafkaConfig) (*KafkaProducer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaProducer{client: client, topic: cfg.Topic}, nil
}

func (p *KafkaProducer) Publish(ctx context.Context, eventType string, payload []byte) error {
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(eventType),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}

func (p *KafkaProducer) Close() {
	p.client.Close()
}
