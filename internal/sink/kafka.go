package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/mirador/txwatch/internal/watch"
)

// KafkaConfig holds message broker settings.
type KafkaConfig struct {
	// Broker addresses (Redpanda/Kafka)
	Addresses []string `yaml:"addresses"`

	// Topic confirmation events are produced to
	Topic string `yaml:"topic"`
}

// DefaultKafkaConfig returns sensible defaults for local development.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Addresses: []string{"localhost:9092"},
		Topic:     "tx-confirmations",
	}
}

// Kafka produces confirmation events synchronously, keyed by transaction
// hash so all confirmations for one tx land on one partition in order.
type Kafka struct {
	producer *kgo.Client
	topic    string
}

// ConnectKafka creates an acks-all producer for confirmation events.
func ConnectKafka(cfg KafkaConfig) (*Kafka, error) {
	brokerList := make([]string, len(cfg.Addresses))
	for i, addr := range cfg.Addresses {
		brokerList[i] = strings.TrimSpace(addr)
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(brokerList...),
		kgo.MaxProduceRequestsInflightPerBroker(1),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Kafka{producer: producer, topic: cfg.Topic}, nil
}

func (k *Kafka) Confirmation(ctx context.Context, ev watch.ConfirmationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal confirmation: %w", err)
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(ev.TxHash.Hex()),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "tx_hash", Value: []byte(ev.TxHash.Hex())},
			{Key: "confirmations", Value: []byte(fmt.Sprintf("%d", ev.Confirmations))},
		},
	}

	results := k.producer.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("produce: %w", err)
	}
	return nil
}

func (k *Kafka) Close() {
	k.producer.Flush(context.Background())
	k.producer.Close()
}

var _ watch.Emitter = (*Kafka)(nil)
